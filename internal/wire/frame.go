package wire

import (
	"encoding/binary"
	"errors"

	"github.com/yndnr/spanmesh-go/internal/core/domain"
)

// Frame is one decoded message: the primary header, the command-specific
// header extension and the aux payload.
type Frame struct {
	Header Header
	Ext    []byte // extended header bytes following the primary header
	Aux    []byte // unpadded aux payload
}

// EncodedLen returns the number of bytes f occupies on the wire.
func (f *Frame) EncodedLen() int {
	return f.Header.Cmd.HeaderBytes() + AlignUp(len(f.Aux))
}

// AppendFrame appends the wire form of f to dst. AuxBytes, AuxCRC and HdrCRC
// are computed here and written back into f.Header. order selects the byte
// order of the primary header; nil means little-endian.
func AppendFrame(dst []byte, f *Frame, order binary.ByteOrder) ([]byte, error) {
	hbytes := f.Header.Cmd.HeaderBytes()
	if hbytes < HeaderSize || hbytes > MaxHeaderSize {
		return dst, domain.ErrFieldOverflow.WithDetails("header size out of range")
	}
	if len(f.Ext) > hbytes-HeaderSize {
		return dst, domain.ErrFieldOverflow.WithDetails("extension larger than header size")
	}
	abytes := AlignUp(len(f.Aux))
	if abytes > MaxAuxSize {
		return dst, domain.ErrFieldOverflow.WithDetails("aux size out of range")
	}

	start := len(dst)
	dst = append(dst, make([]byte, hbytes+abytes)...)
	hdr := dst[start : start+hbytes]
	aux := dst[start+hbytes:]
	copy(aux, f.Aux)

	f.Header.Magic = Magic
	f.Header.AuxBytes = uint32(len(f.Aux))
	f.Header.AuxCRC = 0
	if abytes > 0 {
		f.Header.AuxCRC = Checksum(aux)
	}
	f.Header.Put(hdr)
	copy(hdr[HeaderSize:], f.Ext)
	f.Header.HdrCRC = SealHeader(hdr)

	if order == binary.BigEndian {
		swapFields(hdr)
	}
	return dst, nil
}

// DecodeFrame decodes one complete frame from the start of buf and returns
// it together with the number of bytes consumed. buf is normalized in place.
func DecodeFrame(buf []byte) (*Frame, int, error) {
	hbytes, asize, err := DecodeHeader(buf)
	if err != nil {
		return nil, 0, err
	}
	abytes := AlignUp(asize)
	if len(buf) < hbytes+abytes {
		return nil, 0, domain.ErrShortBuffer
	}
	hdr := buf[:hbytes]
	SwapEndianIfNeeded(hdr)
	if !VerifyHeaderCRC(hdr) {
		return nil, 0, domain.ErrExtHeaderCRC
	}
	h, err := ParseHeader(hdr)
	if err != nil {
		return nil, 0, err
	}
	aux := buf[hbytes : hbytes+abytes]
	if abytes > 0 && !VerifyAuxCRC(aux, h.AuxCRC) {
		return nil, 0, domain.ErrAuxCRC
	}

	f := &Frame{Header: h}
	if hbytes > HeaderSize {
		f.Ext = append([]byte(nil), hdr[HeaderSize:]...)
	}
	if asize > 0 {
		f.Aux = append([]byte(nil), aux[:asize]...)
	}
	return f, hbytes + abytes, nil
}

var codeErrors = map[uint32]error{
	ErrCodeSync:     domain.ErrBadMagic,
	ErrCodeEOF:      domain.ErrEOF,
	ErrCodeSock:     domain.ErrSocket,
	ErrCodeField:    domain.ErrFieldOverflow,
	ErrCodeHCRC:     domain.ErrHeaderCRC,
	ErrCodeXCRC:     domain.ErrExtHeaderCRC,
	ErrCodeACRC:     domain.ErrAuxCRC,
	ErrCodeTrans:    domain.ErrTransaction,
	ErrCodeEAlready: domain.ErrAlreadyTerminated,
	ErrCodeMsgSeq:   domain.ErrSequenceViolation,
	ErrCodeNoSupp:   domain.ErrNotSupported,
}

// ErrorFromCode maps a header error code to its sentinel error. Unknown
// non-zero codes map to domain.ErrInternal.
func ErrorFromCode(code uint32) error {
	if code == ErrCodeNone {
		return nil
	}
	if err, ok := codeErrors[code]; ok {
		return err
	}
	return domain.ErrInternal.WithDetails("unknown link error code")
}

// CodeOf maps an error to the code carried in a header error field.
func CodeOf(err error) uint32 {
	if err == nil {
		return ErrCodeNone
	}
	switch {
	case errors.Is(err, domain.ErrSync):
		return ErrCodeSync
	case errors.Is(err, domain.ErrDecrypt):
		return ErrCodeSync
	case errors.Is(err, domain.ErrShortBuffer):
		return ErrCodeField
	case errors.Is(err, domain.ErrQueueOverflow), errors.Is(err, domain.ErrConnClosed),
		errors.Is(err, domain.ErrHandshake):
		return ErrCodeSock
	}
	for code, sentinel := range codeErrors {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	return ErrCodeSock
}
