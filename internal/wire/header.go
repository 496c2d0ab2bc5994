package wire

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/yndnr/spanmesh-go/internal/core/domain"
)

// Frame geometry.
const (
	Magic    uint16 = 0x4832
	MagicRev uint16 = 0x3248

	Align         = 64
	HeaderSize    = 64
	MaxHeaderSize = 2048
	MaxAuxSize    = 65536
)

// Primary header field offsets.
const (
	offMagic    = 0
	offSalt     = 4
	offMsgID    = 8
	offSpanID   = 16
	offCmd      = 32
	offAuxCRC   = 36
	offAuxBytes = 40
	offError    = 44
	offAuxDescr = 48
	offHdrCRC   = 60
)

// fieldWidths lists every primary header field, reserved ones included,
// in wire order. Used for byte-order conversion.
var fieldWidths = [...]int{2, 2, 4, 8, 8, 8, 4, 4, 4, 4, 8, 4, 4}

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Header is the decoded 64-byte primary header.
type Header struct {
	Magic    uint16
	Salt     uint32 // low byte carries the per-direction sequence number
	MsgID    uint64
	SpanID   uint64
	Cmd      Cmd
	AuxCRC   uint32
	AuxBytes uint32 // unpadded payload length
	Error    uint32
	AuxDescr uint64
	HdrCRC   uint32
}

// Seq returns the sequence number carried in the salt.
func (h *Header) Seq() uint8 { return uint8(h.Salt) }

// Put writes h into buf in canonical little-endian order.
// Reserved fields are zeroed.
func (h *Header) Put(buf []byte) {
	_ = buf[HeaderSize-1]
	clear(buf[:HeaderSize])
	le := binary.LittleEndian
	le.PutUint16(buf[offMagic:], h.Magic)
	le.PutUint32(buf[offSalt:], h.Salt)
	le.PutUint64(buf[offMsgID:], h.MsgID)
	le.PutUint64(buf[offSpanID:], h.SpanID)
	le.PutUint32(buf[offCmd:], uint32(h.Cmd))
	le.PutUint32(buf[offAuxCRC:], h.AuxCRC)
	le.PutUint32(buf[offAuxBytes:], h.AuxBytes)
	le.PutUint32(buf[offError:], h.Error)
	le.PutUint64(buf[offAuxDescr:], h.AuxDescr)
	le.PutUint32(buf[offHdrCRC:], h.HdrCRC)
}

// ParseHeader reads a canonical little-endian primary header.
// Call SwapEndianIfNeeded first on bytes taken off the wire.
func ParseHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, domain.ErrShortBuffer
	}
	le := binary.LittleEndian
	h := Header{
		Magic:    le.Uint16(buf[offMagic:]),
		Salt:     le.Uint32(buf[offSalt:]),
		MsgID:    le.Uint64(buf[offMsgID:]),
		SpanID:   le.Uint64(buf[offSpanID:]),
		Cmd:      Cmd(le.Uint32(buf[offCmd:])),
		AuxCRC:   le.Uint32(buf[offAuxCRC:]),
		AuxBytes: le.Uint32(buf[offAuxBytes:]),
		Error:    le.Uint32(buf[offError:]),
		AuxDescr: le.Uint64(buf[offAuxDescr:]),
		HdrCRC:   le.Uint32(buf[offHdrCRC:]),
	}
	if h.Magic != Magic {
		return Header{}, domain.ErrBadMagic
	}
	return h, nil
}

// DecodeHeader inspects the primary header at the start of buf and returns
// the extended header size and the unpadded aux payload size. Either byte
// order is accepted. buf is not modified.
func DecodeHeader(buf []byte) (headerSize, auxSize int, err error) {
	if len(buf) < HeaderSize {
		return 0, 0, domain.ErrShortBuffer
	}
	var order binary.ByteOrder
	switch binary.LittleEndian.Uint16(buf[offMagic:]) {
	case Magic:
		order = binary.LittleEndian
	case MagicRev:
		order = binary.BigEndian
	default:
		return 0, 0, domain.ErrBadMagic
	}

	headerSize = Cmd(order.Uint32(buf[offCmd:])).HeaderBytes()
	auxSize = int(order.Uint32(buf[offAuxBytes:]))
	if headerSize < HeaderSize || headerSize > MaxHeaderSize {
		return 0, 0, domain.ErrFieldOverflow.WithDetails("header size out of range")
	}
	if auxSize < 0 || AlignUp(auxSize) > MaxAuxSize {
		return 0, 0, domain.ErrFieldOverflow.WithDetails("aux size out of range")
	}
	return headerSize, auxSize, nil
}

// SwapEndianIfNeeded converts a byte-swapped primary header to canonical
// order in place and reports whether a swap happened. The command-specific
// extension beyond the primary header is always little-endian.
func SwapEndianIfNeeded(header []byte) bool {
	if len(header) < HeaderSize || binary.LittleEndian.Uint16(header[offMagic:]) != MagicRev {
		return false
	}
	swapFields(header)
	return true
}

func swapFields(header []byte) {
	off := 0
	for _, w := range fieldWidths {
		f := header[off : off+w]
		for i, j := 0, w-1; i < j; i, j = i+1, j-1 {
			f[i], f[j] = f[j], f[i]
		}
		off += w
	}
}

// VerifyHeaderCRC checks the CRC over a canonical extended header. The CRC
// field is zeroed for the computation and restored afterwards.
func VerifyHeaderCRC(header []byte) bool {
	if len(header) < HeaderSize {
		return false
	}
	want := binary.LittleEndian.Uint32(header[offHdrCRC:])
	binary.LittleEndian.PutUint32(header[offHdrCRC:], 0)
	got := Checksum(header)
	binary.LittleEndian.PutUint32(header[offHdrCRC:], want)
	return got == want
}

// SealHeader computes and stores the header CRC of a canonical extended header.
func SealHeader(header []byte) uint32 {
	binary.LittleEndian.PutUint32(header[offHdrCRC:], 0)
	crc := Checksum(header)
	binary.LittleEndian.PutUint32(header[offHdrCRC:], crc)
	return crc
}

// VerifyAuxCRC checks the CRC over an aux payload as it appears on the
// wire, alignment padding included.
func VerifyAuxCRC(payload []byte, expected uint32) bool {
	return Checksum(payload) == expected
}

// Checksum is the frame CRC (CRC-32 Castagnoli).
func Checksum(b []byte) uint32 {
	return crc32.Checksum(b, castagnoli)
}

// AlignUp rounds n up to the frame alignment.
func AlignUp(n int) int {
	return (n + Align - 1) &^ (Align - 1)
}
