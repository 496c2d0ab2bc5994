package adaptive

import (
	"crypto/cipher"
	"encoding/binary"
	"errors"
	"fmt"
)

// MaxRecord bounds the plaintext of one record.
const MaxRecord = 1 << 20

const recordHeader = 4

// ErrRecordSize is returned for a record length outside the valid range.
var ErrRecordSize = errors.New("adaptive: bad record length")

// RecordFilter seals an outbound byte stream into records and opens the
// inbound one. Each direction may be driven by its own goroutine, but
// neither direction is safe for concurrent use.
type RecordFilter struct {
	send      cipher.AEAD
	sendSeq   uint64
	sendNonce []byte

	recv      cipher.AEAD
	recvSeq   uint64
	recvNonce []byte
}

// NewRecordFilter builds a filter sealing with sendKey and opening with
// recvKey.
func NewRecordFilter(t CipherType, sendKey, recvKey []byte) (*RecordFilter, error) {
	s, err := NewWithType(sendKey, t)
	if err != nil {
		return nil, err
	}
	r, err := NewWithType(recvKey, s.Type())
	if err != nil {
		return nil, err
	}
	return &RecordFilter{
		send:      s.AEAD(),
		sendNonce: make([]byte, s.NonceSize()),
		recv:      r.AEAD(),
		recvNonce: make([]byte, r.NonceSize()),
	}, nil
}

// counterNonce writes seq into the trailing 8 bytes of nonce.
func counterNonce(nonce []byte, seq uint64) []byte {
	clear(nonce)
	binary.LittleEndian.PutUint64(nonce[len(nonce)-8:], seq)
	return nonce
}

// Encrypt appends plaintext to dst as one or more sealed records.
func (f *RecordFilter) Encrypt(dst, plaintext []byte) ([]byte, error) {
	for len(plaintext) > 0 {
		chunk := plaintext[:min(len(plaintext), MaxRecord)]
		plaintext = plaintext[len(chunk):]

		var hdr [recordHeader]byte
		binary.LittleEndian.PutUint32(hdr[:], uint32(len(chunk)+f.send.Overhead()))
		dst = append(dst, hdr[:]...)
		dst = f.send.Seal(dst, counterNonce(f.sendNonce, f.sendSeq), chunk, hdr[:])
		f.sendSeq++
	}
	return dst, nil
}

// Decrypt opens the complete records at the start of buf in place and
// leaves a trailing partial record untouched.
func (f *RecordFilter) Decrypt(buf []byte) (n, consumed int, err error) {
	overhead := f.recv.Overhead()
	for len(buf)-consumed >= recordHeader {
		var hdr [recordHeader]byte
		copy(hdr[:], buf[consumed:])
		l := int(binary.LittleEndian.Uint32(hdr[:]))
		if l <= overhead || l > MaxRecord+overhead {
			return n, consumed, fmt.Errorf("%w: %d", ErrRecordSize, l)
		}
		if len(buf)-consumed-recordHeader < l {
			break
		}
		ct := buf[consumed+recordHeader : consumed+recordHeader+l]
		pt, err := f.recv.Open(ct[:0], counterNonce(f.recvNonce, f.recvSeq), ct, hdr[:])
		if err != nil {
			return n, consumed, err
		}
		f.recvSeq++
		n += copy(buf[n:], pt)
		consumed += recordHeader + l
	}
	return n, consumed, nil
}
