package adaptive

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Sizes used by link key derivation.
const (
	SaltSize = 32
	KeySize  = 32
)

// NewSalt returns SaltSize random bytes.
func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, err
	}
	return salt, nil
}

// LinkKeys are the two keys of one link, named from the dialer's side.
type LinkKeys struct {
	DialerToListener []byte
	ListenerToDialer []byte
}

// DeriveLinkKeys expands psk with HKDF-SHA256 over both salts. Both ends
// obtain the same pair; each seals with the key of its own direction.
func DeriveLinkKeys(psk, dialerSalt, listenerSalt []byte) (LinkKeys, error) {
	if len(psk) == 0 {
		return LinkKeys{}, errors.New("empty pre-shared key")
	}
	salt := make([]byte, 0, len(dialerSalt)+len(listenerSalt))
	salt = append(salt, dialerSalt...)
	salt = append(salt, listenerSalt...)

	var keys LinkKeys
	for _, k := range []struct {
		info string
		dst  *[]byte
	}{
		{"spanmesh link d2l", &keys.DialerToListener},
		{"spanmesh link l2d", &keys.ListenerToDialer},
	} {
		*k.dst = make([]byte, KeySize)
		if _, err := io.ReadFull(hkdf.New(sha256.New, psk, salt, []byte(k.info)), *k.dst); err != nil {
			return LinkKeys{}, err
		}
	}
	return keys, nil
}
