package adaptive

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
)

// AESGCM implements AES-256-GCM.
type AESGCM struct {
	baseCipher
}

// NewAESGCM creates an AES-GCM cipher. Link keys are 32 bytes; 16 and 24
// byte keys are accepted for AES-128 and AES-192.
func NewAESGCM(key []byte) (*AESGCM, error) {
	switch len(key) {
	case 16, 24, 32:
	default:
		return nil, errors.New("invalid key size for AES-GCM: must be 16, 24, or 32 bytes")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &AESGCM{baseCipher{aead: aead}}, nil
}

// Type returns CipherAESGCM.
func (c *AESGCM) Type() CipherType { return CipherAESGCM }
