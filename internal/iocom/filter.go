package iocom

// Filter encrypts the outbound byte stream and decrypts the inbound one.
// A link without a filter sends frames in the clear.
//
// Implementations work on whole records: Decrypt only consumes complete
// records and leaves a trailing partial record for the next call.
type Filter interface {
	// Encrypt appends the ciphertext of plaintext to dst.
	Encrypt(dst, plaintext []byte) ([]byte, error)

	// Decrypt decrypts the complete records at the start of buf in place.
	// It returns the number of plaintext bytes written to buf[:n] and the
	// number of ciphertext bytes consumed, n <= consumed.
	Decrypt(buf []byte) (n, consumed int, err error)
}
