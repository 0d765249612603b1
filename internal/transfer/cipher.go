package transfer

// Cipher transforms packet payloads on the wire. Checksums always cover
// the plaintext.
type Cipher interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

// Passthrough is the Cipher used when no encryption is configured.
type Passthrough struct{}

func (Passthrough) Encrypt(b []byte) ([]byte, error) { return b, nil }

func (Passthrough) Decrypt(b []byte) ([]byte, error) { return b, nil }
