// Package aesecb reverses the storage provider's document encryption: AES-128
// in ECB mode with PKCS#7 padding, keyed by the first 16 bytes of
// SHA-256(code).
package aesecb

import (
	"archive/zip"
	"bytes"
	"crypto/aes"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/kirillkom/doc-curator/internal/core/domain"
)

var zipLocalHeader = []byte("PK\x03\x04")

type Decrypter struct{}

func New() *Decrypter {
	return &Decrypter{}
}

// Decrypt returns data unchanged when no code is given or when data is
// already a readable ZIP container.
func (d *Decrypter) Decrypt(ciphertext []byte, code string) ([]byte, error) {
	if code == "" {
		return ciphertext, nil
	}
	if isZipContainer(ciphertext) {
		return ciphertext, nil
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, domain.WrapError(domain.ErrDecryptionFailed, "aes decrypt",
			fmt.Errorf("ciphertext length %d is not a multiple of %d", len(ciphertext), aes.BlockSize))
	}

	block, err := aes.NewCipher(DeriveKey(code))
	if err != nil {
		return nil, domain.WrapError(domain.ErrDecryptionFailed, "aes cipher", err)
	}
	plain := make([]byte, len(ciphertext))
	for off := 0; off < len(ciphertext); off += aes.BlockSize {
		block.Decrypt(plain[off:off+aes.BlockSize], ciphertext[off:off+aes.BlockSize])
	}

	out, err := unpad(plain, aes.BlockSize)
	if err != nil {
		return nil, domain.WrapError(domain.ErrDecryptionFailed, "aes unpad", err)
	}
	return out, nil
}

func DeriveKey(code string) []byte {
	sum := sha256.Sum256([]byte(code))
	return sum[:16]
}

func unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 {
		return nil, errors.New("empty plaintext")
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize || n > len(data) {
		return nil, fmt.Errorf("invalid padding length %d", n)
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, errors.New("invalid padding bytes")
		}
	}
	return data[:len(data)-n], nil
}

func isZipContainer(data []byte) bool {
	if !bytes.HasPrefix(data, zipLocalHeader) {
		return false
	}
	_, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	return err == nil
}
