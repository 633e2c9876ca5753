// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/pak

package pak

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
)

// AES parameters used by pak sections and payloads.
const (
	aesKeySize   = 32
	aesBlockSize = aes.BlockSize
)

// align rounds n up to a multiple of a (a > 0).
func align(n, a int64) int64 {
	if a <= 1 {
		return n
	}

	return (n + a - 1) / a * a
}

// encryptedSize returns on-disk size of n plaintext bytes when encrypted.
func encryptedSize(n int64, encrypted bool) int64 {
	if !encrypted {
		return n
	}

	return align(n, aesBlockSize)
}

// sectionCipher runs AES-256 in ECB mode: every 16-byte block independently.
type sectionCipher struct {
	block cipher.Block
}

// newSectionCipher validates key length and builds the block cipher.
func newSectionCipher(key []byte) (*sectionCipher, error) {
	if len(key) != aesKeySize {
		return nil, fmt.Errorf("%w: key has %d bytes, want %d", ErrDecryptionFailed, len(key), aesKeySize)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecryptionFailed, err)
	}

	return &sectionCipher{block: block}, nil
}

// decrypt decrypts buf in place. Length must be a multiple of 16.
func (c *sectionCipher) decrypt(buf []byte) error {
	if len(buf)%aesBlockSize != 0 {
		return fmt.Errorf("%w: ciphertext length %d is not a multiple of %d", ErrDecryptionFailed, len(buf), aesBlockSize)
	}

	for i := 0; i < len(buf); i += aesBlockSize {
		c.block.Decrypt(buf[i:i+aesBlockSize], buf[i:i+aesBlockSize])
	}

	return nil
}

// encryptPadded returns plain zero-padded to 16 and encrypted. plain is not modified.
func (c *sectionCipher) encryptPadded(plain []byte) []byte {
	out := make([]byte, align(int64(len(plain)), aesBlockSize))
	copy(out, plain)
	for i := 0; i < len(out); i += aesBlockSize {
		c.block.Encrypt(out[i:i+aesBlockSize], out[i:i+aesBlockSize])
	}

	return out
}

// padSection zero-pads b to a multiple of 16.
func padSection(b []byte) []byte {
	n := int(align(int64(len(b)), aesBlockSize))
	if n == len(b) {
		return b
	}

	out := make([]byte, n)
	copy(out, b)
	return out
}
