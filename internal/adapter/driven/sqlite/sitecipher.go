package sqlite

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
)

// SiteCipher encrypts stored credentials with AES-256-CBC. The key is the
// SHA-256 digest of the site secret and the IV is the site salt, padded with
// '0' or truncated to one block. The IV is fixed per site, so equal
// plaintexts produce equal ciphertexts.
//
// A SiteCipher without secret or salt is disabled: values pass through
// unchanged and are stored as plaintext.
type SiteCipher struct {
	key []byte
	iv  []byte
}

// NewSiteCipher creates a SiteCipher. Either argument empty yields a
// disabled cipher.
func NewSiteCipher(secret, salt string) *SiteCipher {
	if secret == "" || salt == "" {
		return &SiteCipher{}
	}

	key := sha256.Sum256([]byte(secret))

	iv := []byte(salt)
	if len(iv) > aes.BlockSize {
		iv = iv[:aes.BlockSize]
	}
	iv = append(iv, bytes.Repeat([]byte{'0'}, aes.BlockSize-len(iv))...)

	return &SiteCipher{key: key[:], iv: iv}
}

// Enabled reports whether values are encrypted at rest.
func (c *SiteCipher) Enabled() bool {
	return c != nil && c.key != nil
}

// Encrypt returns the base64 ciphertext of plaintext, or plaintext itself
// when the cipher is disabled.
func (c *SiteCipher) Encrypt(plaintext string) (string, error) {
	if !c.Enabled() {
		return plaintext, nil
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", fmt.Errorf("aes.NewCipher: %w", err)
	}

	data := pkcs7Pad([]byte(plaintext), aes.BlockSize)
	out := make([]byte, len(data))
	cipher.NewCBCEncrypter(block, c.iv).CryptBlocks(out, data)

	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt reverses Encrypt. A disabled cipher returns stored unchanged.
func (c *SiteCipher) Decrypt(stored string) (string, error) {
	if !c.Enabled() {
		return stored, nil
	}

	data, err := base64.StdEncoding.DecodeString(stored)
	if err != nil {
		return "", fmt.Errorf("base64 decode: %w", err)
	}
	if len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return "", errors.New("ciphertext is not a whole number of blocks")
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", fmt.Errorf("aes.NewCipher: %w", err)
	}

	out := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, c.iv).CryptBlocks(out, data)

	plain, err := pkcs7Unpad(out, aes.BlockSize)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 {
		return nil, errors.New("empty plaintext")
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize || n > len(data) {
		return nil, errors.New("invalid padding")
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, errors.New("invalid padding")
		}
	}
	return data[:len(data)-n], nil
}
