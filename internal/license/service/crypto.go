package service

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

var (
	errInvalidEnvelope = errors.New("invalid_envelope")
	errInvalidPadding  = errors.New("invalid_padding")
)

// deriveKey hashes the private key material down to a fixed AES-256 key.
// The same private key always yields the same key bytes.
func deriveKey(privateKey string) []byte {
	digest := sha256.Sum256([]byte(privateKey))
	return digest[:]
}

// encrypt seals plaintext under AES-256-CBC with a fresh random IV and
// returns the hex(iv):hex(ciphertext) wire envelope. IV reuse across
// requests would leak key-stream information under CBC.
func encrypt(key, plaintext []byte) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return "", err
	}

	padded := pkcs7Pad(plaintext, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(ciphertext), nil
}

// decrypt opens a hex(iv):hex(ciphertext) envelope. The split is on the
// first colon only.
func decrypt(key []byte, envelope string) ([]byte, error) {
	ivHex, ciphertextHex, found := strings.Cut(strings.TrimSpace(envelope), ":")
	if !found {
		return nil, errInvalidEnvelope
	}
	iv, err := hex.DecodeString(ivHex)
	if err != nil || len(iv) != aes.BlockSize {
		return nil, errInvalidEnvelope
	}
	ciphertext, err := hex.DecodeString(ciphertextHex)
	if err != nil || len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, errInvalidEnvelope
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)
	return pkcs7Unpad(plaintext, aes.BlockSize)
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padding := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(padding)}, padding)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, errInvalidPadding
	}
	padding := int(data[len(data)-1])
	if padding == 0 || padding > blockSize || padding > len(data) {
		return nil, errInvalidPadding
	}
	for _, b := range data[len(data)-padding:] {
		if int(b) != padding {
			return nil, errInvalidPadding
		}
	}
	return data[:len(data)-padding], nil
}
