// Package cryptox implements reversible field encryption and one-way lookup
// hashing for PII stored at rest. A FieldCipher instance carries its own key
// material and is passed explicitly to every consumer; there is no package
// level key state.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"

	"github.com/ssjbox/ssjbox/internal/common"
)

// FieldCipher encrypts and decrypts individual database fields with
// AES-256-GCM. Each Encrypt call generates a fresh random nonce which is
// prepended to the ciphertext, so every blob is self-contained.
//
// The lookup key used by HashForLookup is derived from the same injected key
// material but with a distinct label, so equality-searchable digests never
// share key material with the cipher itself.
type FieldCipher struct {
	encKey    []byte
	lookupKey []byte
}

// NewFieldCipher derives the encryption and lookup keys from the given key
// material. The material may be any non-empty secret; both derived keys are
// 32 bytes.
func NewFieldCipher(keyMaterial []byte) (*FieldCipher, error) {
	if len(keyMaterial) == 0 {
		return nil, common.ErrorInternal
	}

	enc := sha256.Sum256(append([]byte("ssjbox/field-enc:"), keyMaterial...))
	lookup := sha256.Sum256(append([]byte("ssjbox/field-lookup:"), keyMaterial...))

	return &FieldCipher{encKey: enc[:], lookupKey: lookup[:]}, nil
}

// Encrypt seals plaintext under a fresh random nonce and returns
// nonce || ciphertext. Empty input returns an empty blob without touching the
// cipher, so empty fields stay empty in storage.
func (c *FieldCipher) Encrypt(plaintext []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return []byte{}, nil
	}

	block, err := aes.NewCipher(c.encKey)
	if err != nil {
		return nil, err
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aesgcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	return aesgcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens a blob produced by Encrypt. It fails closed: any malformed or
// tampered input yields common.ErrorDecryptFailed, never garbage plaintext.
// An empty blob decrypts to an empty plaintext (the empty sentinel).
func (c *FieldCipher) Decrypt(blob []byte) ([]byte, error) {
	if len(blob) == 0 {
		return []byte{}, nil
	}

	block, err := aes.NewCipher(c.encKey)
	if err != nil {
		return nil, err
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	if len(blob) < aesgcm.NonceSize() {
		return nil, common.ErrorDecryptFailed
	}

	nonce, ciphertext := blob[:aesgcm.NonceSize()], blob[aesgcm.NonceSize():]
	plaintext, err := aesgcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, common.ErrorDecryptFailed
	}
	return plaintext, nil
}

// EncryptString is a convenience wrapper over Encrypt for string fields.
func (c *FieldCipher) EncryptString(s string) ([]byte, error) {
	return c.Encrypt([]byte(s))
}

// DecryptString is a convenience wrapper over Decrypt for string fields.
func (c *FieldCipher) DecryptString(blob []byte) (string, error) {
	b, err := c.Decrypt(blob)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// HashForLookup returns a deterministic HMAC-SHA256 digest of value under the
// derived lookup key. It lets callers build equality-searchable indexes over
// encrypted fields (citizen ID, email) without revealing the plaintext.
func (c *FieldCipher) HashForLookup(value string) []byte {
	mac := hmac.New(sha256.New, c.lookupKey)
	mac.Write([]byte(value))
	return mac.Sum(nil)
}
