/*
Copyright TBD54566975 Contributors.

SPDX-License-Identifier: Apache-2.0
*/

package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"github.com/google/tink/go/subtle/random"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/tbd54566975/web5-agent-go/pkg/jwk"
)

// sha256Alg implements Hasher for SHA-256.
type sha256Alg struct{}

// Digest returns the SHA-256 digest of data.
func (sha256Alg) Digest(data []byte) []byte {
	sum := sha256.Sum256(data)

	return sum[:]
}

// octGenerator generates symmetric (oct) JWKs of a fixed size for one AEAD
// algorithm.
type octGenerator struct {
	size int
	alg  string
}

// GenerateKey generates a fresh random symmetric JWK.
func (g octGenerator) GenerateKey() (*jwk.JWK, error) {
	key := &jwk.JWK{
		Kty: jwk.KtyOct,
		Alg: g.alg,
		K:   base64.RawURLEncoding.EncodeToString(random.GetRandomBytes(uint32(g.size))),
	}

	kid, err := key.ComputeThumbprint()
	if err != nil {
		return nil, err
	}

	key.Kid = kid

	return key, nil
}

// aesGCMCipher implements Cipher using AES in Galois/Counter Mode. The nonce is
// prepended to the returned ciphertext.
type aesGCMCipher struct {
	keySize int
}

// Encrypt seals plaintext with a fresh random nonce.
func (c aesGCMCipher) Encrypt(key, plaintext, aad []byte) ([]byte, error) {
	aead, err := c.aead(key)
	if err != nil {
		return nil, err
	}

	nonce := random.GetRandomBytes(uint32(aead.NonceSize()))
	ct := aead.Seal(nil, nonce, plaintext, aad)

	return append(nonce, ct...), nil
}

// Decrypt opens a nonce-prefixed ciphertext.
func (c aesGCMCipher) Decrypt(key, ciphertext, aad []byte) ([]byte, error) {
	aead, err := c.aead(key)
	if err != nil {
		return nil, err
	}

	if len(ciphertext) <= aead.NonceSize() {
		return nil, fmt.Errorf("ciphertext too short")
	}

	nonce := ciphertext[:aead.NonceSize()]

	pt, err := aead.Open(nil, nonce, ciphertext[aead.NonceSize():], aad)
	if err != nil {
		return nil, fmt.Errorf("decryption failed")
	}

	return pt, nil
}

func (c aesGCMCipher) aead(key []byte) (cipher.AEAD, error) {
	if len(key) != c.keySize {
		return nil, fmt.Errorf("%w: aes-gcm key must be %d bytes", jwk.ErrInvalidKey, c.keySize)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	return cipher.NewGCM(block)
}

// xc20pCipher implements Cipher using XChaCha20-Poly1305. The nonce is prepended
// to the returned ciphertext.
type xc20pCipher struct{}

// Encrypt seals plaintext with a fresh random nonce.
func (xc20pCipher) Encrypt(key, plaintext, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", jwk.ErrInvalidKey, err)
	}

	nonce := random.GetRandomBytes(chacha20poly1305.NonceSizeX)
	ct := aead.Seal(nil, nonce, plaintext, aad)

	return append(nonce, ct...), nil
}

// Decrypt opens a nonce-prefixed ciphertext.
func (xc20pCipher) Decrypt(key, ciphertext, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", jwk.ErrInvalidKey, err)
	}

	if len(ciphertext) <= chacha20poly1305.NonceSizeX {
		return nil, fmt.Errorf("ciphertext too short")
	}

	nonce := ciphertext[:chacha20poly1305.NonceSizeX]

	pt, err := aead.Open(nil, nonce, ciphertext[chacha20poly1305.NonceSizeX:], aad)
	if err != nil {
		return nil, fmt.Errorf("decryption failed")
	}

	return pt, nil
}
