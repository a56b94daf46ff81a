/*
Copyright TBD54566975 Contributors.

SPDX-License-Identifier: Apache-2.0
*/

package jose

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"fmt"

	"github.com/google/tink/go/subtle/random"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/tbd54566975/web5-agent-go/pkg/jwk"
)

// tagSize is the authentication tag length shared by all supported content
// encryption algorithms.
const tagSize = 16

type encryptOptions struct {
	sharedUnprotected Headers
	unprotected       Headers
	aad               []byte
}

// EncryptOption configures EncryptFlattened.
type EncryptOption func(*encryptOptions)

// WithSharedUnprotectedHeaders sets the shared unprotected JOSE headers.
func WithSharedUnprotectedHeaders(headers Headers) EncryptOption {
	return func(o *encryptOptions) {
		o.sharedUnprotected = headers
	}
}

// WithUnprotectedHeaders sets the per-recipient unprotected JOSE headers.
func WithUnprotectedHeaders(headers Headers) EncryptOption {
	return func(o *encryptOptions) {
		o.unprotected = headers
	}
}

// WithAdditionalAuthenticatedData sets explicit additional authenticated data to
// be integrity-protected alongside the protected headers. Empty data is treated
// as no data: the serialized aad field cannot distinguish the two, so an empty
// value must not change the AAD form.
func WithAdditionalAuthenticatedData(aad []byte) EncryptOption {
	return func(o *encryptOptions) {
		if len(aad) == 0 {
			return
		}

		o.aad = aad
	}
}

// EncryptFlattened encrypts plaintext into a flattened JWE.
//
// The key parameter depends on the key management algorithm in the merged
// headers: for "dir" it must be a symmetric *jwk.JWK used directly as the CEK;
// for the PBES2 algorithms it must be the raw password bytes, and the headers
// must carry p2c and p2s.
func EncryptFlattened(plaintext []byte, protected Headers, key interface{}, opts ...EncryptOption) (*FlattenedJWE, error) {
	options := &encryptOptions{}
	for _, opt := range opts {
		opt(options)
	}

	if protected == nil && options.sharedUnprotected == nil && options.unprotected == nil {
		return nil, fmt.Errorf("%w: at least one header source is required", ErrInvalidJWE)
	}

	if err := checkDuplicateHeaderNames(protected, options.sharedUnprotected, options.unprotected); err != nil {
		return nil, err
	}

	merged := mergeHeaders(protected, options.sharedUnprotected, options.unprotected)

	alg, ok := merged.Algorithm()
	if !ok {
		return nil, fmt.Errorf("%w: missing alg header", ErrInvalidJWE)
	}

	enc, ok := merged.Encryption()
	if !ok {
		return nil, fmt.Errorf("%w: missing enc header", ErrInvalidJWE)
	}

	cek, encryptedKey, err := produceCEK(alg, enc, key, merged)
	if err != nil {
		return nil, err
	}

	iv := random.GetRandomBytes(uint32(ivSizeForEnc(enc)))

	encodedProtected, err := encodeProtectedHeaders(protected)
	if err != nil {
		return nil, err
	}

	aadBytes := buildAAD(encodedProtected, options.aad)

	aead, err := contentAEAD(enc, cek)
	if err != nil {
		return nil, err
	}

	sealed := aead.Seal(nil, iv, plaintext, aadBytes)
	ciphertext := sealed[:len(sealed)-tagSize]
	tag := sealed[len(sealed)-tagSize:]

	out := &FlattenedJWE{
		Protected:   encodedProtected,
		Unprotected: options.sharedUnprotected,
		Header:      options.unprotected,
		IV:          base64.RawURLEncoding.EncodeToString(iv),
		Ciphertext:  base64.RawURLEncoding.EncodeToString(ciphertext),
		Tag:         base64.RawURLEncoding.EncodeToString(tag),
	}

	if encryptedKey != nil {
		out.EncryptedKey = base64.RawURLEncoding.EncodeToString(encryptedKey)
	}

	if options.aad != nil {
		out.AAD = base64.RawURLEncoding.EncodeToString(options.aad)
	}

	return out, nil
}

// produceCEK dispatches on the key management algorithm and returns the content
// encryption key plus the encrypted key bytes (nil for direct encryption).
func produceCEK(alg, enc string, key interface{}, headers Headers) ([]byte, []byte, error) {
	switch alg {
	case AlgDir:
		cek, err := directCEK(enc, key)
		if err != nil {
			return nil, nil, err
		}

		return cek, nil, nil
	case AlgPBES2HS256A128KW, AlgPBES2HS384A192KW, AlgPBES2HS512A256KW:
		password, ok := key.([]byte)
		if !ok {
			return nil, nil, fmt.Errorf("%w: PBES2 requires the password as raw bytes", jwk.ErrInvalidKey)
		}

		kek, err := deriveKEK(alg, password, headers)
		if err != nil {
			return nil, nil, err
		}

		cekSize, err := cekSizeForEnc(enc)
		if err != nil {
			return nil, nil, err
		}

		cek := random.GetRandomBytes(uint32(cekSize))

		encryptedKey, err := wrapCEK(kek, cek)
		if err != nil {
			return nil, nil, err
		}

		return cek, encryptedKey, nil
	default:
		return nil, nil, fmt.Errorf("%w: alg %q", ErrAlgorithmNotSupported, alg)
	}
}

// directCEK extracts the content encryption key for direct encryption. The
// supplied key must be a key object, never raw bytes.
func directCEK(enc string, key interface{}) ([]byte, error) {
	if _, isRaw := key.([]byte); isRaw {
		return nil, fmt.Errorf("%w: dir requires a key object, not raw bytes", jwk.ErrInvalidKey)
	}

	symmetric, ok := key.(*jwk.JWK)
	if !ok || symmetric == nil {
		return nil, fmt.Errorf("%w: dir requires a symmetric JWK", jwk.ErrInvalidKey)
	}

	if symmetric.Kty != jwk.KtyOct || symmetric.K == "" {
		return nil, fmt.Errorf("%w: dir requires a symmetric JWK", jwk.ErrInvalidKey)
	}

	cek, err := base64.RawURLEncoding.DecodeString(symmetric.K)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", jwk.ErrInvalidKey, err)
	}

	cekSize, err := cekSizeForEnc(enc)
	if err != nil {
		return nil, err
	}

	if len(cek) != cekSize {
		return nil, fmt.Errorf("%w: CEK must be %d bytes for %s", jwk.ErrInvalidKey, cekSize, enc)
	}

	return cek, nil
}

// buildAAD computes the additional authenticated data per RFC 7516 section 5.1:
// ASCII(encodedProtected) when no explicit AAD is supplied, otherwise
// ASCII(encodedProtected || '.' || BASE64URL(aad)).
func buildAAD(encodedProtected string, aad []byte) []byte {
	if aad == nil {
		return []byte(encodedProtected)
	}

	return []byte(encodedProtected + "." + base64.RawURLEncoding.EncodeToString(aad))
}

// contentAEAD builds the AEAD primitive for the given content encryption
// algorithm and key.
func contentAEAD(enc string, cek []byte) (cipher.AEAD, error) {
	cekSize, err := cekSizeForEnc(enc)
	if err != nil {
		return nil, err
	}

	if len(cek) != cekSize {
		return nil, fmt.Errorf("%w: CEK must be %d bytes for %s", jwk.ErrInvalidKey, cekSize, enc)
	}

	if enc == XC20P {
		return chacha20poly1305.NewX(cek)
	}

	block, err := aes.NewCipher(cek)
	if err != nil {
		return nil, err
	}

	return cipher.NewGCM(block)
}
