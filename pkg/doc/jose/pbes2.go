/*
Copyright TBD54566975 Contributors.

SPDX-License-Identifier: Apache-2.0
*/

package jose

import (
	"crypto/aes"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"hash"

	josecipher "github.com/go-jose/go-jose/v3/cipher"
	"golang.org/x/crypto/pbkdf2"
)

// pbes2Params describes one PBES2 key management algorithm: the PRF used by
// PBKDF2 and the size of the derived key encryption key.
type pbes2Params struct {
	hash    func() hash.Hash
	keySize int
}

func pbes2ParamsFor(alg string) (pbes2Params, error) {
	switch alg {
	case AlgPBES2HS256A128KW:
		return pbes2Params{hash: sha256.New, keySize: 16}, nil
	case AlgPBES2HS384A192KW:
		return pbes2Params{hash: sha512.New384, keySize: 24}, nil
	case AlgPBES2HS512A256KW:
		return pbes2Params{hash: sha512.New, keySize: 32}, nil
	default:
		return pbes2Params{}, fmt.Errorf("%w: alg %q", ErrAlgorithmNotSupported, alg)
	}
}

// deriveKEK derives the PBES2 key encryption key from a password. Per RFC 7518
// section 4.8.1.1, the effective PBKDF2 salt is UTF8(alg) || 0x00 || saltInput
// where saltInput is the decoded p2s header value.
func deriveKEK(alg string, password []byte, headers Headers) ([]byte, error) {
	params, err := pbes2ParamsFor(alg)
	if err != nil {
		return nil, err
	}

	p2s, ok := headers.PBES2Salt()
	if !ok {
		return nil, fmt.Errorf("%w: missing p2s header", ErrInvalidJWE)
	}

	p2c, ok := headers.PBES2Count()
	if !ok {
		return nil, fmt.Errorf("%w: missing p2c header", ErrInvalidJWE)
	}

	if p2c <= 0 {
		return nil, fmt.Errorf("%w: p2c must be positive", ErrInvalidJWE)
	}

	saltInput, err := base64.RawURLEncoding.DecodeString(p2s)
	if err != nil {
		return nil, fmt.Errorf("%w: p2s is not base64url: %v", ErrEncoding, err)
	}

	salt := make([]byte, 0, len(alg)+1+len(saltInput))
	salt = append(salt, []byte(alg)...)
	salt = append(salt, 0x00)
	salt = append(salt, saltInput...)

	return pbkdf2.Key(password, salt, p2c, params.keySize, params.hash), nil
}

// wrapCEK wraps the content encryption key with the AES Key Wrap algorithm
// (RFC 3394) under the given key encryption key.
func wrapCEK(kek, cek []byte) ([]byte, error) {
	block, err := aes.NewCipher(kek)
	if err != nil {
		return nil, fmt.Errorf("create key wrap cipher: %w", err)
	}

	wrapped, err := josecipher.KeyWrap(block, cek)
	if err != nil {
		return nil, fmt.Errorf("wrap content encryption key: %w", err)
	}

	return wrapped, nil
}

// unwrapCEK unwraps an AES Key Wrapped content encryption key.
func unwrapCEK(kek, wrapped []byte) ([]byte, error) {
	block, err := aes.NewCipher(kek)
	if err != nil {
		return nil, fmt.Errorf("create key unwrap cipher: %w", err)
	}

	cek, err := josecipher.KeyUnwrap(block, wrapped)
	if err != nil {
		return nil, fmt.Errorf("unwrap content encryption key: %w", err)
	}

	return cek, nil
}
