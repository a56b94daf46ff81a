/*
Copyright TBD54566975 Contributors.

SPDX-License-Identifier: Apache-2.0
*/

package jose

import (
	"encoding/base64"
	"fmt"

	"github.com/google/tink/go/subtle/random"

	"github.com/tbd54566975/web5-agent-go/pkg/jwk"
)

type decryptOptions struct {
	allowedAlgs []string
	allowedEncs []string
}

// DecryptOption configures DecryptFlattened.
type DecryptOption func(*decryptOptions)

// WithAllowedAlgorithms restricts the acceptable key management algorithms.
func WithAllowedAlgorithms(algs ...string) DecryptOption {
	return func(o *decryptOptions) {
		o.allowedAlgs = algs
	}
}

// WithAllowedEncryptionAlgorithms restricts the acceptable content encryption
// algorithms.
func WithAllowedEncryptionAlgorithms(encs ...string) DecryptOption {
	return func(o *decryptOptions) {
		o.allowedEncs = encs
	}
}

// DecryptFlattened decrypts a flattened JWE and returns the plaintext along with
// the decoded protected headers.
//
// Key recovery failures that do not stem from a structurally invalid JWE or an
// unsupported algorithm are absorbed by substituting a random CEK so that a
// wrong key and a tampered ciphertext fail identically during tag verification
// (RFC 3218 countermeasure). Both surface as ErrDecryptionFailed.
func DecryptFlattened(jwe *FlattenedJWE, key interface{}, opts ...DecryptOption) ([]byte, Headers, error) {
	options := &decryptOptions{}
	for _, opt := range opts {
		opt(options)
	}

	if jwe == nil {
		return nil, nil, fmt.Errorf("%w: JWE is required", ErrInvalidJWE)
	}

	protected, err := jwe.ProtectedHeaders()
	if err != nil {
		return nil, nil, err
	}

	if protected == nil && jwe.Unprotected == nil && jwe.Header == nil {
		return nil, nil, fmt.Errorf("%w: at least one header source is required", ErrInvalidJWE)
	}

	if err := checkDuplicateHeaderNames(protected, jwe.Unprotected, jwe.Header); err != nil {
		return nil, nil, err
	}

	merged := mergeHeaders(protected, jwe.Unprotected, jwe.Header)

	alg, ok := merged.Algorithm()
	if !ok {
		return nil, nil, fmt.Errorf("%w: missing alg header", ErrInvalidJWE)
	}

	enc, ok := merged.Encryption()
	if !ok {
		return nil, nil, fmt.Errorf("%w: missing enc header", ErrInvalidJWE)
	}

	if err := checkAllowedValue(options.allowedAlgs, alg, "alg"); err != nil {
		return nil, nil, err
	}

	if err := checkAllowedValue(options.allowedEncs, enc, "enc"); err != nil {
		return nil, nil, err
	}

	cek, err := recoverCEK(alg, enc, key, merged, jwe.EncryptedKey)
	if err != nil {
		return nil, nil, err
	}

	iv, err := base64.RawURLEncoding.DecodeString(jwe.IV)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: malformed iv: %v", ErrInvalidJWE, err)
	}

	ciphertext, err := base64.RawURLEncoding.DecodeString(jwe.Ciphertext)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: malformed ciphertext: %v", ErrInvalidJWE, err)
	}

	tag, err := base64.RawURLEncoding.DecodeString(jwe.Tag)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: malformed tag: %v", ErrInvalidJWE, err)
	}

	aead, err := contentAEAD(enc, cek)
	if err != nil {
		return nil, nil, err
	}

	aadBytes := []byte(jwe.Protected)
	if jwe.AAD != "" {
		aadBytes = []byte(jwe.Protected + "." + jwe.AAD)
	}

	sealed := make([]byte, 0, len(ciphertext)+len(tag))
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := aead.Open(nil, iv, sealed, aadBytes)
	if err != nil {
		return nil, nil, ErrDecryptionFailed
	}

	return plaintext, protected, nil
}

func checkAllowedValue(allowed []string, value, name string) error {
	if len(allowed) == 0 {
		return nil
	}

	for _, candidate := range allowed {
		if candidate == value {
			return nil
		}
	}

	return fmt.Errorf("%w: %s %q is not allowed", ErrAlgorithmNotSupported, name, value)
}

// recoverCEK runs key management in reverse. Structural errors and unsupported
// algorithms are returned as-is; any other failure yields a freshly generated
// random CEK so decryption proceeds and fails late in tag verification.
func recoverCEK(alg, enc string, key interface{}, headers Headers, encryptedKey string) ([]byte, error) {
	cekSize, err := cekSizeForEnc(enc)
	if err != nil {
		return nil, err
	}

	switch alg {
	case AlgDir:
		if _, isRaw := key.([]byte); isRaw {
			return nil, fmt.Errorf("%w: dir requires a key object, not raw bytes", jwk.ErrInvalidKey)
		}

		symmetric, ok := key.(*jwk.JWK)
		if !ok || symmetric == nil {
			return nil, fmt.Errorf("%w: dir requires a symmetric JWK", jwk.ErrInvalidKey)
		}

		cek, err := base64.RawURLEncoding.DecodeString(symmetric.K)
		if err != nil || len(cek) != cekSize {
			return random.GetRandomBytes(uint32(cekSize)), nil
		}

		return cek, nil
	case AlgPBES2HS256A128KW, AlgPBES2HS384A192KW, AlgPBES2HS512A256KW:
		password, ok := key.([]byte)
		if !ok {
			return nil, fmt.Errorf("%w: PBES2 requires the password as raw bytes", jwk.ErrInvalidKey)
		}

		if encryptedKey == "" {
			return nil, fmt.Errorf("%w: missing encrypted_key", ErrInvalidJWE)
		}

		wrapped, err := base64.RawURLEncoding.DecodeString(encryptedKey)
		if err != nil {
			return nil, fmt.Errorf("%w: malformed encrypted_key: %v", ErrInvalidJWE, err)
		}

		kek, err := deriveKEK(alg, password, headers)
		if err != nil {
			return nil, err
		}

		cek, err := unwrapCEK(kek, wrapped)
		if err != nil || len(cek) != cekSize {
			return random.GetRandomBytes(uint32(cekSize)), nil
		}

		return cek, nil
	default:
		return nil, fmt.Errorf("%w: alg %q", ErrAlgorithmNotSupported, alg)
	}
}
