/*
Copyright TBD54566975 Contributors.

SPDX-License-Identifier: Apache-2.0
*/

package jose

import (
	"fmt"
	"strings"
)

// compactPartCount is the exact number of period-separated fields in the JWE
// compact serialization: protected header, encrypted key, initialization
// vector, ciphertext and authentication tag.
const compactPartCount = 5

// EncryptCompact encrypts plaintext and serializes the result in the JWE
// compact form. Only the protected header participates; the compact
// serialization has no unprotected headers and no standalone AAD.
func EncryptCompact(plaintext []byte, protected Headers, key interface{}) (string, error) {
	if protected == nil {
		return "", fmt.Errorf("%w: protected header is required", ErrInvalidJWE)
	}

	jwe, err := EncryptFlattened(plaintext, protected, key)
	if err != nil {
		return "", err
	}

	parts := []string{jwe.Protected, jwe.EncryptedKey, jwe.IV, jwe.Ciphertext, jwe.Tag}

	return strings.Join(parts, "."), nil
}

// DecryptCompact deserializes and decrypts a compact JWE, returning the
// plaintext and the decoded protected headers. A serialization with any number
// of fields other than five fails with ErrInvalidJWE before any cryptography is
// attempted.
func DecryptCompact(serialized string, key interface{}, opts ...DecryptOption) ([]byte, Headers, error) {
	parts := strings.Split(serialized, ".")
	if len(parts) != compactPartCount {
		return nil, nil, fmt.Errorf("%w: expected %d parts, got %d", ErrInvalidJWE, compactPartCount, len(parts))
	}

	jwe := &FlattenedJWE{
		Protected:    parts[0],
		EncryptedKey: parts[1],
		IV:           parts[2],
		Ciphertext:   parts[3],
		Tag:          parts[4],
	}

	plaintext, protected, err := DecryptFlattened(jwe, key, opts...)
	if err != nil {
		return nil, nil, err
	}

	if _, ok := protected.Algorithm(); !ok {
		return nil, nil, fmt.Errorf("%w: missing alg header", ErrInvalidJWE)
	}

	if _, ok := protected.Encryption(); !ok {
		return nil, nil, fmt.Errorf("%w: missing enc header", ErrInvalidJWE)
	}

	return plaintext, protected, nil
}
