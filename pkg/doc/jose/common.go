/*
Copyright TBD54566975 Contributors.

SPDX-License-Identifier: Apache-2.0
*/

// Package jose provides JSON Web Encryption in the flattened JSON and compact
// serializations as defined in https://tools.ietf.org/html/rfc7516, supporting
// direct and PBES2 password-based key management.
package jose

import (
	"encoding/json"
	"errors"
)

// IANA registered JOSE headers (https://tools.ietf.org/html/rfc7515#section-4.1)
// used by this package.
const (
	// HeaderAlgorithm identifies the cryptographic algorithm used to encrypt or
	// determine the value of the CEK.
	HeaderAlgorithm = "alg" // string

	// HeaderEncryption identifies the JWE content encryption algorithm.
	HeaderEncryption = "enc" // string

	// HeaderKeyID is a hint which references the key to which the JWE was encrypted.
	HeaderKeyID = "kid" // string

	// HeaderType declares the media type of this complete JWE.
	HeaderType = "typ" // string

	// HeaderContentType declares the media type of the secured content (the plaintext).
	HeaderContentType = "cty" // string

	// HeaderCritical indicates extensions that MUST be understood and processed.
	HeaderCritical = "crit" // array

	// HeaderPBES2Count is the PBKDF2 iteration count for PBES2 key management.
	HeaderPBES2Count = "p2c" // integer

	// HeaderPBES2Salt is the base64url-encoded PBKDF2 salt input for PBES2 key
	// management.
	HeaderPBES2Salt = "p2s" // string
)

// Key management algorithm values (https://tools.ietf.org/html/rfc7518#section-4.1).
const (
	// AlgDir uses the shared symmetric key directly as the CEK.
	AlgDir = "dir"
	// AlgPBES2HS256A128KW wraps the CEK with a key derived via PBKDF2-HMAC-SHA256.
	AlgPBES2HS256A128KW = "PBES2-HS256+A128KW"
	// AlgPBES2HS384A192KW wraps the CEK with a key derived via PBKDF2-HMAC-SHA384.
	AlgPBES2HS384A192KW = "PBES2-HS384+A192KW"
	// AlgPBES2HS512A256KW wraps the CEK with a key derived via PBKDF2-HMAC-SHA512.
	AlgPBES2HS512A256KW = "PBES2-HS512+A256KW"
)

// Content encryption algorithm values (https://tools.ietf.org/html/rfc7518#section-5.1).
const (
	// A128GCM for AES128GCM content encryption.
	A128GCM = "A128GCM"
	// A192GCM for AES192GCM content encryption.
	A192GCM = "A192GCM"
	// A256GCM for AES256GCM content encryption.
	A256GCM = "A256GCM"
	// XC20P for XChaCha20-Poly1305 content encryption.
	XC20P = "XC20P"
)

var (
	// ErrInvalidJWE is returned when a JWE is structurally malformed: wrong
	// compact part count, missing required header fields, or duplicate header
	// parameter names across header sources.
	ErrInvalidJWE = errors.New("invalid JWE")

	// ErrAlgorithmNotSupported is returned for unrecognized alg or enc values.
	ErrAlgorithmNotSupported = errors.New("algorithm not supported")

	// ErrEncoding is returned on base64url decode failures of header parameters.
	ErrEncoding = errors.New("encoding error")

	// ErrDecryptionFailed is the single generic error surfaced for any content
	// decryption or integrity failure. A wrong key and a tampered ciphertext are
	// indistinguishable to the caller by design.
	ErrDecryptionFailed = errors.New("decryption operation failed")
)

// Headers represents JOSE headers.
type Headers map[string]interface{}

// Algorithm gets the key management algorithm from JOSE headers.
func (h Headers) Algorithm() (string, bool) {
	return h.stringValue(HeaderAlgorithm)
}

// Encryption gets the content encryption algorithm from JOSE headers.
func (h Headers) Encryption() (string, bool) {
	return h.stringValue(HeaderEncryption)
}

// KeyID gets the key ID from JOSE headers.
func (h Headers) KeyID() (string, bool) {
	return h.stringValue(HeaderKeyID)
}

// ContentType gets the plaintext content type from JOSE headers.
func (h Headers) ContentType() (string, bool) {
	return h.stringValue(HeaderContentType)
}

// PBES2Salt gets the base64url PBES2 salt input from JOSE headers.
func (h Headers) PBES2Salt() (string, bool) {
	return h.stringValue(HeaderPBES2Salt)
}

// PBES2Count gets the PBES2 iteration count from JOSE headers. It tolerates the
// numeric representations produced by construction in Go and by JSON decoding.
func (h Headers) PBES2Count() (int, bool) {
	raw, ok := h[HeaderPBES2Count]
	if !ok {
		return 0, false
	}

	switch v := raw.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, false
		}

		return int(n), true
	default:
		return 0, false
	}
}

func (h Headers) stringValue(key string) (string, bool) {
	raw, ok := h[key]
	if !ok {
		return "", false
	}

	str, ok := raw.(string)

	return str, ok
}
