/*
Copyright TBD54566975 Contributors.

SPDX-License-Identifier: Apache-2.0
*/

package jose

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// FlattenedJWE represents a JWE in the flattened JSON serialization defined in
// https://tools.ietf.org/html/rfc7516#section-7.2.2. All binary fields are
// base64url-encoded without padding.
type FlattenedJWE struct {
	Protected    string  `json:"protected,omitempty"`
	Unprotected  Headers `json:"unprotected,omitempty"`
	Header       Headers `json:"header,omitempty"`
	EncryptedKey string  `json:"encrypted_key,omitempty"`
	AAD          string  `json:"aad,omitempty"`
	IV           string  `json:"iv,omitempty"`
	Ciphertext   string  `json:"ciphertext"`
	Tag          string  `json:"tag,omitempty"`
}

// ProtectedHeaders decodes and returns the integrity-protected headers, or nil
// when the JWE carries none.
func (e *FlattenedJWE) ProtectedHeaders() (Headers, error) {
	if e.Protected == "" {
		return nil, nil
	}

	raw, err := base64.RawURLEncoding.DecodeString(e.Protected)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed protected header: %v", ErrInvalidJWE, err)
	}

	var headers Headers
	if err := json.Unmarshal(raw, &headers); err != nil {
		return nil, fmt.Errorf("%w: malformed protected header: %v", ErrInvalidJWE, err)
	}

	return headers, nil
}

// encodeProtectedHeaders returns BASE64URL(UTF8(JSON(headers))), or the empty
// string when headers is nil. The encoded form participates byte-for-byte in the
// additional authenticated data, so it is computed exactly once per JWE.
func encodeProtectedHeaders(headers Headers) (string, error) {
	if headers == nil {
		return "", nil
	}

	raw, err := json.Marshal(headers)
	if err != nil {
		return "", fmt.Errorf("marshal protected headers: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// checkDuplicateHeaderNames rejects a header parameter name present in more than
// one of the protected, shared unprotected and per-recipient header sources, as
// required by RFC 7516 section 5.2.
func checkDuplicateHeaderNames(sources ...Headers) error {
	seen := make(map[string]struct{})

	for _, source := range sources {
		for name := range source {
			if _, ok := seen[name]; ok {
				return fmt.Errorf("%w: duplicate header parameter %q", ErrInvalidJWE, name)
			}

			seen[name] = struct{}{}
		}
	}

	return nil
}

// mergeHeaders builds the working JOSE header. Sources are applied in order, so
// later sources take precedence; duplicate detection has already guaranteed the
// sources are disjoint.
func mergeHeaders(sources ...Headers) Headers {
	merged := make(Headers)

	for _, source := range sources {
		for name, value := range source {
			merged[name] = value
		}
	}

	return merged
}

// cekSizeForEnc returns the content encryption key size in bytes for the given
// content encryption algorithm.
func cekSizeForEnc(enc string) (int, error) {
	switch enc {
	case A128GCM:
		return 16, nil
	case A192GCM:
		return 24, nil
	case A256GCM:
		return 32, nil
	case XC20P:
		return 32, nil
	default:
		return 0, fmt.Errorf("%w: enc %q", ErrAlgorithmNotSupported, enc)
	}
}

// ivSizeForEnc returns the initialization vector size in bytes for the given
// content encryption algorithm.
func ivSizeForEnc(enc string) int {
	if enc == XC20P {
		return 24
	}

	// GCM family.
	return 12
}
