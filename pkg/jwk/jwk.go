/*
Copyright TBD54566975 Contributors.

SPDX-License-Identifier: Apache-2.0
*/

// Package jwk provides the JSON Web Key representation used as the canonical key
// object throughout the agent. Keys move between components as JWKs; raw byte
// material only appears at the storage and wire boundaries.
package jwk

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// Key type values registered in https://tools.ietf.org/html/rfc7518#section-6.1.
const (
	KtyEC  = "EC"
	KtyOKP = "OKP"
	KtyOct = "oct"
)

// ErrInvalidKey is returned when a passed JWK is invalid.
var ErrInvalidKey = errors.New("invalid JWK")

// JWK (JSON Web Key) is a JSON data structure that represents a cryptographic key
// as defined in https://tools.ietf.org/html/rfc7517. All binary members are
// base64url-encoded without padding.
type JWK struct {
	Kty string `json:"kty,omitempty"`
	Crv string `json:"crv,omitempty"`
	Alg string `json:"alg,omitempty"`
	Kid string `json:"kid,omitempty"`
	Use string `json:"use,omitempty"`

	// EC and OKP coordinates.
	X string `json:"x,omitempty"`
	Y string `json:"y,omitempty"`

	// Private key material: D for EC/OKP, K for oct.
	D string `json:"d,omitempty"`
	K string `json:"k,omitempty"`
}

// EncodeBytes encodes binary key material the way JWK members are encoded:
// base64url without padding.
func EncodeBytes(material []byte) string {
	return base64.RawURLEncoding.EncodeToString(material)
}

// DecodeBytes decodes a base64url JWK member into raw bytes.
func DecodeBytes(member string) ([]byte, error) {
	raw, err := base64.RawURLEncoding.DecodeString(member)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}

	return raw, nil
}

// IsPrivate reports whether the key carries private or secret material.
func (j *JWK) IsPrivate() bool {
	switch j.Kty {
	case KtyOct:
		return j.K != ""
	default:
		return j.D != ""
	}
}

// PublicKey returns a copy of the key with all private members removed.
// Symmetric (oct) keys have no public form.
func (j *JWK) PublicKey() (*JWK, error) {
	if j.Kty == KtyOct {
		return nil, fmt.Errorf("%w: oct keys have no public form", ErrInvalidKey)
	}

	pub := *j
	pub.D = ""

	return &pub, nil
}

// ComputeThumbprint computes the SHA-256 JWK thumbprint of the key's public
// members as defined in https://tools.ietf.org/html/rfc7638. Private members do
// not contribute, so a key pair and its public half share one thumbprint.
func (j *JWK) ComputeThumbprint() (string, error) {
	required, err := j.requiredMembers()
	if err != nil {
		return "", err
	}

	// RFC 7638 requires the required members serialized in lexicographic order
	// with no whitespace. encoding/json sorts map keys, which gives us exactly
	// that for flat string maps.
	canonical, err := json.Marshal(required)
	if err != nil {
		return "", fmt.Errorf("marshal thumbprint members: %w", err)
	}

	digest := sha256.Sum256(canonical)

	return base64.RawURLEncoding.EncodeToString(digest[:]), nil
}

func (j *JWK) requiredMembers() (map[string]string, error) {
	switch j.Kty {
	case KtyEC:
		if j.Crv == "" || j.X == "" || j.Y == "" {
			return nil, fmt.Errorf("%w: EC key requires crv, x and y", ErrInvalidKey)
		}

		return map[string]string{"crv": j.Crv, "kty": j.Kty, "x": j.X, "y": j.Y}, nil
	case KtyOKP:
		if j.Crv == "" || j.X == "" {
			return nil, fmt.Errorf("%w: OKP key requires crv and x", ErrInvalidKey)
		}

		return map[string]string{"crv": j.Crv, "kty": j.Kty, "x": j.X}, nil
	case KtyOct:
		if j.K == "" {
			return nil, fmt.Errorf("%w: oct key requires k", ErrInvalidKey)
		}

		return map[string]string{"k": j.K, "kty": j.Kty}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported kty %q", ErrInvalidKey, j.Kty)
	}
}
