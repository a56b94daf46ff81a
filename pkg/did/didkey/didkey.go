/*
Copyright TBD54566975 Contributors.

SPDX-License-Identifier: Apache-2.0
*/

// Package didkey implements the did:key DID method for Ed25519 keys. The
// method-specific id is a multibase(base58btc) multicodec fingerprint of the
// raw public key.
package didkey

import (
	"encoding/binary"
	"fmt"

	"github.com/multiformats/go-multibase"

	"github.com/tbd54566975/web5-agent-go/pkg/did"
	"github.com/tbd54566975/web5-agent-go/pkg/jwk"
)

// MethodName is the method name of did:key identifiers.
const MethodName = "key"

// ed25519Codec is the multicodec code for an Ed25519 public key.
const ed25519Codec = 0xed

const (
	contextDIDCore = "https://www.w3.org/ns/did/v1"
	contextJWS2020 = "https://w3id.org/security/suites/jws-2020/v1"

	verificationMethodType = "JsonWebKey2020"
)

// CreateFromPublicKey builds a did:key URI from an Ed25519 public JWK.
func CreateFromPublicKey(publicJWK *jwk.JWK) (string, error) {
	if publicJWK == nil || publicJWK.Kty != jwk.KtyOKP || publicJWK.Crv != "Ed25519" {
		return "", fmt.Errorf("%w: did:key supports Ed25519 OKP keys", jwk.ErrInvalidKey)
	}

	raw, err := jwk.DecodeBytes(publicJWK.X)
	if err != nil {
		return "", err
	}

	prefixed := make([]byte, binary.MaxVarintLen64+len(raw))
	n := binary.PutUvarint(prefixed, ed25519Codec)
	n += copy(prefixed[n:], raw)

	fingerprint, err := multibase.Encode(multibase.Base58BTC, prefixed[:n])
	if err != nil {
		return "", fmt.Errorf("encode did:key fingerprint: %w", err)
	}

	return "did:" + MethodName + ":" + fingerprint, nil
}

// PublicKeyFromDID decodes the Ed25519 public JWK embedded in a did:key URI.
func PublicKeyFromDID(uri string) (*jwk.JWK, error) {
	parsed, err := did.Parse(uri)
	if err != nil {
		return nil, err
	}

	if parsed.Method != MethodName {
		return nil, fmt.Errorf("%w: not a did:key: %s", did.ErrInvalidDID, uri)
	}

	encoding, raw, err := multibase.Decode(parsed.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed fingerprint: %v", did.ErrInvalidDID, err)
	}

	if encoding != multibase.Base58BTC {
		return nil, fmt.Errorf("%w: fingerprint must be base58btc", did.ErrInvalidDID)
	}

	code, n := binary.Uvarint(raw)
	if n <= 0 || code != ed25519Codec {
		return nil, fmt.Errorf("%w: unsupported multicodec %#x", did.ErrInvalidDID, code)
	}

	publicKey := raw[n:]
	if len(publicKey) != 32 {
		return nil, fmt.Errorf("%w: Ed25519 public key must be 32 bytes", jwk.ErrInvalidKey)
	}

	publicJWK := &jwk.JWK{
		Kty: jwk.KtyOKP,
		Crv: "Ed25519",
		X:   jwk.EncodeBytes(publicKey),
	}

	kid, err := publicJWK.ComputeThumbprint()
	if err != nil {
		return nil, err
	}

	publicJWK.Kid = kid

	return publicJWK, nil
}

// Resolve resolves a did:key URI into its DID document.
func Resolve(uri string) (*did.Document, error) {
	publicJWK, err := PublicKeyFromDID(uri)
	if err != nil {
		return nil, err
	}

	parsed, err := did.Parse(uri)
	if err != nil {
		return nil, err
	}

	vmID := uri + "#" + parsed.ID

	return &did.Document{
		Context: []string{contextDIDCore, contextJWS2020},
		ID:      uri,
		VerificationMethod: []did.VerificationMethod{{
			ID:           vmID,
			Type:         verificationMethodType,
			Controller:   uri,
			PublicKeyJWK: publicJWK,
		}},
		Authentication:       []string{vmID},
		AssertionMethod:      []string{vmID},
		CapabilityInvocation: []string{vmID},
		CapabilityDelegation: []string{vmID},
	}, nil
}
