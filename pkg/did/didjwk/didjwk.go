/*
Copyright TBD54566975 Contributors.

SPDX-License-Identifier: Apache-2.0
*/

// Package didjwk implements the did:jwk DID method. The method-specific id is
// the base64url-encoded public JWK, so resolution is a pure decode with no
// network or ledger involved.
package didjwk

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/tbd54566975/web5-agent-go/pkg/crypto"
	"github.com/tbd54566975/web5-agent-go/pkg/did"
	"github.com/tbd54566975/web5-agent-go/pkg/jwk"
	"github.com/tbd54566975/web5-agent-go/pkg/kms"
)

// MethodName is the method name of did:jwk identifiers.
const MethodName = "jwk"

const (
	contextDIDCore = "https://www.w3.org/ns/did/v1"
	contextJWS2020 = "https://w3id.org/security/suites/jws-2020/v1"

	verificationMethodType = "JsonWebKey2020"
)

type createOptions struct {
	algorithm crypto.Algorithm
	kmsOpts   []kms.GenerateKeyOption
}

// CreateOption configures Create.
type CreateOption func(*createOptions)

// WithAlgorithm selects the signing algorithm of the new identity.
// Defaults to Ed25519.
func WithAlgorithm(algorithm crypto.Algorithm) CreateOption {
	return func(o *createOptions) {
		o.algorithm = algorithm
	}
}

// WithKeyManagerOptions passes additional options through to the key manager's
// GenerateKey call, e.g. kms.WithKMS to target a named backend.
func WithKeyManagerOptions(opts ...kms.GenerateKeyOption) CreateOption {
	return func(o *createOptions) {
		o.kmsOpts = append(o.kmsOpts, opts...)
	}
}

// Create generates a new key in the given key manager and builds a did:jwk
// identity around its public key. The generated key is aliased with the public
// JWK's RFC 7638 thumbprint, so the DID's verification method kid doubles as
// the key reference for signing through the key manager.
func Create(ctx context.Context, km kms.Service, opts ...CreateOption) (*did.BearerDID, error) {
	options := &createOptions{algorithm: crypto.Algorithm{Name: crypto.AlgEd25519}}
	for _, opt := range opts {
		opt(options)
	}

	managed, err := km.GenerateKey(ctx, options.algorithm, options.kmsOpts...)
	if err != nil {
		return nil, fmt.Errorf("generate did:jwk key: %w", err)
	}

	pair, ok := managed.(*kms.ManagedKeyPair)
	if !ok {
		return nil, fmt.Errorf("%w: did:jwk requires an asymmetric key", jwk.ErrInvalidKey)
	}

	converter, err := crypto.ConverterFor(pair.PublicKey.Algorithm.Name)
	if err != nil {
		return nil, err
	}

	publicJWK, err := converter.BytesToPublicKey(pair.PublicKey.Material)
	if err != nil {
		return nil, err
	}

	kid, err := publicJWK.ComputeThumbprint()
	if err != nil {
		return nil, err
	}

	updated, err := km.UpdateKey(ctx, pair.PrivateKey.ID, kms.UpdateKeyParams{Alias: &kid})
	if err != nil {
		return nil, fmt.Errorf("alias did:jwk key: %w", err)
	}

	if !updated {
		return nil, fmt.Errorf("%w: %s", kms.ErrKeyNotFound, pair.PrivateKey.ID)
	}

	uri, err := uriForJWK(publicJWK)
	if err != nil {
		return nil, err
	}

	parsed, err := did.Parse(uri)
	if err != nil {
		return nil, err
	}

	publicJWK.Kid = kid

	return &did.BearerDID{
		DID:        *parsed,
		Document:   buildDocument(uri, publicJWK),
		KeyManager: km,
	}, nil
}

// Resolve resolves a did:jwk URI into its DID document by decoding the public
// JWK embedded in the method-specific id.
func Resolve(uri string) (*did.Document, error) {
	parsed, err := did.Parse(uri)
	if err != nil {
		return nil, err
	}

	if parsed.Method != MethodName {
		return nil, fmt.Errorf("%w: not a did:jwk: %s", did.ErrInvalidDID, uri)
	}

	raw, err := base64.RawURLEncoding.DecodeString(parsed.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed method-specific id: %v", did.ErrInvalidDID, err)
	}

	publicJWK := &jwk.JWK{}
	if err := json.Unmarshal(raw, publicJWK); err != nil {
		return nil, fmt.Errorf("%w: method-specific id is not a JWK: %v", did.ErrInvalidDID, err)
	}

	if publicJWK.IsPrivate() {
		return nil, fmt.Errorf("%w: did:jwk must not embed private key material", did.ErrInvalidDID)
	}

	kid, err := publicJWK.ComputeThumbprint()
	if err != nil {
		return nil, err
	}

	publicJWK.Kid = kid

	doc := buildDocument(uri, publicJWK)

	return &doc, nil
}

// uriForJWK encodes the public JWK into a did:jwk URI. The kid member is left
// out of the encoding so that equal keys always produce equal identifiers.
func uriForJWK(publicJWK *jwk.JWK) (string, error) {
	encoded := *publicJWK
	encoded.Kid = ""

	raw, err := json.Marshal(&encoded)
	if err != nil {
		return "", fmt.Errorf("marshal did:jwk key: %w", err)
	}

	return "did:" + MethodName + ":" + base64.RawURLEncoding.EncodeToString(raw), nil
}

func buildDocument(uri string, publicJWK *jwk.JWK) did.Document {
	vmID := uri + "#0"

	return did.Document{
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
	}
}
