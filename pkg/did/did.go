/*
Copyright TBD54566975 Contributors.

SPDX-License-Identifier: Apache-2.0
*/

// Package did provides the minimal decentralized identifier model the agent
// needs: DID parsing, a DID document shape, and the bearer/portable
// representations used to hold and move an identity with its keys.
package did

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tbd54566975/web5-agent-go/pkg/jwk"
	"github.com/tbd54566975/web5-agent-go/pkg/kms"
	"github.com/tbd54566975/web5-agent-go/pkg/kms/localkms"
	"github.com/tbd54566975/web5-agent-go/pkg/storage/mem"
)

// ErrInvalidDID is returned when a DID URI is malformed.
var ErrInvalidDID = errors.New("invalid DID")

// DID is a parsed decentralized identifier.
type DID struct {
	// URI is the complete identifier, e.g. "did:jwk:eyJrdHkiOi...".
	URI string `json:"uri"`
	// Method is the method name, e.g. "jwk".
	Method string `json:"method"`
	// ID is the method-specific identifier.
	ID string `json:"id"`
}

// Parse parses a DID URI of the form did:<method>:<method-specific-id>.
func Parse(uri string) (*DID, error) {
	parts := strings.SplitN(uri, ":", 3)
	if len(parts) != 3 || parts[0] != "did" || parts[1] == "" || parts[2] == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDID, uri)
	}

	return &DID{URI: uri, Method: parts[1], ID: parts[2]}, nil
}

// VerificationMethod expresses a public key in a DID document.
type VerificationMethod struct {
	ID           string   `json:"id"`
	Type         string   `json:"type"`
	Controller   string   `json:"controller"`
	PublicKeyJWK *jwk.JWK `json:"publicKeyJwk,omitempty"`
}

// Document is a DID document as defined by https://www.w3.org/TR/did-core/,
// restricted to the members the agent produces and consumes.
type Document struct {
	Context              interface{}          `json:"@context,omitempty"`
	ID                   string               `json:"id"`
	VerificationMethod   []VerificationMethod `json:"verificationMethod,omitempty"`
	Authentication       []string             `json:"authentication,omitempty"`
	AssertionMethod      []string             `json:"assertionMethod,omitempty"`
	CapabilityInvocation []string             `json:"capabilityInvocation,omitempty"`
	CapabilityDelegation []string             `json:"capabilityDelegation,omitempty"`
}

// BearerDID couples a DID with the key manager holding its private keys. It is
// the in-memory, usable form of an identity.
type BearerDID struct {
	DID
	Document   Document
	KeyManager kms.Service
}

// PortableDID is a self-contained, serializable export of an identity: the DID,
// its document, and the private keys in JWK form. It contains secrets and must
// only be persisted encrypted.
type PortableDID struct {
	URI         string                 `json:"uri"`
	Document    Document               `json:"document"`
	PrivateKeys []jwk.JWK              `json:"privateKeys,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// FromPortableDID reconstructs a BearerDID from its portable form, importing
// the private keys into a fresh in-memory LocalKMS. Each key is aliased with
// its JWK thumbprint so document verification method kids resolve as key
// references.
func FromPortableDID(portable PortableDID) (*BearerDID, error) {
	parsed, err := Parse(portable.URI)
	if err != nil {
		return nil, err
	}

	local, err := localkms.New(localkms.Config{StorageProvider: mem.NewProvider()})
	if err != nil {
		return nil, err
	}

	for i := range portable.PrivateKeys {
		key := portable.PrivateKeys[i]

		kid := key.Kid
		if kid == "" {
			kid, err = key.ComputeThumbprint()
			if err != nil {
				return nil, err
			}
		}

		if _, err := local.ImportPrivateJWK(context.Background(), &key, kms.WithAlias(kid)); err != nil {
			return nil, fmt.Errorf("import portable key: %w", err)
		}
	}

	return &BearerDID{
		DID:        *parsed,
		Document:   portable.Document,
		KeyManager: local,
	}, nil
}
