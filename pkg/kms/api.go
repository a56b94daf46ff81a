/*
Copyright TBD54566975 Contributors.

SPDX-License-Identifier: Apache-2.0
*/

// Package kms provides the key management service contract of the agent and a
// router that multiplexes named KMS backends behind one uniform API. All
// cryptographic operations are mediated through key references; private key
// material never leaves the owning KMS.
package kms

import (
	"context"
	"errors"

	"github.com/tbd54566975/web5-agent-go/pkg/crypto"
	"github.com/tbd54566975/web5-agent-go/pkg/jwk"
)

var (
	// ErrKeyNotFound is returned when a key reference does not resolve for an
	// operation that requires the key to exist.
	ErrKeyNotFound = errors.New("key not found")

	// ErrUnknownKMS is returned when a KMS name does not resolve to a registered
	// backend, or when no name is given and more than one backend is registered.
	ErrUnknownKMS = errors.New("unknown key management system")

	// ErrKeyPairMismatch is returned when a key pair import supplies private and
	// public key objects with swapped type fields.
	ErrKeyPairMismatch = errors.New("key pair private/public type mismatch")
)

// KeyType classifies managed key material.
type KeyType string

// Managed key material types.
const (
	KeyTypePublic  KeyType = "public"
	KeyTypePrivate KeyType = "private"
	KeyTypeSecret  KeyType = "secret"
)

// KeyState indicates whether a managed key may be used.
type KeyState string

// Managed key states.
const (
	KeyStateEnabled  KeyState = "Enabled"
	KeyStateDisabled KeyState = "Disabled"
)

// KeyUsage identifies an operation a managed key is permitted to perform.
type KeyUsage string

// Key usage values.
const (
	UsageSign       KeyUsage = "sign"
	UsageVerify     KeyUsage = "verify"
	UsageEncrypt    KeyUsage = "encrypt"
	UsageDecrypt    KeyUsage = "decrypt"
	UsageDeriveBits KeyUsage = "deriveBits"
)

// ManagedKey is a key under management of a KMS. Material is only populated for
// public and secret keys; it is never populated on a private key returned to a
// caller.
type ManagedKey struct {
	ID          string                 `json:"id"`
	Type        KeyType                `json:"type"`
	Algorithm   crypto.Algorithm       `json:"algorithm"`
	Extractable bool                   `json:"extractable"`
	KMS         string                 `json:"kms"`
	State       KeyState               `json:"state"`
	Usages      []KeyUsage             `json:"usages,omitempty"`
	Material    []byte                 `json:"material,omitempty"`
	Alias       string                 `json:"alias,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// ManagedKeyPair is a public/private key pair under management of a KMS. Both
// halves share the same id and owning KMS.
type ManagedKeyPair struct {
	PrivateKey *ManagedKey `json:"privateKey"`
	PublicKey  *ManagedKey `json:"publicKey"`
}

// Managed is implemented by *ManagedKey and *ManagedKeyPair, the two result
// shapes of key creation and retrieval.
type Managed interface {
	managed()
}

func (*ManagedKey) managed()     {}
func (*ManagedKeyPair) managed() {}

// UpdateKeyParams carries the only mutable properties of a managed key. A nil
// field leaves the property unchanged.
type UpdateKeyParams struct {
	Alias    *string
	Metadata map[string]interface{}
}

// Service is the uniform key management API implemented by KMS backends and by
// the multi-KMS Manager.
//
// GetKey returns (nil, nil) when the reference does not resolve; UpdateKey
// returns (false, nil) in the same situation. The cryptographic operations fail
// with ErrKeyNotFound instead.
type Service interface {
	GenerateKey(ctx context.Context, algorithm crypto.Algorithm, opts ...GenerateKeyOption) (Managed, error)
	ImportKey(ctx context.Context, key Managed, opts ...GenerateKeyOption) (Managed, error)
	GetKey(ctx context.Context, keyRef string) (Managed, error)
	UpdateKey(ctx context.Context, keyRef string, params UpdateKeyParams) (bool, error)
	DeleteKey(ctx context.Context, keyRef string) error
	Sign(ctx context.Context, keyRef string, data []byte) ([]byte, error)
	Verify(ctx context.Context, keyRef string, data, signature []byte) (bool, error)
	Encrypt(ctx context.Context, keyRef string, plaintext, aad []byte) ([]byte, error)
	Decrypt(ctx context.Context, keyRef string, ciphertext, aad []byte) ([]byte, error)
	DeriveBits(ctx context.Context, keyRef string, publicKey *jwk.JWK) ([]byte, error)
}

// GenerateKeyOptions holds the resolved options of a GenerateKey or ImportKey
// call. Not to be used directly by callers; it is exported for KMS backend
// implementations. Use the option functions below instead.
type GenerateKeyOptions struct {
	KMSName     string
	Alias       string
	Metadata    map[string]interface{}
	Extractable bool
	Usages      []KeyUsage
}

// GenerateKeyOption configures key generation and import.
type GenerateKeyOption func(*GenerateKeyOptions)

// NewGenerateKeyOptions resolves a list of options. Intended for KMS backend
// implementations.
func NewGenerateKeyOptions(opts []GenerateKeyOption) *GenerateKeyOptions {
	options := &GenerateKeyOptions{}
	for _, opt := range opts {
		opt(options)
	}

	return options
}

// WithKMS selects the backend by name when generating through the Manager.
// Backends themselves ignore this option.
func WithKMS(name string) GenerateKeyOption {
	return func(o *GenerateKeyOptions) {
		o.KMSName = name
	}
}

// WithAlias sets a resolvable alias on the new key.
func WithAlias(alias string) GenerateKeyOption {
	return func(o *GenerateKeyOptions) {
		o.Alias = alias
	}
}

// WithMetadata attaches caller-defined metadata to the new key.
func WithMetadata(metadata map[string]interface{}) GenerateKeyOption {
	return func(o *GenerateKeyOptions) {
		o.Metadata = metadata
	}
}

// WithExtractable marks the new key as extractable.
func WithExtractable(extractable bool) GenerateKeyOption {
	return func(o *GenerateKeyOptions) {
		o.Extractable = extractable
	}
}

// WithUsages overrides the default usage set of the new key.
func WithUsages(usages ...KeyUsage) GenerateKeyOption {
	return func(o *GenerateKeyOptions) {
		o.Usages = usages
	}
}
