/*
Copyright TBD54566975 Contributors.

SPDX-License-Identifier: Apache-2.0
*/

package kms

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/tbd54566975/web5-agent-go/pkg/crypto"
	"github.com/tbd54566975/web5-agent-go/pkg/jwk"
)

// Manager routes key management operations across named KMS backends. Key
// references are resolved to their owning backend by probing backends in
// lexicographic name order, which keeps resolution deterministic when the same
// reference could match in more than one backend.
type Manager struct {
	mu       sync.RWMutex
	backends map[string]Service
}

// NewManager creates an empty multi-KMS Manager.
func NewManager() *Manager {
	return &Manager{backends: make(map[string]Service)}
}

// RegisterKMS registers a backend under the given name, replacing any backend
// previously registered under that name.
func (m *Manager) RegisterKMS(name string, service Service) error {
	if name == "" {
		return fmt.Errorf("%w: name is required", ErrUnknownKMS)
	}

	if service == nil {
		return fmt.Errorf("%w: service is required", ErrUnknownKMS)
	}

	m.mu.Lock()
	m.backends[name] = service
	m.mu.Unlock()

	return nil
}

// KMSNames returns the registered backend names in resolution order.
func (m *Manager) KMSNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.backends))
	for name := range m.backends {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// GenerateKey generates a key in the backend selected with WithKMS. When no
// name is given the backend is auto-selected only if exactly one is registered;
// with several registered backends an explicit name is mandatory.
func (m *Manager) GenerateKey(ctx context.Context, algorithm crypto.Algorithm, opts ...GenerateKeyOption) (Managed, error) {
	options := NewGenerateKeyOptions(opts)

	backend, err := m.selectKMS(options.KMSName)
	if err != nil {
		return nil, err
	}

	return backend.GenerateKey(ctx, algorithm, opts...)
}

// ImportKey imports a key into the backend selected with WithKMS, following the
// same selection rules as GenerateKey.
func (m *Manager) ImportKey(ctx context.Context, key Managed, opts ...GenerateKeyOption) (Managed, error) {
	options := NewGenerateKeyOptions(opts)

	backend, err := m.selectKMS(options.KMSName)
	if err != nil {
		return nil, err
	}

	return backend.ImportKey(ctx, key, opts...)
}

// GetKey resolves a key reference (id or alias) across all backends. It returns
// (nil, nil) when the reference does not resolve anywhere.
func (m *Manager) GetKey(ctx context.Context, keyRef string) (Managed, error) {
	_, key, err := m.findOwner(ctx, keyRef)

	return key, err
}

// UpdateKey updates alias or metadata of the referenced key. It returns
// (false, nil) when the reference does not resolve; this soft failure is
// intentional and distinct from the hard errors of the cryptographic operations.
func (m *Manager) UpdateKey(ctx context.Context, keyRef string, params UpdateKeyParams) (bool, error) {
	backend, key, err := m.findOwner(ctx, keyRef)
	if err != nil {
		return false, err
	}

	if key == nil {
		return false, nil
	}

	return backend.UpdateKey(ctx, keyRef, params)
}

// DeleteKey deletes the referenced key from its owning backend.
func (m *Manager) DeleteKey(ctx context.Context, keyRef string) error {
	backend, key, err := m.findOwner(ctx, keyRef)
	if err != nil {
		return err
	}

	if key == nil {
		return fmt.Errorf("%w: %s", ErrKeyNotFound, keyRef)
	}

	return backend.DeleteKey(ctx, keyRef)
}

// Sign signs data with the private key behind keyRef in its owning backend.
func (m *Manager) Sign(ctx context.Context, keyRef string, data []byte) ([]byte, error) {
	backend, err := m.requireOwner(ctx, keyRef)
	if err != nil {
		return nil, err
	}

	return backend.Sign(ctx, keyRef, data)
}

// Verify verifies a signature with the public key behind keyRef.
func (m *Manager) Verify(ctx context.Context, keyRef string, data, signature []byte) (bool, error) {
	backend, err := m.requireOwner(ctx, keyRef)
	if err != nil {
		return false, err
	}

	return backend.Verify(ctx, keyRef, data, signature)
}

// Encrypt encrypts plaintext with the secret key behind keyRef.
func (m *Manager) Encrypt(ctx context.Context, keyRef string, plaintext, aad []byte) ([]byte, error) {
	backend, err := m.requireOwner(ctx, keyRef)
	if err != nil {
		return nil, err
	}

	return backend.Encrypt(ctx, keyRef, plaintext, aad)
}

// Decrypt decrypts ciphertext with the secret key behind keyRef.
func (m *Manager) Decrypt(ctx context.Context, keyRef string, ciphertext, aad []byte) ([]byte, error) {
	backend, err := m.requireOwner(ctx, keyRef)
	if err != nil {
		return nil, err
	}

	return backend.Decrypt(ctx, keyRef, ciphertext, aad)
}

// DeriveBits derives shared secret bits between the private key behind keyRef
// and the given public key.
func (m *Manager) DeriveBits(ctx context.Context, keyRef string, publicKey *jwk.JWK) ([]byte, error) {
	backend, err := m.requireOwner(ctx, keyRef)
	if err != nil {
		return nil, err
	}

	return backend.DeriveBits(ctx, keyRef, publicKey)
}

func (m *Manager) selectKMS(name string) (Service, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if name != "" {
		backend, ok := m.backends[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownKMS, name)
		}

		return backend, nil
	}

	// Auto-select only when the choice is unambiguous.
	if len(m.backends) == 1 {
		for _, backend := range m.backends {
			return backend, nil
		}
	}

	return nil, fmt.Errorf("%w: a KMS name is required when %d backends are registered",
		ErrUnknownKMS, len(m.backends))
}

func (m *Manager) findOwner(ctx context.Context, keyRef string) (Service, Managed, error) {
	for _, name := range m.KMSNames() {
		m.mu.RLock()
		backend := m.backends[name]
		m.mu.RUnlock()

		key, err := backend.GetKey(ctx, keyRef)
		if err != nil {
			return nil, nil, err
		}

		if key != nil {
			return backend, key, nil
		}
	}

	return nil, nil, nil
}

func (m *Manager) requireOwner(ctx context.Context, keyRef string) (Service, error) {
	backend, key, err := m.findOwner(ctx, keyRef)
	if err != nil {
		return nil, err
	}

	if key == nil {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, keyRef)
	}

	return backend, nil
}
