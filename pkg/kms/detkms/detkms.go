/*
Copyright TBD54566975 Contributors.

SPDX-License-Identifier: Apache-2.0
*/

// Package detkms provides a deterministic KMS backend. Instead of generating
// random keys, GenerateKey dispenses pre-derived private keys from a FIFO queue
// in call order. It exists to inject hierarchical-deterministically derived keys
// into creation flows that normally generate randomly, keeping the resulting
// identities reproducible from a seed.
package detkms

import (
	"context"
	"errors"
	"sync"

	"github.com/tbd54566975/web5-agent-go/pkg/crypto"
	"github.com/tbd54566975/web5-agent-go/pkg/jwk"
	"github.com/tbd54566975/web5-agent-go/pkg/kms"
	"github.com/tbd54566975/web5-agent-go/pkg/kms/localkms"
)

// ErrQueueEmpty is returned when GenerateKey is called more times than keys
// were preloaded.
var ErrQueueEmpty = errors.New("detkms: no preloaded keys remain")

// KMS implements kms.Service over a backing LocalKMS. Only GenerateKey differs:
// it consumes the next preloaded key instead of generating one.
//
// Callers must consume keys in the exact order they were preloaded; the queue
// has FIFO semantics and nothing else. Requesting keys in a different order
// than they were derived is a caller bug, not a recoverable condition.
type KMS struct {
	local *localkms.LocalKMS

	mu    sync.Mutex
	queue []*jwk.JWK
}

// New creates a deterministic KMS dispensing the given private JWKs in order,
// importing each into the backing LocalKMS as it is consumed.
func New(local *localkms.LocalKMS, keys ...*jwk.JWK) *KMS {
	queue := make([]*jwk.JWK, len(keys))
	copy(queue, keys)

	return &KMS{local: local, queue: queue}
}

// Remaining reports how many preloaded keys have not been dispensed yet.
func (d *KMS) Remaining() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return len(d.queue)
}

// GenerateKey dispenses the next preloaded key. The requested algorithm is not
// consulted; the caller is expected to request keys in derivation order.
func (d *KMS) GenerateKey(ctx context.Context, algorithm crypto.Algorithm, opts ...kms.GenerateKeyOption) (kms.Managed, error) {
	d.mu.Lock()

	if len(d.queue) == 0 {
		d.mu.Unlock()

		return nil, ErrQueueEmpty
	}

	next := d.queue[0]
	d.queue = d.queue[1:]
	d.mu.Unlock()

	return d.local.ImportPrivateJWK(ctx, next, opts...)
}

// ImportKey delegates to the backing LocalKMS.
func (d *KMS) ImportKey(ctx context.Context, key kms.Managed, opts ...kms.GenerateKeyOption) (kms.Managed, error) {
	return d.local.ImportKey(ctx, key, opts...)
}

// GetKey delegates to the backing LocalKMS.
func (d *KMS) GetKey(ctx context.Context, keyRef string) (kms.Managed, error) {
	return d.local.GetKey(ctx, keyRef)
}

// UpdateKey delegates to the backing LocalKMS.
func (d *KMS) UpdateKey(ctx context.Context, keyRef string, params kms.UpdateKeyParams) (bool, error) {
	return d.local.UpdateKey(ctx, keyRef, params)
}

// DeleteKey delegates to the backing LocalKMS.
func (d *KMS) DeleteKey(ctx context.Context, keyRef string) error {
	return d.local.DeleteKey(ctx, keyRef)
}

// Sign delegates to the backing LocalKMS.
func (d *KMS) Sign(ctx context.Context, keyRef string, data []byte) ([]byte, error) {
	return d.local.Sign(ctx, keyRef, data)
}

// Verify delegates to the backing LocalKMS.
func (d *KMS) Verify(ctx context.Context, keyRef string, data, signature []byte) (bool, error) {
	return d.local.Verify(ctx, keyRef, data, signature)
}

// Encrypt delegates to the backing LocalKMS.
func (d *KMS) Encrypt(ctx context.Context, keyRef string, plaintext, aad []byte) ([]byte, error) {
	return d.local.Encrypt(ctx, keyRef, plaintext, aad)
}

// Decrypt delegates to the backing LocalKMS.
func (d *KMS) Decrypt(ctx context.Context, keyRef string, ciphertext, aad []byte) ([]byte, error) {
	return d.local.Decrypt(ctx, keyRef, ciphertext, aad)
}

// DeriveBits delegates to the backing LocalKMS.
func (d *KMS) DeriveBits(ctx context.Context, keyRef string, publicKey *jwk.JWK) ([]byte, error) {
	return d.local.DeriveBits(ctx, keyRef, publicKey)
}
