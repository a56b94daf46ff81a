/*
Copyright TBD54566975 Contributors.

SPDX-License-Identifier: Apache-2.0
*/

package kms_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tbd54566975/web5-agent-go/pkg/crypto"
	"github.com/tbd54566975/web5-agent-go/pkg/kms"
	"github.com/tbd54566975/web5-agent-go/pkg/kms/localkms"
	"github.com/tbd54566975/web5-agent-go/pkg/storage/mem"
)

func newLocal(t *testing.T, name string) *localkms.LocalKMS {
	t.Helper()

	local, err := localkms.New(localkms.Config{Name: name, StorageProvider: mem.NewProvider()})
	require.NoError(t, err)

	return local
}

func TestRegisterKMS(t *testing.T) {
	manager := kms.NewManager()

	require.Error(t, manager.RegisterKMS("", newLocal(t, "local")))
	require.Error(t, manager.RegisterKMS("local", nil))

	require.NoError(t, manager.RegisterKMS("local", newLocal(t, "local")))
	require.NoError(t, manager.RegisterKMS("hsm", newLocal(t, "hsm")))
	require.Equal(t, []string{"hsm", "local"}, manager.KMSNames())
}

func TestGenerateKeySelection(t *testing.T) {
	ctx := context.Background()
	algorithm := crypto.Algorithm{Name: crypto.AlgEd25519}

	t.Run("auto-select with a single backend", func(t *testing.T) {
		manager := kms.NewManager()
		require.NoError(t, manager.RegisterKMS("local", newLocal(t, "local")))

		managed, err := manager.GenerateKey(ctx, algorithm)
		require.NoError(t, err)
		require.NotNil(t, managed)
	})

	t.Run("no backends", func(t *testing.T) {
		manager := kms.NewManager()

		_, err := manager.GenerateKey(ctx, algorithm)
		require.ErrorIs(t, err, kms.ErrUnknownKMS)
	})

	t.Run("multiple backends require an explicit name", func(t *testing.T) {
		manager := kms.NewManager()
		require.NoError(t, manager.RegisterKMS("a", newLocal(t, "a")))
		require.NoError(t, manager.RegisterKMS("b", newLocal(t, "b")))

		_, err := manager.GenerateKey(ctx, algorithm)
		require.ErrorIs(t, err, kms.ErrUnknownKMS)

		managed, err := manager.GenerateKey(ctx, algorithm, kms.WithKMS("b"))
		require.NoError(t, err)
		require.Equal(t, "b", managed.(*kms.ManagedKeyPair).PrivateKey.KMS)
	})

	t.Run("unknown backend name", func(t *testing.T) {
		manager := kms.NewManager()
		require.NoError(t, manager.RegisterKMS("local", newLocal(t, "local")))

		_, err := manager.GenerateKey(ctx, algorithm, kms.WithKMS("aws"))
		require.ErrorIs(t, err, kms.ErrUnknownKMS)
	})
}

func TestRouting(t *testing.T) {
	ctx := context.Background()
	algorithm := crypto.Algorithm{Name: crypto.AlgEd25519}

	manager := kms.NewManager()
	require.NoError(t, manager.RegisterKMS("a", newLocal(t, "a")))
	require.NoError(t, manager.RegisterKMS("b", newLocal(t, "b")))

	managed, err := manager.GenerateKey(ctx, algorithm, kms.WithKMS("b"))
	require.NoError(t, err)

	id := managed.(*kms.ManagedKeyPair).PrivateKey.ID

	t.Run("getKey resolves across backends", func(t *testing.T) {
		got, err := manager.GetKey(ctx, id)
		require.NoError(t, err)
		require.Equal(t, "b", got.(*kms.ManagedKeyPair).PrivateKey.KMS)
	})

	t.Run("getKey miss is soft", func(t *testing.T) {
		got, err := manager.GetKey(ctx, "no-such-key")
		require.NoError(t, err)
		require.Nil(t, got)
	})

	t.Run("sign and verify route to the owning backend", func(t *testing.T) {
		signature, err := manager.Sign(ctx, id, []byte("data"))
		require.NoError(t, err)

		valid, err := manager.Verify(ctx, id, []byte("data"), signature)
		require.NoError(t, err)
		require.True(t, valid)
	})

	t.Run("crypto ops on an unresolved reference fail hard", func(t *testing.T) {
		_, err := manager.Sign(ctx, "no-such-key", []byte("data"))
		require.ErrorIs(t, err, kms.ErrKeyNotFound)

		_, err = manager.Verify(ctx, "no-such-key", []byte("data"), nil)
		require.ErrorIs(t, err, kms.ErrKeyNotFound)
	})

	t.Run("updateKey miss is soft", func(t *testing.T) {
		alias := "name"

		updated, err := manager.UpdateKey(ctx, "no-such-key", kms.UpdateKeyParams{Alias: &alias})
		require.NoError(t, err)
		require.False(t, updated)
	})

	t.Run("updateKey routes to the owner", func(t *testing.T) {
		alias := "routed-alias"

		updated, err := manager.UpdateKey(ctx, id, kms.UpdateKeyParams{Alias: &alias})
		require.NoError(t, err)
		require.True(t, updated)

		got, err := manager.GetKey(ctx, alias)
		require.NoError(t, err)
		require.NotNil(t, got)
	})

	t.Run("deleteKey", func(t *testing.T) {
		require.NoError(t, manager.DeleteKey(ctx, id))
		require.ErrorIs(t, manager.DeleteKey(ctx, id), kms.ErrKeyNotFound)
	})
}

func TestRoutingSecretOps(t *testing.T) {
	ctx := context.Background()

	manager := kms.NewManager()
	require.NoError(t, manager.RegisterKMS("local", newLocal(t, "local")))

	managed, err := manager.GenerateKey(ctx, crypto.Algorithm{Name: crypto.AlgA256GCM})
	require.NoError(t, err)

	id := managed.(*kms.ManagedKey).ID

	ciphertext, err := manager.Encrypt(ctx, id, []byte("plaintext"), nil)
	require.NoError(t, err)

	decrypted, err := manager.Decrypt(ctx, id, ciphertext, nil)
	require.NoError(t, err)
	require.Equal(t, []byte("plaintext"), decrypted)
}
