/*
Copyright TBD54566975 Contributors.

SPDX-License-Identifier: Apache-2.0
*/

package vault

import (
	"context"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tbd54566975/web5-agent-go/pkg/doc/jose"
	"github.com/tbd54566975/web5-agent-go/pkg/storage"
	"github.com/tbd54566975/web5-agent-go/pkg/storage/mem"
)

// testMnemonic is a fixed valid BIP39 phrase used where determinism matters.
const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

func newVault(t *testing.T, opts ...Option) *HDIdentityVault {
	t.Helper()

	v, err := New(opts...)
	require.NoError(t, err)

	return v
}

func TestGetStatus_ImplicitInitialize(t *testing.T) {
	provider := mem.NewProvider()
	v := newVault(t, WithStorageProvider(provider))

	status, err := v.GetStatus()
	require.NoError(t, err)
	require.False(t, status.Initialized)
	require.True(t, status.Locked)
	require.Nil(t, status.LastBackup)
	require.Nil(t, status.LastRestore)

	// The default record is persisted on first call.
	store, err := provider.OpenStore(storeNamespace)
	require.NoError(t, err)

	_, err = store.Get(storeKeyStatus)
	require.NoError(t, err)
}

func TestInitialize(t *testing.T) {
	ctx := context.Background()

	t.Run("generates a 12-word mnemonic and unlocks", func(t *testing.T) {
		v := newVault(t)

		mnemonic, err := v.Initialize(ctx, "correct-horse", "")
		require.NoError(t, err)
		require.Len(t, strings.Fields(mnemonic), 12)

		status, err := v.GetStatus()
		require.NoError(t, err)
		require.True(t, status.Initialized)
		require.False(t, status.Locked)

		bearer, err := v.GetDID(ctx)
		require.NoError(t, err)
		require.True(t, strings.HasPrefix(bearer.URI, "did:jwk:"))
	})

	t.Run("echoes a supplied mnemonic", func(t *testing.T) {
		v := newVault(t)

		mnemonic, err := v.Initialize(ctx, "passphrase", testMnemonic)
		require.NoError(t, err)
		require.Equal(t, testMnemonic, mnemonic)
	})

	t.Run("rejects blank passphrases", func(t *testing.T) {
		v := newVault(t)

		_, err := v.Initialize(ctx, "   ", "")
		require.Error(t, err)

		status, err := v.GetStatus()
		require.NoError(t, err)
		require.False(t, status.Initialized)
	})

	t.Run("rejects invalid mnemonics", func(t *testing.T) {
		v := newVault(t)

		_, err := v.Initialize(ctx, "passphrase", "not a valid mnemonic phrase at all")
		require.Error(t, err)
	})

	t.Run("rejects double initialization", func(t *testing.T) {
		v := newVault(t)

		_, err := v.Initialize(ctx, "passphrase", "")
		require.NoError(t, err)

		_, err = v.Initialize(ctx, "passphrase", "")
		require.ErrorIs(t, err, ErrAlreadyInitialized)
	})
}

func TestDeterministicDerivation(t *testing.T) {
	ctx := context.Background()

	first := newVault(t)
	_, err := first.Initialize(ctx, "passphrase-one", testMnemonic)
	require.NoError(t, err)

	firstDID, err := first.GetDID(ctx)
	require.NoError(t, err)

	// Same mnemonic, different passphrase, fresh storage: identical identity.
	second := newVault(t)
	_, err = second.Initialize(ctx, "another passphrase entirely", testMnemonic)
	require.NoError(t, err)

	secondDID, err := second.GetDID(ctx)
	require.NoError(t, err)

	require.Equal(t, firstDID.URI, secondDID.URI)
	require.Equal(t, firstDID.Document, secondDID.Document)
}

func TestLockUnlock(t *testing.T) {
	ctx := context.Background()

	v := newVault(t)
	_, err := v.Initialize(ctx, "correct-horse", "")
	require.NoError(t, err)

	t.Run("lock is idempotent", func(t *testing.T) {
		require.NoError(t, v.Lock())
		require.NoError(t, v.Lock())

		status, err := v.GetStatus()
		require.NoError(t, err)
		require.True(t, status.Locked)

		_, err = v.GetDID(ctx)
		require.ErrorIs(t, err, ErrLocked)
	})

	t.Run("wrong passphrase keeps the vault locked and the wrapped key intact", func(t *testing.T) {
		err := v.Unlock("wrong")
		require.ErrorIs(t, err, ErrIncorrectPassphrase)

		status, err := v.GetStatus()
		require.NoError(t, err)
		require.True(t, status.Locked)
	})

	t.Run("correct passphrase unlocks", func(t *testing.T) {
		require.NoError(t, v.Unlock("correct-horse"))

		status, err := v.GetStatus()
		require.NoError(t, err)
		require.False(t, status.Locked)

		_, err = v.GetDID(ctx)
		require.NoError(t, err)
	})

	t.Run("uninitialized vault", func(t *testing.T) {
		fresh := newVault(t)
		require.ErrorIs(t, fresh.Unlock("any"), ErrNotInitialized)
		require.ErrorIs(t, fresh.Lock(), ErrNotInitialized)
	})
}

func TestUnlock_DoesNotMutateWrappedKey(t *testing.T) {
	ctx := context.Background()
	provider := mem.NewProvider()

	v := newVault(t, WithStorageProvider(provider))
	_, err := v.Initialize(ctx, "correct-horse", "")
	require.NoError(t, err)

	store, err := provider.OpenStore(storeNamespace)
	require.NoError(t, err)

	before, err := store.Get(storeKeyCEK)
	require.NoError(t, err)

	require.ErrorIs(t, v.Unlock("wrong"), ErrIncorrectPassphrase)

	after, err := store.Get(storeKeyCEK)
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func TestChangePassword(t *testing.T) {
	ctx := context.Background()

	v := newVault(t)
	_, err := v.Initialize(ctx, "old-passphrase", "")
	require.NoError(t, err)

	originalDID, err := v.GetDID(ctx)
	require.NoError(t, err)

	t.Run("wrong old passphrase locks and fails", func(t *testing.T) {
		err := v.ChangePassword("not-the-old-one", "new-passphrase")
		require.ErrorIs(t, err, ErrIncorrectPassphrase)

		status, err := v.GetStatus()
		require.NoError(t, err)
		require.True(t, status.Locked)
	})

	t.Run("rewraps and unlocks", func(t *testing.T) {
		require.NoError(t, v.ChangePassword("old-passphrase", "new-passphrase"))

		status, err := v.GetStatus()
		require.NoError(t, err)
		require.False(t, status.Locked)

		// The CEK value is unchanged, so the identity decrypts as before.
		bearer, err := v.GetDID(ctx)
		require.NoError(t, err)
		require.Equal(t, originalDID.URI, bearer.URI)

		// Old passphrase no longer unlocks; new one does.
		require.ErrorIs(t, v.Unlock("old-passphrase"), ErrIncorrectPassphrase)
		require.NoError(t, v.Unlock("new-passphrase"))
	})

	t.Run("uninitialized vault", func(t *testing.T) {
		fresh := newVault(t)
		require.ErrorIs(t, fresh.ChangePassword("a", "b"), ErrNotInitialized)
	})
}

func TestChangePassword_RejectsForeignWrapAlgorithm(t *testing.T) {
	ctx := context.Background()
	provider := mem.NewProvider()

	v := newVault(t, WithStorageProvider(provider))
	_, err := v.Initialize(ctx, "passphrase", "")
	require.NoError(t, err)

	// Swap the wrapped CEK for one wrapped under a weaker PBES2 algorithm with
	// the same passphrase. Verification must refuse it outright instead of
	// rewrapping whatever it decrypts to.
	foreign, err := jose.EncryptCompact([]byte(`{"kty":"oct","k":"bm90LWEtcmVhbC1rZXk"}`), jose.Headers{
		jose.HeaderAlgorithm:  jose.AlgPBES2HS256A128KW,
		jose.HeaderEncryption: jose.A256GCM,
		jose.HeaderPBES2Count: 1000,
		jose.HeaderPBES2Salt:  base64.RawURLEncoding.EncodeToString([]byte("0123456789abcdef")),
	}, []byte("passphrase"))
	require.NoError(t, err)

	store, err := provider.OpenStore(storeNamespace)
	require.NoError(t, err)
	require.NoError(t, store.Put(storeKeyCEK, []byte(foreign)))

	require.ErrorIs(t, v.ChangePassword("passphrase", "next"), ErrIncorrectPassphrase)
	require.ErrorIs(t, v.Unlock("passphrase"), ErrIncorrectPassphrase)
}

func TestGetDID(t *testing.T) {
	ctx := context.Background()

	v := newVault(t)

	_, err := v.GetDID(ctx)
	require.ErrorIs(t, err, ErrNotInitialized)

	_, err = v.Initialize(ctx, "correct-horse", "")
	require.NoError(t, err)

	bearer, err := v.GetDID(ctx)
	require.NoError(t, err)
	require.NotNil(t, bearer.KeyManager)
	require.Len(t, bearer.Document.VerificationMethod, 1)

	t.Run("bearer can sign with the identity key", func(t *testing.T) {
		kid := bearer.Document.VerificationMethod[0].PublicKeyJWK.Kid

		signature, err := bearer.KeyManager.Sign(ctx, kid, []byte("data"))
		require.NoError(t, err)

		valid, err := bearer.KeyManager.Verify(ctx, kid, []byte("data"), signature)
		require.NoError(t, err)
		require.True(t, valid)
	})
}

func TestBackupRestore(t *testing.T) {
	ctx := context.Background()

	v := newVault(t)
	_, err := v.Initialize(ctx, "correct-horse", "")
	require.NoError(t, err)

	originalDID, err := v.GetDID(ctx)
	require.NoError(t, err)

	backup, err := v.Backup()
	require.NoError(t, err)
	require.NotEmpty(t, backup.Data)
	require.Equal(t, len(backup.Data), backup.Size)
	require.False(t, backup.DateCreated.IsZero())

	status, err := v.GetStatus()
	require.NoError(t, err)
	require.NotNil(t, status.LastBackup)

	t.Run("locked vault cannot back up", func(t *testing.T) {
		require.NoError(t, v.Lock())

		_, err := v.Backup()
		require.ErrorIs(t, err, ErrLocked)

		require.NoError(t, v.Unlock("correct-horse"))
	})

	t.Run("restore into a fresh vault preserves the identity", func(t *testing.T) {
		restored := newVault(t)

		require.NoError(t, restored.Restore(backup, "correct-horse"))

		status, err := restored.GetStatus()
		require.NoError(t, err)
		require.True(t, status.Initialized)
		require.False(t, status.Locked)
		require.NotNil(t, status.LastRestore)

		bearer, err := restored.GetDID(ctx)
		require.NoError(t, err)
		require.Equal(t, originalDID.URI, bearer.URI)
		require.Equal(t, originalDID.Document, bearer.Document)
	})

	t.Run("restore over the same vault is invariant", func(t *testing.T) {
		require.NoError(t, v.Restore(backup, "correct-horse"))

		bearer, err := v.GetDID(ctx)
		require.NoError(t, err)
		require.Equal(t, originalDID.URI, bearer.URI)
	})
}

func TestRestore_RollbackOnFailure(t *testing.T) {
	ctx := context.Background()
	provider := mem.NewProvider()

	v := newVault(t, WithStorageProvider(provider))
	_, err := v.Initialize(ctx, "correct-horse", "")
	require.NoError(t, err)

	backup, err := v.Backup()
	require.NoError(t, err)

	store, err := provider.OpenStore(storeNamespace)
	require.NoError(t, err)

	beforeDID, err := store.Get(storeKeyDID)
	require.NoError(t, err)

	beforeCEK, err := store.Get(storeKeyCEK)
	require.NoError(t, err)

	t.Run("wrong passphrase rolls back", func(t *testing.T) {
		err := v.Restore(backup, "wrong-passphrase")
		require.ErrorIs(t, err, ErrInvalidBackup)

		afterDID, err := store.Get(storeKeyDID)
		require.NoError(t, err)
		require.Equal(t, beforeDID, afterDID)

		afterCEK, err := store.Get(storeKeyCEK)
		require.NoError(t, err)
		require.Equal(t, beforeCEK, afterCEK)

		// Still recoverable with the real passphrase.
		require.NoError(t, v.Unlock("correct-horse"))
	})

	t.Run("malformed backups fail generically", func(t *testing.T) {
		require.ErrorIs(t, v.Restore(nil, "correct-horse"), ErrInvalidBackup)
		require.ErrorIs(t, v.Restore(&Backup{Data: "!!!"}, "correct-horse"), ErrInvalidBackup)
		require.ErrorIs(t, v.Restore(&Backup{Data: "bm90LWpzb24"}, "correct-horse"), ErrInvalidBackup)
	})

	t.Run("rollback deletes keys that did not exist before", func(t *testing.T) {
		freshProvider := mem.NewProvider()
		fresh := newVault(t, WithStorageProvider(freshProvider))

		err := fresh.Restore(backup, "wrong-passphrase")
		require.ErrorIs(t, err, ErrInvalidBackup)

		freshStore, err := freshProvider.OpenStore(storeNamespace)
		require.NoError(t, err)

		_, err = freshStore.Get(storeKeyCEK)
		require.ErrorIs(t, err, storage.ErrDataNotFound)

		status, err := fresh.GetStatus()
		require.NoError(t, err)
		require.False(t, status.Initialized)
	})
}

func TestScenario_CorrectHorse(t *testing.T) {
	ctx := context.Background()

	v := newVault(t)

	mnemonic, err := v.Initialize(ctx, "correct-horse", "")
	require.NoError(t, err)
	require.Len(t, strings.Fields(mnemonic), 12)

	require.NoError(t, v.Lock())

	require.ErrorIs(t, v.Unlock("wrong"), ErrIncorrectPassphrase)

	status, err := v.GetStatus()
	require.NoError(t, err)
	require.True(t, status.Locked)

	require.NoError(t, v.Unlock("correct-horse"))

	bearer, err := v.GetDID(ctx)
	require.NoError(t, err)

	// Re-initializing from the returned mnemonic with any passphrase rebuilds
	// the same DID.
	rebuilt := newVault(t)
	_, err = rebuilt.Initialize(ctx, "completely different passphrase", mnemonic)
	require.NoError(t, err)

	rebuiltDID, err := rebuilt.GetDID(ctx)
	require.NoError(t, err)
	require.Equal(t, bearer.URI, rebuiltDID.URI)
}
