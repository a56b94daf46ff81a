/*
Copyright TBD54566975 Contributors.

SPDX-License-Identifier: Apache-2.0
*/

package vault

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tyler-smith/go-bip39"

	"github.com/tbd54566975/web5-agent-go/pkg/crypto"
	"github.com/tbd54566975/web5-agent-go/pkg/jwk"
)

func TestDeriveVaultKeys(t *testing.T) {
	seed := bip39.NewSeed(testMnemonic, "")

	keys, err := deriveVaultKeys(seed)
	require.NoError(t, err)

	require.Equal(t, jwk.KtyOct, keys.cek.Kty)
	require.Equal(t, crypto.AlgA256GCM, keys.cek.Alg)
	require.Len(t, mustDecode(t, keys.cek.K), 32)
	require.Len(t, keys.unlockSalt, 32)

	require.Equal(t, jwk.KtyOKP, keys.identityKey.Kty)
	require.Equal(t, jwk.KtyOKP, keys.signingKey.Kty)

	// Identity and signing keys walk different paths.
	require.NotEqual(t, keys.identityKey.X, keys.signingKey.X)

	t.Run("same seed derives the same keys", func(t *testing.T) {
		again, err := deriveVaultKeys(seed)
		require.NoError(t, err)

		require.Equal(t, keys.cek.K, again.cek.K)
		require.Equal(t, keys.unlockSalt, again.unlockSalt)
		require.Equal(t, keys.identityKey.D, again.identityKey.D)
		require.Equal(t, keys.signingKey.D, again.signingKey.D)
	})

	t.Run("different seed derives different keys", func(t *testing.T) {
		other, err := deriveVaultKeys(bip39.NewSeed(testMnemonic, "extra-word"))
		require.NoError(t, err)

		require.NotEqual(t, keys.cek.K, other.cek.K)
		require.NotEqual(t, keys.unlockSalt, other.unlockSalt)
	})
}

func mustDecode(t *testing.T, member string) []byte {
	t.Helper()

	raw, err := jwk.DecodeBytes(member)
	require.NoError(t, err)

	return raw
}
