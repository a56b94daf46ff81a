/*
Copyright TBD54566975 Contributors.

SPDX-License-Identifier: Apache-2.0
*/

package jwk

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestComputeThumbprint(t *testing.T) {
	t.Run("Ed25519 RFC 8037 appendix A.3 vector", func(t *testing.T) {
		key := &JWK{
			Kty: KtyOKP,
			Crv: "Ed25519",
			X:   "11qYAYKxCrfVS_7TyWQHOg7hcvPapiMlrwIaaPcHURo",
		}

		thumbprint, err := key.ComputeThumbprint()
		require.NoError(t, err)
		require.Equal(t, "kPrK_qmxVWaYVA9wwBF6Iuo3vVzz7TxHCTwXBygrS4k", thumbprint)
	})

	t.Run("private members do not contribute", func(t *testing.T) {
		public := &JWK{Kty: KtyOKP, Crv: "Ed25519", X: "11qYAYKxCrfVS_7TyWQHOg7hcvPapiMlrwIaaPcHURo"}
		private := &JWK{
			Kty: KtyOKP,
			Crv: "Ed25519",
			X:   "11qYAYKxCrfVS_7TyWQHOg7hcvPapiMlrwIaaPcHURo",
			D:   "nWGxne_9WmC6hEr0kuwsxERJxWl7MmkZcDusAxyuf2A",
		}

		publicPrint, err := public.ComputeThumbprint()
		require.NoError(t, err)

		privatePrint, err := private.ComputeThumbprint()
		require.NoError(t, err)

		require.Equal(t, publicPrint, privatePrint)
	})

	t.Run("missing required members", func(t *testing.T) {
		tests := []struct {
			name string
			key  *JWK
		}{
			{name: "EC without coordinates", key: &JWK{Kty: KtyEC, Crv: "P-256"}},
			{name: "OKP without x", key: &JWK{Kty: KtyOKP, Crv: "Ed25519"}},
			{name: "oct without k", key: &JWK{Kty: KtyOct}},
			{name: "unknown kty", key: &JWK{Kty: "RSA"}},
		}

		for _, tc := range tests {
			t.Run(tc.name, func(t *testing.T) {
				_, err := tc.key.ComputeThumbprint()
				require.ErrorIs(t, err, ErrInvalidKey)
			})
		}
	})
}

func TestIsPrivate(t *testing.T) {
	require.True(t, (&JWK{Kty: KtyOKP, Crv: "Ed25519", X: "x", D: "d"}).IsPrivate())
	require.False(t, (&JWK{Kty: KtyOKP, Crv: "Ed25519", X: "x"}).IsPrivate())
	require.True(t, (&JWK{Kty: KtyOct, K: "k"}).IsPrivate())
	require.False(t, (&JWK{Kty: KtyOct}).IsPrivate())
}

func TestPublicKey(t *testing.T) {
	t.Run("strips private members", func(t *testing.T) {
		key := &JWK{Kty: KtyOKP, Crv: "Ed25519", X: "x", D: "d", Kid: "kid"}

		public, err := key.PublicKey()
		require.NoError(t, err)
		require.Empty(t, public.D)
		require.Equal(t, key.X, public.X)
		require.Equal(t, key.Kid, public.Kid)

		// The original is untouched.
		require.Equal(t, "d", key.D)
	})

	t.Run("oct keys have no public form", func(t *testing.T) {
		_, err := (&JWK{Kty: KtyOct, K: "k"}).PublicKey()
		require.ErrorIs(t, err, ErrInvalidKey)
	})
}

func TestEncodeDecodeBytes(t *testing.T) {
	material := []byte{0, 1, 2, 253, 254, 255}

	encoded := EncodeBytes(material)
	require.NotContains(t, encoded, "=")

	decoded, err := DecodeBytes(encoded)
	require.NoError(t, err)
	require.Equal(t, material, decoded)

	_, err = DecodeBytes("not!!base64url")
	require.ErrorIs(t, err, ErrInvalidKey)
}
