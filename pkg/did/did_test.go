/*
Copyright TBD54566975 Contributors.

SPDX-License-Identifier: Apache-2.0
*/

package did

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tbd54566975/web5-agent-go/pkg/crypto"
	"github.com/tbd54566975/web5-agent-go/pkg/jwk"
)

func TestParse(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		parsed, err := Parse("did:example:123456")
		require.NoError(t, err)
		require.Equal(t, "did:example:123456", parsed.URI)
		require.Equal(t, "example", parsed.Method)
		require.Equal(t, "123456", parsed.ID)
	})

	t.Run("method-specific id may contain colons", func(t *testing.T) {
		parsed, err := Parse("did:web:example.com:user:alice")
		require.NoError(t, err)
		require.Equal(t, "web", parsed.Method)
		require.Equal(t, "example.com:user:alice", parsed.ID)
	})

	t.Run("invalid", func(t *testing.T) {
		for _, uri := range []string{"", "did", "did:", "did:example", "did:example:", "did::id", "example:method:id"} {
			_, err := Parse(uri)
			require.ErrorIs(t, err, ErrInvalidDID, uri)
		}
	})
}

func TestFromPortableDID(t *testing.T) {
	generator, err := crypto.GeneratorFor(crypto.AlgEd25519)
	require.NoError(t, err)

	private, err := generator.GenerateKey()
	require.NoError(t, err)

	portable := PortableDID{
		URI:         "did:example:alice",
		Document:    Document{ID: "did:example:alice"},
		PrivateKeys: []jwk.JWK{*private},
	}

	bearer, err := FromPortableDID(portable)
	require.NoError(t, err)
	require.Equal(t, "did:example:alice", bearer.URI)
	require.Equal(t, "example", bearer.Method)
	require.NotNil(t, bearer.KeyManager)

	t.Run("imported keys resolve by thumbprint and sign", func(t *testing.T) {
		ctx := context.Background()

		signature, err := bearer.KeyManager.Sign(ctx, private.Kid, []byte("data"))
		require.NoError(t, err)

		valid, err := bearer.KeyManager.Verify(ctx, private.Kid, []byte("data"), signature)
		require.NoError(t, err)
		require.True(t, valid)
	})

	t.Run("invalid URI", func(t *testing.T) {
		_, err := FromPortableDID(PortableDID{URI: "not-a-did"})
		require.ErrorIs(t, err, ErrInvalidDID)
	})
}
