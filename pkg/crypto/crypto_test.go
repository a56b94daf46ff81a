/*
Copyright TBD54566975 Contributors.

SPDX-License-Identifier: Apache-2.0
*/

package crypto

import (
	"testing"

	"github.com/google/tink/go/subtle/random"
	"github.com/stretchr/testify/require"

	"github.com/tbd54566975/web5-agent-go/pkg/jwk"
)

func TestRegistryCapabilities(t *testing.T) {
	t.Run("unknown algorithm", func(t *testing.T) {
		_, err := SignerFor("RS256")
		require.ErrorIs(t, err, ErrAlgorithmNotSupported)
	})

	t.Run("missing capability", func(t *testing.T) {
		_, err := SignerFor(AlgSHA256)
		require.ErrorIs(t, err, ErrOperationNotSupported)

		_, err = HasherFor(AlgEd25519)
		require.ErrorIs(t, err, ErrOperationNotSupported)

		_, err = BitsDeriverFor(AlgEd25519)
		require.ErrorIs(t, err, ErrOperationNotSupported)

		_, err = CipherFor(AlgSecp256k1)
		require.ErrorIs(t, err, ErrOperationNotSupported)
	})
}

func TestSignVerify(t *testing.T) {
	data := []byte("message to sign")

	for _, alg := range []string{AlgEd25519, AlgSecp256k1, AlgSecp256r1} {
		t.Run(alg, func(t *testing.T) {
			generator, err := GeneratorFor(alg)
			require.NoError(t, err)

			private, err := generator.GenerateKey()
			require.NoError(t, err)
			require.True(t, private.IsPrivate())
			require.NotEmpty(t, private.Kid)

			signer, err := SignerFor(alg)
			require.NoError(t, err)

			signature, err := signer.Sign(private, data)
			require.NoError(t, err)
			require.Len(t, signature, 64)

			public, err := private.PublicKey()
			require.NoError(t, err)

			verifier, err := VerifierFor(alg)
			require.NoError(t, err)

			valid, err := verifier.Verify(public, data, signature)
			require.NoError(t, err)
			require.True(t, valid)

			valid, err = verifier.Verify(public, []byte("different message"), signature)
			require.NoError(t, err)
			require.False(t, valid)
		})
	}
}

func TestConverterRoundTrip(t *testing.T) {
	for _, alg := range []string{AlgEd25519, AlgSecp256k1, AlgSecp256r1} {
		t.Run(alg, func(t *testing.T) {
			generator, err := GeneratorFor(alg)
			require.NoError(t, err)

			private, err := generator.GenerateKey()
			require.NoError(t, err)

			converter, err := ConverterFor(alg)
			require.NoError(t, err)

			privateBytes, err := converter.PrivateKeyToBytes(private)
			require.NoError(t, err)

			restored, err := converter.BytesToPrivateKey(privateBytes)
			require.NoError(t, err)
			require.Equal(t, private.X, restored.X)
			require.Equal(t, private.D, restored.D)
			require.Equal(t, private.Kid, restored.Kid)

			public, err := private.PublicKey()
			require.NoError(t, err)

			publicBytes, err := converter.PublicKeyToBytes(public)
			require.NoError(t, err)

			restoredPublic, err := converter.BytesToPublicKey(publicBytes)
			require.NoError(t, err)
			require.Equal(t, public.X, restoredPublic.X)
			require.Empty(t, restoredPublic.D)
		})
	}
}

func TestDeriveBits(t *testing.T) {
	for _, alg := range []string{AlgSecp256k1, AlgSecp256r1} {
		t.Run(alg, func(t *testing.T) {
			generator, err := GeneratorFor(alg)
			require.NoError(t, err)

			alicePrivate, err := generator.GenerateKey()
			require.NoError(t, err)

			bobPrivate, err := generator.GenerateKey()
			require.NoError(t, err)

			alicePublic, err := alicePrivate.PublicKey()
			require.NoError(t, err)

			bobPublic, err := bobPrivate.PublicKey()
			require.NoError(t, err)

			deriver, err := BitsDeriverFor(alg)
			require.NoError(t, err)

			aliceShared, err := deriver.DeriveBits(alicePrivate, bobPublic)
			require.NoError(t, err)

			bobShared, err := deriver.DeriveBits(bobPrivate, alicePublic)
			require.NoError(t, err)

			require.Equal(t, aliceShared, bobShared)
			require.Len(t, aliceShared, 32)
		})
	}
}

func TestHasher(t *testing.T) {
	hasher, err := HasherFor(AlgSHA256)
	require.NoError(t, err)

	digest := hasher.Digest([]byte("abc"))
	require.Len(t, digest, 32)
	require.Equal(t, hasher.Digest([]byte("abc")), digest)
	require.NotEqual(t, hasher.Digest([]byte("abd")), digest)
}

func TestCiphers(t *testing.T) {
	plaintext := []byte("super secret payload")
	aad := []byte("context")

	tests := []struct {
		alg     string
		keySize int
	}{
		{alg: AlgA128GCM, keySize: 16},
		{alg: AlgA192GCM, keySize: 24},
		{alg: AlgA256GCM, keySize: 32},
		{alg: AlgXC20P, keySize: 32},
	}

	for _, tc := range tests {
		t.Run(tc.alg, func(t *testing.T) {
			key := random.GetRandomBytes(uint32(tc.keySize))

			cipher, err := CipherFor(tc.alg)
			require.NoError(t, err)

			ciphertext, err := cipher.Encrypt(key, plaintext, aad)
			require.NoError(t, err)
			require.NotEqual(t, plaintext, ciphertext)

			decrypted, err := cipher.Decrypt(key, ciphertext, aad)
			require.NoError(t, err)
			require.Equal(t, plaintext, decrypted)

			_, err = cipher.Decrypt(key, ciphertext, []byte("wrong aad"))
			require.Error(t, err)

			wrongKey := random.GetRandomBytes(uint32(tc.keySize))
			_, err = cipher.Decrypt(wrongKey, ciphertext, aad)
			require.Error(t, err)
		})
	}
}

func TestOctGenerator(t *testing.T) {
	generator, err := GeneratorFor(AlgA256GCM)
	require.NoError(t, err)

	key, err := generator.GenerateKey()
	require.NoError(t, err)
	require.Equal(t, jwk.KtyOct, key.Kty)
	require.Equal(t, AlgA256GCM, key.Alg)
	require.NotEmpty(t, key.Kid)

	material, err := jwk.DecodeBytes(key.K)
	require.NoError(t, err)
	require.Len(t, material, 32)
}

func TestAlgorithmForKey(t *testing.T) {
	tests := []struct {
		name string
		key  *jwk.JWK
		want string
	}{
		{name: "Ed25519", key: &jwk.JWK{Kty: jwk.KtyOKP, Crv: "Ed25519"}, want: AlgEd25519},
		{name: "secp256k1", key: &jwk.JWK{Kty: jwk.KtyEC, Crv: "secp256k1"}, want: AlgSecp256k1},
		{name: "P-256", key: &jwk.JWK{Kty: jwk.KtyEC, Crv: "P-256"}, want: AlgSecp256r1},
		{name: "oct with alg", key: &jwk.JWK{Kty: jwk.KtyOct, Alg: AlgA256GCM}, want: AlgA256GCM},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := AlgorithmForKey(tc.key)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}

	t.Run("unsupported", func(t *testing.T) {
		_, err := AlgorithmForKey(&jwk.JWK{Kty: jwk.KtyEC, Crv: "P-384"})
		require.ErrorIs(t, err, ErrAlgorithmNotSupported)

		_, err = AlgorithmForKey(&jwk.JWK{Kty: jwk.KtyOct})
		require.ErrorIs(t, err, ErrAlgorithmNotSupported)

		_, err = AlgorithmForKey(nil)
		require.ErrorIs(t, err, ErrAlgorithmNotSupported)
	})
}
