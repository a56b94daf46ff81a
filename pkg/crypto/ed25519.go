/*
Copyright TBD54566975 Contributors.

SPDX-License-Identifier: Apache-2.0
*/

package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/tbd54566975/web5-agent-go/pkg/jwk"
)

// ed25519Alg implements Signer, Verifier, KeyGenerator and KeyConverter for the
// Ed25519 signature scheme (https://tools.ietf.org/html/rfc8032). Private key
// material is represented by the 32-byte seed.
type ed25519Alg struct{}

// GenerateKey generates a new Ed25519 private JWK with its kid set to the JWK
// thumbprint.
func (ed25519Alg) GenerateKey() (*jwk.JWK, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ed25519 key: %w", err)
	}

	return ed25519Alg{}.BytesToPrivateKey(priv.Seed())
}

// Sign signs data with the given private JWK and returns the 64-byte signature.
func (ed25519Alg) Sign(key *jwk.JWK, data []byte) ([]byte, error) {
	priv, err := ed25519PrivateFromJWK(key)
	if err != nil {
		return nil, err
	}

	return ed25519.Sign(priv, data), nil
}

// Verify verifies an Ed25519 signature over data with the given public JWK.
func (ed25519Alg) Verify(key *jwk.JWK, data, signature []byte) (bool, error) {
	pub, err := ed25519PublicFromJWK(key)
	if err != nil {
		return false, err
	}

	return ed25519.Verify(pub, data, signature), nil
}

// BytesToPrivateKey converts a 32-byte Ed25519 seed into a private JWK.
func (ed25519Alg) BytesToPrivateKey(material []byte) (*jwk.JWK, error) {
	if len(material) != ed25519.SeedSize && len(material) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("%w: ed25519 private key must be %d or %d bytes",
			jwk.ErrInvalidKey, ed25519.SeedSize, ed25519.PrivateKeySize)
	}

	seed := material
	if len(material) == ed25519.PrivateKeySize {
		seed = material[:ed25519.SeedSize]
	}

	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)

	key := &jwk.JWK{
		Kty: jwk.KtyOKP,
		Crv: "Ed25519",
		D:   base64.RawURLEncoding.EncodeToString(seed),
		X:   base64.RawURLEncoding.EncodeToString(pub),
	}

	kid, err := key.ComputeThumbprint()
	if err != nil {
		return nil, err
	}

	key.Kid = kid

	return key, nil
}

// BytesToPublicKey converts a 32-byte Ed25519 public key into a public JWK.
func (ed25519Alg) BytesToPublicKey(material []byte) (*jwk.JWK, error) {
	if len(material) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: ed25519 public key must be %d bytes",
			jwk.ErrInvalidKey, ed25519.PublicKeySize)
	}

	key := &jwk.JWK{
		Kty: jwk.KtyOKP,
		Crv: "Ed25519",
		X:   base64.RawURLEncoding.EncodeToString(material),
	}

	kid, err := key.ComputeThumbprint()
	if err != nil {
		return nil, err
	}

	key.Kid = kid

	return key, nil
}

// PrivateKeyToBytes returns the 32-byte seed of an Ed25519 private JWK.
func (ed25519Alg) PrivateKeyToBytes(key *jwk.JWK) ([]byte, error) {
	if key == nil || key.D == "" {
		return nil, fmt.Errorf("%w: missing d", jwk.ErrInvalidKey)
	}

	seed, err := base64.RawURLEncoding.DecodeString(key.D)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", jwk.ErrInvalidKey, err)
	}

	return seed, nil
}

// PublicKeyToBytes returns the 32-byte public key of an Ed25519 JWK.
func (ed25519Alg) PublicKeyToBytes(key *jwk.JWK) ([]byte, error) {
	if key == nil || key.X == "" {
		return nil, fmt.Errorf("%w: missing x", jwk.ErrInvalidKey)
	}

	pub, err := base64.RawURLEncoding.DecodeString(key.X)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", jwk.ErrInvalidKey, err)
	}

	return pub, nil
}

func ed25519PrivateFromJWK(key *jwk.JWK) (ed25519.PrivateKey, error) {
	seed, err := ed25519Alg{}.PrivateKeyToBytes(key)
	if err != nil {
		return nil, err
	}

	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("%w: bad seed length %d", jwk.ErrInvalidKey, len(seed))
	}

	return ed25519.NewKeyFromSeed(seed), nil
}

func ed25519PublicFromJWK(key *jwk.JWK) (ed25519.PublicKey, error) {
	pub, err := ed25519Alg{}.PublicKeyToBytes(key)
	if err != nil {
		return nil, err
	}

	if len(pub) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: bad public key length %d", jwk.ErrInvalidKey, len(pub))
	}

	return ed25519.PublicKey(pub), nil
}
