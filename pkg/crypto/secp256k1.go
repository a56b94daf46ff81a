/*
Copyright TBD54566975 Contributors.

SPDX-License-Identifier: Apache-2.0
*/

package crypto

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"math/big"

	"github.com/btcsuite/btcd/btcec"

	"github.com/tbd54566975/web5-agent-go/pkg/jwk"
)

const secp256k1CoordSize = 32

// secp256k1Alg implements ECDSA over the secp256k1 curve (ES256K). Messages are
// digested with SHA-256 and signatures are serialized in the 64-byte R||S form.
type secp256k1Alg struct{}

// GenerateKey generates a new secp256k1 private JWK.
func (secp256k1Alg) GenerateKey() (*jwk.JWK, error) {
	priv, err := btcec.NewPrivateKey(btcec.S256())
	if err != nil {
		return nil, fmt.Errorf("generate secp256k1 key: %w", err)
	}

	return secp256k1JWKFromPrivate(priv)
}

// Sign signs data with the given private JWK.
func (secp256k1Alg) Sign(key *jwk.JWK, data []byte) ([]byte, error) {
	d, err := secp256k1Alg{}.PrivateKeyToBytes(key)
	if err != nil {
		return nil, err
	}

	priv, _ := btcec.PrivKeyFromBytes(btcec.S256(), d)

	digest := sha256.Sum256(data)

	sig, err := priv.Sign(digest[:])
	if err != nil {
		return nil, fmt.Errorf("secp256k1 sign: %w", err)
	}

	out := make([]byte, 2*secp256k1CoordSize)
	sig.R.FillBytes(out[:secp256k1CoordSize])
	sig.S.FillBytes(out[secp256k1CoordSize:])

	return out, nil
}

// Verify verifies an R||S signature over data with the given public JWK.
func (secp256k1Alg) Verify(key *jwk.JWK, data, signature []byte) (bool, error) {
	if len(signature) != 2*secp256k1CoordSize {
		return false, nil
	}

	compressed, err := secp256k1Alg{}.PublicKeyToBytes(key)
	if err != nil {
		return false, err
	}

	pub, err := btcec.ParsePubKey(compressed, btcec.S256())
	if err != nil {
		return false, fmt.Errorf("%w: %v", jwk.ErrInvalidKey, err)
	}

	sig := &btcec.Signature{
		R: new(big.Int).SetBytes(signature[:secp256k1CoordSize]),
		S: new(big.Int).SetBytes(signature[secp256k1CoordSize:]),
	}

	digest := sha256.Sum256(data)

	return sig.Verify(digest[:], pub), nil
}

// DeriveBits computes the ECDH shared secret between a private JWK and another
// party's public JWK.
func (secp256k1Alg) DeriveBits(privateKey, publicKey *jwk.JWK) ([]byte, error) {
	d, err := secp256k1Alg{}.PrivateKeyToBytes(privateKey)
	if err != nil {
		return nil, err
	}

	compressed, err := secp256k1Alg{}.PublicKeyToBytes(publicKey)
	if err != nil {
		return nil, err
	}

	priv, _ := btcec.PrivKeyFromBytes(btcec.S256(), d)

	pub, err := btcec.ParsePubKey(compressed, btcec.S256())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", jwk.ErrInvalidKey, err)
	}

	return btcec.GenerateSharedSecret(priv, pub), nil
}

// BytesToPrivateKey converts a 32-byte secp256k1 scalar into a private JWK.
func (secp256k1Alg) BytesToPrivateKey(material []byte) (*jwk.JWK, error) {
	if len(material) != secp256k1CoordSize {
		return nil, fmt.Errorf("%w: secp256k1 private key must be %d bytes",
			jwk.ErrInvalidKey, secp256k1CoordSize)
	}

	priv, _ := btcec.PrivKeyFromBytes(btcec.S256(), material)

	return secp256k1JWKFromPrivate(priv)
}

// BytesToPublicKey converts a SEC1 encoded (compressed or uncompressed) public
// key into a public JWK.
func (secp256k1Alg) BytesToPublicKey(material []byte) (*jwk.JWK, error) {
	pub, err := btcec.ParsePubKey(material, btcec.S256())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", jwk.ErrInvalidKey, err)
	}

	key := &jwk.JWK{
		Kty: jwk.KtyEC,
		Crv: "secp256k1",
		X:   base64.RawURLEncoding.EncodeToString(padCoord(pub.X, secp256k1CoordSize)),
		Y:   base64.RawURLEncoding.EncodeToString(padCoord(pub.Y, secp256k1CoordSize)),
	}

	kid, err := key.ComputeThumbprint()
	if err != nil {
		return nil, err
	}

	key.Kid = kid

	return key, nil
}

// PrivateKeyToBytes returns the 32-byte scalar of a secp256k1 private JWK.
func (secp256k1Alg) PrivateKeyToBytes(key *jwk.JWK) ([]byte, error) {
	if key == nil || key.D == "" {
		return nil, fmt.Errorf("%w: missing d", jwk.ErrInvalidKey)
	}

	d, err := base64.RawURLEncoding.DecodeString(key.D)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", jwk.ErrInvalidKey, err)
	}

	if len(d) != secp256k1CoordSize {
		return nil, fmt.Errorf("%w: bad scalar length %d", jwk.ErrInvalidKey, len(d))
	}

	return d, nil
}

// PublicKeyToBytes returns the 33-byte compressed SEC1 encoding of a secp256k1 JWK.
func (secp256k1Alg) PublicKeyToBytes(key *jwk.JWK) ([]byte, error) {
	if key == nil || key.X == "" || key.Y == "" {
		return nil, fmt.Errorf("%w: missing x or y", jwk.ErrInvalidKey)
	}

	x, err := base64.RawURLEncoding.DecodeString(key.X)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", jwk.ErrInvalidKey, err)
	}

	y, err := base64.RawURLEncoding.DecodeString(key.Y)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", jwk.ErrInvalidKey, err)
	}

	pub := &btcec.PublicKey{
		Curve: btcec.S256(),
		X:     new(big.Int).SetBytes(x),
		Y:     new(big.Int).SetBytes(y),
	}

	return pub.SerializeCompressed(), nil
}

func secp256k1JWKFromPrivate(priv *btcec.PrivateKey) (*jwk.JWK, error) {
	pub := priv.PubKey()

	key := &jwk.JWK{
		Kty: jwk.KtyEC,
		Crv: "secp256k1",
		D:   base64.RawURLEncoding.EncodeToString(priv.Serialize()),
		X:   base64.RawURLEncoding.EncodeToString(padCoord(pub.X, secp256k1CoordSize)),
		Y:   base64.RawURLEncoding.EncodeToString(padCoord(pub.Y, secp256k1CoordSize)),
	}

	kid, err := key.ComputeThumbprint()
	if err != nil {
		return nil, err
	}

	key.Kid = kid

	return key, nil
}

func padCoord(c *big.Int, size int) []byte {
	out := make([]byte, size)
	c.FillBytes(out)

	return out
}
