/*
Copyright TBD54566975 Contributors.

SPDX-License-Identifier: Apache-2.0
*/

package crypto

import (
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"math/big"

	"github.com/tbd54566975/web5-agent-go/pkg/jwk"
)

const secp256r1CoordSize = 32

// secp256r1Alg implements ECDSA over NIST P-256 (ES256). Messages are digested
// with SHA-256 and signatures are serialized in the 64-byte R||S form.
type secp256r1Alg struct{}

// GenerateKey generates a new P-256 private JWK.
func (secp256r1Alg) GenerateKey() (*jwk.JWK, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate p-256 key: %w", err)
	}

	return secp256r1JWKFromPrivate(priv)
}

// Sign signs data with the given private JWK.
func (secp256r1Alg) Sign(key *jwk.JWK, data []byte) ([]byte, error) {
	priv, err := secp256r1PrivateFromJWK(key)
	if err != nil {
		return nil, err
	}

	digest := sha256.Sum256(data)

	r, s, err := ecdsa.Sign(rand.Reader, priv, digest[:])
	if err != nil {
		return nil, fmt.Errorf("p-256 sign: %w", err)
	}

	out := make([]byte, 2*secp256r1CoordSize)
	r.FillBytes(out[:secp256r1CoordSize])
	s.FillBytes(out[secp256r1CoordSize:])

	return out, nil
}

// Verify verifies an R||S signature over data with the given public JWK.
func (secp256r1Alg) Verify(key *jwk.JWK, data, signature []byte) (bool, error) {
	if len(signature) != 2*secp256r1CoordSize {
		return false, nil
	}

	pub, err := secp256r1PublicFromJWK(key)
	if err != nil {
		return false, err
	}

	digest := sha256.Sum256(data)

	r := new(big.Int).SetBytes(signature[:secp256r1CoordSize])
	s := new(big.Int).SetBytes(signature[secp256r1CoordSize:])

	return ecdsa.Verify(pub, digest[:], r, s), nil
}

// DeriveBits computes the ECDH shared secret between a private JWK and another
// party's public JWK.
func (secp256r1Alg) DeriveBits(privateKey, publicKey *jwk.JWK) ([]byte, error) {
	d, err := secp256r1Alg{}.PrivateKeyToBytes(privateKey)
	if err != nil {
		return nil, err
	}

	pubBytes, err := secp256r1Alg{}.PublicKeyToBytes(publicKey)
	if err != nil {
		return nil, err
	}

	ecdhPriv, err := ecdh.P256().NewPrivateKey(d)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", jwk.ErrInvalidKey, err)
	}

	ecdhPub, err := ecdh.P256().NewPublicKey(pubBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", jwk.ErrInvalidKey, err)
	}

	secret, err := ecdhPriv.ECDH(ecdhPub)
	if err != nil {
		return nil, fmt.Errorf("p-256 ecdh: %w", err)
	}

	return secret, nil
}

// BytesToPrivateKey converts a 32-byte P-256 scalar into a private JWK.
func (secp256r1Alg) BytesToPrivateKey(material []byte) (*jwk.JWK, error) {
	if len(material) != secp256r1CoordSize {
		return nil, fmt.Errorf("%w: p-256 private key must be %d bytes",
			jwk.ErrInvalidKey, secp256r1CoordSize)
	}

	curve := elliptic.P256()

	d := new(big.Int).SetBytes(material)
	if d.Sign() == 0 || d.Cmp(curve.Params().N) >= 0 {
		return nil, fmt.Errorf("%w: scalar out of range", jwk.ErrInvalidKey)
	}

	priv := new(ecdsa.PrivateKey)
	priv.Curve = curve
	priv.D = d
	priv.X, priv.Y = curve.ScalarBaseMult(material)

	return secp256r1JWKFromPrivate(priv)
}

// BytesToPublicKey converts an uncompressed SEC1 encoded public key into a
// public JWK.
func (secp256r1Alg) BytesToPublicKey(material []byte) (*jwk.JWK, error) {
	x, y := elliptic.Unmarshal(elliptic.P256(), material)
	if x == nil {
		return nil, fmt.Errorf("%w: malformed p-256 public key", jwk.ErrInvalidKey)
	}

	key := &jwk.JWK{
		Kty: jwk.KtyEC,
		Crv: "P-256",
		X:   base64.RawURLEncoding.EncodeToString(padCoord(x, secp256r1CoordSize)),
		Y:   base64.RawURLEncoding.EncodeToString(padCoord(y, secp256r1CoordSize)),
	}

	kid, err := key.ComputeThumbprint()
	if err != nil {
		return nil, err
	}

	key.Kid = kid

	return key, nil
}

// PrivateKeyToBytes returns the 32-byte scalar of a P-256 private JWK.
func (secp256r1Alg) PrivateKeyToBytes(key *jwk.JWK) ([]byte, error) {
	if key == nil || key.D == "" {
		return nil, fmt.Errorf("%w: missing d", jwk.ErrInvalidKey)
	}

	d, err := base64.RawURLEncoding.DecodeString(key.D)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", jwk.ErrInvalidKey, err)
	}

	if len(d) != secp256r1CoordSize {
		return nil, fmt.Errorf("%w: bad scalar length %d", jwk.ErrInvalidKey, len(d))
	}

	return d, nil
}

// PublicKeyToBytes returns the 65-byte uncompressed SEC1 encoding of a P-256 JWK.
func (secp256r1Alg) PublicKeyToBytes(key *jwk.JWK) ([]byte, error) {
	pub, err := secp256r1PublicFromJWK(key)
	if err != nil {
		return nil, err
	}

	return elliptic.Marshal(elliptic.P256(), pub.X, pub.Y), nil
}

func secp256r1JWKFromPrivate(priv *ecdsa.PrivateKey) (*jwk.JWK, error) {
	key := &jwk.JWK{
		Kty: jwk.KtyEC,
		Crv: "P-256",
		D:   base64.RawURLEncoding.EncodeToString(padCoord(priv.D, secp256r1CoordSize)),
		X:   base64.RawURLEncoding.EncodeToString(padCoord(priv.X, secp256r1CoordSize)),
		Y:   base64.RawURLEncoding.EncodeToString(padCoord(priv.Y, secp256r1CoordSize)),
	}

	kid, err := key.ComputeThumbprint()
	if err != nil {
		return nil, err
	}

	key.Kid = kid

	return key, nil
}

func secp256r1PrivateFromJWK(key *jwk.JWK) (*ecdsa.PrivateKey, error) {
	d, err := secp256r1Alg{}.PrivateKeyToBytes(key)
	if err != nil {
		return nil, err
	}

	priv := new(ecdsa.PrivateKey)
	priv.Curve = elliptic.P256()
	priv.D = new(big.Int).SetBytes(d)
	priv.X, priv.Y = priv.Curve.ScalarBaseMult(d)

	return priv, nil
}

func secp256r1PublicFromJWK(key *jwk.JWK) (*ecdsa.PublicKey, error) {
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

	return &ecdsa.PublicKey{
		Curve: elliptic.P256(),
		X:     new(big.Int).SetBytes(x),
		Y:     new(big.Int).SetBytes(y),
	}, nil
}
