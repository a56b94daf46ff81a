/*
Copyright TBD54566975 Contributors.

SPDX-License-Identifier: Apache-2.0
*/

// Package crypto provides the digital-signature, digest and key-conversion
// primitives used by the agent's key management services. Concrete algorithm
// implementations are singletons resolved through a registry keyed by algorithm
// name; capability checks happen at lookup time, not via runtime probing.
package crypto

import (
	"errors"
	"fmt"

	"github.com/tbd54566975/web5-agent-go/pkg/jwk"
)

var (
	// ErrAlgorithmNotSupported is returned when an algorithm or key type is not
	// recognized by the registry or a converter.
	ErrAlgorithmNotSupported = errors.New("algorithm not supported")

	// ErrOperationNotSupported is returned when an algorithm implementation lacks
	// the requested capability.
	ErrOperationNotSupported = errors.New("operation not supported")
)

// Algorithm identifies a cryptographic algorithm along with its optional curve
// or key length parameters.
type Algorithm struct {
	Name   string `json:"name"`
	Curve  string `json:"curve,omitempty"`
	Length int    `json:"length,omitempty"`
}

// Registered algorithm names.
const (
	AlgEd25519   = "Ed25519"
	AlgSecp256k1 = "ES256K"
	AlgSecp256r1 = "ES256"
	AlgSHA256    = "SHA-256"
	AlgA128GCM   = "A128GCM"
	AlgA192GCM   = "A192GCM"
	AlgA256GCM   = "A256GCM"
	AlgXC20P     = "XC20P"
)

// Signer signs data with a private JWK.
type Signer interface {
	Sign(key *jwk.JWK, data []byte) ([]byte, error)
}

// Verifier verifies a signature over data with a public JWK.
type Verifier interface {
	Verify(key *jwk.JWK, data, signature []byte) (bool, error)
}

// KeyGenerator generates a new private JWK.
type KeyGenerator interface {
	GenerateKey() (*jwk.JWK, error)
}

// KeyConverter converts between opaque key-material byte arrays and JWKs.
type KeyConverter interface {
	BytesToPrivateKey(material []byte) (*jwk.JWK, error)
	BytesToPublicKey(material []byte) (*jwk.JWK, error)
	PrivateKeyToBytes(key *jwk.JWK) ([]byte, error)
	PublicKeyToBytes(key *jwk.JWK) ([]byte, error)
}

// BitsDeriver derives shared secret bits from a private key and another party's
// public key (ECDH).
type BitsDeriver interface {
	DeriveBits(privateKey, publicKey *jwk.JWK) ([]byte, error)
}

// Hasher computes a message digest.
type Hasher interface {
	Digest(data []byte) []byte
}

// Cipher performs authenticated encryption with a symmetric key. Implementations
// prepend the nonce to the returned ciphertext.
type Cipher interface {
	Encrypt(key, plaintext, aad []byte) ([]byte, error)
	Decrypt(key, ciphertext, aad []byte) ([]byte, error)
}

// entry holds the capability set of one registered algorithm. A nil field means
// the capability is not supported.
type entry struct {
	signer    Signer
	verifier  Verifier
	generator KeyGenerator
	converter KeyConverter
	deriver   BitsDeriver
	hasher    Hasher
	cipher    Cipher
}

// registry maps algorithm name to its singleton implementation. Resolved once at
// package initialization.
var registry = map[string]*entry{
	AlgEd25519: {
		signer:    ed25519Alg{},
		verifier:  ed25519Alg{},
		generator: ed25519Alg{},
		converter: ed25519Alg{},
	},
	AlgSecp256k1: {
		signer:    secp256k1Alg{},
		verifier:  secp256k1Alg{},
		generator: secp256k1Alg{},
		converter: secp256k1Alg{},
		deriver:   secp256k1Alg{},
	},
	AlgSecp256r1: {
		signer:    secp256r1Alg{},
		verifier:  secp256r1Alg{},
		generator: secp256r1Alg{},
		converter: secp256r1Alg{},
		deriver:   secp256r1Alg{},
	},
	AlgSHA256: {
		hasher: sha256Alg{},
	},
	AlgA128GCM: {
		generator: octGenerator{size: 16, alg: AlgA128GCM},
		cipher:    aesGCMCipher{keySize: 16},
	},
	AlgA192GCM: {
		generator: octGenerator{size: 24, alg: AlgA192GCM},
		cipher:    aesGCMCipher{keySize: 24},
	},
	AlgA256GCM: {
		generator: octGenerator{size: 32, alg: AlgA256GCM},
		cipher:    aesGCMCipher{keySize: 32},
	},
	AlgXC20P: {
		generator: octGenerator{size: 32, alg: AlgXC20P},
		cipher:    xc20pCipher{},
	},
}

func lookup(name string) (*entry, error) {
	e, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAlgorithmNotSupported, name)
	}

	return e, nil
}

// SignerFor returns the Signer registered under the given algorithm name.
func SignerFor(name string) (Signer, error) {
	e, err := lookup(name)
	if err != nil {
		return nil, err
	}

	if e.signer == nil {
		return nil, fmt.Errorf("%w: %s does not sign", ErrOperationNotSupported, name)
	}

	return e.signer, nil
}

// VerifierFor returns the Verifier registered under the given algorithm name.
func VerifierFor(name string) (Verifier, error) {
	e, err := lookup(name)
	if err != nil {
		return nil, err
	}

	if e.verifier == nil {
		return nil, fmt.Errorf("%w: %s does not verify", ErrOperationNotSupported, name)
	}

	return e.verifier, nil
}

// GeneratorFor returns the KeyGenerator registered under the given algorithm name.
func GeneratorFor(name string) (KeyGenerator, error) {
	e, err := lookup(name)
	if err != nil {
		return nil, err
	}

	if e.generator == nil {
		return nil, fmt.Errorf("%w: %s does not generate keys", ErrOperationNotSupported, name)
	}

	return e.generator, nil
}

// ConverterFor returns the KeyConverter registered under the given algorithm name.
func ConverterFor(name string) (KeyConverter, error) {
	e, err := lookup(name)
	if err != nil {
		return nil, err
	}

	if e.converter == nil {
		return nil, fmt.Errorf("%w: %s has no key converter", ErrOperationNotSupported, name)
	}

	return e.converter, nil
}

// BitsDeriverFor returns the BitsDeriver registered under the given algorithm name.
func BitsDeriverFor(name string) (BitsDeriver, error) {
	e, err := lookup(name)
	if err != nil {
		return nil, err
	}

	if e.deriver == nil {
		return nil, fmt.Errorf("%w: %s does not derive bits", ErrOperationNotSupported, name)
	}

	return e.deriver, nil
}

// HasherFor returns the Hasher registered under the given algorithm name.
func HasherFor(name string) (Hasher, error) {
	e, err := lookup(name)
	if err != nil {
		return nil, err
	}

	if e.hasher == nil {
		return nil, fmt.Errorf("%w: %s is not a digest algorithm", ErrOperationNotSupported, name)
	}

	return e.hasher, nil
}

// CipherFor returns the Cipher registered under the given algorithm name.
func CipherFor(name string) (Cipher, error) {
	e, err := lookup(name)
	if err != nil {
		return nil, err
	}

	if e.cipher == nil {
		return nil, fmt.Errorf("%w: %s is not an AEAD algorithm", ErrOperationNotSupported, name)
	}

	return e.cipher, nil
}

// AlgorithmForKey determines the registered algorithm name for a JWK based on its
// key type and curve (or alg member for symmetric keys).
func AlgorithmForKey(key *jwk.JWK) (string, error) {
	if key == nil {
		return "", fmt.Errorf("%w: key is nil", ErrAlgorithmNotSupported)
	}

	switch key.Kty {
	case jwk.KtyOKP:
		if key.Crv == "Ed25519" {
			return AlgEd25519, nil
		}
	case jwk.KtyEC:
		switch key.Crv {
		case "secp256k1":
			return AlgSecp256k1, nil
		case "P-256":
			return AlgSecp256r1, nil
		}
	case jwk.KtyOct:
		if key.Alg != "" {
			if _, ok := registry[key.Alg]; ok {
				return key.Alg, nil
			}
		}
	}

	return "", fmt.Errorf("%w: kty=%s crv=%s", ErrAlgorithmNotSupported, key.Kty, key.Crv)
}
