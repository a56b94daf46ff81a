/*
Copyright TBD54566975 Contributors.

SPDX-License-Identifier: Apache-2.0
*/

package vault

import (
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcutil/hdkeychain"
	"golang.org/x/crypto/hkdf"

	"github.com/tbd54566975/web5-agent-go/pkg/crypto"
	"github.com/tbd54566975/web5-agent-go/pkg/jwk"
)

// accountEpoch seeds the account segment of the identity and signing key
// derivation paths. It is a fixed constant, never wall-clock time: re-deriving
// from the same mnemonic must always walk the same paths, and changing this
// value silently breaks recovery of every vault derived with it.
const accountEpoch = 1708523827

// HKDF info strings binding derived secrets to their purpose.
const (
	cekInfo        = "vault_cek"
	unlockSaltInfo = "vault_unlock_salt"
)

// Fixed hardened derivation paths.
var (
	vaultKeyPath    = []uint32{44, 0, 0, 0, 0}
	identityKeyPath = []uint32{44, 0, accountEpoch, 0, 0}
	signingKeyPath  = []uint32{44, 0, accountEpoch, 0, 1}
)

// vaultKeys is the full set of secrets derived from one mnemonic. Everything in
// here is reproducible from the mnemonic alone.
type vaultKeys struct {
	// cek is the content encryption key as an A256GCM oct JWK.
	cek *jwk.JWK

	// unlockSalt is the PBES2 salt input for the passphrase wrap, derived from
	// the vault public key so it is stable but not secret.
	unlockSalt []byte

	// identityKey and signingKey are Ed25519 private JWKs seeded from HD child
	// key entropy.
	identityKey *jwk.JWK
	signingKey  *jwk.JWK
}

// deriveVaultKeys derives all vault secrets from a validated mnemonic:
// mnemonic -> seed -> HD master -> vault/identity/signing children, with the
// CEK and unlock salt expanded from the vault child via HKDF-SHA256.
func deriveVaultKeys(seed []byte) (*vaultKeys, error) {
	master, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, fmt.Errorf("derive HD master key: %w", err)
	}

	vaultChild, err := deriveHardened(master, vaultKeyPath)
	if err != nil {
		return nil, err
	}

	vaultPriv, err := vaultChild.ECPrivKey()
	if err != nil {
		return nil, fmt.Errorf("vault private key: %w", err)
	}

	vaultPub, err := vaultChild.ECPubKey()
	if err != nil {
		return nil, fmt.Errorf("vault public key: %w", err)
	}

	cekBytes, err := hkdfExpand(vaultPriv.Serialize(), cekInfo, 32)
	if err != nil {
		return nil, err
	}

	unlockSalt, err := hkdfExpand(vaultPub.SerializeCompressed(), unlockSaltInfo, 32)
	if err != nil {
		return nil, err
	}

	cek := &jwk.JWK{
		Kty: jwk.KtyOct,
		Alg: crypto.AlgA256GCM,
		K:   jwk.EncodeBytes(cekBytes),
	}

	kid, err := cek.ComputeThumbprint()
	if err != nil {
		return nil, err
	}

	cek.Kid = kid

	identityKey, err := deriveEd25519(master, identityKeyPath)
	if err != nil {
		return nil, err
	}

	signingKey, err := deriveEd25519(master, signingKeyPath)
	if err != nil {
		return nil, err
	}

	return &vaultKeys{
		cek:         cek,
		unlockSalt:  unlockSalt,
		identityKey: identityKey,
		signingKey:  signingKey,
	}, nil
}

// deriveHardened walks a hardened child path from the given extended key.
func deriveHardened(key *hdkeychain.ExtendedKey, path []uint32) (*hdkeychain.ExtendedKey, error) {
	child := key

	for _, segment := range path {
		var err error

		child, err = child.Derive(hdkeychain.HardenedKeyStart + segment)
		if err != nil {
			return nil, fmt.Errorf("derive child %d': %w", segment, err)
		}
	}

	return child, nil
}

// deriveEd25519 derives the hardened child at path and uses its secp256k1
// private key bytes as the Ed25519 seed.
func deriveEd25519(master *hdkeychain.ExtendedKey, path []uint32) (*jwk.JWK, error) {
	child, err := deriveHardened(master, path)
	if err != nil {
		return nil, err
	}

	priv, err := child.ECPrivKey()
	if err != nil {
		return nil, fmt.Errorf("child private key: %w", err)
	}

	converter, err := crypto.ConverterFor(crypto.AlgEd25519)
	if err != nil {
		return nil, err
	}

	return converter.BytesToPrivateKey(priv.Serialize())
}

func hkdfExpand(ikm []byte, info string, size int) ([]byte, error) {
	out := make([]byte, size)

	// The IKM carries full key entropy, so no extraction salt is needed.
	if _, err := io.ReadFull(hkdf.New(sha256.New, ikm, nil, []byte(info)), out); err != nil {
		return nil, fmt.Errorf("hkdf expand %s: %w", info, err)
	}

	return out, nil
}
