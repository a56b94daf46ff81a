/*
Copyright TBD54566975 Contributors.

SPDX-License-Identifier: Apache-2.0
*/

// Package localkms is a software KMS backend. It keeps key metadata and private
// key material in two separate stores: metadata (including public key material)
// lives in the keystore namespace, raw private and secret material in the
// private keystore namespace. Retrieval paths only ever read the metadata store,
// so private material cannot leak through the uniform API.
package localkms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/tbd54566975/web5-agent-go/pkg/crypto"
	"github.com/tbd54566975/web5-agent-go/pkg/jwk"
	"github.com/tbd54566975/web5-agent-go/pkg/kms"
	"github.com/tbd54566975/web5-agent-go/pkg/storage"
)

const (
	keyStoreNamespace     = "keystore"
	privateStoreNamespace = "privatekeystore"

	aliasPrefix = "alias:"
)

// DefaultName is the backend name used when none is configured.
const DefaultName = "local"

// Config configures a LocalKMS instance.
type Config struct {
	// Name is the KMS name stamped on every key this backend owns.
	// Defaults to DefaultName.
	Name string

	// StorageProvider supplies the metadata and private-material stores.
	StorageProvider storage.Provider
}

// LocalKMS implements kms.Service using in-process cryptography.
type LocalKMS struct {
	name     string
	metadata storage.Store
	private  storage.Store
}

// keyRecord is the metadata store representation of a managed key or key pair.
// Exactly one field is set.
type keyRecord struct {
	Key  *kms.ManagedKey     `json:"key,omitempty"`
	Pair *kms.ManagedKeyPair `json:"pair,omitempty"`
}

// privateKeyRecord holds raw secret bytes, decoupled from key metadata.
type privateKeyRecord struct {
	ID       string      `json:"id"`
	Type     kms.KeyType `json:"type"`
	Material []byte      `json:"material"`
}

// New creates a LocalKMS backed by the given storage provider.
func New(cfg Config) (*LocalKMS, error) {
	if cfg.StorageProvider == nil {
		return nil, errors.New("localkms: storage provider is required")
	}

	name := cfg.Name
	if name == "" {
		name = DefaultName
	}

	metadata, err := cfg.StorageProvider.OpenStore(keyStoreNamespace)
	if err != nil {
		return nil, fmt.Errorf("localkms: open %s: %w", keyStoreNamespace, err)
	}

	private, err := cfg.StorageProvider.OpenStore(privateStoreNamespace)
	if err != nil {
		return nil, fmt.Errorf("localkms: open %s: %w", privateStoreNamespace, err)
	}

	return &LocalKMS{name: name, metadata: metadata, private: private}, nil
}

// Name returns the configured KMS name.
func (l *LocalKMS) Name() string {
	return l.name
}

// GenerateKey generates a new key or key pair for the given algorithm.
func (l *LocalKMS) GenerateKey(ctx context.Context, algorithm crypto.Algorithm, opts ...kms.GenerateKeyOption) (kms.Managed, error) {
	generator, err := crypto.GeneratorFor(algorithm.Name)
	if err != nil {
		return nil, err
	}

	privateJWK, err := generator.GenerateKey()
	if err != nil {
		return nil, err
	}

	return l.storePrivateJWK(privateJWK, kms.NewGenerateKeyOptions(opts))
}

// ImportPrivateJWK imports a private or secret JWK, minting a fresh id. It is
// the import path used to seed deterministic keys into the store.
func (l *LocalKMS) ImportPrivateJWK(ctx context.Context, key *jwk.JWK, opts ...kms.GenerateKeyOption) (kms.Managed, error) {
	if key == nil || !key.IsPrivate() {
		return nil, fmt.Errorf("%w: private JWK is required", jwk.ErrInvalidKey)
	}

	return l.storePrivateJWK(key, kms.NewGenerateKeyOptions(opts))
}

// ImportKey imports a managed key or key pair carrying raw material. The
// caller-supplied id, if any, is discarded and a fresh one minted. Importing a
// pair whose private/public type fields are swapped fails with
// kms.ErrKeyPairMismatch.
func (l *LocalKMS) ImportKey(ctx context.Context, key kms.Managed, opts ...kms.GenerateKeyOption) (kms.Managed, error) {
	options := kms.NewGenerateKeyOptions(opts)

	switch k := key.(type) {
	case *kms.ManagedKeyPair:
		if k == nil || k.PrivateKey == nil || k.PublicKey == nil {
			return nil, fmt.Errorf("%w: both pair halves are required", jwk.ErrInvalidKey)
		}

		if k.PrivateKey.Type != kms.KeyTypePrivate || k.PublicKey.Type != kms.KeyTypePublic {
			return nil, kms.ErrKeyPairMismatch
		}

		if len(k.PrivateKey.Material) == 0 {
			return nil, fmt.Errorf("%w: private material is required", jwk.ErrInvalidKey)
		}

		converter, err := crypto.ConverterFor(k.PrivateKey.Algorithm.Name)
		if err != nil {
			return nil, err
		}

		privateJWK, err := converter.BytesToPrivateKey(k.PrivateKey.Material)
		if err != nil {
			return nil, err
		}

		return l.storePrivateJWK(privateJWK, options)
	case *kms.ManagedKey:
		if k == nil || len(k.Material) == 0 {
			return nil, fmt.Errorf("%w: key material is required", jwk.ErrInvalidKey)
		}

		switch k.Type {
		case kms.KeyTypeSecret:
			secretJWK := &jwk.JWK{
				Kty: jwk.KtyOct,
				Alg: k.Algorithm.Name,
				K:   jwk.EncodeBytes(k.Material),
			}

			kid, err := secretJWK.ComputeThumbprint()
			if err != nil {
				return nil, err
			}

			secretJWK.Kid = kid

			return l.storePrivateJWK(secretJWK, options)
		case kms.KeyTypePrivate:
			converter, err := crypto.ConverterFor(k.Algorithm.Name)
			if err != nil {
				return nil, err
			}

			privateJWK, err := converter.BytesToPrivateKey(k.Material)
			if err != nil {
				return nil, err
			}

			return l.storePrivateJWK(privateJWK, options)
		default:
			return nil, fmt.Errorf("%w: cannot import a bare %s key", jwk.ErrInvalidKey, k.Type)
		}
	default:
		return nil, fmt.Errorf("%w: unsupported import shape", jwk.ErrInvalidKey)
	}
}

// GetKey resolves keyRef as an id or alias and returns the stored key. It
// returns (nil, nil) when the reference does not resolve.
func (l *LocalKMS) GetKey(ctx context.Context, keyRef string) (kms.Managed, error) {
	record, _, err := l.loadRecord(keyRef)
	if err != nil || record == nil {
		return nil, err
	}

	if record.Pair != nil {
		return record.Pair, nil
	}

	key := record.Key
	if key.Type == kms.KeyTypeSecret {
		// Secret material is stored separately and re-attached on read.
		material, err := l.loadPrivateMaterial(key.ID)
		if err != nil {
			return nil, err
		}

		withMaterial := *key
		withMaterial.Material = material

		return &withMaterial, nil
	}

	return key, nil
}

// UpdateKey mutates only alias and metadata. It is idempotent and returns
// (false, nil) when the reference does not resolve.
func (l *LocalKMS) UpdateKey(ctx context.Context, keyRef string, params kms.UpdateKeyParams) (bool, error) {
	record, id, err := l.loadRecord(keyRef)
	if err != nil {
		return false, err
	}

	if record == nil {
		return false, nil
	}

	target := record.Key
	if record.Pair != nil {
		target = record.Pair.PrivateKey
	}

	if params.Alias != nil {
		if target.Alias != "" {
			if err := l.metadata.Delete(aliasPrefix + target.Alias); err != nil {
				return false, err
			}
		}

		target.Alias = *params.Alias
		if record.Pair != nil {
			record.Pair.PublicKey.Alias = *params.Alias
		}

		if *params.Alias != "" {
			if err := l.metadata.Put(aliasPrefix+*params.Alias, []byte(id)); err != nil {
				return false, err
			}
		}
	}

	if params.Metadata != nil {
		target.Metadata = params.Metadata
		if record.Pair != nil {
			record.Pair.PublicKey.Metadata = params.Metadata
		}
	}

	if err := l.saveRecord(id, record); err != nil {
		return false, err
	}

	return true, nil
}

// DeleteKey removes the referenced key, its alias index entry and any private
// material.
func (l *LocalKMS) DeleteKey(ctx context.Context, keyRef string) error {
	record, id, err := l.loadRecord(keyRef)
	if err != nil {
		return err
	}

	if record == nil {
		return fmt.Errorf("%w: %s", kms.ErrKeyNotFound, keyRef)
	}

	target := record.Key
	if record.Pair != nil {
		target = record.Pair.PrivateKey
	}

	if target.Alias != "" {
		if err := l.metadata.Delete(aliasPrefix + target.Alias); err != nil {
			return err
		}
	}

	if err := l.private.Delete(id); err != nil {
		return err
	}

	return l.metadata.Delete(id)
}

// Sign signs data with the private key behind keyRef.
func (l *LocalKMS) Sign(ctx context.Context, keyRef string, data []byte) ([]byte, error) {
	privateJWK, algorithm, err := l.privateJWK(keyRef)
	if err != nil {
		return nil, err
	}

	signer, err := crypto.SignerFor(algorithm)
	if err != nil {
		return nil, err
	}

	return signer.Sign(privateJWK, data)
}

// Verify verifies a signature with the public key behind keyRef.
func (l *LocalKMS) Verify(ctx context.Context, keyRef string, data, signature []byte) (bool, error) {
	record, _, err := l.loadRecord(keyRef)
	if err != nil {
		return false, err
	}

	if record == nil || record.Pair == nil {
		return false, fmt.Errorf("%w: %s", kms.ErrKeyNotFound, keyRef)
	}

	algorithm := record.Pair.PublicKey.Algorithm.Name

	converter, err := crypto.ConverterFor(algorithm)
	if err != nil {
		return false, err
	}

	publicJWK, err := converter.BytesToPublicKey(record.Pair.PublicKey.Material)
	if err != nil {
		return false, err
	}

	verifier, err := crypto.VerifierFor(algorithm)
	if err != nil {
		return false, err
	}

	return verifier.Verify(publicJWK, data, signature)
}

// Encrypt encrypts plaintext with the secret key behind keyRef.
func (l *LocalKMS) Encrypt(ctx context.Context, keyRef string, plaintext, aad []byte) ([]byte, error) {
	material, algorithm, err := l.secretMaterial(keyRef)
	if err != nil {
		return nil, err
	}

	cipher, err := crypto.CipherFor(algorithm)
	if err != nil {
		return nil, err
	}

	return cipher.Encrypt(material, plaintext, aad)
}

// Decrypt decrypts ciphertext with the secret key behind keyRef.
func (l *LocalKMS) Decrypt(ctx context.Context, keyRef string, ciphertext, aad []byte) ([]byte, error) {
	material, algorithm, err := l.secretMaterial(keyRef)
	if err != nil {
		return nil, err
	}

	cipher, err := crypto.CipherFor(algorithm)
	if err != nil {
		return nil, err
	}

	return cipher.Decrypt(material, ciphertext, aad)
}

// DeriveBits derives shared secret bits between the private key behind keyRef
// and another party's public JWK.
func (l *LocalKMS) DeriveBits(ctx context.Context, keyRef string, publicKey *jwk.JWK) ([]byte, error) {
	privateJWK, algorithm, err := l.privateJWK(keyRef)
	if err != nil {
		return nil, err
	}

	deriver, err := crypto.BitsDeriverFor(algorithm)
	if err != nil {
		return nil, err
	}

	return deriver.DeriveBits(privateJWK, publicKey)
}

// storePrivateJWK persists a freshly generated or imported private/secret JWK
// as a managed key with a newly minted id.
func (l *LocalKMS) storePrivateJWK(privateJWK *jwk.JWK, options *kms.GenerateKeyOptions) (kms.Managed, error) {
	algorithm, err := crypto.AlgorithmForKey(privateJWK)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()

	if privateJWK.Kty == jwk.KtyOct {
		material, err := jwk.DecodeBytes(privateJWK.K)
		if err != nil {
			return nil, err
		}

		key := &kms.ManagedKey{
			ID:          id,
			Type:        kms.KeyTypeSecret,
			Algorithm:   algorithmSpec(algorithm),
			Extractable: options.Extractable,
			KMS:         l.name,
			State:       kms.KeyStateEnabled,
			Usages:      usagesOrDefault(options.Usages, []kms.KeyUsage{kms.UsageEncrypt, kms.UsageDecrypt}),
			Alias:       options.Alias,
			Metadata:    options.Metadata,
		}

		if err := l.savePrivateMaterial(id, kms.KeyTypeSecret, material); err != nil {
			return nil, err
		}

		if err := l.saveRecord(id, &keyRecord{Key: key}); err != nil {
			return nil, err
		}

		if err := l.indexAlias(options.Alias, id); err != nil {
			return nil, err
		}

		withMaterial := *key
		withMaterial.Material = material

		return &withMaterial, nil
	}

	converter, err := crypto.ConverterFor(algorithm)
	if err != nil {
		return nil, err
	}

	privateMaterial, err := converter.PrivateKeyToBytes(privateJWK)
	if err != nil {
		return nil, err
	}

	publicJWK, err := privateJWK.PublicKey()
	if err != nil {
		return nil, err
	}

	publicMaterial, err := converter.PublicKeyToBytes(publicJWK)
	if err != nil {
		return nil, err
	}

	defaultUsages := []kms.KeyUsage{kms.UsageSign, kms.UsageVerify}

	pair := &kms.ManagedKeyPair{
		PrivateKey: &kms.ManagedKey{
			ID:          id,
			Type:        kms.KeyTypePrivate,
			Algorithm:   algorithmSpec(algorithm),
			Extractable: options.Extractable,
			KMS:         l.name,
			State:       kms.KeyStateEnabled,
			Usages:      usagesOrDefault(options.Usages, defaultUsages),
			Alias:       options.Alias,
			Metadata:    options.Metadata,
		},
		PublicKey: &kms.ManagedKey{
			ID:          id,
			Type:        kms.KeyTypePublic,
			Algorithm:   algorithmSpec(algorithm),
			Extractable: true,
			KMS:         l.name,
			State:       kms.KeyStateEnabled,
			Usages:      usagesOrDefault(options.Usages, defaultUsages),
			Material:    publicMaterial,
			Alias:       options.Alias,
			Metadata:    options.Metadata,
		},
	}

	if err := l.savePrivateMaterial(id, kms.KeyTypePrivate, privateMaterial); err != nil {
		return nil, err
	}

	if err := l.saveRecord(id, &keyRecord{Pair: pair}); err != nil {
		return nil, err
	}

	if err := l.indexAlias(options.Alias, id); err != nil {
		return nil, err
	}

	return pair, nil
}

// privateJWK reconstructs the private JWK behind keyRef from the private
// material store. Internal use only; it never crosses the Service boundary.
func (l *LocalKMS) privateJWK(keyRef string) (*jwk.JWK, string, error) {
	record, id, err := l.loadRecord(keyRef)
	if err != nil {
		return nil, "", err
	}

	if record == nil || record.Pair == nil {
		return nil, "", fmt.Errorf("%w: %s", kms.ErrKeyNotFound, keyRef)
	}

	algorithm := record.Pair.PrivateKey.Algorithm.Name

	material, err := l.loadPrivateMaterial(id)
	if err != nil {
		return nil, "", err
	}

	converter, err := crypto.ConverterFor(algorithm)
	if err != nil {
		return nil, "", err
	}

	privateJWK, err := converter.BytesToPrivateKey(material)
	if err != nil {
		return nil, "", err
	}

	return privateJWK, algorithm, nil
}

func (l *LocalKMS) secretMaterial(keyRef string) ([]byte, string, error) {
	record, id, err := l.loadRecord(keyRef)
	if err != nil {
		return nil, "", err
	}

	if record == nil || record.Key == nil || record.Key.Type != kms.KeyTypeSecret {
		return nil, "", fmt.Errorf("%w: %s", kms.ErrKeyNotFound, keyRef)
	}

	material, err := l.loadPrivateMaterial(id)
	if err != nil {
		return nil, "", err
	}

	return material, record.Key.Algorithm.Name, nil
}

// loadRecord resolves keyRef first as an id, then as an alias. A miss returns
// (nil, "", nil).
func (l *LocalKMS) loadRecord(keyRef string) (*keyRecord, string, error) {
	if keyRef == "" {
		return nil, "", nil
	}

	raw, err := l.metadata.Get(keyRef)
	if errors.Is(err, storage.ErrDataNotFound) {
		aliased, aliasErr := l.metadata.Get(aliasPrefix + keyRef)
		if errors.Is(aliasErr, storage.ErrDataNotFound) {
			return nil, "", nil
		}

		if aliasErr != nil {
			return nil, "", aliasErr
		}

		id := string(aliased)

		raw, err = l.metadata.Get(id)
		if errors.Is(err, storage.ErrDataNotFound) {
			return nil, "", nil
		}

		if err != nil {
			return nil, "", err
		}

		record, err := unmarshalRecord(raw)

		return record, id, err
	}

	if err != nil {
		return nil, "", err
	}

	record, err := unmarshalRecord(raw)

	return record, keyRef, err
}

func unmarshalRecord(raw []byte) (*keyRecord, error) {
	record := &keyRecord{}
	if err := json.Unmarshal(raw, record); err != nil {
		return nil, fmt.Errorf("localkms: corrupt key record: %w", err)
	}

	return record, nil
}

func (l *LocalKMS) saveRecord(id string, record *keyRecord) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("localkms: marshal key record: %w", err)
	}

	return l.metadata.Put(id, raw)
}

func (l *LocalKMS) savePrivateMaterial(id string, keyType kms.KeyType, material []byte) error {
	raw, err := json.Marshal(&privateKeyRecord{ID: id, Type: keyType, Material: material})
	if err != nil {
		return fmt.Errorf("localkms: marshal private record: %w", err)
	}

	return l.private.Put(id, raw)
}

func (l *LocalKMS) loadPrivateMaterial(id string) ([]byte, error) {
	raw, err := l.private.Get(id)
	if err != nil {
		return nil, err
	}

	record := &privateKeyRecord{}
	if err := json.Unmarshal(raw, record); err != nil {
		return nil, fmt.Errorf("localkms: corrupt private record: %w", err)
	}

	return record.Material, nil
}

func (l *LocalKMS) indexAlias(alias, id string) error {
	if alias == "" {
		return nil
	}

	return l.metadata.Put(aliasPrefix+alias, []byte(id))
}

func algorithmSpec(name string) crypto.Algorithm {
	switch name {
	case crypto.AlgEd25519:
		return crypto.Algorithm{Name: name, Curve: "Ed25519"}
	case crypto.AlgSecp256k1:
		return crypto.Algorithm{Name: name, Curve: "secp256k1"}
	case crypto.AlgSecp256r1:
		return crypto.Algorithm{Name: name, Curve: "P-256"}
	case crypto.AlgA128GCM:
		return crypto.Algorithm{Name: name, Length: 128}
	case crypto.AlgA192GCM:
		return crypto.Algorithm{Name: name, Length: 192}
	case crypto.AlgA256GCM, crypto.AlgXC20P:
		return crypto.Algorithm{Name: name, Length: 256}
	default:
		return crypto.Algorithm{Name: name}
	}
}

func usagesOrDefault(usages, defaults []kms.KeyUsage) []kms.KeyUsage {
	if len(usages) > 0 {
		return usages
	}

	return defaults
}
