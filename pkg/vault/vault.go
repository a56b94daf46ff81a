/*
Copyright TBD54566975 Contributors.

SPDX-License-Identifier: Apache-2.0
*/

// Package vault implements the HD identity vault: a passphrase-protected,
// mnemonic-recoverable store for a decentralized identity. All key material is
// derived deterministically from a BIP39 mnemonic, the content encryption key is
// wrapped under the user's passphrase as a PBES2 compact JWE, and the identity
// itself is persisted as a dir-mode compact JWE under that CEK. Everything the
// vault persists is ciphertext or non-secret status.
package vault

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/awnumar/memguard"
	"github.com/rs/zerolog"
	"github.com/tyler-smith/go-bip39"

	"github.com/tbd54566975/web5-agent-go/pkg/crypto"
	"github.com/tbd54566975/web5-agent-go/pkg/did"
	"github.com/tbd54566975/web5-agent-go/pkg/did/didjwk"
	"github.com/tbd54566975/web5-agent-go/pkg/doc/jose"
	"github.com/tbd54566975/web5-agent-go/pkg/jwk"
	"github.com/tbd54566975/web5-agent-go/pkg/kms"
	"github.com/tbd54566975/web5-agent-go/pkg/kms/detkms"
	"github.com/tbd54566975/web5-agent-go/pkg/kms/localkms"
	"github.com/tbd54566975/web5-agent-go/pkg/storage"
	"github.com/tbd54566975/web5-agent-go/pkg/storage/mem"
)

// The vault persists exactly three logical keys.
const (
	storeKeyDID    = "did"
	storeKeyCEK    = "contentEncryptionKey"
	storeKeyStatus = "vaultStatus"
)

const storeNamespace = "identityvault"

// pbes2Iterations is the fixed PBKDF2 work factor for the passphrase wrap.
const pbes2Iterations = 210000

var (
	// ErrNotInitialized is returned by operations requiring an initialized vault.
	ErrNotInitialized = errors.New("vault has not been initialized")

	// ErrAlreadyInitialized is returned when Initialize is called twice.
	ErrAlreadyInitialized = errors.New("vault has already been initialized")

	// ErrLocked is returned by operations requiring an unlocked vault.
	ErrLocked = errors.New("vault is locked")

	// ErrIncorrectPassphrase is the single generic error for any passphrase
	// verification failure. A wrong passphrase and a tampered wrapped key are
	// indistinguishable to the caller.
	ErrIncorrectPassphrase = errors.New("incorrect passphrase")

	// ErrVaultCorrupted is returned when expected vault data is missing or
	// undecodable. Recovery requires restoring from backup or re-initializing.
	ErrVaultCorrupted = errors.New("vault data is corrupted or missing, restore from backup or re-initialize")

	// ErrInvalidBackup is the single generic error for any Restore failure.
	// A malformed backup and a wrong passphrase are indistinguishable.
	ErrInvalidBackup = errors.New("invalid backup or incorrect passphrase")
)

// Status is the persisted lifecycle state of the vault.
type Status struct {
	Initialized bool       `json:"initialized"`
	Locked      bool       `json:"locked"`
	LastBackup  *time.Time `json:"lastBackup"`
	LastRestore *time.Time `json:"lastRestore"`
}

// Backup is a portable, ciphertext-only export of the vault. Data decodes to
// the still-encrypted DID, the still-wrapped CEK and the status at backup time;
// it never contains plaintext secrets.
type Backup struct {
	DateCreated time.Time `json:"dateCreated"`
	Size        int       `json:"size"`
	Data        string    `json:"data"`
}

// backupPayload is the JSON object base64url-encoded into Backup.Data.
type backupPayload struct {
	DID                  string `json:"did"`
	ContentEncryptionKey string `json:"contentEncryptionKey"`
	Status               Status `json:"status"`
}

// HDIdentityVault is a passphrase-protected identity vault whose keys derive
// from a BIP39 mnemonic. The in-memory CEK lives in a memguard enclave and is
// dropped on lock; a mutex serializes all state transitions.
type HDIdentityVault struct {
	mu    sync.Mutex
	store storage.Store
	log   zerolog.Logger

	// cek holds the serialized CEK JWK while unlocked, nil while locked.
	cek *memguard.Enclave
}

type options struct {
	provider storage.Provider
	logger   zerolog.Logger
}

// Option configures a vault.
type Option func(*options)

// WithStorageProvider sets the storage provider backing the vault.
// Defaults to an in-memory provider.
func WithStorageProvider(provider storage.Provider) Option {
	return func(o *options) {
		o.provider = provider
	}
}

// WithLogger sets the logger for vault lifecycle events.
// Defaults to a no-op logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// New creates an identity vault. The vault starts locked; call Initialize once,
// then Unlock in later sessions.
func New(opts ...Option) (*HDIdentityVault, error) {
	o := &options{
		provider: mem.NewProvider(),
		logger:   zerolog.Nop(),
	}

	for _, opt := range opts {
		opt(o)
	}

	store, err := o.provider.OpenStore(storeNamespace)
	if err != nil {
		return nil, fmt.Errorf("open vault store: %w", err)
	}

	return &HDIdentityVault{store: store, log: o.logger}, nil
}

// Initialize derives the vault's identity from a BIP39 mnemonic, wraps the
// content encryption key under the passphrase, persists the encrypted identity,
// and leaves the vault unlocked. When mnemonic is empty a fresh 12-word phrase
// is generated. The mnemonic is returned exactly once and never persisted; it
// is the only recovery path besides the passphrase.
func (v *HDIdentityVault) Initialize(ctx context.Context, passphrase, mnemonic string) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	status, err := v.loadStatus()
	if err != nil {
		return "", err
	}

	if status.Initialized {
		return "", ErrAlreadyInitialized
	}

	if strings.TrimSpace(passphrase) == "" {
		return "", errors.New("passphrase is required")
	}

	if mnemonic == "" {
		entropy, err := bip39.NewEntropy(128)
		if err != nil {
			return "", fmt.Errorf("generate mnemonic entropy: %w", err)
		}

		mnemonic, err = bip39.NewMnemonic(entropy)
		if err != nil {
			return "", fmt.Errorf("generate mnemonic: %w", err)
		}
	} else if !bip39.IsMnemonicValid(mnemonic) {
		return "", errors.New("invalid mnemonic")
	}

	keys, err := deriveVaultKeys(bip39.NewSeed(mnemonic, ""))
	if err != nil {
		return "", err
	}

	cekJSON, err := json.Marshal(keys.cek)
	if err != nil {
		return "", fmt.Errorf("marshal content encryption key: %w", err)
	}

	wrapped, err := jose.EncryptCompact(cekJSON, jose.Headers{
		jose.HeaderAlgorithm:  jose.AlgPBES2HS512A256KW,
		jose.HeaderEncryption: jose.A256GCM,
		jose.HeaderKeyID:      keys.cek.Kid,
		jose.HeaderPBES2Count: pbes2Iterations,
		jose.HeaderPBES2Salt:  base64.RawURLEncoding.EncodeToString(keys.unlockSalt),
	}, []byte(passphrase))
	if err != nil {
		return "", fmt.Errorf("wrap content encryption key: %w", err)
	}

	if err := v.store.Put(storeKeyCEK, []byte(wrapped)); err != nil {
		return "", fmt.Errorf("persist wrapped key: %w", err)
	}

	portable, err := createIdentity(ctx, keys)
	if err != nil {
		return "", err
	}

	portableJSON, err := json.Marshal(portable)
	if err != nil {
		return "", fmt.Errorf("marshal portable DID: %w", err)
	}

	encryptedDID, err := jose.EncryptCompact(portableJSON, jose.Headers{
		jose.HeaderAlgorithm:  jose.AlgDir,
		jose.HeaderEncryption: jose.A256GCM,
		jose.HeaderKeyID:      keys.cek.Kid,
	}, keys.cek)
	if err != nil {
		return "", fmt.Errorf("encrypt DID: %w", err)
	}

	if err := v.store.Put(storeKeyDID, []byte(encryptedDID)); err != nil {
		return "", fmt.Errorf("persist DID: %w", err)
	}

	// NewEnclave wipes its input, so this is the last use of cekJSON.
	v.cek = memguard.NewEnclave(cekJSON)

	status.Initialized = true
	status.Locked = false

	if err := v.saveStatus(status); err != nil {
		return "", err
	}

	v.log.Debug().Str("did", portable.URI).Msg("vault initialized")

	return mnemonic, nil
}

// Unlock verifies the passphrase against the persisted wrapped CEK and loads
// the CEK into memory. The vault is locked first, so a failed attempt always
// leaves it locked.
func (v *HDIdentityVault) Unlock(passphrase string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	status, err := v.loadStatus()
	if err != nil {
		return err
	}

	if !status.Initialized {
		return ErrNotInitialized
	}

	v.cek = nil

	if err := v.unlockCEK(passphrase); err != nil {
		status.Locked = true
		if saveErr := v.saveStatus(status); saveErr != nil {
			return saveErr
		}

		return err
	}

	status.Locked = false

	if err := v.saveStatus(status); err != nil {
		return err
	}

	v.log.Debug().Msg("vault unlocked")

	return nil
}

// Lock drops the in-memory CEK and marks the vault locked. Locking an already
// locked vault is a no-op.
func (v *HDIdentityVault) Lock() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	status, err := v.loadStatus()
	if err != nil {
		return err
	}

	if !status.Initialized {
		return ErrNotInitialized
	}

	v.cek = nil
	status.Locked = true

	if err := v.saveStatus(status); err != nil {
		return err
	}

	v.log.Debug().Msg("vault locked")

	return nil
}

// ChangePassword re-wraps the CEK under a new passphrase after verifying the
// old one. The wrapped key's salt and iteration count are reused, so the CEK
// value itself never changes. On success the vault is unlocked.
func (v *HDIdentityVault) ChangePassword(oldPassphrase, newPassphrase string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	status, err := v.loadStatus()
	if err != nil {
		return err
	}

	if !status.Initialized {
		return ErrNotInitialized
	}

	if strings.TrimSpace(newPassphrase) == "" {
		return errors.New("passphrase is required")
	}

	v.cek = nil

	wrapped, err := v.loadRequired(storeKeyCEK)
	if err != nil {
		return err
	}

	cekJSON, headers, err := jose.DecryptCompact(string(wrapped), []byte(oldPassphrase),
		jose.WithAllowedAlgorithms(jose.AlgPBES2HS512A256KW),
		jose.WithAllowedEncryptionAlgorithms(jose.A256GCM))
	if err != nil {
		status.Locked = true
		if saveErr := v.saveStatus(status); saveErr != nil {
			return saveErr
		}

		return ErrIncorrectPassphrase
	}

	rewrapped, err := jose.EncryptCompact(cekJSON, headers, []byte(newPassphrase))
	if err != nil {
		return fmt.Errorf("rewrap content encryption key: %w", err)
	}

	if err := v.store.Put(storeKeyCEK, []byte(rewrapped)); err != nil {
		return fmt.Errorf("persist wrapped key: %w", err)
	}

	v.cek = memguard.NewEnclave(cekJSON)

	status.Locked = false

	if err := v.saveStatus(status); err != nil {
		return err
	}

	v.log.Debug().Msg("vault passphrase changed")

	return nil
}

// GetDID decrypts the persisted identity and reconstructs a usable BearerDID.
// The vault must be unlocked.
func (v *HDIdentityVault) GetDID(ctx context.Context) (*did.BearerDID, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	status, err := v.loadStatus()
	if err != nil {
		return nil, err
	}

	if !status.Initialized {
		return nil, ErrNotInitialized
	}

	if v.cek == nil {
		return nil, ErrLocked
	}

	encryptedDID, err := v.loadRequired(storeKeyDID)
	if err != nil {
		return nil, err
	}

	cek, err := v.openCEK()
	if err != nil {
		return nil, err
	}

	portableJSON, _, err := jose.DecryptCompact(string(encryptedDID), cek)
	if err != nil {
		return nil, ErrVaultCorrupted
	}

	portable := did.PortableDID{}
	if err := json.Unmarshal(portableJSON, &portable); err != nil {
		return nil, ErrVaultCorrupted
	}

	if portable.URI == "" || len(portable.PrivateKeys) == 0 {
		return nil, ErrVaultCorrupted
	}

	return did.FromPortableDID(portable)
}

// GetStatus reports the vault's lifecycle state, creating the default status
// record on first call. Locked always reflects the in-memory CEK, so a fresh
// process reports locked regardless of the state persisted before shutdown.
func (v *HDIdentityVault) GetStatus() (Status, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	status, err := v.loadStatus()
	if err != nil {
		return Status{}, err
	}

	status.Locked = v.cek == nil

	if err := v.saveStatus(status); err != nil {
		return Status{}, err
	}

	return *status, nil
}

// Backup bundles the still-encrypted DID, the still-wrapped CEK and the current
// status into a portable envelope. The vault must be initialized and unlocked.
func (v *HDIdentityVault) Backup() (*Backup, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	status, err := v.loadStatus()
	if err != nil {
		return nil, err
	}

	if !status.Initialized {
		return nil, ErrNotInitialized
	}

	if v.cek == nil {
		return nil, ErrLocked
	}

	encryptedDID, err := v.loadRequired(storeKeyDID)
	if err != nil {
		return nil, err
	}

	wrappedCEK, err := v.loadRequired(storeKeyCEK)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(backupPayload{
		DID:                  string(encryptedDID),
		ContentEncryptionKey: string(wrappedCEK),
		Status:               *status,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal backup: %w", err)
	}

	data := base64.RawURLEncoding.EncodeToString(payload)
	now := time.Now().UTC()

	status.LastBackup = &now
	if err := v.saveStatus(status); err != nil {
		return nil, err
	}

	v.log.Debug().Msg("vault backup created")

	return &Backup{DateCreated: now, Size: len(data), Data: data}, nil
}

// Restore replaces the vault's persisted state with the backup's contents and
// unlocks with the given passphrase. The sequence is atomic: any failure rolls
// the store back to its pre-restore state and surfaces the one generic
// ErrInvalidBackup, never revealing whether the backup or the passphrase was at
// fault.
func (v *HDIdentityVault) Restore(backup *Backup, passphrase string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	payload, err := decodeBackup(backup)
	if err != nil {
		return ErrInvalidBackup
	}

	snapshot := v.snapshot(storeKeyDID, storeKeyCEK, storeKeyStatus)

	statusJSON, err := json.Marshal(payload.Status)
	if err != nil {
		return ErrInvalidBackup
	}

	v.cek = nil

	restoreErr := func() error {
		if err := v.store.Put(storeKeyDID, []byte(payload.DID)); err != nil {
			return err
		}

		if err := v.store.Put(storeKeyCEK, []byte(payload.ContentEncryptionKey)); err != nil {
			return err
		}

		if err := v.store.Put(storeKeyStatus, statusJSON); err != nil {
			return err
		}

		return v.unlockCEK(passphrase)
	}()
	if restoreErr != nil {
		v.rollback(snapshot)

		return ErrInvalidBackup
	}

	status, err := v.loadStatus()
	if err != nil {
		v.rollback(snapshot)

		return ErrInvalidBackup
	}

	now := time.Now().UTC()
	status.Initialized = true
	status.Locked = false
	status.LastRestore = &now

	if err := v.saveStatus(status); err != nil {
		v.rollback(snapshot)

		return ErrInvalidBackup
	}

	v.log.Debug().Msg("vault restored from backup")

	return nil
}

// unlockCEK verifies the passphrase against the persisted wrapped CEK and, on
// success, loads the CEK into the enclave. Callers hold the mutex.
func (v *HDIdentityVault) unlockCEK(passphrase string) error {
	wrapped, err := v.loadRequired(storeKeyCEK)
	if err != nil {
		return err
	}

	cekJSON, _, err := jose.DecryptCompact(string(wrapped), []byte(passphrase),
		jose.WithAllowedAlgorithms(jose.AlgPBES2HS512A256KW),
		jose.WithAllowedEncryptionAlgorithms(jose.A256GCM))
	if err != nil {
		return ErrIncorrectPassphrase
	}

	cek := &jwk.JWK{}
	if err := json.Unmarshal(cekJSON, cek); err != nil {
		return ErrVaultCorrupted
	}

	if cek.Kty != jwk.KtyOct || cek.K == "" {
		return ErrVaultCorrupted
	}

	v.cek = memguard.NewEnclave(cekJSON)

	return nil
}

// openCEK decodes the in-memory CEK JWK from the enclave. Callers hold the
// mutex and have checked v.cek is non-nil.
func (v *HDIdentityVault) openCEK() (*jwk.JWK, error) {
	buf, err := v.cek.Open()
	if err != nil {
		return nil, fmt.Errorf("open key enclave: %w", err)
	}
	defer buf.Destroy()

	cek := &jwk.JWK{}
	if err := json.Unmarshal(buf.Bytes(), cek); err != nil {
		return nil, ErrVaultCorrupted
	}

	return cek, nil
}

func (v *HDIdentityVault) loadStatus() (*Status, error) {
	raw, err := v.store.Get(storeKeyStatus)
	if errors.Is(err, storage.ErrDataNotFound) {
		return &Status{Initialized: false, Locked: true}, nil
	}

	if err != nil {
		return nil, err
	}

	status := &Status{}
	if err := json.Unmarshal(raw, status); err != nil {
		return nil, ErrVaultCorrupted
	}

	return status, nil
}

func (v *HDIdentityVault) saveStatus(status *Status) error {
	raw, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("marshal vault status: %w", err)
	}

	return v.store.Put(storeKeyStatus, raw)
}

// loadRequired reads a store key that must exist in an initialized vault,
// translating a miss into the integrity error.
func (v *HDIdentityVault) loadRequired(key string) ([]byte, error) {
	raw, err := v.store.Get(key)
	if errors.Is(err, storage.ErrDataNotFound) {
		return nil, ErrVaultCorrupted
	}

	if err != nil {
		return nil, err
	}

	return raw, nil
}

// snapshot captures the current values of the given store keys; absent keys are
// recorded as nil so rollback can delete them again.
func (v *HDIdentityVault) snapshot(keys ...string) map[string][]byte {
	snapshot := make(map[string][]byte, len(keys))

	for _, key := range keys {
		raw, err := v.store.Get(key)
		if err != nil {
			snapshot[key] = nil

			continue
		}

		snapshot[key] = raw
	}

	return snapshot
}

func (v *HDIdentityVault) rollback(snapshot map[string][]byte) {
	v.cek = nil

	for key, value := range snapshot {
		if value == nil {
			_ = v.store.Delete(key)

			continue
		}

		_ = v.store.Put(key, value)
	}
}

func decodeBackup(backup *Backup) (*backupPayload, error) {
	if backup == nil || backup.Data == "" {
		return nil, errors.New("backup data is required")
	}

	raw, err := base64.RawURLEncoding.DecodeString(backup.Data)
	if err != nil {
		return nil, err
	}

	payload := &backupPayload{}
	if err := json.Unmarshal(raw, payload); err != nil {
		return nil, err
	}

	if payload.DID == "" || payload.ContentEncryptionKey == "" {
		return nil, errors.New("backup is missing vault contents")
	}

	return payload, nil
}

// createIdentity builds the vault's DID from the pre-derived identity and
// signing keys. Both keys are queued into a deterministic KMS so the DID's
// material is reproducible from the mnemonic alone; the signing key is
// registered in the same key manager under its thumbprint.
func createIdentity(ctx context.Context, keys *vaultKeys) (*did.PortableDID, error) {
	local, err := localkms.New(localkms.Config{StorageProvider: mem.NewProvider()})
	if err != nil {
		return nil, err
	}

	det := detkms.New(local, keys.identityKey, keys.signingKey)

	bearer, err := didjwk.Create(ctx, det)
	if err != nil {
		return nil, fmt.Errorf("create vault DID: %w", err)
	}

	if _, err := det.GenerateKey(ctx, crypto.Algorithm{Name: crypto.AlgEd25519},
		kms.WithAlias(keys.signingKey.Kid)); err != nil {
		return nil, fmt.Errorf("register signing key: %w", err)
	}

	return &did.PortableDID{
		URI:         bearer.URI,
		Document:    bearer.Document,
		PrivateKeys: []jwk.JWK{*keys.identityKey, *keys.signingKey},
	}, nil
}
