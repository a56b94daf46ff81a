/*
Copyright TBD54566975 Contributors.

SPDX-License-Identifier: Apache-2.0
*/

// Package web5agent provides building blocks for decentralized identity agents.
//
// Packages for end developer usage
//
// pkg/vault: The HD identity vault. Derives a complete identity from a BIP39
// mnemonic, protects it with a passphrase, and exposes the
// Initialize/Unlock/Lock lifecycle plus backup and restore.
//
// pkg/kms: The key management contract and the multi-KMS Manager. Backends live
// in pkg/kms/localkms (software keys over pluggable storage) and
// pkg/kms/detkms (deterministic key dispensing for reproducible identities).
//
// pkg/doc/jose: JSON Web Encryption in the flattened and compact serializations
// with direct and PBES2 password-based key management.
//
// pkg/did: DID parsing, documents and the bearer/portable identity
// representations, with method implementations in pkg/did/didjwk and
// pkg/did/didkey.
//
// Basic workflow
//
//      1) Create a vault with vault.New, passing a storage provider.
//      2) Call Initialize once with a passphrase to mint an identity; store the
//         returned mnemonic somewhere safe.
//      3) Unlock in later sessions with the passphrase.
//      4) Call GetDID and sign through the returned BearerDID's key manager.
package web5agent
