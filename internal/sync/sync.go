// Package sync implements the cryptographic half of the encrypted cloud
// sync contract: deriving a symmetric key from the human's passphrase and
// using it to seal/open a StorageState export for an external transport to
// carry. The transport itself — the websocket (or equivalent) connection
// that actually moves the sealed bytes between devices — is deliberately
// out of scope here; Transport below is only the interface shape a real
// transport adapter would satisfy.
package sync

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"

	"github.com/eicompanion/ei/pkg/types"
)

const (
	saltLen = 16
	keyLen  = 32
	nonceLen = 24

	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1
)

// ErrWrongPassphrase is returned by Open when the sealed blob fails to
// authenticate under the derived key — either a wrong passphrase or
// tampered ciphertext; the two are indistinguishable by design.
var ErrWrongPassphrase = errors.New("sync: wrong passphrase or corrupt blob")

// DeriveKey runs scrypt over passphrase and salt with parameters fixed at
// package level so every device derives an identical key from the same
// passphrase. Callers that don't yet have a salt should generate one with
// NewSalt and persist it in types.SyncCredentials.Salt.
func DeriveKey(passphrase string, salt []byte) (*[keyLen]byte, error) {
	raw, err := scrypt.Key([]byte(passphrase), salt, scryptN, scryptR, scryptP, keyLen)
	if err != nil {
		return nil, fmt.Errorf("sync: derive key: %w", err)
	}
	var key [keyLen]byte
	copy(key[:], raw)
	return &key, nil
}

// NewSalt returns a fresh random salt for DeriveKey.
func NewSalt() ([]byte, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("sync: generate salt: %w", err)
	}
	return salt, nil
}

// NewCredentials derives a key from passphrase, generating a fresh salt,
// and returns the types.SyncCredentials to persist: the salt plus a
// key-check blob (an encrypted, recognizable plaintext) that a later
// Unlock can use to confirm a re-entered passphrase without reconstructing
// the full state export.
func NewCredentials(passphrase string) (types.SyncCredentials, error) {
	salt, err := NewSalt()
	if err != nil {
		return types.SyncCredentials{}, err
	}
	key, err := DeriveKey(passphrase, salt)
	if err != nil {
		return types.SyncCredentials{}, err
	}
	keyCheck, err := seal(key, []byte(keyCheckPlaintext))
	if err != nil {
		return types.SyncCredentials{}, err
	}
	return types.SyncCredentials{Salt: salt, KeyCheck: keyCheck}, nil
}

const keyCheckPlaintext = "ei-sync-key-check-v1"

// Unlock verifies passphrase against creds.KeyCheck and, on success,
// returns the derived key ready for Seal/Open.
func Unlock(creds types.SyncCredentials, passphrase string) (*[keyLen]byte, error) {
	key, err := DeriveKey(passphrase, creds.Salt)
	if err != nil {
		return nil, err
	}
	plain, err := open(key, creds.KeyCheck)
	if err != nil {
		return nil, ErrWrongPassphrase
	}
	if string(plain) != keyCheckPlaintext {
		return nil, ErrWrongPassphrase
	}
	return key, nil
}

// Seal marshals state to JSON and authenticates-and-encrypts it under key,
// producing the blob a Transport carries to other devices.
func Seal(key *[keyLen]byte, state *types.StorageState) ([]byte, error) {
	plain, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("sync: marshal state: %w", err)
	}
	return seal(key, plain)
}

// Open reverses Seal, returning the decrypted StorageState. A non-nil
// error means the blob failed authentication under key (ErrWrongPassphrase)
// or the decrypted bytes were not a valid StorageState.
func Open(key *[keyLen]byte, blob []byte) (*types.StorageState, error) {
	plain, err := open(key, blob)
	if err != nil {
		return nil, ErrWrongPassphrase
	}
	var state types.StorageState
	if err := json.Unmarshal(plain, &state); err != nil {
		return nil, fmt.Errorf("sync: unmarshal state: %w", err)
	}
	return &state, nil
}

func seal(key *[keyLen]byte, plain []byte) ([]byte, error) {
	var nonce [nonceLen]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("sync: generate nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], plain, &nonce, key), nil
}

func open(key *[keyLen]byte, blob []byte) ([]byte, error) {
	if len(blob) < nonceLen {
		return nil, errors.New("sync: blob shorter than nonce")
	}
	var nonce [nonceLen]byte
	copy(nonce[:], blob[:nonceLen])
	plain, ok := secretbox.Open(nil, blob[nonceLen:], &nonce, key)
	if !ok {
		return nil, errors.New("sync: authentication failed")
	}
	return plain, nil
}

// Transport is the contract an external sync transport adapter (a
// websocket client against a relay, a WebRTC data channel, whatever moves
// bytes between this human's devices) must satisfy. Nothing in this
// package implements it; it exists so the engine can depend on the shape
// without depending on any one transport library.
type Transport interface {
	// Push uploads a sealed blob for this device's passphrase-derived
	// identity.
	Push(blob []byte) error
	// Pull retrieves the latest sealed blob uploaded by any device
	// sharing the same identity, or (nil, nil) if none exists yet.
	Pull() ([]byte, error)
}
