package sync

import (
	"testing"

	"github.com/eicompanion/ei/pkg/types"
)

func TestSealOpenRoundTrip(t *testing.T) {
	creds, err := NewCredentials("correct horse battery staple")
	if err != nil {
		t.Fatalf("NewCredentials: %v", err)
	}

	key, err := Unlock(creds, "correct horse battery staple")
	if err != nil {
		t.Fatalf("Unlock: %v", err)
	}

	state := types.NewStorageState()
	state.Human.Settings.DisplayName = "Alex"

	blob, err := Seal(key, state)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	got, err := Open(key, blob)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if got.Human.Settings.DisplayName != "Alex" {
		t.Fatalf("expected DisplayName=Alex, got %q", got.Human.Settings.DisplayName)
	}
}

func TestUnlockWrongPassphraseFails(t *testing.T) {
	creds, err := NewCredentials("correct horse battery staple")
	if err != nil {
		t.Fatalf("NewCredentials: %v", err)
	}

	if _, err := Unlock(creds, "wrong passphrase"); err != ErrWrongPassphrase {
		t.Fatalf("expected ErrWrongPassphrase, got %v", err)
	}
}

func TestOpenRejectsTamperedBlob(t *testing.T) {
	creds, err := NewCredentials("correct horse battery staple")
	if err != nil {
		t.Fatalf("NewCredentials: %v", err)
	}
	key, err := Unlock(creds, "correct horse battery staple")
	if err != nil {
		t.Fatalf("Unlock: %v", err)
	}

	blob, err := Seal(key, types.NewStorageState())
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	blob[len(blob)-1] ^= 0xFF

	if _, err := Open(key, blob); err != ErrWrongPassphrase {
		t.Fatalf("expected ErrWrongPassphrase for tampered blob, got %v", err)
	}
}

func TestTwoDevicesWithSameCredsDeriveSameKey(t *testing.T) {
	creds, err := NewCredentials("shared passphrase")
	if err != nil {
		t.Fatalf("NewCredentials: %v", err)
	}

	keyA, err := Unlock(creds, "shared passphrase")
	if err != nil {
		t.Fatalf("Unlock (device A): %v", err)
	}
	keyB, err := Unlock(creds, "shared passphrase")
	if err != nil {
		t.Fatalf("Unlock (device B): %v", err)
	}

	state := types.NewStorageState()
	blob, err := Seal(keyA, state)
	if err != nil {
		t.Fatalf("Seal on device A: %v", err)
	}
	if _, err := Open(keyB, blob); err != nil {
		t.Fatalf("device B failed to open device A's blob: %v", err)
	}
}
