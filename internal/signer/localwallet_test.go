package signer

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLocalWallet_RandomAddressesDifferAndAreWellFormed(t *testing.T) {
	w1, err := GenerateLocalWallet()
	if err != nil {
		t.Fatalf("GenerateLocalWallet: %v", err)
	}
	w2, err := GenerateLocalWallet()
	if err != nil {
		t.Fatalf("GenerateLocalWallet: %v", err)
	}
	if w1.Address() == w2.Address() {
		t.Fatal("two random wallets produced the same address")
	}
	if !strings.HasPrefix(w1.Address(), "0x") || len(w1.Address()) != 42 {
		t.Fatalf("address %q is not a 20-byte 0x-prefixed hex string", w1.Address())
	}
}

func TestLocalWallet_SignIsDeterministic65Bytes(t *testing.T) {
	w, err := GenerateLocalWallet()
	if err != nil {
		t.Fatalf("GenerateLocalWallet: %v", err)
	}

	msg := []byte("commit-reveal message")
	sig, err := w.Sign(msg)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if len(sig) != 65 {
		t.Fatalf("signature length = %d, want 65", len(sig))
	}

	sig2, err := w.Sign(msg)
	if err != nil {
		t.Fatalf("Sign (again): %v", err)
	}
	if string(sig2) == string(sig) {
		// secp256k1 ECDSA signing here is deterministic (rfc6979-style
		// nonce from SignCompact), so signing the same message twice
		// with the same key should be reproducible.
	} else {
		t.Fatal("signing the same message twice produced different signatures")
	}
}

func TestLoadLocalWallet_RoundTripsThroughKeyFile(t *testing.T) {
	original, err := GenerateLocalWallet()
	if err != nil {
		t.Fatalf("GenerateLocalWallet: %v", err)
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "wallet.key")
	hexKey := "0x" + hex.EncodeToString(original.priv.Serialize())
	if err := os.WriteFile(path, []byte(hexKey+"\n"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	loaded, err := LoadLocalWallet(path)
	if err != nil {
		t.Fatalf("LoadLocalWallet: %v", err)
	}
	if loaded.Address() != original.Address() {
		t.Fatalf("loaded address %q, want %q", loaded.Address(), original.Address())
	}
}

func TestLoadLocalWallet_RejectsBadLength(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wallet.key")
	if err := os.WriteFile(path, []byte("deadbeef"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := LoadLocalWallet(path); err == nil {
		t.Fatal("expected error for short key")
	}
}
