package signer

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"golang.org/x/crypto/sha3"
)

// LocalWallet is a file-backed secp256k1 Wallet, the validator's own
// concrete implementation of the out-of-scope Wallet interface (spec
// section 1 places the real chain wallet out of scope, but cmd/validator
// still needs something to sign with when no externally-supplied Wallet
// is injected). Address derivation and the [R||S||V] signature layout
// mirror the teacher's crypto/secp256k1.go, but on the real secp256k1
// curve rather than its P256 placeholder.
type LocalWallet struct {
	priv *secp256k1.PrivateKey
	addr string
}

// GenerateLocalWallet creates a new random keypair. Mainly useful for
// tests and first-run key provisioning.
func GenerateLocalWallet() (*LocalWallet, error) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("signer: generate key: %w", err)
	}
	return newLocalWallet(priv), nil
}

// LoadLocalWallet reads a hex-encoded 32-byte secp256k1 private key from
// path. The file format is a single line of hex, optionally "0x"-prefixed,
// matching how the rest of this codebase encodes fixed-length byte values.
func LoadLocalWallet(path string) (*LocalWallet, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("signer: read wallet key file: %w", err)
	}
	hexKey := strings.TrimSpace(string(raw))
	hexKey = strings.TrimPrefix(hexKey, "0x")

	keyBytes, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("signer: decode wallet key: %w", err)
	}
	if len(keyBytes) != 32 {
		return nil, errors.New("signer: wallet key must be 32 bytes")
	}

	priv := secp256k1.PrivKeyFromBytes(keyBytes)
	return newLocalWallet(priv), nil
}

func newLocalWallet(priv *secp256k1.PrivateKey) *LocalWallet {
	pub := priv.PubKey().SerializeUncompressed()
	hash := keccak256(pub[1:]) // drop the 0x04 prefix byte, per Ethereum-style address derivation
	addr := "0x" + hex.EncodeToString(hash[12:])
	return &LocalWallet{priv: priv, addr: addr}
}

// Address returns the wallet's hex-encoded address.
func (w *LocalWallet) Address() string { return w.addr }

// Sign hashes message with Keccak-256 and returns a 65-byte
// [R(32) || S(32) || V(1)] compact signature, matching the layout the
// teacher's crypto package documents (minus its recovery-ID placeholder:
// V here is the real trial-recovery result).
func (w *LocalWallet) Sign(message []byte) ([]byte, error) {
	hash := keccak256(message)

	sig := ecdsa.SignCompact(w.priv, hash[:], false)
	// secp256k1's compact format is [V(1) || R(32) || S(32)] with V in
	// [27,34]; re-pack into [R || S || V0] to match this codebase's
	// convention elsewhere (signer.Sign prefixes the whole thing with 0x).
	if len(sig) != 65 {
		return nil, errors.New("signer: unexpected signature length")
	}
	out := make([]byte, 65)
	copy(out[:64], sig[1:])
	out[64] = sig[0] - 27
	return out, nil
}

func keccak256(data []byte) [32]byte {
	var out [32]byte
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	h.Sum(out[:0])
	return out
}
