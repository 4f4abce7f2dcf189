package signer

import (
	"errors"
	"testing"
	"time"
)

type fakeWallet struct {
	address   string
	lastMsg   []byte
	signErr   error
	signature []byte
}

func (w *fakeWallet) Address() string { return w.address }

func (w *fakeWallet) Sign(message []byte) ([]byte, error) {
	w.lastMsg = message
	if w.signErr != nil {
		return nil, w.signErr
	}
	if w.signature != nil {
		return w.signature, nil
	}
	return []byte{0xAB, 0xCD}, nil
}

func TestCanonicalize_SortsKeysAndStripsWhitespace(t *testing.T) {
	a, err := Canonicalize(map[string]any{"b": 2, "a": 1})
	if err != nil {
		t.Fatal(err)
	}
	if string(a) != `{"a":1,"b":2}` {
		t.Errorf("Canonicalize = %q", a)
	}
}

func TestCanonicalize_Deterministic(t *testing.T) {
	payload := map[string]any{"z": 1, "m": []any{3, 2, 1}, "a": map[string]any{"y": 1, "x": 2}}
	a, err := Canonicalize(payload)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Canonicalize(payload)
	if err != nil {
		t.Fatal(err)
	}
	if string(a) != string(b) {
		t.Fatal("expected canonicalization to be deterministic")
	}
}

func TestCanonicalize_RejectsNonSerializable(t *testing.T) {
	_, err := Canonicalize(map[string]any{"f": func() {}})
	if err == nil {
		t.Fatal("expected error for non-serializable payload")
	}
}

func TestSign_BuildsExpectedMessage(t *testing.T) {
	w := &fakeWallet{address: "0xABC"}
	now := time.Unix(0, 1700000000000000000)

	signed, err := Sign(w, map[string]any{"x": 1}, now)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if signed.Nonce != "1700000000000000000" {
		t.Errorf("Nonce = %q", signed.Nonce)
	}
	if signed.Signature != "0xabcd" {
		t.Errorf("Signature = %q", signed.Signature)
	}

	wantPrefix := `{"x":1}`
	if string(w.lastMsg[:len(wantPrefix)]) != wantPrefix {
		t.Errorf("message does not start with canonical payload: %q", w.lastMsg)
	}
}

func TestSign_PropagatesSignError(t *testing.T) {
	w := &fakeWallet{address: "0xABC", signErr: errors.New("hardware wallet disconnected")}
	if _, err := Sign(w, map[string]any{"x": 1}, time.Now()); err == nil {
		t.Fatal("expected sign error to propagate")
	}
}

func TestSign_NonSerializablePayloadIsCallerError(t *testing.T) {
	w := &fakeWallet{address: "0xABC"}
	if _, err := Sign(w, map[string]any{"f": func() {}}, time.Now()); err == nil {
		t.Fatal("expected canonicalize error to propagate")
	}
}
