// Package signer implements the canonical-JSON signing contract used to
// authenticate every write the validator makes to the centralized HTTP
// API (spec section 4.G).
package signer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"
)

// Wallet is the minimal signing capability the chain client's keypair
// exposes; the concrete implementation is out of scope (spec section 1)
// and is injected here as an interface so Sign can be tested without a
// real wallet.
type Wallet interface {
	Address() string
	Sign(message []byte) ([]byte, error)
}

// Signed is the envelope Sign attaches to a payload: the nonce used and
// the resulting hex-prefixed signature, ready to travel alongside the
// original payload (spec section 4.G: "attach {nonce, signature} to the
// payload").
type Signed struct {
	Nonce     string `json:"nonce"`
	Signature string `json:"signature"`
}

// Sign canonicalizes payload as sorted-key JSON with no whitespace,
// builds message = canonical || address || nonce where nonce is the
// current time in nanoseconds as a decimal string, signs it with
// wallet, and returns the resulting envelope. A non-serializable
// payload is surfaced as a caller error rather than panicking (spec
// section 4.G).
func Sign(wallet Wallet, payload any, now time.Time) (Signed, error) {
	canonical, err := Canonicalize(payload)
	if err != nil {
		return Signed{}, fmt.Errorf("signer: canonicalize payload: %w", err)
	}

	nonce := strconv.FormatInt(now.UnixNano(), 10)
	message := append(append(canonical, []byte(wallet.Address())...), []byte(nonce)...)

	sig, err := wallet.Sign(message)
	if err != nil {
		return Signed{}, fmt.Errorf("signer: sign message: %w", err)
	}

	return Signed{Nonce: nonce, Signature: fmt.Sprintf("0x%x", sig)}, nil
}

// Canonicalize serializes v as JSON with object keys sorted
// lexicographically and no insignificant whitespace, so repeated calls
// on semantically equal values always produce byte-identical output.
func Canonicalize(v any) ([]byte, error) {
	buf, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(buf, &generic); err != nil {
		return nil, err
	}
	var out bytes.Buffer
	if err := writeCanonical(&out, generic); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func writeCanonical(out *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				out.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			out.Write(kb)
			out.WriteByte(':')
			if err := writeCanonical(out, val[k]); err != nil {
				return err
			}
		}
		out.WriteByte('}')
	case []any:
		out.WriteByte('[')
		for i, e := range val {
			if i > 0 {
				out.WriteByte(',')
			}
			if err := writeCanonical(out, e); err != nil {
				return err
			}
		}
		out.WriteByte(']')
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return err
		}
		out.Write(b)
	}
	return nil
}
