package commit

import (
	"testing"
	"time"
)

func mustParseDate(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := time.ParseInLocation("2006-01-02 15:04:05", s, time.Local)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func TestUpsert_NewCommitment(t *testing.T) {
	r := NewRegistry([]string{"ch1"})
	now := time.Now()
	r.Upsert("m1", "ch1", []byte("ct1"), nil, now)

	c := r.Get("m1", "ch1")
	if c == nil {
		t.Fatal("expected commitment to exist")
	}
	if string(c.EncryptedPayload) != "ct1" {
		t.Errorf("EncryptedPayload = %q", c.EncryptedPayload)
	}
}

func TestUpsert_InactiveChallengeDropped(t *testing.T) {
	r := NewRegistry([]string{"ch1"})
	r.Upsert("m1", "ch2", []byte("ct1"), nil, time.Now())
	if c := r.Get("m1", "ch2"); c != nil {
		t.Fatal("expected commitment for inactive challenge to be dropped")
	}
}

func TestUpsert_ReplacingCiphertextResetsTimestamp(t *testing.T) {
	r := NewRegistry([]string{"ch1"})
	t1 := mustParseDate(t, "2026-01-01 10:00:00")
	r.Upsert("m1", "ch1", []byte("ct1"), nil, t1)

	c := r.Get("m1", "ch1")
	c.RevealedPayload = "ch1---repo/img@sha256:" + fortyTwoHexChars(64)
	r.commitments[key{"m1", "ch1"}].RevealedPayload = c.RevealedPayload

	t2 := mustParseDate(t, "2026-01-02 10:00:00")
	r.Upsert("m1", "ch1", []byte("ct2"), nil, t2)

	c = r.Get("m1", "ch1")
	if !c.CommitTimestamp.Equal(t2) {
		t.Errorf("CommitTimestamp = %v, want %v", c.CommitTimestamp, t2)
	}
	if c.RevealedPayload != "" {
		t.Error("expected RevealedPayload to be cleared on replace")
	}
}

func TestUpsert_SameCiphertextUpdatesKeyOnly(t *testing.T) {
	r := NewRegistry([]string{"ch1"})
	t1 := mustParseDate(t, "2026-01-01 10:00:00")
	r.Upsert("m1", "ch1", []byte("ct1"), nil, t1)

	key1 := testKey()
	t2 := mustParseDate(t, "2026-01-02 10:00:00")
	r.Upsert("m1", "ch1", []byte("ct1"), key1, t2)

	c := r.Get("m1", "ch1")
	if !c.CommitTimestamp.Equal(t1) {
		t.Errorf("CommitTimestamp changed on same-ciphertext upsert: got %v, want %v", c.CommitTimestamp, t1)
	}
	if string(c.RevealKey) != string(key1) {
		t.Error("expected reveal key to be set in place")
	}
}

// Boundary scenario 1 from spec section 8: commit at 13:59 day D does not
// reveal at 14:00 day D, but does reveal at 14:00 day D+1.
func TestEligibleToReveal_BoundaryScenario(t *testing.T) {
	scoringHour := 14
	commitTime := mustParseDate(t, "2026-01-01 13:59:00")

	sameDayClose := mustParseDate(t, "2026-01-01 14:00:00")
	if EligibleToReveal(commitTime, sameDayClose, scoringHour) {
		t.Fatal("should not be eligible to reveal at 14:00 on the same day")
	}

	nextDayClose := mustParseDate(t, "2026-01-02 14:00:00")
	if !EligibleToReveal(commitTime, nextDayClose, scoringHour) {
		t.Fatal("should be eligible to reveal at 14:00 the next day")
	}
}

func TestTryReveal_DecryptsEligibleCommitments(t *testing.T) {
	r := NewRegistry([]string{"ch1"})
	key1 := testKey()
	ref := "repo/img@sha256:" + fortyTwoHexChars(64)
	payload := "ch1---" + ref
	ct, err := Encrypt(payload, key1)
	if err != nil {
		t.Fatal(err)
	}

	commitTime := mustParseDate(t, "2026-01-01 10:00:00")
	r.Upsert("m1", "ch1", []byte(ct), key1, commitTime)

	now := mustParseDate(t, "2026-01-02 15:00:00")
	r.TryReveal(now, 14)

	c := r.Get("m1", "ch1")
	if c.RevealedPayload != payload {
		t.Errorf("RevealedPayload = %q, want %q", c.RevealedPayload, payload)
	}
	if c.ImageRef() != ref {
		t.Errorf("ImageRef() = %q, want %q", c.ImageRef(), ref)
	}
}

func TestTryReveal_NotYetEligible(t *testing.T) {
	r := NewRegistry([]string{"ch1"})
	key1 := testKey()
	ct, _ := Encrypt("ch1---repo/img@sha256:"+fortyTwoHexChars(64), key1)

	commitTime := mustParseDate(t, "2026-01-01 13:59:00")
	r.Upsert("m1", "ch1", []byte(ct), key1, commitTime)

	now := mustParseDate(t, "2026-01-01 14:00:00")
	r.TryReveal(now, 14)

	if c := r.Get("m1", "ch1"); c.RevealedPayload != "" {
		t.Fatal("expected commitment not to reveal before gate passes")
	}
}

func TestTryReveal_BadKeyLeavesUnrevealed(t *testing.T) {
	r := NewRegistry([]string{"ch1"})
	key1 := testKey()
	ct, _ := Encrypt("ch1---repo/img@sha256:"+fortyTwoHexChars(64), key1)

	commitTime := mustParseDate(t, "2026-01-01 10:00:00")
	badKey := make([]byte, KeySize)
	r.Upsert("m1", "ch1", []byte(ct), badKey, commitTime)

	now := mustParseDate(t, "2026-01-02 15:00:00")
	r.TryReveal(now, 14)

	if c := r.Get("m1", "ch1"); c.RevealedPayload != "" {
		t.Fatal("expected decryption failure to leave RevealedPayload unset")
	}
}

func TestCollectRevealed(t *testing.T) {
	r := NewRegistry([]string{"ch1"})
	key1 := testKey()
	ref := "repo/img@sha256:" + fortyTwoHexChars(64)
	ct, _ := Encrypt("ch1---"+ref, key1)

	commitTime := mustParseDate(t, "2026-01-01 10:00:00")
	r.Upsert("m1", "ch1", []byte(ct), key1, commitTime)
	r.Upsert("m2", "ch1", []byte("unrevealed"), nil, commitTime)

	now := mustParseDate(t, "2026-01-02 15:00:00")
	r.TryReveal(now, 14)

	revealed := r.CollectRevealed()
	set, ok := revealed["ch1"]
	if !ok {
		t.Fatal("expected ch1 in revealed set")
	}
	if len(set.ImageRefs) != 1 || set.ImageRefs[0] != ref {
		t.Errorf("ImageRefs = %v", set.ImageRefs)
	}
	if len(set.MinerIDs) != 1 || set.MinerIDs[0] != "m1" {
		t.Errorf("MinerIDs = %v", set.MinerIDs)
	}
}

func TestAppendScore_RollingWindow(t *testing.T) {
	r := NewRegistry([]string{"ch1"})
	now := mustParseDate(t, "2026-01-20 10:00:00")
	r.Upsert("m1", "ch1", []byte("ct1"), nil, now)

	oldDate := "2025-12-01" // more than 14 days before now
	r.AppendScore("m1", "ch1", oldDate, ScoringRecord{MinerID: "m1", Score: 0.5}, now)
	r.AppendScore("m1", "ch1", "2026-01-20", ScoringRecord{MinerID: "m1", Score: 0.9}, now)

	c := r.Get("m1", "ch1")
	if _, ok := c.ScoringLog[oldDate]; ok {
		t.Error("expected stale date to be pruned from scoring log")
	}
	if _, ok := c.ScoringLog["2026-01-20"]; !ok {
		t.Error("expected current date to be present in scoring log")
	}
}

func TestCacheKey_Deterministic(t *testing.T) {
	a := CacheKey([]byte("payload"))
	b := CacheKey([]byte("payload"))
	if a != b {
		t.Fatal("CacheKey should be deterministic")
	}
	if len(a) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(a))
	}
}
