// Package commit implements the commit-reveal state machine (spec section
// 4.A): per-(miner, challenge) encrypted commitments, time-locked reveal,
// and a rolling 14-day scoring log.
package commit

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// ScoringWindowDays is the rolling window kept on each commitment's
// scoring log, and the TTL used by the local cache (spec sections 3, 4.A, 4.E).
const ScoringWindowDays = 14

// imageRefPattern matches a fully digest-pinned image reference, per spec
// sections 3 and 6: ".+@sha256:[0-9a-fA-F]{64}$".
var imageRefPattern = regexp.MustCompile(`.+@sha256:[0-9a-fA-F]{64}$`)

// ValidImageRef reports whether ref matches the required digest-pinned
// image reference shape.
func ValidImageRef(ref string) bool {
	return imageRefPattern.MatchString(ref)
}

// ScoringRecord is one entry of a Commitment's scoring log for a single
// date (spec section 3, ScoringLog).
type ScoringRecord struct {
	MinerID     string
	Score       float64
	MinerInput  map[string]any
	MinerOutput map[string]any // nil on error/no-output
	MinerImageRef string
}

// Commitment is the owned record for a single (miner, challenge) pair
// (spec section 3).
type Commitment struct {
	MinerID   string
	Challenge string

	EncryptedPayload []byte
	CommitTimestamp  time.Time

	RevealKey       []byte // nil until a key is observed
	RevealedPayload string // "" until successfully decrypted

	// ScoringLog maps date (YYYY-MM-DD) to that day's scoring records,
	// holding at most ScoringWindowDays distinct dates.
	ScoringLog map[string][]ScoringRecord
}

// NewCommitment creates a freshly-observed commitment (spec section 3,
// "Lifecycle: created on first observation from a miner").
func NewCommitment(minerID, challenge string, ciphertext []byte, now time.Time) *Commitment {
	return &Commitment{
		MinerID:          minerID,
		Challenge:        challenge,
		EncryptedPayload: ciphertext,
		CommitTimestamp:  now,
		ScoringLog:       make(map[string][]ScoringRecord),
	}
}

// ParseRevealedPayload splits a decrypted payload of the form
// "<challenge>---<image-ref>" (spec sections 3, 6) and validates the image
// reference shape.
func ParseRevealedPayload(payload string) (challenge, imageRef string, err error) {
	parts := strings.SplitN(payload, "---", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("commit: malformed revealed payload %q", payload)
	}
	challenge, imageRef = parts[0], parts[1]
	if !ValidImageRef(imageRef) {
		return "", "", fmt.Errorf("commit: revealed image ref %q does not match digest pattern", imageRef)
	}
	return challenge, imageRef, nil
}

// ImageRef returns the image reference encoded in RevealedPayload, or ""
// if the commitment has not been successfully revealed.
func (c *Commitment) ImageRef() string {
	if c.RevealedPayload == "" {
		return ""
	}
	_, ref, err := ParseRevealedPayload(c.RevealedPayload)
	if err != nil {
		return ""
	}
	return ref
}

// replacePayload implements the invariant in spec section 3: replacing
// EncryptedPayload resets CommitTimestamp and clears RevealedPayload and
// ScoringLog.
func (c *Commitment) replacePayload(ciphertext []byte, now time.Time) {
	c.EncryptedPayload = ciphertext
	c.CommitTimestamp = now
	c.RevealedPayload = ""
	c.ScoringLog = make(map[string][]ScoringRecord)
}

// pruneScoringLog drops scoring-log dates older than the ScoringWindowDays
// cutoff relative to now (spec section 4.A, append_score).
func (c *Commitment) pruneScoringLog(now time.Time) {
	cutoff := now.AddDate(0, 0, -ScoringWindowDays)
	for dateStr := range c.ScoringLog {
		d, err := time.Parse("2006-01-02", dateStr)
		if err != nil || d.Before(cutoff) {
			delete(c.ScoringLog, dateStr)
		}
	}
}
