package commit

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/tungdop2/RedTeam/internal/vlog"
	"github.com/tungdop2/RedTeam/internal/vmetrics"
)

var logger = vlog.Default().Module("commit")

// key identifies a commitment by (miner, challenge), mirroring the
// teacher's map-of-name shape in node/health_checker.go, adapted from a
// single string key to this composite one. The map keeps no key order.
type key struct {
	minerID   string
	challenge string
}

// Registry holds every miner's per-challenge commitments (spec section
// 4.A). All methods are safe for concurrent use, though spec section 5
// notes the registry is in practice written only by the epoch thread.
type Registry struct {
	mu          sync.RWMutex
	commitments map[key]*Commitment
	activeChallenges map[string]bool
}

// NewRegistry creates an empty Registry. activeChallenges lists the
// challenge names currently configured; Upsert silently drops commitments
// for challenges not in this set (spec section 4.A).
func NewRegistry(activeChallenges []string) *Registry {
	active := make(map[string]bool, len(activeChallenges))
	for _, c := range activeChallenges {
		active[c] = true
	}
	return &Registry{
		commitments:      make(map[key]*Commitment),
		activeChallenges: active,
	}
}

// Upsert implements spec section 4.A's upsert contract: if ciphertext
// differs from the stored one, replace it and reset the commit timestamp;
// otherwise update the key in place if a new one was supplied. Fails
// silently (and removes any prior entry) if the challenge is no longer
// active.
func (r *Registry) Upsert(minerID, challenge string, ciphertext []byte, revealKey []byte, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key{minerID, challenge}

	if !r.activeChallenges[challenge] {
		delete(r.commitments, k)
		return
	}

	existing, ok := r.commitments[k]
	if !ok {
		c := NewCommitment(minerID, challenge, ciphertext, now)
		if revealKey != nil {
			c.RevealKey = revealKey
		}
		r.commitments[k] = c
		return
	}

	if string(existing.EncryptedPayload) != string(ciphertext) {
		existing.replacePayload(ciphertext, now)
	}
	if revealKey != nil {
		existing.RevealKey = revealKey
	}
}

// closeDeadline returns today's reveal-close deadline (SCORING_HOUR:00:00
// local time) relative to now, per spec section 4.A's exact reveal gating
// rule.
func closeDeadline(now time.Time, scoringHour int) time.Time {
	return time.Date(now.Year(), now.Month(), now.Day(), scoringHour, 0, 0, 0, now.Location())
}

// EligibleToReveal reports whether a commitment with the given
// commitTimestamp is eligible to reveal at now, per spec section 4.A's
// exact rule: commit_timestamp < T_close - 1 day.
func EligibleToReveal(commitTimestamp, now time.Time, scoringHour int) bool {
	deadline := closeDeadline(now, scoringHour).AddDate(0, 0, -1)
	return commitTimestamp.Before(deadline)
}

// TryReveal attempts to decrypt every commitment whose reveal key is set
// and whose commit timestamp clears the reveal gate (spec section 4.A).
// Decryption failures are logged and leave RevealedPayload unset; they
// never propagate.
func (r *Registry) TryReveal(now time.Time, scoringHour int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range r.commitments {
		if len(c.RevealKey) == 0 {
			continue
		}
		if c.RevealedPayload != "" {
			continue
		}
		if !EligibleToReveal(c.CommitTimestamp, now, scoringHour) {
			continue
		}

		plain, err := Decrypt(string(c.EncryptedPayload), c.RevealKey)
		if err != nil {
			logger.Warn("reveal decryption failed", "miner_id", c.MinerID, "challenge", c.Challenge, "err", err)
			vmetrics.RevealFailures.Inc()
			continue
		}
		if _, _, err := ParseRevealedPayload(plain); err != nil {
			logger.Warn("revealed payload invalid", "miner_id", c.MinerID, "challenge", c.Challenge, "err", err)
			vmetrics.RevealFailures.Inc()
			continue
		}
		c.RevealedPayload = plain
	}
}

// RevealedSet is the result of CollectRevealed: per challenge, the parallel
// slices of image references and miner ids, in Commitment iteration order.
type RevealedSet struct {
	ImageRefs []string
	MinerIDs  []string
}

// CollectRevealed implements spec section 4.A's collect_revealed: only
// commitments with a non-empty RevealedPayload are included.
func (r *Registry) CollectRevealed() map[string]*RevealedSet {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]*RevealedSet)
	for _, c := range r.commitments {
		if c.RevealedPayload == "" {
			continue
		}
		_, ref, err := ParseRevealedPayload(c.RevealedPayload)
		if err != nil {
			continue
		}
		set, ok := out[c.Challenge]
		if !ok {
			set = &RevealedSet{}
			out[c.Challenge] = set
		}
		set.ImageRefs = append(set.ImageRefs, ref)
		set.MinerIDs = append(set.MinerIDs, c.MinerID)
	}
	return out
}

// AppendScore implements spec section 4.A's append_score: maintains the
// 14-day rolling window, dropping stale dates before appending.
func (r *Registry) AppendScore(minerID, challenge, date string, record ScoringRecord, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.commitments[key{minerID, challenge}]
	if !ok {
		return
	}
	c.pruneScoringLog(now)
	c.ScoringLog[date] = append(c.ScoringLog[date], record)
}

// Get returns a snapshot copy of the commitment for (minerID, challenge),
// or nil if none exists.
func (r *Registry) Get(minerID, challenge string) *Commitment {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.commitments[key{minerID, challenge}]
	if !ok {
		return nil
	}
	cp := *c
	return &cp
}

// Snapshot returns a shallow copy of every stored commitment, used by the
// storage manager to persist without holding the registry lock while doing
// I/O (spec section 5, "the storage worker reads snapshots").
func (r *Registry) Snapshot() []*Commitment {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Commitment, 0, len(r.commitments))
	for _, c := range r.commitments {
		cp := *c
		out = append(out, &cp)
	}
	return out
}

// CacheKey returns the sha256-hex key used to address a commitment's
// encrypted payload in the local cache (spec section 4.E).
func CacheKey(encryptedPayload []byte) string {
	sum := sha256.Sum256(encryptedPayload)
	return hex.EncodeToString(sum[:])
}
