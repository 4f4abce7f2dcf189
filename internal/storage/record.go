// Package storage implements the three-tier Storage Manager (spec
// section 4.E): an embedded L0 local cache, a public L1 object hub, and
// a centralized L2 HTTP API, reconciled by a background worker pool and
// an hourly sync job.
package storage

import (
	"encoding/json"

	"github.com/tungdop2/RedTeam/internal/vlog"
)

var logger = vlog.Default().Module("storage")

// ScoringLogEntry mirrors internal/challenge.LogEntry's exported shape
// for archival; storage never imports internal/challenge so record
// construction stays the caller's responsibility.
type ScoringLogEntry struct {
	MinerID     string         `json:"miner_id"`
	MinerInput  map[string]any `json:"miner_input,omitempty"`
	MinerOutput map[string]any `json:"miner_output,omitempty"`
	Score       float64        `json:"score"`
}

// Record is one submission's persisted shape: a revealed commitment plus
// its scoring history, addressed by the sha256 of its encrypted payload
// (spec section 4.E).
type Record struct {
	Challenge        string            `json:"challenge"`
	MinerID          string            `json:"miner_id"`
	Date             string            `json:"date"`
	EncryptedPayload []byte            `json:"encrypted_payload"`
	ImageRef         string            `json:"image_ref"`
	ScoringLog       []ScoringLogEntry `json:"scoring_log"`
}

// CacheKey is the L0/identity key for a record: sha256(encrypted_payload)
// as hex, computed from the record's own EncryptedPayload (the same value
// internal/commit.CacheKey produces).
func (r Record) CacheKey() string {
	return cacheKeyOf(r.EncryptedPayload)
}

// Sanitized returns a copy of r with miner_input and miner_output
// dropped from every scoring-log entry, per spec section 4.E step 1's
// privacy rule. The record otherwise round-trips through JSON unchanged.
func (r Record) Sanitized() Record {
	out := r
	out.ScoringLog = make([]ScoringLogEntry, len(r.ScoringLog))
	for i, e := range r.ScoringLog {
		out.ScoringLog[i] = ScoringLogEntry{MinerID: e.MinerID, Score: e.Score}
	}
	return out
}

func (r Record) marshal() ([]byte, error) {
	return json.Marshal(r)
}
