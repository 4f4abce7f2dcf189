// Package challenge implements the per-challenge controller state machine
// (spec section 4.C): bring up a grader, fetch tasks, run each submission
// against a freshly isolated miner container, and collect a scoring log.
package challenge

import (
	"time"

	"github.com/tungdop2/RedTeam/internal/vconfig"
	"github.com/tungdop2/RedTeam/internal/vlog"
)

var logger = vlog.Default().Module("challenge")

// Submission is one miner's revealed entry for a challenge epoch: an
// image reference paired with the miner id that revealed it.
type Submission struct {
	MinerID  string
	ImageRef string
}

// Task is an opaque challenge-defined object returned by the grader's
// /task endpoint (spec section 6).
type Task map[string]any

// LogEntry records one (task, submission) pairing's outcome, in the
// shape the Miner Manager consumes (spec section 4.C step 4.e).
type LogEntry struct {
	MinerID     string
	MinerInput  Task
	MinerOutput map[string]any
	Score       float64
}

// Result is the accumulated outcome of running one challenge for one
// epoch: the ordered log list spec section 4.C's algorithm step 5
// returns.
type Result struct {
	Challenge string
	Logs      []LogEntry
}

// Descriptor is the static, declarative definition of a challenge,
// populated at startup from configuration (spec section 9's design note
// replacing dynamic duck-typed handlers with a registry keyed by name).
type Descriptor struct {
	Name                  string
	BuildDir              string
	IncentiveWeight       float64
	CPUs                  float64
	MemoryBytes           int64
	GPUIDs                []string
	Environment           map[string]string
	GraderScheme          string
	GraderVerifyTLS       bool
	MinerScheme           string
	MinerVerifyTLS        bool
	SolveTimeout          time.Duration
	RunTimeout            time.Duration
	ExcludeMinerInputKeys []string

	// DetectDuplicateOutputs gates the optional post-scoring duplicate-
	// output pass (see duplicates.go). Off by default: it changes which
	// submissions end up with a zero score, so operators opt in per
	// challenge rather than having it silently alter §4.D's scoring
	// contract.
	DetectDuplicateOutputs bool
}

// FromConfig builds a Descriptor from one configured challenge entry.
func FromConfig(c vconfig.ChallengeConfig) Descriptor {
	return Descriptor{
		Name:                  c.Name,
		BuildDir:              c.BuildDir,
		IncentiveWeight:       c.IncentiveWeight,
		CPUs:                  c.CPUs,
		MemoryBytes:           int64(c.MemoryMB) << 20,
		GPUIDs:                c.GPUIDs,
		Environment:           c.Environment,
		GraderScheme:          orDefault(c.GraderScheme, "http"),
		GraderVerifyTLS:       c.GraderVerifyTLS,
		MinerScheme:           orDefault(c.MinerScheme, "http"),
		MinerVerifyTLS:        c.MinerVerifyTLS,
		SolveTimeout:           secOrDefault(c.SolveTimeoutSec, 60*time.Second),
		RunTimeout:             secOrDefault(c.RunTimeoutSec, 600*time.Second),
		ExcludeMinerInputKeys:  c.ExcludeMinerInputKeys,
		DetectDuplicateOutputs: c.DetectDuplicateOutputs,
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func secOrDefault(sec int, def time.Duration) time.Duration {
	if sec <= 0 {
		return def
	}
	return time.Duration(sec) * time.Second
}
