// Package chainclient declares the interfaces the validator loop needs
// from the blockchain side of the system: participant discovery, miner
// RPC, and weight emission. Spec section 1 places the chain client and
// wallet implementations themselves out of scope; this package exists so
// internal/validator can depend on a narrow contract instead of a
// concrete chain SDK.
package chainclient

import (
	"context"
)

// Participant is one entry in the chain's subnet roster: a miner's
// on-chain identity and the endpoint the validator RPCs to reach it.
type Participant struct {
	UID     int
	Address string
	Axon    string // host:port the validator dials for the Commit RPC
}

// CommitResponse is what a participant returns for an empty Commit
// request (spec section 6's Miner RPC contract).
type CommitResponse struct {
	EncryptedCommitDockers map[string][]byte // challenge_name -> ciphertext
	PublicKeys             map[string][]byte // challenge_name -> reveal key, only for deadline-passed commitments
}

// Chain is the subset of chain operations the validator loop drives
// directly (spec section 4.F).
type Chain interface {
	// Participants returns the current subnet roster.
	Participants(ctx context.Context) ([]Participant, error)

	// QueryCommit sends an empty Commit request to p and returns its
	// response. A transient network error here is logged by the caller
	// and retried next epoch (spec section 7).
	QueryCommit(ctx context.Context, p Participant) (CommitResponse, error)

	// SetWeights emits a normalized weight vector with a version tag
	// derived from major*1000 + minor*10 + patch (spec section 4.F).
	SetWeights(ctx context.Context, weights []float64, versionTag int) error

	// NormalizeWeights runs the chain client's normalizer/quantizer over
	// a raw weight vector before SetWeights is called.
	NormalizeWeights(weights []float64) []float64

	// IsRegistered reports whether the validator's wallet is registered
	// on the subnet; a false result is fatal at startup (spec section 7).
	IsRegistered(ctx context.Context, walletAddress string) (bool, error)

	// Stake returns the validator's current stake, checked against
	// MinValidatorStake at startup.
	Stake(ctx context.Context, walletAddress string) (int64, error)
}

// VersionTag derives spec section 4.F's set_weights version tag from a
// semantic version triple.
func VersionTag(major, minor, patch int) int {
	return major*1000 + minor*10 + patch
}
