package challenge

import (
	"crypto/sha256"
	"encoding/json"

	"github.com/tungdop2/RedTeam/internal/vmetrics"
)

// detectDuplicateOutputs implements the optional post-scoring pass
// supplementing the original's image-perceptual-hash duplicate check
// (dependency_modules/rewarding/hash_compare.py's matching_image/
// infer_hash: hash each miner's output and flag submissions that match
// another miner's for the same task). hash_compare.py hashes decoded
// images with a perceptual hash; no image or perceptual-hash library
// appears anywhere in the retrieval pack, and this controller's outputs
// are opaque challenge-defined JSON rather than guaranteed images, so the
// comparison here generalizes to an exact content hash of each output's
// canonical JSON encoding, grouped by task so only outputs answering the
// same task are compared against each other.
//
// Entries are mutated in place: every output past the first one seen for
// a given task+hash has its Score zeroed, mirroring how a failed solve or
// unhealthy miner already zeroes a submission's score elsewhere in this
// controller. The first miner to produce a given output keeps its score,
// since nothing in the log orders miners by trust and zeroing every
// match would also zero the original.
func detectDuplicateOutputs(entries []LogEntry) {
	seen := make(map[string]string, len(entries)) // task+hash -> first miner ID
	duplicates := 0

	for i := range entries {
		entry := &entries[i]
		if entry.MinerOutput == nil {
			continue
		}
		key, err := outputKey(entry.MinerInput, entry.MinerOutput)
		if err != nil {
			logger.Warn("duplicate-output hashing failed", "miner_id", entry.MinerID, "err", err)
			continue
		}

		first, ok := seen[key]
		if !ok {
			seen[key] = entry.MinerID
			continue
		}
		if first == entry.MinerID {
			continue
		}

		logger.Warn("duplicate output detected", "miner_id", entry.MinerID, "matches_miner_id", first)
		entry.Score = 0
		duplicates++
	}

	if duplicates > 0 {
		vmetrics.DuplicateOutputsFound.Add(float64(duplicates))
	}
}

// outputKey hashes input and output together so two miners only collide
// when they answered the same task identically, not merely by chance
// coincidence of their outputs on different tasks.
func outputKey(input Task, output map[string]any) (string, error) {
	inputJSON, err := json.Marshal(input)
	if err != nil {
		return "", err
	}
	outputJSON, err := json.Marshal(output)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(append(inputJSON, outputJSON...))
	return string(sum[:]), nil
}
