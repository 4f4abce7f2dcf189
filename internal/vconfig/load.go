package vconfig

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Load reads a TOML configuration file at path and overlays it onto
// Default(). An empty path returns the defaults unchanged. Unknown TOML
// keys are rejected (toml.DecodeFile with strict metadata checking) so
// typos in a challenge descriptor fail fast at startup rather than
// silently falling back to a zero value.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	if _, err := os.Stat(path); err != nil {
		return Config{}, fmt.Errorf("vconfig: stat %s: %w", path, err)
	}

	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("vconfig: decode %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("vconfig: %s has unknown keys: %v", path, undecoded)
	}

	// Fields left at their TOML zero value fall back to documented
	// constants defaults rather than becoming 0/"" at runtime.
	zero := DefaultConstants()
	if cfg.Constants.NChallengesPerEpoch == 0 {
		cfg.Constants.NChallengesPerEpoch = zero.NChallengesPerEpoch
	}
	if cfg.Constants.ScoringHour == 0 {
		cfg.Constants.ScoringHour = zero.ScoringHour
	}
	if cfg.Constants.PointDecayRate == 0 {
		cfg.Constants.PointDecayRate = zero.PointDecayRate
	}
	if cfg.Constants.RevealInterval == 0 {
		cfg.Constants.RevealInterval = zero.RevealInterval
	}
	if cfg.Constants.EpochLength == 0 {
		cfg.Constants.EpochLength = zero.EpochLength
	}
	if cfg.Constants.QueryTimeout == 0 {
		cfg.Constants.QueryTimeout = zero.QueryTimeout
	}
	if cfg.Constants.MinValidatorStake == 0 {
		cfg.Constants.MinValidatorStake = zero.MinValidatorStake
	}
	if cfg.Constants.ChallengeDockerPort == 0 {
		cfg.Constants.ChallengeDockerPort = zero.ChallengeDockerPort
	}
	if cfg.Constants.MinerDockerPort == 0 {
		cfg.Constants.MinerDockerPort = zero.MinerDockerPort
	}

	cfg.ApplyTestnetOverrides(os.Getenv("TESTNET"))

	return cfg, nil
}
