// Package validator implements the epoch-driven Validator Loop (spec
// section 4.F): roster polling, commit-reveal bookkeeping, the daily
// scoring gate, and weight emission.
package validator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tungdop2/RedTeam/internal/chainclient"
	"github.com/tungdop2/RedTeam/internal/challenge"
	"github.com/tungdop2/RedTeam/internal/commit"
	"github.com/tungdop2/RedTeam/internal/container"
	"github.com/tungdop2/RedTeam/internal/ledger"
	"github.com/tungdop2/RedTeam/internal/signer"
	"github.com/tungdop2/RedTeam/internal/storage"
	"github.com/tungdop2/RedTeam/internal/vconfig"
	"github.com/tungdop2/RedTeam/internal/vlog"
	"github.com/tungdop2/RedTeam/internal/vmetrics"
)

var logger = vlog.Default().Module("validator")

// Loop owns every long-lived collaborator the spec's epoch cycle drives
// and runs the main thread plus its supporting background threads (spec
// section 5's five-thread model; container work is out-of-process).
type Loop struct {
	cfg vconfig.Config

	chain  chainclient.Chain
	wallet signer.Wallet
	engine container.Engine

	registry    *commit.Registry
	ledger      *ledger.Ledger
	challenges  *challenge.Registry
	storage     *storage.Manager
	descriptors map[string]challenge.Descriptor

	scoringDates map[string]bool

	stopCh chan struct{}
	doneCh chan struct{}
}

// Deps bundles every external collaborator Loop needs, for explicit
// construction and easy substitution in tests (spec section 9: pass a
// configuration/collaborator object through the constructor instead of
// relying on globals).
type Deps struct {
	Chain    chainclient.Chain
	Wallet   signer.Wallet
	Engine   container.Engine
	Registry *commit.Registry
	Ledger   *ledger.Ledger
	Storage  *storage.Manager
}

// New builds a Loop from configuration and its collaborators. The
// challenge registry is constructed here from cfg.Challenges using
// challenge.NewController as the sole factory (spec section 9's static
// registry design note).
func New(cfg vconfig.Config, deps Deps) *Loop {
	descriptors := make(map[string]challenge.Descriptor, len(cfg.Challenges))
	descList := make([]challenge.Descriptor, 0, len(cfg.Challenges))
	for _, cc := range cfg.Challenges {
		d := challenge.FromConfig(cc)
		descriptors[d.Name] = d
		descList = append(descList, d)
	}

	l := &Loop{
		cfg:          cfg,
		chain:        deps.Chain,
		wallet:       deps.Wallet,
		engine:       deps.Engine,
		registry:     deps.Registry,
		ledger:       deps.Ledger,
		storage:      deps.Storage,
		challenges:   challenge.NewRegistry(descList, challenge.NewController),
		descriptors:  descriptors,
		scoringDates: make(map[string]bool),
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}

	if deps.Wallet != nil && deps.Storage != nil {
		deps.Storage.SetSignFunc(func(body any) (storage.Signed, error) {
			signed, err := signer.Sign(deps.Wallet, body, time.Now())
			if err != nil {
				return storage.Signed{}, err
			}
			return storage.Signed{Nonce: signed.Nonce, Signature: signed.Signature}, nil
		})
	}

	return l
}

// Start runs the epoch loop and its background workers until Stop is
// called or ctx is canceled. It blocks; callers typically invoke it in
// its own goroutine.
func (l *Loop) Start(ctx context.Context) {
	defer close(l.doneCh)

	l.storage.Start(ctx)
	defer l.storage.Stop()

	challengeNames := l.challenges.Names()
	go l.storage.RunPeriodicSync(ctx, challengeNames, time.Hour)

	for {
		epochStart := time.Now()

		if err := l.runEpoch(ctx); err != nil {
			logger.Error("epoch iteration failed", "err", err)
		}
		vmetrics.EpochsRun.Inc()
		vmetrics.EpochDuration.Observe(float64(time.Since(epochStart).Milliseconds()))

		select {
		case <-ctx.Done():
			return
		case <-l.stopCh:
			return
		case <-time.After(sleepRemaining(epochStart, l.cfg.Constants.EpochLength)):
		}

		if err := l.emitWeights(ctx); err != nil {
			logger.Error("set_weights failed, retrying next epoch", "err", err)
			vmetrics.WeightEmitErrors.Inc()
		} else {
			vmetrics.WeightsEmitted.Inc()
		}
	}
}

// Stop signals Start's loop to exit after its current iteration and
// waits for it to finish.
func (l *Loop) Stop() {
	close(l.stopCh)
	<-l.doneCh
}

func sleepRemaining(epochStart time.Time, epochLength time.Duration) time.Duration {
	elapsed := time.Since(epochStart)
	remaining := epochLength - elapsed
	if remaining < 0 {
		return 0
	}
	return remaining
}

// runEpoch implements one pass of spec section 4.F's epoch cycle, up to
// (but not including) the post-sleep set_weights call.
func (l *Loop) runEpoch(ctx context.Context) error {
	participants, err := l.chain.Participants(ctx)
	if err != nil {
		return fmt.Errorf("validator: poll participants: %w", err)
	}

	uidByMiner := make(map[string]int, len(participants))
	now := time.Now()

	for _, p := range participants {
		uidByMiner[p.Address] = p.UID

		resp, err := l.chain.QueryCommit(ctx, p)
		if err != nil {
			logger.Warn("commit rpc failed", "participant", p.Address, "err", err)
			continue
		}
		for challengeName, ciphertext := range resp.EncryptedCommitDockers {
			key := resp.PublicKeys[challengeName]
			l.registry.Upsert(p.Address, challengeName, ciphertext, key, now)
			vmetrics.CommitmentsObserved.Inc()
		}
	}
	l.registry.TryReveal(now, l.cfg.Constants.ScoringHour)

	revealed := l.registry.CollectRevealed()
	for _, set := range revealed {
		vmetrics.CommitmentsRevealed.Add(int64(len(set.MinerIDs)))
	}

	l.persistCommitmentsAsync(ctx)

	today := now.Format("2006-01-02")
	if now.Hour() >= l.cfg.Constants.ScoringHour && !l.scoringDates[today] && len(revealed) > 0 {
		l.runScoringPass(ctx, revealed, uidByMiner, today)
	}

	return nil
}

// runScoringPass implements spec section 4.F's "on pass" branch: run
// every configured challenge (locally or via the centralized-scoring
// alternative) and feed the resulting logs into the Miner Manager.
func (l *Loop) runScoringPass(ctx context.Context, revealed map[string]*commit.RevealedSet, uidByMiner map[string]int, today string) {
	if l.cfg.UseCentralizedScoring {
		l.runCentralizedScoring(ctx, uidByMiner, today)
	} else {
		l.runLocalScoring(ctx, revealed, uidByMiner, today)
	}
	l.scoringDates[today] = true
}

func (l *Loop) runLocalScoring(ctx context.Context, revealed map[string]*commit.RevealedSet, uidByMiner map[string]int, today string) {
	for name := range l.descriptors {
		set, ok := revealed[name]
		if !ok {
			continue
		}

		submissions := make([]challenge.Submission, 0, len(set.MinerIDs))
		for i, minerID := range set.MinerIDs {
			submissions = append(submissions, challenge.Submission{MinerID: minerID, ImageRef: set.ImageRefs[i]})
		}

		ctrl, err := l.challenges.Build(name, l.challengeDeps())
		if err != nil {
			logger.Error("failed to build challenge controller", "challenge", name, "err", err)
			vmetrics.SubmissionErrors.Inc()
			continue
		}

		timer := vmetrics.NewTimer(vmetrics.ChallengeLatency)
		result := ctrl.Run(ctx, submissions)
		timer.Stop()
		vmetrics.ChallengesRun.Inc()
		l.feedLogsToLedger(name, result, uidByMiner, today)
	}
}

// runCentralizedScoring implements spec section 4.F's centralized
// scoring alternative: poll the central service until every active
// challenge reports done, then feed the same logs into the ledger as if
// produced locally.
func (l *Loop) runCentralizedScoring(ctx context.Context, uidByMiner map[string]int, today string) {
	pending := make(map[string]bool, len(l.descriptors))
	for name := range l.descriptors {
		pending[name] = true
	}

	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for len(pending) > 0 {
		for name := range pending {
			resp, err := l.storage.FetchScoringLogs(ctx, name)
			if err != nil {
				logger.Warn("centralized scoring log fetch failed", "challenge", name, "err", err)
				continue
			}
			if !resp.IsScoringDone {
				continue
			}

			result := challenge.Result{Challenge: name}
			for _, raw := range resp.SubmissionScoringLogs {
				entry, err := decodeRemoteLogEntry(raw)
				if err != nil {
					logger.Warn("malformed remote scoring log entry", "challenge", name, "err", err)
					continue
				}
				result.Logs = append(result.Logs, entry)
			}
			l.feedLogsToLedger(name, result, uidByMiner, today)
			delete(pending, name)
		}

		if len(pending) == 0 {
			break
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// challengeDeps builds the container/HTTP collaborator set every
// challenge controller shares (spec section 6's fixed port assignment).
func (l *Loop) challengeDeps() challenge.Dependencies {
	return challenge.Dependencies{
		Engine:              l.engine,
		ChallengePort:       l.cfg.Constants.ChallengeDockerPort,
		MinerPort:           l.cfg.Constants.MinerDockerPort,
		NetworkName:         "validator-net",
		NChallengesPerEpoch: l.cfg.Constants.NChallengesPerEpoch,
		ScoreTimeout:        l.cfg.Constants.QueryTimeout,
	}
}

// remoteLogEntry is the wire shape of one entry in
// ScoringLogsResponse.SubmissionScoringLogs, used only by the
// centralized-scoring alternative.
type remoteLogEntry struct {
	MinerID     string         `json:"miner_id"`
	MinerInput  map[string]any `json:"miner_input"`
	MinerOutput map[string]any `json:"miner_output"`
	Score       float64        `json:"score"`
}

func decodeRemoteLogEntry(raw json.RawMessage) (challenge.LogEntry, error) {
	var r remoteLogEntry
	if err := json.Unmarshal(raw, &r); err != nil {
		return challenge.LogEntry{}, err
	}
	return challenge.LogEntry{
		MinerID:     r.MinerID,
		MinerInput:  r.MinerInput,
		MinerOutput: r.MinerOutput,
		Score:       r.Score,
	}, nil
}

func (l *Loop) feedLogsToLedger(challengeName string, result challenge.Result, uidByMiner map[string]int, today string) {
	inputs := make([]ledger.ScoreInput, 0, len(result.Logs))
	for _, entry := range result.Logs {
		inputs = append(inputs, ledger.ScoreInput{
			MinerID: entry.MinerID,
			UID:     uidByMiner[entry.MinerID],
			Score:   entry.Score,
		})
	}
	l.ledger.UpdateScores(challengeName, today, inputs)
}

// persistCommitmentsAsync always hands the current commitment snapshot
// to the storage manager (spec section 4.F: "always call the Storage
// Manager to persist commitments, async").
func (l *Loop) persistCommitmentsAsync(ctx context.Context) {
	for _, c := range l.registry.Snapshot() {
		record := storage.Record{
			Challenge:        c.Challenge,
			MinerID:          c.MinerID,
			Date:             time.Now().Format("2006-01-02"),
			EncryptedPayload: c.EncryptedPayload,
			ImageRef:         c.ImageRef(),
		}
		l.storage.UpdateRecord(ctx, record, true)
	}
}

// emitWeights implements spec section 4.F's weight emission: sum
// per-challenge on-chain scores weighted by incentive weight, normalize
// through the chain client, and emit set_weights with the derived
// version tag.
func (l *Loop) emitWeights(ctx context.Context) error {
	n := 0
	participants, err := l.chain.Participants(ctx)
	if err != nil {
		return err
	}
	for _, p := range participants {
		if p.UID+1 > n {
			n = p.UID + 1
		}
	}
	if n == 0 {
		return nil
	}

	today := time.Now()
	weights := make([]float64, n)
	for name, desc := range l.descriptors {
		scores := l.ledger.OnChainScores(name, n, today)
		for i, s := range scores {
			weights[i] += s * desc.IncentiveWeight
		}
	}

	normalized := l.chain.NormalizeWeights(weights)
	versionTag := chainclient.VersionTag(l.cfg.Chain.VersionMajor, l.cfg.Chain.VersionMinor, l.cfg.Chain.VersionPatch)
	return l.chain.SetWeights(ctx, normalized, versionTag)
}
