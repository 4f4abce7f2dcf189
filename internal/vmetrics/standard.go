package vmetrics

// Standard metrics registered against DefaultRegistry, covering the
// validator epoch cycle, commit-reveal bookkeeping, challenge scoring,
// and the storage worker pool.
var (
	EpochsRun        = DefaultRegistry.Counter("validator.epochs_run")
	EpochDuration    = DefaultRegistry.Histogram("validator.epoch_duration_ms")
	WeightsEmitted   = DefaultRegistry.Counter("validator.weights_emitted")
	WeightEmitErrors = DefaultRegistry.Counter("validator.weight_emit_errors")

	CommitmentsObserved = DefaultRegistry.Counter("commit.observed")
	CommitmentsRevealed = DefaultRegistry.Counter("commit.revealed")
	RevealFailures      = DefaultRegistry.Counter("commit.reveal_failures")

	ChallengesRun         = DefaultRegistry.Counter("challenge.runs")
	ChallengeLatency      = DefaultRegistry.Histogram("challenge.run_latency_ms")
	SubmissionErrors      = DefaultRegistry.Counter("challenge.submission_errors")
	DuplicateOutputsFound = DefaultRegistry.Counter("challenge.duplicate_outputs_found")

	StorageQueueDepth  = DefaultRegistry.Gauge("storage.queue_depth")
	StorageWriteErrors = DefaultRegistry.Counter("storage.write_errors")
	StorageSyncRuns    = DefaultRegistry.Counter("storage.sync_runs")
)
