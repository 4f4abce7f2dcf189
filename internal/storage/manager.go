package storage

import (
	"context"
	"sync"
	"time"

	"github.com/tungdop2/RedTeam/internal/vmetrics"
)

// queueItem discriminates the two shapes the storage worker's queue
// accepts, per spec section 4.E's "discriminates by structural type"
// background discipline.
type queueItem struct {
	single  *Record
	batch   []Record
}

// Manager is the Storage Manager: owns L0/L1/L2 clients, a background
// queue worker pool, and a periodic hub<->cache sync job (spec section
// 4.E, section 5's thread model).
type Manager struct {
	l0 *LocalCache
	l1 *HubClient
	l2 *CentralClient

	queue chan queueItem

	workerCount int
	wg          sync.WaitGroup

	stopOnce sync.Once
	stopCh   chan struct{}

	sign SignFunc
}

// SignFunc produces the nonce/signature envelope for a payload bound
// for the L2 API (spec section 4.G). The validator wires this to
// internal/signer.Sign bound to its wallet; tests may leave it nil, in
// which case writes go out unsigned.
type SignFunc func(payload any) (Signed, error)

// Signed mirrors internal/signer.Signed, duplicated here so this
// package does not need to import the signer package just for a type.
type Signed struct {
	Nonce     string
	Signature string
}

// NewManager wires the three tiers together. workerCount is the storage
// worker pool size (spec section 4.E: "a small worker pool, approximately
// 5").
func NewManager(l0 *LocalCache, l1 *HubClient, l2 *CentralClient, workerCount int) *Manager {
	if workerCount <= 0 {
		workerCount = 5
	}
	return &Manager{
		l0:          l0,
		l1:          l1,
		l2:          l2,
		queue:       make(chan queueItem, 256),
		workerCount: workerCount,
		stopCh:      make(chan struct{}),
	}
}

// SetSignFunc installs the signing function used to authenticate every
// L2 write. Called once at startup by cmd/validator.
func (m *Manager) SetSignFunc(sign SignFunc) {
	m.sign = sign
}

func (m *Manager) signedPayload(body any) SignedPayload {
	payload := SignedPayload{Body: body}
	if m.sign == nil {
		return payload
	}
	signed, err := m.sign(body)
	if err != nil {
		logger.Error("signing payload failed, sending unsigned", "err", err)
		return payload
	}
	payload.Nonce = signed.Nonce
	payload.Signature = signed.Signature
	return payload
}

// Start launches the worker pool. Call Stop to drain and shut it down.
func (m *Manager) Start(ctx context.Context) {
	for i := 0; i < m.workerCount; i++ {
		m.wg.Add(1)
		go m.worker(ctx)
	}
}

// Stop signals workers to drain the queue best-effort and returns once
// they exit. Unflushed items are acceptable loss (spec section 5:
// commitments are still on-chain and will be re-observed next epoch).
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
		close(m.queue)
	})
	m.wg.Wait()
}

func (m *Manager) worker(ctx context.Context) {
	defer m.wg.Done()
	for item := range m.queue {
		if item.single != nil {
			m.updateRecordInline(ctx, *item.single)
		}
		for _, r := range item.batch {
			m.updateRecordInline(ctx, r)
		}
		vmetrics.StorageQueueDepth.Set(int64(len(m.queue)))
	}
}

// UpdateRecord implements spec section 4.E's update_record. When async,
// it enqueues for the worker pool; otherwise it runs inline immediately.
func (m *Manager) UpdateRecord(ctx context.Context, record Record, async bool) {
	if async {
		select {
		case m.queue <- queueItem{single: &record}:
			vmetrics.StorageQueueDepth.Set(int64(len(m.queue)))
		default:
			logger.Warn("storage queue full, dropping record", "challenge", record.Challenge, "miner_id", record.MinerID)
			vmetrics.StorageWriteErrors.Inc()
		}
		return
	}
	m.updateRecordInline(ctx, record)
}

// UpdateBatch implements spec section 4.E's update_batch: always
// enqueued, applied by the worker pool with UpdateRecord(async=false)
// per item.
func (m *Manager) UpdateBatch(records []Record) {
	select {
	case m.queue <- queueItem{batch: records}:
	default:
		logger.Warn("storage queue full, dropping batch", "size", len(records))
	}
}

// updateRecordInline performs spec section 4.E's four inline steps.
// Every step is attempted independently; a failure in one tier is
// logged and does not prevent the others from running (spec section 7:
// "storage partial failure").
func (m *Manager) updateRecordInline(ctx context.Context, record Record) {
	sanitized := record.Sanitized()
	key := record.CacheKey()

	if m.l0 != nil {
		if err := m.l0.Put(key, record, time.Now()); err != nil {
			logger.Error("l0 write failed", "challenge", record.Challenge, "key", key, "err", err)
			vmetrics.StorageWriteErrors.Inc()
		}
	}

	if m.l2 != nil {
		payload := m.signedPayload(record)
		if err := m.l2.UploadSubmission(ctx, payload); err != nil {
			logger.Error("l2 submission upload failed", "challenge", record.Challenge, "key", key, "err", err)
			vmetrics.StorageWriteErrors.Inc()
		}
	}

	if m.l1 != nil {
		buf, err := sanitized.marshal()
		if err != nil {
			logger.Error("sanitized record marshal failed", "challenge", record.Challenge, "key", key, "err", err)
			vmetrics.StorageWriteErrors.Inc()
		} else if err := m.l1.Upload(ctx, record.Challenge, record.Date, key, buf); err != nil {
			logger.Error("l1 upload failed", "challenge", record.Challenge, "key", key, "err", err)
			vmetrics.StorageWriteErrors.Inc()
		}
	}
}

// UpdateChallengeRecords signs and posts payload to the L2
// challenge-records endpoint.
func (m *Manager) UpdateChallengeRecords(ctx context.Context, body any) error {
	return m.l2.UploadChallengeRecords(ctx, m.signedPayload(body))
}

// UpdateRepoID signs and posts payload to the L2 repo-id endpoint.
func (m *Manager) UpdateRepoID(ctx context.Context, body any) error {
	return m.l2.UploadRepoID(ctx, m.signedPayload(body))
}

// FetchScoringLogs proxies to the L2 client's GET /get_scoring_logs,
// used by the validator loop's centralized-scoring alternative (spec
// section 4.F).
func (m *Manager) FetchScoringLogs(ctx context.Context, challengeName string) (ScoringLogsResponse, error) {
	return m.l2.GetScoringLogs(ctx, challengeName)
}
