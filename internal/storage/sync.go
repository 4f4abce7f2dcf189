package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/tungdop2/RedTeam/internal/vmetrics"
)

// ScoringWindowDays is how many date folders SyncHubToCache reads back
// from L1, matching the 14-day L0TTL.
const ScoringWindowDays = 14

// SyncHubToCache implements spec section 4.E's sync_hub_to_cache:
// snapshots the last ScoringWindowDays date-prefixed folders from L1 and
// reconstructs L0, with the most recent date winning per key when the
// same key appears under more than one date. If eraseLocal is set, L0
// is cleared first.
func (m *Manager) SyncHubToCache(ctx context.Context, challenges []string, eraseLocal bool, now time.Time) error {
	if m.l1 == nil {
		return nil
	}
	if eraseLocal {
		for _, key := range m.l0.Keys(now) {
			if err := m.l0.Delete(key); err != nil {
				logger.Warn("l0 delete failed during hub sync", "key", key, "err", err)
			}
		}
	}

	dates := lastNDates(now, ScoringWindowDays)
	latest := make(map[string]struct {
		date   string
		record Record
	})

	for _, challenge := range challenges {
		for _, date := range dates {
			keys, err := m.l1.ListKeys(ctx, challenge, date)
			if err != nil {
				logger.Warn("hub list failed during sync", "challenge", challenge, "date", date, "err", err)
				continue
			}
			for _, key := range keys {
				buf, err := m.l1.Download(ctx, challenge, date, key)
				if err != nil {
					logger.Warn("hub download failed during sync", "challenge", challenge, "date", date, "key", key, "err", err)
					continue
				}
				var record Record
				if err := json.Unmarshal(buf, &record); err != nil {
					logger.Warn("hub record decode failed during sync", "challenge", challenge, "date", date, "key", key, "err", err)
					continue
				}
				if existing, ok := latest[key]; !ok || date > existing.date {
					latest[key] = struct {
						date   string
						record Record
					}{date: date, record: record}
				}
			}
		}
	}

	for key, entry := range latest {
		if err := m.l0.Put(key, entry.record, now); err != nil {
			logger.Error("l0 write failed during hub sync", "key", key, "err", err)
		}
	}
	return nil
}

// SyncCacheToHub implements spec section 4.E's sync_cache_to_hub:
// snapshots today's folder from L1, compares every local key, and
// uploads any that are missing or differ. It never deletes hub content.
// Intended to run hourly (spec section 4.E).
func (m *Manager) SyncCacheToHub(ctx context.Context, challenge string, now time.Time) error {
	if m.l1 == nil {
		return nil
	}
	date := now.Format("2006-01-02")
	hubKeys, err := m.l1.ListKeys(ctx, challenge, date)
	if err != nil {
		return err
	}
	onHub := make(map[string]bool, len(hubKeys))
	for _, k := range hubKeys {
		onHub[k] = true
	}

	for _, key := range m.l0.Keys(now) {
		record, ok := m.l0.Get(key, now)
		if !ok || record.Challenge != challenge || record.Date != date {
			continue
		}

		needsUpload := !onHub[key]
		if onHub[key] {
			remote, err := m.l1.Download(ctx, challenge, date, key)
			if err != nil {
				logger.Warn("hub download failed while diffing", "challenge", challenge, "key", key, "err", err)
				continue
			}
			local, _ := record.Sanitized().marshal()
			if !jsonEqual(remote, local) {
				needsUpload = true
			}
		}

		if needsUpload {
			buf, err := record.Sanitized().marshal()
			if err != nil {
				logger.Error("sanitized record marshal failed during sync", "key", key, "err", err)
				continue
			}
			if err := m.l1.Upload(ctx, challenge, date, key, buf); err != nil {
				logger.Error("hub upload failed during sync", "challenge", challenge, "key", key, "err", err)
			}
		}
	}
	return nil
}

// jsonEqual compares two JSON byte strings for semantic equality,
// tolerant of field ordering.
func jsonEqual(a, b []byte) bool {
	var av, bv any
	if json.Unmarshal(a, &av) != nil || json.Unmarshal(b, &bv) != nil {
		return false
	}
	aCanon, _ := json.Marshal(av)
	bCanon, _ := json.Marshal(bv)
	return string(aCanon) == string(bCanon)
}

// lastNDates returns the n calendar dates ending at now, most recent
// last (so later writes in SyncHubToCache naturally win ties).
func lastNDates(now time.Time, n int) []string {
	dates := make([]string, n)
	for i := 0; i < n; i++ {
		dates[n-1-i] = now.AddDate(0, 0, -i).Format("2006-01-02")
	}
	return dates
}

// RunPeriodicSync blocks, running SyncCacheToHub for every challenge on
// an hourly tick, until ctx is canceled (spec section 5's "periodic
// L0->L1 sync worker" dedicated thread).
func (m *Manager) RunPeriodicSync(ctx context.Context, challenges []string, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, challenge := range challenges {
				vmetrics.StorageSyncRuns.Inc()
				if err := m.SyncCacheToHub(ctx, challenge, now); err != nil {
					logger.Error("periodic sync failed", "challenge", challenge, "err", err)
				}
			}
		}
	}
}
