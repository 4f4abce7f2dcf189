package storage

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// hubServer is a minimal in-memory stand-in for the HuggingFace Hub REST
// surface HubClient talks to, used so storage tests never reach the
// network.
type hubServer struct {
	mu    sync.Mutex
	files map[string][]byte // "challenge/date/key.json" -> payload
}

func newHubServer() *httptest.Server {
	h := &hubServer{files: make(map[string][]byte)}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/datasets/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"private": false})
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		h.mu.Lock()
		defer h.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})
	return httptest.NewServer(mux)
}

func TestManager_UpdateRecordInlineWritesL0(t *testing.T) {
	hub := newHubServer()
	defer hub.Close()
	central := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer central.Close()

	l0, err := OpenLocalCache(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer l0.Close()

	l1 := NewHubClient(hub.URL, "owner/name", "token")
	l2 := NewCentralClient(central.URL)
	mgr := NewManager(l0, l1, l2, 2)

	record := Record{Challenge: "ch1", MinerID: "m1", Date: "2026-01-01", EncryptedPayload: []byte("ct")}
	mgr.UpdateRecord(context.Background(), record, false)

	got, ok := l0.Get(record.CacheKey(), time.Now())
	if !ok {
		t.Fatal("expected record in L0 after inline update")
	}
	if got.MinerID != "m1" {
		t.Errorf("MinerID = %q", got.MinerID)
	}
}

func TestManager_UpdateRecordAsyncDrains(t *testing.T) {
	hub := newHubServer()
	defer hub.Close()
	central := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer central.Close()

	l0, err := OpenLocalCache(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer l0.Close()

	l1 := NewHubClient(hub.URL, "owner/name", "token")
	l2 := NewCentralClient(central.URL)
	mgr := NewManager(l0, l1, l2, 2)

	ctx := context.Background()
	mgr.Start(ctx)

	record := Record{Challenge: "ch1", MinerID: "m1", Date: "2026-01-01", EncryptedPayload: []byte("ct-async")}
	mgr.UpdateRecord(ctx, record, true)
	mgr.Stop()

	if _, ok := l0.Get(record.CacheKey(), time.Now()); !ok {
		t.Fatal("expected async record to land in L0 after Stop drains the queue")
	}
}

func TestManager_UpdateBatch(t *testing.T) {
	hub := newHubServer()
	defer hub.Close()
	central := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer central.Close()

	l0, err := OpenLocalCache(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer l0.Close()

	l1 := NewHubClient(hub.URL, "owner/name", "token")
	l2 := NewCentralClient(central.URL)
	mgr := NewManager(l0, l1, l2, 2)

	ctx := context.Background()
	mgr.Start(ctx)

	records := []Record{
		{Challenge: "ch1", MinerID: "m1", Date: "2026-01-01", EncryptedPayload: []byte("a")},
		{Challenge: "ch1", MinerID: "m2", Date: "2026-01-01", EncryptedPayload: []byte("b")},
	}
	mgr.UpdateBatch(records)
	mgr.Stop()

	for _, r := range records {
		if _, ok := l0.Get(r.CacheKey(), time.Now()); !ok {
			t.Errorf("expected batch record %q in L0", r.MinerID)
		}
	}
}
