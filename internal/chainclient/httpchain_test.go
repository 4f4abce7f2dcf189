package chainclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestHTTPChain_Participants(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]Participant{{UID: 0, Address: "5F...", Axon: "10.0.0.1:9000"}})
	}))
	defer srv.Close()

	c := NewHTTPChain(srv.URL, 0)
	got, err := c.Participants(context.Background())
	if err != nil {
		t.Fatalf("Participants: %v", err)
	}
	if len(got) != 1 || got[0].Address != "5F..." {
		t.Fatalf("unexpected participants: %+v", got)
	}
}

func TestHTTPChain_SetWeightsRetriesThenSucceeds(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(struct{}{})
	}))
	defer srv.Close()

	c := NewHTTPChain(srv.URL, 0)
	if err := c.SetWeights(context.Background(), []float64{0.5, 0.5}, 10); err != nil {
		t.Fatalf("SetWeights: %v", err)
	}
	if atomic.LoadInt32(&attempts) != 2 {
		t.Fatalf("attempts = %d, want 2", attempts)
	}
}

func TestHTTPChain_NormalizeWeightsClipsAndRescales(t *testing.T) {
	c := NewHTTPChain("http://localhost", 0)
	got := c.NormalizeWeights([]float64{-1, 1, 3})
	want := []float64{0, 0.25, 0.75}
	for i := range want {
		if diff := got[i] - want[i]; diff > 1e-9 || diff < -1e-9 {
			t.Fatalf("NormalizeWeights = %v, want %v", got, want)
		}
	}
}

func TestHTTPChain_NormalizeWeightsAllZero(t *testing.T) {
	c := NewHTTPChain("http://localhost", 0)
	got := c.NormalizeWeights([]float64{0, 0, 0})
	for _, v := range got {
		if v != 0 {
			t.Fatalf("NormalizeWeights(all-zero) = %v, want all zero", got)
		}
	}
}

func TestHTTPChain_IsRegisteredAndStake(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/wallets/abc/registered":
			json.NewEncoder(w).Encode(map[string]bool{"registered": true})
		case r.URL.Path == "/wallets/abc/stake":
			json.NewEncoder(w).Encode(map[string]int64{"stake": 12345})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewHTTPChain(srv.URL, 0)
	reg, err := c.IsRegistered(context.Background(), "abc")
	if err != nil || !reg {
		t.Fatalf("IsRegistered = %v, %v", reg, err)
	}
	stake, err := c.Stake(context.Background(), "abc")
	if err != nil || stake != 12345 {
		t.Fatalf("Stake = %v, %v", stake, err)
	}
}
