package challenge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/tungdop2/RedTeam/internal/container"
)

func testDescriptor() Descriptor {
	return Descriptor{
		Name:            "ch1",
		BuildDir:        "./testdata/ch1",
		GraderScheme:    "http",
		MinerScheme:     "http",
		SolveTimeout:    time.Second,
		RunTimeout:      time.Second,
		IncentiveWeight: 1,
	}
}

func validImageRef() string {
	digest := ""
	for i := 0; i < 64; i++ {
		digest += "0123456789abcdef"[i%16 : i%16+1]
	}
	return "repo/miner@sha256:" + digest
}

func TestController_FullRun(t *testing.T) {
	grader := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.WriteHeader(http.StatusOK)
		case "/task":
			json.NewEncoder(w).Encode(Task{"question": "2+2"})
		case "/score":
			json.NewEncoder(w).Encode(1.0)
		}
	}))
	defer grader.Close()

	miner := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.WriteHeader(http.StatusOK)
		case "/solve":
			json.NewEncoder(w).Encode(map[string]any{"answer": 4})
		}
	}))
	defer miner.Close()

	graderPort := portOf(t, grader.URL)
	minerPort := portOf(t, miner.URL)

	engine := container.NewFakeEngine()
	desc := testDescriptor()
	desc.ExcludeMinerInputKeys = []string{"answer_hint"}

	deps := Dependencies{
		Engine:              engine,
		HTTPClient:          &http.Client{},
		ChallengePort:       graderPort,
		MinerPort:           minerPort,
		NetworkName:         "validator-net",
		NChallengesPerEpoch: 2,
	}

	c := NewController(desc, deps)
	result := c.Run(context.Background(), []Submission{{MinerID: "m1", ImageRef: validImageRef()}})

	if c.State() != StateDone {
		t.Fatalf("final state = %v, want %v", c.State(), StateDone)
	}
	if len(result.Logs) != 2 {
		t.Fatalf("len(Logs) = %d, want 2", len(result.Logs))
	}
	for _, entry := range result.Logs {
		if entry.Score != 1.0 {
			t.Errorf("Score = %v, want 1.0", entry.Score)
		}
		if entry.MinerOutput["answer"] != float64(4) {
			t.Errorf("MinerOutput = %v", entry.MinerOutput)
		}
	}
}

func TestController_InvalidImageRefSkipsSubmission(t *testing.T) {
	engine := container.NewFakeEngine()
	deps := Dependencies{Engine: engine, NChallengesPerEpoch: 1}
	c := NewController(testDescriptor(), deps)

	entries := c.runSubmission(context.Background(), Submission{MinerID: "m1", ImageRef: "repo/image:latest"}, []Task{{"a": 1}})
	if len(entries) != 0 {
		t.Fatalf("expected no log entries for invalid image ref, got %d", len(entries))
	}
	if len(engine.RunCalls) != 0 {
		t.Fatal("expected no container to be started for an invalid image ref")
	}
}

func TestController_UnhealthyMinerRecordsZeroScores(t *testing.T) {
	engine := container.NewFakeEngine()
	engine.HealthyResult = false
	deps := Dependencies{Engine: engine, NChallengesPerEpoch: 1}
	c := NewController(testDescriptor(), deps)

	tasks := []Task{{"q": 1}, {"q": 2}}
	entries := c.runSubmission(context.Background(), Submission{MinerID: "m1", ImageRef: validImageRef()}, tasks)

	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(entries))
	}
	for _, e := range entries {
		if e.Score != 0 {
			t.Errorf("Score = %v, want 0", e.Score)
		}
	}
}

func TestController_GraderNeverHealthyReturnsEmptyResult(t *testing.T) {
	engine := container.NewFakeEngine()
	engine.HealthyResult = false
	deps := Dependencies{Engine: engine, ChallengePort: 1, MinerPort: 2, NChallengesPerEpoch: 1}
	c := NewController(testDescriptor(), deps)

	result := c.Run(context.Background(), []Submission{{MinerID: "m1", ImageRef: validImageRef()}})
	if len(result.Logs) != 0 {
		t.Fatalf("expected empty log list, got %d entries", len(result.Logs))
	}
}

func TestBlankExcludedKeys(t *testing.T) {
	task := Task{"a": 1, "b": 2}
	out := blankExcludedKeys(task, []string{"b"})
	if out["a"] != 1 {
		t.Errorf("a = %v, want 1", out["a"])
	}
	if out["b"] != nil {
		t.Errorf("b = %v, want nil", out["b"])
	}
}

func portOf(t *testing.T, rawURL string) int {
	t.Helper()
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatal(err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatal(err)
	}
	return port
}
