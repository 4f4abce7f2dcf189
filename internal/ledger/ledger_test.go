package ledger

import (
	"testing"
	"time"
)

func TestUpdateScores_Improvement(t *testing.T) {
	l := New()
	l.UpdateScores("ch1", "2026-01-01", []ScoreInput{{MinerID: "m1", UID: 1, Score: 0.4}})
	l.UpdateScores("ch1", "2026-01-02", []ScoreInput{{MinerID: "m1", UID: 1, Score: 0.9}})

	l.mu.RLock()
	rec := l.records["ch1"][1]
	l.mu.RUnlock()
	if rec.Score != 0.9 || rec.Point != 50.0 {
		t.Fatalf("record = %+v, want score=0.9 point=50", rec)
	}

	// Day 2's 50 points count in full; day 1's 40 points have decayed by one day.
	today, _ := time.Parse("2006-01-02", "2026-01-02")
	scores := l.OnChainScores("ch1", 4, today)
	want := 50.0 + 40.0*(1-PointDecayRate)
	if diff := scores[1] - want; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("scores[1] = %v, want %v", scores[1], want)
	}
}

func TestUpdateScores_NoImprovement(t *testing.T) {
	l := New()
	l.UpdateScores("ch1", "2026-01-01", []ScoreInput{{MinerID: "m1", UID: 1, Score: 0.8}})
	l.UpdateScores("ch1", "2026-01-02", []ScoreInput{{MinerID: "m1", UID: 1, Score: 0.7}})

	l.mu.RLock()
	rec := l.records["ch1"][1]
	l.mu.RUnlock()
	if rec.Score != 0.8 || rec.Point != 0 {
		t.Fatalf("record = %+v, want score=0.8 point=0", rec)
	}
}

func TestUpdateScores_IdempotentPerDay(t *testing.T) {
	l := New()
	l.UpdateScores("ch1", "2026-01-01", []ScoreInput{{MinerID: "m1", UID: 1, Score: 0.5}})
	l.UpdateScores("ch1", "2026-01-01", []ScoreInput{{MinerID: "m1", UID: 1, Score: 0.9}})

	l.mu.RLock()
	n := len(l.records["ch1"])
	rec := l.records["ch1"][0]
	l.mu.RUnlock()
	if n != 1 {
		t.Fatalf("expected exactly one record for the date, got %d", n)
	}
	if rec.Score != 0.5 {
		t.Fatalf("expected first-call value to stick, got %v", rec.Score)
	}
}

func TestArgmaxMeanScore_MeanAndTieBreak(t *testing.T) {
	inputs := []ScoreInput{
		{MinerID: "m2", UID: 2, Score: 0.9},
		{MinerID: "m1", UID: 1, Score: 0.9},
		{MinerID: "m1", UID: 1, Score: 0.9},
	}
	uid, mean := argmaxMeanScore(inputs)
	if uid != 2 || mean != 0.9 {
		t.Fatalf("argmaxMeanScore = (%d, %v), want (2, 0.9)", uid, mean)
	}
}

func TestOnChainScores_DecayAndExpiry(t *testing.T) {
	l := New()
	l.UpdateScores("ch1", "2026-01-01", []ScoreInput{{MinerID: "m1", UID: 0, Score: 1.0}})

	sevenDaysLater, _ := time.Parse("2006-01-02", "2026-01-08")
	scores := l.OnChainScores("ch1", 1, sevenDaysLater)
	if scores[0] <= 0 {
		t.Fatalf("expected partial decay contribution, got %v", scores[0])
	}

	fifteenDaysLater, _ := time.Parse("2006-01-02", "2026-01-16")
	scores = l.OnChainScores("ch1", 1, fifteenDaysLater)
	if scores[0] != 0 {
		t.Fatalf("expected expired record to contribute 0, got %v", scores[0])
	}
}

func TestHasScoredToday(t *testing.T) {
	l := New()
	if l.HasScoredToday("ch1", "2026-01-01") {
		t.Fatal("expected false before any update")
	}
	l.UpdateScores("ch1", "2026-01-01", []ScoreInput{{MinerID: "m1", UID: 0, Score: 1.0}})
	if !l.HasScoredToday("ch1", "2026-01-01") {
		t.Fatal("expected true after update")
	}
}
