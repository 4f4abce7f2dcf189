package vmetrics

import (
	"testing"
	"time"
)

func TestCounter_IncAndAdd(t *testing.T) {
	c := NewCounter("test.counter")
	c.Inc()
	c.Add(9)
	if c.Value() != 10 {
		t.Fatalf("value = %d, want 10", c.Value())
	}
	c.Add(-5)
	if c.Value() != 10 {
		t.Fatalf("negative Add should be ignored, got %d", c.Value())
	}
	if c.Name() != "test.counter" {
		t.Fatalf("name = %q", c.Name())
	}
}

func TestGauge_SetIncDec(t *testing.T) {
	g := NewGauge("test.gauge")
	g.Set(42)
	g.Inc()
	g.Dec()
	g.Dec()
	if g.Value() != 41 {
		t.Fatalf("value = %d, want 41", g.Value())
	}
	g.Set(-10)
	if g.Value() != -10 {
		t.Fatalf("gauges must allow negative values, got %d", g.Value())
	}
}

func TestHistogram_Observe(t *testing.T) {
	h := NewHistogram("test.hist")
	h.Observe(10)
	h.Observe(20)
	h.Observe(30)
	if h.Count() != 3 {
		t.Fatalf("count = %d, want 3", h.Count())
	}
	if h.Sum() != 60 {
		t.Fatalf("sum = %f, want 60", h.Sum())
	}
	if h.Min() != 10 || h.Max() != 30 {
		t.Fatalf("min/max = %f/%f, want 10/30", h.Min(), h.Max())
	}
	if h.Mean() != 20 {
		t.Fatalf("mean = %f, want 20", h.Mean())
	}
}

func TestHistogram_EmptyIsZero(t *testing.T) {
	h := NewHistogram("test.empty")
	if h.Min() != 0 || h.Max() != 0 || h.Mean() != 0 || h.Sum() != 0 || h.Count() != 0 {
		t.Fatal("empty histogram should report all zeros")
	}
}

func TestTimer_RecordsDuration(t *testing.T) {
	h := NewHistogram("test.timer")
	timer := NewTimer(h)
	time.Sleep(2 * time.Millisecond)
	d := timer.Stop()
	if d < 2*time.Millisecond {
		t.Fatalf("duration = %v, want >= 2ms", d)
	}
	if h.Count() != 1 {
		t.Fatalf("timer should record one observation, got %d", h.Count())
	}
}

func TestTimer_NilHistogramDoesNotPanic(t *testing.T) {
	timer := NewTimer(nil)
	if d := timer.Stop(); d < 0 {
		t.Fatalf("duration should be >= 0, got %v", d)
	}
}
