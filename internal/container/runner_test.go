package container

import (
	"context"
	"testing"
	"time"
)

func TestFakeEngine_RunRecordsOptions(t *testing.T) {
	f := NewFakeEngine()
	opts := RunOptions{Name: "ch1-miner", HostPort: 10001, CPUs: 1.5, MemoryBytes: 512 << 20}

	handle, err := f.Run(context.Background(), "miner:latest", opts)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if handle.Name != "ch1-miner" {
		t.Errorf("handle.Name = %q", handle.Name)
	}
	if len(f.RunCalls) != 1 || f.RunCalls[0].HostPort != 10001 {
		t.Errorf("RunCalls = %+v", f.RunCalls)
	}
}

func TestFakeEngine_BuildErrPropagates(t *testing.T) {
	f := NewFakeEngine()
	f.BuildErr = errFakeBuild

	if err := f.Build(context.Background(), "/tmp/ctx", "tag"); err != errFakeBuild {
		t.Fatalf("Build err = %v, want %v", err, errFakeBuild)
	}
	if len(f.BuiltTags) != 0 {
		t.Error("expected no tags recorded on build failure")
	}
}

func TestFakeEngine_WaitHealthyRespectsResult(t *testing.T) {
	f := NewFakeEngine()
	f.HealthyResult = false

	if f.WaitHealthy(context.Background(), 10001, "http", true, time.Millisecond) {
		t.Fatal("expected WaitHealthy to report false")
	}
}

func TestFakeEngine_EnsureNetworkIsIdempotent(t *testing.T) {
	f := NewFakeEngine()
	ctx := context.Background()
	if err := f.EnsureNetwork(ctx, "validator-net"); err != nil {
		t.Fatal(err)
	}
	if err := f.EnsureNetwork(ctx, "validator-net"); err != nil {
		t.Fatal(err)
	}
	if !f.Networks["validator-net"] {
		t.Fatal("expected network to be recorded")
	}
}

func TestFirewallRule_FullArgs(t *testing.T) {
	drop := firewallRule{args: []string{"-I", "FORWARD", "-s", "172.18.0.0/16", "!", "-d", "172.18.0.0/16", "-j", "DROP"}}
	got := drop.fullArgs([]string{"-I"})
	want := []string{"-I", "FORWARD", "-s", "172.18.0.0/16", "!", "-d", "172.18.0.0/16", "-j", "DROP"}
	if len(got) != len(want) {
		t.Fatalf("fullArgs = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("fullArgs = %v, want %v", got, want)
		}
	}

	postrouting := firewallRule{table: "nat", args: []string{"-I", "POSTROUTING", "-s", "172.18.0.0/16", "-j", "RETURN"}}
	gotNat := postrouting.fullArgs([]string{"-I"})
	if gotNat[0] != "-t" || gotNat[1] != "nat" {
		t.Fatalf("fullArgs for nat table = %v, want leading -t nat", gotNat)
	}
}

var errFakeBuild = &fakeErr{"build failed"}

type fakeErr struct{ msg string }

func (e *fakeErr) Error() string { return e.msg }
