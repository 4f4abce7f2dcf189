package container

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// FakeEngine is a hand-written test double for Engine, used by the
// challenge controller's tests instead of a mocking framework (matching
// the teacher's own test style of small in-package fakes).
type FakeEngine struct {
	mu sync.Mutex

	BuiltTags    []string
	RunCalls     []RunOptions
	RemovedNames []string
	RemovedPorts []int
	Networks     map[string]bool

	BuildErr      error
	RunErr        error
	HealthyResult bool
}

// NewFakeEngine returns a FakeEngine that succeeds by default and reports
// containers healthy immediately.
func NewFakeEngine() *FakeEngine {
	return &FakeEngine{Networks: make(map[string]bool), HealthyResult: true}
}

func (f *FakeEngine) Build(ctx context.Context, dir, tag string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.BuildErr != nil {
		return f.BuildErr
	}
	f.BuiltTags = append(f.BuiltTags, tag)
	return nil
}

func (f *FakeEngine) Run(ctx context.Context, tag string, opts RunOptions) (*Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.RunErr != nil {
		return nil, f.RunErr
	}
	f.RunCalls = append(f.RunCalls, opts)
	return &Handle{ID: fmt.Sprintf("fake-%d", len(f.RunCalls)), Name: opts.Name}, nil
}

func (f *FakeEngine) RemoveByName(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.RemovedNames = append(f.RemovedNames, name)
	return nil
}

func (f *FakeEngine) RemoveByPort(ctx context.Context, port int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.RemovedPorts = append(f.RemovedPorts, port)
	return nil
}

func (f *FakeEngine) EnsureNetwork(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Networks[name] = true
	return nil
}

func (f *FakeEngine) WaitHealthy(ctx context.Context, port int, scheme string, verifyTLS bool, timeout time.Duration) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.HealthyResult
}
