package service

import (
	"context"
	"runtime"
	"sync"
	"testing"

	"github.com/haatos/multici/internal/types"
)

func requirePosixHost(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a posix host")
	}
}

func hostEnvironment() types.Environment {
	return types.Environment{Kind: types.KindVM, Image: runtime.GOOS, Shell: types.ShellPosix}
}

// countingProvider wraps a provider and counts acquire and release calls.
type countingProvider struct {
	Provider

	mu       sync.Mutex
	acquired int
	released int
}

func (p *countingProvider) Acquire(ctx context.Context, req AcquireRequest) (Handle, error) {
	p.mu.Lock()
	p.acquired++
	p.mu.Unlock()
	return p.Provider.Acquire(ctx, req)
}

func (p *countingProvider) Release(ctx context.Context, h Handle) error {
	p.mu.Lock()
	p.released++
	p.mu.Unlock()
	return p.Provider.Release(ctx, h)
}

type failingProvider struct{}

func (failingProvider) Acquire(ctx context.Context, req AcquireRequest) (Handle, error) {
	return nil, NewProvisioningError(req.Environment, "no capacity", nil)
}

func (failingProvider) Release(ctx context.Context, h Handle) error {
	return nil
}

type recordingReporter struct {
	NopReporter

	mu    sync.Mutex
	lines []string
	steps []StepLog
}

func (r *recordingReporter) StepOutput(job, step, line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, line)
}

func (r *recordingReporter) StepFinished(job string, log StepLog) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps = append(r.steps, log)
}
