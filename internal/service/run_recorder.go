package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/haatos/multici/internal/store"
	"github.com/haatos/multici/internal/util"
)

// runRecorder persists the progress of one run: every event is appended to
// the run output and each finished job is saved as a job result. It also
// keeps the per-job log for the archive.
type runRecorder struct {
	ctx      context.Context
	runID    string
	runStore RunStore

	mu   sync.Mutex
	logs map[string]*bytes.Buffer
}

func newRunRecorder(ctx context.Context, runID string, runStore RunStore) *runRecorder {
	return &runRecorder{
		ctx:      context.WithoutCancel(ctx),
		runID:    runID,
		runStore: runStore,
		logs:     make(map[string]*bytes.Buffer),
	}
}

func (r *runRecorder) write(job, text string) {
	line := fmt.Sprintf("[%s] %s\n", job, text)

	r.mu.Lock()
	buf, ok := r.logs[job]
	if !ok {
		buf = new(bytes.Buffer)
		r.logs[job] = buf
	}
	buf.WriteString(text + "\n")
	r.mu.Unlock()

	if err := r.runStore.AppendRunOutput(r.ctx, r.runID, line); err != nil {
		slog.Warn("error appending run output", "run_id", r.runID, "error", err)
	}
}

func (r *runRecorder) JobStarted(job string) {
	r.write(job, "job started")
}

func (r *runRecorder) StepStarted(job string, index int, step string) {
	r.write(job, fmt.Sprintf("--- step %d: %s", index, step))
}

func (r *runRecorder) StepOutput(job, _, line string) {
	r.write(job, line)
}

func (r *runRecorder) StepFinished(job string, log StepLog) {
	r.write(job, fmt.Sprintf(
		"--- step %d: %s %s (exit code %d, %s)",
		log.Index, log.Name, log.Outcome, log.ExitCode, log.Duration.Round(time.Millisecond),
	))
}

func (r *runRecorder) JobFinished(result JobResult) {
	msg := fmt.Sprintf("job %s", result.Outcome)
	if result.Error != "" {
		msg += ": " + result.Error
	}
	r.write(result.Name, msg)
	r.save(result)
}

func (r *runRecorder) save(result JobResult) {
	if err := r.runStore.SaveJobResult(r.ctx, jobResultRecord(r.runID, result)); err != nil {
		slog.Warn("error saving job result", "run_id", r.runID, "job", result.Name, "error", err)
	}
}

func (r *runRecorder) jobLogs() map[string][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string][]byte, len(r.logs))
	for job, buf := range r.logs {
		out[job] = bytes.Clone(buf.Bytes())
	}
	return out
}

func jobResultRecord(runID string, result JobResult) *store.JobResult {
	artifacts, err := json.Marshal(result.Artifacts)
	if err != nil || result.Artifacts == nil {
		artifacts = []byte("[]")
	}
	jr := &store.JobResult{
		JobResultRunID:  runID,
		Name:            result.Name,
		Outcome:         string(result.Outcome),
		FailedStepIndex: int64(result.FailedStepIndex),
		ExitCode:        int64(result.ExitCode),
		DurationMs:      result.Duration.Milliseconds(),
		Artifacts:       string(artifacts),
	}
	if result.FailedStep != "" {
		jr.FailedStep = util.AsPtr(result.FailedStep)
	}
	if result.Error != "" {
		jr.Error = util.AsPtr(result.Error)
	}
	return jr
}

func runStatus(outcome Outcome) store.RunStatus {
	switch outcome {
	case OutcomeSuccess:
		return store.StatusPassed
	case OutcomeCancelled:
		return store.StatusCancelled
	}
	return store.StatusFailed
}
