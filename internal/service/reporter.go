package service

import (
	"bytes"
	"io"
	"log/slog"
	"sync"
	"time"
)

// Reporter receives job progress as it happens. Implementations must be safe
// for concurrent use since jobs of one layer report in parallel.
type Reporter interface {
	JobStarted(job string)
	StepStarted(job string, index int, step string)
	StepOutput(job, step, line string)
	StepFinished(job string, log StepLog)
	JobFinished(result JobResult)
}

type NopReporter struct{}

func (NopReporter) JobStarted(string)                 {}
func (NopReporter) StepStarted(string, int, string)   {}
func (NopReporter) StepOutput(string, string, string) {}
func (NopReporter) StepFinished(string, StepLog)      {}
func (NopReporter) JobFinished(JobResult)             {}

// LogReporter writes progress as structured log records. Step output is
// logged at debug level.
type LogReporter struct {
	Logger *slog.Logger
}

func NewLogReporter(logger *slog.Logger) *LogReporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogReporter{Logger: logger}
}

func (r *LogReporter) JobStarted(job string) {
	r.Logger.Info("job started", "job", job)
}

func (r *LogReporter) StepStarted(job string, index int, step string) {
	r.Logger.Info("step started", "job", job, "index", index, "step", step)
}

func (r *LogReporter) StepOutput(job, step, line string) {
	r.Logger.Debug(line, "job", job, "step", step)
}

func (r *LogReporter) StepFinished(job string, log StepLog) {
	r.Logger.Info(
		"step finished",
		"job", job,
		"step", log.Name,
		"outcome", log.Outcome,
		"exit_code", log.ExitCode,
		"duration", log.Duration.Round(time.Millisecond),
	)
}

func (r *LogReporter) JobFinished(result JobResult) {
	attrs := []any{
		"job", result.Name,
		"outcome", result.Outcome,
		"duration", result.Duration.Round(time.Millisecond),
	}
	if result.Outcome != OutcomeSuccess {
		attrs = append(attrs, "failed_step", result.FailedStep, "exit_code", result.ExitCode)
	}
	if result.Error != "" {
		attrs = append(attrs, "error", result.Error)
	}
	r.Logger.Info("job finished", attrs...)
}

// MultiReporter fans every event out to all reporters in order.
type MultiReporter []Reporter

func (m MultiReporter) JobStarted(job string) {
	for _, r := range m {
		r.JobStarted(job)
	}
}

func (m MultiReporter) StepStarted(job string, index int, step string) {
	for _, r := range m {
		r.StepStarted(job, index, step)
	}
}

func (m MultiReporter) StepOutput(job, step, line string) {
	for _, r := range m {
		r.StepOutput(job, step, line)
	}
}

func (m MultiReporter) StepFinished(job string, log StepLog) {
	for _, r := range m {
		r.StepFinished(job, log)
	}
}

func (m MultiReporter) JobFinished(result JobResult) {
	for _, r := range m {
		r.JobFinished(result)
	}
}

// lineWriter calls emit once per complete line written to it. Flush emits a
// trailing partial line.
type lineWriter struct {
	emit func(string)
	buf  []byte
}

func newLineWriter(emit func(string)) *lineWriter {
	return &lineWriter{emit: emit}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.emit(string(bytes.TrimRight(w.buf[:i], "\r")))
		w.buf = w.buf[i+1:]
	}
	return len(p), nil
}

func (w *lineWriter) Flush() {
	if len(w.buf) > 0 {
		w.emit(string(bytes.TrimRight(w.buf, "\r")))
		w.buf = nil
	}
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (w *lockedWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.w.Write(p)
}
