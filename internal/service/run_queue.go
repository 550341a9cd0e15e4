package service

import (
	"context"
	"log/slog"
	"sync"
)

// RunExecutor executes one dequeued workflow run.
type RunExecutor interface {
	ExecuteRun(ctx context.Context, plan *WorkflowPlan) (WorkflowResult, error)
}

type queuedRun struct {
	ctx    context.Context
	cancel context.CancelFunc
	plan   *WorkflowPlan
}

// RunQueue is a bounded queue of workflow runs drained by a fixed number of
// workers. A run can be cancelled while queued or while executing.
func NewRunQueue(executor RunExecutor, maxRuns int64) *RunQueue {
	return &RunQueue{
		executor:     executor,
		queue:        make(chan queuedRun, maxRuns),
		done:         make(chan struct{}),
		cancelRunMap: NewCancelMap[string](),
	}
}

type RunQueue struct {
	executor RunExecutor

	queue        chan queuedRun
	done         chan struct{}
	cancelRunMap *CancelMap[string]

	wg sync.WaitGroup
	mu sync.Mutex
}

func (rq *RunQueue) CancelRun(runID string) bool {
	return rq.cancelRunMap.Call(runID)
}

// Active is the number of runs queued or executing.
func (rq *RunQueue) Active() int {
	return rq.cancelRunMap.Len()
}

func (rq *RunQueue) Enqueue(plan *WorkflowPlan) error {
	ctx, cancel := context.WithCancel(context.Background())
	r := queuedRun{ctx: ctx, cancel: cancel, plan: plan}
	rq.cancelRunMap.AddCancel(plan.RunID, cancel)
	select {
	case rq.queue <- r:
		return nil
	default:
		rq.cancelRunMap.RemoveCancel(plan.RunID)
		cancel()
		return NewErrRunQueueFull()
	}
}

// Run starts the workers and blocks until Shutdown has been called and
// every worker has returned.
func (rq *RunQueue) Run(workers int) {
	for range max(1, workers) {
		rq.wg.Go(rq.work)
	}
	rq.wg.Wait()
}

func (rq *RunQueue) work() {
	for {
		select {
		case r := <-rq.queue:
			rq.process(r)
		case <-rq.done:
			return
		}
	}
}

func (rq *RunQueue) process(r queuedRun) {
	defer func() {
		r.cancel()
		rq.cancelRunMap.RemoveCancel(r.plan.RunID)
	}()
	result, err := rq.executor.ExecuteRun(r.ctx, r.plan)
	if err != nil {
		slog.Error("error executing run", "run_id", r.plan.RunID, "workflow", r.plan.Workflow, "error", err)
		return
	}
	slog.Info("run finished", "run_id", result.RunID, "workflow", result.Workflow, "outcome", result.Outcome)
}

// Shutdown stops the workers after their current run and cancels every
// queued or executing run.
func (rq *RunQueue) Shutdown() {
	rq.mu.Lock()
	defer rq.mu.Unlock()
	select {
	case <-rq.done:
	default:
		close(rq.done)
		rq.cancelRunMap.CallAll()
	}
}
