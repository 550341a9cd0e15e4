package testutil

import (
	"context"
	"time"

	"github.com/haatos/multici/internal/store"
	"github.com/stretchr/testify/mock"
)

type MockRunStore struct {
	mock.Mock
}

func (m *MockRunStore) CreateRun(
	ctx context.Context,
	runID, workflow, trigger string,
) (*store.Run, error) {
	args := m.Called(ctx, runID, workflow, trigger)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*store.Run), args.Error(1)
}

func (m *MockRunStore) ReadRunByID(ctx context.Context, runID string) (*store.Run, error) {
	args := m.Called(ctx, runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*store.Run), args.Error(1)
}

func (m *MockRunStore) UpdateRunStartedOn(
	ctx context.Context,
	runID string,
	status store.RunStatus,
	startedOn *time.Time,
) error {
	args := m.Called(ctx, runID, status, startedOn)
	return args.Error(0)
}

func (m *MockRunStore) UpdateRunEndedOn(
	ctx context.Context,
	runID string,
	status store.RunStatus,
	criticalPath *string,
	durationMs int64,
	endedOn *time.Time,
) error {
	args := m.Called(ctx, runID, status, criticalPath, durationMs, endedOn)
	return args.Error(0)
}

func (m *MockRunStore) AppendRunOutput(ctx context.Context, runID, out string) error {
	args := m.Called(ctx, runID, out)
	return args.Error(0)
}

func (m *MockRunStore) FailUnfinishedRuns(ctx context.Context, endedOn *time.Time) (int64, error) {
	args := m.Called(ctx, endedOn)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockRunStore) DeleteRun(ctx context.Context, runID string) error {
	args := m.Called(ctx, runID)
	return args.Error(0)
}

func (m *MockRunStore) DeleteRunsBefore(ctx context.Context, before time.Time) ([]string, error) {
	args := m.Called(ctx, before)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockRunStore) SaveJobResult(ctx context.Context, jr *store.JobResult) error {
	args := m.Called(ctx, jr)
	return args.Error(0)
}

func (m *MockRunStore) ListRunsPaginated(
	ctx context.Context,
	workflow string,
	limit, offset int64,
) ([]store.Run, error) {
	args := m.Called(ctx, workflow, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]store.Run), args.Error(1)
}

func (m *MockRunStore) CountRuns(ctx context.Context, workflow string) (int64, error) {
	args := m.Called(ctx, workflow)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockRunStore) ListJobResults(ctx context.Context, runID string) ([]store.JobResult, error) {
	args := m.Called(ctx, runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]store.JobResult), args.Error(1)
}
