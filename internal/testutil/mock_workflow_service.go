package testutil

import (
	"context"

	"github.com/haatos/multici/internal/service"
	"github.com/haatos/multici/internal/store"
	"github.com/stretchr/testify/mock"
)

type MockWorkflowService struct {
	mock.Mock
}

func (m *MockWorkflowService) ListWorkflows() []service.WorkflowInfo {
	args := m.Called()
	return args.Get(0).([]service.WorkflowInfo)
}

func (m *MockWorkflowService) TriggerRun(
	ctx context.Context,
	workflow, trigger string,
) (*store.Run, error) {
	args := m.Called(ctx, workflow, trigger)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*store.Run), args.Error(1)
}

func (m *MockWorkflowService) CancelRun(ctx context.Context, runID string) error {
	args := m.Called(ctx, runID)
	return args.Error(0)
}

func (m *MockWorkflowService) GetRunByID(ctx context.Context, runID string) (*store.Run, error) {
	args := m.Called(ctx, runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*store.Run), args.Error(1)
}

func (m *MockWorkflowService) ListRunsPaginated(
	ctx context.Context,
	workflow string,
	limit, offset int64,
) ([]store.Run, int64, error) {
	args := m.Called(ctx, workflow, limit, offset)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).([]store.Run), args.Get(1).(int64), args.Error(2)
}

func (m *MockWorkflowService) ListJobResults(ctx context.Context, runID string) ([]store.JobResult, error) {
	args := m.Called(ctx, runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]store.JobResult), args.Error(1)
}

func (m *MockWorkflowService) GetJobLog(ctx context.Context, runID, job string) ([]byte, error) {
	args := m.Called(ctx, runID, job)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}
