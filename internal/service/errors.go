package service

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/haatos/multici/internal/types"
)

type ErrRunQueueFull struct{}

func (e ErrRunQueueFull) Error() string {
	return "run queue is full"
}

func NewErrRunQueueFull() *ErrRunQueueFull {
	return &ErrRunQueueFull{}
}

type DuplicateNameError struct {
	Name string
}

func (e DuplicateNameError) Error() string {
	return fmt.Sprintf("command %q is already registered", e.Name)
}

type UnknownCommandError struct {
	Name string
}

func (e UnknownCommandError) Error() string {
	return fmt.Sprintf("unknown command %q", e.Name)
}

type MissingParameterError struct {
	Command   string
	Parameter string
}

func (e MissingParameterError) Error() string {
	return fmt.Sprintf(
		"command %q: parameter %q has no default and no argument was given",
		e.Command, e.Parameter,
	)
}

// CyclicReferenceError holds the reference chain, starting and ending with
// the command that re-entered itself.
type CyclicReferenceError struct {
	Chain []string
}

func (e CyclicReferenceError) Error() string {
	return "cyclic command reference: " + strings.Join(e.Chain, " -> ")
}

type CommandDepthError struct {
	Chain []string
	Limit int
}

func (e CommandDepthError) Error() string {
	return fmt.Sprintf(
		"command references nested deeper than %d: %s",
		e.Limit, strings.Join(e.Chain, " -> "),
	)
}

type UnknownJobError struct {
	Workflow string
	Job      string
}

func (e UnknownJobError) Error() string {
	return fmt.Sprintf("workflow %q references unknown job %q", e.Workflow, e.Job)
}

type UnknownWorkflowError struct {
	Name string
}

func (e UnknownWorkflowError) Error() string {
	return fmt.Sprintf("unknown workflow %q", e.Name)
}

type CyclicDependencyError struct {
	Workflow string
	Jobs     []string
}

func (e CyclicDependencyError) Error() string {
	return fmt.Sprintf(
		"workflow %q has a dependency cycle between jobs: %s",
		e.Workflow, strings.Join(e.Jobs, ", "),
	)
}

type ProvisioningError struct {
	Environment types.Environment
	Reason      string
	Err         error
}

func (e ProvisioningError) Error() string {
	msg := fmt.Sprintf(
		"cannot provision %s environment %q (tier %q, shell %s): %s",
		e.Environment.Kind, e.Environment.Image,
		e.Environment.ResourceTier, e.Environment.Shell, e.Reason,
	)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e ProvisioningError) Unwrap() error {
	return e.Err
}

func NewProvisioningError(env types.Environment, reason string, err error) *ProvisioningError {
	return &ProvisioningError{Environment: env, Reason: reason, Err: err}
}

type TimeoutError struct {
	Step    string
	Timeout time.Duration
}

func (e TimeoutError) Error() string {
	return fmt.Sprintf("step %q timed out after %s", e.Step, e.Timeout)
}

// EnvironmentError marks an infrastructure failure inside a job, as opposed
// to a step exiting non-zero.
type EnvironmentError struct {
	Step string
	Err  error
}

func (e EnvironmentError) Error() string {
	if e.Step == "" {
		return "environment error: " + e.Err.Error()
	}
	return fmt.Sprintf("environment error in step %q: %s", e.Step, e.Err)
}

func (e EnvironmentError) Unwrap() error {
	return e.Err
}

type StepFailure struct {
	Step     string
	ExitCode int
}

func (e StepFailure) Error() string {
	return fmt.Sprintf("step %q failed with exit code %d", e.Step, e.ExitCode)
}

type RunCancelError struct {
	Message string
}

func (rce RunCancelError) Error() string {
	return rce.Message
}

type RunNotActiveError struct {
	RunID  string
	Status string
}

func (e RunNotActiveError) Error() string {
	return fmt.Sprintf("run %s is not queued or running (status %s)", e.RunID, e.Status)
}

var ErrLogArchiveDisabled = errors.New("log archive is not configured")
