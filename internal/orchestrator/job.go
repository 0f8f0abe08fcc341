// Package orchestrator drives analyses through their state machine:
// pending, running (one task per selected agent), consolidating, and a
// terminal status.
package orchestrator

import (
	"context"
	"errors"

	"github.com/dangerclosesec/strategist/internal/model"
	"github.com/dangerclosesec/strategist/internal/repository"
	"github.com/dangerclosesec/strategist/internal/tenant"
	"github.com/google/uuid"
)

//go:generate mockgen -source=./job.go -destination=../mocks/mock_orchestrator.go -package=mocks Notifier,Enqueuer

var (
	ErrQueueFull         = errors.New("analysis queue is full")
	ErrDispatcherStopped = errors.New("dispatcher stopped")
)

// Job asks for one analysis to be executed under the tenant that owns it.
type Job struct {
	Tenant     tenant.Context
	AnalysisID uuid.UUID
}

// Notifier is told when an analysis reaches a terminal status. It receives
// the job's own session and must not keep it.
type Notifier interface {
	AnalysisFinished(ctx context.Context, sess *repository.Session, analysis *model.Analysis) error
}

// Enqueuer schedules jobs and aborts running ones.
type Enqueuer interface {
	Enqueue(job Job) error
	Abort(analysisID uuid.UUID) bool
}

// NoopNotifier drops every notification.
type NoopNotifier struct{}

func (NoopNotifier) AnalysisFinished(context.Context, *repository.Session, *model.Analysis) error {
	return nil
}
