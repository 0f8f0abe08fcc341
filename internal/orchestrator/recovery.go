package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dangerclosesec/strategist/internal/domain"
	"github.com/dangerclosesec/strategist/internal/model"
	"github.com/dangerclosesec/strategist/internal/repository"
	"github.com/dangerclosesec/strategist/internal/tenant"
)

const interruptedReason = "interrupted: the service stopped while the analysis was in progress"

// RecoveryConfig configures the recovery sweep.
type RecoveryConfig struct {
	Interval   time.Duration
	StaleAfter time.Duration
	BatchSize  int
}

// Recovery finds analyses a crash or a full queue left behind. Pending
// analyses older than StaleAfter are enqueued again. On startup, analyses
// still marked running or consolidating are failed, since no worker in a
// fresh process owns them.
type Recovery struct {
	dir      *repository.Directory
	store    *repository.Store
	enqueuer Enqueuer
	cfg      RecoveryConfig
	logger   *slog.Logger

	stopChan    chan struct{}
	stoppedChan chan struct{}
}

func NewRecovery(dir *repository.Directory, store *repository.Store, enqueuer Enqueuer, cfg RecoveryConfig, logger *slog.Logger) *Recovery {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 2 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Recovery{
		dir:         dir,
		store:       store,
		enqueuer:    enqueuer,
		cfg:         cfg,
		logger:      logger,
		stopChan:    make(chan struct{}),
		stoppedChan: make(chan struct{}),
	}
}

// Start fails interrupted analyses once, then sweeps pending analyses every
// interval until Stop.
func (r *Recovery) Start(ctx context.Context) {
	if n, err := r.FailInterrupted(ctx); err != nil {
		r.logger.Error("failing interrupted analyses", "error", err)
	} else if n > 0 {
		r.logger.Warn("failed interrupted analyses", "count", n)
	}

	go func() {
		defer close(r.stoppedChan)

		ticker := time.NewTicker(r.cfg.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if n, err := r.RequeueStale(ctx); err != nil {
					r.logger.Error("requeueing stale analyses", "error", err)
				} else if n > 0 {
					r.logger.Info("requeued stale analyses", "count", n)
				}
			case <-r.stopChan:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (r *Recovery) Stop() {
	close(r.stopChan)
	<-r.stoppedChan
}

// RequeueStale enqueues pending analyses created before now - StaleAfter.
func (r *Recovery) RequeueStale(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-r.cfg.StaleAfter)
	total := 0

	err := r.dir.EachOrganization(ctx, r.cfg.BatchSize, func(org *model.Organization) error {
		tc := tenant.System(org)
		analyses, err := r.scan(ctx, tc, cutoff, model.AnalysisPending)
		if err != nil {
			return err
		}
		for _, a := range analyses {
			if err := r.enqueuer.Enqueue(Job{Tenant: tc, AnalysisID: a.ID}); err != nil {
				if errors.Is(err, ErrQueueFull) {
					return nil
				}
				return err
			}
			total++
		}
		return nil
	})
	return total, err
}

// FailInterrupted marks analyses left running or consolidating as failed.
func (r *Recovery) FailInterrupted(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	total := 0

	err := r.dir.EachOrganization(ctx, r.cfg.BatchSize, func(org *model.Organization) error {
		tc := tenant.System(org)
		analyses, err := r.scan(ctx, tc, now, model.AnalysisRunning, model.AnalysisConsolidating)
		if err != nil {
			return err
		}

		sess, err := r.store.Acquire(tc)
		if err != nil {
			return err
		}
		defer sess.Release()

		for _, a := range analyses {
			err := sess.TransitionAnalysis(ctx, a.ID,
				[]model.AnalysisStatus{model.AnalysisRunning, model.AnalysisConsolidating}, model.AnalysisFailed,
				map[string]interface{}{"error": interruptedReason, "finished_at": now})
			if err != nil {
				if errors.Is(err, domain.ErrInvalidTransition) {
					continue
				}
				return err
			}
			total++
		}
		return nil
	})
	return total, err
}

func (r *Recovery) scan(ctx context.Context, tc tenant.Context, before time.Time, statuses ...model.AnalysisStatus) ([]*model.Analysis, error) {
	sess, err := r.store.Acquire(tc)
	if err != nil {
		return nil, err
	}
	defer sess.Release()

	analyses, _, err := sess.ListAnalyses(ctx, repository.ListParams{
		Limit:         r.cfg.BatchSize,
		CreatedBefore: before,
		Statuses:      statuses,
	})
	return analyses, err
}
