// internal/service/retention.go
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dangerclosesec/strategist/internal/entitlement"
	"github.com/dangerclosesec/strategist/internal/model"
	"github.com/dangerclosesec/strategist/internal/repository"
	"github.com/dangerclosesec/strategist/internal/tenant"
)

// RetentionService periodically deletes finished analyses that fall outside
// their organization's plan history window.
type RetentionService struct {
	dir         *repository.Directory
	store       *repository.Store
	interval    time.Duration
	batchSize   int
	dryRun      bool // If true, count what would be purged without deleting
	logger      *slog.Logger
	now         func() time.Time
	stopChan    chan struct{}
	stoppedChan chan struct{}
}

// NewRetentionService creates a new retention service
func NewRetentionService(
	dir *repository.Directory,
	store *repository.Store,
	interval time.Duration,
	logger *slog.Logger,
) *RetentionService {
	if interval == 0 {
		interval = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &RetentionService{
		dir:         dir,
		store:       store,
		interval:    interval,
		batchSize:   100,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
		stopChan:    make(chan struct{}),
		stoppedChan: make(chan struct{}),
	}
}

// Start begins the periodic purge
func (s *RetentionService) Start() {
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		defer close(s.stoppedChan)

		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
				if _, err := s.PurgeAll(ctx); err != nil {
					s.logger.Error("retention purge failed", "error", err)
				}
				cancel()
			case <-s.stopChan:
				return
			}
		}
	}()
}

// Stop halts the periodic purge
func (s *RetentionService) Stop() {
	close(s.stopChan)
	<-s.stoppedChan
}

// SetBatchSize sets the number of organizations read per page
func (s *RetentionService) SetBatchSize(size int) {
	if size > 0 {
		s.batchSize = size
	}
}

// SetDryRun sets whether to delete or only count expired analyses
func (s *RetentionService) SetDryRun(dryRun bool) {
	s.dryRun = dryRun
}

type RetentionReport struct {
	Organizations int
	Purged        int64
	DryRun        bool
}

// PurgeAll applies the history window of every enabled organization. A
// failure for one organization is logged and does not stop the others.
func (s *RetentionService) PurgeAll(ctx context.Context) (*RetentionReport, error) {
	report := &RetentionReport{DryRun: s.dryRun}
	s.logger.Info("starting retention purge", "dry_run", s.dryRun)

	err := s.dir.EachOrganization(ctx, s.batchSize, func(org *model.Organization) error {
		report.Organizations++

		n, err := s.PurgeOrganization(ctx, org)
		if err != nil {
			s.logger.Error("failed to purge organization", "org_id", org.ID.String(), "error", err)
			return nil
		}
		report.Purged += n
		return nil
	})
	if err != nil {
		return report, fmt.Errorf("iterating organizations: %w", err)
	}

	s.logger.Info("completed retention purge",
		"organizations", report.Organizations,
		"purged", report.Purged,
		"dry_run", s.dryRun,
	)
	return report, nil
}

// PurgeOrganization removes org's finished analyses older than its plan's
// history window, or counts them in dry-run mode.
func (s *RetentionService) PurgeOrganization(ctx context.Context, org *model.Organization) (int64, error) {
	policy, err := entitlement.PolicyFor(org.Plan)
	if err != nil {
		return 0, err
	}
	cutoff := policy.HistoryCutoff(s.now())

	sess, err := s.store.Acquire(tenant.System(org))
	if err != nil {
		return 0, err
	}
	defer sess.Release()

	if s.dryRun {
		n, err := sess.CountExpiredAnalyses(ctx, cutoff)
		if err != nil {
			return 0, err
		}
		if n > 0 {
			s.logger.Info("would purge analyses (dry run)", "org_id", org.ID.String(), "count", n, "cutoff", cutoff)
		}
		return n, nil
	}

	n, err := sess.PurgeAnalyses(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("purged analyses", "org_id", org.ID.String(), "count", n, "cutoff", cutoff)
	}
	return n, nil
}
