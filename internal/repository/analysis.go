// internal/repository/analysis.go
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dangerclosesec/strategist/internal/domain"
	"github.com/dangerclosesec/strategist/internal/model"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ListParams filters a page of analyses.
type ListParams struct {
	Offset        int
	Limit         int
	Since         time.Time
	CreatedBefore time.Time
	Statuses      []model.AnalysisStatus
}

// CreateAnalysis persists a, stamping the bound tenant over any OrgID the
// caller supplied.
func (s *Session) CreateAnalysis(ctx context.Context, a *model.Analysis) error {
	return s.run(ctx, func(tx *gorm.DB) error {
		a.OrgID = s.tenant.OrgID
		if err := tx.Create(a).Error; err != nil {
			return fmt.Errorf("creating analysis: %w", err)
		}
		return nil
	})
}

// FindAnalysis returns ErrNotFound both for missing rows and for rows owned
// by another tenant.
func (s *Session) FindAnalysis(ctx context.Context, id uuid.UUID) (*model.Analysis, error) {
	var a model.Analysis
	if err := s.run(ctx, func(tx *gorm.DB) error {
		return s.findAnalysis(tx, id, &a)
	}); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Session) findAnalysis(tx *gorm.DB, id uuid.UUID, a *model.Analysis) error {
	err := tx.Where("id = ? AND org_id = ?", id, s.tenant.OrgID).First(a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("finding analysis: %w", err)
	}
	return nil
}

// ListAnalyses returns a page of the tenant's analyses, newest first, and the
// total matching count.
func (s *Session) ListAnalyses(ctx context.Context, params ListParams) ([]*model.Analysis, int64, error) {
	var (
		analyses []*model.Analysis
		count    int64
	)
	offset, limit := pageBounds(params.Offset, params.Limit)

	err := s.run(ctx, func(tx *gorm.DB) error {
		query := tx.Model(&model.Analysis{}).Where("org_id = ?", s.tenant.OrgID)
		if !params.Since.IsZero() {
			query = query.Where("created_at >= ?", params.Since)
		}
		if !params.CreatedBefore.IsZero() {
			query = query.Where("created_at < ?", params.CreatedBefore)
		}
		if len(params.Statuses) > 0 {
			query = query.Where("status IN ?", params.Statuses)
		}

		if err := query.Count(&count).Error; err != nil {
			return fmt.Errorf("counting analyses: %w", err)
		}
		if err := query.Order("created_at DESC").Offset(offset).Limit(limit).Find(&analyses).Error; err != nil {
			return fmt.Errorf("listing analyses: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return analyses, count, nil
}

// TransitionAnalysis moves analysis id to status `to` only if its current
// status is one of from. The update is conditional, so concurrent
// transitions cannot move the state machine backwards. fields are written in
// the same statement.
func (s *Session) TransitionAnalysis(ctx context.Context, id uuid.UUID, from []model.AnalysisStatus, to model.AnalysisStatus, fields map[string]interface{}) error {
	if len(from) == 0 {
		return fmt.Errorf("%w: no source status", domain.ErrInvalidTransition)
	}
	for _, f := range from {
		if !f.CanTransition(to) {
			return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, f, to)
		}
	}

	return s.run(ctx, func(tx *gorm.DB) error {
		var current model.Analysis
		if err := s.findAnalysis(tx, id, &current); err != nil {
			return err
		}

		updates := map[string]interface{}{"status": to}
		for k, v := range fields {
			updates[k] = v
		}

		res := tx.Model(&model.Analysis{}).
			Where("id = ? AND org_id = ? AND status IN ?", id, s.tenant.OrgID, from).
			Updates(updates)
		if res.Error != nil {
			return fmt.Errorf("updating analysis status: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: analysis is %s, wanted one of %v", domain.ErrInvalidTransition, current.Status, from)
		}
		return nil
	})
}

// DeleteAnalysis removes an analysis and its outputs.
func (s *Session) DeleteAnalysis(ctx context.Context, id uuid.UUID) error {
	return s.run(ctx, func(tx *gorm.DB) error {
		var a model.Analysis
		if err := s.findAnalysis(tx, id, &a); err != nil {
			return err
		}
		return s.deleteAnalyses(tx, []uuid.UUID{a.ID})
	})
}

// PurgeAnalyses deletes terminal analyses created before cutoff and returns
// how many were removed.
func (s *Session) PurgeAnalyses(ctx context.Context, cutoff time.Time) (int64, error) {
	var ids []uuid.UUID
	err := s.run(ctx, func(tx *gorm.DB) error {
		err := tx.Model(&model.Analysis{}).
			Where("org_id = ? AND created_at < ? AND status IN ?", s.tenant.OrgID, cutoff, terminalStatuses).
			Pluck("id", &ids).Error
		if err != nil {
			return fmt.Errorf("selecting expired analyses: %w", err)
		}
		if len(ids) == 0 {
			return nil
		}
		return s.deleteAnalyses(tx, ids)
	})
	if err != nil {
		return 0, err
	}
	return int64(len(ids)), nil
}

// CountExpiredAnalyses reports how many analyses PurgeAnalyses would remove.
func (s *Session) CountExpiredAnalyses(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	err := s.run(ctx, func(tx *gorm.DB) error {
		return tx.Model(&model.Analysis{}).
			Where("org_id = ? AND created_at < ? AND status IN ?", s.tenant.OrgID, cutoff, terminalStatuses).
			Count(&n).Error
	})
	return n, err
}

var terminalStatuses = []model.AnalysisStatus{
	model.AnalysisCompleted,
	model.AnalysisFailed,
	model.AnalysisCancelled,
}

func (s *Session) deleteAnalyses(tx *gorm.DB, ids []uuid.UUID) error {
	if err := tx.Where("analysis_id IN ?", ids).Delete(&model.AgentOutput{}).Error; err != nil {
		return fmt.Errorf("deleting agent outputs: %w", err)
	}
	if err := tx.Where("id IN ? AND org_id = ?", ids, s.tenant.OrgID).Delete(&model.Analysis{}).Error; err != nil {
		return fmt.Errorf("deleting analyses: %w", err)
	}
	return nil
}
