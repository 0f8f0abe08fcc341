// internal/repository/usage.go
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/dangerclosesec/strategist/internal/domain"
	"github.com/dangerclosesec/strategist/internal/model"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ConsumeQuota counts analysisID against the tenant's usage for period.
//
// The ledger insert makes the call idempotent per analysis: a second call for
// the same analysis is a no-op success. The increment is a single conditional
// UPDATE bounded by ceiling (negative means unlimited), so concurrent callers
// can never push the counter past it. When the ceiling is reached the call
// returns ErrQuotaExceeded and the ledger row is rolled back with it.
func (s *Session) ConsumeQuota(ctx context.Context, analysisID uuid.UUID, period string, ceiling int) error {
	return s.run(ctx, func(tx *gorm.DB) error {
		entry := model.UsageLedger{AnalysisID: analysisID, OrgID: s.tenant.OrgID, Period: period}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&entry)
		if res.Error != nil {
			return fmt.Errorf("recording usage ledger: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil
		}

		counter := model.UsageCounter{OrgID: s.tenant.OrgID, Period: period}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&counter).Error; err != nil {
			return fmt.Errorf("initializing usage counter: %w", err)
		}

		query := tx.Model(&model.UsageCounter{}).Where("org_id = ? AND period = ?", s.tenant.OrgID, period)
		if ceiling >= 0 {
			query = query.Where("used < ?", ceiling)
		}
		res = query.UpdateColumn("used", gorm.Expr("used + ?", 1))
		if res.Error != nil {
			return fmt.Errorf("incrementing usage counter: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return domain.ErrQuotaExceeded
		}
		return nil
	})
}

// Usage returns how many analyses the tenant has consumed in period.
func (s *Session) Usage(ctx context.Context, period string) (int, error) {
	var counter model.UsageCounter
	err := s.run(ctx, func(tx *gorm.DB) error {
		err := tx.Where("org_id = ? AND period = ?", s.tenant.OrgID, period).First(&counter).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("reading usage: %w", err)
	}
	return counter.Used, nil
}
