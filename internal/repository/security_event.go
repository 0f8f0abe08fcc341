package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/dangerclosesec/strategist/internal/model"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SecurityEventRepository handles database operations for security events
type SecurityEventRepository struct {
	db *gorm.DB
}

// NewSecurityEventRepository creates a new SecurityEventRepository
func NewSecurityEventRepository(db *gorm.DB) *SecurityEventRepository {
	return &SecurityEventRepository{
		db: db,
	}
}

// Create inserts a new security event
func (r *SecurityEventRepository) Create(ctx context.Context, event *model.SecurityEvent) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	result := r.db.WithContext(ctx).Create(event)
	if result.Error != nil {
		return fmt.Errorf("failed to create security event: %w", result.Error)
	}

	return nil
}

// SecurityEventQuery holds parameters for querying security events
type SecurityEventQuery struct {
	Kind      string
	OrgID     *uuid.UUID
	StartTime time.Time
	EndTime   time.Time
	Limit     int
	Offset    int
}

// Query retrieves security events matching params, newest first
func (r *SecurityEventRepository) Query(ctx context.Context, params SecurityEventQuery) ([]model.SecurityEvent, int64, error) {
	var events []model.SecurityEvent
	var count int64

	query := r.db.WithContext(ctx).Model(&model.SecurityEvent{})

	if params.Kind != "" {
		query = query.Where("kind = ?", params.Kind)
	}
	if params.OrgID != nil {
		query = query.Where("org_id = ?", *params.OrgID)
	}
	if !params.StartTime.IsZero() {
		query = query.Where("created_at >= ?", params.StartTime)
	}
	if !params.EndTime.IsZero() {
		query = query.Where("created_at <= ?", params.EndTime)
	}

	if err := query.Count(&count).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count security events: %w", err)
	}

	offset, limit := pageBounds(params.Offset, params.Limit)
	result := query.Order("created_at DESC").Offset(offset).Limit(limit).Find(&events)
	if result.Error != nil {
		return nil, 0, fmt.Errorf("failed to query security events: %w", result.Error)
	}

	return events, count, nil
}
