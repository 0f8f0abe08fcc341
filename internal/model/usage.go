// internal/model/usage.go
package model

import (
	"time"

	"github.com/google/uuid"
)

// UsageCounter counts accepted analyses per organization per billing period.
// Period is the UTC calendar month, formatted "2006-01".
type UsageCounter struct {
	OrgID     uuid.UUID `gorm:"type:uuid;primaryKey"`
	Period    string    `gorm:"type:text;primaryKey"`
	Used      int       `gorm:"not null;default:0"`
	UpdatedAt time.Time
}

// UsageLedger records which analyses have already been counted so that a
// re-delivered acceptance never increments the counter twice.
type UsageLedger struct {
	AnalysisID uuid.UUID `gorm:"type:uuid;primaryKey"`
	OrgID      uuid.UUID `gorm:"type:uuid;not null;index"`
	Period     string    `gorm:"type:text;not null"`
	CreatedAt  time.Time
}

func (UsageLedger) TableName() string {
	return "usage_ledger"
}
