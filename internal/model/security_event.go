package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SecurityEvent records tenant-boundary violations. The table is system-level
// and is not tenant scoped.
type SecurityEvent struct {
	ID         uuid.UUID  `json:"id" gorm:"type:uuid;primary_key"`
	Kind       string     `json:"kind" gorm:"type:text;not null;index"`
	OrgID      *uuid.UUID `json:"org_id,omitempty" gorm:"type:uuid"`
	UserID     *uuid.UUID `json:"user_id,omitempty" gorm:"type:uuid"`
	AnalysisID *uuid.UUID `json:"analysis_id,omitempty" gorm:"type:uuid"`
	Detail     string     `json:"detail" gorm:"type:text"`
	Context    JSONMap    `json:"context" gorm:"type:text"`
	RequestID  string     `json:"request_id"`
	ClientIP   string     `json:"client_ip"`
	UserAgent  string     `json:"user_agent"`
	CreatedAt  time.Time  `json:"created_at" gorm:"index"`
}

// TableName specifies the table name for SecurityEvent
func (SecurityEvent) TableName() string {
	return "security_events"
}

func (e *SecurityEvent) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}

// Constants for SecurityEvent kinds
const (
	EventTenantMismatch  = "tenant_mismatch"
	EventTenantIntegrity = "tenant_integrity"
	EventInactiveUser    = "inactive_user"
)
