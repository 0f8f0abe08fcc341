// internal/model/agent_output.go
package model

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type OutputStage string

const (
	StageAnalysis      OutputStage = "analysis"
	StageConsolidation OutputStage = "consolidation"
)

type OutputStatus string

const (
	OutputSucceeded OutputStatus = "succeeded"
	OutputFailed    OutputStatus = "failed"
)

// AgentOutput is written once per invoked agent. Its tenant is the tenant of
// the parent analysis.
type AgentOutput struct {
	ID         uuid.UUID    `gorm:"type:uuid;primary_key" json:"id"`
	AnalysisID uuid.UUID    `gorm:"type:uuid;not null;uniqueIndex:idx_agent_outputs_analysis_agent" json:"analysis_id"`
	AgentID    string       `gorm:"type:text;not null;uniqueIndex:idx_agent_outputs_analysis_agent" json:"agent_id"`
	Stage      OutputStage  `gorm:"type:text;not null" json:"stage"`
	Status     OutputStatus `gorm:"type:text;not null" json:"status"`
	Content    string       `gorm:"type:text" json:"content,omitempty"`
	Error      string       `gorm:"type:text" json:"error,omitempty"`
	DurationMS int64        `json:"duration_ms"`
	Metadata   JSONMap      `gorm:"type:text" json:"metadata,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
}

func (o *AgentOutput) Succeeded() bool {
	return o.Status == OutputSucceeded
}

func (o *AgentOutput) BeforeCreate(tx *gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return nil
}

// BeforeUpdate keeps agent outputs immutable once written.
func (o *AgentOutput) BeforeUpdate(tx *gorm.DB) error {
	return errors.New("agent outputs are immutable")
}

// JSONMap represents a generic map stored as JSON text in the database
type JSONMap map[string]interface{}

// Value implements the driver.Valuer interface for JSONMap
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for JSONMap
func (m *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*m = make(JSONMap)
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return errors.New("type assertion failed: failed to decode JSON")
	}

	return json.Unmarshal(bytes, m)
}
