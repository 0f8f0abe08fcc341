// internal/model/analysis.go
package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ConsolidatorAgentID is the mandatory final agent of every analysis.
const ConsolidatorAgentID = "consolidator"

type AnalysisStatus string

const (
	AnalysisPending       AnalysisStatus = "pending"
	AnalysisRunning       AnalysisStatus = "running"
	AnalysisConsolidating AnalysisStatus = "consolidating"
	AnalysisCompleted     AnalysisStatus = "completed"
	AnalysisFailed        AnalysisStatus = "failed"
	AnalysisCancelled     AnalysisStatus = "cancelled"
)

var analysisTransitions = map[AnalysisStatus][]AnalysisStatus{
	AnalysisPending:       {AnalysisRunning, AnalysisCancelled},
	AnalysisRunning:       {AnalysisConsolidating, AnalysisFailed, AnalysisCancelled},
	AnalysisConsolidating: {AnalysisCompleted, AnalysisFailed},
}

// CanTransition reports whether the state machine allows from -> to.
func (s AnalysisStatus) CanTransition(to AnalysisStatus) bool {
	for _, next := range analysisTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

func (s AnalysisStatus) Terminal() bool {
	return len(analysisTransitions[s]) == 0
}

func (s AnalysisStatus) Cancellable() bool {
	return s.CanTransition(AnalysisCancelled)
}

type Depth string

const (
	DepthQuick    Depth = "quick"
	DepthStandard Depth = "standard"
	DepthDeep     Depth = "deep"
)

// AgentSet is the ordered list of agent ids selected for an analysis,
// persisted as a JSON array in a text column.
type AgentSet []string

func (a AgentSet) Value() (driver.Value, error) {
	if a == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(a))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (a *AgentSet) Scan(value interface{}) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		*a = AgentSet{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported Scan, storing driver.Value type %T into type %T", value, a)
	}
	return json.Unmarshal(raw, (*[]string)(a))
}

// Without returns the set minus the given agent id.
func (a AgentSet) Without(id string) AgentSet {
	out := make(AgentSet, 0, len(a))
	for _, agent := range a {
		if agent != id {
			out = append(out, agent)
		}
	}
	return out
}

type Analysis struct {
	ID             uuid.UUID      `gorm:"type:uuid;primary_key" json:"id"`
	OrgID          uuid.UUID      `gorm:"type:uuid;not null;index;<-:create" json:"org_id"`
	CreatedByID    uuid.UUID      `gorm:"type:uuid;not null" json:"created_by_id"`
	Problem        string         `gorm:"type:text;not null" json:"problem"`
	BusinessType   string         `gorm:"type:text" json:"business_type"`
	Depth          Depth          `gorm:"type:text;not null;default:'standard'" json:"depth"`
	SelectedAgents AgentSet       `gorm:"type:text;not null" json:"selected_agents"`
	Status         AnalysisStatus `gorm:"type:text;not null;index" json:"status"`
	Summary        string         `gorm:"type:text" json:"summary,omitempty"`
	Error          string         `gorm:"type:text" json:"error,omitempty"`
	StartedAt      *time.Time     `json:"started_at,omitempty"`
	FinishedAt     *time.Time     `json:"finished_at,omitempty"`
	CreatedAt      time.Time      `gorm:"index" json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

func (a *Analysis) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Status == "" {
		a.Status = AnalysisPending
	}
	return nil
}
