// Package agent defines the contract with the external agent workers that
// produce one analysis stage each.
package agent

import (
	"context"

	"github.com/dangerclosesec/strategist/internal/model"
	"github.com/google/uuid"
)

//go:generate mockgen -source=./worker.go -destination=../mocks/mock_worker.go -package=mocks Worker

// PriorOutput is a successful output handed to a later stage.
type PriorOutput struct {
	AgentID string `json:"agent_id"`
	Content string `json:"content"`
}

// Request is one agent invocation.
type Request struct {
	AgentID      string        `json:"agent_id"`
	AnalysisID   uuid.UUID     `json:"analysis_id"`
	Problem      string        `json:"problem"`
	BusinessType string        `json:"business_type,omitempty"`
	Depth        model.Depth   `json:"depth"`
	PriorOutputs []PriorOutput `json:"prior_outputs,omitempty"`
}

// Result is the content an agent produced.
type Result struct {
	Content  string                 `json:"content"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Worker executes one agent. Implementations share no mutable state with the
// caller and must honour ctx cancellation where they can.
type Worker interface {
	Invoke(ctx context.Context, req Request) (*Result, error)
}
