// internal/repository/agent_output.go
package repository

import (
	"context"
	"fmt"

	"github.com/dangerclosesec/strategist/internal/model"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CreateAgentOutput writes out after verifying the parent analysis belongs
// to the bound tenant.
func (s *Session) CreateAgentOutput(ctx context.Context, out *model.AgentOutput) error {
	return s.run(ctx, func(tx *gorm.DB) error {
		var parent model.Analysis
		if err := s.findAnalysis(tx, out.AnalysisID, &parent); err != nil {
			return err
		}
		if err := tx.Create(out).Error; err != nil {
			return fmt.Errorf("creating agent output: %w", err)
		}
		return nil
	})
}

// ListAgentOutputs returns the outputs of one analysis in creation order.
func (s *Session) ListAgentOutputs(ctx context.Context, analysisID uuid.UUID) ([]*model.AgentOutput, error) {
	var outputs []*model.AgentOutput
	err := s.run(ctx, func(tx *gorm.DB) error {
		var parent model.Analysis
		if err := s.findAnalysis(tx, analysisID, &parent); err != nil {
			return err
		}
		if err := tx.Where("analysis_id = ?", analysisID).Order("created_at ASC, agent_id ASC").Find(&outputs).Error; err != nil {
			return fmt.Errorf("listing agent outputs: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return outputs, nil
}
