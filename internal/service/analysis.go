// internal/service/analysis.go
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dangerclosesec/strategist/internal/agent"
	"github.com/dangerclosesec/strategist/internal/domain"
	"github.com/dangerclosesec/strategist/internal/entitlement"
	"github.com/dangerclosesec/strategist/internal/model"
	"github.com/dangerclosesec/strategist/internal/observability"
	"github.com/dangerclosesec/strategist/internal/orchestrator"
	"github.com/dangerclosesec/strategist/internal/repository"
	"github.com/dangerclosesec/strategist/internal/serializer"
	"github.com/dangerclosesec/strategist/internal/tenant"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

type AnalysisService struct {
	store    *repository.Store
	catalog  *agent.Catalog
	enqueuer orchestrator.Enqueuer
	metrics  *observability.Metrics
	logger   *slog.Logger
	validate *validator.Validate
	now      func() time.Time
}

func NewAnalysisService(
	store *repository.Store,
	catalog *agent.Catalog,
	enqueuer orchestrator.Enqueuer,
	metrics *observability.Metrics,
	logger *slog.Logger,
) *AnalysisService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AnalysisService{
		store:    store,
		catalog:  catalog,
		enqueuer: enqueuer,
		metrics:  metrics,
		logger:   logger,
		validate: validator.New(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

type SubmitAnalysisInput struct {
	Problem        string      `json:"problem" validate:"required,max=10000"`
	BusinessType   string      `json:"business_type" validate:"max=200"`
	Depth          model.Depth `json:"depth" validate:"omitempty,oneof=quick standard deep"`
	SelectedAgents []string    `json:"selected_agents" validate:"required,min=1,dive,required"`
}

// Submit accepts an analysis for asynchronous execution. The quota unit is
// consumed in the same transaction that persists the pending analysis, so
// an accepted analysis has always been counted and a rejected one never is.
func (s *AnalysisService) Submit(ctx context.Context, tc tenant.Context, input SubmitAnalysisInput) (*model.Analysis, error) {
	if err := s.validate.Struct(input); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	if err := s.catalog.Validate(input.SelectedAgents); err != nil {
		return nil, err
	}
	if input.Depth == "" {
		input.Depth = model.DepthStandard
	}

	sess, err := s.store.Acquire(tc)
	if err != nil {
		return nil, err
	}
	defer sess.Release()

	period := entitlement.Period(s.now())
	used, err := sess.Usage(ctx, period)
	if err != nil {
		return nil, err
	}

	decision, err := entitlement.Evaluate(tc.Plan, entitlement.Usage{Period: period, Used: used}, entitlement.Request{
		Operation: entitlement.OpCreateAnalysis,
		Agents:    input.SelectedAgents,
	})
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		s.metrics.RecordDenied(ctx, string(tc.Plan), denialReason(decision.Denial))
		return nil, decision.Err()
	}

	policy, err := entitlement.PolicyFor(tc.Plan)
	if err != nil {
		return nil, err
	}

	analysis := &model.Analysis{
		ID:             uuid.New(),
		CreatedByID:    tc.UserID,
		Problem:        input.Problem,
		BusinessType:   input.BusinessType,
		Depth:          input.Depth,
		SelectedAgents: decision.Agents,
		Status:         model.AnalysisPending,
	}

	err = sess.Transaction(ctx, func(tx *repository.Session) error {
		if err := tx.ConsumeQuota(ctx, analysis.ID, period, policy.Ceiling()); err != nil {
			return err
		}
		return tx.CreateAnalysis(ctx, analysis)
	})
	if err != nil {
		if errors.Is(err, domain.ErrQuotaExceeded) {
			s.metrics.RecordDenied(ctx, string(tc.Plan), "quota")
			return nil, entitlement.QuotaDenied(tc.Plan)
		}
		return nil, err
	}
	s.metrics.RecordSubmitted(ctx, string(tc.Plan))

	if err := s.enqueuer.Enqueue(orchestrator.Job{Tenant: tc, AnalysisID: analysis.ID}); err != nil {
		// The analysis stays pending and the recovery sweep picks it up.
		s.logger.Warn("analysis not enqueued", "analysis_id", analysis.ID, "org_id", tc.OrgID, "error", err)
	}

	return analysis, nil
}

func (s *AnalysisService) Get(ctx context.Context, tc tenant.Context, id uuid.UUID) (*model.Analysis, error) {
	sess, err := s.store.Acquire(tc)
	if err != nil {
		return nil, err
	}
	defer sess.Release()

	return sess.FindAnalysis(ctx, id)
}

type ListAnalysesInput struct {
	Offset int
	Limit  int
	Status model.AnalysisStatus
}

type AnalysisPage struct {
	Analyses []*model.Analysis `json:"analyses"`
	Total    int64             `json:"total"`
	Offset   int               `json:"offset"`
	Limit    int               `json:"limit"`
}

// List returns a page of the tenant's analyses inside the plan's history
// window.
func (s *AnalysisService) List(ctx context.Context, tc tenant.Context, input ListAnalysesInput) (*AnalysisPage, error) {
	policy, err := entitlement.PolicyFor(tc.Plan)
	if err != nil {
		return nil, err
	}

	sess, err := s.store.Acquire(tc)
	if err != nil {
		return nil, err
	}
	defer sess.Release()

	params := repository.ListParams{
		Offset: input.Offset,
		Limit:  input.Limit,
		Since:  policy.HistoryCutoff(s.now()),
	}
	if input.Status != "" {
		params.Statuses = []model.AnalysisStatus{input.Status}
	}

	analyses, total, err := sess.ListAnalyses(ctx, params)
	if err != nil {
		return nil, err
	}
	return &AnalysisPage{Analyses: analyses, Total: total, Offset: input.Offset, Limit: input.Limit}, nil
}

// Cancel moves a pending or running analysis to cancelled and abandons its
// in-flight agent calls. Only the submitter or an owner/admin may cancel.
func (s *AnalysisService) Cancel(ctx context.Context, tc tenant.Context, id uuid.UUID) (*model.Analysis, error) {
	sess, err := s.store.Acquire(tc)
	if err != nil {
		return nil, err
	}
	defer sess.Release()

	analysis, err := sess.FindAnalysis(ctx, id)
	if err != nil {
		return nil, err
	}
	if !tc.CanManage() && analysis.CreatedByID != tc.UserID {
		return nil, domain.ErrForbidden
	}
	if !analysis.Status.Cancellable() {
		return nil, domain.ErrNotCancellable
	}

	err = sess.TransitionAnalysis(ctx, id,
		[]model.AnalysisStatus{model.AnalysisPending, model.AnalysisRunning}, model.AnalysisCancelled,
		map[string]interface{}{"finished_at": s.now()})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			return nil, domain.ErrNotCancellable
		}
		return nil, err
	}

	if s.enqueuer.Abort(id) {
		s.logger.Info("aborted running analysis", "analysis_id", id, "org_id", tc.OrgID)
	}
	s.metrics.RecordFinished(ctx, string(model.AnalysisCancelled))

	return sess.FindAnalysis(ctx, id)
}

// Delete removes a finished analysis and its outputs. Owners and admins only.
func (s *AnalysisService) Delete(ctx context.Context, tc tenant.Context, id uuid.UUID) error {
	if !tc.CanManage() {
		return domain.ErrForbidden
	}

	sess, err := s.store.Acquire(tc)
	if err != nil {
		return err
	}
	defer sess.Release()

	analysis, err := sess.FindAnalysis(ctx, id)
	if err != nil {
		return err
	}
	if !analysis.Status.Terminal() {
		return fmt.Errorf("%w: analysis is still %s", domain.ErrConflict, analysis.Status)
	}
	return sess.DeleteAnalysis(ctx, id)
}

func (s *AnalysisService) ListOutputs(ctx context.Context, tc tenant.Context, id uuid.UUID) ([]*model.AgentOutput, error) {
	sess, err := s.store.Acquire(tc)
	if err != nil {
		return nil, err
	}
	defer sess.Release()

	return sess.ListAgentOutputs(ctx, id)
}

// AuthorizeExport checks that a completed analysis may be exported in
// format under the tenant's plan. Rendering happens elsewhere.
func (s *AnalysisService) AuthorizeExport(ctx context.Context, tc tenant.Context, id uuid.UUID, format string) error {
	sess, err := s.store.Acquire(tc)
	if err != nil {
		return err
	}
	defer sess.Release()

	analysis, err := sess.FindAnalysis(ctx, id)
	if err != nil {
		return err
	}
	if analysis.Status != model.AnalysisCompleted {
		return fmt.Errorf("%w: only completed analyses can be exported", domain.ErrConflict)
	}

	decision, err := entitlement.Evaluate(tc.Plan, entitlement.Usage{}, entitlement.Request{
		Operation: entitlement.OpExport,
		Feature:   format,
	})
	if err != nil {
		return err
	}
	if !decision.Allowed {
		s.metrics.RecordDenied(ctx, string(tc.Plan), denialReason(decision.Denial))
	}
	return decision.Err()
}

// Export authorizes the export and assembles the document handed to the
// format's serializer.
func (s *AnalysisService) Export(ctx context.Context, tc tenant.Context, id uuid.UUID, format string) (*serializer.Document, error) {
	if err := s.AuthorizeExport(ctx, tc, id, format); err != nil {
		return nil, err
	}

	sess, err := s.store.Acquire(tc)
	if err != nil {
		return nil, err
	}
	defer sess.Release()

	analysis, err := sess.FindAnalysis(ctx, id)
	if err != nil {
		return nil, err
	}
	outputs, err := sess.ListAgentOutputs(ctx, id)
	if err != nil {
		return nil, err
	}
	return &serializer.Document{Analysis: analysis, Outputs: outputs, ExportedAt: s.now()}, nil
}

type UsageReport struct {
	Plan              model.Plan `json:"plan"`
	Period            string     `json:"period"`
	Used              int        `json:"used"`
	Limit             int        `json:"limit"`
	MaxAgents         int        `json:"max_agents"`
	ExportFormats     []string   `json:"export_formats"`
	HistoryWindowDays int        `json:"history_window_days"`
}

// Usage reports the tenant's consumption in the current period. Limit is -1
// for unlimited plans.
func (s *AnalysisService) Usage(ctx context.Context, tc tenant.Context) (*UsageReport, error) {
	policy, err := entitlement.PolicyFor(tc.Plan)
	if err != nil {
		return nil, err
	}

	sess, err := s.store.Acquire(tc)
	if err != nil {
		return nil, err
	}
	defer sess.Release()

	period := entitlement.Period(s.now())
	used, err := sess.Usage(ctx, period)
	if err != nil {
		return nil, err
	}

	formats := policy.ExportFormats
	if formats == nil {
		formats = []string{}
	}
	return &UsageReport{
		Plan:              tc.Plan,
		Period:            period,
		Used:              used,
		Limit:             policy.MaxAnalysesPerPeriod,
		MaxAgents:         policy.MaxAgents,
		ExportFormats:     formats,
		HistoryWindowDays: int(policy.HistoryWindow / (24 * time.Hour)),
	}, nil
}

// Agents lists the agents a caller may select.
func (s *AnalysisService) Agents() []agent.Definition {
	return s.catalog.Selectable()
}

func denialReason(e *domain.EntitlementError) string {
	switch {
	case e == nil:
		return "unknown"
	case errors.Is(e, domain.ErrQuotaExceeded):
		return "quota"
	case errors.Is(e, domain.ErrAgentLimitExceeded):
		return "agent_limit"
	case errors.Is(e, domain.ErrFeatureNotEntitled):
		return "feature"
	}
	return "unknown"
}
