package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dangerclosesec/strategist/internal/agent"
	"github.com/dangerclosesec/strategist/internal/audit"
	"github.com/dangerclosesec/strategist/internal/domain"
	"github.com/dangerclosesec/strategist/internal/model"
	"github.com/dangerclosesec/strategist/internal/observability"
	"github.com/dangerclosesec/strategist/internal/repository"
	"golang.org/x/sync/errgroup"
)

// Runner executes a single analysis end to end.
type Runner struct {
	store       *repository.Store
	worker      agent.Worker
	catalog     *agent.Catalog
	notifier    Notifier
	audit       audit.Logger
	metrics     *observability.Metrics
	logger      *slog.Logger
	concurrency int
}

// NewRunner creates a runner. notifier, auditLogger and metrics may be nil.
func NewRunner(
	store *repository.Store,
	worker agent.Worker,
	catalog *agent.Catalog,
	notifier Notifier,
	auditLogger audit.Logger,
	metrics *observability.Metrics,
	logger *slog.Logger,
) *Runner {
	if notifier == nil {
		notifier = NoopNotifier{}
	}
	if auditLogger == nil {
		auditLogger = &audit.NoOpLogger{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Runner{
		store:       store,
		worker:      worker,
		catalog:     catalog,
		notifier:    notifier,
		audit:       auditLogger,
		metrics:     metrics,
		logger:      logger,
		concurrency: 4,
	}
}

// SetConcurrency bounds how many agents of one analysis run at once.
func (r *Runner) SetConcurrency(n int) {
	if n > 0 {
		r.concurrency = n
	}
}

// Run executes job. Agent failures, consolidation failures and cancellation
// are outcomes recorded on the analysis, not errors. Run returns an error
// only when the job could not be driven at all, or when a tenant integrity
// violation halted it.
func (r *Runner) Run(ctx context.Context, job Job) error {
	sess, err := r.store.Acquire(job.Tenant)
	if err != nil {
		return fmt.Errorf("acquiring session: %w", err)
	}
	defer sess.Release()

	logger := r.logger.With("analysis_id", job.AnalysisID, "org_id", job.Tenant.OrgID)

	// Writes outlive an abort so that whatever ran is still recorded.
	persistCtx := context.WithoutCancel(ctx)

	analysis, err := sess.FindAnalysis(persistCtx, job.AnalysisID)
	if err != nil {
		return fmt.Errorf("loading analysis: %w", err)
	}
	if analysis.Status != model.AnalysisPending {
		logger.Info("analysis already picked up, skipping", "status", analysis.Status)
		return nil
	}

	started := time.Now().UTC()
	err = sess.TransitionAnalysis(persistCtx, analysis.ID,
		[]model.AnalysisStatus{model.AnalysisPending}, model.AnalysisRunning,
		map[string]interface{}{"started_at": started})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			logger.Info("analysis left pending before start", "error", err)
			return nil
		}
		return r.halt(persistCtx, sess, analysis, err, logger)
	}
	logger.Info("analysis running", "agents", analysis.SelectedAgents)

	outputs, err := r.fanOut(ctx, persistCtx, sess, analysis, logger)
	if err != nil {
		return r.halt(persistCtx, sess, analysis, err, logger)
	}

	if ctx.Err() != nil {
		logger.Info("analysis aborted, skipping consolidation", "error", ctx.Err())
		return ctx.Err()
	}

	var prior []agent.PriorOutput
	for _, out := range outputs {
		if out.Succeeded() {
			prior = append(prior, agent.PriorOutput{AgentID: out.AgentID, Content: out.Content})
		}
	}

	if len(prior) == 0 {
		logger.Warn("no agent succeeded", "agents", len(outputs))
		return r.finish(persistCtx, sess, analysis, model.AnalysisRunning, model.AnalysisFailed,
			map[string]interface{}{"error": domain.ErrNoAgentSucceeded.Error()}, logger)
	}

	err = sess.TransitionAnalysis(persistCtx, analysis.ID,
		[]model.AnalysisStatus{model.AnalysisRunning}, model.AnalysisConsolidating, nil)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			logger.Info("analysis no longer running, skipping consolidation", "error", err)
			return nil
		}
		return r.halt(persistCtx, sess, analysis, err, logger)
	}

	summary := r.invoke(ctx, analysis, model.ConsolidatorAgentID, model.StageConsolidation, prior, logger)
	if err := sess.CreateAgentOutput(persistCtx, summary); err != nil {
		return r.halt(persistCtx, sess, analysis, fmt.Errorf("recording consolidation: %w", err), logger)
	}

	if !summary.Succeeded() {
		return r.finish(persistCtx, sess, analysis, model.AnalysisConsolidating, model.AnalysisFailed,
			map[string]interface{}{"error": fmt.Sprintf("%s: %s", domain.ErrConsolidationFailure, summary.Error)}, logger)
	}

	return r.finish(persistCtx, sess, analysis, model.AnalysisConsolidating, model.AnalysisCompleted,
		map[string]interface{}{"summary": summary.Content}, logger)
}

// fanOut runs every selected agent except the consolidator and waits for
// all of them. Each task owns one slot of the result slice. Agent failures
// are recorded as failed outputs; only persistence errors are returned.
func (r *Runner) fanOut(ctx, persistCtx context.Context, sess *repository.Session, analysis *model.Analysis, logger *slog.Logger) ([]*model.AgentOutput, error) {
	stages := analysis.SelectedAgents.Without(model.ConsolidatorAgentID)
	results := make([]*model.AgentOutput, len(stages))

	var g errgroup.Group
	g.SetLimit(r.concurrency)

	for i, agentID := range stages {
		g.Go(func() error {
			out := r.invoke(ctx, analysis, agentID, model.StageAnalysis, nil, logger)
			results[i] = out
			if err := sess.CreateAgentOutput(persistCtx, out); err != nil {
				return fmt.Errorf("recording output of %s: %w", agentID, err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// invoke calls one agent under its own timeout and converts the outcome into
// an output row. It never returns an error.
func (r *Runner) invoke(ctx context.Context, analysis *model.Analysis, agentID string, stage model.OutputStage, prior []agent.PriorOutput, logger *slog.Logger) (out *model.AgentOutput) {
	timeout := r.catalog.Timeout(agentID)
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out = &model.AgentOutput{
		AnalysisID: analysis.ID,
		AgentID:    agentID,
		Stage:      stage,
	}

	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			out.Status = model.OutputFailed
			out.Error = fmt.Sprintf("%s: panic: %v", domain.ErrAgentFailure, p)
			logger.Error("agent panicked", "agent", agentID, "panic", p)
		}
		out.DurationMS = time.Since(start).Milliseconds()
		r.metrics.RecordAgent(context.WithoutCancel(ctx), agentID, string(out.Status), time.Since(start))
	}()

	res, err := r.worker.Invoke(callCtx, agent.Request{
		AgentID:      agentID,
		AnalysisID:   analysis.ID,
		Problem:      analysis.Problem,
		BusinessType: analysis.BusinessType,
		Depth:        analysis.Depth,
		PriorOutputs: prior,
	})
	if err == nil && (res == nil || res.Content == "") {
		err = errors.New("empty result")
	}
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("timed out after %s: %w", timeout, err)
		}
		out.Status = model.OutputFailed
		out.Error = fmt.Errorf("%w: %w", domain.ErrAgentFailure, err).Error()
		logger.Warn("agent failed", "agent", agentID, "stage", stage, "error", err)
		return out
	}

	out.Status = model.OutputSucceeded
	out.Content = res.Content
	if res.Metadata != nil {
		out.Metadata = model.JSONMap(res.Metadata)
	}
	return out
}

// finish moves the analysis to a terminal status and notifies the submitter.
func (r *Runner) finish(ctx context.Context, sess *repository.Session, analysis *model.Analysis, from, to model.AnalysisStatus, fields map[string]interface{}, logger *slog.Logger) error {
	fields["finished_at"] = time.Now().UTC()
	err := sess.TransitionAnalysis(ctx, analysis.ID, []model.AnalysisStatus{from}, to, fields)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			logger.Info("analysis changed status concurrently", "error", err)
			return nil
		}
		return r.halt(ctx, sess, analysis, err, logger)
	}
	logger.Info("analysis finished", "status", to)
	r.metrics.RecordFinished(ctx, string(to))

	final, err := sess.FindAnalysis(ctx, analysis.ID)
	if err != nil {
		logger.Error("reloading finished analysis", "error", err)
		return nil
	}
	if err := r.notifier.AnalysisFinished(ctx, sess, final); err != nil {
		logger.Error("notifying submitter", "error", err)
	}
	return nil
}

// halt stops a job on an error it cannot recover from. A tenant integrity
// violation is also raised as a security event.
func (r *Runner) halt(ctx context.Context, sess *repository.Session, analysis *model.Analysis, cause error, logger *slog.Logger) error {
	if errors.Is(cause, domain.ErrTenantIntegrity) {
		logger.Error("tenant integrity violation, halting analysis", "security_event", true, "error", cause)
		r.metrics.RecordIntegrityViolation(ctx)
		if err := r.audit.LogIntegrityViolation(ctx, sess.OrgID(), analysis.ID, cause); err != nil {
			logger.Error("recording security event", "error", err)
		}
	} else {
		logger.Error("analysis halted", "error", cause)
	}

	err := sess.TransitionAnalysis(ctx, analysis.ID,
		[]model.AnalysisStatus{model.AnalysisRunning, model.AnalysisConsolidating}, model.AnalysisFailed,
		map[string]interface{}{"error": cause.Error(), "finished_at": time.Now().UTC()})
	if err == nil {
		r.metrics.RecordFinished(ctx, string(model.AnalysisFailed))
	}
	return cause
}
