// internal/service/security_audit.go
package service

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/dangerclosesec/strategist/internal/audit"
	"github.com/dangerclosesec/strategist/internal/model"
	"github.com/dangerclosesec/strategist/internal/repository"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

// Ensure SecurityAuditService implements the audit.Logger interface
var _ audit.Logger = (*SecurityAuditService)(nil)

// SecurityAuditService persists tenant-boundary violations and logs them as
// security events.
type SecurityAuditService struct {
	repo   *repository.SecurityEventRepository
	logger *slog.Logger
}

// NewSecurityAuditService creates a new SecurityAuditService
func NewSecurityAuditService(repo *repository.SecurityEventRepository, logger *slog.Logger) *SecurityAuditService {
	if logger == nil {
		logger = slog.Default()
	}
	return &SecurityAuditService{
		repo:   repo,
		logger: logger,
	}
}

// LogTenantMismatch records a credential whose organization is missing or
// disabled
func (s *SecurityAuditService) LogTenantMismatch(
	ctx context.Context,
	claimedOrgID uuid.UUID,
	userID uuid.UUID,
	detail string,
	req *http.Request,
) error {
	event := &model.SecurityEvent{
		Kind:      model.EventTenantMismatch,
		OrgID:     &claimedOrgID,
		UserID:    &userID,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	}

	if req != nil {
		event.RequestID = middleware.GetReqID(ctx)
		event.ClientIP = req.RemoteAddr
		event.UserAgent = req.UserAgent()
		event.Context = model.JSONMap{
			"method": req.Method,
			"path":   req.URL.Path,
		}
	}

	s.logger.ErrorContext(ctx, "tenant mismatch",
		"security_event", true,
		"org_id", claimedOrgID,
		"user_id", userID,
		"detail", detail,
		"requestID", event.RequestID,
	)

	return s.repo.Create(ctx, event)
}

// LogIntegrityViolation records a cross-tenant write that reached the
// database layer
func (s *SecurityAuditService) LogIntegrityViolation(
	ctx context.Context,
	orgID uuid.UUID,
	analysisID uuid.UUID,
	cause error,
) error {
	event := &model.SecurityEvent{
		Kind:       model.EventTenantIntegrity,
		OrgID:      &orgID,
		AnalysisID: &analysisID,
		CreatedAt:  time.Now().UTC(),
	}
	if cause != nil {
		event.Detail = cause.Error()
	}

	s.logger.ErrorContext(ctx, "tenant integrity violation",
		"security_event", true,
		"org_id", orgID,
		"analysis_id", analysisID,
		"error", cause,
	)

	return s.repo.Create(context.WithoutCancel(ctx), event)
}

// LogInactiveUser records a valid token presented by a deactivated or
// unknown user
func (s *SecurityAuditService) LogInactiveUser(ctx context.Context, orgID, userID uuid.UUID, req *http.Request) error {
	event := &model.SecurityEvent{
		Kind:      model.EventInactiveUser,
		OrgID:     &orgID,
		UserID:    &userID,
		Detail:    "token presented by a deactivated or unknown user",
		CreatedAt: time.Now().UTC(),
	}
	if req != nil {
		event.RequestID = middleware.GetReqID(ctx)
		event.ClientIP = req.RemoteAddr
		event.UserAgent = req.UserAgent()
	}
	return s.repo.Create(ctx, event)
}

// Query retrieves security events
func (s *SecurityAuditService) Query(ctx context.Context, params repository.SecurityEventQuery) ([]model.SecurityEvent, int64, error) {
	return s.repo.Query(ctx, params)
}
