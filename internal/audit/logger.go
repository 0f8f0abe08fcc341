package audit

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

//go:generate mockgen -source=./logger.go -destination=../mocks/mock_audit_logger.go -package=mocks Logger

// Logger records security-relevant tenant events
type Logger interface {
	// LogTenantMismatch records a credential naming an organization that is
	// missing or disabled
	LogTenantMismatch(
		ctx context.Context,
		claimedOrgID uuid.UUID,
		userID uuid.UUID,
		detail string,
		req *http.Request,
	) error

	// LogIntegrityViolation records a cross-tenant write caught below the
	// scoped persistence layer
	LogIntegrityViolation(
		ctx context.Context,
		orgID uuid.UUID,
		analysisID uuid.UUID,
		cause error,
	) error

	// LogInactiveUser records a valid token presented by a user that is
	// deactivated or no longer exists in its organization
	LogInactiveUser(
		ctx context.Context,
		orgID uuid.UUID,
		userID uuid.UUID,
		req *http.Request,
	) error
}

// NoOpLogger is a logger that does nothing
type NoOpLogger struct{}

// LogTenantMismatch implements Logger.LogTenantMismatch
func (l *NoOpLogger) LogTenantMismatch(
	ctx context.Context,
	claimedOrgID uuid.UUID,
	userID uuid.UUID,
	detail string,
	req *http.Request,
) error {
	return nil
}

// LogIntegrityViolation implements Logger.LogIntegrityViolation
func (l *NoOpLogger) LogIntegrityViolation(
	ctx context.Context,
	orgID uuid.UUID,
	analysisID uuid.UUID,
	cause error,
) error {
	return nil
}

// LogInactiveUser implements Logger.LogInactiveUser
func (l *NoOpLogger) LogInactiveUser(
	ctx context.Context,
	orgID uuid.UUID,
	userID uuid.UUID,
	req *http.Request,
) error {
	return nil
}
