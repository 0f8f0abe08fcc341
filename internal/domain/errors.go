// internal/domain/errors.go
package domain

import (
	"errors"
	"fmt"
)

var (
	// General errors
	ErrNotFound          = errors.New("not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrConflict          = errors.New("conflict")
	ErrInvalidTransition = errors.New("invalid status transition")

	// Credential and tenancy errors
	ErrUnauthenticated    = errors.New("unauthenticated")
	ErrTenantMismatch     = errors.New("tenant mismatch")
	ErrForbidden          = errors.New("forbidden")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmailAlreadyExists = errors.New("email already exists")
	ErrSessionReleased    = errors.New("tenant session released")
	ErrMalformedHash      = errors.New("malformed password hash")

	// ErrTenantIntegrity means a row crossed a tenant boundary below the
	// scoped layer. It is never recoverable.
	ErrTenantIntegrity = errors.New("tenant integrity violation")

	// Entitlement errors
	ErrQuotaExceeded      = errors.New("analysis quota exceeded")
	ErrAgentLimitExceeded = errors.New("agent limit exceeded")
	ErrFeatureNotEntitled = errors.New("feature not included in plan")
	ErrUnknownPlan        = errors.New("unknown plan")

	// Analysis errors
	ErrNotCancellable       = errors.New("analysis can no longer be cancelled")
	ErrUnknownAgent         = errors.New("unknown agent")
	ErrAgentFailure         = errors.New("agent failure")
	ErrConsolidationFailure = errors.New("consolidation failure")
	ErrNoAgentSucceeded     = errors.New("no agent produced an output")
)

// EntitlementError is a denial from the plan gate. It carries the upgrade
// guidance shown to the caller and unwraps to one of the entitlement sentinels.
type EntitlementError struct {
	Kind     error
	Plan     string
	Limit    int
	Used     int
	Guidance string
}

func (e *EntitlementError) Error() string {
	if e.Limit > 0 {
		return fmt.Sprintf("%s: plan %s allows %d (used %d)", e.Kind, e.Plan, e.Limit, e.Used)
	}
	return fmt.Sprintf("%s: plan %s", e.Kind, e.Plan)
}

func (e *EntitlementError) Unwrap() error {
	return e.Kind
}
