// Package tenant resolves the authenticated principal of an inbound operation
// into the tenant context that every downstream call receives explicitly.
package tenant

import (
	"context"
	"fmt"

	"github.com/dangerclosesec/strategist/internal/domain"
	"github.com/dangerclosesec/strategist/internal/model"
	"github.com/google/uuid"
)

// RoleSystem is used by background jobs that act on behalf of a tenant
// without an interactive principal (recovery, retention).
const RoleSystem model.Role = "system"

// Credential is the verified payload of an inbound credential.
type Credential struct {
	UserID uuid.UUID
	OrgID  uuid.UUID
	Role   model.Role
}

// Context identifies who is acting and for which tenant.
type Context struct {
	UserID uuid.UUID
	OrgID  uuid.UUID
	Role   model.Role
	Plan   model.Plan
}

func (c Context) Valid() bool {
	return c.OrgID != uuid.Nil && c.Plan.Valid() && (c.Role.Valid() || c.Role == RoleSystem)
}

// CanManage reports whether the principal may act on analyses it did not create.
func (c Context) CanManage() bool {
	return c.Role == model.RoleOwner || c.Role == model.RoleAdmin || c.Role == RoleSystem
}

func (c Context) String() string {
	return fmt.Sprintf("org=%s user=%s role=%s", c.OrgID, c.UserID, c.Role)
}

// System returns a context for background work on org.
func System(org *model.Organization) Context {
	return Context{OrgID: org.ID, Role: RoleSystem, Plan: org.Plan}
}

// Resolve derives the tenant context from a verified credential and the
// organization the credential names. It performs no I/O.
func Resolve(cred *Credential, org *model.Organization) (Context, error) {
	if cred == nil || cred.UserID == uuid.Nil || cred.OrgID == uuid.Nil || !cred.Role.Valid() {
		return Context{}, domain.ErrUnauthenticated
	}
	if org == nil || org.ID != cred.OrgID || org.Disabled() {
		return Context{}, domain.ErrTenantMismatch
	}
	if !org.Plan.Valid() {
		return Context{}, fmt.Errorf("%w: %q", domain.ErrUnknownPlan, org.Plan)
	}

	return Context{
		UserID: cred.UserID,
		OrgID:  org.ID,
		Role:   cred.Role,
		Plan:   org.Plan,
	}, nil
}

type contextKey struct{}

// NewContext stores the resolved tenant context on a request context. Only the
// transport layer reads it back; services take Context as an argument.
func NewContext(ctx context.Context, tc Context) context.Context {
	return context.WithValue(ctx, contextKey{}, tc)
}

func FromContext(ctx context.Context) (Context, bool) {
	tc, ok := ctx.Value(contextKey{}).(Context)
	return tc, ok
}
