package tenant_test

import (
	"context"
	"testing"
	"time"

	"github.com/dangerclosesec/strategist/internal/domain"
	"github.com/dangerclosesec/strategist/internal/model"
	"github.com/dangerclosesec/strategist/internal/tenant"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	org := &model.Organization{ID: uuid.New(), Name: "Acme", Plan: model.PlanPro}
	cred := &tenant.Credential{UserID: uuid.New(), OrgID: org.ID, Role: model.RoleMember}

	t.Run("valid credential", func(t *testing.T) {
		tc, err := tenant.Resolve(cred, org)
		require.NoError(t, err)
		assert.Equal(t, cred.UserID, tc.UserID)
		assert.Equal(t, org.ID, tc.OrgID)
		assert.Equal(t, model.RoleMember, tc.Role)
		assert.Equal(t, model.PlanPro, tc.Plan)
		assert.True(t, tc.Valid())
		assert.False(t, tc.CanManage())
	})

	t.Run("missing credential", func(t *testing.T) {
		_, err := tenant.Resolve(nil, org)
		assert.ErrorIs(t, err, domain.ErrUnauthenticated)
	})

	t.Run("credential without user", func(t *testing.T) {
		_, err := tenant.Resolve(&tenant.Credential{OrgID: org.ID, Role: model.RoleOwner}, org)
		assert.ErrorIs(t, err, domain.ErrUnauthenticated)
	})

	t.Run("unknown role", func(t *testing.T) {
		_, err := tenant.Resolve(&tenant.Credential{UserID: uuid.New(), OrgID: org.ID, Role: "root"}, org)
		assert.ErrorIs(t, err, domain.ErrUnauthenticated)
	})

	t.Run("organization does not exist", func(t *testing.T) {
		_, err := tenant.Resolve(cred, nil)
		assert.ErrorIs(t, err, domain.ErrTenantMismatch)
	})

	t.Run("credential names another organization", func(t *testing.T) {
		other := &model.Organization{ID: uuid.New(), Plan: model.PlanFree}
		_, err := tenant.Resolve(cred, other)
		assert.ErrorIs(t, err, domain.ErrTenantMismatch)
	})

	t.Run("disabled organization", func(t *testing.T) {
		now := time.Now()
		disabled := *org
		disabled.DisabledAt = &now
		_, err := tenant.Resolve(cred, &disabled)
		assert.ErrorIs(t, err, domain.ErrTenantMismatch)
	})

	t.Run("unknown plan", func(t *testing.T) {
		odd := *org
		odd.Plan = "platinum"
		_, err := tenant.Resolve(cred, &odd)
		assert.ErrorIs(t, err, domain.ErrUnknownPlan)
	})
}

func TestCanManage(t *testing.T) {
	for role, want := range map[model.Role]bool{
		model.RoleOwner:   true,
		model.RoleAdmin:   true,
		model.RoleMember:  false,
		tenant.RoleSystem: true,
	} {
		tc := tenant.Context{OrgID: uuid.New(), Role: role, Plan: model.PlanFree}
		assert.Equal(t, want, tc.CanManage(), role)
	}
}

func TestSystem(t *testing.T) {
	org := &model.Organization{ID: uuid.New(), Plan: model.PlanEnterprise}
	tc := tenant.System(org)

	assert.True(t, tc.Valid())
	assert.Equal(t, uuid.Nil, tc.UserID)
	assert.Equal(t, tenant.RoleSystem, tc.Role)
	assert.Equal(t, model.PlanEnterprise, tc.Plan)
}

func TestContextRoundTrip(t *testing.T) {
	_, ok := tenant.FromContext(context.Background())
	assert.False(t, ok)

	tc := tenant.Context{UserID: uuid.New(), OrgID: uuid.New(), Role: model.RoleAdmin, Plan: model.PlanPro}
	got, ok := tenant.FromContext(tenant.NewContext(context.Background(), tc))
	require.True(t, ok)
	assert.Equal(t, tc, got)
}
