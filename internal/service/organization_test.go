package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/dangerclosesec/strategist/internal/auth"
	"github.com/dangerclosesec/strategist/internal/domain"
	"github.com/dangerclosesec/strategist/internal/mocks"
	"github.com/dangerclosesec/strategist/internal/model"
	"github.com/dangerclosesec/strategist/internal/service"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

const testSecret = "test-secret-at-least-16-chars"

func newHasher(t *testing.T) *auth.PasswordHasher {
	t.Helper()
	hasher, err := auth.NewPasswordHasher(auth.DefaultPasswordParams)
	require.NoError(t, err)
	return hasher
}

func newOrganizationService(t *testing.T, e *env, mail *recordingSender) (*service.OrganizationService, *auth.TokenManager) {
	t.Helper()
	tokens := auth.NewTokenManager(testSecret, time.Hour)
	var svc *service.OrganizationService
	if mail == nil {
		svc = service.NewOrganizationService(e.store, e.dir, newHasher(t), tokens, nil, "https://app.example.com", nil)
	} else {
		svc = service.NewOrganizationService(e.store, e.dir, newHasher(t), tokens, mail, "https://app.example.com", nil)
	}
	return svc, tokens
}

func register(t *testing.T, svc *service.OrganizationService, org, email string) *service.AuthOutput {
	t.Helper()
	out, err := svc.Register(context.Background(), service.RegisterInput{
		Organization: org,
		Name:         "Ada",
		Email:        email,
		Password:     "correct horse battery",
	})
	require.NoError(t, err)
	return out
}

func TestRegister(t *testing.T) {
	e := newEnv(t)
	mail := &recordingSender{}
	svc, tokens := newOrganizationService(t, e, mail)

	out := register(t, svc, "Acme", " Ada@Example.com ")

	assert.Equal(t, model.PlanFree, out.Organization.Plan)
	assert.Equal(t, out.Organization.ID, out.User.OrgID)
	assert.Equal(t, model.RoleOwner, out.User.Role)
	assert.Equal(t, "ada@example.com", out.User.Email)
	assert.NotEqual(t, "correct horse battery", out.User.PasswordHash)

	claims, err := tokens.Validate(out.Token)
	require.NoError(t, err)
	cred, err := claims.Credential()
	require.NoError(t, err)
	assert.Equal(t, out.Organization.ID, cred.OrgID)
	assert.Equal(t, out.User.ID, cred.UserID)

	sent := mail.messages()
	require.Len(t, sent, 1)
	assert.Equal(t, "ada@example.com", sent[0].To)
	assert.Equal(t, "welcome", sent[0].TemplateName)
	assert.Contains(t, sent[0].Subject, "Acme")
}

func TestRegisterDuplicateEmail(t *testing.T) {
	e := newEnv(t)
	svc, _ := newOrganizationService(t, e, nil)
	register(t, svc, "Acme", "ada@example.com")

	_, err := svc.Register(context.Background(), service.RegisterInput{
		Organization: "Other",
		Name:         "Ada",
		Email:        "ADA@example.com",
		Password:     "another password",
	})
	assert.ErrorIs(t, err, domain.ErrEmailAlreadyExists)

	orgs, total, err := e.dir.ListOrganizations(context.Background(), 0, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total, "the organization is rolled back with its owner")
	assert.Len(t, orgs, 1)
}

func TestRegisterValidation(t *testing.T) {
	e := newEnv(t)
	svc, _ := newOrganizationService(t, e, nil)

	_, err := svc.Register(context.Background(), service.RegisterInput{
		Organization: "Acme",
		Name:         "Ada",
		Email:        "not-an-email",
		Password:     "short",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestLogin(t *testing.T) {
	e := newEnv(t)
	svc, _ := newOrganizationService(t, e, nil)
	reg := register(t, svc, "Acme", "ada@example.com")

	out, err := svc.Login(context.Background(), service.LoginInput{Email: "  Ada@example.com\t", Password: "correct horse battery"})
	require.NoError(t, err)
	assert.Equal(t, reg.User.ID, out.User.ID)
	assert.Equal(t, reg.Organization.ID, out.Organization.ID)
	assert.NotEmpty(t, out.Token)

	_, err = svc.Login(context.Background(), service.LoginInput{Email: "ada@example.com", Password: "wrong password"})
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)

	_, err = svc.Login(context.Background(), service.LoginInput{Email: "nobody@example.com", Password: "whatever"})
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)

	require.NoError(t, svc.SetDisabled(context.Background(), reg.Organization.ID, true))
	_, err = svc.Login(context.Background(), service.LoginInput{Email: "ada@example.com", Password: "correct horse battery"})
	assert.ErrorIs(t, err, domain.ErrTenantMismatch)

	require.NoError(t, svc.SetDisabled(context.Background(), reg.Organization.ID, false))
	_, err = svc.Login(context.Background(), service.LoginInput{Email: "ada@example.com", Password: "correct horse battery"})
	assert.NoError(t, err)
}

func TestLoginMissingOrganization(t *testing.T) {
	e := newEnv(t)
	hasher := newHasher(t)
	hash, err := hasher.Hash("correct horse battery")
	require.NoError(t, err)

	dir := mocks.NewMockDirectoryIface(gomock.NewController(t))
	user := &model.User{ID: uuid.New(), OrgID: uuid.New(), Email: "ada@example.com", Role: model.RoleOwner, Status: model.StatusActive, PasswordHash: hash}
	dir.EXPECT().FindUserByEmail(gomock.Any(), "ada@example.com").Return(user, nil)
	dir.EXPECT().FindOrganization(gomock.Any(), user.OrgID).Return(nil, domain.ErrNotFound)

	svc := service.NewOrganizationService(e.store, dir, hasher, auth.NewTokenManager(testSecret, time.Hour), nil, "", nil)

	_, err = svc.Login(context.Background(), service.LoginInput{Email: "ada@example.com", Password: "correct horse battery"})
	assert.ErrorIs(t, err, domain.ErrTenantMismatch)
}

func TestUserAdministration(t *testing.T) {
	e := newEnv(t)
	svc, _ := newOrganizationService(t, e, nil)
	reg := register(t, svc, "Acme", "ada@example.com")
	owner := principal(reg.Organization, reg.User)

	member, err := svc.AddUser(context.Background(), owner, service.AddUserInput{
		Name:     "Grace",
		Email:    " Grace@Example.com ",
		Role:     model.RoleMember,
		Password: "another password",
	})
	require.NoError(t, err)
	assert.Equal(t, reg.Organization.ID, member.OrgID)
	assert.Equal(t, "grace@example.com", member.Email)

	_, err = svc.AddUser(context.Background(), owner, service.AddUserInput{
		Name: "Owner Two", Email: "two@example.com", Role: model.RoleOwner, Password: "another password",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidInput, "owners are only created at registration")

	asMember := principal(reg.Organization, member)
	_, err = svc.AddUser(context.Background(), asMember, service.AddUserInput{
		Name: "Eve", Email: "eve@example.com", Role: model.RoleMember, Password: "another password",
	})
	assert.ErrorIs(t, err, domain.ErrForbidden)
	assert.ErrorIs(t, svc.DeactivateUser(context.Background(), asMember, reg.User.ID), domain.ErrForbidden)
	assert.ErrorIs(t, svc.DeactivateUser(context.Background(), owner, reg.User.ID), domain.ErrInvalidInput)

	page, err := svc.ListUsers(context.Background(), asMember, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(2), page.Total)

	require.NoError(t, svc.DeactivateUser(context.Background(), owner, member.ID))
	_, err = svc.Login(context.Background(), service.LoginInput{Email: "grace@example.com", Password: "another password"})
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)

	org, err := svc.Organization(context.Background(), owner)
	require.NoError(t, err)
	assert.Equal(t, "Acme", org.Name)
}

func TestUserAdministrationIsTenantScoped(t *testing.T) {
	e := newEnv(t)
	svc, _ := newOrganizationService(t, e, nil)
	acme := register(t, svc, "Acme", "ada@example.com")
	other := register(t, svc, "Other", "bob@example.com")

	err := svc.DeactivateUser(context.Background(), principal(acme.Organization, acme.User), other.User.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	page, err := svc.ListUsers(context.Background(), principal(acme.Organization, acme.User), 0, 10)
	require.NoError(t, err)
	require.Len(t, page.Users, 1)
	assert.Equal(t, acme.User.ID, page.Users[0].ID)
}

func TestSetPlan(t *testing.T) {
	e := newEnv(t)
	dir := mocks.NewMockDirectoryIface(gomock.NewController(t))
	svc := service.NewOrganizationService(e.store, dir, newHasher(t), auth.NewTokenManager(testSecret, time.Hour), nil, "", nil)
	orgID := uuid.New()

	dir.EXPECT().SetPlan(gomock.Any(), orgID, model.PlanEnterprise).Return(nil)
	assert.NoError(t, svc.SetPlan(context.Background(), orgID, model.PlanEnterprise))

	assert.ErrorIs(t, svc.SetPlan(context.Background(), orgID, model.Plan("platinum")), domain.ErrUnknownPlan)
}
