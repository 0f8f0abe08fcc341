// internal/service/organization.go
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dangerclosesec/strategist/internal/auth"
	"github.com/dangerclosesec/strategist/internal/domain"
	"github.com/dangerclosesec/strategist/internal/email/mailer"
	"github.com/dangerclosesec/strategist/internal/model"
	"github.com/dangerclosesec/strategist/internal/repository"
	"github.com/dangerclosesec/strategist/internal/tenant"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// OrganizationService registers tenants, signs users in and administers
// plans and membership.
type OrganizationService struct {
	store          *repository.Store
	dir            repository.DirectoryIface
	passwordHasher *auth.PasswordHasher
	tokenManager   *auth.TokenManager
	mail           mailer.Sender
	baseURL        string
	logger         *slog.Logger
	validate       *validator.Validate
}

// NewOrganizationService creates the service. mail may be nil, in which case
// no welcome email is sent.
func NewOrganizationService(
	store *repository.Store,
	dir repository.DirectoryIface,
	passwordHasher *auth.PasswordHasher,
	tokenManager *auth.TokenManager,
	mail mailer.Sender,
	baseURL string,
	logger *slog.Logger,
) *OrganizationService {
	if logger == nil {
		logger = slog.Default()
	}
	return &OrganizationService{
		store:          store,
		dir:            dir,
		passwordHasher: passwordHasher,
		tokenManager:   tokenManager,
		mail:           mail,
		baseURL:        baseURL,
		logger:         logger,
		validate:       validator.New(),
	}
}

type RegisterInput struct {
	Organization string `json:"organization" validate:"required,max=200"`
	Name         string `json:"name" validate:"required,max=200"`
	Email        string `json:"email" validate:"required,email"`
	Password     string `json:"password" validate:"required,min=8,max=128"`
}

type AuthOutput struct {
	Organization *model.Organization `json:"organization"`
	User         *model.User         `json:"user"`
	Token        string              `json:"token"`
}

// Register creates an organization on the free plan together with its owner.
func (s *OrganizationService) Register(ctx context.Context, input RegisterInput) (*AuthOutput, error) {
	input.Email = normalizeEmail(input.Email)
	if err := s.validate.Struct(input); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}

	hash, err := s.passwordHasher.Hash(input.Password)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	org := &model.Organization{Name: input.Organization, Plan: model.PlanFree}
	user := &model.User{
		Email:        input.Email,
		Name:         input.Name,
		Role:         model.RoleOwner,
		PasswordHash: hash,
	}

	err = s.store.Bootstrap(ctx, org, func(sess *repository.Session) error {
		return sess.CreateUser(ctx, user)
	})
	if err != nil {
		return nil, err
	}

	token, err := s.tokenManager.Generate(user)
	if err != nil {
		return nil, fmt.Errorf("generating token: %w", err)
	}

	if s.mail != nil {
		err := mailer.SendWelcome(s.mail, user.Email, mailer.WelcomeData{
			Name:         user.Name,
			Organization: org.Name,
			Plan:         string(org.Plan),
			Link:         s.baseURL,
		})
		if err != nil {
			s.logger.Error("sending welcome email", "org_id", org.ID, "error", err)
		}
	}

	return &AuthOutput{Organization: org, User: user, Token: token}, nil
}

// normalizeEmail runs before validation so surrounding whitespace is not a
// validation failure.
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

type LoginInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// Login verifies a password and issues a token bound to the user's
// organization. Unknown emails, wrong passwords and deactivated users all
// fail with ErrInvalidCredentials.
func (s *OrganizationService) Login(ctx context.Context, input LoginInput) (*AuthOutput, error) {
	input.Email = normalizeEmail(input.Email)
	if err := s.validate.Struct(input); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}

	user, err := s.dir.FindUserByEmail(ctx, input.Email)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrInvalidCredentials
		}
		return nil, err
	}

	ok, err := s.passwordHasher.Verify(input.Password, user.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("verifying password: %w", err)
	}
	if !ok || !user.Active() {
		return nil, domain.ErrInvalidCredentials
	}

	org, err := s.dir.FindOrganization(ctx, user.OrgID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrTenantMismatch
		}
		return nil, err
	}
	if org.Disabled() {
		return nil, domain.ErrTenantMismatch
	}

	token, err := s.tokenManager.Generate(user)
	if err != nil {
		return nil, fmt.Errorf("generating token: %w", err)
	}
	return &AuthOutput{Organization: org, User: user, Token: token}, nil
}

type AddUserInput struct {
	Name     string     `json:"name" validate:"required,max=200"`
	Email    string     `json:"email" validate:"required,email"`
	Role     model.Role `json:"role" validate:"required,oneof=admin member"`
	Password string     `json:"password" validate:"required,min=8,max=128"`
}

// AddUser creates a user in the caller's organization.
func (s *OrganizationService) AddUser(ctx context.Context, tc tenant.Context, input AddUserInput) (*model.User, error) {
	if !tc.CanManage() {
		return nil, domain.ErrForbidden
	}
	input.Email = normalizeEmail(input.Email)
	if err := s.validate.Struct(input); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}

	hash, err := s.passwordHasher.Hash(input.Password)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	sess, err := s.store.Acquire(tc)
	if err != nil {
		return nil, err
	}
	defer sess.Release()

	user := &model.User{
		Email:        input.Email,
		Name:         input.Name,
		Role:         input.Role,
		PasswordHash: hash,
	}
	if err := sess.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

type UserPage struct {
	Users  []*model.User `json:"users"`
	Total  int64         `json:"total"`
	Offset int           `json:"offset"`
	Limit  int           `json:"limit"`
}

func (s *OrganizationService) ListUsers(ctx context.Context, tc tenant.Context, offset, limit int) (*UserPage, error) {
	sess, err := s.store.Acquire(tc)
	if err != nil {
		return nil, err
	}
	defer sess.Release()

	users, total, err := sess.ListUsers(ctx, offset, limit)
	if err != nil {
		return nil, err
	}
	return &UserPage{Users: users, Total: total, Offset: offset, Limit: limit}, nil
}

// DeactivateUser blocks a user from signing in or using issued tokens.
func (s *OrganizationService) DeactivateUser(ctx context.Context, tc tenant.Context, userID uuid.UUID) error {
	if !tc.CanManage() {
		return domain.ErrForbidden
	}
	if userID == tc.UserID {
		return fmt.Errorf("%w: cannot deactivate yourself", domain.ErrInvalidInput)
	}

	sess, err := s.store.Acquire(tc)
	if err != nil {
		return err
	}
	defer sess.Release()

	return sess.DeactivateUser(ctx, userID)
}

// Organization returns the caller's organization.
func (s *OrganizationService) Organization(ctx context.Context, tc tenant.Context) (*model.Organization, error) {
	sess, err := s.store.Acquire(tc)
	if err != nil {
		return nil, err
	}
	defer sess.Release()

	return sess.Organization(ctx)
}

// SetPlan changes an organization's plan. It is an operator action.
func (s *OrganizationService) SetPlan(ctx context.Context, orgID uuid.UUID, plan model.Plan) error {
	if !plan.Valid() {
		return fmt.Errorf("%w: %q", domain.ErrUnknownPlan, plan)
	}
	if err := s.dir.SetPlan(ctx, orgID, plan); err != nil {
		return err
	}
	s.logger.Info("organization plan changed", "org_id", orgID, "plan", plan)
	return nil
}

// SetDisabled disables or re-enables an organization. Tokens issued to a
// disabled organization fail with ErrTenantMismatch.
func (s *OrganizationService) SetDisabled(ctx context.Context, orgID uuid.UUID, disabled bool) error {
	if err := s.dir.SetDisabled(ctx, orgID, disabled); err != nil {
		return err
	}
	s.logger.Info("organization status changed", "org_id", orgID, "disabled", disabled)
	return nil
}
