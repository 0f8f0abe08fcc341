// internal/repository/directory.go
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dangerclosesec/strategist/internal/domain"
	"github.com/dangerclosesec/strategist/internal/model"
	"github.com/dangerclosesec/strategist/internal/rowpolicy"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DirectoryIface is the system-level lookup used before a tenant is known.
type DirectoryIface interface {
	FindOrganization(ctx context.Context, id uuid.UUID) (*model.Organization, error)
	FindUserByEmail(ctx context.Context, email string) (*model.User, error)
	SetPlan(ctx context.Context, id uuid.UUID, plan model.Plan) error
	SetDisabled(ctx context.Context, id uuid.UUID, disabled bool) error
}

// Directory reads and administers organizations. Organizations are the tenants
// themselves and carry no row policy.
type Directory struct {
	db     *gorm.DB
	native bool
}

var _ DirectoryIface = (*Directory)(nil)

func NewDirectory(db *gorm.DB, mode rowpolicy.Mode) *Directory {
	return &Directory{db: db, native: mode == rowpolicy.ModeNative}
}

func (d *Directory) FindOrganization(ctx context.Context, id uuid.UUID) (*model.Organization, error) {
	var org model.Organization
	result := d.db.WithContext(ctx).First(&org, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("finding organization: %w", result.Error)
	}
	return &org, nil
}

// ListOrganizations returns a page of organizations and the total count.
func (d *Directory) ListOrganizations(ctx context.Context, offset, limit int) ([]*model.Organization, int64, error) {
	var (
		orgs  []*model.Organization
		count int64
	)

	if err := d.db.WithContext(ctx).Model(&model.Organization{}).Count(&count).Error; err != nil {
		return nil, 0, fmt.Errorf("counting organizations: %w", err)
	}

	result := d.db.WithContext(ctx).Order("created_at ASC").Offset(offset).Limit(limit).Find(&orgs)
	if result.Error != nil {
		return nil, 0, fmt.Errorf("listing organizations: %w", result.Error)
	}
	return orgs, count, nil
}

// EachOrganization calls fn for every enabled organization, a page at a time.
func (d *Directory) EachOrganization(ctx context.Context, batchSize int, fn func(*model.Organization) error) error {
	if batchSize <= 0 {
		batchSize = 100
	}
	for offset := 0; ; offset += batchSize {
		var batch []*model.Organization
		err := d.db.WithContext(ctx).
			Where("disabled_at IS NULL").
			Order("created_at ASC, id ASC").
			Offset(offset).Limit(batchSize).
			Find(&batch).Error
		if err != nil {
			return fmt.Errorf("listing organizations: %w", err)
		}
		for _, org := range batch {
			if err := fn(org); err != nil {
				return err
			}
		}
		if len(batch) < batchSize {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

func (d *Directory) SetPlan(ctx context.Context, id uuid.UUID, plan model.Plan) error {
	if !plan.Valid() {
		return fmt.Errorf("%w: %q", domain.ErrUnknownPlan, plan)
	}
	res := d.db.WithContext(ctx).Model(&model.Organization{}).Where("id = ?", id).Update("plan", plan)
	if res.Error != nil {
		return fmt.Errorf("updating plan: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// SetDisabled soft-disables or re-enables an organization.
func (d *Directory) SetDisabled(ctx context.Context, id uuid.UUID, disabled bool) error {
	var at interface{}
	if disabled {
		at = time.Now().UTC()
	}
	res := d.db.WithContext(ctx).Model(&model.Organization{}).Where("id = ?", id).Update("disabled_at", at)
	if res.Error != nil {
		return fmt.Errorf("updating organization: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// FindUserByEmail looks a user up across tenants. It is the only
// cross-tenant read and is limited to the users table.
func (d *Directory) FindUserByEmail(ctx context.Context, email string) (*model.User, error) {
	var user model.User
	ctx = rowpolicy.WithSystemScope(ctx)
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if d.native {
			if err := rowpolicy.SetSystemScope(tx); err != nil {
				return err
			}
		}
		return tx.Where("email = ?", email).First(&user).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("finding user: %w", err)
	}
	return &user, nil
}
