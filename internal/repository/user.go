// internal/repository/user.go
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/dangerclosesec/strategist/internal/domain"
	"github.com/dangerclosesec/strategist/internal/model"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CreateUser adds a user to the bound tenant.
func (s *Session) CreateUser(ctx context.Context, user *model.User) error {
	return s.run(ctx, func(tx *gorm.DB) error {
		user.OrgID = s.tenant.OrgID
		if user.Status == "" {
			user.Status = model.StatusActive
		}
		if err := tx.Create(user).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return domain.ErrEmailAlreadyExists
			}
			return fmt.Errorf("creating user: %w", err)
		}
		return nil
	})
}

func (s *Session) FindUser(ctx context.Context, id uuid.UUID) (*model.User, error) {
	var user model.User
	err := s.run(ctx, func(tx *gorm.DB) error {
		return s.findUser(tx, id, &user)
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *Session) findUser(tx *gorm.DB, id uuid.UUID, user *model.User) error {
	err := tx.Where("id = ? AND org_id = ?", id, s.tenant.OrgID).First(user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("finding user: %w", err)
	}
	return nil
}

// ListUsers returns a page of the tenant's users.
func (s *Session) ListUsers(ctx context.Context, offset, limit int) ([]*model.User, int64, error) {
	var (
		users []*model.User
		count int64
	)
	offset, limit = pageBounds(offset, limit)

	err := s.run(ctx, func(tx *gorm.DB) error {
		query := tx.Model(&model.User{}).Where("org_id = ?", s.tenant.OrgID)
		if err := query.Count(&count).Error; err != nil {
			return fmt.Errorf("counting users: %w", err)
		}
		if err := query.Order("created_at ASC").Offset(offset).Limit(limit).Find(&users).Error; err != nil {
			return fmt.Errorf("listing users: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return users, count, nil
}

// DeactivateUser marks a user deactivated. Users are never deleted.
func (s *Session) DeactivateUser(ctx context.Context, id uuid.UUID) error {
	return s.run(ctx, func(tx *gorm.DB) error {
		var user model.User
		if err := s.findUser(tx, id, &user); err != nil {
			return err
		}
		err := tx.Model(&model.User{}).
			Where("id = ? AND org_id = ?", id, s.tenant.OrgID).
			Update("status", model.StatusDeactivated).Error
		if err != nil {
			return fmt.Errorf("deactivating user: %w", err)
		}
		return nil
	})
}
