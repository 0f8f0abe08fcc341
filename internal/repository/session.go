// internal/repository/session.go
package repository

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/dangerclosesec/strategist/internal/domain"
	"github.com/dangerclosesec/strategist/internal/model"
	"github.com/dangerclosesec/strategist/internal/rowpolicy"
	"github.com/dangerclosesec/strategist/internal/tenant"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Store hands out tenant-scoped sessions. It is the only way tenant data is
// read or written.
type Store struct {
	db     *gorm.DB
	native bool
}

// NewStore wraps db. With rowpolicy.ModeNative every session transaction sets
// the database tenant marker before its first statement.
func NewStore(db *gorm.DB, mode rowpolicy.Mode) *Store {
	return &Store{db: db, native: mode == rowpolicy.ModeNative}
}

// Acquire returns a session bound to tc.OrgID. A session belongs to one
// request or one job and must be released by its owner.
func (s *Store) Acquire(tc tenant.Context) (*Session, error) {
	if !tc.Valid() {
		return nil, domain.ErrUnauthenticated
	}
	return &Session{store: s, tenant: tc, released: new(atomic.Bool)}, nil
}

// Bootstrap creates org and runs fn with a session bound to the new tenant,
// in one transaction.
func (s *Store) Bootstrap(ctx context.Context, org *model.Organization, fn func(*Session) error) error {
	if org.ID == uuid.Nil {
		org.ID = uuid.New()
	}
	if org.Plan == "" {
		org.Plan = model.PlanFree
	}

	ctx = rowpolicy.WithTenant(ctx, org.ID)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(org).Error; err != nil {
			return fmt.Errorf("creating organization: %w", err)
		}
		if s.native {
			if err := rowpolicy.SetMarker(tx, org.ID); err != nil {
				return err
			}
		}
		return fn(&Session{store: s, tenant: tenant.System(org), tx: tx, released: new(atomic.Bool)})
	})
	return translate(err)
}

// Session is a persistence handle bound to exactly one tenant. Every read is
// filtered by the bound org_id and every insert stamps it.
type Session struct {
	store    *Store
	tenant   tenant.Context
	tx       *gorm.DB
	released *atomic.Bool
}

func (s *Session) Tenant() tenant.Context {
	return s.tenant
}

func (s *Session) OrgID() uuid.UUID {
	return s.tenant.OrgID
}

// Release ends the session. Later calls fail with ErrSessionReleased.
func (s *Session) Release() {
	s.released.Store(true)
}

// Transaction runs fn with a session whose operations share one transaction.
func (s *Session) Transaction(ctx context.Context, fn func(*Session) error) error {
	return s.run(ctx, func(tx *gorm.DB) error {
		return fn(&Session{store: s.store, tenant: s.tenant, tx: tx, released: s.released})
	})
}

func (s *Session) run(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if s.released.Load() {
		return domain.ErrSessionReleased
	}
	if s.tx != nil {
		return translate(fn(s.tx))
	}

	ctx = rowpolicy.WithTenant(ctx, s.tenant.OrgID)
	err := s.store.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if s.store.native {
			if err := rowpolicy.SetMarker(tx, s.tenant.OrgID); err != nil {
				return err
			}
		}
		return fn(tx)
	})
	return translate(err)
}

// Organization returns the bound tenant's organization record.
func (s *Session) Organization(ctx context.Context) (*model.Organization, error) {
	var org model.Organization
	err := s.run(ctx, func(tx *gorm.DB) error {
		return tx.Where("id = ?", s.tenant.OrgID).First(&org).Error
	})
	if err != nil {
		return nil, err
	}
	return &org, nil
}
