package rowpolicy

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type markerKey struct{}
type systemKey struct{}

// WithTenant binds the tenant marker to ctx for the filter plugin.
func WithTenant(ctx context.Context, orgID uuid.UUID) context.Context {
	return context.WithValue(ctx, markerKey{}, orgID)
}

// TenantFrom returns the marker bound to ctx.
func TenantFrom(ctx context.Context) (uuid.UUID, bool) {
	if ctx == nil {
		return uuid.Nil, false
	}
	id, ok := ctx.Value(markerKey{}).(uuid.UUID)
	return id, ok && id != uuid.Nil
}

// WithSystemScope marks ctx as a system lookup. Only rules with SystemRead
// honour it, and only for reads.
func WithSystemScope(ctx context.Context) context.Context {
	return context.WithValue(ctx, systemKey{}, true)
}

func systemScoped(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	v, _ := ctx.Value(systemKey{}).(bool)
	return v
}

// SetMarker sets the native tenant marker on tx. The setting is transaction
// local, so it is cleared when the transaction ends and the connection goes
// back to the pool.
func SetMarker(tx *gorm.DB, orgID uuid.UUID) error {
	if err := tx.Exec("SELECT set_config(?, ?, true)", MarkerSetting, orgID.String()).Error; err != nil {
		return fmt.Errorf("setting tenant marker: %w", err)
	}
	return nil
}

// SetSystemScope enables system reads on tx for the rest of the transaction.
func SetSystemScope(tx *gorm.DB) error {
	if err := tx.Exec("SELECT set_config(?, 'on', true)", SystemSetting).Error; err != nil {
		return fmt.Errorf("setting system scope: %w", err)
	}
	return nil
}
