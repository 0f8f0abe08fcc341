// Package testutil opens throwaway databases for package tests.
package testutil

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dangerclosesec/strategist/internal/model"
	"github.com/dangerclosesec/strategist/internal/rowpolicy"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDB opens a migrated SQLite database in a temporary directory with the
// row policy plugin installed. SQLite has no native row security, so tests
// run in filter mode.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()

	db := NewUnfilteredDB(t)
	require.NoError(t, db.Use(rowpolicy.NewPlugin(rowpolicy.Rules)))
	return db
}

// NewUnfilteredDB is NewDB without the plugin, so the scoped layer can be
// tested on its own.
func NewUnfilteredDB(t testing.TB) *gorm.DB {
	t.Helper()
	return openSQLite(t, "_busy_timeout=5000", 1)
}

// NewConcurrentDB is NewDB with a pool of several connections in WAL mode, so
// transactions from different goroutines really overlap. Transactions begin
// IMMEDIATE and wait on the busy timeout instead of failing with SQLITE_BUSY.
func NewConcurrentDB(t testing.TB) *gorm.DB {
	t.Helper()

	db := openSQLite(t, "_busy_timeout=10000&_journal_mode=WAL&_txlock=immediate", 8)
	require.NoError(t, db.Use(rowpolicy.NewPlugin(rowpolicy.Rules)))
	return db
}

// NewPostgresDB opens a migrated PostgreSQL database in a schema of its own,
// with the row policy plugin installed. The test is skipped unless
// TEST_DATABASE_DSN is set.
func NewPostgresDB(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_DSN")
	if dsn == "" {
		t.Skip("TEST_DATABASE_DSN not set")
	}

	admin, err := gorm.Open(postgres.Open(dsn), quietConfig())
	require.NoError(t, err)
	adminDB, err := admin.DB()
	require.NoError(t, err)

	schema := "test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	require.NoError(t, admin.Exec(fmt.Sprintf("CREATE SCHEMA %s", schema)).Error)
	t.Cleanup(func() {
		admin.Exec(fmt.Sprintf("DROP SCHEMA %s CASCADE", schema))
		_ = adminDB.Close()
	})

	db, err := gorm.Open(postgres.Open(dsn+" search_path="+schema), quietConfig())
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(16)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(model.Tables()...))
	require.NoError(t, db.Use(rowpolicy.NewPlugin(rowpolicy.Rules)))
	return db
}

func openSQLite(t testing.TB, params string, conns int) *gorm.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "strategist.db")
	db, err := gorm.Open(sqlite.Open(path+"?"+params), quietConfig())
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(conns)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(model.Tables()...))
	return db
}

func quietConfig() *gorm.Config {
	return &gorm.Config{
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
		Logger:         logger.Default.LogMode(logger.Silent),
	}
}

// NewOrganization inserts an organization on plan.
func NewOrganization(t testing.TB, db *gorm.DB, name string, plan model.Plan) *model.Organization {
	t.Helper()

	org := &model.Organization{Name: name, Plan: plan}
	require.NoError(t, db.Create(org).Error)
	return org
}

// NewUser inserts an active user into org.
func NewUser(t testing.TB, db *gorm.DB, org *model.Organization, email string, role model.Role) *model.User {
	t.Helper()

	user := &model.User{OrgID: org.ID, Email: email, Name: email, Role: role, PasswordHash: "x"}
	ctx := rowpolicy.WithTenant(context.Background(), org.ID)
	require.NoError(t, db.WithContext(ctx).Create(user).Error)
	return user
}
