package rowpolicy_test

import (
	"context"
	"testing"

	"github.com/dangerclosesec/strategist/internal/domain"
	"github.com/dangerclosesec/strategist/internal/model"
	"github.com/dangerclosesec/strategist/internal/rowpolicy"
	"github.com/dangerclosesec/strategist/internal/testutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newAnalysis(orgID uuid.UUID) *model.Analysis {
	return &model.Analysis{
		OrgID:          orgID,
		CreatedByID:    uuid.New(),
		Problem:        "grow revenue",
		Depth:          model.DepthStandard,
		SelectedAgents: model.AgentSet{"market", model.ConsolidatorAgentID},
	}
}

func seed(t *testing.T, db *gorm.DB, org *model.Organization) *model.Analysis {
	t.Helper()
	a := newAnalysis(org.ID)
	require.NoError(t, db.WithContext(rowpolicy.WithTenant(context.Background(), org.ID)).Create(a).Error)
	return a
}

func TestPluginFiltersReads(t *testing.T) {
	db := testutil.NewDB(t)
	orgA := testutil.NewOrganization(t, db, "A", model.PlanFree)
	orgB := testutil.NewOrganization(t, db, "B", model.PlanFree)
	seed(t, db, orgA)
	theirs := seed(t, db, orgB)

	ctxA := rowpolicy.WithTenant(context.Background(), orgA.ID)

	t.Run("unqualified query sees only the marker tenant", func(t *testing.T) {
		var rows []model.Analysis
		require.NoError(t, db.WithContext(ctxA).Find(&rows).Error)
		require.Len(t, rows, 1)
		assert.Equal(t, orgA.ID, rows[0].OrgID)
	})

	t.Run("lookup by id of another tenant finds nothing", func(t *testing.T) {
		var row model.Analysis
		err := db.WithContext(ctxA).Where("id = ?", theirs.ID).First(&row).Error
		assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
	})

	t.Run("update cannot reach another tenant", func(t *testing.T) {
		res := db.WithContext(ctxA).Model(&model.Analysis{}).Where("id = ?", theirs.ID).Update("status", model.AnalysisFailed)
		require.NoError(t, res.Error)
		assert.Zero(t, res.RowsAffected)
	})

	t.Run("delete cannot reach another tenant", func(t *testing.T) {
		res := db.WithContext(ctxA).Where("id = ?", theirs.ID).Delete(&model.Analysis{})
		require.NoError(t, res.Error)
		assert.Zero(t, res.RowsAffected)
	})

	t.Run("raw SQL is not rewritten", func(t *testing.T) {
		var n int64
		require.NoError(t, db.WithContext(ctxA).Raw("SELECT count(*) FROM analyses").Scan(&n).Error)
		assert.Equal(t, int64(2), n)
	})
}

func TestPluginRequiresMarker(t *testing.T) {
	db := testutil.NewDB(t)
	org := testutil.NewOrganization(t, db, "A", model.PlanFree)

	var rows []model.Analysis
	err := db.WithContext(context.Background()).Find(&rows).Error
	assert.ErrorIs(t, err, domain.ErrTenantIntegrity)
	assert.ErrorIs(t, err, rowpolicy.ErrNoTenant)

	err = db.WithContext(context.Background()).Create(newAnalysis(org.ID)).Error
	assert.ErrorIs(t, err, domain.ErrTenantIntegrity)

	t.Run("organizations are not tenant-bearing", func(t *testing.T) {
		var orgs []model.Organization
		require.NoError(t, db.WithContext(context.Background()).Find(&orgs).Error)
		assert.Len(t, orgs, 1)
	})
}

func TestPluginRejectsCrossTenantInsert(t *testing.T) {
	db := testutil.NewDB(t)
	orgA := testutil.NewOrganization(t, db, "A", model.PlanFree)
	orgB := testutil.NewOrganization(t, db, "B", model.PlanFree)
	ctxA := rowpolicy.WithTenant(context.Background(), orgA.ID)

	err := db.WithContext(ctxA).Create(newAnalysis(orgB.ID)).Error
	assert.ErrorIs(t, err, domain.ErrTenantIntegrity)

	t.Run("batch insert with one foreign row", func(t *testing.T) {
		batch := []*model.Analysis{newAnalysis(orgA.ID), newAnalysis(orgB.ID)}
		err := db.WithContext(ctxA).Create(&batch).Error
		assert.ErrorIs(t, err, domain.ErrTenantIntegrity)
	})

	t.Run("child row under a parent of another tenant", func(t *testing.T) {
		theirs := seed(t, db, orgB)
		out := &model.AgentOutput{AnalysisID: theirs.ID, AgentID: "market", Stage: model.StageAnalysis, Status: model.OutputSucceeded}
		err := db.WithContext(ctxA).Create(out).Error
		assert.ErrorIs(t, err, domain.ErrTenantIntegrity)
	})

	t.Run("child row under own parent", func(t *testing.T) {
		mine := seed(t, db, orgA)
		out := &model.AgentOutput{AnalysisID: mine.ID, AgentID: "market", Stage: model.StageAnalysis, Status: model.OutputSucceeded, Content: "ok"}
		require.NoError(t, db.WithContext(ctxA).Create(out).Error)

		var outputs []model.AgentOutput
		require.NoError(t, db.WithContext(rowpolicy.WithTenant(context.Background(), orgB.ID)).Find(&outputs).Error)
		assert.Empty(t, outputs)
	})
}

func TestPluginSystemScope(t *testing.T) {
	db := testutil.NewDB(t)
	orgA := testutil.NewOrganization(t, db, "A", model.PlanFree)
	testutil.NewUser(t, db, orgA, "owner@a.test", model.RoleOwner)
	seed(t, db, orgA)

	ctx := rowpolicy.WithSystemScope(context.Background())

	var users []model.User
	require.NoError(t, db.WithContext(ctx).Where("email = ?", "owner@a.test").Find(&users).Error)
	assert.Len(t, users, 1)

	var analyses []model.Analysis
	err := db.WithContext(ctx).Find(&analyses).Error
	assert.ErrorIs(t, err, rowpolicy.ErrNoTenant, "system scope only covers users")

	err = db.WithContext(ctx).Model(&model.User{}).Where("email = ?", "owner@a.test").Update("name", "x").Error
	assert.ErrorIs(t, err, rowpolicy.ErrNoTenant, "system scope is read only")
}
