package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dangerclosesec/strategist/internal/domain"
	"github.com/dangerclosesec/strategist/internal/entitlement"
	"github.com/dangerclosesec/strategist/internal/mocks"
	"github.com/dangerclosesec/strategist/internal/model"
	"github.com/dangerclosesec/strategist/internal/orchestrator"
	"github.com/dangerclosesec/strategist/internal/service"
	"github.com/dangerclosesec/strategist/internal/tenant"
	"github.com/dangerclosesec/strategist/internal/testutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type analysisFixture struct {
	*env
	enqueuer *mocks.MockEnqueuer
	svc      *service.AnalysisService
}

func newAnalysisFixture(t *testing.T) *analysisFixture {
	t.Helper()
	return analysisFixtureOn(t, newEnv(t))
}

func analysisFixtureOn(t *testing.T, e *env) *analysisFixture {
	t.Helper()
	enqueuer := mocks.NewMockEnqueuer(gomock.NewController(t))
	return &analysisFixture{
		env:      e,
		enqueuer: enqueuer,
		svc:      service.NewAnalysisService(e.store, newCatalog(t), enqueuer, nil, nil),
	}
}

func (f *analysisFixture) tenantFor(t *testing.T, plan model.Plan, role model.Role) tenant.Context {
	t.Helper()
	org := testutil.NewOrganization(t, f.db, "Org "+uuid.NewString()[:8], plan)
	user := testutil.NewUser(t, f.db, org, uuid.NewString()+"@example.com", role)
	return principal(org, user)
}

func (f *analysisFixture) used(t *testing.T, tc tenant.Context) int {
	t.Helper()
	sess, err := f.store.Acquire(tc)
	require.NoError(t, err)
	defer sess.Release()

	n, err := sess.Usage(context.Background(), entitlement.Period(time.Now()))
	require.NoError(t, err)
	return n
}

func (f *analysisFixture) consume(t *testing.T, tc tenant.Context, n int) {
	t.Helper()
	sess, err := f.store.Acquire(tc)
	require.NoError(t, err)
	defer sess.Release()

	for i := 0; i < n; i++ {
		require.NoError(t, sess.ConsumeQuota(context.Background(), uuid.New(), entitlement.Period(time.Now()), entitlement.Unlimited))
	}
}

func submitInput(agents ...string) service.SubmitAnalysisInput {
	return service.SubmitAnalysisInput{
		Problem:        "should we open a second store?",
		BusinessType:   "coffee shop",
		SelectedAgents: agents,
	}
}

func TestSubmit(t *testing.T) {
	f := newAnalysisFixture(t)
	tc := f.tenantFor(t, model.PlanPro, model.RoleMember)

	var job orchestrator.Job
	f.enqueuer.EXPECT().Enqueue(gomock.Any()).DoAndReturn(func(j orchestrator.Job) error {
		job = j
		return nil
	})

	a, err := f.svc.Submit(context.Background(), tc, submitInput("market", "finance", "market", model.ConsolidatorAgentID))
	require.NoError(t, err)

	assert.Equal(t, model.AnalysisPending, a.Status)
	assert.Equal(t, tc.OrgID, a.OrgID)
	assert.Equal(t, tc.UserID, a.CreatedByID)
	assert.Equal(t, model.DepthStandard, a.Depth)
	assert.Equal(t, model.AgentSet{"market", "finance", model.ConsolidatorAgentID}, a.SelectedAgents)

	assert.Equal(t, a.ID, job.AnalysisID)
	assert.Equal(t, tc, job.Tenant)
	assert.Equal(t, 1, f.used(t, tc))

	got, err := f.svc.Get(context.Background(), tc, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.SelectedAgents, got.SelectedAgents)
}

func TestSubmitRejectsBadInput(t *testing.T) {
	f := newAnalysisFixture(t)
	tc := f.tenantFor(t, model.PlanPro, model.RoleMember)
	f.enqueuer.EXPECT().Enqueue(gomock.Any()).Times(0)

	tests := []struct {
		name  string
		input service.SubmitAnalysisInput
		want  error
	}{
		{"missing problem", service.SubmitAnalysisInput{SelectedAgents: []string{"market"}}, domain.ErrInvalidInput},
		{"no agents", submitInput(), domain.ErrInvalidInput},
		{"only consolidator", submitInput(model.ConsolidatorAgentID), domain.ErrInvalidInput},
		{"bad depth", service.SubmitAnalysisInput{Problem: "p", Depth: "forever", SelectedAgents: []string{"market"}}, domain.ErrInvalidInput},
		{"unknown agent", submitInput("market", "astrology"), domain.ErrUnknownAgent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Submit(context.Background(), tc, tt.input)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Equal(t, 0, f.used(t, tc))
}

func TestSubmitAgentLimit(t *testing.T) {
	f := newAnalysisFixture(t)
	tc := f.tenantFor(t, model.PlanFree, model.RoleOwner)
	f.enqueuer.EXPECT().Enqueue(gomock.Any()).Times(0)

	_, err := f.svc.Submit(context.Background(), tc, submitInput("market", "finance", "legal"))
	require.ErrorIs(t, err, domain.ErrAgentLimitExceeded)

	var denial *domain.EntitlementError
	require.True(t, errors.As(err, &denial))
	assert.Equal(t, 2, denial.Limit)
	assert.Equal(t, 3, denial.Used)
	assert.Contains(t, denial.Guidance, "pro")
	assert.Equal(t, 0, f.used(t, tc), "denied submissions consume nothing")
}

func TestSubmitQuota(t *testing.T) {
	f := newAnalysisFixture(t)
	tc := f.tenantFor(t, model.PlanFree, model.RoleOwner)
	f.consume(t, tc, 9)

	f.enqueuer.EXPECT().Enqueue(gomock.Any()).Return(nil).Times(1)

	_, err := f.svc.Submit(context.Background(), tc, submitInput("market"))
	require.NoError(t, err)

	_, err = f.svc.Submit(context.Background(), tc, submitInput("market"))
	assert.ErrorIs(t, err, domain.ErrQuotaExceeded)
	assert.Equal(t, 10, f.used(t, tc))
}

func TestSubmitQuotaRace(t *testing.T) {
	f := analysisFixtureOn(t, envFor(testutil.NewConcurrentDB(t)))
	tc := f.tenantFor(t, model.PlanFree, model.RoleOwner)
	f.consume(t, tc, 8)

	f.enqueuer.EXPECT().Enqueue(gomock.Any()).Return(nil).Times(2)

	const callers = 6
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		start    = make(chan struct{})
		accepted int
		denied   int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.svc.Submit(context.Background(), tc, submitInput("market"))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				accepted++
			case errors.Is(err, domain.ErrQuotaExceeded):
				denied++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 2, accepted)
	assert.Equal(t, callers-2, denied)
	assert.Equal(t, 10, f.used(t, tc))
}

func TestSubmitUnlimitedPlan(t *testing.T) {
	f := newAnalysisFixture(t)
	tc := f.tenantFor(t, model.PlanPro, model.RoleOwner)
	f.consume(t, tc, 50)

	f.enqueuer.EXPECT().Enqueue(gomock.Any()).Return(nil)

	_, err := f.svc.Submit(context.Background(), tc, submitInput("market", "finance", "legal", "people"))
	require.NoError(t, err)
	assert.Equal(t, 51, f.used(t, tc))
}

func TestSubmitQueueFullKeepsAnalysisPending(t *testing.T) {
	f := newAnalysisFixture(t)
	tc := f.tenantFor(t, model.PlanPro, model.RoleOwner)
	f.enqueuer.EXPECT().Enqueue(gomock.Any()).Return(orchestrator.ErrQueueFull)

	a, err := f.svc.Submit(context.Background(), tc, submitInput("market"))
	require.NoError(t, err)

	got, err := f.svc.Get(context.Background(), tc, a.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AnalysisPending, got.Status)
}

func TestGetIsTenantScoped(t *testing.T) {
	f := newAnalysisFixture(t)
	owner := f.tenantFor(t, model.PlanPro, model.RoleOwner)
	other := f.tenantFor(t, model.PlanPro, model.RoleOwner)
	a := f.seedAnalysis(t, owner, model.AnalysisCompleted, 0)

	_, err := f.svc.Get(context.Background(), other, a.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.svc.ListOutputs(context.Background(), other, a.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestListHonoursHistoryWindow(t *testing.T) {
	f := newAnalysisFixture(t)
	tc := f.tenantFor(t, model.PlanFree, model.RoleOwner)
	recent := f.seedAnalysis(t, tc, model.AnalysisCompleted, time.Hour)
	f.seedAnalysis(t, tc, model.AnalysisCompleted, 30*24*time.Hour)
	running := f.seedAnalysis(t, tc, model.AnalysisRunning, time.Minute)

	page, err := f.svc.List(context.Background(), tc, service.ListAnalysesInput{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), page.Total)
	require.Len(t, page.Analyses, 2)
	assert.Equal(t, running.ID, page.Analyses[0].ID, "newest first")
	assert.Equal(t, recent.ID, page.Analyses[1].ID)

	page, err = f.svc.List(context.Background(), tc, service.ListAnalysesInput{Status: model.AnalysisRunning})
	require.NoError(t, err)
	require.Len(t, page.Analyses, 1)
	assert.Equal(t, running.ID, page.Analyses[0].ID)
}

func TestCancel(t *testing.T) {
	f := newAnalysisFixture(t)
	org := testutil.NewOrganization(t, f.db, "Acme", model.PlanPro)
	submitter := principal(org, testutil.NewUser(t, f.db, org, "sub@example.com", model.RoleMember))
	colleague := principal(org, testutil.NewUser(t, f.db, org, "col@example.com", model.RoleMember))
	admin := principal(org, testutil.NewUser(t, f.db, org, "admin@example.com", model.RoleAdmin))

	t.Run("submitter cancels running analysis", func(t *testing.T) {
		a := f.seedAnalysis(t, submitter, model.AnalysisRunning, 0)
		f.enqueuer.EXPECT().Abort(a.ID).Return(true)

		got, err := f.svc.Cancel(context.Background(), submitter, a.ID)
		require.NoError(t, err)
		assert.Equal(t, model.AnalysisCancelled, got.Status)
		assert.NotNil(t, got.FinishedAt)
	})

	t.Run("other member is forbidden", func(t *testing.T) {
		a := f.seedAnalysis(t, submitter, model.AnalysisPending, 0)

		_, err := f.svc.Cancel(context.Background(), colleague, a.ID)
		assert.ErrorIs(t, err, domain.ErrForbidden)
	})

	t.Run("admin cancels pending analysis", func(t *testing.T) {
		a := f.seedAnalysis(t, submitter, model.AnalysisPending, 0)
		f.enqueuer.EXPECT().Abort(a.ID).Return(false)

		got, err := f.svc.Cancel(context.Background(), admin, a.ID)
		require.NoError(t, err)
		assert.Equal(t, model.AnalysisCancelled, got.Status)
	})

	for _, status := range []model.AnalysisStatus{model.AnalysisConsolidating, model.AnalysisCompleted, model.AnalysisFailed, model.AnalysisCancelled} {
		t.Run("not cancellable when "+string(status), func(t *testing.T) {
			a := f.seedAnalysis(t, submitter, status, 0)

			_, err := f.svc.Cancel(context.Background(), submitter, a.ID)
			assert.ErrorIs(t, err, domain.ErrNotCancellable)
		})
	}
}

func TestDelete(t *testing.T) {
	f := newAnalysisFixture(t)
	org := testutil.NewOrganization(t, f.db, "Acme", model.PlanPro)
	owner := principal(org, testutil.NewUser(t, f.db, org, "owner@example.com", model.RoleOwner))
	member := principal(org, testutil.NewUser(t, f.db, org, "member@example.com", model.RoleMember))

	done := f.seedAnalysis(t, member, model.AnalysisCompleted, 0)
	f.seedOutput(t, owner, done.ID, "market")
	running := f.seedAnalysis(t, member, model.AnalysisRunning, 0)

	assert.ErrorIs(t, f.svc.Delete(context.Background(), member, done.ID), domain.ErrForbidden)
	assert.ErrorIs(t, f.svc.Delete(context.Background(), owner, running.ID), domain.ErrConflict)

	require.NoError(t, f.svc.Delete(context.Background(), owner, done.ID))
	_, err := f.svc.Get(context.Background(), owner, done.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestExport(t *testing.T) {
	f := newAnalysisFixture(t)
	free := f.tenantFor(t, model.PlanFree, model.RoleOwner)
	pro := f.tenantFor(t, model.PlanPro, model.RoleOwner)
	enterprise := f.tenantFor(t, model.PlanEnterprise, model.RoleOwner)

	t.Run("free plan has no export", func(t *testing.T) {
		a := f.seedAnalysis(t, free, model.AnalysisCompleted, 0)
		err := f.svc.AuthorizeExport(context.Background(), free, a.ID, entitlement.FormatPDF)
		assert.ErrorIs(t, err, domain.ErrFeatureNotEntitled)
	})

	t.Run("pro plan exports pdf but not xlsx", func(t *testing.T) {
		a := f.seedAnalysis(t, pro, model.AnalysisCompleted, 0)
		assert.NoError(t, f.svc.AuthorizeExport(context.Background(), pro, a.ID, entitlement.FormatPDF))
		assert.ErrorIs(t, f.svc.AuthorizeExport(context.Background(), pro, a.ID, entitlement.FormatXLSX), domain.ErrFeatureNotEntitled)
	})

	t.Run("unfinished analysis cannot be exported", func(t *testing.T) {
		a := f.seedAnalysis(t, enterprise, model.AnalysisRunning, 0)
		err := f.svc.AuthorizeExport(context.Background(), enterprise, a.ID, entitlement.FormatAPI)
		assert.ErrorIs(t, err, domain.ErrConflict)
	})

	t.Run("enterprise exports the document", func(t *testing.T) {
		a := f.seedAnalysis(t, enterprise, model.AnalysisCompleted, 0)
		f.seedOutput(t, enterprise, a.ID, "market")

		doc, err := f.svc.Export(context.Background(), enterprise, a.ID, entitlement.FormatAPI)
		require.NoError(t, err)
		assert.Equal(t, a.ID, doc.Analysis.ID)
		require.Len(t, doc.Outputs, 1)
		assert.Equal(t, "market", doc.Outputs[0].AgentID)
		assert.False(t, doc.ExportedAt.IsZero())
	})

	t.Run("other tenant gets not found", func(t *testing.T) {
		a := f.seedAnalysis(t, enterprise, model.AnalysisCompleted, 0)
		_, err := f.svc.Export(context.Background(), pro, a.ID, entitlement.FormatPDF)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestUsage(t *testing.T) {
	f := newAnalysisFixture(t)
	free := f.tenantFor(t, model.PlanFree, model.RoleMember)
	f.consume(t, free, 3)

	report, err := f.svc.Usage(context.Background(), free)
	require.NoError(t, err)
	assert.Equal(t, model.PlanFree, report.Plan)
	assert.Equal(t, entitlement.Period(time.Now()), report.Period)
	assert.Equal(t, 3, report.Used)
	assert.Equal(t, 10, report.Limit)
	assert.Equal(t, 2, report.MaxAgents)
	assert.Empty(t, report.ExportFormats)
	assert.NotNil(t, report.ExportFormats)
	assert.Equal(t, 7, report.HistoryWindowDays)

	pro := f.tenantFor(t, model.PlanPro, model.RoleMember)
	report, err = f.svc.Usage(context.Background(), pro)
	require.NoError(t, err)
	assert.Equal(t, entitlement.Unlimited, report.Limit)
	assert.Equal(t, 0, report.Used)
}

func TestAgentsExcludesConsolidator(t *testing.T) {
	f := newAnalysisFixture(t)
	for _, def := range f.svc.Agents() {
		assert.NotEqual(t, model.ConsolidatorAgentID, def.ID)
	}
	assert.Len(t, f.svc.Agents(), 5)
}
