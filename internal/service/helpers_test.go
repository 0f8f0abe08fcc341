package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dangerclosesec/strategist/internal/agent"
	"github.com/dangerclosesec/strategist/internal/email"
	"github.com/dangerclosesec/strategist/internal/model"
	"github.com/dangerclosesec/strategist/internal/repository"
	"github.com/dangerclosesec/strategist/internal/rowpolicy"
	"github.com/dangerclosesec/strategist/internal/tenant"
	"github.com/dangerclosesec/strategist/internal/testutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const testCatalog = `
agents:
  - id: market
  - id: finance
  - id: legal
  - id: operations
  - id: people
  - id: consolidator
`

type env struct {
	db    *gorm.DB
	store *repository.Store
	dir   *repository.Directory
}

func newEnv(t *testing.T) *env {
	t.Helper()
	return envFor(testutil.NewDB(t))
}

func envFor(db *gorm.DB) *env {
	return &env{
		db:    db,
		store: repository.NewStore(db, rowpolicy.ModeFilter),
		dir:   repository.NewDirectory(db, rowpolicy.ModeFilter),
	}
}

func newCatalog(t *testing.T) *agent.Catalog {
	t.Helper()
	c, err := agent.ParseCatalog([]byte(testCatalog))
	require.NoError(t, err)
	return c
}

// principal builds the tenant context an authenticated request by user carries.
func principal(org *model.Organization, user *model.User) tenant.Context {
	return tenant.Context{UserID: user.ID, OrgID: org.ID, Role: user.Role, Plan: org.Plan}
}

// seedAnalysis inserts an analysis directly in the given status.
func (e *env) seedAnalysis(t *testing.T, tc tenant.Context, status model.AnalysisStatus, age time.Duration) *model.Analysis {
	t.Helper()
	sess, err := e.store.Acquire(tc)
	require.NoError(t, err)
	defer sess.Release()

	a := &model.Analysis{
		CreatedByID:    tc.UserID,
		Problem:        "should we raise prices?",
		Depth:          model.DepthStandard,
		SelectedAgents: model.AgentSet{"market", model.ConsolidatorAgentID},
		Status:         status,
		CreatedAt:      time.Now().UTC().Add(-age),
	}
	if status == model.AnalysisCompleted {
		a.Summary = "raise them by 5%"
	}
	require.NoError(t, sess.CreateAnalysis(context.Background(), a))
	return a
}

func (e *env) seedOutput(t *testing.T, tc tenant.Context, analysisID uuid.UUID, agentID string) {
	t.Helper()
	sess, err := e.store.Acquire(tc)
	require.NoError(t, err)
	defer sess.Release()

	require.NoError(t, sess.CreateAgentOutput(context.Background(), &model.AgentOutput{
		AnalysisID: analysisID,
		AgentID:    agentID,
		Stage:      model.StageAnalysis,
		Status:     model.OutputSucceeded,
		Content:    agentID + " says yes",
	}))
}

// recordingSender captures outgoing email instead of delivering it.
type recordingSender struct {
	mu   sync.Mutex
	sent []email.EmailData
	err  error
}

func (s *recordingSender) SendEmail(data email.EmailData) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, data)
	return s.err
}

func (s *recordingSender) messages() []email.EmailData {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]email.EmailData(nil), s.sent...)
}
