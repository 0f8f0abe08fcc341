package entitlement_test

import (
	"errors"
	"testing"
	"time"

	"github.com/dangerclosesec/strategist/internal/domain"
	"github.com/dangerclosesec/strategist/internal/entitlement"
	"github.com/dangerclosesec/strategist/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluateCreateAnalysis(t *testing.T) {
	tests := []struct {
		name    string
		plan    model.Plan
		used    int
		agents  []string
		allowed bool
		denial  error
	}{
		{"free within limits", model.PlanFree, 3, []string{"market", "finance"}, true, nil},
		{"free over agent limit", model.PlanFree, 0, []string{"market", "finance", "competition"}, false, domain.ErrAgentLimitExceeded},
		{"free quota exhausted", model.PlanFree, 10, []string{"market"}, false, domain.ErrQuotaExceeded},
		{"free one below quota", model.PlanFree, 9, []string{"market"}, true, nil},
		{"pro unlimited quota", model.PlanPro, 10000, []string{"market", "finance", "competition", "operations"}, true, nil},
		{"duplicates do not count twice", model.PlanFree, 0, []string{"market", "market", "finance"}, true, nil},
		{"consolidator is not counted", model.PlanFree, 0, []string{"market", "finance", "consolidator"}, true, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := entitlement.Evaluate(tt.plan, entitlement.Usage{Period: "2026-10", Used: tt.used}, entitlement.Request{
				Operation: entitlement.OpCreateAnalysis,
				Agents:    tt.agents,
			})
			require.NoError(t, err)
			assert.Equal(t, tt.allowed, d.Allowed)

			if tt.allowed {
				assert.NoError(t, d.Err())
				assert.Equal(t, model.ConsolidatorAgentID, d.Agents[len(d.Agents)-1])
				return
			}

			require.NotNil(t, d.Denial)
			assert.ErrorIs(t, d.Err(), tt.denial)
			assert.NotEmpty(t, d.Denial.Guidance)

			var ee *domain.EntitlementError
			assert.True(t, errors.As(d.Err(), &ee))
		})
	}
}

func TestEvaluateRejectsEmptySelection(t *testing.T) {
	_, err := entitlement.Evaluate(model.PlanPro, entitlement.Usage{}, entitlement.Request{
		Operation: entitlement.OpCreateAnalysis,
		Agents:    []string{"consolidator", ""},
	})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestEvaluateExport(t *testing.T) {
	tests := []struct {
		plan    model.Plan
		format  string
		allowed bool
	}{
		{model.PlanFree, entitlement.FormatPDF, false},
		{model.PlanPro, entitlement.FormatPDF, true},
		{model.PlanPro, entitlement.FormatDOCX, true},
		{model.PlanPro, entitlement.FormatXLSX, false},
		{model.PlanEnterprise, entitlement.FormatXLSX, true},
		{model.PlanEnterprise, entitlement.FormatAPI, true},
		{model.PlanEnterprise, "pptx", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.plan)+"/"+tt.format, func(t *testing.T) {
			d, err := entitlement.Evaluate(tt.plan, entitlement.Usage{}, entitlement.Request{
				Operation: entitlement.OpExport,
				Feature:   tt.format,
			})
			require.NoError(t, err)
			assert.Equal(t, tt.allowed, d.Allowed)
			if !tt.allowed {
				assert.ErrorIs(t, d.Err(), domain.ErrFeatureNotEntitled)
			}
		})
	}
}

func TestEvaluateUnknownPlanAndOperation(t *testing.T) {
	_, err := entitlement.Evaluate("platinum", entitlement.Usage{}, entitlement.Request{Operation: entitlement.OpExport})
	assert.ErrorIs(t, err, domain.ErrUnknownPlan)

	_, err = entitlement.Evaluate(model.PlanFree, entitlement.Usage{}, entitlement.Request{Operation: "share"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestNormalizeAgents(t *testing.T) {
	got := entitlement.NormalizeAgents([]string{"finance", "consolidator", "market", "finance", ""})
	assert.Equal(t, model.AgentSet{"finance", "market", "consolidator"}, got)

	assert.Equal(t, model.AgentSet{"consolidator"}, entitlement.NormalizeAgents(nil))
}

func TestQuotaDenied(t *testing.T) {
	err := entitlement.QuotaDenied(model.PlanFree)
	assert.ErrorIs(t, err, domain.ErrQuotaExceeded)

	var ee *domain.EntitlementError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, 10, ee.Limit)
	assert.Contains(t, ee.Guidance, "pro")
}

func TestPolicy(t *testing.T) {
	free, err := entitlement.PolicyFor(model.PlanFree)
	require.NoError(t, err)
	assert.False(t, free.Unlimited())
	assert.Equal(t, 10, free.Ceiling())

	pro, err := entitlement.PolicyFor(model.PlanPro)
	require.NoError(t, err)
	assert.True(t, pro.Unlimited())
	assert.Equal(t, entitlement.Unlimited, pro.Ceiling())

	now := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, now.Add(-7*24*time.Hour), free.HistoryCutoff(now))
}

func TestPeriod(t *testing.T) {
	est := time.FixedZone("EST", -5*60*60)
	// 2026-01-31 22:00 EST is already February in UTC.
	assert.Equal(t, "2026-02", entitlement.Period(time.Date(2026, 1, 31, 22, 0, 0, 0, est)))
	assert.Equal(t, "2026-01", entitlement.Period(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)))
}
