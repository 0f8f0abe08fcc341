// Package entitlement decides what a subscription plan permits. Every decision
// is a pure function of the plan, the current usage and the request.
package entitlement

import (
	"fmt"
	"time"

	"github.com/dangerclosesec/strategist/internal/domain"
	"github.com/dangerclosesec/strategist/internal/model"
)

// Unlimited marks a ceiling that is never reached.
const Unlimited = -1

const day = 24 * time.Hour

// Export formats
const (
	FormatPDF  = "pdf"
	FormatDOCX = "docx"
	FormatXLSX = "xlsx"
	FormatAPI  = "api"
)

type Policy struct {
	Plan                 model.Plan
	MaxAnalysesPerPeriod int
	MaxAgents            int
	ExportFormats        []string
	HistoryWindow        time.Duration
	Upgrade              model.Plan
}

var policies = map[model.Plan]Policy{
	model.PlanFree: {
		Plan:                 model.PlanFree,
		MaxAnalysesPerPeriod: 10,
		MaxAgents:            2,
		HistoryWindow:        7 * day,
		Upgrade:              model.PlanPro,
	},
	model.PlanPro: {
		Plan:                 model.PlanPro,
		MaxAnalysesPerPeriod: Unlimited,
		MaxAgents:            4,
		ExportFormats:        []string{FormatPDF, FormatDOCX},
		HistoryWindow:        90 * day,
		Upgrade:              model.PlanEnterprise,
	},
	model.PlanEnterprise: {
		Plan:                 model.PlanEnterprise,
		MaxAnalysesPerPeriod: Unlimited,
		MaxAgents:            4,
		ExportFormats:        []string{FormatPDF, FormatDOCX, FormatXLSX, FormatAPI},
		HistoryWindow:        365 * day,
	},
}

// PolicyFor returns the policy row for plan.
func PolicyFor(plan model.Plan) (Policy, error) {
	p, ok := policies[plan]
	if !ok {
		return Policy{}, fmt.Errorf("%w: %q", domain.ErrUnknownPlan, plan)
	}
	return p, nil
}

func (p Policy) Unlimited() bool {
	return p.MaxAnalysesPerPeriod == Unlimited
}

// Ceiling is the bound passed to the atomic usage increment.
func (p Policy) Ceiling() int {
	return p.MaxAnalysesPerPeriod
}

func (p Policy) AllowsFormat(format string) bool {
	for _, f := range p.ExportFormats {
		if f == format {
			return true
		}
	}
	return false
}

// HistoryCutoff is the oldest creation time still visible under the plan.
func (p Policy) HistoryCutoff(now time.Time) time.Time {
	return now.Add(-p.HistoryWindow)
}

func (p Policy) guidance() string {
	if p.Upgrade == "" {
		return "contact support to raise this limit"
	}
	return fmt.Sprintf("upgrade to the %s plan to raise this limit", p.Upgrade)
}

// Period returns the billing period containing t: the UTC calendar month.
func Period(t time.Time) string {
	return t.UTC().Format("2006-01")
}
