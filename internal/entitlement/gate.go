package entitlement

import (
	"fmt"

	"github.com/dangerclosesec/strategist/internal/domain"
	"github.com/dangerclosesec/strategist/internal/model"
)

type Operation string

const (
	OpCreateAnalysis Operation = "create_analysis"
	OpExport         Operation = "export"
)

// Usage is the tenant's consumption in the current period.
type Usage struct {
	Period string
	Used   int
}

type Request struct {
	Operation Operation
	Agents    []string
	Feature   string
}

// Decision is Allow or Deny(reason). Agents holds the normalized agent
// selection when a create request is allowed.
type Decision struct {
	Allowed bool
	Denial  *domain.EntitlementError
	Agents  model.AgentSet
}

// Err returns nil for Allow and the denial otherwise.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return d.Denial
}

func allow(agents model.AgentSet) Decision {
	return Decision{Allowed: true, Agents: agents}
}

func deny(p Policy, kind error, limit, used int) Decision {
	return Decision{Denial: &domain.EntitlementError{
		Kind:     kind,
		Plan:     string(p.Plan),
		Limit:    limit,
		Used:     used,
		Guidance: p.guidance(),
	}}
}

// Evaluate decides whether plan permits req given usage. The quota check here
// is advisory; the authoritative check is the bounded increment performed at
// acceptance.
func Evaluate(plan model.Plan, usage Usage, req Request) (Decision, error) {
	p, err := PolicyFor(plan)
	if err != nil {
		return Decision{}, err
	}

	switch req.Operation {
	case OpCreateAnalysis:
		selected := NormalizeAgents(req.Agents)
		chosen := len(selected) - 1
		if chosen == 0 {
			return Decision{}, fmt.Errorf("%w: at least one agent must be selected", domain.ErrInvalidInput)
		}
		if chosen > p.MaxAgents {
			return deny(p, domain.ErrAgentLimitExceeded, p.MaxAgents, chosen), nil
		}
		if !p.Unlimited() && usage.Used >= p.MaxAnalysesPerPeriod {
			return deny(p, domain.ErrQuotaExceeded, p.MaxAnalysesPerPeriod, usage.Used), nil
		}
		return allow(selected), nil

	case OpExport:
		if !p.AllowsFormat(req.Feature) {
			return deny(p, domain.ErrFeatureNotEntitled, 0, 0), nil
		}
		return allow(nil), nil
	}

	return Decision{}, fmt.Errorf("%w: unknown operation %q", domain.ErrInvalidInput, req.Operation)
}

// QuotaDenied builds the denial returned when the atomic increment hits the
// ceiling.
func QuotaDenied(plan model.Plan) error {
	p, err := PolicyFor(plan)
	if err != nil {
		return err
	}
	return deny(p, domain.ErrQuotaExceeded, p.MaxAnalysesPerPeriod, p.MaxAnalysesPerPeriod).Denial
}

// NormalizeAgents removes duplicates and any caller-supplied consolidator,
// then appends the consolidator as the final stage.
func NormalizeAgents(selected []string) model.AgentSet {
	seen := make(map[string]bool, len(selected))
	out := make(model.AgentSet, 0, len(selected)+1)
	for _, id := range selected {
		if id == "" || id == model.ConsolidatorAgentID || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return append(out, model.ConsolidatorAgentID)
}
