// Package rowpolicy is the database-side tenant backstop. Every tenant-bearing
// table has one declarative rule: visible rows are rows whose tenant column
// matches the tenant marker of the active connection. The rule is enforced
// either natively (PostgreSQL row level security) or by a gorm filter plugin
// for engines without row policies.
package rowpolicy

import (
	"context"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"gorm.io/gorm"
)

// Mode selects how the rules are enforced.
type Mode string

const (
	ModeNative Mode = "native"
	ModeFilter Mode = "filter"
	ModeOff    Mode = "off"
)

func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(s)); m {
	case ModeNative, ModeFilter, ModeOff:
		return m, nil
	}
	return "", fmt.Errorf("unknown row policy mode %q", s)
}

const (
	// MarkerSetting holds the tenant id for the current transaction.
	MarkerSetting = "app.current_org_id"
	// SystemSetting, when "on", permits system reads on rules with SystemRead.
	SystemSetting = "app.system_scope"

	PolicyName       = "tenant_isolation"
	SystemPolicyName = "system_lookup"
)

// Parent describes a table whose tenant is inherited through a foreign key.
type Parent struct {
	Table      string
	ForeignKey string
}

// Rule is the row-visibility rule for one table. Exactly one of Column and
// Parent is set.
type Rule struct {
	Table      string
	Column     string
	Parent     *Parent
	SystemRead bool
}

// Rules covers every tenant-bearing table.
var Rules = []Rule{
	{Table: "users", Column: "org_id", SystemRead: true},
	{Table: "analyses", Column: "org_id"},
	{Table: "agent_outputs", Parent: &Parent{Table: "analyses", ForeignKey: "analysis_id"}},
	{Table: "usage_counters", Column: "org_id"},
	{Table: "usage_ledger", Column: "org_id"},
}

func lookup(rules []Rule) map[string]Rule {
	m := make(map[string]Rule, len(rules))
	for _, r := range rules {
		m[r.Table] = r
	}
	return m
}

func markerExpr() string {
	return fmt.Sprintf("NULLIF(current_setting(%s, true), '')::uuid", pq.QuoteLiteral(MarkerSetting))
}

// Predicate renders the rule as a SQL boolean expression over the marker.
func (r Rule) Predicate() string {
	if r.Parent != nil {
		return fmt.Sprintf("%s IN (SELECT id FROM %s WHERE org_id = %s)",
			pq.QuoteIdentifier(r.Parent.ForeignKey),
			pq.QuoteIdentifier(r.Parent.Table),
			markerExpr())
	}
	return fmt.Sprintf("%s = %s", pq.QuoteIdentifier(r.Column), markerExpr())
}

// Statements returns the DDL installing the native policy for each rule.
// Statements are idempotent.
func Statements(rules []Rule) []string {
	var stmts []string
	for _, r := range rules {
		table := pq.QuoteIdentifier(r.Table)
		pred := r.Predicate()
		stmts = append(stmts,
			fmt.Sprintf("ALTER TABLE %s ENABLE ROW LEVEL SECURITY", table),
			fmt.Sprintf("ALTER TABLE %s FORCE ROW LEVEL SECURITY", table),
			fmt.Sprintf("DROP POLICY IF EXISTS %s ON %s", PolicyName, table),
			fmt.Sprintf("CREATE POLICY %s ON %s FOR ALL USING (%s) WITH CHECK (%s)", PolicyName, table, pred, pred),
			fmt.Sprintf("DROP POLICY IF EXISTS %s ON %s", SystemPolicyName, table),
		)
		if r.SystemRead {
			stmts = append(stmts, fmt.Sprintf(
				"CREATE POLICY %s ON %s FOR SELECT USING (current_setting(%s, true) = 'on')",
				SystemPolicyName, table, pq.QuoteLiteral(SystemSetting)))
		}
	}
	return stmts
}

// Install applies the native policies. It requires PostgreSQL.
func Install(ctx context.Context, db *gorm.DB, rules []Rule) error {
	if name := db.Dialector.Name(); name != "postgres" {
		return fmt.Errorf("native row policies are not supported by %s", name)
	}
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, stmt := range Statements(rules) {
			if err := tx.Exec(stmt).Error; err != nil {
				return fmt.Errorf("installing row policy: %w", err)
			}
		}
		return nil
	})
}
