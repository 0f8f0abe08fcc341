package rowpolicy

import (
	"fmt"
	"reflect"

	"github.com/dangerclosesec/strategist/internal/domain"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNoTenant is returned when a statement touches a tenant-bearing table
// without a tenant marker.
var ErrNoTenant = fmt.Errorf("%w: no tenant marker", domain.ErrTenantIntegrity)

// Plugin enforces the rules as an explicit filter layer. Every query, update
// and delete on a covered table gets the rule's predicate appended, and every
// insert is checked against the marker. Raw SQL is not rewritten.
type Plugin struct {
	rules map[string]Rule
}

var _ gorm.Plugin = (*Plugin)(nil)

func NewPlugin(rules []Rule) *Plugin {
	return &Plugin{rules: lookup(rules)}
}

func (p *Plugin) Name() string {
	return "rowpolicy"
}

func (p *Plugin) Initialize(db *gorm.DB) error {
	cb := db.Callback()
	if err := cb.Query().Before("gorm:query").Register("rowpolicy:query", p.filter(false)); err != nil {
		return err
	}
	if err := cb.Row().Before("gorm:row").Register("rowpolicy:row", p.filter(false)); err != nil {
		return err
	}
	if err := cb.Update().Before("gorm:update").Register("rowpolicy:update", p.filter(true)); err != nil {
		return err
	}
	if err := cb.Delete().Before("gorm:delete").Register("rowpolicy:delete", p.filter(true)); err != nil {
		return err
	}
	return cb.Create().Before("gorm:create").Register("rowpolicy:create", p.checkCreate)
}

func (p *Plugin) filter(write bool) func(*gorm.DB) {
	return func(db *gorm.DB) {
		if db.Error != nil || db.Statement.SQL.Len() > 0 {
			return
		}
		rule, ok := p.rules[db.Statement.Table]
		if !ok {
			return
		}

		ctx := db.Statement.Context
		org, ok := TenantFrom(ctx)
		if !ok {
			if !write && rule.SystemRead && systemScoped(ctx) {
				return
			}
			db.AddError(fmt.Errorf("%w on %s", ErrNoTenant, rule.Table))
			return
		}

		db.Statement.AddClause(clause.Where{Exprs: []clause.Expression{condition(rule, org)}})
	}
}

func condition(rule Rule, org uuid.UUID) clause.Expression {
	if rule.Parent != nil {
		return clause.Expr{
			SQL: "? IN (SELECT id FROM ? WHERE ? = ?)",
			Vars: []interface{}{
				clause.Column{Table: clause.CurrentTable, Name: rule.Parent.ForeignKey},
				clause.Table{Name: rule.Parent.Table},
				clause.Column{Name: "org_id"},
				org,
			},
		}
	}
	return clause.Eq{
		Column: clause.Column{Table: clause.CurrentTable, Name: rule.Column},
		Value:  org,
	}
}

func (p *Plugin) checkCreate(db *gorm.DB) {
	if db.Error != nil || db.Statement.Schema == nil {
		return
	}
	rule, ok := p.rules[db.Statement.Table]
	if !ok {
		return
	}

	ctx := db.Statement.Context
	org, ok := TenantFrom(ctx)
	if !ok {
		db.AddError(fmt.Errorf("%w on %s", ErrNoTenant, rule.Table))
		return
	}

	column := rule.Column
	if rule.Parent != nil {
		column = rule.Parent.ForeignKey
	}
	field := db.Statement.Schema.LookUpField(column)
	if field == nil {
		db.AddError(fmt.Errorf("row policy: %s has no column %s", rule.Table, column))
		return
	}

	for _, row := range rows(db.Statement.ReflectValue) {
		v, _ := field.ValueOf(ctx, row)
		id, ok := v.(uuid.UUID)
		if !ok {
			db.AddError(fmt.Errorf("%w: %s.%s is not a tenant id", domain.ErrTenantIntegrity, rule.Table, column))
			return
		}

		if rule.Parent == nil {
			if id != org {
				db.AddError(fmt.Errorf("%w: insert into %s for another tenant", domain.ErrTenantIntegrity, rule.Table))
				return
			}
			continue
		}

		var n int64
		err := db.Session(&gorm.Session{NewDB: true}).
			Table(rule.Parent.Table).
			Where("id = ?", id).
			Count(&n).Error
		if err != nil {
			db.AddError(fmt.Errorf("checking parent of %s: %w", rule.Table, err))
			return
		}
		if n == 0 {
			db.AddError(fmt.Errorf("%w: insert into %s under a parent of another tenant", domain.ErrTenantIntegrity, rule.Table))
			return
		}
	}
}

func rows(rv reflect.Value) []reflect.Value {
	rv = reflect.Indirect(rv)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		out := make([]reflect.Value, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out = append(out, reflect.Indirect(rv.Index(i)))
		}
		return out
	case reflect.Struct:
		return []reflect.Value{rv}
	}
	return nil
}
