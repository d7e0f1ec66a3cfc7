package filter

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/pimsync/runtime/internal/logger"
)

// DefaultScope is the channel completeness is evaluated on when none is configured.
const DefaultScope = "ecommerce"

// Target selects which remote resource a query is compiled for.
type Target int

const (
	// TargetProducts uses the stored completeness operator and value as is.
	TargetProducts Target = iota
	// TargetProductModels forces AT LEAST COMPLETE, or ALL COMPLETE when the
	// stored value is the full completeness sentinel, and sends no value.
	TargetProductModels
)

func (t Target) String() string {
	if t == TargetProductModels {
		return "product_models"
	}
	return "products"
}

// Locale is a remote locale as listed by the catalog API.
type Locale struct {
	Code    string `json:"code"`
	Enabled bool   `json:"enabled"`
}

// LocaleSource lists the remote locales.
type LocaleSource interface {
	Locales(ctx context.Context) ([]Locale, error)
}

// ResolveLocales returns the remote locales that are enabled and also enabled
// in the store, in remote order. Either side empty yields nil.
func ResolveLocales(remote []Locale, store []string) []string {
	if len(remote) == 0 || len(store) == 0 {
		return nil
	}
	allowed := make(map[string]bool, len(store))
	for _, code := range store {
		allowed[code] = true
	}
	var out []string
	for _, l := range remote {
		if l.Enabled && allowed[l.Code] {
			out = append(out, l.Code)
		}
	}
	return out
}

// Result is a compiled query plus what was dropped while compiling it.
type Result struct {
	Query Query
	// Dropped lists advanced document keys removed by the allowlist.
	Dropped []string
}

// Compile builds the query for target from rs. locales is the resolved
// runtime locale set (see ResolveLocales) and scope the completeness channel.
// A nil rule set, an unknown mode or an empty advanced document compile to the
// empty query.
func Compile(rs *RuleSet, target Target, locales []string, scope string) (Result, error) {
	if rs == nil {
		return Result{}, nil
	}
	if scope == "" {
		scope = DefaultScope
	}

	switch rs.Mode {
	case ModeSimple:
		return Result{Query: compileSimple(rs, target, locales, scope)}, nil
	case ModeAdvanced:
		doc, dropped, err := parseAdvancedLenient(rs.AdvancedFilter)
		if err != nil {
			return Result{Dropped: dropped}, err
		}
		return Result{Query: doc.withCompletenessOperators().Query(), Dropped: dropped}, nil
	default:
		return Result{}, nil
	}
}

func compileSimple(rs *RuleSet, target Target, locales []string, scope string) Query {
	var q Query
	q = updatedClause(q, rs)
	q = completenessClauses(q, rs, target, locales, scope)
	if len(rs.Families) > 0 {
		families := make([]string, len(rs.Families))
		copy(families, rs.Families)
		q = q.with(Clause{Field: FieldFamily, Operator: OpIn, Value: families})
	}
	return q
}

func updatedClause(q Query, rs *RuleSet) Query {
	switch rs.UpdatedMode {
	case UpdatedGreaterThan:
		if rs.UpdatedAfter != nil {
			return q.with(Clause{Field: FieldUpdated, Operator: OpGreaterThan, Value: rs.UpdatedAfter.String()})
		}
	case UpdatedLowerThan:
		if rs.UpdatedBefore != nil {
			return q.with(Clause{Field: FieldUpdated, Operator: OpLowerThan, Value: rs.UpdatedBefore.String()})
		}
	case UpdatedBetween:
		if rs.UpdatedBefore != nil && rs.UpdatedAfter != nil {
			return q.with(Clause{
				Field:    FieldUpdated,
				Operator: OpBetween,
				Value:    []string{rs.UpdatedBefore.String(), rs.UpdatedAfter.String()},
			})
		}
	case UpdatedSinceLastNDays:
		return q.with(Clause{Field: FieldUpdated, Operator: OpSinceLastNDays, Value: rs.Updated})
	}
	return q
}

func completenessClauses(q Query, rs *RuleSet, target Target, locales []string, scope string) Query {
	if rs.CompletenessType == "" || len(locales) == 0 {
		return q
	}

	operator := rs.CompletenessType
	var value interface{}
	if target == TargetProductModels {
		operator = OpAtLeastComplete
		if rs.CompletenessValue == FullCompleteness {
			operator = OpAllComplete
		}
	} else {
		value = completenessValue(rs.CompletenessValue)
	}

	runtimeLocales := make([]string, len(locales))
	copy(runtimeLocales, locales)
	q = q.with(Clause{
		Field:    FieldCompleteness,
		Operator: operator,
		Value:    value,
		Context:  Context{Locales: runtimeLocales, Scope: scope},
	})

	if IsAllLocalesOperator(rs.CompletenessType) {
		explicit := make([]string, len(rs.Locales))
		copy(explicit, rs.Locales)
		q = q.with(Clause{
			Field:    FieldCompleteness,
			Operator: rs.CompletenessType,
			Value:    value,
			Context:  Context{Locales: explicit, Scope: scope},
		})
	}
	return q
}

// completenessValue sends numeric percentages as numbers.
func completenessValue(s string) interface{} {
	if s == "" {
		return nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return s
}

// Compiler resolves run-time locales from the remote catalog and compiles
// rule sets for a given target.
type Compiler struct {
	Remote       LocaleSource
	StoreLocales []string
	Scope        string
}

// Compile compiles rs for target. Remote locales are only listed when the
// rule set has a completeness clause to build.
func (c *Compiler) Compile(ctx context.Context, rs *RuleSet, target Target) (Query, error) {
	var locales []string
	if rs != nil && rs.Mode == ModeSimple && rs.CompletenessType != "" && len(c.StoreLocales) > 0 {
		if c.Remote == nil {
			return Query{}, fmt.Errorf("completeness filter needs the remote locale list")
		}
		remote, err := c.Remote.Locales(ctx)
		if err != nil {
			return Query{}, fmt.Errorf("listing remote locales: %w", err)
		}
		locales = ResolveLocales(remote, c.StoreLocales)
		if len(locales) == 0 {
			logger.Warn("completeness filter skipped: no locale enabled on both sides",
				slog.String("target", target.String()))
		}
	}

	res, err := Compile(rs, target, locales, c.Scope)
	if err != nil {
		return Query{}, err
	}
	if len(res.Dropped) > 0 {
		logger.Warn("advanced filter keys dropped",
			slog.String("target", target.String()),
			slog.Any("keys", res.Dropped),
		)
	}
	return res.Query, nil
}

// CompileProducts compiles rs for the products resource.
func (c *Compiler) CompileProducts(ctx context.Context, rs *RuleSet) (Query, error) {
	return c.Compile(ctx, rs, TargetProducts)
}

// CompileProductModels compiles rs for the product models resource.
func (c *Compiler) CompileProductModels(ctx context.Context, rs *RuleSet) (Query, error) {
	return c.Compile(ctx, rs, TargetProductModels)
}
