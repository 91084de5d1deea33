// Package tools holds the finance tools the assistant can call. The orchestrator
// treats them as opaque: a name, a JSON schema and a JSON-serialisable result.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	ports "github.com/ZanzyTHEbar/fincopilot/fincopilot/harness/ports"
	"github.com/ZanzyTHEbar/fincopilot/fincopilot/learning"
	"github.com/ZanzyTHEbar/fincopilot/fincopilot/store"
	"github.com/ZanzyTHEbar/fincopilot/fincopilot/validation"
)

// Kakebo categories.
const (
	CategorySupervivencia = "supervivencia"
	CategoryOpcional      = "opcional"
	CategoryCultura       = "cultura"
	CategoryExtra         = "extra"
)

// Categories lists every valid category in display order.
var Categories = []string{CategorySupervivencia, CategoryOpcional, CategoryCultura, CategoryExtra}

// IsCategory reports whether c is a Kakebo category.
func IsCategory(c string) bool {
	for _, k := range Categories {
		if k == c {
			return true
		}
	}
	return false
}

const monthLayout = "2006-01"

var zeroTime time.Time

// Deps are the collaborators the tools need.
type Deps struct {
	Store     *store.Store
	Validator *validation.Validator
	Learning  *learning.Engine
	Now       func() time.Time
	Logger    zerolog.Logger
}

func (d Deps) today() time.Time {
	now := time.Now
	if d.Now != nil {
		now = d.Now
	}
	t := now()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// All returns every tool in the order they are advertised.
func All(d Deps) []ports.Tool {
	return []ports.Tool{
		RecentTransactions(d),
		SpendingSummary(d),
		BudgetStatus(d),
		SpendingTrends(d),
		PredictMonthlySpending(d),
		DetectAnomalies(d),
		CreateTransaction(d),
		UpdateTransactionCategory(d),
		DeleteTransaction(d),
		SetBudget(d),
	}
}

// typedTool adapts a function over a concrete argument struct to ports.Tool.
type typedTool[A ports.Arguments] struct {
	spec     ports.ToolSpec
	run      func(ctx context.Context, userID string, args A) (any, error)
	describe func(args A) string
}

func (t *typedTool[A]) Spec() ports.ToolSpec { return t.spec }

func (t *typedTool[A]) Decode(raw json.RawMessage) (ports.Arguments, error) {
	var args A
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	return args, nil
}

func (t *typedTool[A]) Invoke(ctx context.Context, userID string, args ports.Arguments) (any, error) {
	typed, ok := args.(A)
	if !ok {
		return nil, fmt.Errorf("%s received arguments for %s", t.spec.Name, args.ToolName())
	}
	return t.run(ctx, userID, typed)
}

func (t *typedTool[A]) Describe(args ports.Arguments) string {
	typed, ok := args.(A)
	if !ok || t.describe == nil {
		b, _ := json.Marshal(args)
		return fmt.Sprintf("%s %s", t.spec.Name, b)
	}
	return t.describe(typed)
}

// monthRange resolves a "YYYY-MM" month (empty means the current one) to its first and last day.
func monthRange(month string, today time.Time) (from, to time.Time, err error) {
	if month == "" {
		from = time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, time.UTC)
	} else {
		from, err = time.Parse(monthLayout, month)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("month %q must use YYYY-MM", month)
		}
	}
	return from, from.AddDate(0, 1, -1), nil
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
