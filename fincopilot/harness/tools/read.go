package tools

import (
	"context"
	"sort"

	ports "github.com/ZanzyTHEbar/fincopilot/fincopilot/harness/ports"
	"github.com/ZanzyTHEbar/fincopilot/fincopilot/store"
)

// RecentTransactionsArgs selects the latest expenses.
type RecentTransactionsArgs struct {
	Limit    int    `json:"limit,omitempty"`
	Category string `json:"category,omitempty"`
}

func (RecentTransactionsArgs) ToolName() string { return "getRecentTransactions" }

func RecentTransactions(d Deps) ports.Tool {
	return &typedTool[RecentTransactionsArgs]{
		spec: ports.ToolSpec{
			Name:        "getRecentTransactions",
			Description: "List the user's most recent expenses, newest first, optionally filtered by category.",
			JSONSchema: []byte(`{
				"type": "object",
				"properties": {
					"limit": {"type": "integer", "minimum": 1, "maximum": 50, "description": "How many expenses to return (default 10)."},
					"category": {"type": "string", "enum": ["supervivencia", "opcional", "cultura", "extra"]}
				},
				"additionalProperties": false
			}`),
		},
		run: func(ctx context.Context, userID string, args RecentTransactionsArgs) (any, error) {
			limit := args.Limit
			if limit <= 0 {
				limit = 10
			}
			fetch := limit
			if args.Category != "" {
				fetch = 0
			}
			txs, err := d.Store.ListTransactions(ctx, userID, zeroTime, zeroTime, fetch)
			if err != nil {
				return nil, err
			}

			out := make([]store.Transaction, 0, limit)
			for _, t := range txs {
				if args.Category != "" && t.Category != args.Category {
					continue
				}
				out = append(out, t)
				if len(out) == limit {
					break
				}
			}
			return map[string]any{"transactions": out, "count": len(out)}, nil
		},
	}
}

// SpendingSummaryArgs selects a calendar month.
type SpendingSummaryArgs struct {
	Month string `json:"month,omitempty"`
}

func (SpendingSummaryArgs) ToolName() string { return "getSpendingSummary" }

// CategoryTotal is one row of a summary.
type CategoryTotal struct {
	Category string  `json:"category"`
	Total    float64 `json:"total"`
	Percent  float64 `json:"percent"`
}

func SpendingSummary(d Deps) ports.Tool {
	return &typedTool[SpendingSummaryArgs]{
		spec: ports.ToolSpec{
			Name:        "getSpendingSummary",
			Description: "Total spend per Kakebo category for a month (default: current month).",
			JSONSchema: []byte(`{
				"type": "object",
				"properties": {
					"month": {"type": "string", "pattern": "^[0-9]{4}-[0-9]{2}$", "description": "YYYY-MM"}
				},
				"additionalProperties": false
			}`),
		},
		run: func(ctx context.Context, userID string, args SpendingSummaryArgs) (any, error) {
			from, to, err := monthRange(args.Month, d.today())
			if err != nil {
				return nil, err
			}
			sums, err := d.Store.SumByCategory(ctx, userID, from, to)
			if err != nil {
				return nil, err
			}

			var total float64
			for _, v := range sums {
				total += v
			}
			rows := make([]CategoryTotal, 0, len(Categories))
			for _, c := range Categories {
				row := CategoryTotal{Category: c, Total: round2(sums[c])}
				if total > 0 {
					row.Percent = round2(sums[c] / total * 100)
				}
				rows = append(rows, row)
			}
			return map[string]any{
				"month":      from.Format(monthLayout),
				"total":      round2(total),
				"categories": rows,
			}, nil
		},
	}
}

// BudgetStatusArgs selects a calendar month.
type BudgetStatusArgs struct {
	Month string `json:"month,omitempty"`
}

func (BudgetStatusArgs) ToolName() string { return "getBudgetStatus" }

// Budget states.
const (
	BudgetOK      = "ok"
	BudgetWarning = "warning"
	BudgetOver    = "over"
)

// BudgetLine compares a category's spend with its monthly limit.
type BudgetLine struct {
	Category    string  `json:"category"`
	Limit       float64 `json:"limit"`
	Spent       float64 `json:"spent"`
	Remaining   float64 `json:"remaining"`
	PercentUsed float64 `json:"percent_used"`
	Status      string  `json:"status"`
}

func budgetLine(category string, limit, spent float64) BudgetLine {
	line := BudgetLine{Category: category, Limit: round2(limit), Spent: round2(spent), Remaining: round2(limit - spent)}
	if limit > 0 {
		line.PercentUsed = round2(spent / limit * 100)
	}
	switch {
	case spent > limit:
		line.Status = BudgetOver
	case line.PercentUsed >= 80:
		line.Status = BudgetWarning
	default:
		line.Status = BudgetOK
	}
	return line
}

func BudgetStatus(d Deps) ports.Tool {
	return &typedTool[BudgetStatusArgs]{
		spec: ports.ToolSpec{
			Name:        "getBudgetStatus",
			Description: "Compare spend against the user's monthly budgets per category.",
			JSONSchema: []byte(`{
				"type": "object",
				"properties": {
					"month": {"type": "string", "pattern": "^[0-9]{4}-[0-9]{2}$", "description": "YYYY-MM"}
				},
				"additionalProperties": false
			}`),
		},
		run: func(ctx context.Context, userID string, args BudgetStatusArgs) (any, error) {
			from, to, err := monthRange(args.Month, d.today())
			if err != nil {
				return nil, err
			}
			budgets, err := d.Store.Budgets(ctx, userID)
			if err != nil {
				return nil, err
			}
			if len(budgets) == 0 {
				return map[string]any{"month": from.Format(monthLayout), "budgets": []BudgetLine{}, "configured": false}, nil
			}
			sums, err := d.Store.SumByCategory(ctx, userID, from, to)
			if err != nil {
				return nil, err
			}

			categories := make([]string, 0, len(budgets))
			for c := range budgets {
				categories = append(categories, c)
			}
			sort.Strings(categories)

			lines := make([]BudgetLine, 0, len(categories))
			for _, c := range categories {
				lines = append(lines, budgetLine(c, budgets[c], sums[c]))
			}
			return map[string]any{"month": from.Format(monthLayout), "budgets": lines, "configured": true}, nil
		},
	}
}
