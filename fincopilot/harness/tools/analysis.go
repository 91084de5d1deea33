package tools

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	ports "github.com/ZanzyTHEbar/fincopilot/fincopilot/harness/ports"
	"github.com/ZanzyTHEbar/fincopilot/fincopilot/store"
)

// Trend directions.
const (
	TrendIncreasing = "increasing"
	TrendDecreasing = "decreasing"
	TrendStable     = "stable"
)

// stableBand is the relative monthly slope below which spend counts as stable.
const stableBand = 0.05

// dailySeries returns spend per day for [from, to], zero-filled, optionally for one category.
func dailySeries(ctx context.Context, s *store.Store, userID string, from, to time.Time, category string) ([]float64, error) {
	days := int(to.Sub(from).Hours()/24) + 1
	if days <= 0 {
		return nil, nil
	}
	series := make([]float64, days)

	if category == "" {
		totals, err := s.DailyTotals(ctx, userID, from, to)
		if err != nil {
			return nil, err
		}
		for _, t := range totals {
			if i := int(t.Date.Sub(from).Hours() / 24); i >= 0 && i < days {
				series[i] += t.Total
			}
		}
		return series, nil
	}

	txs, err := s.ListTransactions(ctx, userID, from, to, 0)
	if err != nil {
		return nil, err
	}
	for _, t := range txs {
		if t.Category != category {
			continue
		}
		if i := int(t.Date.Sub(from).Hours() / 24); i >= 0 && i < days {
			series[i] += t.Amount
		}
	}
	return series, nil
}

func monthTotal(ctx context.Context, s *store.Store, userID string, from, to time.Time, category string) (float64, error) {
	sums, err := s.SumByCategory(ctx, userID, from, to)
	if err != nil {
		return 0, err
	}
	if category != "" {
		return sums[category], nil
	}
	var total float64
	for _, v := range sums {
		total += v
	}
	return total, nil
}

// SpendingTrendsArgs selects how many complete months to analyse.
type SpendingTrendsArgs struct {
	Months   int    `json:"months,omitempty"`
	Category string `json:"category,omitempty"`
}

func (SpendingTrendsArgs) ToolName() string { return "getSpendingTrends" }

// MonthTotal is one point of a trend.
type MonthTotal struct {
	Month string  `json:"month"`
	Total float64 `json:"total"`
}

func SpendingTrends(d Deps) ports.Tool {
	return &typedTool[SpendingTrendsArgs]{
		spec: ports.ToolSpec{
			Name:        "getSpendingTrends",
			Description: "Month-over-month spend for the last complete months with a fitted trend. Needs at least 60 days of history.",
			JSONSchema: []byte(`{
				"type": "object",
				"properties": {
					"months": {"type": "integer", "minimum": 2, "maximum": 12, "description": "Complete months to analyse (default 3)."},
					"category": {"type": "string", "enum": ["supervivencia", "opcional", "cultura", "extra"]}
				},
				"additionalProperties": false
			}`),
		},
		run: func(ctx context.Context, userID string, args SpendingTrendsArgs) (any, error) {
			months := args.Months
			if months < 2 {
				months = 3
			}
			today := d.today()
			current := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, time.UTC)

			points := make([]MonthTotal, 0, months)
			xs := make([]float64, 0, months)
			ys := make([]float64, 0, months)
			for i := months; i >= 1; i-- {
				from := current.AddDate(0, -i, 0)
				total, err := monthTotal(ctx, d.Store, userID, from, from.AddDate(0, 1, -1), args.Category)
				if err != nil {
					return nil, err
				}
				points = append(points, MonthTotal{Month: from.Format(monthLayout), Total: round2(total)})
				xs = append(xs, float64(len(xs)))
				ys = append(ys, total)
			}

			_, slope := stat.LinearRegression(xs, ys, nil, false)
			mean := stat.Mean(ys, nil)
			direction := TrendStable
			if mean > 0 {
				switch rel := slope / mean; {
				case rel > stableBand:
					direction = TrendIncreasing
				case rel < -stableBand:
					direction = TrendDecreasing
				}
			}
			if math.IsNaN(slope) {
				slope = 0
			}

			return map[string]any{
				"months":          points,
				"average":         round2(mean),
				"slope_per_month": round2(slope),
				"direction":       direction,
				"category":        args.Category,
			}, nil
		},
	}
}

// PredictMonthlySpendingArgs optionally narrows the projection to a category.
type PredictMonthlySpendingArgs struct {
	Category string `json:"category,omitempty"`
}

func (PredictMonthlySpendingArgs) ToolName() string { return "predictMonthlySpending" }

// baselineDays is the trailing window the daily spend rate is estimated from.
const baselineDays = 30

func PredictMonthlySpending(d Deps) ports.Tool {
	return &typedTool[PredictMonthlySpendingArgs]{
		spec: ports.ToolSpec{
			Name:        "predictMonthlySpending",
			Description: "Project this month's total spend from the spend so far and the recent daily rate. Needs at least 30 days of history.",
			JSONSchema: []byte(`{
				"type": "object",
				"properties": {
					"category": {"type": "string", "enum": ["supervivencia", "opcional", "cultura", "extra"]}
				},
				"additionalProperties": false
			}`),
			RequiredCompanion: "getBudgetStatus",
		},
		run: func(ctx context.Context, userID string, args PredictMonthlySpendingArgs) (any, error) {
			today := d.today()
			from, to, _ := monthRange("", today)

			spent, err := monthTotal(ctx, d.Store, userID, from, today, args.Category)
			if err != nil {
				return nil, err
			}
			recent, err := dailySeries(ctx, d.Store, userID, today.AddDate(0, 0, -(baselineDays-1)), today, args.Category)
			if err != nil {
				return nil, err
			}
			rate := stat.Mean(recent, nil)
			remaining := int(to.Sub(today).Hours() / 24)
			projected := spent + rate*float64(remaining)

			out := map[string]any{
				"month":          from.Format(monthLayout),
				"spent_so_far":   round2(spent),
				"daily_average":  round2(rate),
				"days_remaining": remaining,
				"projected":      round2(projected),
				"category":       args.Category,
			}

			budgets, err := d.Store.Budgets(ctx, userID)
			if err != nil {
				return nil, err
			}
			var limit float64
			if args.Category != "" {
				limit = budgets[args.Category]
			} else {
				for _, v := range budgets {
					limit += v
				}
			}
			if limit > 0 {
				out["budget"] = round2(limit)
				out["projected_over_budget"] = projected > limit
			}
			return out, nil
		},
	}
}

// DetectAnomaliesArgs sets the window scanned and the z-score threshold.
type DetectAnomaliesArgs struct {
	Days      int     `json:"days,omitempty"`
	Threshold float64 `json:"threshold,omitempty"`
}

func (DetectAnomaliesArgs) ToolName() string { return "detectAnomalies" }

// Anomaly is an expense far above its category's usual amount.
type Anomaly struct {
	Transaction  store.Transaction `json:"transaction"`
	CategoryMean float64           `json:"category_mean"`
	ZScore       float64           `json:"z_score"`
}

const (
	anomalyBaselineDays = 90
	minCategorySamples  = 5
)

func DetectAnomalies(d Deps) ports.Tool {
	return &typedTool[DetectAnomaliesArgs]{
		spec: ports.ToolSpec{
			Name:        "detectAnomalies",
			Description: "Find recent expenses unusually large for their category (z-score over the last 90 days). Needs at least 30 days of history.",
			JSONSchema: []byte(`{
				"type": "object",
				"properties": {
					"days": {"type": "integer", "minimum": 1, "maximum": 90, "description": "Recent window to scan (default 30)."},
					"threshold": {"type": "number", "minimum": 1, "maximum": 5, "description": "Standard deviations above the mean (default 2)."}
				},
				"additionalProperties": false
			}`),
		},
		run: func(ctx context.Context, userID string, args DetectAnomaliesArgs) (any, error) {
			days, threshold := args.Days, args.Threshold
			if days <= 0 {
				days = 30
			}
			if threshold <= 0 {
				threshold = 2
			}
			today := d.today()

			baseline, err := d.Store.ListTransactions(ctx, userID, today.AddDate(0, 0, -anomalyBaselineDays), today, 0)
			if err != nil {
				return nil, err
			}

			amounts := make(map[string][]float64)
			for _, t := range baseline {
				amounts[t.Category] = append(amounts[t.Category], t.Amount)
			}
			type moments struct{ mean, std float64 }
			stats := make(map[string]moments, len(amounts))
			for c, xs := range amounts {
				if len(xs) < minCategorySamples {
					continue
				}
				mean, std := stat.MeanStdDev(xs, nil)
				stats[c] = moments{mean, std}
			}

			since := today.AddDate(0, 0, -days)
			anomalies := []Anomaly{}
			for _, t := range baseline {
				if t.Date.Before(since) {
					continue
				}
				m, ok := stats[t.Category]
				if !ok || m.std == 0 {
					continue
				}
				if z := (t.Amount - m.mean) / m.std; z >= threshold {
					anomalies = append(anomalies, Anomaly{Transaction: t, CategoryMean: round2(m.mean), ZScore: round2(z)})
				}
			}
			sort.Slice(anomalies, func(i, j int) bool { return anomalies[i].ZScore > anomalies[j].ZScore })

			return map[string]any{
				"window_days": days,
				"threshold":   threshold,
				"anomalies":   anomalies,
				"summary":     fmt.Sprintf("%d unusual expenses in the last %d days", len(anomalies), days),
			}, nil
		},
	}
}
