// Package usercontext summarises how much history a user has and what that
// history can support.
package usercontext

import (
	"fmt"
	"time"

	"github.com/ZanzyTHEbar/fincopilot/fincopilot/store"
)

// QualityTier is a coarse classification of a user's history.
type QualityTier string

const (
	TierPoor      QualityTier = "poor"
	TierFair      QualityTier = "fair"
	TierGood      QualityTier = "good"
	TierExcellent QualityTier = "excellent"
)

// UserContext is an immutable snapshot; refreshes replace it wholesale.
type UserContext struct {
	UserID               string         `json:"user_id"`
	IsNewUser            bool           `json:"is_new_user"`
	HasLimitedHistory    bool           `json:"has_limited_history"`
	DaysSinceFirstRecord int            `json:"days_since_first_record"`
	TotalRecords         int            `json:"total_records"`
	RecordsByCategory    map[string]int `json:"records_by_category"`
	DataQualityTier      QualityTier    `json:"data_quality_tier"`
	RecommendedActions   []string       `json:"recommended_actions"`
	FirstRecordDate      *time.Time     `json:"first_record_date,omitempty"`
	ComputedAt           time.Time      `json:"computed_at"`
}

type tierThreshold struct {
	tier    QualityTier
	records int
	days    int
}

// Both minimums must hold; checked best tier first.
var tierThresholds = []tierThreshold{
	{TierExcellent, 100, 90},
	{TierGood, 30, 30},
	{TierFair, 10, 7},
}

const (
	newUserMaxRecords = 5
	newUserMaxDays    = 7
	limitedMaxRecords = 20
	limitedMaxDays    = 30
)

// Analyze derives a UserContext from history ordered by date ascending.
func Analyze(userID string, history []store.Transaction, now time.Time) UserContext {
	uc := UserContext{
		UserID:            userID,
		TotalRecords:      len(history),
		RecordsByCategory: make(map[string]int),
		ComputedAt:        now,
	}

	for _, t := range history {
		uc.RecordsByCategory[t.Category]++
	}

	if len(history) > 0 {
		first := history[0].Date
		uc.FirstRecordDate = &first
		today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		start := time.Date(first.Year(), first.Month(), first.Day(), 0, 0, 0, 0, time.UTC)
		if days := int(today.Sub(start).Hours() / 24); days > 0 {
			uc.DaysSinceFirstRecord = days
		}
	}

	uc.IsNewUser = uc.TotalRecords < newUserMaxRecords || uc.DaysSinceFirstRecord < newUserMaxDays
	uc.HasLimitedHistory = uc.TotalRecords < limitedMaxRecords || uc.DaysSinceFirstRecord < limitedMaxDays
	uc.DataQualityTier = classify(uc.TotalRecords, uc.DaysSinceFirstRecord)
	uc.RecommendedActions = recommendations(uc)
	return uc
}

func classify(records, days int) QualityTier {
	for _, th := range tierThresholds {
		if records >= th.records && days >= th.days {
			return th.tier
		}
	}
	return TierPoor
}

func recommendations(uc UserContext) []string {
	switch uc.DataQualityTier {
	case TierPoor:
		actions := []string{"Log every expense for at least a week to unlock spending summaries."}
		if uc.TotalRecords == 0 {
			actions = append(actions, "Start by recording today's purchases.")
		}
		return actions
	case TierFair:
		return []string{
			"Keep logging daily; trends become available after 60 days of history.",
			"Set a monthly budget per category to track progress.",
		}
	case TierGood:
		return []string{"Review category trends monthly and adjust budgets."}
	default:
		return []string{"Use predictions and anomaly alerts to plan ahead."}
	}
}

// GenerateDisclaimer returns the data notice injected ahead of the conversation.
// New users get strict limits; limited histories get a caution; others a confirmation.
func GenerateDisclaimer(uc UserContext) string {
	switch {
	case uc.IsNewUser:
		return fmt.Sprintf(
			"DATA NOTICE: this user is new (%d records over %d days). There is no baseline yet. "+
				"Do not compare periods, do not describe trends, and do not call any expense unusual or anomalous. "+
				"Describe only what was recorded and encourage consistent logging.",
			uc.TotalRecords, uc.DaysSinceFirstRecord)
	case uc.HasLimitedHistory:
		return fmt.Sprintf(
			"DATA NOTICE: this user has limited history (%d records over %d days). "+
				"Treat any comparison or trend as preliminary and say so explicitly.",
			uc.TotalRecords, uc.DaysSinceFirstRecord)
	default:
		return fmt.Sprintf(
			"DATA NOTICE: history is sufficient for analysis (%d records over %d days, quality %s).",
			uc.TotalRecords, uc.DaysSinceFirstRecord, uc.DataQualityTier)
	}
}

// DefaultBaselines is the minimum history, in days, each baseline-dependent tool needs.
var DefaultBaselines = map[string]int{
	"detectAnomalies":        30,
	"getSpendingTrends":      60,
	"predictMonthlySpending": 30,
}

// Appropriateness is the verdict of IsToolAppropriate.
type Appropriateness struct {
	Appropriate bool   `json:"appropriate"`
	Reason      string `json:"reason,omitempty"`
}

// IsToolAppropriate checks toolName against DefaultBaselines.
func IsToolAppropriate(toolName string, uc UserContext) Appropriateness {
	return isAppropriate(DefaultBaselines, toolName, uc)
}

func isAppropriate(baselines map[string]int, toolName string, uc UserContext) Appropriateness {
	required, ok := baselines[toolName]
	if !ok {
		return Appropriateness{Appropriate: true}
	}
	if uc.DaysSinceFirstRecord < required {
		return Appropriateness{
			Reason: fmt.Sprintf("%s needs at least %d days of history; the user has %d",
				toolName, required, uc.DaysSinceFirstRecord),
		}
	}
	return Appropriateness{Appropriate: true}
}
