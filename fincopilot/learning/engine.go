// Package learning turns category corrections into merchant rules and consults
// them before a new expense is categorised.
package learning

import (
	"context"
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/ZanzyTHEbar/fincopilot/fincopilot/store"
)

// Source says which rule produced a suggestion.
type Source string

const (
	SourceUserRule   Source = "user_rule"
	SourceGlobalRule Source = "global_rule"
)

// UserRuleConfidence is the fixed confidence of a rule learned from the user's own correction.
const UserRuleConfidence = 1.0

// CategorySuggestion is a learned category for a concept.
type CategorySuggestion struct {
	Category    string  `json:"category"`
	Confidence  float64 `json:"confidence"`
	Source      Source  `json:"source"`
	MerchantKey string  `json:"merchant_key"`
}

// LearningResult reports what a correction changed.
type LearningResult struct {
	MerchantKey     string `json:"merchant_key,omitempty"`
	UserRuleUpdated bool   `json:"user_rule_updated"`
	GlobalVoteAdded bool   `json:"global_vote_added"`
}

// RuleStore persists merchant rules. IncrementGlobalVote must be atomic and only
// count when the stored global category equals category.
type RuleStore interface {
	UpsertUserRule(ctx context.Context, userID, merchantKey, category string, confidence float64) error
	UserRule(ctx context.Context, userID, merchantKey string) (store.MerchantRule, bool, error)
	GlobalRule(ctx context.Context, merchantKey string) (store.MerchantRule, bool, error)
	IncrementGlobalVote(ctx context.Context, merchantKey, category string) (bool, error)
}

// Options tunes global consensus.
type Options struct {
	MinGlobalVotes  int
	AcceptThreshold float64
}

func DefaultOptions() Options {
	return Options{MinGlobalVotes: 3, AcceptThreshold: 0.7}
}

// Engine learns from corrections and suggests categories.
type Engine struct {
	rules     RuleStore
	extractor *MerchantExtractor
	opts      Options
	logger    zerolog.Logger
}

func NewEngine(rules RuleStore, extractor *MerchantExtractor, opts Options, logger zerolog.Logger) *Engine {
	if extractor == nil {
		extractor = NewMerchantExtractor()
	}
	if opts.MinGlobalVotes < 1 {
		opts.MinGlobalVotes = 1
	}
	return &Engine{rules: rules, extractor: extractor, opts: opts, logger: logger}
}

// Extractor exposes the merchant extractor.
func (e *Engine) Extractor() *MerchantExtractor { return e.extractor }

// Learn records a correction of concept from oldCategory to newCategory. A concept with
// no recognisable merchant, or a correction that changes nothing, is a no-op.
// The global table is only ever reinforced, never created or overturned, from here.
func (e *Engine) Learn(ctx context.Context, userID, concept, oldCategory, newCategory string) (LearningResult, error) {
	key := e.extractor.Extract(concept)
	if key == "" || newCategory == "" || oldCategory == newCategory {
		return LearningResult{MerchantKey: key}, nil
	}

	res := LearningResult{MerchantKey: key}
	if err := e.rules.UpsertUserRule(ctx, userID, key, newCategory, UserRuleConfidence); err != nil {
		return res, fmt.Errorf("learn user rule for %s: %w", key, err)
	}
	res.UserRuleUpdated = true

	voted, err := e.rules.IncrementGlobalVote(ctx, key, newCategory)
	if err != nil {
		e.logger.Warn().Err(err).Str("merchant", key).Msg("global vote failed")
	} else {
		res.GlobalVoteAdded = voted
	}

	e.logger.Info().
		Str("user_id", userID).
		Str("merchant", key).
		Str("from", oldCategory).
		Str("to", newCategory).
		Bool("global_vote", res.GlobalVoteAdded).
		Msg("category correction learned")
	return res, nil
}

// SuggestCategory consults the user's rule first, then a global rule that has reached
// consensus. It returns nil when nothing applies.
func (e *Engine) SuggestCategory(ctx context.Context, userID, concept string) (*CategorySuggestion, error) {
	key := e.extractor.Extract(concept)
	if key == "" {
		return nil, nil
	}

	rule, ok, err := e.rules.UserRule(ctx, userID, key)
	if err != nil {
		return nil, fmt.Errorf("load user rule for %s: %w", key, err)
	}
	if ok {
		return &CategorySuggestion{
			Category:    rule.Category,
			Confidence:  rule.Confidence,
			Source:      SourceUserRule,
			MerchantKey: key,
		}, nil
	}

	rule, ok, err = e.rules.GlobalRule(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load global rule for %s: %w", key, err)
	}
	if !ok || rule.VoteCount < e.opts.MinGlobalVotes {
		return nil, nil
	}
	return &CategorySuggestion{
		Category:    rule.Category,
		Confidence:  GlobalConfidence(rule.VoteCount),
		Source:      SourceGlobalRule,
		MerchantKey: key,
	}, nil
}

// Accepts reports whether s is confident enough to override a model's choice.
func (e *Engine) Accepts(s *CategorySuggestion) bool {
	return s != nil && s.Confidence >= e.opts.AcceptThreshold
}

// GlobalConfidence grows with votes and stays below a user rule's confidence.
func GlobalConfidence(votes int) float64 {
	return math.Min(0.95, 0.5+0.1*float64(votes))
}
