package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// RuleScope distinguishes per-user rules from global consensus rules.
type RuleScope string

const (
	ScopeUser   RuleScope = "user"
	ScopeGlobal RuleScope = "global"
)

// MerchantRule maps a merchant key to a category.
type MerchantRule struct {
	Scope       RuleScope
	UserID      string // empty for global rules
	MerchantKey string
	Category    string
	Confidence  float64
	VoteCount   int
	UpdatedAt   time.Time
}

// UpsertUserRule creates or overwrites the (user, merchant) rule.
func (s *Store) UpsertUserRule(ctx context.Context, userID, merchantKey, category string, confidence float64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_merchant_rules (user_id, merchant_key, category, confidence, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (user_id, merchant_key) DO UPDATE SET
		   category = excluded.category,
		   confidence = excluded.confidence,
		   updated_at = excluded.updated_at`,
		userID, merchantKey, category, confidence, s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("upsert user rule: %w", err)
	}
	return nil
}

// UserRule returns the user's rule for merchantKey; ok is false when none exists.
func (s *Store) UserRule(ctx context.Context, userID, merchantKey string) (rule MerchantRule, ok bool, err error) {
	var updated int64
	err = s.db.QueryRowContext(ctx,
		`SELECT category, confidence, updated_at FROM user_merchant_rules WHERE user_id = ? AND merchant_key = ?`,
		userID, merchantKey).Scan(&rule.Category, &rule.Confidence, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return MerchantRule{}, false, nil
	}
	if err != nil {
		return MerchantRule{}, false, fmt.Errorf("get user rule: %w", err)
	}
	rule.Scope = ScopeUser
	rule.UserID = userID
	rule.MerchantKey = merchantKey
	rule.VoteCount = 1
	rule.UpdatedAt = time.UnixMilli(updated).UTC()
	return rule, true, nil
}

// GlobalRule returns the consensus rule for merchantKey; ok is false when none exists.
func (s *Store) GlobalRule(ctx context.Context, merchantKey string) (rule MerchantRule, ok bool, err error) {
	var updated int64
	err = s.db.QueryRowContext(ctx,
		`SELECT category, vote_count, updated_at FROM global_merchant_rules WHERE merchant_key = ?`,
		merchantKey).Scan(&rule.Category, &rule.VoteCount, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return MerchantRule{}, false, nil
	}
	if err != nil {
		return MerchantRule{}, false, fmt.Errorf("get global rule: %w", err)
	}
	rule.Scope = ScopeGlobal
	rule.MerchantKey = merchantKey
	rule.UpdatedAt = time.UnixMilli(updated).UTC()
	return rule, true, nil
}

// IncrementGlobalVote adds one vote to the global rule only if its category equals category.
// The increment is a single UPDATE so concurrent corrections never lose votes.
// It reports whether a row was updated.
func (s *Store) IncrementGlobalVote(ctx context.Context, merchantKey, category string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE global_merchant_rules SET vote_count = vote_count + 1, updated_at = ?
		 WHERE merchant_key = ? AND category = ?`,
		s.now().UnixMilli(), merchantKey, category)
	if err != nil {
		return false, fmt.Errorf("increment global vote: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("increment global vote: %w", err)
	}
	return n > 0, nil
}

// SeedGlobalRule installs or replaces a global rule. Administrative only; user corrections never call it.
func (s *Store) SeedGlobalRule(ctx context.Context, merchantKey, category string, votes int) error {
	if votes < 0 {
		return fmt.Errorf("seed global rule: negative vote count %d", votes)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO global_merchant_rules (merchant_key, category, vote_count, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (merchant_key) DO UPDATE SET
		   category = excluded.category,
		   vote_count = excluded.vote_count,
		   updated_at = excluded.updated_at`,
		merchantKey, category, votes, s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("seed global rule: %w", err)
	}
	return nil
}
