// Package store persists transactions, budgets and merchant rules in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// DateLayout is the on-disk and wire format for transaction dates.
const DateLayout = "2006-01-02"

// ErrNotFound is returned when a record does not exist for the user.
var ErrNotFound = errors.New("record not found")

// Transaction is a single expense record.
type Transaction struct {
	ID        string    `json:"id"`
	UserID    string    `json:"-"`
	Amount    float64   `json:"amount"`
	Concept   string    `json:"concept"`
	Category  string    `json:"category"`
	Date      time.Time `json:"date"`
	CreatedAt time.Time `json:"created_at"`
}

// DailyTotal is the summed spend for one calendar day.
type DailyTotal struct {
	Date  time.Time
	Total float64
}

// Store wraps a *sql.DB with typed queries.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// New returns a Store over an already-migrated database.
func New(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// DB exposes the underlying handle.
func (s *Store) DB() *sql.DB { return s.db }

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v (original error: %w)", rbErr, err)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func toCents(amount float64) int64 { return int64(math.Round(amount * 100)) }

func fromCents(cents int64) float64 { return float64(cents) / 100 }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (Transaction, error) {
	var (
		t         Transaction
		cents     int64
		date      string
		createdAt int64
	)
	if err := row.Scan(&t.ID, &t.UserID, &cents, &t.Concept, &t.Category, &date, &createdAt); err != nil {
		return Transaction{}, err
	}
	parsed, err := time.Parse(DateLayout, date)
	if err != nil {
		return Transaction{}, fmt.Errorf("transaction %s has malformed date %q: %w", t.ID, date, err)
	}
	t.Amount = fromCents(cents)
	t.Date = parsed
	t.CreatedAt = time.UnixMilli(createdAt).UTC()
	return t, nil
}

const transactionColumns = "id, user_id, amount_cents, concept, category, date, created_at"

// InsertTransaction persists t, assigning ID and CreatedAt when empty.
func (s *Store) InsertTransaction(ctx context.Context, t *Transaction) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transactions (`+transactionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserID, toCents(t.Amount), t.Concept, t.Category, t.Date.Format(DateLayout), t.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// GetTransaction loads one transaction owned by userID.
func (s *Store) GetTransaction(ctx context.Context, userID, id string) (Transaction, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE user_id = ? AND id = ?`, userID, id)
	t, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Transaction{}, ErrNotFound
	}
	if err != nil {
		return Transaction{}, fmt.Errorf("get transaction: %w", err)
	}
	return t, nil
}

// UpdateTransactionCategory sets a new category and returns the record as it was before.
func (s *Store) UpdateTransactionCategory(ctx context.Context, userID, id, category string) (Transaction, error) {
	var before Transaction
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			`SELECT `+transactionColumns+` FROM transactions WHERE user_id = ? AND id = ?`, userID, id)
		t, err := scanTransaction(row)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		before = t
		_, err = tx.ExecContext(ctx,
			`UPDATE transactions SET category = ? WHERE user_id = ? AND id = ?`, category, userID, id)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Transaction{}, err
		}
		return Transaction{}, fmt.Errorf("update transaction category: %w", err)
	}
	return before, nil
}

// DeleteTransaction removes a transaction owned by userID.
func (s *Store) DeleteTransaction(ctx context.Context, userID, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM transactions WHERE user_id = ? AND id = ?`, userID, id)
	if err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListTransactions returns the user's transactions dated within [from, to], newest first.
// A zero from or to leaves that side open; limit <= 0 means no limit.
func (s *Store) ListTransactions(ctx context.Context, userID string, from, to time.Time, limit int) ([]Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE user_id = ?`
	args := []any{userID}
	if !from.IsZero() {
		query += ` AND date >= ?`
		args = append(args, from.Format(DateLayout))
	}
	if !to.IsZero() {
		query += ` AND date <= ?`
		args = append(args, to.Format(DateLayout))
	}
	query += ` ORDER BY date DESC, created_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.queryTransactions(ctx, query, args...)
}

// History returns every transaction for the user ordered by date ascending.
func (s *Store) History(ctx context.Context, userID string) ([]Transaction, error) {
	return s.queryTransactions(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE user_id = ? ORDER BY date ASC, created_at ASC`, userID)
}

// RecentByAmount returns writes created at or after since whose amount lies in [minAmount, maxAmount].
func (s *Store) RecentByAmount(ctx context.Context, userID string, since time.Time, minAmount, maxAmount float64) ([]Transaction, error) {
	return s.queryTransactions(ctx,
		`SELECT `+transactionColumns+` FROM transactions
		 WHERE user_id = ? AND created_at >= ? AND amount_cents BETWEEN ? AND ?
		 ORDER BY created_at DESC`,
		userID, since.UnixMilli(), toCents(minAmount), toCents(maxAmount))
}

func (s *Store) queryTransactions(ctx context.Context, query string, args ...any) ([]Transaction, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// SumByCategory totals spend per category for dates within [from, to].
func (s *Store) SumByCategory(ctx context.Context, userID string, from, to time.Time) (map[string]float64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT category, SUM(amount_cents) FROM transactions
		 WHERE user_id = ? AND date >= ? AND date <= ?
		 GROUP BY category`,
		userID, from.Format(DateLayout), to.Format(DateLayout))
	if err != nil {
		return nil, fmt.Errorf("sum by category: %w", err)
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var (
			category string
			cents    int64
		)
		if err := rows.Scan(&category, &cents); err != nil {
			return nil, err
		}
		out[category] = fromCents(cents)
	}
	return out, rows.Err()
}

// DailyTotals returns per-day spend within [from, to], ascending. Days without spend are omitted.
func (s *Store) DailyTotals(ctx context.Context, userID string, from, to time.Time) ([]DailyTotal, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT date, SUM(amount_cents) FROM transactions
		 WHERE user_id = ? AND date >= ? AND date <= ?
		 GROUP BY date ORDER BY date ASC`,
		userID, from.Format(DateLayout), to.Format(DateLayout))
	if err != nil {
		return nil, fmt.Errorf("daily totals: %w", err)
	}
	defer rows.Close()

	var out []DailyTotal
	for rows.Next() {
		var (
			date  string
			cents int64
		)
		if err := rows.Scan(&date, &cents); err != nil {
			return nil, err
		}
		d, err := time.Parse(DateLayout, date)
		if err != nil {
			return nil, fmt.Errorf("malformed date %q: %w", date, err)
		}
		out = append(out, DailyTotal{Date: d, Total: fromCents(cents)})
	}
	return out, rows.Err()
}

// SetBudget upserts the monthly limit for a category.
func (s *Store) SetBudget(ctx context.Context, userID, category string, monthlyLimit float64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO budgets (user_id, category, monthly_limit_cents, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (user_id, category) DO UPDATE SET
		   monthly_limit_cents = excluded.monthly_limit_cents,
		   updated_at = excluded.updated_at`,
		userID, category, toCents(monthlyLimit), s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("set budget: %w", err)
	}
	return nil
}

// Budgets returns the user's monthly limits keyed by category.
func (s *Store) Budgets(ctx context.Context, userID string) (map[string]float64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT category, monthly_limit_cents FROM budgets WHERE user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("list budgets: %w", err)
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var (
			category string
			cents    int64
		)
		if err := rows.Scan(&category, &cents); err != nil {
			return nil, err
		}
		out[category] = fromCents(cents)
	}
	return out, rows.Err()
}
