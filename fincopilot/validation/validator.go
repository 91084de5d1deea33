// Package validation checks candidate transactions before they are written.
package validation

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/ZanzyTHEbar/fincopilot/fincopilot/store"
	"github.com/ZanzyTHEbar/fincopilot/fincopilot/textnorm"
)

// Issue codes.
const (
	CodeAmountNotPositive = "amount_not_positive"
	CodeAmountTooLarge    = "amount_too_large"
	CodeAmountSuspicious  = "amount_suspicious"
	CodeAmountPrecision   = "amount_precision"
	CodeDateInvalid       = "date_invalid"
	CodeDateTooFar        = "date_too_far_in_future"
	CodeDateFuture        = "date_in_future"
	CodeDateOld           = "date_old"
	CodeConceptTooShort   = "concept_too_short"
	CodeConceptGeneric    = "concept_generic"
	CodeConceptNumeric    = "concept_numeric"
	CodeDuplicate         = "duplicate"
	CodePossibleDuplicate = "possible_duplicate"
)

// Limits are the validator thresholds.
type Limits struct {
	MaxAmount          float64
	SuspiciousAmount   float64
	MaxFutureDays      int
	PastWarningDays    int
	MinConceptLength   int
	DuplicateWindow    time.Duration
	NearDuplicateRatio float64
}

func DefaultLimits() Limits {
	return Limits{
		MaxAmount:          10000,
		SuspiciousAmount:   1000,
		MaxFutureDays:      7,
		PastWarningDays:    365,
		MinConceptLength:   2,
		DuplicateWindow:    24 * time.Hour,
		NearDuplicateRatio: 0.10,
	}
}

// Candidate is a write about to be persisted. Date uses store.DateLayout.
type Candidate struct {
	UserID  string
	Amount  float64
	Concept string
	Date    string
}

// Issue is one finding, phrased for the end user.
type Issue struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Result is Valid iff Errors is empty. Warnings never block a write.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// ErrorText joins the error messages for display.
func (r Result) ErrorText() string {
	msgs := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		msgs[i] = e.Message
	}
	return strings.Join(msgs, " ")
}

func (r *Result) fail(field, code, format string, args ...any) {
	r.Errors = append(r.Errors, Issue{Field: field, Code: code, Message: fmt.Sprintf(format, args...)})
}

func (r *Result) warn(field, code, format string, args ...any) {
	r.Warnings = append(r.Warnings, Issue{Field: field, Code: code, Message: fmt.Sprintf(format, args...)})
}

// DuplicateFinder returns the user's writes created since a point in time within an amount range.
type DuplicateFinder interface {
	RecentByAmount(ctx context.Context, userID string, since time.Time, minAmount, maxAmount float64) ([]store.Transaction, error)
}

// Concepts that say nothing about the expense.
var genericConcepts = map[string]bool{
	"gasto": true, "gastos": true, "compra": true, "pago": true, "varios": true,
	"otros": true, "cosas": true, "test": true, "prueba": true, "nada": true,
	"expense": true, "purchase": true, "payment": true, "misc": true, "stuff": true,
}

// Validator gates writes. A nil finder disables duplicate detection.
type Validator struct {
	limits Limits
	finder DuplicateFinder
	now    func() time.Time
	logger zerolog.Logger
}

func NewValidator(limits Limits, finder DuplicateFinder, logger zerolog.Logger) *Validator {
	return &Validator{limits: limits, finder: finder, now: time.Now, logger: logger}
}

// WithClock swaps the time source.
func (v *Validator) WithClock(now func() time.Time) *Validator {
	v.now = now
	return v
}

// Limits returns the configured thresholds.
func (v *Validator) Limits() Limits { return v.limits }

// Validate runs every check. Duplicate lookup failures are logged and skipped.
func (v *Validator) Validate(ctx context.Context, c Candidate) Result {
	var res Result
	now := v.now()

	v.checkAmount(&res, c.Amount)
	date, dateOK := v.checkDate(&res, c.Date, now)
	v.checkConcept(&res, c.Concept)

	if len(res.Errors) == 0 && dateOK && v.finder != nil {
		v.checkDuplicates(ctx, &res, c, date, now)
	}

	res.Valid = len(res.Errors) == 0
	return res
}

func (v *Validator) checkAmount(res *Result, amount float64) {
	switch {
	case math.IsNaN(amount) || math.IsInf(amount, 0) || amount <= 0:
		res.fail("amount", CodeAmountNotPositive, "The amount must be greater than zero.")
		return
	case amount > v.limits.MaxAmount:
		res.fail("amount", CodeAmountTooLarge, "The amount %.2f exceeds the maximum of %.2f.", amount, v.limits.MaxAmount)
		return
	case amount > v.limits.SuspiciousAmount:
		res.warn("amount", CodeAmountSuspicious, "%.2f is an unusually large amount; please double-check it.", amount)
	}

	if cents := amount * 100; math.Abs(cents-math.Round(cents)) > 1e-6 {
		res.warn("amount", CodeAmountPrecision, "The amount has more than two decimals and will be rounded to %.2f.", amount)
	}
}

func (v *Validator) checkDate(res *Result, raw string, now time.Time) (time.Time, bool) {
	date, err := time.Parse(store.DateLayout, strings.TrimSpace(raw))
	if err != nil {
		res.fail("date", CodeDateInvalid, "The date %q is not valid; use YYYY-MM-DD.", raw)
		return time.Time{}, false
	}

	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	days := int(date.Sub(today).Hours() / 24)

	switch {
	case days > v.limits.MaxFutureDays:
		res.fail("date", CodeDateTooFar, "The date %s is more than %d days in the future.", raw, v.limits.MaxFutureDays)
		return date, false
	case days > 0:
		res.warn("date", CodeDateFuture, "The date %s is in the future.", raw)
	case -days > v.limits.PastWarningDays:
		res.warn("date", CodeDateOld, "The date %s is more than %d days ago.", raw, v.limits.PastWarningDays)
	}
	return date, true
}

func (v *Validator) checkConcept(res *Result, concept string) {
	trimmed := strings.TrimSpace(concept)
	if utf8.RuneCountInString(trimmed) < max(v.limits.MinConceptLength, 1) {
		res.fail("concept", CodeConceptTooShort, "The concept must have at least %d characters.", max(v.limits.MinConceptLength, 1))
		return
	}

	if genericConcepts[textnorm.Fold(trimmed)] {
		res.warn("concept", CodeConceptGeneric, "%q is very generic; a merchant or description helps categorise it.", trimmed)
	}
	if !strings.ContainsFunc(trimmed, func(r rune) bool { return !unicode.IsDigit(r) }) {
		res.warn("concept", CodeConceptNumeric, "The concept %q only contains digits.", trimmed)
	}
}

func (v *Validator) checkDuplicates(ctx context.Context, res *Result, c Candidate, date time.Time, now time.Time) {
	ratio := v.limits.NearDuplicateRatio
	recent, err := v.finder.RecentByAmount(ctx, c.UserID, now.Add(-v.limits.DuplicateWindow),
		c.Amount*(1-ratio), c.Amount*(1+ratio))
	if err != nil {
		v.logger.Warn().Err(err).Str("user_id", c.UserID).Msg("duplicate lookup failed")
		return
	}

	day := date.Format(store.DateLayout)
	concept := textnorm.Fold(c.Concept)
	cents := math.Round(c.Amount * 100)

	var near *store.Transaction
	for i := range recent {
		t := &recent[i]
		if t.Date.Format(store.DateLayout) != day {
			continue
		}
		if math.Round(t.Amount*100) == cents && textnorm.Fold(t.Concept) == concept {
			res.warn("concept", CodeDuplicate, "This looks like a duplicate of %q (%.2f) recorded %s.",
				t.Concept, t.Amount, formatAge(now.Sub(t.CreatedAt)))
			return
		}
		if near == nil {
			near = t
		}
	}
	if near != nil {
		res.warn("amount", CodePossibleDuplicate, "A similar expense %q (%.2f) was recorded for the same day %s.",
			near.Concept, near.Amount, formatAge(now.Sub(near.CreatedAt)))
	}
}

func formatAge(d time.Duration) string {
	switch {
	case d < time.Minute:
		return "moments ago"
	case d < time.Hour:
		return fmt.Sprintf("%d minutes ago", int(d.Minutes()))
	default:
		return fmt.Sprintf("%d hours ago", int(d.Hours()))
	}
}
