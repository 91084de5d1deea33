package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	ports "github.com/ZanzyTHEbar/fincopilot/fincopilot/harness/ports"
	"github.com/ZanzyTHEbar/fincopilot/fincopilot/learning"
	"github.com/ZanzyTHEbar/fincopilot/fincopilot/store"
	"github.com/ZanzyTHEbar/fincopilot/fincopilot/validation"
)

// Where a written category came from.
const (
	CategoryFromModel      = "model"
	CategoryFromUserRule   = "learned_user_rule"
	CategoryFromGlobalRule = "learned_global_rule"
)

// WriteResult is returned by every write tool. Refused writes carry Errors and Success=false.
type WriteResult struct {
	Success        bool               `json:"success"`
	Transaction    *store.Transaction `json:"transaction,omitempty"`
	CategorySource string             `json:"category_source,omitempty"`
	Errors         []validation.Issue `json:"errors,omitempty"`
	Warnings       []validation.Issue `json:"warnings,omitempty"`
	Message        string             `json:"message,omitempty"`
}

// Refused reports a write that validation turned down.
func (r WriteResult) Refused() bool { return !r.Success }

// CreateTransactionArgs is a new expense.
type CreateTransactionArgs struct {
	Amount   float64 `json:"amount"`
	Concept  string  `json:"concept"`
	Category string  `json:"category"`
	Date     string  `json:"date,omitempty"`
}

func (CreateTransactionArgs) ToolName() string { return "createTransaction" }

func CreateTransaction(d Deps) ports.Tool {
	return &typedTool[CreateTransactionArgs]{
		spec: ports.ToolSpec{
			Name:        "createTransaction",
			Description: "Record a new expense. Date defaults to today.",
			JSONSchema: []byte(`{
				"type": "object",
				"properties": {
					"amount": {"type": "number", "description": "Amount in euros."},
					"concept": {"type": "string", "description": "Merchant or short description."},
					"category": {"type": "string", "enum": ["supervivencia", "opcional", "cultura", "extra"]},
					"date": {"type": "string", "description": "YYYY-MM-DD"}
				},
				"required": ["amount", "concept", "category"],
				"additionalProperties": false
			}`),
			Mutates: true,
		},
		run: func(ctx context.Context, userID string, args CreateTransactionArgs) (any, error) {
			concept := strings.TrimSpace(args.Concept)
			date := strings.TrimSpace(args.Date)
			if date == "" {
				date = d.today().Format(store.DateLayout)
			}

			category, source := args.Category, CategoryFromModel
			if d.Learning != nil {
				suggestion, err := d.Learning.SuggestCategory(ctx, userID, concept)
				if err != nil {
					d.Logger.Warn().Err(err).Str("user_id", userID).Msg("category suggestion failed")
				} else if d.Learning.Accepts(suggestion) && suggestion.Category != category {
					category = suggestion.Category
					source = CategoryFromGlobalRule
					if suggestion.Source == learning.SourceUserRule {
						source = CategoryFromUserRule
					}
				}
			}

			check := d.Validator.Validate(ctx, validation.Candidate{
				UserID:  userID,
				Amount:  args.Amount,
				Concept: concept,
				Date:    date,
			})
			if !check.Valid {
				return WriteResult{Errors: check.Errors, Warnings: check.Warnings, Message: check.ErrorText()}, nil
			}

			day, err := time.Parse(store.DateLayout, date)
			if err != nil {
				return nil, err
			}
			t := &store.Transaction{
				UserID:   userID,
				Amount:   args.Amount,
				Concept:  concept,
				Category: category,
				Date:     day,
			}
			if err := d.Store.InsertTransaction(ctx, t); err != nil {
				return nil, err
			}
			return WriteResult{Success: true, Transaction: t, CategorySource: source, Warnings: check.Warnings}, nil
		},
	}
}

// UpdateTransactionCategoryArgs is a category correction.
type UpdateTransactionCategoryArgs struct {
	TransactionID string `json:"transaction_id"`
	Category      string `json:"category"`
}

func (UpdateTransactionCategoryArgs) ToolName() string { return "updateTransactionCategory" }

func UpdateTransactionCategory(d Deps) ports.Tool {
	return &typedTool[UpdateTransactionCategoryArgs]{
		spec: ports.ToolSpec{
			Name:        "updateTransactionCategory",
			Description: "Change the category of an existing expense. The correction is remembered for that merchant.",
			JSONSchema: []byte(`{
				"type": "object",
				"properties": {
					"transaction_id": {"type": "string", "minLength": 1},
					"category": {"type": "string", "enum": ["supervivencia", "opcional", "cultura", "extra"]}
				},
				"required": ["transaction_id", "category"],
				"additionalProperties": false
			}`),
			Mutates: true,
		},
		run: func(ctx context.Context, userID string, args UpdateTransactionCategoryArgs) (any, error) {
			before, err := d.Store.UpdateTransactionCategory(ctx, userID, args.TransactionID, args.Category)
			if errors.Is(err, store.ErrNotFound) {
				return nil, fmt.Errorf("transaction %s not found", args.TransactionID)
			}
			if err != nil {
				return nil, err
			}

			after := before
			after.Category = args.Category
			out := map[string]any{
				"success":           true,
				"transaction":       after,
				"previous_category": before.Category,
			}

			if d.Learning != nil {
				learned, err := d.Learning.Learn(ctx, userID, before.Concept, before.Category, args.Category)
				if err != nil {
					d.Logger.Warn().Err(err).Str("user_id", userID).Str("transaction_id", args.TransactionID).Msg("learning from correction failed")
				} else if learned.UserRuleUpdated {
					out["learned_merchant"] = learned.MerchantKey
				}
			}
			return out, nil
		},
	}
}

// DeleteTransactionArgs identifies the expense to remove.
type DeleteTransactionArgs struct {
	TransactionID string `json:"transaction_id"`
}

func (DeleteTransactionArgs) ToolName() string { return "deleteTransaction" }

func DeleteTransaction(d Deps) ports.Tool {
	return &typedTool[DeleteTransactionArgs]{
		spec: ports.ToolSpec{
			Name:        "deleteTransaction",
			Description: "Delete an expense. The user is asked to confirm first.",
			JSONSchema: []byte(`{
				"type": "object",
				"properties": {
					"transaction_id": {"type": "string", "minLength": 1}
				},
				"required": ["transaction_id"],
				"additionalProperties": false
			}`),
			Mutates:              true,
			RequiresConfirmation: true,
		},
		run: func(ctx context.Context, userID string, args DeleteTransactionArgs) (any, error) {
			if err := d.Store.DeleteTransaction(ctx, userID, args.TransactionID); err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return nil, fmt.Errorf("transaction %s not found", args.TransactionID)
				}
				return nil, err
			}
			return map[string]any{"success": true, "deleted": args.TransactionID}, nil
		},
		describe: func(args DeleteTransactionArgs) string {
			return fmt.Sprintf("Delete expense %s", args.TransactionID)
		},
	}
}

// SetBudgetArgs sets a monthly limit for a category.
type SetBudgetArgs struct {
	Category     string  `json:"category"`
	MonthlyLimit float64 `json:"monthly_limit"`
}

func (SetBudgetArgs) ToolName() string { return "setBudget" }

func SetBudget(d Deps) ports.Tool {
	return &typedTool[SetBudgetArgs]{
		spec: ports.ToolSpec{
			Name:        "setBudget",
			Description: "Set the monthly budget for a category. The user is asked to confirm first.",
			JSONSchema: []byte(`{
				"type": "object",
				"properties": {
					"category": {"type": "string", "enum": ["supervivencia", "opcional", "cultura", "extra"]},
					"monthly_limit": {"type": "number", "minimum": 0.01}
				},
				"required": ["category", "monthly_limit"],
				"additionalProperties": false
			}`),
			Mutates:              true,
			RequiresConfirmation: true,
		},
		run: func(ctx context.Context, userID string, args SetBudgetArgs) (any, error) {
			if err := d.Store.SetBudget(ctx, userID, args.Category, args.MonthlyLimit); err != nil {
				return nil, err
			}
			return map[string]any{"success": true, "category": args.Category, "monthly_limit": round2(args.MonthlyLimit)}, nil
		},
		describe: func(args SetBudgetArgs) string {
			return fmt.Sprintf("Set the monthly %s budget to %.2f €", args.Category, args.MonthlyLimit)
		},
	}
}
