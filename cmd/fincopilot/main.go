package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ZanzyTHEbar/fincopilot/fincopilot/harness"
	"github.com/ZanzyTHEbar/fincopilot/fincopilot/harness/tools"
)

var (
	configPath string
	userFlag   string
	message    string

	budgetCategory string
	budgetLimit    float64

	ruleMerchant string
	ruleCategory string
	ruleVotes    int
)

var rootCmd = &cobra.Command{
	Use:           "fincopilot",
	Short:         "fincopilot - Kakebo finance assistant",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive streaming conversation",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		return runChat(cmd.Context(), a.orchestrator, userFlag, os.Stdin, os.Stdout)
	},
}

var askCmd = &cobra.Command{
	Use:   "ask",
	Short: "Send a single message and print the reply with metrics",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.orchestrator.Run(cmd.Context(), harness.TurnRequest{UserID: userFlag, Message: message})
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, res.Reply)
		out, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, string(out))
		return nil
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		a.logger.Info().Str("path", a.cfg.App.DatabasePath).Msg("database migrated")
		return nil
	},
}

var budgetCmd = &cobra.Command{
	Use:   "budget",
	Short: "Manage monthly budgets",
}

var budgetSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Set a monthly budget for a category",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !tools.IsCategory(budgetCategory) {
			return fmt.Errorf("unknown category %q; use one of %v", budgetCategory, tools.Categories)
		}
		if budgetLimit <= 0 {
			return fmt.Errorf("limit must be positive")
		}
		a, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		if err := a.store.SetBudget(cmd.Context(), userFlag, budgetCategory, budgetLimit); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Budget for %s set to %.2f €\n", budgetCategory, budgetLimit)
		return nil
	},
}

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Administer global merchant rules",
}

var rulesSeedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Install a global merchant rule with an initial vote count",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !tools.IsCategory(ruleCategory) {
			return fmt.Errorf("unknown category %q; use one of %v", ruleCategory, tools.Categories)
		}
		a, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		if err := a.store.SeedGlobalRule(cmd.Context(), ruleMerchant, ruleCategory, ruleVotes); err != nil {
			return err
		}
		a.logger.Info().Str("merchant", ruleMerchant).Str("category", ruleCategory).Int("votes", ruleVotes).Msg("global rule seeded")
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a config file")

	chatCmd.Flags().StringVarP(&userFlag, "user", "u", "", "User id")
	_ = chatCmd.MarkFlagRequired("user")

	askCmd.Flags().StringVarP(&userFlag, "user", "u", "", "User id")
	askCmd.Flags().StringVarP(&message, "message", "m", "", "Message to send")
	_ = askCmd.MarkFlagRequired("user")
	_ = askCmd.MarkFlagRequired("message")

	budgetSetCmd.Flags().StringVarP(&userFlag, "user", "u", "", "User id")
	budgetSetCmd.Flags().StringVar(&budgetCategory, "category", "", "Kakebo category")
	budgetSetCmd.Flags().Float64Var(&budgetLimit, "limit", 0, "Monthly limit in euros")
	_ = budgetSetCmd.MarkFlagRequired("user")
	_ = budgetSetCmd.MarkFlagRequired("category")
	_ = budgetSetCmd.MarkFlagRequired("limit")
	budgetCmd.AddCommand(budgetSetCmd)

	rulesSeedCmd.Flags().StringVar(&ruleMerchant, "merchant", "", "Merchant key")
	rulesSeedCmd.Flags().StringVar(&ruleCategory, "category", "", "Kakebo category")
	rulesSeedCmd.Flags().IntVar(&ruleVotes, "votes", 3, "Initial vote count")
	_ = rulesSeedCmd.MarkFlagRequired("merchant")
	_ = rulesSeedCmd.MarkFlagRequired("category")
	rulesCmd.AddCommand(rulesSeedCmd)

	rootCmd.AddCommand(chatCmd, askCmd, migrateCmd, budgetCmd, rulesCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
