package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"sarathi/internal/auth"
)

var (
	collectorName  string
	collectorPhone string
	tokenTTL       time.Duration
	tokenKind      string
	tokenName      string
)

var collectorCmd = &cobra.Command{
	Use:   "collector",
	Short: "Onboard collectors",
}

var collectorAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register a collector and print its access token",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := bootstrap(cmd.Context(), cfg, newLogger(cfg), false)
		if err != nil {
			return err
		}
		defer a.Close()

		c, err := a.svc.RegisterCollector(cmd.Context(), collectorName, collectorPhone)
		if err != nil {
			return err
		}
		token, err := auth.IssueToken(cfg.Auth.JWTSecret, auth.Principal{ID: c.ID, Name: c.Name, Kind: auth.KindCollector}, tokenTTL)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "collector %s registered (approval pending)\ntoken: %s\n", c.ID, token)
		return nil
	},
}

var collectorApproveCmd = &cobra.Command{
	Use:   "approve <collector-id>",
	Short: "Approve a registered collector for assignments",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := bootstrap(cmd.Context(), cfg, newLogger(cfg), false)
		if err != nil {
			return err
		}
		defer a.Close()

		c, err := a.svc.ApproveCollector(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "collector %s (%s) approved\n", c.ID, c.Name)
		return nil
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token <subject-id>",
	Short: "Issue an access token for a citizen, collector or admin",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		token, err := auth.IssueToken(cfg.Auth.JWTSecret, auth.Principal{ID: args[0], Name: tokenName, Kind: tokenKind}, tokenTTL)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	collectorAddCmd.Flags().StringVar(&collectorName, "name", "", "collector display name")
	collectorAddCmd.Flags().StringVar(&collectorPhone, "phone", "", "collector phone number")
	_ = collectorAddCmd.MarkFlagRequired("name")
	_ = collectorAddCmd.MarkFlagRequired("phone")
	collectorAddCmd.Flags().DurationVar(&tokenTTL, "ttl", 30*24*time.Hour, "token lifetime")

	tokenCmd.Flags().StringVar(&tokenKind, "kind", auth.KindCitizen, "principal kind: citizen, collector or admin")
	tokenCmd.Flags().StringVar(&tokenName, "name", "", "display name")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 30*24*time.Hour, "token lifetime")

	collectorCmd.AddCommand(collectorAddCmd, collectorApproveCmd)
	rootCmd.AddCommand(collectorCmd, tokenCmd)
}
