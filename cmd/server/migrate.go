package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"sarathi/internal/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage database migrations",
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "List applied migration versions",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		d, err := db.Open(cfg.Database.Path)
		if err != nil {
			return err
		}
		defer d.Close()
		versions, err := db.AppliedVersions(d)
		if err != nil {
			return err
		}
		for _, v := range versions {
			fmt.Fprintf(cmd.OutOrStdout(), "%04d\n", v)
		}
		return nil
	},
}

var migrateRollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Roll back the most recently applied migration",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		d, err := db.Open(cfg.Database.Path)
		if err != nil {
			return err
		}
		defer d.Close()
		v, err := db.RollbackLast(d)
		if err != nil {
			return err
		}
		if v == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "nothing to roll back")
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "rolled back %04d\n", v)
		return nil
	},
}

func init() {
	migrateCmd.AddCommand(migrateStatusCmd, migrateRollbackCmd)
	rootCmd.AddCommand(migrateCmd)
}
