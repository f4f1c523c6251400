package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the catalog and run-log tables",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("migrate"); err != nil {
			return err
		}

		st, err := initStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		_, closeSink, err := initRunLog(ctx, cfg, st)
		if err != nil {
			return err
		}
		if closeSink != nil {
			closeSink()
		}

		zap.L().Info("migrations applied", zap.String("runlog", cfg.RunLog.Driver))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
