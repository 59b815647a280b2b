package main

import (
	"context"

	"github.com/hyperengineering/syncdesk/internal/report"
	"github.com/hyperengineering/syncdesk/internal/statesync"
	"github.com/spf13/cobra"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Export helpdesk reports as spreadsheets",
}

var reportUntaggedCmd = &cobra.Command{
	Use:   "untagged",
	Short: "Tickets without any tag",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runReport(cmd, "tickets without tags", (*report.Builder).WriteUntagged)
	},
}

var reportCompaniesCmd = &cobra.Command{
	Use:   "companies",
	Short: "All companies",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runReport(cmd, "companies", (*report.Builder).WriteCompanies)
	},
}

func init() {
	reportCmd.AddCommand(reportUntaggedCmd)
	reportCmd.AddCommand(reportCompaniesCmd)
}

func runReport(cmd *cobra.Command, what string, write func(*report.Builder, context.Context) (string, int, error)) error {
	cfg := app.cfg
	out := cmd.OutOrStdout()
	p := statesync.NewPresenter(out)

	fd, err := newFreshdesk(cfg, out)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	b := &report.Builder{
		Lister:  fd,
		BaseURL: cfg.Freshdesk.BaseURL(),
		Dir:     cfg.Paths.ExportDir,
		Logger:  app.logger,
	}
	p.Section("Report: " + what)
	path, n, err := write(b, ctx)
	if err != nil {
		return err
	}
	if n == 0 {
		p.Success("Nothing to report")
		return nil
	}
	p.Success("%d %s written to %s", n, what, path)
	return nil
}
