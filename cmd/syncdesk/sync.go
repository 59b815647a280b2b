package main

import (
	"fmt"

	"github.com/hyperengineering/syncdesk/internal/statesync"
	"github.com/spf13/cobra"
)

var (
	syncStrict   bool
	syncFoldCase bool
	syncSort     string
)

var syncCmd = &cobra.Command{
	Use:   "sync <freshdesk-export> <clarity-export>",
	Short: "Push Freshdesk ticket states to the Clarity mirror field",
	Long: `Compare a Freshdesk ticket export with a Clarity task export, show the
differences, and after confirmation update the Clarity mirror status of every
ticket whose mapped state differs. Every run is journaled as a transaction.`,
	Args: cobra.ExactArgs(2),
	RunE: runSync,
}

func init() {
	syncCmd.Flags().BoolVar(&syncStrict, "strict", false,
		"Fail when a row has an unmapped state or no counterpart (overrides sync.strict)")
	syncCmd.Flags().BoolVar(&syncFoldCase, "fold-case", false,
		"Compare states ignoring case and accents (overrides sync.fold_case)")
	syncCmd.Flags().StringVar(&syncSort, "sort", "count",
		"Summary order: count, current or proposed")
}

func runSync(cmd *cobra.Command, args []string) error {
	cfg := app.cfg
	out := cmd.OutOrStdout()

	source, err := loadTable(args[0], statesync.ColumnTicketID)
	if err != nil {
		return err
	}
	target, err := loadTable(args[1], statesync.ColumnID, statesync.ColumnMirrorStatus)
	if err != nil {
		return err
	}

	cl, err := newClarity(cfg, out)
	if err != nil {
		return err
	}
	j, err := openJournal(cfg)
	if err != nil {
		return err
	}
	defer j.Close()

	ctx, cancel := signalContext()
	defer cancel()

	presenter := statesync.NewPresenter(out)
	presenter.SortBy = statesync.ParseSortKey(syncSort)
	presenter.DetailLimit = cfg.Sync.DetailLimit

	orch := &statesync.Orchestrator{
		Recorder:  j.recorder(),
		Resolve:   statesync.ClarityResolver(cl),
		Update:    statesync.ClarityUpdater(cl),
		Prompter:  statesync.NewLinePrompter(stdin, out),
		Presenter: presenter,
		Rules:     statesync.DefaultTargetRules(),
		Options: statesync.Options{
			Strict:    cfg.Sync.Strict || syncStrict,
			FoldCase:  cfg.Sync.FoldCase || syncFoldCase,
			ExportDir: cfg.Paths.ExportDir,
		},
		Logger: app.logger,
	}

	rep, err := orch.Run(ctx, statesync.Input{Source: source, Target: target})
	if err != nil {
		return fmt.Errorf("sync %s: %w", rep.TransactionID, err)
	}
	return nil
}
