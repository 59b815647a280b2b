package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hyperengineering/syncdesk/internal/txlog"
	"github.com/hyperengineering/syncdesk/internal/worker"
	"github.com/spf13/cobra"
)

var (
	txJSONOutput bool
	txProcess    string
	txStatus     string
	txLimit      int
	txShowEvents bool
	txReplay     bool
	txOlderThan  time.Duration
)

var txCmd = &cobra.Command{
	Use:   "tx",
	Short: "Inspect recorded transactions",
}

var txListCmd = &cobra.Command{
	Use:   "list",
	Short: "List transactions, newest first",
	Args:  cobra.NoArgs,
	RunE:  runTxList,
}

var txShowCmd = &cobra.Command{
	Use:   "show <transaction-id>",
	Short: "Show one transaction with its changes",
	Args:  cobra.ExactArgs(1),
	RunE:  runTxShow,
}

var txSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Fail transactions left STARTED by an interrupted process",
	Args:  cobra.NoArgs,
	RunE:  runTxSweep,
}

func init() {
	txCmd.PersistentFlags().BoolVar(&txJSONOutput, "json", false, "Output in JSON format")

	txListCmd.Flags().StringVar(&txProcess, "process", "", "Filter by process type (SYNC_STATES, NOTES, TAGS)")
	txListCmd.Flags().StringVar(&txStatus, "status", "", "Filter by status")
	txListCmd.Flags().IntVar(&txLimit, "limit", 20, "Maximum rows")

	txShowCmd.Flags().BoolVar(&txShowEvents, "events", false, "Show the raw event log")
	txShowCmd.Flags().BoolVar(&txReplay, "replay", false, "Rebuild the view from events instead of reading the stored view")

	txSweepCmd.Flags().DurationVar(&txOlderThan, "older-than", 0, "Inactivity threshold (overrides server.stale_after)")

	txCmd.AddCommand(txListCmd)
	txCmd.AddCommand(txShowCmd)
	txCmd.AddCommand(txSweepCmd)
}

func runTxList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	j, err := openJournal(app.cfg)
	if err != nil {
		return err
	}
	defer j.Close()

	list, err := j.db.List(ctx, txlog.ListFilter{
		ProcessType: strings.ToUpper(txProcess),
		Status:      txlog.Status(strings.ToUpper(txStatus)),
		Limit:       txLimit,
	})
	if err != nil {
		return fmt.Errorf("list transactions: %w", err)
	}

	if txJSONOutput {
		if list == nil {
			list = []txlog.Summary{}
		}
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"transactions": list,
			"total":        len(list),
		})
	}

	if len(list) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No transactions found.")
		return nil
	}

	w := newTabWriter(cmd.OutOrStdout())
	fmt.Fprintln(w, "ID\tSTATUS\tSTARTED\tCHANGES\tOK\tFAILED")
	for _, s := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\n",
			s.ID,
			s.Status,
			s.StartedAt.Local().Format("2006-01-02 15:04"),
			s.Changes,
			s.Successes,
			s.Failures,
		)
	}
	return w.Flush()
}

func runTxShow(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	id := args[0]

	j, err := openJournal(app.cfg)
	if err != nil {
		return err
	}
	defer j.Close()

	if txShowEvents {
		events, err := j.db.Events(ctx, id)
		if err != nil {
			return fmt.Errorf("transaction %s: %w", id, err)
		}
		if txJSONOutput {
			return printJSON(cmd.OutOrStdout(), events)
		}
		w := newTabWriter(cmd.OutOrStdout())
		fmt.Fprintln(w, "SEQ\tKIND\tAT\tPAYLOAD")
		for _, ev := range events {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", ev.Seq, ev.Kind, ev.At.Local().Format("2006-01-02 15:04:05"), string(ev.Payload))
		}
		return w.Flush()
	}

	var tx *txlog.Transaction
	if txReplay {
		tx, err = j.db.Replay(ctx, id)
	} else {
		tx, err = j.db.Get(ctx, id)
	}
	if err != nil {
		return fmt.Errorf("transaction %s: %w", id, err)
	}

	if txJSONOutput {
		return printJSON(cmd.OutOrStdout(), tx)
	}

	out := cmd.OutOrStdout()
	_, ok, failed := tx.Counts()
	fmt.Fprintf(out, "Transaction: %s\n", tx.ID)
	fmt.Fprintf(out, "Process:     %s\n", tx.ProcessType)
	fmt.Fprintf(out, "Status:      %s\n", tx.Status)
	fmt.Fprintf(out, "Started:     %s\n", tx.Timestamp.Local().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(out, "Changes:     %d (%d ok, %d failed)\n", len(tx.Changes), ok, failed)
	for _, c := range []*txlog.Closure{tx.Completion, tx.Failure, tx.Cancellation} {
		if c != nil && c.Reason != "" {
			fmt.Fprintf(out, "Reason:      %s\n", c.Reason)
		}
	}
	if len(tx.Changes) == 0 {
		return nil
	}

	fmt.Fprintln(out)
	w := newTabWriter(out)
	fmt.Fprintln(w, "TICKET\tFIELD\tOLD\tNEW\tSTATUS\tERROR")
	for _, c := range tx.Changes {
		errMsg := c.Error
		if errMsg == "" {
			errMsg = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", c.TicketID, c.Field, c.OldValue, c.NewValue, c.Status, errMsg)
	}
	return w.Flush()
}

func runTxSweep(cmd *cobra.Command, args []string) error {
	cfg := app.cfg
	maxAge := cfg.Server.StaleAfter.Std()
	if txOlderThan > 0 {
		maxAge = txOlderThan
	}
	if maxAge <= 0 {
		return fmt.Errorf("inactivity threshold must be positive")
	}

	j, err := openJournal(cfg)
	if err != nil {
		return err
	}
	defer j.Close()

	sweeper := worker.NewStaleSweeper(j.db, []txlog.Sink{j.files, j.db}, maxAge, maxAge, app.logger)
	n, err := sweeper.Sweep(context.Background())
	if err != nil {
		return err
	}
	if txJSONOutput {
		return printJSON(cmd.OutOrStdout(), map[string]any{"failed": n})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d stale transactions failed.\n", n)
	return nil
}
