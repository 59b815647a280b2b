package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hyperengineering/syncdesk/internal/notes"
	"github.com/hyperengineering/syncdesk/internal/statesync"
	"github.com/spf13/cobra"
)

var (
	notesAgentsFile string
	notesAuto       bool
	notesDryRun     bool
	notesMinDays    int
)

var notesCmd = &cobra.Command{
	Use:   "notes <tickets-file>",
	Short: "Send private reminder notes on inactive tickets",
	Args:  cobra.ExactArgs(1),
	RunE:  runNotes,
}

func init() {
	notesCmd.Flags().StringVar(&notesAgentsFile, "agents", "",
		"Agents file with columns ID, Agente, MAIL (overrides notes.agents_file)")
	notesCmd.Flags().BoolVar(&notesAuto, "auto", false,
		"Send without asking for each ticket")
	notesCmd.Flags().BoolVar(&notesDryRun, "dry-run", false,
		"Show the notes without sending them")
	notesCmd.Flags().IntVar(&notesMinDays, "min-days", -1,
		"Minimum days without activity (overrides notes.min_inactive_days)")
}

func runNotes(cmd *cobra.Command, args []string) error {
	cfg := app.cfg
	out := cmd.OutOrStdout()
	p := statesync.NewPresenter(out)

	tickets, err := loadTable(args[0], notes.ColumnTicketID)
	if err != nil {
		return err
	}
	ids, err := notes.TicketIDs(tickets)
	if err != nil {
		return err
	}

	agentsPath := cfg.Notes.AgentsFile
	if notesAgentsFile != "" {
		agentsPath = notesAgentsFile
	}
	if agentsPath == "" {
		return errors.New("no agents file: pass --agents or set notes.agents_file")
	}
	agentsTable, err := loadTable(agentsPath, notes.ColumnAgentName)
	if err != nil {
		return err
	}
	agents, err := notes.LoadAgents(agentsTable)
	if err != nil {
		return err
	}

	fd, err := newFreshdesk(cfg, out)
	if err != nil {
		return err
	}

	minDays := cfg.Notes.MinInactiveDays
	if notesMinDays >= 0 {
		minDays = notesMinDays
	}
	job := &notes.Job{
		Tickets:         fd,
		Agents:          agents,
		MinInactiveDays: minDays,
		NotifyEmails:    cfg.Notes.NotifyEmails,
		DryRun:          notesDryRun,
		Logger:          app.logger,
	}
	if !notesDryRun {
		j, err := openJournal(cfg)
		if err != nil {
			return err
		}
		defer j.Close()
		job.Recorder = j.recorder()
	}
	prompter := statesync.NewLinePrompter(stdin, out)
	if !notesAuto {
		job.Confirm = func(ctx context.Context, d notes.Draft) (bool, error) {
			names := make([]string, len(d.Agents))
			for i, a := range d.Agents {
				names[i] = a.Name
			}
			p.Section("Ticket " + d.TicketID)
			p.Info("Agents: %s", strings.Join(names, ", "))
			p.Info("Emails: %s", strings.Join(d.Emails, ", "))
			p.Info("Message:\n%s", d.Body)
			return prompter.Confirm(ctx, "Send this internal note?")
		}
	}

	ctx, cancel := signalContext()
	defer cancel()

	p.Section(fmt.Sprintf("Processing %d tickets", len(ids)))
	sum, err := job.Run(ctx, ids)
	if err != nil {
		return err
	}

	p.Section("Summary")
	p.Info("Tickets processed: %d", sum.Total)
	p.Success("Notes sent: %d", sum.Sent)
	p.Info("Skipped: %d", sum.Skipped)
	if sum.Errors > 0 {
		p.Error("Errors: %d (%s)", sum.Errors, strings.Join(sum.Failed(), ", "))
	}
	if sum.Interrupted {
		p.Warn("Run interrupted; remaining tickets were not processed")
	}
	if sum.TransactionID != "" {
		p.Info("Transaction: %s", sum.TransactionID)
	}
	return nil
}
