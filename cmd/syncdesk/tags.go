package main

import (
	"fmt"
	"sort"

	"github.com/hyperengineering/syncdesk/internal/statesync"
	"github.com/hyperengineering/syncdesk/internal/tagger"
	"github.com/spf13/cobra"
)

var tagsYes bool

var tagsCmd = &cobra.Command{
	Use:   "tags <tickets-file>",
	Short: "Force regeneration of CREATE CLARITY tags",
	Long: `Clear and restore the product custom fields of each listed ticket so the
helpdesk automation runs again and adds the CREATE CLARITY tag. The file needs
the columns Ticket ID, Segmento, Fabricante and Producto.`,
	Args: cobra.ExactArgs(1),
	RunE: runTags,
}

func init() {
	tagsCmd.Flags().BoolVarP(&tagsYes, "yes", "y", false, "Do not ask for confirmation")
}

func runTags(cmd *cobra.Command, args []string) error {
	cfg := app.cfg
	out := cmd.OutOrStdout()
	p := statesync.NewPresenter(out)

	t, err := loadTable(args[0], tagger.ColumnTicketID)
	if err != nil {
		return err
	}
	items, err := tagger.Items(t, tagger.DefaultFields())
	if err != nil {
		return err
	}

	fd, err := newFreshdesk(cfg, out)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	p.Section(fmt.Sprintf("%d tickets to retag", len(items)))
	if !tagsYes {
		ok, err := statesync.NewLinePrompter(stdin, out).Confirm(ctx, "Continue?")
		if err != nil || !ok {
			p.Warn("Cancelled")
			return nil
		}
	}

	j, err := openJournal(cfg)
	if err != nil {
		return err
	}
	defer j.Close()

	job := &tagger.Job{
		Tickets:        fd,
		Recorder:       j.recorder(),
		ExcludedGroups: cfg.Tags.ExcludedGroups,
		Pause:          cfg.Tags.Pause.Std(),
		Logger:         app.logger,
	}
	sum, err := job.Run(ctx, items)
	if err != nil {
		return err
	}

	p.Section("Summary")
	p.Success("Updated: %d", sum.Updated)
	counts := sum.SkipCounts()
	reasons := make([]string, 0, len(counts))
	for r := range counts {
		reasons = append(reasons, r)
	}
	sort.Strings(reasons)
	for _, r := range reasons {
		p.Info("Skipped (%s): %d", r, counts[r])
	}
	for _, r := range sum.Results {
		if r.Error != "" {
			p.Error("Ticket %s: %s", r.TicketID, r.Error)
		}
	}
	if sum.Interrupted {
		p.Warn("Run interrupted; remaining tickets were not processed")
	}
	p.Info("Transaction: %s", sum.TransactionID)
	return nil
}
