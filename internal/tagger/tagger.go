// Package tagger forces the helpdesk to re-run its tag automations by clearing
// and restoring a ticket's product custom fields.
package tagger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/hyperengineering/syncdesk/internal/freshdesk"
	"github.com/hyperengineering/syncdesk/internal/remote"
	"github.com/hyperengineering/syncdesk/internal/statemap"
	"github.com/hyperengineering/syncdesk/internal/table"
	"github.com/hyperengineering/syncdesk/internal/txlog"
)

// ColumnTicketID identifies the ticket of each input row.
const ColumnTicketID = "Ticket ID"

// Tags that mean the automation already ran.
const (
	TagCreate = "CREATE CLARITY"
	TagUpdate = "UPDATE CLARITY"
)

// Skip reasons.
const (
	SkipMissingField  = "missing_field"
	SkipNotFound      = "not_found"
	SkipAlreadyTagged = "already_tagged"
	SkipUnassigned    = "unassigned"
	SkipExcludedGroup = "excluded_group"
)

// Field maps an input column to a ticket custom field.
type Field struct {
	Column string
	Key    string
}

// DefaultFields are the product fields that drive the automation.
func DefaultFields() []Field {
	return []Field{
		{Column: "Segmento", Key: "cf_bmc"},
		{Column: "Fabricante", Key: "cf_itsm"},
		{Column: "Producto", Key: "cf_remedy"},
	}
}

// Item is one ticket to retag with the values to restore.
type Item struct {
	TicketID string
	Values   map[string]string
	Missing  []string
}

// Items reads the input table. Rows with blank fields are kept so they can be
// reported as skipped.
func Items(t *table.Table, fields []Field) ([]Item, error) {
	required := []string{ColumnTicketID}
	for _, f := range fields {
		required = append(required, f.Column)
	}
	var missing []string
	for _, c := range required {
		if !t.Has(c) {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("tag file %s: missing columns %s", t.Name, strings.Join(missing, ", "))
	}

	var items []Item
	for _, row := range t.Rows {
		id := statemap.NormalizeID(row[ColumnTicketID])
		if id == "" {
			continue
		}
		it := Item{TicketID: id, Values: map[string]string{}}
		for _, f := range fields {
			v := strings.TrimSpace(row[f.Column])
			if v == "" {
				it.Missing = append(it.Missing, f.Column)
				continue
			}
			it.Values[f.Key] = v
		}
		items = append(items, it)
	}
	return items, nil
}

// Tickets is the helpdesk surface the job needs.
type Tickets interface {
	GetTicket(ctx context.Context, id string) (*freshdesk.Ticket, error)
	UpdateTicket(ctx context.Context, id string, fields map[string]any) error
	GetGroup(ctx context.Context, id int64) (*freshdesk.Group, error)
}

// Result is the outcome for one ticket.
type Result struct {
	TicketID string
	Updated  bool
	Skipped  string
	Detail   string
	Error    string
}

// Summary aggregates a run.
type Summary struct {
	TransactionID string
	Total         int
	Updated       int
	Skipped       int
	Errors        int
	Interrupted   bool
	Results       []Result
}

func (s *Summary) record(r Result) {
	s.Results = append(s.Results, r)
	switch {
	case r.Error != "":
		s.Errors++
	case r.Skipped != "":
		s.Skipped++
	case r.Updated:
		s.Updated++
	}
}

// SkipCounts groups skipped tickets by reason.
func (s *Summary) SkipCounts() map[string]int {
	out := map[string]int{}
	for _, r := range s.Results {
		if r.Skipped != "" {
			out[r.Skipped]++
		}
	}
	return out
}

func (s *Summary) journal() map[string]any {
	return map[string]any{
		"total":       s.Total,
		"updated":     s.Updated,
		"skipped":     s.Skipped,
		"errors":      s.Errors,
		"interrupted": s.Interrupted,
		"skip_counts": s.SkipCounts(),
	}
}

// Job clears and restores custom fields ticket by ticket.
type Job struct {
	Tickets Tickets
	// Recorder journals each update; nil disables journaling.
	Recorder       txlog.Writer
	Fields         []Field
	ExcludedGroups []string
	// Pause separates the clearing and restoring writes.
	Pause  time.Duration
	Logger *slog.Logger

	groups map[int64]string
}

// Run processes items in order. A cancelled context stops the loop between
// tickets; a ticket already cleared is always restored.
func (j *Job) Run(ctx context.Context, items []Item) (*Summary, error) {
	logger := j.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if j.Fields == nil {
		j.Fields = DefaultFields()
	}
	if j.groups == nil {
		j.groups = map[int64]string{}
	}
	wctx := context.WithoutCancel(ctx)

	sum := &Summary{Total: len(items)}
	if j.Recorder != nil {
		id, err := j.Recorder.Begin(ctx, txlog.ProcessTags, "Regenerate CREATE CLARITY tags", map[string]any{
			"tickets":         len(items),
			"excluded_groups": j.ExcludedGroups,
		})
		sum.TransactionID = id
		if err != nil {
			_ = j.Recorder.Fail(wctx, err.Error(), sum.journal())
			return sum, fmt.Errorf("starting transaction: %w", err)
		}
	}

	var runErr error
	for i, it := range items {
		if ctx.Err() != nil {
			sum.Interrupted = true
			break
		}
		logger.Info("retagging ticket", "ticket_id", it.TicketID, "position", i+1, "total", len(items))
		res, err := j.process(ctx, wctx, it, logger)
		if err != nil {
			runErr = err
			break
		}
		sum.record(res)
	}
	if errors.Is(runErr, context.Canceled) || errors.Is(runErr, io.EOF) {
		sum.Interrupted = true
		runErr = nil
	}

	if j.Recorder != nil {
		var err error
		switch {
		case runErr != nil:
			err = j.Recorder.Fail(wctx, runErr.Error(), sum.journal())
		case sum.Interrupted:
			err = j.Recorder.Cancel(wctx, "interrupted", sum.journal())
		default:
			err = j.Recorder.Complete(wctx, sum.journal())
		}
		if err != nil {
			logger.Error("finalizing transaction", "transaction_id", sum.TransactionID, "error", err)
		}
	}
	return sum, runErr
}

func (j *Job) process(ctx, wctx context.Context, it Item, logger *slog.Logger) (Result, error) {
	res := Result{TicketID: it.TicketID}
	if len(it.Missing) > 0 {
		res.Skipped = SkipMissingField
		res.Detail = strings.Join(it.Missing, ", ")
		return res, nil
	}

	t, err := j.Tickets.GetTicket(ctx, it.TicketID)
	switch {
	case err != nil && ctx.Err() != nil:
		return res, ctx.Err()
	case remote.IsNotFound(err):
		res.Skipped = SkipNotFound
		return res, nil
	case err != nil:
		res.Error = err.Error()
		return res, nil
	}

	if t.HasTag(TagCreate) || t.HasTag(TagUpdate) {
		res.Skipped = SkipAlreadyTagged
		return res, nil
	}
	if t.GroupID == nil || t.ResponderID == nil {
		res.Skipped = SkipUnassigned
		return res, nil
	}
	name, err := j.groupName(ctx, *t.GroupID)
	if err != nil {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		res.Error = err.Error()
		return res, nil
	}
	if j.excluded(name) {
		res.Skipped = SkipExcludedGroup
		res.Detail = name
		return res, nil
	}

	// From here on the ticket is modified; finish it even if interrupted.
	changeID := j.journal(wctx, t, it, logger)
	err = j.retag(wctx, it)
	if err != nil {
		res.Error = err.Error()
		logger.Warn("retag failed", "ticket_id", it.TicketID, "error", err)
	} else {
		res.Updated = true
	}
	if changeID != "" {
		errMsg := ""
		if err != nil {
			errMsg = err.Error()
		}
		_ = j.Recorder.ResolveChange(wctx, changeID, err == nil, errMsg)
	}
	return res, nil
}

// retag sends the clearing write, waits, then restores the values.
func (j *Job) retag(ctx context.Context, it Item) error {
	cleared := map[string]any{}
	restored := map[string]any{}
	for k, v := range it.Values {
		cleared[k] = nil
		restored[k] = v
	}
	if err := j.Tickets.UpdateTicket(ctx, it.TicketID, map[string]any{"custom_fields": cleared}); err != nil {
		return fmt.Errorf("clearing fields: %w", err)
	}
	if j.Pause > 0 {
		time.Sleep(j.Pause)
	}
	if err := j.Tickets.UpdateTicket(ctx, it.TicketID, map[string]any{"custom_fields": restored}); err != nil {
		return fmt.Errorf("restoring fields: %w", err)
	}
	return nil
}

func (j *Job) journal(ctx context.Context, t *freshdesk.Ticket, it Item, logger *slog.Logger) string {
	if j.Recorder == nil {
		return ""
	}
	keys := make([]string, 0, len(it.Values))
	for k := range it.Values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	rollback := map[string]string{}
	var oldVals, newVals []string
	for _, k := range keys {
		old := ""
		if v, ok := t.CustomFields[k]; ok && v != nil {
			old = fmt.Sprint(v)
		}
		rollback[k] = old
		oldVals = append(oldVals, k+"="+old)
		newVals = append(newVals, k+"="+it.Values[k])
	}
	changeID, err := j.Recorder.AddChange(ctx, txlog.Change{
		System:       freshdesk.System,
		Operation:    "UPDATE",
		TicketID:     it.TicketID,
		Field:        "custom_fields",
		OldValue:     strings.Join(oldVals, ";"),
		NewValue:     strings.Join(newVals, ";"),
		RollbackData: rollback,
	})
	if err != nil {
		// The in-memory view keeps the change even when a sink fails.
		logger.Error("record pending update", "ticket_id", it.TicketID, "error", err)
	}
	return changeID
}

func (j *Job) groupName(ctx context.Context, id int64) (string, error) {
	if name, ok := j.groups[id]; ok {
		return name, nil
	}
	g, err := j.Tickets.GetGroup(ctx, id)
	if err != nil {
		return "", fmt.Errorf("looking up group %d: %w", id, err)
	}
	j.groups[id] = g.Name
	return g.Name, nil
}

func (j *Job) excluded(group string) bool {
	for _, g := range j.ExcludedGroups {
		if strings.EqualFold(strings.TrimSpace(g), strings.TrimSpace(group)) {
			return true
		}
	}
	return false
}
