// Package notes sends private reminder notes to agents on stale tickets.
package notes

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/hyperengineering/syncdesk/internal/freshdesk"
	"github.com/hyperengineering/syncdesk/internal/statemap"
	"github.com/hyperengineering/syncdesk/internal/table"
	"github.com/hyperengineering/syncdesk/internal/txlog"
)

// AgentPlaceholder is replaced with the first agent's name in every message.
const AgentPlaceholder = "[NOMBRE_DE_AGENTE]"

// Agents file columns.
const (
	ColumnAgentID    = "ID"
	ColumnAgentName  = "Agente"
	ColumnAgentEmail = "MAIL"
)

// ColumnTicketID is the required column of the ticket list.
const ColumnTicketID = "Ticket ID"

// logbookMarker flags tickets that are kept open on purpose.
const logbookMarker = "BITACORA"

// Skip reasons.
const (
	SkipLogbook  = "logbook"
	SkipRecent   = "recent_activity"
	SkipNoAgents = "no_agents"
	SkipDeclined = "declined"
)

// Messages by situation.
const (
	MessageDerived = "Hola " + AgentPlaceholder + ", buen día. Vemos que el ticket está derivado al fabricante. ¿Hubo alguna respuesta o actualización por algún otro medio?"
	MessageWaiting = "Hola " + AgentPlaceholder + ", buen día. Según el ticket se encuentra esperando respuesta del cliente. ¿Has tenido algún contacto a través de otro canal?"
	MessageOverdue = "Hola " + AgentPlaceholder + ", buen día. El tiempo de resolución venció. Por favor revisa el ticket para resolverlo y cerrarlo. Saludos."
	MessageIdle    = "Hola " + AgentPlaceholder + ", buen día. Este ticket no ha tenido actividad reciente. ¿Podrías revisarlo? Gracias."
)

// Agent is one row of the agents file.
type Agent struct {
	ID    string
	Name  string
	Email string
}

// Directory maps agent ids to agents.
type Directory map[string]Agent

// LoadAgents builds a directory from the agents table.
func LoadAgents(t *table.Table) (Directory, error) {
	var missing []string
	for _, c := range []string{ColumnAgentID, ColumnAgentName, ColumnAgentEmail} {
		if !t.Has(c) {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("agents file %s: missing columns %s", t.Name, strings.Join(missing, ", "))
	}
	dir := make(Directory, t.Len())
	for _, row := range t.Rows {
		id := statemap.NormalizeID(row[ColumnAgentID])
		if id == "" {
			continue
		}
		dir[id] = Agent{ID: id, Name: strings.TrimSpace(row[ColumnAgentName]), Email: strings.TrimSpace(row[ColumnAgentEmail])}
	}
	return dir, nil
}

// TicketIDs returns the normalized ids of the ticket list, skipping blanks.
func TicketIDs(t *table.Table) ([]string, error) {
	if !t.Has(ColumnTicketID) {
		return nil, fmt.Errorf("ticket file %s: missing column %q", t.Name, ColumnTicketID)
	}
	var ids []string
	for _, v := range t.Values(ColumnTicketID) {
		if id := statemap.NormalizeID(v); id != "" {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// Message picks the reminder text for a ticket. The placeholder is not yet
// replaced.
func Message(t *freshdesk.Ticket, now time.Time) string {
	switch t.Status {
	case freshdesk.StatusDerivedToVendor:
		return MessageDerived
	case freshdesk.StatusWaitingCustomer:
		return MessageWaiting
	}
	closed := t.Status == freshdesk.StatusResolved || t.Status == freshdesk.StatusClosed
	if !closed && t.DueBy != nil && t.DueBy.Before(now) {
		return MessageOverdue
	}
	return MessageIdle
}

// Tickets is the helpdesk surface the job needs.
type Tickets interface {
	GetTicket(ctx context.Context, id string) (*freshdesk.Ticket, error)
	AddNote(ctx context.Context, id string, note freshdesk.Note) error
}

// Draft is a note ready to be sent.
type Draft struct {
	TicketID string
	Agents   []Agent
	Emails   []string
	Body     string
}

// ConfirmFunc approves a draft in manual mode.
type ConfirmFunc func(ctx context.Context, d Draft) (bool, error)

// Result is the outcome for one ticket.
type Result struct {
	TicketID string
	Sent     bool
	Skipped  string
	Error    string
	Body     string
}

// Summary aggregates a run.
type Summary struct {
	TransactionID string
	Total         int
	Sent          int
	Skipped       int
	Errors        int
	Interrupted   bool
	Results       []Result
}

// Failed returns the ids of tickets that errored.
func (s *Summary) Failed() []string {
	var ids []string
	for _, r := range s.Results {
		if r.Error != "" {
			ids = append(ids, r.TicketID)
		}
	}
	return ids
}

func (s *Summary) record(r Result) {
	s.Results = append(s.Results, r)
	switch {
	case r.Error != "":
		s.Errors++
	case r.Skipped != "":
		s.Skipped++
	case r.Sent:
		s.Sent++
	}
}

func (s *Summary) journal() map[string]any {
	return map[string]any{
		"total":       s.Total,
		"sent":        s.Sent,
		"skipped":     s.Skipped,
		"errors":      s.Errors,
		"interrupted": s.Interrupted,
	}
}

// Job sends reminder notes to the agents of inactive tickets.
type Job struct {
	Tickets Tickets
	Agents  Directory
	// Recorder journals each sent note; nil disables journaling.
	Recorder txlog.Writer
	// Confirm is asked before every note; nil runs unattended.
	Confirm         ConfirmFunc
	MinInactiveDays int
	NotifyEmails    []string
	DryRun          bool
	Logger          *slog.Logger
	Now             func() time.Time
}

// Run processes ticketIDs in order. A cancelled context stops the loop after
// the current ticket; the summary covers what was processed.
func (j *Job) Run(ctx context.Context, ticketIDs []string) (*Summary, error) {
	logger := j.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := j.Now
	if now == nil {
		now = time.Now
	}
	wctx := context.WithoutCancel(ctx)

	sum := &Summary{Total: len(ticketIDs)}
	if j.Recorder != nil && !j.DryRun {
		id, err := j.Recorder.Begin(ctx, txlog.ProcessNotes, "Stale ticket reminder notes", map[string]any{
			"tickets":           len(ticketIDs),
			"min_inactive_days": j.MinInactiveDays,
		})
		sum.TransactionID = id
		if err != nil {
			_ = j.Recorder.Fail(wctx, err.Error(), sum.journal())
			return sum, fmt.Errorf("starting transaction: %w", err)
		}
	}

	var runErr error
	for i, id := range ticketIDs {
		if ctx.Err() != nil {
			sum.Interrupted = true
			break
		}
		logger.Info("processing ticket", "ticket_id", id, "position", i+1, "total", len(ticketIDs))
		res, err := j.process(ctx, wctx, id, now(), logger)
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
	j.finalize(wctx, sum, runErr, logger)
	return sum, runErr
}

func (j *Job) finalize(ctx context.Context, sum *Summary, runErr error, logger *slog.Logger) {
	if j.Recorder == nil || j.DryRun {
		return
	}
	var err error
	switch {
	case runErr != nil:
		err = j.Recorder.Fail(ctx, runErr.Error(), sum.journal())
	case sum.Interrupted:
		err = j.Recorder.Cancel(ctx, "interrupted", sum.journal())
	default:
		err = j.Recorder.Complete(ctx, sum.journal())
	}
	if err != nil {
		logger.Error("finalizing transaction", "transaction_id", sum.TransactionID, "error", err)
	}
}

// process handles one ticket. Only a confirmation failure is returned as an
// error; everything else is folded into the result.
func (j *Job) process(ctx, wctx context.Context, id string, now time.Time, logger *slog.Logger) (Result, error) {
	res := Result{TicketID: id}
	t, err := j.Tickets.GetTicket(ctx, id)
	if err != nil {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		res.Error = err.Error()
		return res, nil
	}
	if strings.Contains(strings.ToUpper(t.Subject), logbookMarker) {
		res.Skipped = SkipLogbook
		return res, nil
	}
	days := int(now.Sub(t.UpdatedAt).Hours() / 24)
	if t.UpdatedAt.IsZero() || days < j.MinInactiveDays {
		res.Skipped = SkipRecent
		return res, nil
	}

	agents := j.agentsFor(t)
	if len(agents) == 0 {
		res.Skipped = SkipNoAgents
		return res, nil
	}
	d := Draft{TicketID: id, Agents: agents, Emails: j.emails(agents)}
	d.Body = strings.ReplaceAll(Message(t, now), AgentPlaceholder, agents[0].Name)
	res.Body = d.Body

	if j.Confirm != nil {
		ok, err := j.Confirm(ctx, d)
		if err != nil {
			return res, err
		}
		if !ok {
			res.Skipped = SkipDeclined
			return res, nil
		}
	}
	if j.DryRun {
		return res, nil
	}

	changeID := j.journalNote(wctx, d, logger)
	sendErr := j.Tickets.AddNote(wctx, id, freshdesk.Note{Body: d.Body, NotifyEmails: d.Emails, Private: true})
	if sendErr != nil {
		res.Error = sendErr.Error()
	} else {
		res.Sent = true
	}
	if changeID != "" {
		errMsg := ""
		if sendErr != nil {
			errMsg = sendErr.Error()
		}
		_ = j.Recorder.ResolveChange(wctx, changeID, sendErr == nil, errMsg)
	}
	return res, nil
}

func (j *Job) journalNote(ctx context.Context, d Draft, logger *slog.Logger) string {
	if j.Recorder == nil {
		return ""
	}
	changeID, err := j.Recorder.AddChange(ctx, txlog.Change{
		System:    freshdesk.System,
		Operation: "CREATE",
		TicketID:  d.TicketID,
		Field:     "private_note",
		NewValue:  d.Body,
		RollbackData: map[string]string{
			"notify_emails": strings.Join(d.Emails, ","),
		},
	})
	if err != nil {
		// The in-memory view keeps the change even when a sink fails.
		logger.Error("record pending note", "ticket_id", d.TicketID, "error", err)
	}
	return changeID
}

// agentsFor returns the known responder and internal agent, deduplicated.
func (j *Job) agentsFor(t *freshdesk.Ticket) []Agent {
	var agents []Agent
	seen := map[string]bool{}
	for _, ref := range []*int64{t.ResponderID, t.InternalID} {
		if ref == nil {
			continue
		}
		id := fmt.Sprint(*ref)
		if seen[id] {
			continue
		}
		seen[id] = true
		a, ok := j.Agents[id]
		if !ok || a.Email == "" {
			if j.Logger != nil {
				j.Logger.Warn("agent not in directory", "agent_id", id, "ticket_id", t.ID)
			}
			continue
		}
		agents = append(agents, a)
	}
	return agents
}

func (j *Job) emails(agents []Agent) []string {
	var out []string
	seen := map[string]bool{}
	add := func(e string) {
		e = strings.TrimSpace(e)
		if e == "" || seen[strings.ToLower(e)] {
			return
		}
		seen[strings.ToLower(e)] = true
		out = append(out, e)
	}
	for _, a := range agents {
		add(a.Email)
	}
	for _, e := range j.NotifyEmails {
		add(e)
	}
	return out
}
