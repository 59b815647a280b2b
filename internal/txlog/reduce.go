package txlog

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

type startedPayload struct {
	ProcessType string         `json:"process_type"`
	Description string         `json:"description"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

type resolvedPayload struct {
	ChangeID string       `json:"change_id"`
	Status   ChangeStatus `json:"status"`
	Error    string       `json:"error,omitempty"`
}

type closurePayload struct {
	Reason  string         `json:"reason,omitempty"`
	Summary map[string]any `json:"summary,omitempty"`
}

func newEvent(txID string, seq int, kind Kind, at time.Time, id string, payload any) (Event, error) {
	ev := Event{ID: id, TransactionID: txID, Seq: seq, Kind: kind, At: at}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Event{}, fmt.Errorf("encode %s payload: %w", kind, err)
		}
		ev.Payload = data
	}
	return ev, nil
}

// Reduce folds events, in sequence order, into the transaction view.
func Reduce(events []Event) (*Transaction, error) {
	if len(events) == 0 {
		return nil, ErrNotFound
	}
	sorted := append([]Event(nil), events...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Seq < sorted[j].Seq })

	var t *Transaction
	for _, ev := range sorted {
		next, err := Apply(t, ev)
		if err != nil {
			return nil, err
		}
		t = next
	}
	return t, nil
}

// Apply applies one event to t and returns the updated view. t is nil before
// the started event. t is modified in place.
func Apply(t *Transaction, ev Event) (*Transaction, error) {
	if ev.Kind == KindStarted {
		if t != nil {
			return nil, fmt.Errorf("%s: %w", ev.TransactionID, ErrAlreadyStarted)
		}
		var p startedPayload
		if err := decode(ev, &p); err != nil {
			return nil, err
		}
		meta := p.Metadata
		if meta == nil {
			meta = map[string]any{}
		}
		return &Transaction{
			ID:          ev.TransactionID,
			ProcessType: p.ProcessType,
			Timestamp:   ev.At,
			Description: p.Description,
			Metadata:    meta,
			Status:      StatusStarted,
			Changes:     []Change{},
			UpdatedAt:   ev.At,
			LastSeq:     ev.Seq,
		}, nil
	}

	if t == nil {
		return nil, fmt.Errorf("%s: %s before start: %w", ev.TransactionID, ev.Kind, ErrNotStarted)
	}
	if t.Status.Terminal() {
		return nil, fmt.Errorf("%s: %s after %s: %w", t.ID, ev.Kind, t.Status, ErrAlreadyFinalized)
	}

	switch ev.Kind {
	case KindMetadata:
		var p map[string]any
		if err := decode(ev, &p); err != nil {
			return nil, err
		}
		for k, v := range p {
			t.Metadata[k] = v
		}

	case KindChangeAdded:
		var c Change
		if err := decode(ev, &c); err != nil {
			return nil, err
		}
		c.Status = ChangePending
		if c.Timestamp.IsZero() {
			c.Timestamp = ev.At
		}
		t.Changes = append(t.Changes, c)

	case KindChangeResolved:
		var p resolvedPayload
		if err := decode(ev, &p); err != nil {
			return nil, err
		}
		idx := -1
		for i := range t.Changes {
			if t.Changes[i].ID == p.ChangeID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil, fmt.Errorf("%s: change %s: %w", t.ID, p.ChangeID, ErrUnknownChange)
		}
		at := ev.At
		t.Changes[idx].Status = p.Status
		t.Changes[idx].Error = p.Error
		t.Changes[idx].CompletedAt = &at

	case KindCompleted, KindFailed, KindCancelled:
		var p closurePayload
		if err := decode(ev, &p); err != nil {
			return nil, err
		}
		cl := &Closure{At: ev.At, Reason: p.Reason, Summary: p.Summary}
		switch ev.Kind {
		case KindCompleted:
			t.Status, t.Completion = StatusCompleted, cl
		case KindFailed:
			t.Status, t.Failure = StatusFailed, cl
		default:
			t.Status, t.Cancellation = StatusCancelled, cl
		}

	default:
		return nil, fmt.Errorf("%s: unknown event kind %q", t.ID, ev.Kind)
	}

	t.UpdatedAt = ev.At
	t.LastSeq = ev.Seq
	return t, nil
}

func decode(ev Event, v any) error {
	if len(ev.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(ev.Payload, v); err != nil {
		return fmt.Errorf("%s: decode %s payload: %w", ev.TransactionID, ev.Kind, err)
	}
	return nil
}

// BuildSummary returns the default closure summary: change totals plus up to
// five example tickets per outcome.
func BuildSummary(t *Transaction) map[string]any {
	pending, ok, failed := t.Counts()
	okTickets, failedTickets := []string{}, []string{}
	for _, c := range t.Changes {
		switch {
		case c.Status == ChangeSuccess && len(okTickets) < 5:
			okTickets = append(okTickets, c.TicketID)
		case c.Status == ChangeFailed && len(failedTickets) < 5:
			failedTickets = append(failedTickets, c.TicketID)
		}
	}
	return map[string]any{
		"total_changes":           len(t.Changes),
		"successful_changes":      ok,
		"failed_changes":          failed,
		"pending_changes":         pending,
		"example_success_tickets": okTickets,
		"example_failed_tickets":  failedTickets,
	}
}
