package tagger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/hyperengineering/syncdesk/internal/freshdesk"
	"github.com/hyperengineering/syncdesk/internal/remote"
	"github.com/hyperengineering/syncdesk/internal/table"
	"github.com/hyperengineering/syncdesk/internal/txlog"
)

func ptr(v int64) *int64 { return &v }

// fakeTickets serves tickets and groups from memory and logs every update.
type fakeTickets struct {
	tickets     map[string]*freshdesk.Ticket
	groups      map[int64]string
	groupCalls  int
	updates     []string
	failRestore bool
}

func (f *fakeTickets) GetTicket(_ context.Context, id string) (*freshdesk.Ticket, error) {
	t, ok := f.tickets[id]
	if !ok {
		return nil, remote.NotFound(freshdesk.System, "ticket "+id)
	}
	return t, nil
}

func (f *fakeTickets) UpdateTicket(_ context.Context, id string, fields map[string]any) error {
	cf := fields["custom_fields"].(map[string]any)
	restoring := cf["cf_bmc"] != nil
	if restoring && f.failRestore {
		return errors.New("HTTP 500")
	}
	f.updates = append(f.updates, fmt.Sprintf("%s cf_bmc=%v", id, cf["cf_bmc"]))
	return nil
}

func (f *fakeTickets) GetGroup(_ context.Context, id int64) (*freshdesk.Group, error) {
	f.groupCalls++
	name, ok := f.groups[id]
	if !ok {
		return nil, remote.NotFound(freshdesk.System, "group")
	}
	return &freshdesk.Group{ID: id, Name: name}, nil
}

func assigned(id int64, group int64) *freshdesk.Ticket {
	return &freshdesk.Ticket{
		ID:           id,
		GroupID:      ptr(group),
		ResponderID:  ptr(7),
		CustomFields: map[string]any{"cf_bmc": "Old", "cf_itsm": nil},
	}
}

func item(id string) Item {
	return Item{TicketID: id, Values: map[string]string{"cf_bmc": "Banca", "cf_itsm": "BMC", "cf_remedy": "Helix"}}
}

func TestItems(t *testing.T) {
	tbl := table.New("tags.xlsx", []string{"Ticket ID", "Segmento", "Fabricante", "Producto"}, [][]string{
		{"101.0", "Banca", "BMC", "Helix"},
		{"102", "Banca", "", "Helix"},
		{"", "x", "y", "z"},
	})

	items, err := Items(tbl, DefaultFields())
	if err != nil {
		t.Fatalf("Items() error = %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("len(items) = %d, want 2", len(items))
	}
	if items[0].TicketID != "101" || items[0].Values["cf_remedy"] != "Helix" {
		t.Errorf("items[0] = %+v", items[0])
	}
	if len(items[1].Missing) != 1 || items[1].Missing[0] != "Fabricante" {
		t.Errorf("items[1].Missing = %v", items[1].Missing)
	}
}

func TestItems_MissingColumn(t *testing.T) {
	tbl := table.New("tags.xlsx", []string{"Ticket ID", "Segmento"}, nil)
	if _, err := Items(tbl, DefaultFields()); err == nil {
		t.Fatal("Items() expected error")
	}
}

func TestJob_SkipRules(t *testing.T) {
	// Given: tickets covering every skip rule and one eligible ticket
	tagged := assigned(2, 1)
	tagged.Tags = []string{"create clarity"}
	unassigned := assigned(3, 1)
	unassigned.ResponderID = nil
	excluded := assigned(4, 2)
	fake := &fakeTickets{
		tickets: map[string]*freshdesk.Ticket{"1": assigned(1, 1), "2": tagged, "3": unassigned, "4": excluded, "6": assigned(6, 1)},
		groups:  map[int64]string{1: "Soporte N2", 2: "Triage Chile"},
	}
	store := txlog.NewFileStore(t.TempDir())
	job := &Job{
		Tickets:        fake,
		Recorder:       txlog.NewRecorder([]txlog.Sink{store}),
		ExcludedGroups: []string{"TRIAGE CHILE"},
	}
	missing := Item{TicketID: "5", Missing: []string{"Producto"}}

	// When: the job runs
	sum, err := job.Run(context.Background(), []Item{item("1"), item("2"), item("3"), item("4"), missing, item("6"), item("404")})

	// Then: two tickets are updated and every skip reason is reported
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if sum.Updated != 2 || sum.Skipped != 5 || sum.Errors != 0 {
		t.Errorf("summary = %+v", sum)
	}
	counts := sum.SkipCounts()
	for reason, want := range map[string]int{SkipAlreadyTagged: 1, SkipUnassigned: 1, SkipExcludedGroup: 1, SkipMissingField: 1, SkipNotFound: 1} {
		if counts[reason] != want {
			t.Errorf("SkipCounts()[%s] = %d, want %d", reason, counts[reason], want)
		}
	}

	// And: group names are cached
	if fake.groupCalls != 2 {
		t.Errorf("GetGroup called %d times, want 2", fake.groupCalls)
	}

	// And: each update clears before restoring
	want := []string{"1 cf_bmc=<nil>", "1 cf_bmc=Banca", "6 cf_bmc=<nil>", "6 cf_bmc=Banca"}
	if strings.Join(fake.updates, "|") != strings.Join(want, "|") {
		t.Errorf("updates = %v, want %v", fake.updates, want)
	}

	// And: the transaction holds one change per updated ticket
	tx, err := store.Get(context.Background(), sum.TransactionID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if tx.ProcessType != txlog.ProcessTags || tx.Status != txlog.StatusCompleted || len(tx.Changes) != 2 {
		t.Fatalf("transaction = %s %s changes=%d", tx.ProcessType, tx.Status, len(tx.Changes))
	}
	if tx.Changes[0].RollbackData["cf_bmc"] != "Old" {
		t.Errorf("rollback_data = %v", tx.Changes[0].RollbackData)
	}
}

func TestJob_RestoreFailureIsAnError(t *testing.T) {
	fake := &fakeTickets{
		tickets:     map[string]*freshdesk.Ticket{"1": assigned(1, 1)},
		groups:      map[int64]string{1: "Soporte N2"},
		failRestore: true,
	}
	store := txlog.NewFileStore(t.TempDir())
	job := &Job{Tickets: fake, Recorder: txlog.NewRecorder([]txlog.Sink{store})}

	sum, err := job.Run(context.Background(), []Item{item("1")})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if sum.Errors != 1 || !strings.Contains(sum.Results[0].Error, "restoring fields") {
		t.Errorf("results = %+v", sum.Results)
	}
	tx, _ := store.Get(context.Background(), sum.TransactionID)
	if tx.Changes[0].Status != txlog.ChangeFailed {
		t.Errorf("change status = %s, want FAILED", tx.Changes[0].Status)
	}
}

// addFailSink rejects change_added events and accepts everything else.
type addFailSink struct{}

func (addFailSink) Append(_ context.Context, ev txlog.Event) error {
	if ev.Kind == txlog.KindChangeAdded {
		return errors.New("disk full")
	}
	return nil
}

func TestJob_ResolvesUpdateWhenOneSinkFails(t *testing.T) {
	fake := &fakeTickets{
		tickets: map[string]*freshdesk.Ticket{"1": assigned(1, 1)},
		groups:  map[int64]string{1: "Soporte N2"},
	}
	store := txlog.NewFileStore(t.TempDir())
	job := &Job{Tickets: fake, Recorder: txlog.NewRecorder([]txlog.Sink{store, addFailSink{}})}

	sum, err := job.Run(context.Background(), []Item{item("1")})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if sum.Updated != 1 {
		t.Fatalf("summary = %+v", sum)
	}
	tx, _ := store.Get(context.Background(), sum.TransactionID)
	if len(tx.Changes) != 1 || tx.Changes[0].Status != txlog.ChangeSuccess {
		t.Errorf("changes = %+v", tx.Changes)
	}
}

func TestJob_CancelledBeforeStart(t *testing.T) {
	fake := &fakeTickets{tickets: map[string]*freshdesk.Ticket{"1": assigned(1, 1)}, groups: map[int64]string{1: "N2"}}
	store := txlog.NewFileStore(t.TempDir())
	job := &Job{Tickets: fake, Recorder: txlog.NewRecorder([]txlog.Sink{store})}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sum, err := job.Run(ctx, []Item{item("1")})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !sum.Interrupted || len(fake.updates) != 0 {
		t.Errorf("summary = %+v updates = %v", sum, fake.updates)
	}
	tx, _ := store.Get(context.Background(), sum.TransactionID)
	if tx.Status != txlog.StatusCancelled {
		t.Errorf("status = %s, want CANCELLED", tx.Status)
	}
}
