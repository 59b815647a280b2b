package statesync

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"
)

func TestLinePrompter_Confirm(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"Sí\n", true},
		{"yes", true},
		{"n\n", false},
		{"\n", false},
	}
	for _, tt := range tests {
		var out bytes.Buffer
		p := NewLinePrompter(strings.NewReader(tt.input), &out)

		got, err := p.Confirm(context.Background(), "Continue?")

		if err != nil {
			t.Fatalf("Confirm(%q) error = %v", tt.input, err)
		}
		if got != tt.want {
			t.Errorf("Confirm(%q) = %v, want %v", tt.input, got, tt.want)
		}
		if !strings.Contains(out.String(), "Continue? [y/N]") {
			t.Errorf("prompt = %q", out.String())
		}
	}
}

func TestLinePrompter_ChooseRetriesInvalid(t *testing.T) {
	var out bytes.Buffer
	p := NewLinePrompter(strings.NewReader("9\nabc\n2\n"), &out)

	got, err := p.Choose(context.Background(), "Pick", []string{"Apply", "Export", "Cancel"})

	if err != nil || got != 1 {
		t.Fatalf("Choose() = %d, %v, want 1", got, err)
	}
	if strings.Count(out.String(), "Invalid option") != 2 {
		t.Errorf("output = %q", out.String())
	}
}

func TestLinePrompter_EOF(t *testing.T) {
	p := NewLinePrompter(strings.NewReader(""), io.Discard)

	_, err := p.Choose(context.Background(), "Pick", []string{"a"})

	if !errors.Is(err, io.EOF) {
		t.Errorf("Choose() error = %v, want io.EOF", err)
	}
}

func TestLinePrompter_Cancelled(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()
	p := NewLinePrompter(r, io.Discard)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := p.Confirm(ctx, "Continue?")

	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Confirm() error = %v, want deadline exceeded", err)
	}
}

func TestPresenter_FinalListsFailures(t *testing.T) {
	var out bytes.Buffer
	p := NewPresenter(&out)
	res := &ApplyResult{Successes: 1, Failures: 7}
	res.Outcomes = append(res.Outcomes, Outcome{TicketID: "1", Result: ResultSuccess})
	for i := 0; i < 7; i++ {
		res.Outcomes = append(res.Outcomes, Outcome{TicketID: "f", Result: ResultError, Error: "HTTP 500"})
	}

	p.Final(res)

	s := out.String()
	if strings.Count(s, "HTTP 500") != 5 {
		t.Errorf("want the first 5 failures listed:\n%s", s)
	}
	if !strings.Contains(s, "2 more failures") {
		t.Errorf("missing remainder line:\n%s", s)
	}
}

func TestExportProposed(t *testing.T) {
	dir := t.TempDir()
	at := time.Date(2024, 5, 2, 10, 0, 0, 0, time.UTC)
	diffs := []Difference{{TicketID: "1", CurrentStatus: "Cerrada", ProposedStatus: "Abierta", SourceStatus: "Open", IDs: &RemoteIDs{"500", "501"}}}

	path, err := ExportProposed(dir, diffs, at)
	if err != nil {
		t.Fatalf("ExportProposed() error = %v", err)
	}
	if !strings.HasSuffix(path, "cambios_propuestos_20240502_100000.xlsx") {
		t.Errorf("path = %s", path)
	}
}
