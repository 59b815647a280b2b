package report

import (
	"context"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/hyperengineering/syncdesk/internal/freshdesk"
	"github.com/hyperengineering/syncdesk/internal/remote"
	"github.com/hyperengineering/syncdesk/internal/table"
)

var at = time.Date(2024, 7, 1, 8, 15, 0, 0, time.UTC)

// fakeLister serves fixed pages.
type fakeLister struct {
	ticketPages  [][]freshdesk.Ticket
	companyPages [][]freshdesk.Company
	companyErr   error
	ticketCalls  int
	companyCalls int
}

func (f *fakeLister) ListTickets(_ context.Context, opts freshdesk.ListOptions) ([]freshdesk.Ticket, error) {
	f.ticketCalls++
	if opts.Page > len(f.ticketPages) {
		return nil, nil
	}
	return f.ticketPages[opts.Page-1], nil
}

func (f *fakeLister) ListCompanies(_ context.Context, page int) ([]freshdesk.Company, error) {
	f.companyCalls++
	if f.companyErr != nil {
		return nil, f.companyErr
	}
	if page > len(f.companyPages) {
		return nil, nil
	}
	return f.companyPages[page-1], nil
}

func fullPage(start int64, tagged bool) []freshdesk.Ticket {
	page := make([]freshdesk.Ticket, freshdesk.MaxPerPage)
	for i := range page {
		page[i] = freshdesk.Ticket{ID: start + int64(i), Tags: []string{"x"}}
	}
	if !tagged {
		page[0].Tags = nil
	}
	return page
}

func TestUntaggedTickets_StopsOnShortPage(t *testing.T) {
	// Given: a full first page and a short second page
	lister := &fakeLister{ticketPages: [][]freshdesk.Ticket{
		fullPage(1, false),
		{{ID: 500, Subject: "No tags", Status: 2, Priority: 1}, {ID: 501, Tags: []string{"CREATE CLARITY"}}},
		fullPage(1000, false),
	}}
	b := &Builder{Lister: lister}

	// When: collecting untagged tickets
	got, err := b.UntaggedTickets(context.Background())

	// Then: paging stops after the short page
	if err != nil {
		t.Fatalf("UntaggedTickets() error = %v", err)
	}
	if lister.ticketCalls != 2 {
		t.Errorf("ListTickets called %d times, want 2", lister.ticketCalls)
	}
	if len(got) != 2 || got[0].ID != 1 || got[1].ID != 500 {
		t.Errorf("untagged = %+v", got)
	}
}

func TestWriteUntagged(t *testing.T) {
	dir := t.TempDir()
	lister := &fakeLister{ticketPages: [][]freshdesk.Ticket{{{ID: 42, Subject: "VPN caída", Status: 2, Priority: 3}}}}
	b := &Builder{Lister: lister, BaseURL: "https://acme.freshdesk.com/", Dir: dir, Now: func() time.Time { return at }}

	path, n, err := b.WriteUntagged(context.Background())
	if err != nil {
		t.Fatalf("WriteUntagged() error = %v", err)
	}
	if n != 1 || filepath.Base(path) != "Reporte_Tickets_Sin_Etiquetas_20240701_081500.xlsx" {
		t.Errorf("path = %s n = %d", path, n)
	}
	tbl, err := table.LoadXLSX(path, table.LoadOptions{})
	if err != nil {
		t.Fatalf("LoadXLSX() error = %v", err)
	}
	row := tbl.Rows[0]
	if row["ID"] != "42" || row["Asunto"] != "VPN caída" || row["URL"] != "https://acme.freshdesk.com/a/tickets/42" {
		t.Errorf("row = %v", row)
	}
}

func TestWriteUntagged_NothingToReport(t *testing.T) {
	lister := &fakeLister{ticketPages: [][]freshdesk.Ticket{{{ID: 1, Tags: []string{"a"}}}}}
	b := &Builder{Lister: lister, Dir: t.TempDir()}

	path, n, err := b.WriteUntagged(context.Background())
	if err != nil || path != "" || n != 0 {
		t.Errorf("WriteUntagged() = %q, %d, %v", path, n, err)
	}
}

func TestCompanies(t *testing.T) {
	created := time.Date(2023, 1, 2, 3, 4, 5, 0, time.UTC)
	lister := &fakeLister{companyPages: [][]freshdesk.Company{
		{{ID: 1, Name: "Acme", Domains: []string{"acme.com", "acme.cl"}, CreatedAt: created}},
		{{ID: 2, Name: "Globex"}},
	}}
	b := &Builder{Lister: lister, Dir: t.TempDir(), Now: func() time.Time { return at }}

	path, n, err := b.WriteCompanies(context.Background())
	if err != nil {
		t.Fatalf("WriteCompanies() error = %v", err)
	}
	if n != 2 || lister.companyCalls != 3 {
		t.Errorf("n = %d calls = %d", n, lister.companyCalls)
	}
	tbl, err := table.LoadXLSX(path, table.LoadOptions{})
	if err != nil {
		t.Fatalf("LoadXLSX() error = %v", err)
	}
	if tbl.Rows[0]["Dominio"] != "acme.com" || tbl.Rows[0]["Creado"] != "2023-01-02T03:04:05Z" {
		t.Errorf("row = %v", tbl.Rows[0])
	}
}

func TestCompanies_Forbidden(t *testing.T) {
	forbidden := remote.StatusError(freshdesk.System, &remote.Response{StatusCode: http.StatusForbidden, Method: "GET", Path: "/api/v2/companies"})
	b := &Builder{Lister: &fakeLister{companyErr: forbidden}}

	_, err := b.Companies(context.Background())
	if err == nil || !remote.IsAuth(err) {
		t.Errorf("Companies() error = %v, want auth error", err)
	}
}
