// Package report builds spreadsheet reports from helpdesk listings.
package report

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/hyperengineering/syncdesk/internal/freshdesk"
	"github.com/hyperengineering/syncdesk/internal/remote"
	"github.com/hyperengineering/syncdesk/internal/table"
)

// Report columns.
var (
	UntaggedColumns  = []string{"ID", "Asunto", "Estado", "Prioridad", "URL"}
	CompanyColumns   = []string{"ID", "Nombre", "Dominio", "Creado"}
	untaggedPrefix   = "Reporte_Tickets_Sin_Etiquetas"
	companiesPrefix  = "Reporte_Empresas"
	untaggedSheet    = "Tickets Sin Etiquetas"
	companiesSheet   = "Empresas"
	timestampPattern = "20060102_150405"
)

// Lister is the helpdesk surface the reports need.
type Lister interface {
	ListTickets(ctx context.Context, opts freshdesk.ListOptions) ([]freshdesk.Ticket, error)
	ListCompanies(ctx context.Context, page int) ([]freshdesk.Company, error)
}

// Builder collects report rows and writes them out.
type Builder struct {
	Lister Lister
	// BaseURL prefixes ticket links in the untagged report.
	BaseURL string
	Dir     string
	Logger  *slog.Logger
	Now     func() time.Time
}

func (b *Builder) logger() *slog.Logger {
	if b.Logger != nil {
		return b.Logger
	}
	return slog.Default()
}

func (b *Builder) now() time.Time {
	if b.Now != nil {
		return b.Now()
	}
	return time.Now()
}

// UntaggedTickets pages through all tickets and keeps those with no tags.
// Paging stops at the first short page.
func (b *Builder) UntaggedTickets(ctx context.Context) ([]freshdesk.Ticket, error) {
	var out []freshdesk.Ticket
	for page := 1; ; page++ {
		tickets, err := b.Lister.ListTickets(ctx, freshdesk.ListOptions{Page: page, PerPage: freshdesk.MaxPerPage})
		if err != nil {
			return out, fmt.Errorf("listing tickets page %d: %w", page, err)
		}
		for _, t := range tickets {
			if len(t.Tags) == 0 {
				out = append(out, t)
			}
		}
		b.logger().Debug("ticket page scanned", "page", page, "tickets", len(tickets), "untagged", len(out))
		if len(tickets) < freshdesk.MaxPerPage {
			return out, nil
		}
	}
}

// Companies pages through all companies until an empty page.
func (b *Builder) Companies(ctx context.Context) ([]freshdesk.Company, error) {
	var out []freshdesk.Company
	for page := 1; ; page++ {
		companies, err := b.Lister.ListCompanies(ctx, page)
		if err != nil {
			if remote.IsAuth(err) {
				return out, fmt.Errorf("the API key has no permission to list companies: %w", err)
			}
			return out, fmt.Errorf("listing companies page %d: %w", page, err)
		}
		if len(companies) == 0 {
			return out, nil
		}
		out = append(out, companies...)
	}
}

// UntaggedTable renders untagged tickets as report rows.
func (b *Builder) UntaggedTable(tickets []freshdesk.Ticket) *table.Table {
	base := strings.TrimSuffix(b.BaseURL, "/")
	records := make([][]string, 0, len(tickets))
	for _, t := range tickets {
		id := strconv.FormatInt(t.ID, 10)
		records = append(records, []string{
			id,
			t.Subject,
			strconv.Itoa(t.Status),
			strconv.Itoa(t.Priority),
			base + "/a/tickets/" + id,
		})
	}
	return table.New(untaggedSheet, UntaggedColumns, records)
}

// CompanyTable renders companies as report rows.
func CompanyTable(companies []freshdesk.Company) *table.Table {
	records := make([][]string, 0, len(companies))
	for _, c := range companies {
		domain := ""
		if len(c.Domains) > 0 {
			domain = c.Domains[0]
		}
		created := ""
		if !c.CreatedAt.IsZero() {
			created = c.CreatedAt.UTC().Format(time.RFC3339)
		}
		records = append(records, []string{strconv.FormatInt(c.ID, 10), c.Name, domain, created})
	}
	return table.New(companiesSheet, CompanyColumns, records)
}

// WriteUntagged builds the untagged tickets report. It returns an empty path
// when every ticket has a tag.
func (b *Builder) WriteUntagged(ctx context.Context) (string, int, error) {
	tickets, err := b.UntaggedTickets(ctx)
	if err != nil {
		return "", 0, err
	}
	if len(tickets) == 0 {
		return "", 0, nil
	}
	path, err := b.write(untaggedPrefix, untaggedSheet, b.UntaggedTable(tickets))
	return path, len(tickets), err
}

// WriteCompanies builds the companies report.
func (b *Builder) WriteCompanies(ctx context.Context) (string, int, error) {
	companies, err := b.Companies(ctx)
	if err != nil {
		return "", 0, err
	}
	if len(companies) == 0 {
		return "", 0, nil
	}
	path, err := b.write(companiesPrefix, companiesSheet, CompanyTable(companies))
	return path, len(companies), err
}

func (b *Builder) write(prefix, sheet string, t *table.Table) (string, error) {
	name := fmt.Sprintf("%s_%s.xlsx", prefix, b.now().Format(timestampPattern))
	path := filepath.Join(b.Dir, name)
	if err := table.WriteXLSX(path, sheet, t.Columns, t.Records()); err != nil {
		return "", fmt.Errorf("writing %s: %w", name, err)
	}
	b.logger().Info("report written", "path", path, "rows", t.Len())
	return path, nil
}
