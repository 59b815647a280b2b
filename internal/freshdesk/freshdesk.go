// Package freshdesk is the helpdesk gateway: ticket lookups, updates, private
// notes, groups and companies over the v2 REST API.
package freshdesk

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hyperengineering/syncdesk/internal/remote"
)

// System names this gateway in errors and logs.
const System = "freshdesk"

// apiPassword is the fixed password paired with an API key in Basic auth.
const apiPassword = "X"

// MaxPerPage is the largest page size the list endpoints accept.
const MaxPerPage = 100

// Ticket status codes.
const (
	StatusOpen            = 2
	StatusPending         = 3
	StatusResolved        = 4
	StatusClosed          = 5
	StatusWaitingCustomer = 6
	StatusDerivedToVendor = 7
	StatusInProgress      = 9
)

// Ticket is the subset of ticket fields the jobs use.
type Ticket struct {
	ID           int64          `json:"id"`
	Subject      string         `json:"subject"`
	Status       int            `json:"status"`
	Priority     int            `json:"priority"`
	GroupID      *int64         `json:"group_id"`
	ResponderID  *int64         `json:"responder_id"`
	InternalID   *int64         `json:"internal_agent_id"`
	CompanyID    *int64         `json:"company_id"`
	Tags         []string       `json:"tags"`
	CustomFields map[string]any `json:"custom_fields"`
	DueBy        *time.Time     `json:"due_by"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// HasTag reports whether the ticket carries tag, ignoring case.
func (t *Ticket) HasTag(tag string) bool {
	for _, tg := range t.Tags {
		if strings.EqualFold(strings.TrimSpace(tg), tag) {
			return true
		}
	}
	return false
}

// Group is an agent group.
type Group struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Company is a customer company.
type Company struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Domains     []string  `json:"domains"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Note is a conversation note added to a ticket.
type Note struct {
	Body         string   `json:"body"`
	NotifyEmails []string `json:"notify_emails,omitempty"`
	Private      bool     `json:"private"`
}

// ListOptions pages the ticket list endpoint.
type ListOptions struct {
	Page         int
	PerPage      int
	UpdatedSince time.Time
}

// Client calls the helpdesk API.
type Client struct {
	rc *remote.Client
}

// New creates a client authenticated with apiKey.
func New(baseURL, apiKey string, opts ...remote.Option) *Client {
	creds := remote.NewBasicAuth(System, apiKey, apiPassword)
	return &Client{rc: remote.NewClient(System, baseURL, creds, opts...)}
}

// Credentials exposes the credential holder so callers can check invalidation.
func (c *Client) Credentials() *remote.Credentials {
	return c.rc.Credentials()
}

// GetTicket fetches one ticket. A missing ticket is a not-found gateway error.
func (c *Client) GetTicket(ctx context.Context, id string) (*Ticket, error) {
	path := "/api/v2/tickets/" + url.PathEscape(strings.TrimSpace(id))
	resp, err := c.rc.Do(ctx, remote.Request{Method: http.MethodGet, Path: path})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, remote.NotFound(System, "ticket "+id)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, remote.StatusError(System, resp)
	}
	var t Ticket
	if err := resp.JSON(&t); err != nil {
		return nil, remote.DecodeError(System, resp, err)
	}
	return &t, nil
}

// ListTickets returns one page of tickets ordered by creation date.
// An empty slice means there are no more pages.
func (c *Client) ListTickets(ctx context.Context, opts ListOptions) ([]Ticket, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(max(opts.Page, 1)))
	q.Set("per_page", strconv.Itoa(clampPerPage(opts.PerPage)))
	q.Set("order_by", "created_at")
	q.Set("order_type", "asc")
	if !opts.UpdatedSince.IsZero() {
		q.Set("updated_since", opts.UpdatedSince.UTC().Format(time.RFC3339))
	}

	resp, err := c.rc.Do(ctx, remote.Request{Method: http.MethodGet, Path: "/api/v2/tickets", Query: q})
	if err != nil {
		return nil, err
	}
	// Paging past the end may answer 404.
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, remote.StatusError(System, resp)
	}
	var tickets []Ticket
	if err := resp.JSON(&tickets); err != nil {
		return nil, remote.DecodeError(System, resp, err)
	}
	return tickets, nil
}

// UpdateTicket sends a partial update of ticket fields.
func (c *Client) UpdateTicket(ctx context.Context, id string, fields map[string]any) error {
	path := "/api/v2/tickets/" + url.PathEscape(strings.TrimSpace(id))
	resp, err := c.rc.Do(ctx, remote.Request{Method: http.MethodPut, Path: path, Body: fields})
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusNotFound {
		return remote.NotFound(System, "ticket "+id)
	}
	if resp.StatusCode != http.StatusOK {
		return remote.StatusError(System, resp)
	}
	return nil
}

// AddNote posts a note on a ticket. 200 and 201 both count as success.
func (c *Client) AddNote(ctx context.Context, id string, note Note) error {
	path := "/api/v2/tickets/" + url.PathEscape(strings.TrimSpace(id)) + "/notes"
	resp, err := c.rc.Do(ctx, remote.Request{Method: http.MethodPost, Path: path, Body: note})
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return remote.StatusError(System, resp)
	}
	return nil
}

// GetGroup fetches an agent group by id.
func (c *Client) GetGroup(ctx context.Context, id int64) (*Group, error) {
	path := fmt.Sprintf("/api/v2/groups/%d", id)
	resp, err := c.rc.Do(ctx, remote.Request{Method: http.MethodGet, Path: path})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, remote.NotFound(System, fmt.Sprintf("group %d", id))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, remote.StatusError(System, resp)
	}
	var g Group
	if err := resp.JSON(&g); err != nil {
		return nil, remote.DecodeError(System, resp, err)
	}
	return &g, nil
}

// ListCompanies returns one page of companies; empty means no more pages.
func (c *Client) ListCompanies(ctx context.Context, page int) ([]Company, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(max(page, 1)))
	q.Set("per_page", strconv.Itoa(MaxPerPage))

	resp, err := c.rc.Do(ctx, remote.Request{Method: http.MethodGet, Path: "/api/v2/companies", Query: q})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, remote.StatusError(System, resp)
	}
	var companies []Company
	if err := resp.JSON(&companies); err != nil {
		return nil, remote.DecodeError(System, resp, err)
	}
	return companies, nil
}

func clampPerPage(n int) int {
	if n <= 0 || n > MaxPerPage {
		return MaxPerPage
	}
	return n
}
