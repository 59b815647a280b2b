// Package clarity is the PPM gateway: task lookup by external code and
// updates of the mirrored helpdesk status field.
package clarity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/hyperengineering/syncdesk/internal/remote"
)

// System names this gateway in errors and logs.
const System = "clarity"

// MirrorField is the task attribute holding the helpdesk status copy.
const MirrorField = "p_tdi_estado_freshdesk"

// taskFields is the projection requested on lookups.
const taskFields = "_internalId,_parentId,code,name," + MirrorField + ",status"

// Task is a backlog task as returned by the lookup endpoint.
type Task struct {
	InternalID   string
	ParentID     string
	Code         string
	Name         string
	MirrorStatus string
	Status       string
}

// HasIDs reports whether both identifiers needed for an update are present.
func (t *Task) HasIDs() bool {
	return t.InternalID != "" && t.ParentID != ""
}

type taskJSON struct {
	InternalID scalar `json:"_internalId"`
	ParentID   scalar `json:"_parentId"`
	Code       scalar `json:"code"`
	Name       scalar `json:"name"`
	Mirror     lookup `json:"p_tdi_estado_freshdesk"`
	Status     lookup `json:"status"`
}

type envelope struct {
	Results []taskJSON `json:"_results"`
}

// scalar accepts a JSON string, number or null and keeps its text form.
type scalar string

func (s *scalar) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*s = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = scalar(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*s = scalar(n.String())
	return nil
}

// lookup accepts either a plain value or a {id, displayValue} object.
type lookup string

func (l *lookup) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '{' {
		var obj struct {
			ID           scalar `json:"id"`
			DisplayValue scalar `json:"displayValue"`
		}
		if err := json.Unmarshal(b, &obj); err != nil {
			return err
		}
		if obj.DisplayValue != "" {
			*l = lookup(obj.DisplayValue)
		} else {
			*l = lookup(obj.ID)
		}
		return nil
	}
	var s scalar
	if err := s.UnmarshalJSON(b); err != nil {
		return err
	}
	*l = lookup(s)
	return nil
}

// Client calls the PPM REST API.
type Client struct {
	rc *remote.Client
}

// New creates a client using Basic auth.
func New(baseURL, username, password string, opts ...remote.Option) *Client {
	creds := remote.NewBasicAuth(System, username, password)
	return &Client{rc: remote.NewClient(System, baseURL, creds, opts...)}
}

// Credentials exposes the credential holder so callers can check invalidation.
func (c *Client) Credentials() *remote.Credentials {
	return c.rc.Credentials()
}

// FindTask looks up the task whose code equals the helpdesk ticket id.
// No match is a not-found gateway error.
func (c *Client) FindTask(ctx context.Context, code string) (*Task, error) {
	code = strings.TrimSpace(code)
	q := url.Values{}
	q.Set("filter", fmt.Sprintf("(code = '%s')", strings.ReplaceAll(code, "'", "''")))
	q.Set("limit", "1")
	q.Set("fields", taskFields)

	resp, err := c.rc.Do(ctx, remote.Request{Method: http.MethodGet, Path: "/tasks", Query: q})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, remote.StatusError(System, resp)
	}

	var env envelope
	if err := resp.JSON(&env); err != nil {
		return nil, remote.DecodeError(System, resp, err)
	}
	if len(env.Results) == 0 {
		return nil, remote.NotFound(System, "task with code "+code)
	}

	r := env.Results[0]
	return &Task{
		InternalID:   string(r.InternalID),
		ParentID:     string(r.ParentID),
		Code:         string(r.Code),
		Name:         string(r.Name),
		MirrorStatus: string(r.Mirror),
		Status:       string(r.Status),
	}, nil
}

// UpdateMirrorStatus writes status into the mirror field of one task.
// PATCH is tried first; any non-200 answer falls back to PUT. Only HTTP 200
// counts as success. Auth and transport errors are returned without the
// fallback.
func (c *Client) UpdateMirrorStatus(ctx context.Context, parentID, internalID, status string) error {
	path := fmt.Sprintf("/custTdiInvBacklogs/%s/tasks/%s", url.PathEscape(parentID), url.PathEscape(internalID))
	body := map[string]any{
		MirrorField: map[string]string{"id": status, "displayValue": status},
	}

	resp, err := c.rc.Do(ctx, remote.Request{Method: http.MethodPatch, Path: path, Body: body})
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusOK {
		return nil
	}

	resp, err = c.rc.Do(ctx, remote.Request{Method: http.MethodPut, Path: path, Body: body})
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return remote.StatusError(System, resp)
	}
	return nil
}
