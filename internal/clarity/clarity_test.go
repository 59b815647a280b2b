package clarity

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hyperengineering/syncdesk/internal/remote"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(srv.URL, "bot", "pw", remote.WithRetryPolicy(remote.RetryPolicy{
		MaxAttempts: 2,
		BaseWait:    time.Millisecond,
	}))
}

func TestFindTask(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if r.URL.Path != "/tasks" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if q.Get("filter") != "(code = '1001')" {
			t.Errorf("filter = %q", q.Get("filter"))
		}
		if q.Get("limit") != "1" {
			t.Errorf("limit = %q", q.Get("limit"))
		}
		if q.Get("fields") != taskFields {
			t.Errorf("fields = %q", q.Get("fields"))
		}
		w.Write([]byte(`{"_results":[{"_internalId":5012345,"_parentId":"5000001","code":"1001",
			"name":"Ticket 1001","p_tdi_estado_freshdesk":{"id":"Cerrada","displayValue":"Cerrada"},
			"status":{"id":1,"displayValue":"Activo"}}]}`))
	})

	task, err := client.FindTask(context.Background(), " 1001 ")
	if err != nil {
		t.Fatalf("FindTask() error = %v", err)
	}
	if task.InternalID != "5012345" || task.ParentID != "5000001" {
		t.Errorf("ids = %q / %q", task.InternalID, task.ParentID)
	}
	if task.MirrorStatus != "Cerrada" || task.Status != "Activo" {
		t.Errorf("statuses = %q / %q", task.MirrorStatus, task.Status)
	}
	if !task.HasIDs() {
		t.Error("HasIDs() = false")
	}
}

func TestFindTask_NoResults(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"_results":[]}`))
	})

	_, err := client.FindTask(context.Background(), "9")
	if !remote.IsNotFound(err) {
		t.Fatalf("FindTask() error = %v, want not found", err)
	}
}

func TestFindTask_MissingIDs(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"_results":[{"_internalId":null,"code":"9","p_tdi_estado_freshdesk":"Abierta"}]}`))
	})

	task, err := client.FindTask(context.Background(), "9")
	if err != nil {
		t.Fatalf("FindTask() error = %v", err)
	}
	if task.HasIDs() {
		t.Errorf("HasIDs() = true for %+v", task)
	}
	if task.MirrorStatus != "Abierta" {
		t.Errorf("MirrorStatus = %q", task.MirrorStatus)
	}
}

func TestUpdateMirrorStatus_Patch(t *testing.T) {
	var calls []string
	var body map[string]map[string]string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.Method+" "+r.URL.Path)
		json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusOK)
	})

	if err := client.UpdateMirrorStatus(context.Background(), "500", "501", "Abierta"); err != nil {
		t.Fatalf("UpdateMirrorStatus() error = %v", err)
	}
	if len(calls) != 1 || calls[0] != "PATCH /custTdiInvBacklogs/500/tasks/501" {
		t.Errorf("calls = %v", calls)
	}
	if body[MirrorField]["id"] != "Abierta" || body[MirrorField]["displayValue"] != "Abierta" {
		t.Errorf("body = %v", body)
	}
}

func TestUpdateMirrorStatus_FallsBackToPut(t *testing.T) {
	var methods []string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		methods = append(methods, r.Method)
		if r.Method == http.MethodPatch {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	if err := client.UpdateMirrorStatus(context.Background(), "500", "501", "Resuelto"); err != nil {
		t.Fatalf("UpdateMirrorStatus() error = %v", err)
	}
	if len(methods) != 2 || methods[0] != http.MethodPatch || methods[1] != http.MethodPut {
		t.Errorf("methods = %v, want PATCH then PUT", methods)
	}
}

func TestUpdateMirrorStatus_OnlyStatus200Succeeds(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	err := client.UpdateMirrorStatus(context.Background(), "500", "501", "Cerrada")
	if err == nil {
		t.Fatal("UpdateMirrorStatus() expected error for 204")
	}
	if remote.StatusCode(err) != http.StatusNoContent {
		t.Errorf("StatusCode = %d, want 204", remote.StatusCode(err))
	}
}

func TestUpdateMirrorStatus_AuthFailureSkipsPut(t *testing.T) {
	var calls int
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
	})

	err := client.UpdateMirrorStatus(context.Background(), "500", "501", "Cerrada")
	if !remote.IsAuth(err) {
		t.Fatalf("error = %v, want auth", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}
