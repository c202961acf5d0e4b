package deepresearch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestFetchStatus_Running(t *testing.T) {
	var gotAuth, gotTask, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotTask = r.URL.Query().Get("taskId")
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"status":"processing","task_id":"T1","progress":{"current_step":2,"total_steps":10}}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	snap, err := c.FetchStatus(context.Background(), "T1", "tok")
	if err != nil {
		t.Fatalf("FetchStatus: %v", err)
	}

	if gotPath != pathStatus || gotTask != "T1" || gotAuth != "Bearer tok" {
		t.Errorf("request = %s taskId=%s auth=%q", gotPath, gotTask, gotAuth)
	}
	if snap.Status != StatusRunning {
		t.Errorf("Status = %q, want running", snap.Status)
	}
	if snap.Progress == nil || snap.Progress.Percent() != 20 {
		t.Errorf("Progress = %+v, want 20%%", snap.Progress)
	}
}

func TestFetchStatus_NoCredentialOmitsHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := r.Header["Authorization"]; ok {
			t.Error("unexpected Authorization header")
		}
		fmt.Fprint(w, `{"status":"queued"}`)
	}))
	defer srv.Close()

	snap, err := NewClient(srv.URL).FetchStatus(context.Background(), "T9", "")
	if err != nil {
		t.Fatalf("FetchStatus: %v", err)
	}
	if snap.TaskID != "T9" {
		t.Errorf("TaskID = %q, want fallback to requested id", snap.TaskID)
	}
}

func TestFetchStatus_Completed(t *testing.T) {
	body := map[string]any{
		"status":          "completed",
		"deepresearch_id": "T1",
		"output":          "# Report\nBody",
		"sources":         []map[string]string{{"title": "10-K", "url": "https://sec.gov/x"}},
		"usage":           map[string]any{"tokens": 12},
		"pdf_url":         "https://cdn.example/r.pdf",
		"deliverables":    []map[string]string{{"type": "xlsx", "title": "Matrix", "url": "https://cdn.example/m.xlsx", "status": "ready"}},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(body)
	}))
	defer srv.Close()

	snap, err := NewClient(srv.URL).FetchStatus(context.Background(), "T1", "tok")
	if err != nil {
		t.Fatalf("FetchStatus: %v", err)
	}

	want := Snapshot{
		Status:       StatusCompleted,
		TaskID:       "T1",
		Output:       "# Report\nBody",
		Sources:      []Source{{Title: "10-K", URL: "https://sec.gov/x"}},
		PDFURL:       "https://cdn.example/r.pdf",
		Deliverables: []Deliverable{{Type: "xlsx", Title: "Matrix", URL: "https://cdn.example/m.xlsx", Status: "ready"}},
	}
	got := snap
	got.Usage = nil
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}
	if string(snap.Usage) != `{"tokens":12}` {
		t.Errorf("Usage = %s", snap.Usage)
	}
}

func TestFetchStatus_ObjectOutput(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"completed","output":{ "summary": "ok" }}`)
	}))
	defer srv.Close()

	snap, err := NewClient(srv.URL).FetchStatus(context.Background(), "T1", "")
	if err != nil {
		t.Fatalf("FetchStatus: %v", err)
	}
	if snap.Output != `{"summary":"ok"}` {
		t.Errorf("Output = %q, want compact JSON", snap.Output)
	}
}

func TestFetchStatus_AuthExpired(t *testing.T) {
	for _, code := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		t.Run(http.StatusText(code), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(code)
				fmt.Fprint(w, `{"error":"Session expired. Please sign in again."}`)
			}))
			defer srv.Close()

			_, err := NewClient(srv.URL).FetchStatus(context.Background(), "T1", "stale")
			if !errors.Is(err, ErrAuthExpired) {
				t.Fatalf("err = %v, want ErrAuthExpired", err)
			}
			var ae *AuthExpiredError
			if !errors.As(err, &ae) || ae.Code != code {
				t.Errorf("AuthExpiredError = %+v", ae)
			}
			if ae.Message != "Session expired. Please sign in again." {
				t.Errorf("Message = %q", ae.Message)
			}
			if IsTransient(err) {
				t.Error("auth failure reported as transient")
			}
		})
	}
}

func TestFetchStatus_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).FetchStatus(context.Background(), "T1", "")
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusBadGateway || se.Message != "boom" {
		t.Fatalf("err = %v, want StatusError 502 boom", err)
	}
	if errors.Is(err, ErrAuthExpired) {
		t.Error("502 should not match ErrAuthExpired")
	}
	if !IsTransient(err) {
		t.Error("502 should be transient")
	}
}

func TestFetchStatus_Malformed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html>not json</html>`)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).FetchStatus(context.Background(), "T1", "")
	if !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("err = %v, want ErrMalformedResponse", err)
	}
}

func TestFetchPublicStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != pathPublicStatus {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "" {
			t.Error("public status must not send credentials")
		}
		fmt.Fprint(w, `{"status":"completed","output":"Hello"}`)
	}))
	defer srv.Close()

	snap, err := NewClient(srv.URL).FetchPublicStatus(context.Background(), "EX1")
	if err != nil {
		t.Fatalf("FetchPublicStatus: %v", err)
	}
	if snap.Status != StatusCompleted || snap.Output != "Hello" {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestCancel(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != pathCancel {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	if err := NewClient(srv.URL).Cancel(context.Background(), "T1", "tok"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if got["taskId"] != "T1" {
		t.Errorf("body = %v", got)
	}
}

func TestSendFollowUp(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		fmt.Fprint(w, `{"deepresearch_id":"T2"}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithAlertEmail("me@example.com"))
	id, err := c.SendFollowUp(context.Background(), "T1", "What about churn?", "tok")
	if err != nil {
		t.Fatalf("SendFollowUp: %v", err)
	}
	if id != "T2" {
		t.Errorf("id = %q, want T2", id)
	}
	want := map[string]any{"taskId": "T1", "instruction": "What about churn?", "alertEmail": "me@example.com"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("body mismatch (-want +got):\n%s", diff)
	}
}

func TestSendFollowUp_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"Task not completed"}`)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).SendFollowUp(context.Background(), "T1", "q", "")
	var se *StatusError
	if !errors.As(err, &se) || se.Message != "Task not completed" {
		t.Fatalf("err = %v", err)
	}

	empty := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{}`)
	}))
	defer empty.Close()
	if _, err := NewClient(empty.URL).SendFollowUp(context.Background(), "T1", "q", ""); !errors.Is(err, ErrMalformedResponse) {
		t.Errorf("missing id: err = %v, want ErrMalformedResponse", err)
	}
}

func TestToggleShare(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != pathTogglePublic {
			t.Errorf("path = %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
	}))
	defer srv.Close()

	if err := NewClient(srv.URL).ToggleShare(context.Background(), "T1", true, "tok"); err != nil {
		t.Fatalf("ToggleShare: %v", err)
	}
	if got["taskId"] != "T1" || got["isPublic"] != true {
		t.Errorf("body = %v", got)
	}
}

func TestCreateTask(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != pathCreate {
			t.Errorf("path = %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
		fmt.Fprint(w, `{"deepresearch_id":"NEW"}`)
	}))
	defer srv.Close()

	req := CreateRequest{
		ResearchType:   TypeMnA,
		Subject:        "  Acme  ",
		Mode:           ModeFast,
		DataCategories: []string{"sec_filings"},
		DealContext:    "Hostile bid",
	}
	id, err := NewClient(srv.URL).CreateTask(context.Background(), req, "tok")
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if id != "NEW" {
		t.Errorf("id = %q", id)
	}
	if got["researchSubject"] != "Acme" || got["researchMode"] != "fast" || got["dealContext"] != "Hostile bid" {
		t.Errorf("payload = %v", got)
	}
	if _, ok := got["urls"]; ok {
		t.Error("empty urls should be omitted")
	}
}

func TestCreateTask_InvalidNeverSent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("invalid request reached the server")
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).CreateTask(context.Background(), CreateRequest{ResearchType: TypeCompany, Mode: ModeFast}, "")
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Field != "subject" {
		t.Fatalf("err = %v, want subject ValidationError", err)
	}
}

func TestParseStatus(t *testing.T) {
	tests := map[string]Status{
		"queued":      StatusQueued,
		"":            StatusQueued,
		"running":     StatusRunning,
		"processing":  StatusRunning,
		"in_progress": StatusRunning,
		"COMPLETED":   StatusCompleted,
		"failed":      StatusFailed,
		"cancelled":   StatusCancelled,
		"canceled":    StatusCancelled,
	}
	for in, want := range tests {
		if got := ParseStatus(in); got != want {
			t.Errorf("ParseStatus(%q) = %q, want %q", in, got, want)
		}
	}
	if StatusRunning.Terminal() || !StatusCancelled.Terminal() {
		t.Error("Terminal() mismatch")
	}
}

func TestNewClient_NoRequestTimeout(t *testing.T) {
	c := NewClient("http://example.com/")
	if c.httpClient.Timeout != 0 {
		t.Errorf("default timeout = %v, want none", c.httpClient.Timeout)
	}
	if c.baseURL != "http://example.com" {
		t.Errorf("baseURL = %q", c.baseURL)
	}
}
