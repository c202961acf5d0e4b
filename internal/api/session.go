package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/deepdesk/internal/catalog"
	"github.com/kalambet/deepdesk/internal/deepresearch"
	"github.com/kalambet/deepdesk/internal/deliverables"
	"github.com/kalambet/deepdesk/internal/session"
	"github.com/kalambet/deepdesk/internal/storage"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 200
)

// SessionController is the task lifecycle surface the API drives.
type SessionController interface {
	Snapshot() session.View
	Launch(ctx context.Context, req deepresearch.CreateRequest) (string, error)
	ResumeFromLink(ctx context.Context, taskID string) error
	ResumeFromHistory(item storage.HistoryItem) error
	SelectPublic(taskID, title string) error
	Cancel(ctx context.Context) (session.View, error)
	Reset()
	FollowUp(ctx context.Context, instruction string) (string, error)
	Retry() error
}

// HistoryReader lists recorded tasks.
type HistoryReader interface {
	GetHistory(id string) (storage.HistoryItem, error)
	ListHistory(limit int) ([]storage.HistoryItem, error)
}

// Sharer toggles public visibility of a task.
type Sharer interface {
	RequestShare(ctx context.Context, taskID string, isPublic bool) error
}

// Downloader fetches the artifacts of a completed report.
type Downloader interface {
	Download(ctx context.Context, b deliverables.Bundle, dir string) ([]deliverables.Artifact, error)
}

type AppDeps struct {
	Session    SessionController
	History    HistoryReader
	Catalog    *catalog.Catalog
	Sharer     Sharer     // optional; share requests fail without it
	Downloader Downloader // optional; downloads fail without it
	Metrics    http.Handler
	Token      string
	AppURL     string
	AlertEmail string
	Logger     *slog.Logger
}

// ResearchRequest is the body of POST /session/research and the arguments
// of the start_research tool.
type ResearchRequest struct {
	ResearchType      string   `json:"research_type"`
	Subject           string   `json:"subject"`
	Focus             string   `json:"focus,omitempty"`
	ClientContext     string   `json:"client_context,omitempty"`
	SpecificQuestions string   `json:"specific_questions,omitempty"`
	Mode              string   `json:"mode"`
	DataCategories    []string `json:"data_categories,omitempty"`
	DealContext       string   `json:"deal_context,omitempty"`
	URLs              []string `json:"urls,omitempty"`
	Confirm           bool     `json:"confirm,omitempty"`
}

// errConfirmationRequired is returned for max-mode requests without confirm.
var errConfirmationRequired = errors.New("max mode can run for up to 180 minutes; resend with confirm set to start it")

func (r ResearchRequest) createRequest(alertEmail string) (deepresearch.CreateRequest, error) {
	mode := deepresearch.Mode(strings.ToLower(strings.TrimSpace(r.Mode)))
	if mode == "" {
		mode = deepresearch.ModeStandard
	}
	if mode.RequiresConfirmation() && !r.Confirm {
		return deepresearch.CreateRequest{}, errConfirmationRequired
	}
	rt := deepresearch.ResearchType(strings.ToLower(strings.TrimSpace(r.ResearchType)))
	if rt == "" {
		rt = deepresearch.TypeCustom
	}
	return deepresearch.CreateRequest{
		ResearchType:      rt,
		Subject:           r.Subject,
		Focus:             r.Focus,
		ClientContext:     r.ClientContext,
		SpecificQuestions: r.SpecificQuestions,
		Mode:              mode,
		DataCategories:    r.DataCategories,
		DealContext:       r.DealContext,
		URLs:              r.URLs,
		AlertEmail:        alertEmail,
	}, nil
}

type historyEntry struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	ResearchType string    `json:"research_type"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func toHistoryEntries(items []storage.HistoryItem) []historyEntry {
	out := make([]historyEntry, len(items))
	for i, it := range items {
		out[i] = historyEntry{
			ID:           it.ID,
			Title:        it.Title,
			ResearchType: it.ResearchType,
			Status:       it.Status,
			CreatedAt:    it.CreatedAt,
			UpdatedAt:    it.UpdatedAt,
		}
	}
	return out
}

// NewAppHandler returns the daemon's HTTP API. /health and /metrics are open;
// everything else requires the bearer token.
func NewAppHandler(deps AppDeps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Catalog == nil {
		deps.Catalog = catalog.Default()
	}

	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Get("/session", handleGetSession(deps))
		r.Post("/session/research", handleStartResearch(deps))
		r.Post("/session/open", handleOpenReference(deps))
		r.Post("/session/history/{id}", handleOpenHistory(deps))
		r.Post("/session/examples/{ref}", handleOpenExample(deps))
		r.Post("/session/cancel", handleCancel(deps))
		r.Post("/session/reset", handleReset(deps))
		r.Post("/session/follow-up", handleFollowUp(deps))
		r.Post("/session/retry", handleRetry(deps))
		r.Post("/session/share", handleShare(deps))
		r.Post("/session/download", handleDownload(deps))
		r.Get("/history", handleListHistory(deps))
		r.Get("/examples", handleListExamples(deps))
	})

	return r
}

func handleGetSession(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, deps.Session.Snapshot())
	}
}

func handleStartResearch(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ResearchRequest
		if !decodeBody(w, r, &req) {
			return
		}
		create, err := req.createRequest(deps.AlertEmail)
		if err != nil {
			httpError(w, http.StatusBadRequest, "confirmation_required", "%v", err)
			return
		}
		if err := create.Validate(); err != nil {
			sessionError(w, err)
			return
		}
		id, err := deps.Session.Launch(r.Context(), create)
		if err != nil {
			sessionError(w, err)
			return
		}
		deps.Logger.Info("research started", "task_id", id, "mode", create.Mode, "type", create.ResearchType)
		writeJSON(w, http.StatusCreated, deps.Session.Snapshot())
	}
}

func handleOpenReference(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Reference string `json:"reference"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		id, ok := deepresearch.ParseReference(req.Reference)
		if !ok {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "reference %q is neither a task id nor a share link", req.Reference)
			return
		}
		if err := deps.Session.ResumeFromLink(r.Context(), id); err != nil {
			sessionError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, deps.Session.Snapshot())
	}
}

func handleOpenHistory(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := pathParam(r, "id")
		item, err := deps.History.GetHistory(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found_error", "no history entry %q", id)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "reading history: %v", err)
			return
		}
		if err := deps.Session.ResumeFromHistory(item); err != nil {
			sessionError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, deps.Session.Snapshot())
	}
}

func handleOpenExample(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ex, err := deps.Catalog.Find(pathParam(r, "ref"))
		if err != nil {
			httpError(w, http.StatusNotFound, "not_found_error", "%v", err)
			return
		}
		if err := deps.Session.SelectPublic(ex.ID, ex.Title); err != nil {
			sessionError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, deps.Session.Snapshot())
	}
}

func handleCancel(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Remote cancellation outlives this request.
		v, err := deps.Session.Cancel(context.WithoutCancel(r.Context()))
		if err != nil {
			sessionError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, v)
	}
}

func handleReset(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deps.Session.Reset()
		writeJSON(w, http.StatusOK, deps.Session.Snapshot())
	}
}

func handleFollowUp(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Instruction string `json:"instruction"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.Instruction) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "instruction is required")
			return
		}
		if _, err := deps.Session.FollowUp(r.Context(), req.Instruction); err != nil {
			sessionError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, deps.Session.Snapshot())
	}
}

func handleRetry(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Session.Retry(); err != nil {
			sessionError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, deps.Session.Snapshot())
	}
}

func handleShare(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Public *bool `json:"public"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		public := req.Public == nil || *req.Public

		v := deps.Session.Snapshot()
		if v.TaskID == "" {
			sessionError(w, session.ErrNoActiveTask)
			return
		}
		if deps.Sharer == nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "sharing is not configured")
			return
		}
		if err := deps.Sharer.RequestShare(r.Context(), v.TaskID, public); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "queueing share request: %v", err)
			return
		}
		resp := map[string]any{"task_id": v.TaskID, "public": public}
		if public {
			resp["share_url"] = deepresearch.ShareLink(deps.AppURL, v.TaskID)
		}
		writeJSON(w, http.StatusAccepted, resp)
	}
}

func handleDownload(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Dir string `json:"dir"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Dir == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "dir is required")
			return
		}

		v := deps.Session.Snapshot()
		if v.TaskID == "" {
			sessionError(w, session.ErrNoActiveTask)
			return
		}
		if v.Phase != session.PhaseCompleted {
			httpError(w, http.StatusConflict, "invalid_request_error", "research is %s; downloads are available once it completes", v.Phase)
			return
		}
		if deps.Downloader == nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "downloads are not configured")
			return
		}

		artifacts, err := deps.Downloader.Download(r.Context(), deliverables.Bundle{
			TaskID:       v.TaskID,
			Title:        v.DisplayTitle(),
			PDFURL:       v.PDFURL,
			Deliverables: v.Deliverables,
		}, req.Dir)
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "%v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"artifacts": artifacts})
	}
}

func handleListHistory(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := defaultHistoryLimit
		if s := r.URL.Query().Get("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n <= 0 {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "limit must be a positive integer")
				return
			}
			limit = min(n, maxHistoryLimit)
		}
		items, err := deps.History.ListHistory(limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing history: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, toHistoryEntries(items))
	}
}

func handleListExamples(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, deps.Catalog.Examples)
	}
}

// pathParam returns the unescaped route parameter.
func pathParam(r *http.Request, name string) string {
	raw := chi.URLParam(r, name)
	if v, err := url.PathUnescape(raw); err == nil {
		return v
	}
	return raw
}

// describe is a short human status line for tool output.
func describe(v session.View) string {
	if v.TaskID == "" {
		return "No active research."
	}
	s := fmt.Sprintf("%s (%s): %s", v.DisplayTitle(), v.TaskID, v.Phase)
	if v.Progress != nil {
		s += fmt.Sprintf(", %d%%", v.ProgressPercent)
	}
	if v.NeedsAuth {
		s += ", needs sign-in"
	}
	return s
}
