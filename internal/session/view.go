package session

import (
	"encoding/json"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kalambet/deepdesk/internal/deepresearch"
)

// Phase is the lifecycle state of the session-active task.
type Phase string

const (
	PhaseNone      Phase = "none"
	PhaseResuming  Phase = "resuming"
	PhaseQueued    Phase = "queued"
	PhaseRunning   Phase = "running"
	PhaseCompleted Phase = "completed"
	PhaseFailed    Phase = "failed"
	PhaseCancelled Phase = "cancelled"
)

// Terminal reports whether the phase ends polling.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseFailed || p == PhaseCancelled
}

func phaseOf(s deepresearch.Status) Phase {
	switch s {
	case deepresearch.StatusRunning:
		return PhaseRunning
	case deepresearch.StatusCompleted:
		return PhaseCompleted
	case deepresearch.StatusFailed:
		return PhaseFailed
	case deepresearch.StatusCancelled:
		return PhaseCancelled
	default:
		return PhaseQueued
	}
}

// View is an immutable copy of the session state handed to observers.
type View struct {
	TaskID          string                     `json:"task_id,omitempty"`
	Title           string                     `json:"title,omitempty"`
	ResearchType    string                     `json:"research_type,omitempty"`
	Mode            deepresearch.Mode          `json:"mode,omitempty"`
	Phase           Phase                      `json:"phase"`
	Progress        *deepresearch.Progress     `json:"progress,omitempty"`
	ProgressPercent int                        `json:"progress_percent"`
	Output          string                     `json:"output,omitempty"`
	Sources         []deepresearch.Source      `json:"sources,omitempty"`
	Deliverables    []deepresearch.Deliverable `json:"deliverables,omitempty"`
	PDFURL          string                     `json:"pdf_url,omitempty"`
	Usage           json.RawMessage            `json:"usage,omitempty"`
	Messages        json.RawMessage            `json:"messages,omitempty"`
	RemoteError     string                     `json:"remote_error,omitempty"`
	Public          bool                       `json:"public"`
	Polling         bool                       `json:"polling"`
	PollInterval    time.Duration              `json:"poll_interval"`
	NeedsAuth       bool                       `json:"needs_auth"`
	LastError       string                     `json:"last_error,omitempty"`
	UpdatedAt       time.Time                  `json:"updated_at"`
}

// DisplayTitle falls back to a generic label when no title is known.
func (v View) DisplayTitle() string {
	if v.Title != "" {
		return v.Title
	}
	return "Your research"
}

const maxInferredTitle = 60

// InferTitle derives a title from the first non-blank line of a report,
// dropping leading markdown heading markers. It returns "" for blank output.
func InferTitle(output string) string {
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		line = strings.TrimSpace(strings.TrimLeft(line, "#"))
		return truncateRunes(line, maxInferredTitle)
	}
	return ""
}

const maxFollowUpPrefix = 50

// FollowUpTitle names a follow-up task after its instruction.
func FollowUpTitle(instruction string) string {
	return "Follow-up: " + truncateRunes(strings.TrimSpace(instruction), maxFollowUpPrefix)
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
