package deepresearch

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Status is the lifecycle state reported by the research API.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// ParseStatus normalises a wire status. The API also reports "processing"
// and "in_progress" for running tasks. Unknown or empty values map to queued.
func ParseStatus(s string) Status {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "running", "processing", "in_progress":
		return StatusRunning
	case "completed":
		return StatusCompleted
	case "failed":
		return StatusFailed
	case "cancelled", "canceled":
		return StatusCancelled
	default:
		return StatusQueued
	}
}

// Terminal reports whether no further transitions are expected.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Mode is the cost/depth tier chosen at creation.
type Mode string

const (
	ModeFast     Mode = "fast"
	ModeStandard Mode = "standard"
	ModeHeavy    Mode = "heavy"
	ModeMax      Mode = "max"
)

// Modes lists the known modes in ascending effort.
var Modes = []Mode{ModeFast, ModeStandard, ModeHeavy, ModeMax}

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	for _, k := range Modes {
		if m == k {
			return true
		}
	}
	return false
}

// Duration returns the user-facing runtime hint for m.
func (m Mode) Duration() string {
	switch m {
	case ModeFast:
		return "5-10 minutes"
	case ModeStandard:
		return "10-20 minutes"
	case ModeHeavy:
		return "up to 90 minutes"
	case ModeMax:
		return "up to 180 minutes"
	}
	return ""
}

// RequiresConfirmation is true for modes with a significant per-run cost.
func (m Mode) RequiresConfirmation() bool {
	return m == ModeMax
}

// ResearchType tags a task for display and grouping.
type ResearchType string

const (
	TypeMnA         ResearchType = "mna"
	TypeCompany     ResearchType = "company"
	TypeMarket      ResearchType = "market"
	TypeCompetitive ResearchType = "competitive"
	TypeIndustry    ResearchType = "industry"
	TypeCustom      ResearchType = "custom"
)

// ResearchTypes lists the known research types.
var ResearchTypes = []ResearchType{TypeMnA, TypeCompany, TypeMarket, TypeCompetitive, TypeIndustry, TypeCustom}

// Valid reports whether t is a known research type.
func (t ResearchType) Valid() bool {
	for _, k := range ResearchTypes {
		if t == k {
			return true
		}
	}
	return false
}

// Source is one citation attached to a report.
type Source struct {
	Title string `json:"title,omitempty"`
	URL   string `json:"url,omitempty"`
}

// Deliverable is a generated artifact referenced by URL.
type Deliverable struct {
	Type   string `json:"type,omitempty"`
	Title  string `json:"title,omitempty"`
	URL    string `json:"url,omitempty"`
	Status string `json:"status,omitempty"`
}

// Progress reports step counts while a task runs.
type Progress struct {
	CurrentStep int `json:"current_step"`
	TotalSteps  int `json:"total_steps"`
}

// Percent returns the completed share in [0, 100], rounded half up. Zero
// total steps yields 0.
func (p Progress) Percent() int {
	if p.TotalSteps <= 0 {
		return 0
	}
	cur := p.CurrentStep
	if cur > p.TotalSteps {
		cur = p.TotalSteps
	}
	if cur < 0 {
		cur = 0
	}
	return (cur*200 + p.TotalSteps) / (2 * p.TotalSteps)
}

// Snapshot is one status reading of a task. Enrichment fields are copied
// verbatim from the response.
type Snapshot struct {
	Status       Status          `json:"status"`
	TaskID       string          `json:"task_id"`
	Output       string          `json:"output,omitempty"`
	Sources      []Source        `json:"sources,omitempty"`
	Usage        json.RawMessage `json:"usage,omitempty"`
	PDFURL       string          `json:"pdf_url,omitempty"`
	Deliverables []Deliverable   `json:"deliverables,omitempty"`
	Progress     *Progress       `json:"progress,omitempty"`
	Messages     json.RawMessage `json:"messages,omitempty"`
	Error        string          `json:"error,omitempty"`
}

type wireSnapshot struct {
	Status         string          `json:"status"`
	TaskID         string          `json:"task_id"`
	DeepresearchID string          `json:"deepresearch_id"`
	Output         json.RawMessage `json:"output"`
	Sources        []Source        `json:"sources"`
	Usage          json.RawMessage `json:"usage"`
	PDFURL         string          `json:"pdf_url"`
	Deliverables   []Deliverable   `json:"deliverables"`
	Progress       *Progress       `json:"progress"`
	Messages       json.RawMessage `json:"messages"`
	Error          string          `json:"error"`
}

func (w wireSnapshot) snapshot(requestedID string) (Snapshot, error) {
	s := Snapshot{
		Status:       ParseStatus(w.Status),
		TaskID:       w.TaskID,
		Sources:      w.Sources,
		Usage:        nullToNil(w.Usage),
		PDFURL:       w.PDFURL,
		Deliverables: w.Deliverables,
		Progress:     w.Progress,
		Messages:     nullToNil(w.Messages),
		Error:        w.Error,
	}
	if s.TaskID == "" {
		s.TaskID = w.DeepresearchID
	}
	if s.TaskID == "" {
		s.TaskID = requestedID
	}

	out, err := decodeOutput(w.Output)
	if err != nil {
		return Snapshot{}, err
	}
	s.Output = out
	return s, nil
}

// decodeOutput accepts a JSON string or any other JSON value. Non-string
// values are kept as compact JSON text.
func decodeOutput(raw json.RawMessage) (string, error) {
	raw = nullToNil(raw)
	if len(raw) == 0 {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return s, nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func nullToNil(raw json.RawMessage) json.RawMessage {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil
	}
	return raw
}
