package catalog

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDefault(t *testing.T) {
	c := Default()
	if len(c.Examples) != 2 {
		t.Fatalf("got %d examples, want 2", len(c.Examples))
	}
	want := Example{
		ID:          "9a637dbb-39b9-4450-ac30-af76c333fcd1",
		Title:       "SpaceX Acquisition of xAI",
		Description: "Deep research into SpaceX's acquisition of xAI, strategic rationale, valuation, and market implications",
		Type:        "Due Diligence",
	}
	if diff := cmp.Diff(want, c.Examples[0]); diff != "" {
		t.Errorf("first example mismatch (-want +got):\n%s", diff)
	}
}

func TestFind(t *testing.T) {
	c := Default()
	tests := []struct {
		ref    string
		wantID string
	}{
		{"7d497a3b-e272-4b60-bf9d-de71af0830f5", "7d497a3b-e272-4b60-bf9d-de71af0830f5"},
		{"1", "9a637dbb-39b9-4450-ac30-af76c333fcd1"},
		{" space data centres ", "7d497a3b-e272-4b60-bf9d-de71af0830f5"},
	}
	for _, tt := range tests {
		ex, err := c.Find(tt.ref)
		if err != nil {
			t.Errorf("Find(%q): %v", tt.ref, err)
			continue
		}
		if ex.ID != tt.wantID {
			t.Errorf("Find(%q) = %s, want %s", tt.ref, ex.ID, tt.wantID)
		}
	}

	for _, ref := range []string{"3", "0", "nope"} {
		if _, err := c.Find(ref); !errors.Is(err, ErrNotFound) {
			t.Errorf("Find(%q) = %v, want ErrNotFound", ref, err)
		}
	}
}

func TestParseValidation(t *testing.T) {
	tests := []struct {
		name, yaml, wantErr string
	}{
		{"missing id", "examples:\n  - title: X\n", "id is required"},
		{"missing title", "examples:\n  - id: a\n", "title is required"},
		{"duplicate", "examples:\n  - {id: a, title: A}\n  - {id: a, title: B}\n", "duplicate id"},
		{"bad yaml", "examples: [", "parsing catalog"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Parse = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "examples.yaml")
	if err := os.WriteFile(path, []byte("examples:\n  - {id: x1, title: Custom, type: Custom}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(c.Examples) != 1 || c.Examples[0].Title != "Custom" {
		t.Errorf("loaded = %+v", c.Examples)
	}
}
