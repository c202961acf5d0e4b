package mna

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestBuildDeliverables(t *testing.T) {
	got := BuildDeliverables("Acme")
	if len(got) != 3 {
		t.Fatalf("got %d deliverables, want 3", len(got))
	}

	types := []DeliverableType{got[0].Type, got[1].Type, got[2].Type}
	if diff := cmp.Diff([]DeliverableType{Spreadsheet, Document, Presentation}, types); diff != "" {
		t.Errorf("types mismatch (-want +got):\n%s", diff)
	}
	for _, d := range got {
		if !strings.Contains(d.Title, "Acme") {
			t.Errorf("title %q does not name the target", d.Title)
		}
		if !strings.Contains(d.Description, "Acme") {
			t.Errorf("description %q does not name the target", d.Description)
		}
	}
	if got[0].Title != "Financial Analysis Matrix — Acme" {
		t.Errorf("xlsx title = %q", got[0].Title)
	}
}

func TestBuildSearchConfig(t *testing.T) {
	tests := []struct {
		name       string
		categories []string
		want       []string
	}{
		{"empty", nil, []string{"web", "academic"}},
		{"sec filings", []string{SECFilings}, []string{"web", "academic", "finance"}},
		{"patents", []string{Patents}, []string{"web", "academic", "patent"}},
		{"market only", []string{MarketIntelligence}, []string{"web", "academic"}},
		{"patent first", []string{Patents, InsiderActivity, SECFilings}, []string{"web", "academic", "patent", "finance"}},
		{"finance dedup", []string{FinancialStatements, SECFilings, InsiderActivity}, []string{"web", "academic", "finance"}},
		{"all", CategoryIDs(), []string{"web", "academic", "finance", "patent"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BuildSearchConfig(tt.categories)
			if got.SearchType != "all" {
				t.Errorf("SearchType = %q, want all", got.SearchType)
			}
			if diff := cmp.Diff(tt.want, got.IncludedSources); diff != "" {
				t.Errorf("IncludedSources mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestBuildPlan(t *testing.T) {
	in := QueryInput{TargetCompany: "Acme", Financial: NewFinancialContext(nil)}
	p := BuildPlan(in, []string{Patents})

	if p.Query != BuildQuery(in) {
		t.Error("plan query differs from BuildQuery")
	}
	if diff := cmp.Diff(BuildDeliverables("Acme"), p.Deliverables); diff != "" {
		t.Errorf("deliverables mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"web", "academic", "patent"}, p.SearchConfig.IncludedSources); diff != "" {
		t.Errorf("sources mismatch (-want +got):\n%s", diff)
	}
}

func TestLookupCategory(t *testing.T) {
	c, ok := LookupCategory(Patents)
	if !ok || c.Label != "Patent & IP Portfolio" {
		t.Errorf("LookupCategory(patents) = %+v, %v", c, ok)
	}
	if _, ok := LookupCategory("astrology"); ok {
		t.Error("unknown category should not be found")
	}
	if len(Categories()) != 5 {
		t.Errorf("Categories() has %d entries, want 5", len(Categories()))
	}
}
