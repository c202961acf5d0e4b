package mna

import (
	"strings"
	"testing"
)

func sampleContext() FinancialContext {
	return NewFinancialContext([]Result{
		{Label: "SEC Filings (10-K, 10-Q, 8-K)", Success: true, Data: "Revenue grew 12%."},
		{Label: "Patent & IP Portfolio", Success: false, Error: "timeout"},
		{Label: "Insider Activity & Market Signals", Success: false},
	})
}

func TestBuildQuery_SectionsInOrder(t *testing.T) {
	q := BuildQuery(QueryInput{TargetCompany: "Acme Corp", Financial: sampleContext()})

	want := []string{
		"investment report on **Acme Corp**.",
		"## Phase 1 Financial Data Context",
		"(1/3 categories succeeded)",
		"## Required Due-Diligence Report Structure",
		"1. **Executive Summary",
		"2. **Company Overview",
		"3. **Financial Analysis",
		"4. **SEC Filing Key Findings",
		"5. **IP & Patent Portfolio Assessment",
		"6. **Insider Activity & Market Sentiment",
		"7. **Competitive Positioning",
		"8. **Risk Matrix",
		"9. **Valuation Context",
		"10. **Go/No-Go",
		"## Formatting Requirements",
	}
	pos := 0
	for _, w := range want {
		i := strings.Index(q[pos:], w)
		if i < 0 {
			t.Fatalf("missing %q after offset %d in:\n%s", w, pos, q)
		}
		pos += i + len(w)
	}
}

func TestBuildQuery_CategoryStatus(t *testing.T) {
	q := BuildQuery(QueryInput{TargetCompany: "Acme", Financial: sampleContext()})

	for _, line := range []string{
		"  - SEC Filings (10-K, 10-Q, 8-K): SUCCEEDED",
		"  - Patent & IP Portfolio: FAILED (timeout)",
		"  - Insider Activity & Market Signals: FAILED (unknown)",
		"**Financial Data:**\n### SEC Filings (10-K, 10-Q, 8-K)\n\nRevenue grew 12%.",
	} {
		if !strings.Contains(q, line) {
			t.Errorf("query missing %q", line)
		}
	}
}

func TestBuildQuery_OptionalSections(t *testing.T) {
	base := QueryInput{TargetCompany: "Acme", Financial: sampleContext()}

	q := BuildQuery(base)
	for _, h := range []string{"## Deal Context", "## Research Focus Areas", "## Specific Questions to Address"} {
		if strings.Contains(q, h) {
			t.Errorf("empty input should omit %q", h)
		}
	}
	if strings.Contains(q, "\n\n\n") {
		t.Error("omitted sections left a gap")
	}

	withBlank := base
	withBlank.DealContext = "   "
	if strings.Contains(BuildQuery(withBlank), "## Deal Context") {
		t.Error("blank deal context should be omitted")
	}

	full := base
	full.DealContext = "Strategic acquisition, $2B."
	full.ResearchFocus = "Cloud revenue."
	full.SpecificQuestions = "Is churn rising?"
	q = BuildQuery(full)

	deal := strings.Index(q, "## Deal Context\n\nStrategic acquisition, $2B.")
	focus := strings.Index(q, "## Research Focus Areas\n\nCloud revenue.")
	questions := strings.Index(q, "## Specific Questions to Address\n\nIs churn rising?")
	format := strings.Index(q, "## Formatting Requirements")
	if deal < 0 || focus < 0 || questions < 0 {
		t.Fatalf("optional sections missing:\n%s", q)
	}
	if !(deal < focus && focus < questions && questions < format) {
		t.Errorf("optional sections out of order: deal=%d focus=%d questions=%d format=%d", deal, focus, questions, format)
	}
}

func TestBuildQuery_Deterministic(t *testing.T) {
	in := QueryInput{TargetCompany: "Acme", Financial: sampleContext(), DealContext: "x"}
	if BuildQuery(in) != BuildQuery(in) {
		t.Error("BuildQuery is not deterministic")
	}
}

func TestBuildQuery_EmptyResults(t *testing.T) {
	q := BuildQuery(QueryInput{TargetCompany: "Acme"})
	if !strings.Contains(q, "(0/0 categories succeeded)") {
		t.Error("expected zero-success summary")
	}
	if !strings.Contains(q, noPhaseOneData) {
		t.Error("expected no-data placeholder")
	}
}

func TestFlattenFinancialContext(t *testing.T) {
	fc := NewFinancialContext([]Result{
		{Label: "A", Success: true, Data: "alpha\n"},
		{Label: "B", Success: true, Data: "  "},
		{Label: "C", Success: false, Data: "ignored"},
		{Label: "D", Success: true, Data: "delta"},
	})
	got := FlattenFinancialContext(fc)
	want := "### A\n\nalpha\n\n### D\n\ndelta"
	if got != want {
		t.Errorf("FlattenFinancialContext = %q, want %q", got, want)
	}
	if fc.CategoriesSearched != 4 || fc.CategoriesSucceeded != 3 {
		t.Errorf("counters = %d/%d, want 3/4", fc.CategoriesSucceeded, fc.CategoriesSearched)
	}
}
