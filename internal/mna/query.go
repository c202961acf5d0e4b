package mna

import (
	"fmt"
	"strings"
)

const reportStructure = "## Required Due-Diligence Report Structure\n\n" +
	"Produce a professional-grade due-diligence report with the following 10 sections:\n\n" +
	"1. **Executive Summary & Investment Thesis** — Include a deal attractiveness score (1-10 scale with justification).\n" +
	"2. **Company Overview** — Business model, history, leadership, corporate structure.\n" +
	"3. **Financial Analysis** — Present key metrics in tables (revenue, EBITDA, margins, growth rates, leverage ratios). Highlight trends and anomalies.\n" +
	"4. **SEC Filing Key Findings** — Risk factors, MD&A insights, material 8-K events, auditor opinions.\n" +
	"5. **IP & Patent Portfolio Assessment** — Patent count, key technology areas, competitive moat from IP.\n" +
	"6. **Insider Activity & Market Sentiment** — Recent insider transactions, institutional ownership changes, analyst consensus.\n" +
	"7. **Competitive Positioning** — Market share, key competitors, differentiation, SWOT summary.\n" +
	"8. **Risk Matrix** — Structured table with severity ratings (High/Medium/Low), likelihood, and mitigation strategies for each identified risk.\n" +
	"9. **Valuation Context** — Relevant multiples (EV/EBITDA, P/E, EV/Revenue), peer comparison table, implied valuation range.\n" +
	"10. **Go/No-Go Recommendation Framework** — Weighted scoring of key factors with a clear recommendation and conditions/next steps."

const formattingRequirements = "## Formatting Requirements\n\n" +
	"- Use **markdown tables** for all quantitative data (financials, comparisons, risk matrices, valuation multiples).\n" +
	"- Cite all data sources inline (e.g., \"per 10-K FY2024\", \"SEC Filing dated …\").\n" +
	"- Maintain **professional, investment-committee quality** throughout.\n" +
	"- Where Phase 1 data is unavailable (failed categories), clearly note the gap and provide analysis using available web/academic sources instead.\n" +
	"- Prioritize accuracy over speculation; flag low-confidence conclusions explicitly."

// QueryInput holds the user-supplied context for BuildQuery. Blank optional
// fields are omitted from the prompt.
type QueryInput struct {
	TargetCompany     string
	Financial         FinancialContext
	DealContext       string
	ResearchFocus     string
	SpecificQuestions string
}

// BuildQuery assembles the Phase 2 due-diligence prompt. Output is
// deterministic for identical input.
func BuildQuery(in QueryInput) string {
	sections := []string{
		fmt.Sprintf("You are an elite M&A due-diligence analyst preparing a comprehensive investment report on **%s**.", in.TargetCompany),
		phaseOneSection(in.Financial),
		reportStructure,
	}

	if s := strings.TrimSpace(in.DealContext); s != "" {
		sections = append(sections, "## Deal Context\n\n"+s)
	}
	if s := strings.TrimSpace(in.ResearchFocus); s != "" {
		sections = append(sections, "## Research Focus Areas\n\n"+s)
	}
	if s := strings.TrimSpace(in.SpecificQuestions); s != "" {
		sections = append(sections, "## Specific Questions to Address\n\n"+s)
	}

	sections = append(sections, formattingRequirements)
	return strings.Join(sections, "\n\n")
}

func phaseOneSection(fc FinancialContext) string {
	var sb strings.Builder
	sb.WriteString("## Phase 1 Financial Data Context\n\n")
	fmt.Fprintf(&sb, "The following financial data was gathered in Phase 1 (%d/%d categories succeeded):\n\n",
		fc.CategoriesSucceeded, fc.CategoriesSearched)

	sb.WriteString("**Category Status:**\n")
	for i, r := range fc.Results {
		if i > 0 {
			sb.WriteString("\n")
		}
		if r.Success {
			fmt.Fprintf(&sb, "  - %s: SUCCEEDED", r.Label)
			continue
		}
		reason := r.Error
		if reason == "" {
			reason = "unknown"
		}
		fmt.Fprintf(&sb, "  - %s: FAILED (%s)", r.Label, reason)
	}

	sb.WriteString("\n\n**Financial Data:**\n")
	sb.WriteString(FlattenFinancialContext(fc))
	return sb.String()
}
