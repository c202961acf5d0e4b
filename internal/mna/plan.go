package mna

// DeliverableType is the file format of a requested artifact.
type DeliverableType string

const (
	Spreadsheet  DeliverableType = "xlsx"
	Document     DeliverableType = "docx"
	Presentation DeliverableType = "pptx"
)

// Deliverable is one manifest entry requested from the research engine.
type Deliverable struct {
	Type        DeliverableType `json:"type"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
}

// BuildDeliverables returns the spreadsheet, memo and presentation for
// target, in that order.
func BuildDeliverables(target string) []Deliverable {
	return []Deliverable{
		{
			Type:  Spreadsheet,
			Title: "Financial Analysis Matrix — " + target,
			Description: "Comprehensive spreadsheet containing financial statements, ratio analysis, " +
				"peer comparisons, and valuation model inputs for " + target + ".",
		},
		{
			Type:  Document,
			Title: "Investment Committee Deal Memo — " + target,
			Description: "Formal deal memo summarizing the due-diligence findings, risk assessment, " +
				"and go/no-go recommendation for the " + target + " acquisition opportunity.",
		},
		{
			Type:  Presentation,
			Title: "Executive Due Diligence Presentation — " + target,
			Description: "Board-ready presentation covering the investment thesis, financial highlights, " +
				"competitive positioning, and key risks for " + target + ".",
		},
	}
}

// SearchConfig tells the engine which source families to search.
type SearchConfig struct {
	SearchType      string   `json:"searchType"`
	IncludedSources []string `json:"includedSources"`
}

// BuildSearchConfig derives the sources from the selected categories. Web
// and academic are always present. Finance and patent follow in the order
// their first triggering category appears, without duplicates.
func BuildSearchConfig(categories []string) SearchConfig {
	sources := []string{"web", "academic"}
	seen := map[string]bool{"web": true, "academic": true}
	add := func(s string) {
		if !seen[s] {
			seen[s] = true
			sources = append(sources, s)
		}
	}

	for _, c := range categories {
		switch c {
		case SECFilings, FinancialStatements, InsiderActivity:
			add("finance")
		case Patents:
			add("patent")
		}
	}
	return SearchConfig{SearchType: "all", IncludedSources: sources}
}

// Plan bundles everything the Phase 2 request needs.
type Plan struct {
	Query        string        `json:"query"`
	Deliverables []Deliverable `json:"deliverables"`
	SearchConfig SearchConfig  `json:"searchConfig"`
}

// BuildPlan assembles the query, deliverables and search config for one run.
func BuildPlan(in QueryInput, categories []string) Plan {
	return Plan{
		Query:        BuildQuery(in),
		Deliverables: BuildDeliverables(in.TargetCompany),
		SearchConfig: BuildSearchConfig(categories),
	}
}
