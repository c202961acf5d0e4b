package mna

// Category is one Phase 1 data-gathering bucket.
type Category struct {
	ID    string `json:"id" yaml:"id"`
	Label string `json:"label" yaml:"label"`
}

// Category ids.
const (
	SECFilings          = "sec_filings"
	FinancialStatements = "financial_statements"
	InsiderActivity     = "insider_activity"
	Patents             = "patents"
	MarketIntelligence  = "market_intelligence"
)

var categories = []Category{
	{ID: SECFilings, Label: "SEC Filings (10-K, 10-Q, 8-K)"},
	{ID: FinancialStatements, Label: "Financial Statements & Ratios"},
	{ID: InsiderActivity, Label: "Insider Activity & Market Signals"},
	{ID: Patents, Label: "Patent & IP Portfolio"},
	{ID: MarketIntelligence, Label: "Market & Competitive Intelligence"},
}

// Categories returns the known categories in display order.
func Categories() []Category {
	out := make([]Category, len(categories))
	copy(out, categories)
	return out
}

// CategoryIDs returns the ids of all known categories, the default
// selection for a new M&A task.
func CategoryIDs() []string {
	ids := make([]string, len(categories))
	for i, c := range categories {
		ids[i] = c.ID
	}
	return ids
}

// LookupCategory finds a category by id.
func LookupCategory(id string) (Category, bool) {
	for _, c := range categories {
		if c.ID == id {
			return c, true
		}
	}
	return Category{}, false
}
