package mna

import "strings"

// Result is the outcome of gathering one category.
type Result struct {
	Label   string `json:"label"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Data    string `json:"data,omitempty"`
}

// FinancialContext is the Phase 1 input to BuildQuery.
type FinancialContext struct {
	Results             []Result `json:"results"`
	CategoriesSearched  int      `json:"categoriesSearched"`
	CategoriesSucceeded int      `json:"categoriesSucceeded"`
}

// NewFinancialContext derives the counters from results.
func NewFinancialContext(results []Result) FinancialContext {
	fc := FinancialContext{Results: results, CategoriesSearched: len(results)}
	for _, r := range results {
		if r.Success {
			fc.CategoriesSucceeded++
		}
	}
	return fc
}

const noPhaseOneData = "No Phase 1 data was retrieved."

// FlattenFinancialContext renders every successful result with data as a
// "### <label>" block.
func FlattenFinancialContext(fc FinancialContext) string {
	var blocks []string
	for _, r := range fc.Results {
		if !r.Success || strings.TrimSpace(r.Data) == "" {
			continue
		}
		blocks = append(blocks, "### "+r.Label+"\n\n"+strings.TrimSpace(r.Data))
	}
	if len(blocks) == 0 {
		return noPhaseOneData
	}
	return strings.Join(blocks, "\n\n")
}
