package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/kalambet/deepdesk/internal/mna"
)

var mnaCmd = &cobra.Command{
	Use:   "mna",
	Short: "Assemble M&A due-diligence queries offline",
}

var mnaCategoriesCmd = &cobra.Command{
	Use:   "categories",
	Short: "List M&A data categories",
	Run: func(cmd *cobra.Command, args []string) {
		for _, c := range mna.Categories() {
			fmt.Printf("%-22s %s\n", colorize(colorCyan, c.ID), c.Label)
		}
	},
}

var mnaQueryCmd = &cobra.Command{
	Use:   "query",
	Short: "Print the Phase 2 due-diligence query",
	Long: `Print the Phase 2 due-diligence query built from gathered Phase 1 data.

The results file is a JSON array of {"label", "success", "error", "data"}
objects, one per searched category.

Example:
  deepdesk mna query --target "Globex" --results phase1.json --deal-context "Strategic buyer"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		in, _, err := mnaInputFromFlags(cmd)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), mna.BuildQuery(in))
		return nil
	},
}

var mnaPlanCmd = &cobra.Command{
	Use:   "plan",
	Short: "Print query, deliverables and search configuration as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		in, categories, err := mnaInputFromFlags(cmd)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(mna.BuildPlan(in, categories))
	},
}

func mnaInputFromFlags(cmd *cobra.Command) (mna.QueryInput, []string, error) {
	target, _ := cmd.Flags().GetString("target")
	resultsPath, _ := cmd.Flags().GetString("results")
	categories, _ := cmd.Flags().GetStringSlice("categories")
	dealCtx, _ := cmd.Flags().GetString("deal-context")
	focus, _ := cmd.Flags().GetString("focus")
	questions, _ := cmd.Flags().GetString("questions")

	if target == "" {
		return mna.QueryInput{}, nil, fmt.Errorf("--target is required")
	}
	for _, c := range categories {
		if _, ok := mna.LookupCategory(c); !ok {
			return mna.QueryInput{}, nil, fmt.Errorf("unknown category %q", c)
		}
	}

	var results []mna.Result
	if resultsPath != "" {
		var r io.Reader = cmd.InOrStdin()
		if resultsPath != "-" {
			f, err := os.Open(resultsPath)
			if err != nil {
				return mna.QueryInput{}, nil, fmt.Errorf("opening results: %w", err)
			}
			defer f.Close()
			r = f
		}
		if err := json.NewDecoder(r).Decode(&results); err != nil {
			return mna.QueryInput{}, nil, fmt.Errorf("parsing results: %w", err)
		}
	}

	return mna.QueryInput{
		TargetCompany:     target,
		Financial:         mna.NewFinancialContext(results),
		DealContext:       dealCtx,
		ResearchFocus:     focus,
		SpecificQuestions: questions,
	}, categories, nil
}

func init() {
	for _, c := range []*cobra.Command{mnaQueryCmd, mnaPlanCmd} {
		c.Flags().String("target", "", "target company")
		c.Flags().String("results", "", "Phase 1 results JSON file (- for stdin)")
		c.Flags().StringSlice("categories", nil, "searched data categories")
		c.Flags().String("deal-context", "", "deal rationale or structure")
		c.Flags().String("focus", "", "areas to emphasise")
		c.Flags().String("questions", "", "specific questions to answer")
	}
	mnaCmd.AddCommand(mnaCategoriesCmd, mnaQueryCmd, mnaPlanCmd)
}
