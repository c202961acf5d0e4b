package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/deepdesk/internal/api"
	"github.com/kalambet/deepdesk/internal/deepresearch"
	"github.com/kalambet/deepdesk/internal/deliverables"
	"github.com/kalambet/deepdesk/internal/session"
)

// --- research ---

var researchCmd = &cobra.Command{
	Use:   "research",
	Short: "Start and steer the active research",
}

var researchNewCmd = &cobra.Command{
	Use:   "new <subject>",
	Short: "Start a research report",
	Long: `Start a research report and make it the active task.

Examples:
  deepdesk research new "Acme Corp" --type company --mode fast
  deepdesk research new "Globex" --type mna --categories sec_filings,patents --deal-context "Strategic buyer"
  deepdesk research new "EU battery recycling" --type market --mode max --yes --watch`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := researchRequestFromFlags(cmd, strings.Join(args, " "))
		if err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		v, err := client.postView(cmd.Context(), "/session/research", req)
		if err != nil {
			return err
		}
		printSuccess("Started %s (%s)", v.TaskID, deepresearch.Mode(req.Mode).Duration())

		if watch, _ := cmd.Flags().GetBool("watch"); watch {
			_, err := watchSession(cmd.Context(), client, os.Stdout, 3*time.Second, true)
			return err
		}
		printView(os.Stdout, v, false)
		return nil
	},
}

// researchRequestFromFlags builds and locally validates a create request.
func researchRequestFromFlags(cmd *cobra.Command, subject string) (api.ResearchRequest, error) {
	typ, _ := cmd.Flags().GetString("type")
	mode, _ := cmd.Flags().GetString("mode")
	focus, _ := cmd.Flags().GetString("focus")
	clientCtx, _ := cmd.Flags().GetString("client-context")
	questions, _ := cmd.Flags().GetString("questions")
	categories, _ := cmd.Flags().GetStringSlice("categories")
	dealCtx, _ := cmd.Flags().GetString("deal-context")
	urls, _ := cmd.Flags().GetStringSlice("url")
	yes, _ := cmd.Flags().GetBool("yes")

	req := api.ResearchRequest{
		ResearchType:      typ,
		Subject:           subject,
		Focus:             focus,
		ClientContext:     clientCtx,
		SpecificQuestions: questions,
		Mode:              mode,
		DataCategories:    categories,
		DealContext:       dealCtx,
		URLs:              urls,
		Confirm:           yes,
	}

	m := deepresearch.Mode(mode)
	if m.RequiresConfirmation() && !yes {
		return api.ResearchRequest{}, fmt.Errorf("%s mode can take %s; pass --yes to start it", m, m.Duration())
	}

	// Mirror the daemon's checks so typos fail before a round trip.
	check := deepresearch.CreateRequest{
		ResearchType:   deepresearch.ResearchType(typ),
		Subject:        subject,
		Mode:           m,
		DataCategories: categories,
		URLs:           urls,
	}
	if err := check.Validate(); err != nil {
		return api.ResearchRequest{}, err
	}
	return req, nil
}

func init() {
	f := researchNewCmd.Flags()
	f.String("type", string(deepresearch.TypeCustom), "research type: mna, company, market, competitive, industry, custom")
	f.String("mode", string(deepresearch.ModeStandard), "research mode: fast, standard, heavy, max")
	f.String("focus", "", "what the report should concentrate on")
	f.String("client-context", "", "who the report is for")
	f.String("questions", "", "specific questions to answer")
	f.StringSlice("categories", nil, "M&A data categories (sec_filings, financial_statements, insider_activity, patents, market_intelligence)")
	f.String("deal-context", "", "M&A deal rationale or structure")
	f.StringSlice("url", nil, "source URL to include (repeatable, max 10)")
	f.Bool("yes", false, "confirm long-running max mode")
	f.Bool("watch", false, "follow progress until the report finishes")
}

var researchOpenCmd = &cobra.Command{
	Use:   "open <task-id|share-link>",
	Short: "Open a report by id or share link",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		v, err := client.postView(cmd.Context(), "/session/open", map[string]string{"reference": args[0]})
		if err != nil {
			return err
		}
		printView(os.Stdout, v, true)
		return nil
	},
}

var researchWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow the active research until it finishes",
	RunE: func(cmd *cobra.Command, args []string) error {
		interval, _ := cmd.Flags().GetDuration("interval")
		bell, _ := cmd.Flags().GetBool("bell")
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		_, err = watchSession(cmd.Context(), client, os.Stdout, interval, bell)
		return err
	},
}

func init() {
	researchWatchCmd.Flags().Duration("interval", 3*time.Second, "how often to refresh")
	researchWatchCmd.Flags().Bool("bell", true, "ring the terminal bell when the report completes")
}

var researchCancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Cancel the active research",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		v, err := client.postView(cmd.Context(), "/session/cancel", nil)
		if err != nil {
			return err
		}
		if v.Phase != session.PhaseCancelled {
			printSuccess("Closed %s (already %s)", v.DisplayTitle(), v.Phase)
			return nil
		}
		printSuccess("Cancelled %s", v.DisplayTitle())
		return nil
	},
}

var researchFollowUpCmd = &cobra.Command{
	Use:   "follow-up <instruction>",
	Short: "Ask a follow-up of the active research",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		v, err := client.postView(cmd.Context(), "/session/follow-up", map[string]string{"instruction": strings.Join(args, " ")})
		if err != nil {
			return err
		}
		printSuccess("Follow-up %s started", v.TaskID)
		printView(os.Stdout, v, false)
		return nil
	},
}

var researchShareCmd = &cobra.Command{
	Use:   "share",
	Short: "Make the active research public and print its link",
	RunE: func(cmd *cobra.Command, args []string) error {
		off, _ := cmd.Flags().GetBool("off")
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/session/share", map[string]bool{"public": !off})
		if err != nil {
			return err
		}
		var result struct {
			TaskID   string `json:"task_id"`
			ShareURL string `json:"share_url"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		if off {
			printSuccess("Sharing disabled for %s", result.TaskID)
			return nil
		}
		printSuccess("Share link:")
		fmt.Println(result.ShareURL)
		return nil
	},
}

func init() {
	researchShareCmd.Flags().Bool("off", false, "make the report private again")
}

var researchDownloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Download the PDF and deliverables of the completed research",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, _ := cmd.Flags().GetString("dir")
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		if dir == "" {
			v, err := client.session(cmd.Context())
			if err != nil {
				return err
			}
			dir = "deepdesk-" + v.TaskID
		}
		abs, err := filepath.Abs(dir)
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/session/download", map[string]string{"dir": abs})
		if err != nil {
			return err
		}
		var result struct {
			Artifacts []deliverables.Artifact `json:"artifacts"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		if len(result.Artifacts) == 0 {
			printWarning("Nothing to download yet")
			return nil
		}
		for _, a := range result.Artifacts {
			line := fmt.Sprintf("%s (%s)", a.Path, humanBytes(a.Bytes))
			if a.Pages > 0 {
				line += fmt.Sprintf(", %d pages", a.Pages)
			}
			printSuccess("%s", line)
		}
		return nil
	},
}

func init() {
	researchDownloadCmd.Flags().String("dir", "", "target directory (default ./deepdesk-<task-id>)")
	researchCmd.AddCommand(researchNewCmd, researchOpenCmd, researchWatchCmd, researchCancelCmd,
		researchFollowUpCmd, researchShareCmd, researchDownloadCmd)
}

func humanBytes(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}

// watchSession polls the daemon until the active task is terminal, printing
// a line whenever phase or progress moves. The bell rings once on completion.
func watchSession(ctx context.Context, client *apiClient, w io.Writer, interval time.Duration, bell bool) (session.View, error) {
	var last string
	for {
		v, err := client.session(ctx)
		if err != nil {
			return session.View{}, err
		}
		if v.TaskID == "" {
			fmt.Fprintln(w, "No active research.")
			return v, nil
		}

		line := fmt.Sprintf("%s %s %d%%", v.TaskID, v.Phase, v.ProgressPercent)
		if line != last {
			last = line
			printStep("%s: %s %s", v.DisplayTitle(), v.Phase, progressBar(v.ProgressPercent, 20))
			if v.NeedsAuth {
				printWarning("Sign-in required: set an access token, then run `deepdesk session retry`")
			}
		}

		if v.Phase.Terminal() {
			switch v.Phase {
			case session.PhaseCompleted:
				if bell {
					fmt.Fprint(os.Stderr, "\a")
				}
				printSuccess("%s is ready", v.DisplayTitle())
				printView(w, v, true)
			case session.PhaseFailed:
				printError("%s failed: %s", v.DisplayTitle(), v.RemoteError)
			default:
				printWarning("%s was cancelled", v.DisplayTitle())
			}
			return v, nil
		}

		select {
		case <-ctx.Done():
			return v, ctx.Err()
		case <-time.After(interval):
		}
	}
}

// --- session ---

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect or reset the daemon's active session",
}

var sessionShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the active research",
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		full, _ := cmd.Flags().GetBool("full")
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		v, err := client.session(cmd.Context())
		if err != nil {
			return err
		}
		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(v)
		}
		printView(os.Stdout, v, full)
		return nil
	},
}

var sessionResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Stop following the active research without cancelling it",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		if _, err := client.postView(cmd.Context(), "/session/reset", nil); err != nil {
			return err
		}
		printSuccess("Session cleared")
		return nil
	},
}

var sessionRetryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Resume polling after signing in again",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		v, err := client.postView(cmd.Context(), "/session/retry", nil)
		if err != nil {
			return err
		}
		printSuccess("Polling %s again", v.DisplayTitle())
		return nil
	},
}

func init() {
	sessionShowCmd.Flags().Bool("json", false, "print the raw session JSON")
	sessionShowCmd.Flags().Bool("full", false, "include the report text and sources")
	sessionCmd.AddCommand(sessionShowCmd, sessionResetCmd, sessionRetryCmd)
}

// --- history ---

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Browse previously launched research",
}

type historyRow struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	ResearchType string    `json:"research_type"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent research, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), fmt.Sprintf("/history?limit=%d", limit))
		if err != nil {
			return err
		}
		var rows []historyRow
		if err := decodeJSON(resp, &rows); err != nil {
			return err
		}
		if len(rows) == 0 {
			fmt.Println("No research yet.")
			return nil
		}
		for _, r := range rows {
			fmt.Printf("%s  %-10s  %-11s  %s  %s\n",
				colorize(colorCyan, shortID(r.ID)),
				r.Status,
				r.ResearchType,
				r.UpdatedAt.Local().Format("2006-01-02 15:04"),
				r.Title,
			)
		}
		return nil
	},
}

var historyOpenCmd = &cobra.Command{
	Use:   "open <id>",
	Short: "Reopen a research from history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		v, err := client.postView(cmd.Context(), "/session/history/"+url.PathEscape(args[0]), nil)
		if err != nil {
			return err
		}
		printView(os.Stdout, v, false)
		return nil
	},
}

func init() {
	historyListCmd.Flags().Int("limit", 20, "maximum number of entries to list")
	historyCmd.AddCommand(historyListCmd, historyOpenCmd)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// --- examples ---

var examplesCmd = &cobra.Command{
	Use:   "examples",
	Short: "Browse curated example reports",
}

var examplesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List example reports",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/examples")
		if err != nil {
			return err
		}
		var examples []struct {
			ID          string `json:"id"`
			Title       string `json:"title"`
			Description string `json:"description"`
			Type        string `json:"type"`
		}
		if err := decodeJSON(resp, &examples); err != nil {
			return err
		}
		for i, ex := range examples {
			fmt.Printf("%d. %s  %s\n", i+1, colorize(colorBold, ex.Title), colorize(colorCyan, ex.Type))
			if ex.Description != "" {
				fmt.Printf("   %s\n", ex.Description)
			}
		}
		return nil
	},
}

var examplesOpenCmd = &cobra.Command{
	Use:   "open <number|id|title>",
	Short: "Open an example report",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		ref := url.PathEscape(strings.Join(args, " "))
		v, err := client.postView(cmd.Context(), "/session/examples/"+ref, nil)
		if err != nil {
			return err
		}
		printView(os.Stdout, v, true)
		return nil
	},
}

func init() {
	examplesCmd.AddCommand(examplesListCmd, examplesOpenCmd)
}
