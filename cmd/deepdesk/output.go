package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/kalambet/deepdesk/internal/session"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

func printSuccess(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorGreen, "✓ "+msg))
}

func printError(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorRed, "✗ "+msg))
}

func printWarning(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorYellow, "⚠ "+msg))
}

func printStatus(label string, format string, args ...any) {
	val := fmt.Sprintf(format, args...)
	l := colorize(colorBold, label+":")
	fmt.Fprintf(os.Stderr, "  %s %s\n", l, val)
}

func printStep(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorCyan, "→ "+msg))
}

func phaseColor(p session.Phase) string {
	switch p {
	case session.PhaseCompleted:
		return colorGreen
	case session.PhaseFailed, session.PhaseCancelled:
		return colorRed
	case session.PhaseRunning:
		return colorCyan
	default:
		return colorYellow
	}
}

// progressBar renders pct as a fixed-width bar.
func progressBar(pct, width int) string {
	pct = max(0, min(pct, 100))
	filled := pct * width / 100
	return "[" + strings.Repeat("#", filled) + strings.Repeat(".", width-filled) + "]"
}

// printView writes a human summary of the session view to w. The report body
// is included when full is set.
func printView(w io.Writer, v session.View, full bool) {
	if v.TaskID == "" {
		fmt.Fprintln(w, "No active research.")
		return
	}

	fmt.Fprintf(w, "%s  %s\n", colorize(colorBold, v.DisplayTitle()), colorize(phaseColor(v.Phase), string(v.Phase)))
	fmt.Fprintf(w, "  Task:     %s\n", v.TaskID)
	if v.Mode != "" {
		fmt.Fprintf(w, "  Mode:     %s (%s)\n", v.Mode, v.Mode.Duration())
	}
	if v.Progress != nil || v.Phase == session.PhaseCompleted {
		fmt.Fprintf(w, "  Progress: %s %d%%\n", progressBar(v.ProgressPercent, 20), v.ProgressPercent)
		if v.Progress != nil && v.Progress.TotalSteps > 0 {
			fmt.Fprintf(w, "            step %d of %d\n", v.Progress.CurrentStep, v.Progress.TotalSteps)
		}
	}
	if v.Polling {
		fmt.Fprintf(w, "  Polling:  every %s\n", v.PollInterval)
	}
	if v.Public {
		fmt.Fprintln(w, "  Source:   public report")
	}
	if v.NeedsAuth {
		fmt.Fprintln(w, colorize(colorYellow, "  Sign-in required: set an access token, then run `deepdesk session retry`."))
	}
	if v.RemoteError != "" {
		fmt.Fprintf(w, "  %s %s\n", colorize(colorRed, "Error:"), v.RemoteError)
	} else if v.LastError != "" {
		fmt.Fprintf(w, "  Last poll error: %s\n", v.LastError)
	}
	if v.PDFURL != "" {
		fmt.Fprintf(w, "  PDF:      %s\n", v.PDFURL)
	}
	for _, d := range v.Deliverables {
		fmt.Fprintf(w, "  %-8s  %s %s\n", strings.ToUpper(d.Type), d.Title, d.URL)
	}
	if len(v.Sources) > 0 {
		fmt.Fprintf(w, "  Sources:  %d\n", len(v.Sources))
	}

	if full && v.Output != "" {
		fmt.Fprintln(w)
		fmt.Fprintln(w, v.Output)
		if len(v.Sources) > 0 {
			fmt.Fprintln(w)
			fmt.Fprintln(w, colorize(colorBold, "Sources"))
			for i, s := range v.Sources {
				title := s.Title
				if title == "" {
					title = s.URL
				}
				fmt.Fprintf(w, "  %d. %s %s\n", i+1, title, s.URL)
			}
		}
	}
}
