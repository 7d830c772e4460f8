package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/splashkes/eventlinter/internal/config"
	"github.com/splashkes/eventlinter/internal/filter"
	"github.com/splashkes/eventlinter/internal/linter"
	"github.com/splashkes/eventlinter/internal/run"
	"github.com/splashkes/eventlinter/pkg/models"
)

const ruleLine = "─────────────────────────────────────────────────────────────"

type lintOptions struct {
	future   bool
	active   bool
	severity string
	search   string
	summary  bool
	noStream bool
	verbose  bool
}

var lintOpts lintOptions

var lintCmd = &cobra.Command{
	Use:   "lint",
	Short: "Run the event linter once and print its findings.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runLint(ctx, lintOpts, cmd.OutOrStdout())
	},
}

func init() {
	f := lintCmd.Flags()
	f.BoolVar(&lintOpts.future, "future", false, "lint future events only")
	f.BoolVar(&lintOpts.active, "active", false, "lint active events only (±24h)")
	f.StringVar(&lintOpts.severity, "severity", "", "comma-separated severities to show")
	f.StringVar(&lintOpts.search, "search", "", "case-insensitive text filter")
	f.BoolVar(&lintOpts.summary, "summary", false, "print the summary only")
	f.BoolVar(&lintOpts.noStream, "no-stream", false, "use the one-shot endpoint instead of streaming")
	f.BoolVarP(&lintOpts.verbose, "verbose", "v", false, "print the run's debug payload")
}

func runLint(ctx context.Context, opts lintOptions, out io.Writer) error {
	st, err := lintFilter(opts)
	if err != nil {
		return err
	}

	cfg, err := config.LoadLinter()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := config.NewLogger(cfg.Log, os.Stderr)
	slog.SetDefault(logger)

	client := linter.NewHTTPClient(cfg.Linter.FunctionsURL, cfg.Linter.AccessToken, cfg.Linter.RequestTimeout)
	coord := newCoordinator(cfg, client, nil, runnerFor(client, !opts.noStream, logger), logger)
	defer coord.Close(context.Background())

	fmt.Fprintln(out, "🔍 Event Linter CLI")
	status, err := coord.RunSync(ctx, models.Scope{FutureOnly: opts.future, ActiveOnly: opts.active})
	if err != nil && !errors.Is(err, run.ErrRunFailed) {
		return err
	}
	all := coord.Findings()

	if status.Status == models.RunStatusFailed {
		fmt.Fprintf(out, "✗ Error: %s\n", status.Error)
		printDebug(out, status.Debug)
		if len(all) == 0 {
			return err
		}
		fmt.Fprintf(out, "Partial results: %d findings before the failure\n", len(all))
	} else {
		fmt.Fprintln(out, "✓ Analysis complete")
		if opts.verbose {
			printDebug(out, status.Debug)
		}
	}

	visible := sortBySeverity(filter.Apply(all, st))
	if !opts.summary {
		for _, f := range visible {
			printFinding(out, f)
		}
	}
	printSummary(out, status, all, len(visible))
	return err
}

func lintFilter(opts lintOptions) (filter.State, error) {
	st := filter.DefaultState()
	st.Search = opts.search
	for _, raw := range strings.Split(opts.severity, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		sev, ok := models.ParseSeverity(raw)
		if !ok {
			return st, fmt.Errorf("unknown severity %q", raw)
		}
		st.Severities[sev] = struct{}{}
	}
	return st, nil
}

// sortBySeverity orders for display only, most urgent first. Ties keep
// arrival order.
func sortBySeverity(in []models.Finding) []models.Finding {
	out := append([]models.Finding(nil), in...)
	sort.SliceStable(out, func(i, j int) bool {
		return models.SeverityRank(out[i].Severity) < models.SeverityRank(out[j].Severity)
	})
	return out
}

func printFinding(w io.Writer, f models.Finding) {
	emoji := f.Emoji
	if emoji == "" {
		emoji = models.SeverityEmoji(f.Severity)
	}
	eid := f.EventEID
	if eid == "" {
		eid = "N/A"
	}
	fmt.Fprintf(w, "\n%s\n", ruleLine)
	fmt.Fprintf(w, "%s [%s] %s\n", emoji, strings.ToUpper(string(f.Severity)), f.RuleName)
	fmt.Fprintf(w, "EID: %s | Event: %s\n", eid, f.EventName)
	if f.ArtistName != "" || f.ArtistNumber != "" {
		fmt.Fprintf(w, "Artist: #%s %s\n", f.ArtistNumber, f.ArtistName)
	}
	fmt.Fprintf(w, "Category: %s | Context: %s\n", f.Category, f.Context)
	fmt.Fprintf(w, "→ %s\n", f.Message)
}

func printSummary(w io.Writer, status models.RunStatus, all []models.Finding, shown int) {
	counts := filter.SeverityCounts(all)
	fmt.Fprintln(w, "\n════════════════════════════════════════════════════════════")
	fmt.Fprintln(w, "                    LINTER SUMMARY")
	fmt.Fprintln(w, "════════════════════════════════════════════════════════════")
	fmt.Fprintf(w, "Strategy:       %s\n", status.Strategy)
	fmt.Fprintf(w, "Rules Loaded:   %d\n", status.RulesLoaded)
	fmt.Fprintf(w, "Total Findings: %d\n", len(all))
	fmt.Fprintf(w, "Shown:          %d\n\n", shown)
	for _, sev := range models.AllSeverities {
		fmt.Fprintf(w, "%s %-9s %d\n", models.SeverityEmoji(sev), sev, counts[sev])
	}
	fmt.Fprintln(w, "════════════════════════════════════════════════════════════")
}

func printDebug(w io.Writer, debug json.RawMessage) {
	if len(debug) == 0 {
		return
	}
	var pretty any
	if err := json.Unmarshal(debug, &pretty); err != nil {
		return
	}
	b, err := json.MarshalIndent(pretty, "", "  ")
	if err != nil {
		return
	}
	fmt.Fprintf(w, "\nDebug Info:\n%s\n", b)
}
