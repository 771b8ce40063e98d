package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/Sternrassler/activity-export/pkg/logging"
	"github.com/Sternrassler/activity-export/pkg/metrics"
	"github.com/Sternrassler/activity-export/pkg/pagination"
	"github.com/Sternrassler/activity-export/pkg/scheduler"
	"github.com/Sternrassler/activity-export/pkg/sink"
	"github.com/Sternrassler/activity-export/pkg/window"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

type runOptions struct {
	year       int
	month      int
	day        int
	eventType  string
	categories []string
	sinks      []string
	outputDir  string
	pageSize   int
}

func newRunCmd(global *globalOptions) *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Export the events of a month or a single day",
		Long: `Export the events of a month (--day 0) or a single day.

Without --year and --month the date is asked for interactively.`,
		Example: `  activity-export run --year 2025 --month 3 --day 14
  activity-export run --year 2025 --month 3 --sinks csv,s3 --event-type dns`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(cmd, global, opts)
		},
	}

	f := cmd.Flags()
	f.IntVar(&opts.year, "year", 0, "year to export")
	f.IntVar(&opts.month, "month", 0, "month to export (1-12)")
	f.IntVar(&opts.day, "day", 0, "day of month; 0 exports every day")
	f.StringVar(&opts.eventType, "event-type", "", "activity type (dns, proxy, firewall); empty for all")
	f.StringSliceVar(&opts.categories, "categories", nil, "category labels to filter on")
	f.StringSliceVar(&opts.sinks, "sinks", nil, "sinks to write to (csv, s3, postgres)")
	f.StringVar(&opts.outputDir, "output-dir", "", "directory of the csv sink")
	f.IntVar(&opts.pageSize, "page-size", 0, "events per page request")
	return cmd
}

func runExport(cmd *cobra.Command, global *globalOptions, opts *runOptions) error {
	cfg, logger, err := loadConfig(cmd, global, opts.flags(cmd))
	if err != nil {
		return err
	}

	year, month, day := opts.year, time.Month(opts.month), opts.day
	if !cmd.Flags().Changed("year") || !cmd.Flags().Changed("month") {
		year, month, day, err = promptDate(cmd.InOrStdin(), cmd.ErrOrStderr())
		if err != nil {
			return err
		}
	}
	days, err := window.MonthDays(year, month, day)
	if err != nil {
		return err
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Addr != "" {
		srv := metrics.NewServer(cfg.Metrics.Addr, logging.NewLogger("metrics"))
		srv.Start()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	a, err := newApp(ctx, cfg, cmd.InOrStdin(), cmd.ErrOrStderr(), logger)
	if err != nil {
		return err
	}
	defer a.Close()

	out, err := a.sinks(ctx)
	if err != nil {
		return err
	}

	cred, err := a.login(ctx)
	if err != nil {
		return err
	}
	filters, err := a.filters(ctx, cred)
	if err != nil {
		return err
	}

	fetchCfg := pagination.DefaultConfig()
	fetchCfg.PageSize = cfg.Fetch.PageSize
	fetchCfg.Retry.MaxAttempts = cfg.Fetch.RetryAttempts
	fetchCfg.MaxConsecutive403 = cfg.Fetch.MaxConsecutive403
	fetchCfg.ReauthFailureDelay = cfg.Fetch.ReauthFailureDelay
	fetcher := pagination.NewFetcher(a.client, a.limiter, a.provider, fetchCfg, logging.NewLogger("fetcher"))

	sched := scheduler.New(fetcher, scheduler.Config{
		HourCeiling: cfg.Fetch.HourCeiling,
		Filters:     filters,
	}, logging.NewLogger("scheduler"))

	runID := uuid.NewString()
	runner := scheduler.NewRunner(sched, out, runID, logging.ForRun("runner", runID))

	summary, _, runErr := runner.Run(ctx, cred, scheduler.RunRequest{
		Year:        year,
		Month:       month,
		Days:        days,
		Location:    loc,
		Destination: sink.MonthlyName(cfg.Sink.Prefix, cfg.API.EventType, year, month),
	})
	printSummary(cmd.OutOrStdout(), summary)
	return runErr
}

// flags returns the run flags that were set explicitly, keyed like config.MergeFlags expects.
func (o *runOptions) flags(cmd *cobra.Command) map[string]interface{} {
	flags := map[string]interface{}{}
	if cmd.Flags().Changed("event-type") {
		flags["event-type"] = o.eventType
	}
	if cmd.Flags().Changed("categories") {
		flags["categories"] = o.categories
	}
	if cmd.Flags().Changed("sinks") {
		flags["sinks"] = o.sinks
	}
	if cmd.Flags().Changed("output-dir") {
		flags["output-dir"] = o.outputDir
	}
	if cmd.Flags().Changed("page-size") {
		flags["page-size"] = o.pageSize
	}
	return flags
}

// promptDate asks for year, month and day. Day 0 selects the whole month.
func promptDate(in io.Reader, out io.Writer) (int, time.Month, int, error) {
	reader := bufio.NewReader(in)

	ask := func(label string) (int, error) {
		fmt.Fprintf(out, "%s: ", label)
		line, err := reader.ReadString('\n')
		if err != nil && (err != io.EOF || line == "") {
			return 0, fmt.Errorf("read %s: %w", strings.ToLower(label), err)
		}
		n, err := strconv.Atoi(strings.TrimSpace(line))
		if err != nil {
			return 0, fmt.Errorf("invalid %s %q", strings.ToLower(label), strings.TrimSpace(line))
		}
		return n, nil
	}

	year, err := ask("Year")
	if err != nil {
		return 0, 0, 0, err
	}
	month, err := ask("Month")
	if err != nil {
		return 0, 0, 0, err
	}
	day, err := ask("Day (0 for the whole month)")
	if err != nil {
		return 0, 0, 0, err
	}
	return year, time.Month(month), day, nil
}

func printSummary(w io.Writer, s scheduler.Summary) {
	fmt.Fprintf(w, "Run %s\n", s.RunID)
	fmt.Fprintf(w, "  hours:            %d\n", s.Hours)
	fmt.Fprintf(w, "  events:           %d\n", s.Events)
	fmt.Fprintf(w, "  minute fallbacks: %d\n", s.MinuteFallbacks)
	fmt.Fprintf(w, "  elapsed:          %s\n", s.Elapsed.Round(time.Second))
	if len(s.Gaps) == 0 {
		return
	}
	fmt.Fprintf(w, "  gaps:             %d\n", len(s.Gaps))
	for _, g := range s.Gaps {
		reason := "unknown"
		if g.Reason != nil {
			reason = g.Reason.Error()
		}
		fmt.Fprintf(w, "    %s  %s  %s (%d events kept)\n", g.Window, g.State, reason, g.Events)
	}
}
