package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/abdul-hamid-achik/hitbatch/packages/auth/oauth2"
	"github.com/abdul-hamid-achik/hitbatch/packages/batch"
	"github.com/abdul-hamid-achik/hitbatch/packages/core/config"
	"github.com/abdul-hamid-achik/hitbatch/packages/core/env"
	"github.com/abdul-hamid-achik/hitbatch/packages/core/interruptible"
	"github.com/abdul-hamid-achik/hitbatch/packages/export"
	"github.com/abdul-hamid-achik/hitbatch/packages/metrics"
	"github.com/abdul-hamid-achik/hitbatch/packages/notify"
	"github.com/abdul-hamid-achik/hitbatch/packages/output"
	"github.com/abdul-hamid-achik/hitbatch/packages/snapshot"
	"github.com/abdul-hamid-achik/hitbatch/packages/transport"
)

var runCmd = &cobra.Command{
	Use:   "run <file|directory>...",
	Short: "Run batch files",
	Long: `Run the requests of each batch file as one concurrent batch and check
the responses against their expectations.

The run is cancelled on SIGINT or SIGTERM, or once --timeout elapses.
Running requests are then given the graceful and extended shutdown periods
of the configuration before the process gives up on them.

Examples:
  hitbatch run smoke.yaml
  hitbatch run ./batches/ --output junit --output-file report.xml
  hitbatch run smoke.yaml --var base=https://staging.example.com
  hitbatch run smoke.yaml --timeout 10s --metrics prometheus
  hitbatch run ./batches/ --watch`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCommand,
}

const (
	// WatchDebounceDelay is the debounce delay for file watch events
	WatchDebounceDelay = 300 * time.Millisecond

	notifyTimeout = 10 * time.Second
)

var (
	configFlag      string
	envFileFlag     string
	varsFlag        []string
	verboseFlag     bool
	noColorFlag     bool
	noFollowFlag    bool
	caBundleFlag    string
	outputFlag      string
	outputFileFlag  string
	timeoutFlag     time.Duration
	bailFlag        bool
	watchFlag       bool
	updateSnapsFlag bool

	// Metrics flags
	metricsFlag     string
	metricsAddrFlag string
	metricsFileFlag string

	// Notification flags
	notifyFlag       string
	notifyOnFlag     string
	slackWebhookFlag string
	slackChannelFlag string
	teamsWebhookFlag string
)

func init() {
	// Core flags
	runCmd.Flags().StringVar(&configFlag, "config", getEnvString("HITBATCH_CONFIG", ""), "Path to config file (env: HITBATCH_CONFIG)")
	runCmd.Flags().StringVar(&envFileFlag, "env-file", getEnvString("HITBATCH_ENV_FILE", ""), "Path to .env file for template variables (env: HITBATCH_ENV_FILE)")
	runCmd.Flags().StringArrayVar(&varsFlag, "var", nil, "Set a template variable (name=value), may be repeated")

	// Output flags
	runCmd.Flags().BoolVarP(&verboseFlag, "verbose", "v", getEnvBool("HITBATCH_VERBOSE", false), "Verbose output and debug logs (env: HITBATCH_VERBOSE)")
	runCmd.Flags().BoolVar(&noColorFlag, "no-color", getEnvBool("HITBATCH_NO_COLOR", false), "Disable colored output (env: HITBATCH_NO_COLOR)")
	runCmd.Flags().StringVarP(&outputFlag, "output", "o", getEnvString("HITBATCH_OUTPUT", "console"), "Output format: console, json, junit (env: HITBATCH_OUTPUT)")
	runCmd.Flags().StringVar(&outputFileFlag, "output-file", getEnvString("HITBATCH_OUTPUT_FILE", ""), "Write output to file (default: stdout) (env: HITBATCH_OUTPUT_FILE)")

	// Execution flags
	runCmd.Flags().DurationVar(&timeoutFlag, "timeout", 0, "Cancel the run after this long, 0 disables (e.g. 30s, 1m)")
	runCmd.Flags().BoolVar(&bailFlag, "bail", getEnvBool("HITBATCH_BAIL", false), "Stop after the first file with a failure (env: HITBATCH_BAIL)")
	runCmd.Flags().BoolVarP(&watchFlag, "watch", "w", false, "Watch files for changes and re-run them")
	runCmd.Flags().BoolVar(&updateSnapsFlag, "update-snapshots", false, "Record snapshots instead of comparing against them")

	// Network flags
	runCmd.Flags().BoolVar(&noFollowFlag, "no-follow", false, "Do not follow redirects")
	runCmd.Flags().StringVar(&caBundleFlag, "ca-bundle", getEnvString("HITBATCH_CA_BUNDLE", ""), "PEM file replacing the system root certificates (env: HITBATCH_CA_BUNDLE)")

	// Metrics flags
	runCmd.Flags().StringVar(&metricsFlag, "metrics", getEnvString("HITBATCH_METRICS", ""), "Metrics export format: prometheus, json (env: HITBATCH_METRICS)")
	runCmd.Flags().StringVar(&metricsAddrFlag, "metrics-addr", getEnvString("HITBATCH_METRICS_ADDR", ":9090"), "Listen address of the Prometheus endpoint (env: HITBATCH_METRICS_ADDR)")
	runCmd.Flags().StringVar(&metricsFileFlag, "metrics-file", getEnvString("HITBATCH_METRICS_FILE", ""), "Output file for metrics (JSON format) (env: HITBATCH_METRICS_FILE)")

	// Notification flags
	runCmd.Flags().StringVar(&notifyFlag, "notify", getEnvString("HITBATCH_NOTIFY", ""), "Notification service: slack, teams (env: HITBATCH_NOTIFY)")
	runCmd.Flags().StringVar(&notifyOnFlag, "notify-on", getEnvString("HITBATCH_NOTIFY_ON", "failure"), "When to notify: always, failure, success, recovery (env: HITBATCH_NOTIFY_ON)")
	runCmd.Flags().StringVar(&slackWebhookFlag, "slack-webhook", getEnvString("SLACK_WEBHOOK", ""), "Slack webhook URL (env: SLACK_WEBHOOK)")
	runCmd.Flags().StringVar(&slackChannelFlag, "slack-channel", getEnvString("SLACK_CHANNEL", ""), "Slack channel override (env: SLACK_CHANNEL)")
	runCmd.Flags().StringVar(&teamsWebhookFlag, "teams-webhook", getEnvString("TEAMS_WEBHOOK", ""), "Microsoft Teams webhook URL (env: TEAMS_WEBHOOK)")
}

// Formatter interface for all output formatters
type Formatter interface {
	FormatResult(result *batch.RunResult)
	FormatError(err error)
	FormatHeader(version string)
}

// MetricsFormatter is implemented by formatters that report the metrics
// summary of a run
type MetricsFormatter interface {
	FormatMetrics(summary *metrics.Summary)
}

// Flushable interface for formatters that need to flush output
type Flushable interface {
	Flush(totalDuration time.Duration) error
}

func newFormatter(w io.Writer, format string, cfg *config.Config) (Formatter, error) {
	switch strings.ToLower(format) {
	case "json":
		return output.NewJSONFormatter(output.JSONWithWriter(w)), nil
	case "junit":
		return output.NewJUnitFormatter(output.JUnitWithWriter(w)), nil
	case "console", "":
		return output.NewConsoleFormatter(
			output.WithWriter(w),
			output.WithVerbose(cfg.GetVerbose()),
			output.WithNoColor(cfg.GetNoColor()),
		), nil
	}
	return nil, fmt.Errorf("unknown output format %q", format)
}

func newExporters(cmd *cobra.Command, logger *slog.Logger) (export.Exporters, error) {
	var exporters export.Exporters
	if metricsFlag == "" {
		return nil, nil
	}

	for _, format := range strings.Split(metricsFlag, ",") {
		switch strings.ToLower(strings.TrimSpace(format)) {
		case "prometheus":
			prom, err := export.NewPrometheusExporter(
				export.WithPrometheusHTTP(metricsAddrFlag),
				export.WithPrometheusLogger(logger),
			)
			if err != nil {
				_ = exporters.Close()
				return nil, err
			}
			exporters = append(exporters, prom)
			fmt.Fprintf(cmd.ErrOrStderr(), "Prometheus metrics available at http://%s/metrics\n", prom.Addr())

		case "json":
			opts := []export.JSONOption{export.WithJSONPretty(true)}
			if metricsFileFlag != "" {
				opts = append(opts, export.WithJSONFile(metricsFileFlag))
			} else {
				opts = append(opts, export.WithJSONWriter(cmd.ErrOrStderr()))
			}
			exporters = append(exporters, export.NewJSONExporter(opts...))

		default:
			_ = exporters.Close()
			return nil, fmt.Errorf("unknown metrics format %q", format)
		}
	}
	return exporters, nil
}

func newNotifyManager(logger *slog.Logger) (*notify.Manager, error) {
	if notifyFlag == "" {
		return nil, nil
	}
	notifyOn, err := notify.ParseNotifyOn(notifyOnFlag)
	if err != nil {
		return nil, err
	}

	var notifiers []notify.Notifier
	for _, service := range strings.Split(notifyFlag, ",") {
		switch strings.ToLower(strings.TrimSpace(service)) {
		case "slack":
			if slackWebhookFlag == "" {
				return nil, fmt.Errorf("--slack-webhook is required when using --notify slack")
			}
			var opts []notify.SlackOption
			if slackChannelFlag != "" {
				opts = append(opts, notify.WithSlackChannel(slackChannelFlag))
			}
			notifiers = append(notifiers, notify.NewSlackNotifier(slackWebhookFlag, opts...))
		case "teams":
			if teamsWebhookFlag == "" {
				return nil, fmt.Errorf("--teams-webhook is required when using --notify teams")
			}
			notifiers = append(notifiers, notify.NewTeamsNotifier(teamsWebhookFlag))
		default:
			return nil, fmt.Errorf("unknown notification service %q", service)
		}
	}
	return notify.NewManager(notifyOn, logger, notifiers...), nil
}

// runSummary is the outcome of one pass over the files.
type runSummary struct {
	passed    int
	failed    int
	parseErrs int
	batchErr  error
	duration  time.Duration
}

func (s runSummary) err() error {
	switch {
	case s.batchErr != nil:
		var cancelled *interruptible.CancelledError
		if errors.As(s.batchErr, &cancelled) {
			return s.batchErr
		}
		return withExitCode(ExitNetworkError, s.batchErr)
	case s.parseErrs > 0:
		return withExitCode(ExitParseError, fmt.Errorf("%d file(s) could not be parsed", s.parseErrs))
	case s.failed > 0:
		return withExitCode(ExitTestFailure, fmt.Errorf("%d request(s) failed", s.failed))
	}
	return nil
}

// session holds what every pass over the files shares.
type session struct {
	cfg       *config.Config
	logger    *slog.Logger
	api       *transport.API
	resolver  *env.Resolver
	exporters export.Exporters
	notifier  *notify.Manager
	tokens    *oauth2.TokenCache
	out       io.Writer
}

// run executes every file in order, each as one batch, and reports through
// formatter. Files run one after another: a cancelled batch stops the pass.
func (s *session) run(ctx context.Context, files []string, formatter Formatter) runSummary {
	if timeoutFlag > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeoutFlag)
		defer cancel()
	}

	collector := metrics.NewCollector()
	ir := newRunner(ctx, s.cfg, s.logger)
	defer ir.Close()

	c := newClient(s.api, s.cfg, s.logger, collector)
	br := batch.NewRunner(
		c,
		ir,
		batch.WithResolver(s.resolver),
		batch.WithSnapshots(snapshot.NewManager(updateSnapsFlag)),
		batch.WithTokenCache(s.tokens),
		batch.WithLogger(s.logger),
	)

	var (
		sum     runSummary
		results []*batch.RunResult
	)
	start := time.Now()
	collector.Start()

	for _, file := range files {
		result, err := br.RunFile(ctx, file)
		if result == nil {
			formatter.FormatError(err)
			sum.parseErrs++
			if bailFlag {
				break
			}
			continue
		}

		formatter.FormatResult(result)
		results = append(results, result)
		sum.passed += result.Passed
		sum.failed += result.Failed

		if err != nil {
			formatter.FormatError(fmt.Errorf("%s: %w", file, err))
			sum.batchErr = err
			break
		}
		if bailFlag && result.Failed > 0 {
			break
		}
	}

	collector.Stop()
	sum.duration = time.Since(start)

	summary := collector.Summary()
	if mf, ok := formatter.(MetricsFormatter); ok {
		mf.FormatMetrics(summary)
	}
	if len(s.exporters) > 0 {
		if err := s.exporters.Export(summary); err != nil {
			s.logger.Warn("failed to export metrics", "error", err)
		}
	}
	if flushable, ok := formatter.(Flushable); ok {
		if err := flushable.Flush(sum.duration); err != nil {
			s.logger.Error("error writing output", "error", err)
		}
	}

	if s.notifier != nil {
		var cancelled *interruptible.CancelledError
		ns := notify.Summarize(results, sum.duration, errors.As(sum.batchErr, &cancelled))
		// A cancelled run still notifies, on a runner of its own.
		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
		defer cancel()
		nr := newRunner(nctx, s.cfg, s.logger)
		defer nr.Close()
		if err := s.notifier.Notify(nctx, c, nr, ns); err != nil {
			s.logger.Warn("failed to send notification", "error", err)
		}
	}
	return sum
}

func runCommand(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, configFlag)
	if err != nil {
		return err
	}
	logger := newLogger(cmd.ErrOrStderr(), cfg.GetVerbose())

	// Setup output writer
	out := cmd.OutOrStdout()
	if outputFileFlag != "" {
		f, err := os.Create(outputFileFlag)
		if err != nil {
			return withExitCode(ExitUsageError, fmt.Errorf("cannot create output file: %w", err))
		}
		defer f.Close()
		out = f
	}

	formatter, err := newFormatter(out, outputFlag, cfg)
	if err != nil {
		return withExitCode(ExitUsageError, err)
	}
	formatter.FormatHeader(version)

	files, err := collectFiles(args)
	if err != nil {
		formatter.FormatError(err)
		return withExitCode(ExitUsageError, err)
	}
	if len(files) == 0 {
		err := fmt.Errorf("no batch files found")
		formatter.FormatError(err)
		return withExitCode(ExitUsageError, err)
	}

	resolver, err := newResolver(envFileFlag, varsFlag)
	if err != nil {
		return err
	}

	notifier, err := newNotifyManager(logger)
	if err != nil {
		return withExitCode(ExitUsageError, err)
	}

	exporters, err := newExporters(cmd, logger)
	if err != nil {
		return withExitCode(ExitUsageError, err)
	}
	defer func() {
		if err := exporters.Close(); err != nil {
			logger.Warn("failed to close metrics exporters", "error", err)
		}
	}()

	api := transport.Acquire(transport.WithLogger(logger))
	defer api.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s := &session{
		cfg:       cfg,
		logger:    logger,
		api:       api,
		resolver:  resolver,
		exporters: exporters,
		notifier:  notifier,
		tokens:    oauth2.NewTokenCache(),
		out:       out,
	}

	sum := s.run(ctx, files, formatter)
	if !watchFlag {
		return sum.err()
	}
	return s.watch(ctx, cmd, args, files)
}

// watch re-runs the files whenever one of them changes, until ctx is done.
func (s *session) watch(ctx context.Context, cmd *cobra.Command, args, files []string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	watchedDirs := make(map[string]bool)
	for _, file := range files {
		dir := filepath.Dir(file)
		if !watchedDirs[dir] {
			if err := watcher.Add(dir); err != nil {
				s.logger.Warn("cannot watch directory", "dir", dir, "error", err)
			}
			watchedDirs[dir] = true
		}
	}
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil || !info.IsDir() {
			continue
		}
		_ = filepath.WalkDir(arg, func(path string, d os.DirEntry, err error) error {
			if err == nil && d.IsDir() && !watchedDirs[path] {
				_ = watcher.Add(path)
				watchedDirs[path] = true
			}
			return nil
		})
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "\nWatching for changes... (press Ctrl+C to stop)\n\n")

	// Re-runs happen on this goroutine only; the timer just signals.
	rerun := make(chan string, 1)
	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if !batch.IsBatchFile(event.Name) {
				continue
			}
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			name := event.Name
			debounceTimer = time.AfterFunc(WatchDebounceDelay, func() {
				select {
				case rerun <- name:
				default:
				}
			})

		case name := <-rerun:
			fmt.Fprintf(cmd.ErrOrStderr(), "\nFile changed: %s\nRe-running...\n\n", name)

			current, err := collectFiles(args)
			if err != nil {
				s.logger.Warn("collecting files failed", "error", err)
				continue
			}
			// Formatters that accumulate need fresh state for every pass.
			formatter, err := newFormatter(s.out, outputFlag, s.cfg)
			if err != nil {
				return withExitCode(ExitUsageError, err)
			}
			s.run(ctx, current, formatter)

			fmt.Fprintf(cmd.ErrOrStderr(), "\nWatching for changes... (press Ctrl+C to stop)\n")

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("watcher error", "error", err)
		}
	}
}
