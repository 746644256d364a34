package cmd

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/abdul-hamid-achik/hitbatch/packages/cache"
	hhttp "github.com/abdul-hamid-achik/hitbatch/packages/http"
	"github.com/abdul-hamid-achik/hitbatch/packages/inmemory"
	"github.com/abdul-hamid-achik/hitbatch/packages/metrics"
	"github.com/abdul-hamid-achik/hitbatch/packages/transport"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch <uri|@file>...",
	Short: "Download resources in one batch",
	Long: `Download resources in one concurrent batch and write them to a
directory, or to stdout when no directory is given.

A source starting with @ is read from a local file instead; files ending in
.gz are decompressed. With a cache configured and --max-age set, resources
are served from and stored in the cache, keyed by their URI.

Examples:
  hitbatch fetch https://example.com/a.json https://example.com/b.json -d out/
  hitbatch fetch https://example.com/schema.json --cache sqlite://cache.db --max-age 1h
  hitbatch fetch @fixtures/data.json.gz`,
	Args: cobra.MinimumNArgs(1),
	RunE: fetchCommand,
}

var (
	fetchConfigFlag  string
	fetchDirFlag     string
	fetchCacheFlag   string
	fetchMaxAgeFlag  time.Duration
	fetchPruneFlag   bool
	fetchTimeoutFlag time.Duration
	fetchVerboseFlag bool
)

func init() {
	fetchCmd.Flags().StringVar(&fetchConfigFlag, "config", getEnvString("HITBATCH_CONFIG", ""), "Path to config file (env: HITBATCH_CONFIG)")
	fetchCmd.Flags().StringVarP(&fetchDirFlag, "output-dir", "d", "", "Directory to write resources to (default: stdout)")
	fetchCmd.Flags().StringVar(&fetchCacheFlag, "cache", getEnvString("HITBATCH_CACHE", ""), "Resource cache, e.g. sqlite://cache.db (env: HITBATCH_CACHE)")
	fetchCmd.Flags().DurationVar(&fetchMaxAgeFlag, "max-age", 0, "How long fetched resources stay cached, 0 disables caching")
	fetchCmd.Flags().BoolVar(&fetchPruneFlag, "prune", false, "Remove expired cache entries before fetching")
	fetchCmd.Flags().DurationVar(&fetchTimeoutFlag, "timeout", 0, "Cancel the fetch after this long, 0 disables")
	fetchCmd.Flags().BoolVarP(&fetchVerboseFlag, "verbose", "v", getEnvBool("HITBATCH_VERBOSE", false), "Debug logs (env: HITBATCH_VERBOSE)")
}

// parseSource turns a command line source into a resource.
func parseSource(src string, maxAge time.Duration) (inmemory.URIOrInlineData, error) {
	file, ok := strings.CutPrefix(src, "@")
	if !ok {
		return inmemory.NewURIResource(src, src, maxAge), nil
	}

	data, err := os.ReadFile(file)
	if err != nil {
		return inmemory.URIOrInlineData{}, err
	}
	format := inmemory.Uncompressed
	if strings.EqualFold(filepath.Ext(file), ".gz") {
		format = inmemory.Gzip
	}
	return inmemory.NewInlineResource(data, format), nil
}

// outputName picks the file name a fetched source is written to.
func outputName(src string, i int) string {
	if file, ok := strings.CutPrefix(src, "@"); ok {
		return strings.TrimSuffix(filepath.Base(file), ".gz")
	}
	if u, err := url.Parse(src); err == nil {
		if base := path.Base(u.Path); base != "/" && base != "." {
			return base
		}
	}
	return fmt.Sprintf("resource-%d", i+1)
}

func fetchCommand(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, fetchConfigFlag)
	if err != nil {
		return err
	}
	logger := newLogger(cmd.ErrOrStderr(), cfg.GetVerbose())

	resources := make([]inmemory.URIOrInlineData, len(args))
	for i, src := range args {
		if resources[i], err = parseSource(src, fetchMaxAgeFlag); err != nil {
			return withExitCode(ExitUsageError, err)
		}
	}

	opts := inmemory.FetchOptions{Usage: &hhttp.SentReceivedBytes{}, Logger: logger}

	dsn := cfg.Cache
	if fetchCacheFlag != "" {
		dsn = fetchCacheFlag
	}
	if dsn != "" {
		c, err := cache.Open(dsn, cache.WithLogger(logger))
		if err != nil {
			return withExitCode(ExitConfigError, err)
		}
		defer c.Close()

		if fetchPruneFlag {
			n, err := c.Prune()
			if err != nil {
				return err
			}
			logger.Info("pruned cache", "removed", n)
		}
		opts.Cache = c
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if fetchTimeoutFlag > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, fetchTimeoutFlag)
		defer cancel()
	}

	api := transport.Acquire(transport.WithLogger(logger))
	defer api.Close()

	collector := metrics.NewCollector()
	ir := newRunner(ctx, cfg, logger)
	defer ir.Close()

	results, err := inmemory.FetchResourcesInMemory(ctx, newClient(api, cfg, logger, collector), ir, resources, opts)
	if err != nil {
		return withExitCode(ExitNetworkError, err)
	}

	if fetchDirFlag != "" {
		if err := os.MkdirAll(fetchDirFlag, 0755); err != nil {
			return err
		}
	}

	failed := 0
	for i, res := range results {
		if res.Err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Error fetching %s: %v\n", args[i], res.Err)
			failed++
			continue
		}
		if fetchDirFlag == "" {
			if _, err := cmd.OutOrStdout().Write(res.Response.Body); err != nil {
				return err
			}
			continue
		}
		dest := filepath.Join(fetchDirFlag, outputName(args[i], i))
		if err := os.WriteFile(dest, res.Response.Body, 0644); err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Saved: %s (%d bytes)\n", dest, len(res.Response.Body))
	}

	logger.Debug("fetch finished", "sent", opts.Usage.Sent, "received", opts.Usage.Received, "requests", collector.Summary().Total)

	if failed > 0 {
		return withExitCode(ExitTestFailure, fmt.Errorf("%d of %d resource(s) failed", failed, len(args)))
	}
	return nil
}
