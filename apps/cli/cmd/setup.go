package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/abdul-hamid-achik/hitbatch/packages/batch"
	"github.com/abdul-hamid-achik/hitbatch/packages/client"
	"github.com/abdul-hamid-achik/hitbatch/packages/core/config"
	"github.com/abdul-hamid-achik/hitbatch/packages/core/env"
	"github.com/abdul-hamid-achik/hitbatch/packages/core/interruptible"
	"github.com/abdul-hamid-achik/hitbatch/packages/metrics"
	"github.com/abdul-hamid-achik/hitbatch/packages/transport"
)

// varPrefix selects the environment variables exposed as template variables
const varPrefix = "HITBATCH_VAR_"

// Environment variable helpers
func getEnvString(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		return val == "true" || val == "1" || val == "yes"
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

// loadConfig reads the config file and applies the flags the user set.
func loadConfig(cmd *cobra.Command, path string) (*config.Config, error) {
	fileConfig, err := config.LoadConfig(path)
	if err != nil {
		return nil, withExitCode(ExitConfigError, err)
	}

	overrides := &config.Config{}
	flags := cmd.Flags()
	if v, ok := boolOverride(flags, "verbose", "HITBATCH_VERBOSE"); ok {
		overrides.Verbose = config.BoolPtr(v)
	}
	if v, ok := boolOverride(flags, "no-color", "HITBATCH_NO_COLOR"); ok {
		overrides.NoColor = config.BoolPtr(v)
	}
	if v, ok := boolOverride(flags, "no-follow", ""); ok && v {
		overrides.FollowRedirects = config.BoolPtr(false)
	}
	if f := flags.Lookup("ca-bundle"); f != nil {
		overrides.CABundle = f.Value.String()
	}

	cfg := fileConfig.Merge(overrides)
	if err := cfg.Validate(); err != nil {
		return nil, withExitCode(ExitConfigError, err)
	}
	return cfg, nil
}

// boolOverride returns the value of a bool flag when the user set it, on
// the command line or through envKey.
func boolOverride(flags *pflag.FlagSet, name, envKey string) (bool, bool) {
	f := flags.Lookup(name)
	if f == nil {
		return false, false
	}
	if !f.Changed && (envKey == "" || os.Getenv(envKey) == "") {
		return false, false
	}
	v, err := flags.GetBool(name)
	return v, err == nil
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func newClient(api *transport.API, cfg *config.Config, logger *slog.Logger, collector *metrics.Collector) *client.Client {
	opts := []client.ClientOption{
		client.WithLogger(logger),
		client.WithPollTimeout(cfg.PollTimeout.Std()),
		client.WithProgressInterval(cfg.ProgressInterval.Std()),
		client.WithConnectTimeout(cfg.ConnectTimeout.Std()),
		client.WithFollowRedirects(cfg.GetFollowRedirects()),
		client.WithMaxRedirects(cfg.MaxRedirects),
		client.WithDefaultHeaders(cfg.Headers),
	}
	if cfg.CABundle != "" {
		opts = append(opts, client.WithCABundle(cfg.CABundle))
	}
	if collector != nil {
		opts = append(opts, client.WithMetrics(collector))
	}
	return client.NewClient(api, opts...)
}

// newRunner returns an interruptible runner that aborts once ctx is done.
func newRunner(ctx context.Context, cfg *config.Config, logger *slog.Logger) *interruptible.Runner {
	return interruptible.NewRunner(
		interruptible.AbortOnContext(ctx),
		cfg.RunnerTiming(),
		interruptible.WithLogger(logger),
	)
}

// newResolver collects template variables: HITBATCH_VAR_* environment
// variables, then the env file, then --var flags.
func newResolver(envFile string, vars []string) (*env.Resolver, error) {
	sources := []map[string]string{env.LoadSystemEnv(varPrefix)}

	if envFile != "" {
		fileVars, err := env.LoadDotEnv(envFile)
		if err != nil {
			return nil, withExitCode(ExitConfigError, err)
		}
		sources = append(sources, fileVars)
	}

	flagVars := make(map[string]string, len(vars))
	for _, kv := range vars {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return nil, withExitCode(ExitUsageError, fmt.Errorf("invalid --var %q, expected name=value", kv))
		}
		flagVars[k] = v
	}
	sources = append(sources, flagVars)

	resolver := env.NewResolver()
	resolver.SetVariables(env.MergeVariables(sources...))
	return resolver, nil
}

func collectFiles(args []string) ([]string, error) {
	var files []string

	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("cannot access %s: %w", arg, err)
		}

		if !info.IsDir() {
			if batch.IsBatchFile(arg) {
				files = append(files, arg)
			}
			continue
		}

		err = filepath.WalkDir(arg, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && batch.IsBatchFile(path) && !isConfigFile(path) {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	return files, nil
}

func isConfigFile(path string) bool {
	base := filepath.Base(path)
	for _, name := range config.ConfigFilenames {
		if base == name {
			return true
		}
	}
	return false
}
