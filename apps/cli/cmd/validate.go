package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/abdul-hamid-achik/hitbatch/packages/batch"
	"github.com/abdul-hamid-achik/hitbatch/packages/core/env"
)

var validateCmd = &cobra.Command{
	Use:   "validate <file|directory>...",
	Short: "Validate batch files without executing them",
	Long: `Validate batch files without sending any request. Every entry is
built into a request, so unsupported URLs, methods with bodies and similar
mistakes are reported too. Templates that cannot be resolved from the file
variables are listed as warnings.

Examples:
  hitbatch validate smoke.yaml
  hitbatch validate ./batches/`,
	Args: cobra.MinimumNArgs(1),
	RunE: validateCommand,
}

func validateCommand(cmd *cobra.Command, args []string) error {
	files, err := collectFiles(args)
	if err != nil {
		return withExitCode(ExitUsageError, err)
	}
	if len(files) == 0 {
		return withExitCode(ExitUsageError, fmt.Errorf("no batch files found"))
	}

	hasErrors := false
	for _, file := range files {
		if err := validateFile(cmd, file); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Error in %s: %v\n", file, err)
			hasErrors = true
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Valid: %s\n", file)
	}

	if hasErrors {
		return withExitCode(ExitParseError, fmt.Errorf("validation failed"))
	}
	return nil
}

func validateFile(cmd *cobra.Command, path string) error {
	f, err := batch.ParseFile(path)
	if err != nil {
		return err
	}

	resolver := env.NewResolver()
	resolver.SetVariables(f.Variables)
	for _, e := range f.Requests {
		for _, name := range resolver.UnresolvedVariables(e.URL + e.Body) {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s: %s: variable %s is not defined in the file\n", path, e.Name, name)
		}
	}

	resolved, resolveErrs := f.Resolve(resolver)
	_, buildErrs := batch.BuildRequests(resolved)
	for i, err := range buildErrs {
		// Unresolved templates were reported as warnings.
		if err != nil && resolveErrs[i] == nil {
			return fmt.Errorf("%s: %w", f.Requests[i].Name, err)
		}
	}
	return nil
}
