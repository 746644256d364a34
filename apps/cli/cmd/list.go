package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/abdul-hamid-achik/hitbatch/packages/batch"
)

var listCmd = &cobra.Command{
	Use:   "list <file|directory>...",
	Short: "List the requests of batch files",
	Long: `List the requests defined in batch files.

Examples:
  hitbatch list smoke.yaml
  hitbatch list ./batches/`,
	Args: cobra.MinimumNArgs(1),
	RunE: listCommand,
}

func listCommand(cmd *cobra.Command, args []string) error {
	files, err := collectFiles(args)
	if err != nil {
		return withExitCode(ExitUsageError, err)
	}
	if len(files) == 0 {
		return withExitCode(ExitUsageError, fmt.Errorf("no batch files found"))
	}

	for _, file := range files {
		f, err := batch.ParseFile(file)
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Error parsing %s: %v\n", file, err)
			continue
		}

		fmt.Fprintf(cmd.OutOrStdout(), "\n%s (%s):\n", f.Name, file)
		for _, e := range f.Requests {
			method := e.Method
			if method == "" {
				method = "GET"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "  - %s: %s %s\n", e.Name, method, e.URL)
			if e.Expect != nil && e.Expect.Status != 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "    expect: status %d\n", e.Expect.Status)
			}
		}
	}

	return nil
}
