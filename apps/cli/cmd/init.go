package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/abdul-hamid-achik/hitbatch/packages/core/config"
)

var forceInit bool

var initCmd = &cobra.Command{
	Use:   "init [directory]",
	Short: "Initialize a new hitbatch project",
	Long: `Initialize a new hitbatch project.

This creates:
  - .hitbatch.yaml  - Configuration file with the default timing
  - example.yaml    - Example batch file

Examples:
  hitbatch init
  hitbatch init ./api --force`,
	Args: cobra.MaximumNArgs(1),
	RunE: initCommand,
}

func init() {
	initCmd.Flags().BoolVarP(&forceInit, "force", "f", false, "Overwrite existing files")
}

const exampleBatch = `name: example
variables:
  base: https://httpbin.org
requests:
  - name: status
    url: "{{base}}/get"
    headers:
      X-Request-Id: "{{uuid()}}"
    expect:
      status: 200
      body:
        - path: headers.X-Request-Id
          op: exists
        - path: url
          op: startsWith
          value: https://

  - name: create
    method: POST
    url: "{{base}}/anything"
    headers:
      Content-Type: application/json
    body: '{"name": "widget"}'
    compress: true
    expect:
      body:
        - path: headers.Content-Encoding
          op: ==
          value: gzip

  - name: missing
    url: "{{base}}/status/404"
    expect:
      status: 404
`

func initCommand(cmd *cobra.Command, args []string) error {
	dir := "."
	if len(args) == 1 {
		dir = args[0]
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	configFile := filepath.Join(dir, config.ConfigFilenames[0])
	exampleFile := filepath.Join(dir, "example.yaml")

	if !forceInit {
		for _, f := range []string{configFile, exampleFile} {
			if _, err := os.Stat(f); err == nil {
				return withExitCode(ExitUsageError, fmt.Errorf("file already exists: %s (use --force to overwrite)", f))
			}
		}
	}

	cfg := config.DefaultConfig()
	cfg.Headers = map[string]string{"User-Agent": "hitbatch/" + version}
	if err := cfg.SaveConfig(configFile); err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created: %s\n", configFile)

	if err := os.WriteFile(exampleFile, []byte(exampleBatch), 0644); err != nil {
		return fmt.Errorf("failed to create example file: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created: %s\n", exampleFile)

	fmt.Fprintf(cmd.OutOrStdout(), "\nhitbatch project initialized!\n")
	fmt.Fprintf(cmd.OutOrStdout(), "Run 'hitbatch run %s' to execute the example batch.\n", exampleFile)

	return nil
}
