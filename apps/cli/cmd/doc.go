// Package cmd implements the hitbatch CLI commands using Cobra.
//
// Available commands:
//   - run: Execute batch files, one concurrent batch per file
//   - fetch: Download resources in one batch, through the resource cache
//   - validate: Check batch files without executing them
//   - list: Display the requests of batch files
//   - init: Create an example batch file and configuration
//   - version: Show hitbatch version information
//
// A run can be interrupted with SIGINT or SIGTERM, or bounded with
// --timeout; in-flight requests are then cancelled through the escalating
// shutdown of the interruptible runner.
package cmd
