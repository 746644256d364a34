// Package config handles configuration loading and management for hitbatch.
//
// It provides functionality for:
//   - Loading configuration from .hitbatch.yaml, hitbatch.yaml or .hitbatchrc
//   - Default configuration values
//   - Merging configurations with precedence
//   - Validating configuration values
package config
