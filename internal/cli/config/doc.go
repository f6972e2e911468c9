// Package config provides the tablesync-cli configuration.
//
//   - spec.go: CLIConfig and its sections (~/.tablesync/cli.yaml)
//   - loader.go: loading through confloader, verification and saving
//
// Sources are applied in order: defaults, the YAML file, TABLESYNC_CLI_*
// environment variables, then command-line flags.
package config
