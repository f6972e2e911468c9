// Package command defines the tablesync-cli commands on urfave/cli/v2.
//
//   - root.go: the application, global flags and shared helpers
//   - rooms.go: room lifecycle over the HTTP API
//   - live.go: watch and entity commands over a live room connection
//   - status.go: server health and readiness
//   - config.go: the local CLI configuration
//
// Commands parse flags, call the server and hand results to the output
// package, so every command honours --output.
package command
