// Package output renders CLI results.
//
//   - formatter.go: Formatter interface and factory
//   - table.go: aligned tables, with wide mode for extra columns
//   - json.go, yaml.go: machine-readable output for scripting
//   - events.go: one-line descriptions of live room events
//   - spinner.go: progress animation while a command waits
package output
