// Package config defines the tablesync-server configuration structure.
//
// Files:
//
//   - spec.go: the configuration tree and its koanf keys
//   - default.go: default values
//   - verify.go: validation
//   - sanitize.go: masking secrets before the config is logged
//
// Conversions into the runtime settings of the session manager, the bus
// and the WebSocket transport live next to the tree in spec.go.
package config
