// Package confloader loads layered configuration with koanf.
//
// Sources, lowest priority first:
//
//  1. Values already present in the target struct (defaults)
//  2. A YAML file
//  3. Environment variables with the TABLESYNC_ prefix
//  4. Explicit overrides passed to LoadMap (command-line flags)
//
// Environment names map to keys by lowercasing, turning "_" into "." and
// "__" into a literal underscore:
//
//	TABLESYNC_SESSION_HEARTBEAT__INTERVAL=2s -> session.heartbeat_interval
//
// Watcher reports writes to watched files so long-running processes can
// reload their tunables.
package confloader
