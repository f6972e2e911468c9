// Command tablesync-cli manages rooms on a TableSync server and follows
// them live.
//
// Usage:
//
//	tablesync-cli --actor gm rooms create "Friday Game" -e t1=token@3,4
//	tablesync-cli rooms list -o json
//	tablesync-cli --actor p1 watch tsrm-01j...
//	tablesync-cli --actor p1 entity move tsrm-01j... t1 5 6
//
// Settings come from ~/.tablesync/cli.yaml, TABLESYNC_CLI_* variables and
// flags, later sources winning.
package main
