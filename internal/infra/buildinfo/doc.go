// Package buildinfo reports the version of the running binary.
//
// Release builds set the variables with ldflags:
//
//	go build -ldflags "-X github.com/yndnr/tablesync-go/internal/infra/buildinfo.Version=v0.3.0"
//
// Other builds fall back to the module and VCS data the toolchain embeds.
package buildinfo
