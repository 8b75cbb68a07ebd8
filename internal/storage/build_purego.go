//go:build !cgo

package storage

// This file is compiled when building without CGO. It uses the pure Go
// SQLite implementation, which keeps cross-compilation trivial at the cost
// of somewhat slower queries.
//
// Build command:
//   CGO_ENABLED=0 go build ./...

import (
	_ "modernc.org/sqlite"
)

const (
	// DriverName is the SQLite driver to use
	DriverName = "sqlite"

	// BuildMode describes the current build configuration
	BuildMode = "purego"
)
