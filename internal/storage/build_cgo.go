//go:build cgo

package storage

// This file is compiled for CGO builds. It uses the C SQLite implementation
// for faster scans over large embedding tables.
//
// Build command:
//   CGO_ENABLED=1 go build ./...

import (
	_ "github.com/mattn/go-sqlite3"
)

const (
	// DriverName is the SQLite driver to use
	DriverName = "sqlite3"

	// BuildMode describes the current build configuration
	BuildMode = "cgo"
)
