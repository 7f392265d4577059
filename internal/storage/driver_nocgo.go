//go:build !cgo

package storage

// pure Go driver for CGO_ENABLED=0 builds
import _ "modernc.org/sqlite"

const sqliteDriver = "sqlite"
