//go:build sqlite_vec && cgo

package ragstore

import (
	vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
)

func init() {
	// Register the sqlite-vec extension with the mattn/go-sqlite3 driver so
	// index databases can use vec0 virtual tables when the tag is enabled.
	vec.Auto()
}
