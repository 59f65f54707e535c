// Package migrations embeds the schema and seed SQL.
package migrations

import (
	"embed"
	"io/fs"
)

//go:embed *.sql seeds/*.sql
var files embed.FS

// Schema holds the *.up.sql / *.down.sql files.
func Schema() fs.FS { return files }

// Seeds holds idempotent reference data.
func Seeds() fs.FS {
	sub, err := fs.Sub(files, "seeds")
	if err != nil {
		panic(err)
	}
	return sub
}
