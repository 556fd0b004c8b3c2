package migrations

import "embed"

// Files exposes the SQL migrations applied by the WMI registry store.
//
//go:embed *.sql
var Files embed.FS
