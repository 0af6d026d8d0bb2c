package store

import "embed"

// SchemaFiles holds the embedded SQL migrations applied at startup.
//
//go:embed schema/*.sql
var SchemaFiles embed.FS
