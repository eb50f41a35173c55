// Package migrations holds the engine's schema. Files are applied in lexical
// order by database.Pool.Migrate at server startup and by the integration
// test containers; only *.up.sql files are run.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
