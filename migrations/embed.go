// Package migrations holds the SQL schema migrations, embedded so binaries
// and integration tests can apply them without a checkout of the repo.
package migrations

import "embed"

// FS contains every *.sql migration, named NNN_description.up.sql.
//
//go:embed *.sql
var FS embed.FS
