// Package migrations embeds the SQL schema migrations. The golang-migrate
// iofs driver reads them when migrations run at startup.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS

const Version = 1
