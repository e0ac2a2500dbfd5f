// Package migrations embeds the Postgres schema used by the direct booking
// store, the outbox and inbound event deduplication.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
