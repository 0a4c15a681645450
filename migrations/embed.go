// Package migrations embeds the runner's own schema: the cleanup_run_log
// bookkeeping table. Application tables being cleaned are never migrated here.
package migrations

import "embed"

//go:embed *.sql
var Files embed.FS
