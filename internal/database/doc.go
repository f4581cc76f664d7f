// Package database opens the applytrack SQLite database and owns its schema.
//
// Every persistent component (queue, config store, ingest ledger) shares the
// single *DB returned by Open. The package also provides the busy-retry exec
// helpers and the sortable UTC timestamp codec used for every time column, so
// that lexical comparisons in SQL match chronological order.
package database
