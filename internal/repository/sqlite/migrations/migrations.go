// Package migrations embeds the SQL schema migrations applied by goose at startup.
//
// Files are named NNNNN_description.sql and hold "-- +goose Up" and
// "-- +goose Down" sections. goose records applied versions in the
// goose_db_version table, so running them again is a no-op.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
