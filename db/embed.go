// Package db embeds the database schema applied at startup and by seed-db.
package db

import _ "embed"

// Schema creates the profile, menu, order and order counter tables. Every
// statement is idempotent.
//
//go:embed migrations/001_schema.sql
var Schema string
