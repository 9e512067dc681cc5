// Package db embeds the PostgreSQL schema applied at startup.
package db

import _ "embed"

// Schema is the idempotent DDL for the catalog, voucher, cart, session, order
// and payment tables.
//
//go:embed migrations/001_schema.sql
var Schema string
