// Package db embeds the database schema and the default product catalog so
// binaries can migrate and seed without access to the source tree.
package db

import _ "embed"

// Schema contains the DDL statements for all application tables.
//
//go:embed migrations/001_schema.sql
var Schema string

// SeedProducts is the default product catalog, used by seed-db when no
// products file is given on the command line.
//
//go:embed seed/products.json
var SeedProducts []byte
