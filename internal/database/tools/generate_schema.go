// Command generate_schema writes the schema produced by the migrations to
// internal/database/schema.sql. With -check it only reports drift.
package main

import (
	"bytes"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"st-go/internal/database"
	"st-go/internal/database/migrations"
)

func main() {
	out := flag.String("out", filepath.Join("internal", "database", "schema.sql"), "schema file, relative to the module root")
	check := flag.Bool("check", false, "fail if the schema file is out of date instead of writing it")
	flag.Parse()

	schema, err := generate()
	if err != nil {
		fmt.Fprintf(os.Stderr, "generate_schema: %v\n", err)
		os.Exit(1)
	}

	if *check {
		current, err := os.ReadFile(*out)
		if err != nil {
			fmt.Fprintf(os.Stderr, "generate_schema: reading %s: %v\n", *out, err)
			os.Exit(1)
		}
		if !bytes.Equal(current, []byte(schema)) {
			fmt.Fprintf(os.Stderr, "%s is out of date, run 'go generate ./internal/database'\n", *out)
			os.Exit(1)
		}
		return
	}

	if err := os.WriteFile(*out, []byte(schema), 0644); err != nil {
		fmt.Fprintf(os.Stderr, "generate_schema: writing %s: %v\n", *out, err)
		os.Exit(1)
	}
	fmt.Printf("Generated %s from migrations\n", *out)
}

// generate migrates a scratch in-memory database and dumps its schema.
func generate() (string, error) {
	db, err := database.OpenConnection(":memory:")
	if err != nil {
		return "", err
	}
	defer db.Close()

	if err := migrations.MigrateUp(db); err != nil {
		return "", fmt.Errorf("migrating: %w", err)
	}
	version, err := migrations.Version(db)
	if err != nil {
		return "", err
	}
	body, err := extractSchema(db)
	if err != nil {
		return "", err
	}

	header := fmt.Sprintf(`-- This file is auto-generated from migration files.
-- DO NOT EDIT MANUALLY. Run 'go generate ./internal/database' to regenerate.
-- Source: internal/database/migrations/files/*.sql
-- Schema version: %d

`, version)
	return header + body, nil
}

// extractSchema returns every CREATE statement of tables and indexes,
// tables first, skipping SQLite internals and the migration bookkeeping.
func extractSchema(db *sql.DB) (string, error) {
	rows, err := db.Query(`
		SELECT sql || ';'
		FROM sqlite_master
		WHERE type IN ('table', 'index')
		  AND sql IS NOT NULL
		  AND name NOT LIKE 'sqlite_%'
		  AND tbl_name != 'schema_migrations'
		ORDER BY
		  CASE type WHEN 'table' THEN 1 ELSE 2 END,
		  name
	`)
	if err != nil {
		return "", fmt.Errorf("querying sqlite_master: %w", err)
	}
	defer rows.Close()

	var b strings.Builder
	for rows.Next() {
		var stmt string
		if err := rows.Scan(&stmt); err != nil {
			return "", fmt.Errorf("scanning schema: %w", err)
		}
		b.WriteString(stmt)
		b.WriteString("\n\n")
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	return b.String(), nil
}
