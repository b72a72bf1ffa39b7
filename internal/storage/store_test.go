package storage

import (
	"path/filepath"
	"testing"
)

func TestOpen_InMemoryCreatesSchema(t *testing.T) {
	store, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	for _, table := range []string{
		"companies",
		"income_statement",
		"balance_sheet",
		"cash_flow",
		"derived_ratios",
		"filing_chunks",
		"transcript_chunks",
		"user_sessions",
		"schema_version",
	} {
		var name string
		err := store.DB().QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}
}

func TestOpen_MigrationsRecorded(t *testing.T) {
	store, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	var count int
	if err := store.DB().QueryRow("SELECT COUNT(*) FROM schema_version").Scan(&count); err != nil {
		t.Fatalf("querying schema_version: %v", err)
	}
	if count == 0 {
		t.Error("no migrations recorded")
	}
}

func TestOpen_ReopenIsIdempotent(t *testing.T) {
	dir := t.TempDir()

	store, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	if _, err := store.DB().Exec(
		"INSERT INTO companies (ticker, name, currency) VALUES ('AAPL', 'Apple Inc.', 'USD')",
	); err != nil {
		t.Fatalf("inserting company: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("closing store: %v", err)
	}

	// Reopening must re-check migrations without reapplying them, and keep data.
	store, err = Open(dir)
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}
	defer store.Close()

	var name string
	if err := store.DB().QueryRow("SELECT name FROM companies WHERE ticker = 'AAPL'").Scan(&name); err != nil {
		t.Fatalf("querying company: %v", err)
	}
	if name != "Apple Inc." {
		t.Errorf("name = %q, want %q", name, "Apple Inc.")
	}
}

func TestOpen_CreatesDataDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "data")

	store, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	store.Close()
}

func TestParseMigrationVersion(t *testing.T) {
	tests := []struct {
		filename string
		want     int
		wantErr  bool
	}{
		{"001_init.sql", 1, false},
		{"042_add_index.sql", 42, false},
		{"init.sql", 0, true},
	}
	for _, tt := range tests {
		got, err := parseMigrationVersion(tt.filename)
		if tt.wantErr {
			if err == nil {
				t.Errorf("parseMigrationVersion(%q): expected error", tt.filename)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseMigrationVersion(%q): %v", tt.filename, err)
			continue
		}
		if got != tt.want {
			t.Errorf("parseMigrationVersion(%q) = %d, want %d", tt.filename, got, tt.want)
		}
	}
}
