package migrations

import (
	"strings"
	"testing"
)

func TestEmbeddedFS_ContainsMigrationFiles(t *testing.T) {
	// Given: The embedded filesystem
	// When: We read the directory
	entries, err := FS.ReadDir(".")
	if err != nil {
		t.Fatalf("failed to read embedded FS: %v", err)
	}

	// Then: It contains the journal schema migration
	found := false
	for _, entry := range entries {
		if entry.Name() == "001_transaction_journal.sql" {
			found = true
			break
		}
	}

	if !found {
		t.Error("001_transaction_journal.sql not found in embedded FS")
	}
}

func TestEmbeddedFS_MigrationFileReadable(t *testing.T) {
	// Given: The embedded filesystem
	// When: We read the migration file
	content, err := FS.ReadFile("001_transaction_journal.sql")
	if err != nil {
		t.Fatalf("failed to read migration file: %v", err)
	}

	// Then: It contains goose directives and both tables
	s := string(content)
	for _, want := range []string{
		"-- +goose Up",
		"-- +goose Down",
		"CREATE TABLE transactions",
		"CREATE TABLE transaction_events",
	} {
		if !strings.Contains(s, want) {
			t.Errorf("migration missing %q", want)
		}
	}
}
