package main

import (
	"io/fs"
	"strings"
	"testing"
)

func TestMigrationsPaired(t *testing.T) {
	entries, err := fs.ReadDir(migrations, "migrations")
	if err != nil {
		t.Fatalf("read embedded migrations: %v", err)
	}

	ups := map[string]bool{}
	downs := map[string]bool{}
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		default:
			t.Errorf("unexpected file %s", name)
		}
	}

	if len(ups) == 0 {
		t.Fatal("no migrations embedded")
	}
	for name := range ups {
		if !downs[name] {
			t.Errorf("%s has no down migration", name)
		}
	}
	for name := range downs {
		if !ups[name] {
			t.Errorf("%s has no up migration", name)
		}
	}
}

func TestMigrationsCreateStoreTables(t *testing.T) {
	var all strings.Builder
	entries, _ := fs.ReadDir(migrations, "migrations")
	for _, e := range entries {
		if !strings.HasSuffix(e.Name(), ".up.sql") {
			continue
		}
		b, err := fs.ReadFile(migrations, "migrations/"+e.Name())
		if err != nil {
			t.Fatalf("read %s: %v", e.Name(), err)
		}
		all.Write(b)
	}
	sql := all.String()

	tests := []struct {
		name     string
		got      any
		expected any
	}{
		{"documents", strings.Contains(sql, "CREATE TABLE documents"), true},
		{"runs", strings.Contains(sql, "CREATE TABLE runs"), true},
		{"review_tasks", strings.Contains(sql, "CREATE TABLE review_tasks"), true},
		{"extraction_drafts", strings.Contains(sql, "CREATE TABLE extraction_drafts"), true},
		{"construction_records", strings.Contains(sql, "CREATE TABLE construction_records"), true},
		{"record_embeddings", strings.Contains(sql, "CREATE TABLE record_embeddings"), true},
		{"idempotency key unique", strings.Contains(sql, "idempotency_key TEXT NOT NULL UNIQUE"), true},
		{"pgvector", strings.Contains(sql, "CREATE EXTENSION IF NOT EXISTS vector"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("got %v, want %v", tt.got, tt.expected)
			}
		})
	}
}
