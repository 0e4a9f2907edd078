package database

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestValidateReadOnly(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		wantErr bool
	}{
		{"select", "SELECT name FROM missions", false},
		{"lowercase with", "with m as (select 1) select * from m", false},
		{"trailing semicolon", "SELECT 1;", false},
		{"leading comments", "-- launches\n/* recent */ SELECT * FROM launches", false},
		{"explain", "EXPLAIN SELECT * FROM missions", false},
		{"column named deleted", "SELECT deleted_at FROM missions", false},
		{"insert", "INSERT INTO missions VALUES (1)", true},
		{"drop", "drop table missions", true},
		{"multiple statements", "SELECT 1; DELETE FROM missions", true},
		{"empty", "   ", true},
		{"only comment", "-- nothing here", true},
		{"unknown verb", "MERGE INTO missions", true},
		{"prefix is not a keyword", "SELECTED", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateReadOnly(tt.query)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateReadOnly(%q) error = %v, wantErr %v", tt.query, err, tt.wantErr)
			}
		})
	}
}

func TestFormatSchema(t *testing.T) {
	out := formatSchema("public", []column{
		{Table: "missions", Name: "id", Type: "integer"},
		{Table: "missions", Name: "name", Type: "text"},
		{Table: "launches", Name: "launched_at", Type: "timestamp with time zone", Nullable: true},
	})
	for _, want := range []string{
		"Schema public:",
		"TABLE missions\n  id integer NOT NULL\n  name text NOT NULL",
		"TABLE launches\n  launched_at timestamp with time zone NULL",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("schema output missing %q:\n%s", want, out)
		}
	}

	if got := formatSchema("ops", nil); !strings.Contains(got, `No tables found in schema "ops"`) {
		t.Errorf("empty schema output = %q", got)
	}
}

func TestFormatValue(t *testing.T) {
	ts := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		in   any
		want string
	}{
		{nil, "NULL"},
		{[]byte("Apollo"), "Apollo"},
		{ts, "2026-04-01T12:00:00Z"},
		{int64(42), "42"},
	}
	for _, tt := range tests {
		if got := formatValue(tt.in); got != tt.want {
			t.Errorf("formatValue(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestQueryTool_RejectsWritesBeforeConnecting(t *testing.T) {
	db := Open(Config{}, nil)
	query := db.Tools()[0]
	if query.Name() != QueryToolName {
		t.Fatalf("first tool = %s", query.Name())
	}
	_, err := query.Execute(context.Background(), map[string]any{"query": "DELETE FROM missions"})
	if err == nil || !strings.Contains(err.Error(), "read-only") {
		t.Fatalf("err = %v, want read-only rejection", err)
	}
}

func TestQueryTool_RequiresDSN(t *testing.T) {
	db := Open(Config{}, nil)
	_, err := db.Tools()[0].Execute(context.Background(), map[string]any{"query": "SELECT 1"})
	if err == nil || !strings.Contains(err.Error(), "DSN not configured") {
		t.Fatalf("err = %v", err)
	}
	if err := db.Close(); err != nil {
		t.Errorf("Close on unopened db: %v", err)
	}
}
