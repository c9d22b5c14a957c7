package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSplitSQLAndExtractTables(t *testing.T) {
	sql := "-- header\nCREATE TABLE IF NOT EXISTS rides (id TEXT);\n\nCREATE TABLE IF NOT EXISTS ride_state_events (id BIGSERIAL);\n"
	stmts := splitSQL(sql)
	if len(stmts) != 2 {
		t.Fatalf("expected 2 statements, got %d: %q", len(stmts), stmts)
	}

	path := filepath.Join(t.TempDir(), "init.sql")
	if err := os.WriteFile(path, []byte(sql), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	tables, err := extractTables(path)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(tables) != 2 || tables[0] != "rides" || tables[1] != "ride_state_events" {
		t.Fatalf("unexpected tables: %v", tables)
	}
}

func TestExpect(t *testing.T) {
	if got := expect(200, 200, 0); got.Status != statusPass {
		t.Fatalf("expected pass, got %+v", got)
	}
	if got := expect(500, 200, 0); got.Status != statusFail {
		t.Fatalf("expected fail, got %+v", got)
	}
}
