package audit

import (
	"database/sql"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

func testDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "test.db")+"?_journal_mode=WAL")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRunMigrations_FreshDB(t *testing.T) {
	db := testDB(t)
	if err := runMigrations(db, testLogger()); err != nil {
		t.Fatalf("runMigrations failed: %v", err)
	}
	version, err := getSchemaVersion(db)
	if err != nil {
		t.Fatal(err)
	}
	if version != schemaVersion {
		t.Errorf("expected schema version %d, got %d", schemaVersion, version)
	}

	for _, table := range []string{"command_runs", "exchanges", "schema_version"} {
		var name string
		if err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name); err != nil {
			t.Errorf("table %q not found: %v", table, err)
		}
	}
}

func TestRunMigrations_Idempotent(t *testing.T) {
	db := testDB(t)
	for i := 0; i < 2; i++ {
		if err := runMigrations(db, testLogger()); err != nil {
			t.Fatalf("run %d: %v", i+1, err)
		}
	}
	var n int
	db.QueryRow("SELECT COUNT(*) FROM schema_version").Scan(&n)
	if n != len(migrations) {
		t.Fatalf("expected %d recorded versions, got %d", len(migrations), n)
	}
}

func TestRunMigrations_ColumnAlreadyPresent(t *testing.T) {
	db := testDB(t)
	if err := ensureVersionTable(db); err != nil {
		t.Fatal(err)
	}
	// A v2 database whose exchanges table already gained one v3 column.
	for _, m := range migrations[:2] {
		if err := applyMigration(db, m); err != nil {
			t.Fatalf("apply v%d: %v", m.Version, err)
		}
	}
	if _, err := db.Exec("ALTER TABLE exchanges ADD COLUMN prompt_tokens INTEGER DEFAULT 0"); err != nil {
		t.Fatal(err)
	}

	// The batched v3 script now fails on the duplicate column, so only the
	// per-statement path can finish it.
	if err := applyMigration(db, migrations[2]); err == nil {
		t.Fatal("expected batched v3 to fail on the existing column")
	}
	if v, _ := getSchemaVersion(db); v != 2 {
		t.Fatalf("failed batch must not record v3, got version %d", v)
	}

	if err := runMigrations(db, testLogger()); err != nil {
		t.Fatalf("runMigrations: %v", err)
	}
	if _, err := db.Exec("INSERT INTO exchanges (id, prompt_tokens, completion_tokens) VALUES ('x', 1, 2)"); err != nil {
		t.Fatalf("v3 columns missing: %v", err)
	}
	if v, _ := getSchemaVersion(db); v != schemaVersion {
		t.Fatalf("expected version %d, got %d", schemaVersion, v)
	}
}

func TestGetSchemaVersion_NoTable(t *testing.T) {
	version, err := getSchemaVersion(testDB(t))
	if err != nil {
		t.Fatal(err)
	}
	if version != 0 {
		t.Errorf("expected version 0 for empty db, got %d", version)
	}
}

func TestSplitSQL(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected int
	}{
		{"empty", "", 0},
		{"single", "CREATE TABLE t (id INT)", 1},
		{"multiple", "CREATE TABLE t1 (id INT); CREATE TABLE t2 (id INT)", 2},
		{"trailing semicolon", "CREATE TABLE t (id INT);", 1},
		{"whitespace", "  CREATE TABLE t (id INT)  ;  ", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := splitSQL(tt.input); len(got) != tt.expected {
				t.Errorf("expected %d statements, got %d: %v", tt.expected, len(got), got)
			}
		})
	}
}
