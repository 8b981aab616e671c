package sqlite

import (
	"path/filepath"
	"testing"
)

func TestNewSQLiteCreatesSchema(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "records.db")
	db, err := NewSQLite(path)
	if err != nil {
		t.Fatalf("NewSQLite() error = %v", err)
	}
	defer db.Close()

	var name string
	err = db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'sent_emails'`).Scan(&name)
	if err != nil {
		t.Fatalf("sent_emails table missing: %v", err)
	}

	// Running the schema again must be a no-op.
	if err := InitSchema(db); err != nil {
		t.Fatalf("InitSchema() second call error = %v", err)
	}
}

func TestNewSQLiteRequiresPath(t *testing.T) {
	t.Parallel()

	if _, err := NewSQLite(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}
