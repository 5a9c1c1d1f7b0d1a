package migrate

import (
	"testing"

	"cityworks/internal/db"
)

func TestMigrateIdempotent(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()
	if err := Migrate(conn); err != nil {
		t.Fatalf("first migrate: %v", err)
	}
	if err := Migrate(conn); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	all, err := steps()
	if err != nil {
		t.Fatalf("steps: %v", err)
	}
	if len(all) == 0 {
		t.Fatal("no embedded migrations")
	}
	var v int
	if err := conn.QueryRow(`SELECT version FROM schema_version`).Scan(&v); err != nil {
		t.Fatalf("read version: %v", err)
	}
	if want := all[len(all)-1].version; v != want {
		t.Errorf("schema version = %d, want %d", v, want)
	}
}
