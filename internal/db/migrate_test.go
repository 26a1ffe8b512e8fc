package db

import (
	"path/filepath"
	"testing"
)

func TestMigrateIsIdempotent(t *testing.T) {
	sqlDB, err := OpenSQLite(filepath.Join(t.TempDir(), "nested", "axim.db"))
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	defer sqlDB.Close()

	for i := 0; i < 2; i++ {
		if err := Migrate(sqlDB); err != nil {
			t.Fatalf("Migrate() run %d error = %v", i+1, err)
		}
	}
	for _, table := range []string{"downloaded", "search_history", "system_settings"} {
		var name string
		err := sqlDB.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		if err != nil {
			t.Fatalf("table %s missing: %v", table, err)
		}
	}
	hasSize, err := hasColumn(sqlDB, "downloaded", "size")
	if err != nil || !hasSize {
		t.Fatalf("hasColumn(downloaded.size) = %v, %v", hasSize, err)
	}
}
