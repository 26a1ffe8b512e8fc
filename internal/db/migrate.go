package db

import (
	"database/sql"
	"fmt"
	"strings"
)

func Migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS downloaded (
			website TEXT NOT NULL,
			post_id INTEGER NOT NULL,
			download_type TEXT NOT NULL,
			download_at INTEGER NOT NULL,
			downloaded_at INTEGER NOT NULL,
			save_path TEXT NOT NULL,
			post_json TEXT NOT NULL DEFAULT '{}',
			PRIMARY KEY(website, post_id, download_type)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_downloaded_downloaded_at ON downloaded(downloaded_at);`,
		`CREATE INDEX IF NOT EXISTS idx_downloaded_website ON downloaded(website, downloaded_at);`,
		`CREATE TABLE IF NOT EXISTS search_history (
			key TEXT PRIMARY KEY,
			website TEXT NOT NULL,
			tags_json TEXT NOT NULL DEFAULT '[]',
			date INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_search_history_date ON search_history(date);`,
		`CREATE TABLE IF NOT EXISTS system_settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			update_time TEXT NOT NULL
		);`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	hasSize, err := hasColumn(db, "downloaded", "size")
	if err != nil {
		return err
	}
	if !hasSize {
		if _, err := db.Exec(`ALTER TABLE downloaded ADD COLUMN size INTEGER NOT NULL DEFAULT 0;`); err != nil {
			return fmt.Errorf("add downloaded.size: %w", err)
		}
	}

	return nil
}

func hasColumn(db *sql.DB, tableName string, columnName string) (bool, error) {
	rows, err := db.Query(fmt.Sprintf(`PRAGMA table_info(%s);`, tableName))
	if err != nil {
		return false, fmt.Errorf("table info %s: %w", tableName, err)
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name string
		var dataType string
		var notNull int
		var defaultValue sql.NullString
		var pk int
		if err := rows.Scan(&cid, &name, &dataType, &notNull, &defaultValue, &pk); err != nil {
			return false, fmt.Errorf("scan table_info(%s): %w", tableName, err)
		}
		if strings.EqualFold(name, columnName) {
			return true, nil
		}
	}
	return false, rows.Err()
}
