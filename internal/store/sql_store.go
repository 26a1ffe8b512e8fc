package store

import (
	"database/sql"
	"strings"
	"time"
)

// DefaultQueryLimit applies when a query does not set Limit.
const DefaultQueryLimit = 5

type SQLStore struct {
	db *sql.DB
}

func New(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) DB() *sql.DB {
	return s.db
}

// Times are stored as unix nanoseconds so that ordering and range bounds are
// plain integer comparisons.
func timeToSQLite(t time.Time) int64 {
	return t.UnixNano()
}

func timeFromSQLite(n int64) time.Time {
	return time.Unix(0, n)
}

func queryLimit(limit int) int {
	if limit <= 0 {
		return DefaultQueryLimit
	}
	return limit
}

func inClause(column string, n int) string {
	if n == 0 {
		return `0 = 1`
	}
	return column + ` IN (` + strings.TrimSuffix(strings.Repeat(`?, `, n), `, `) + `)`
}
