package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/axxuxy/ax-image/internal/models"
)

// SearchHistoryQuery selects items with First <= date < Last. Every
// whitespace-separated term of Search must occur in the item key.
type SearchHistoryQuery struct {
	Website models.Website
	First   *time.Time
	Last    *time.Time
	Limit   int
	Search  string
}

// SaveSearchHistory upserts by key; tags and date are replaced.
func (s *SQLStore) SaveSearchHistory(ctx context.Context, info models.SearchHistoryInfo) (models.SearchHistoryItem, error) {
	tags := info.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return models.SearchHistoryItem{}, fmt.Errorf("encode tags: %w", err)
	}
	item := models.SearchHistoryItem{
		Key:     models.SearchHistoryKey(info.Website, tags),
		Website: info.Website,
		Tags:    append([]string(nil), tags...),
		Date:    info.Date,
	}
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO search_history (key, website, tags_json, date)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			website = excluded.website,
			tags_json = excluded.tags_json,
			date = excluded.date`,
		item.Key,
		item.Website,
		string(tagsJSON),
		timeToSQLite(item.Date),
	)
	if err != nil {
		return models.SearchHistoryItem{}, err
	}
	return item, nil
}

func (s *SQLStore) QuerySearchHistory(ctx context.Context, q SearchHistoryQuery) ([]models.SearchHistoryItem, error) {
	query := `SELECT key, website, tags_json, date FROM search_history`
	var where []string
	var args []any
	if q.Website != "" {
		where = append(where, `website = ?`)
		args = append(args, q.Website)
	}
	if q.First != nil {
		where = append(where, `date >= ?`)
		args = append(args, timeToSQLite(*q.First))
	}
	if q.Last != nil {
		where = append(where, `date < ?`)
		args = append(args, timeToSQLite(*q.Last))
	}
	for _, term := range strings.Fields(q.Search) {
		where = append(where, `instr(key, ?) > 0`)
		args = append(args, term)
	}
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, ` AND `)
	}
	query += ` ORDER BY date DESC, key ASC LIMIT ?`
	args = append(args, queryLimit(q.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]models.SearchHistoryItem, 0)
	for rows.Next() {
		item, err := scanSearchHistory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func (s *SQLStore) GetSearchHistory(ctx context.Context, key string) (models.SearchHistoryItem, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT key, website, tags_json, date FROM search_history WHERE key = ?`, key)
	item, err := scanSearchHistory(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return models.SearchHistoryItem{}, false, nil
		}
		return models.SearchHistoryItem{}, false, err
	}
	return item, true, nil
}

func (s *SQLStore) DeleteSearchHistory(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM search_history WHERE key = ?`, key)
	return err
}

func (s *SQLStore) ClearSearchHistory(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM search_history`)
	return err
}

// DeleteSearchHistoryBefore removes items older than t and returns how many.
func (s *SQLStore) DeleteSearchHistoryBefore(ctx context.Context, t time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM search_history WHERE date < ?`, timeToSQLite(t))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanSearchHistory(scanner interface {
	Scan(dest ...any) error
}) (models.SearchHistoryItem, error) {
	var item models.SearchHistoryItem
	var website string
	var tagsJSON string
	var date int64
	if err := scanner.Scan(&item.Key, &website, &tagsJSON, &date); err != nil {
		return models.SearchHistoryItem{}, err
	}
	if err := json.Unmarshal([]byte(tagsJSON), &item.Tags); err != nil {
		return models.SearchHistoryItem{}, fmt.Errorf("decode tags of %q: %w", item.Key, err)
	}
	if item.Tags == nil {
		item.Tags = []string{}
	}
	item.Website = models.Website(website)
	item.Date = timeFromSQLite(date)
	return item, nil
}
