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

// DownloadedQuery selects records with First <= downloaded_at < Last.
// Websites and DownloadTypes narrow the result further when not nil; an
// empty non-nil slice matches nothing.
type DownloadedQuery struct {
	Website       models.Website
	Websites      []models.Website
	DownloadTypes []models.DownloadType
	First         *time.Time
	Last          *time.Time
	Limit         int
	Offset        int
}

// SaveDownloaded replaces any record with the same website, post and type.
func (s *SQLStore) SaveDownloaded(ctx context.Context, info models.DownloadedInfo) error {
	postJSON, err := json.Marshal(info.Post)
	if err != nil {
		return fmt.Errorf("encode post: %w", err)
	}
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO downloaded (website, post_id, download_type, download_at, downloaded_at, save_path, size, post_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(website, post_id, download_type) DO UPDATE SET
			download_at = excluded.download_at,
			downloaded_at = excluded.downloaded_at,
			save_path = excluded.save_path,
			size = excluded.size,
			post_json = excluded.post_json`,
		info.Website,
		info.ID,
		info.DownloadType,
		timeToSQLite(info.DownloadAt),
		timeToSQLite(info.DownloadedAt),
		info.SavePath,
		info.Size,
		string(postJSON),
	)
	return err
}

func (s *SQLStore) QueryDownloaded(ctx context.Context, q DownloadedQuery) ([]models.DownloadedInfo, error) {
	query := `SELECT website, post_id, download_type, download_at, downloaded_at, save_path, size, post_json
		FROM downloaded`
	var where []string
	var args []any
	if q.Website != "" {
		where = append(where, `website = ?`)
		args = append(args, q.Website)
	}
	if q.Websites != nil {
		where = append(where, inClause("website", len(q.Websites)))
		for _, website := range q.Websites {
			args = append(args, website)
		}
	}
	if q.DownloadTypes != nil {
		where = append(where, inClause("download_type", len(q.DownloadTypes)))
		for _, downloadType := range q.DownloadTypes {
			args = append(args, downloadType)
		}
	}
	if q.First != nil {
		where = append(where, `downloaded_at >= ?`)
		args = append(args, timeToSQLite(*q.First))
	}
	if q.Last != nil {
		where = append(where, `downloaded_at < ?`)
		args = append(args, timeToSQLite(*q.Last))
	}
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, ` AND `)
	}
	query += ` ORDER BY downloaded_at DESC, website ASC, post_id DESC, download_type ASC LIMIT ? OFFSET ?`
	args = append(args, queryLimit(q.Limit), max(q.Offset, 0))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]models.DownloadedInfo, 0)
	for rows.Next() {
		info, err := scanDownloaded(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

// GetDownloaded reports found == false for an absent key.
func (s *SQLStore) GetDownloaded(ctx context.Context, website models.Website, postID int64, downloadType models.DownloadType) (models.DownloadedInfo, bool, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT website, post_id, download_type, download_at, downloaded_at, save_path, size, post_json
		FROM downloaded
		WHERE website = ? AND post_id = ? AND download_type = ?`,
		website,
		postID,
		downloadType,
	)
	info, err := scanDownloaded(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return models.DownloadedInfo{}, false, nil
		}
		return models.DownloadedInfo{}, false, err
	}
	return info, true, nil
}

func (s *SQLStore) DeleteDownloaded(ctx context.Context, website models.Website, postID int64, downloadType models.DownloadType) error {
	_, err := s.db.ExecContext(
		ctx,
		`DELETE FROM downloaded WHERE website = ? AND post_id = ? AND download_type = ?`,
		website,
		postID,
		downloadType,
	)
	return err
}

func (s *SQLStore) ClearDownloaded(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM downloaded`)
	return err
}

func (s *SQLStore) CountDownloaded(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM downloaded`).Scan(&count)
	return count, err
}

func scanDownloaded(scanner interface {
	Scan(dest ...any) error
}) (models.DownloadedInfo, error) {
	var info models.DownloadedInfo
	var website string
	var postID int64
	var downloadType string
	var downloadAt int64
	var downloadedAt int64
	var postJSON string
	if err := scanner.Scan(
		&website,
		&postID,
		&downloadType,
		&downloadAt,
		&downloadedAt,
		&info.SavePath,
		&info.Size,
		&postJSON,
	); err != nil {
		return models.DownloadedInfo{}, err
	}
	if strings.TrimSpace(postJSON) != "" {
		if err := json.Unmarshal([]byte(postJSON), &info.Post); err != nil {
			return models.DownloadedInfo{}, fmt.Errorf("decode post %d: %w", postID, err)
		}
	}
	info.ID = postID
	info.Website = models.Website(website)
	info.DownloadType = models.DownloadType(downloadType)
	info.DownloadAt = timeFromSQLite(downloadAt)
	info.DownloadedAt = timeFromSQLite(downloadedAt)
	return info, nil
}
