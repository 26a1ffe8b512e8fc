package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/axxuxy/ax-image/internal/config"
	"github.com/axxuxy/ax-image/internal/db"
	"github.com/axxuxy/ax-image/internal/download"
	"github.com/axxuxy/ax-image/internal/models"
	"github.com/axxuxy/ax-image/internal/store"
)

type testServices struct {
	store    *store.SQLStore
	dir      string
	manager  *download.Manager
	archive  *ArchiveSettingsService
	download *DownloadService
	history  *HistoryService
}

func setupTestServices(t *testing.T) testServices {
	t.Helper()
	return setupTestServicesWith(t, fileWriter{})
}

func setupTestServicesWith(t *testing.T, transferer download.Transferer) testServices {
	t.Helper()
	dir := t.TempDir()
	sqliteDB, err := db.OpenSQLite(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	t.Cleanup(func() {
		_ = sqliteDB.Close()
	})
	if err := db.Migrate(sqliteDB); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	sqlStore := store.New(sqliteDB)

	cfg := config.Config{
		Archive:    config.ArchiveBackendLocal,
		ArchiveDir: filepath.Join(dir, "archive"),
	}
	archive := NewArchiveSettingsService(sqlStore, cfg)
	manager := download.NewManager(transferer)
	downloadService := NewDownloadService(manager, sqlStore, archive, filepath.Join(dir, "downloads"))
	t.Cleanup(downloadService.Close)

	return testServices{
		store:    sqlStore,
		dir:      dir,
		manager:  manager,
		archive:  archive,
		download: downloadService,
		history:  NewHistoryService(sqlStore),
	}
}

// fileWriter writes the url itself as the file body.
type fileWriter struct{}

func (fileWriter) Download(ctx context.Context, url string, dest string, onProgress func(int64)) error {
	if ctx.Err() != nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(dest, []byte(url), 0o644); err != nil {
		return err
	}
	onProgress(int64(len(url)))
	return nil
}

// blockingWriter holds every transfer until its context ends.
type blockingWriter struct{}

func (blockingWriter) Download(ctx context.Context, _ string, _ string, _ func(int64)) error {
	<-ctx.Done()
	return nil
}

func testPost(id int64) models.Post {
	return models.Post{
		ID:             id,
		Tags:           "sky cloud",
		Score:          id * 10,
		Rating:         "s",
		MD5:            "md5",
		Width:          1920,
		Height:         1080,
		FileURL:        fmt.Sprintf("https://files.example/image/%d.png", id),
		FileSize:       1000,
		SampleURL:      "https://files.example/sample/sample.jpg",
		SampleWidth:    1500,
		SampleHeight:   844,
		SampleFileSize: 500,
	}
}

func waitIdle(t *testing.T, manager *download.Manager) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := manager.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
}
