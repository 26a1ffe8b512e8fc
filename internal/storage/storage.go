package storage

import (
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/axxuxy/ax-image/internal/models"
)

// Store is an archive for finished downloads.
type Store interface {
	PutStream(ctx context.Context, key string, contentType string, reader io.Reader, size int64) (int64, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// Key is "{website}/{type}/{filename}".
func Key(website models.Website, downloadType models.DownloadType, filename string) string {
	return path.Join(string(website), string(downloadType), filepath.Base(filename))
}

// KeyFor derives the archive key of a downloaded record from its save path.
func KeyFor(info models.DownloadedInfo) string {
	return Key(info.Website, info.DownloadType, info.SavePath)
}

// ArchiveFile copies a local file into store under key.
func ArchiveFile(ctx context.Context, store Store, key string, filePath string) (int64, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return 0, fmt.Errorf("open archive source: %w", err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat archive source: %w", err)
	}
	return store.PutStream(ctx, key, ContentType(filePath), f, stat.Size())
}

func ContentType(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if contentType := mime.TypeByExtension(ext); contentType != "" {
		return contentType
	}
	return "application/octet-stream"
}
