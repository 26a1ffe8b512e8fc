package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/axxuxy/ax-image/internal/models"
)

func TestKeyFor(t *testing.T) {
	info := models.DownloadedInfo{
		Website:      models.WebsiteYande,
		DownloadType: models.DownloadTypeJPEG,
		SavePath:     filepath.Join("data", "downloads", "yande", "jpeg", "42.jpg"),
	}
	if got := KeyFor(info); got != "yande/jpeg/42.jpg" {
		t.Fatalf("KeyFor() = %q", got)
	}
}

func TestArchiveFileToLocalStore(t *testing.T) {
	src := filepath.Join(t.TempDir(), "1.png")
	if err := os.WriteFile(src, []byte("image-bytes"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	store, err := NewLocalStore(filepath.Join(t.TempDir(), "archive"))
	if err != nil {
		t.Fatalf("NewLocalStore() error = %v", err)
	}

	ctx := context.Background()
	key := Key(models.WebsiteKonachan, models.DownloadTypeFile, src)
	written, err := ArchiveFile(ctx, store, key, src)
	if err != nil {
		t.Fatalf("ArchiveFile() error = %v", err)
	}
	if written != int64(len("image-bytes")) {
		t.Fatalf("written = %d", written)
	}

	rc, err := store.Open(ctx, "konachan/file/1.png")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	data, err := io.ReadAll(rc)
	_ = rc.Close()
	if err != nil || string(data) != "image-bytes" {
		t.Fatalf("archived content = %q, %v", data, err)
	}

	if err := store.Delete(ctx, key); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := store.Delete(ctx, key); err != nil {
		t.Fatalf("Delete() missing error = %v", err)
	}
}

func TestLocalStoreRejectsTraversal(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore() error = %v", err)
	}
	if _, err := store.Open(context.Background(), "../../etc/passwd"); err == nil {
		t.Fatal("expected traversal key to be rejected")
	}
	if _, err := store.Open(context.Background(), " "); err == nil {
		t.Fatal("expected empty key to be rejected")
	}
}

func TestContentType(t *testing.T) {
	if got := ContentType("a.PNG"); got != "image/png" {
		t.Fatalf("ContentType(png) = %q", got)
	}
	if got := ContentType("a.unknownext"); got != "application/octet-stream" {
		t.Fatalf("ContentType(unknown) = %q", got)
	}
}
