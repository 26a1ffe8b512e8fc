package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/axxuxy/ax-image/internal/models"
)

func TestDownloadServicePersistsAndArchives(t *testing.T) {
	services := setupTestServices(t)
	ctx := context.Background()

	post := testPost(1)
	job, err := services.download.Enqueue(EnqueueInput{
		Website: models.WebsiteKonachan,
		Post:    post,
		Type:    models.DownloadTypeFile,
	})
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	wantPath := filepath.Join(services.dir, "downloads", "konachan", "file", "1.png")
	if job.Request().SavePath != wantPath {
		t.Fatalf("SavePath = %q, want %q", job.Request().SavePath, wantPath)
	}
	waitIdle(t, services.manager)

	info, err := services.download.GetDownloaded(ctx, models.WebsiteKonachan, 1, models.DownloadTypeFile)
	if err != nil {
		t.Fatalf("GetDownloaded() error = %v", err)
	}
	if info.SavePath != wantPath || info.Size != int64(len(post.FileURL)) {
		t.Fatalf("unexpected record %+v", info)
	}
	if len(services.download.Jobs()) != 0 {
		t.Fatalf("succeeded job should leave the active set")
	}

	archived, err := os.ReadFile(filepath.Join(services.dir, "archive", "konachan", "file", "1.png"))
	if err != nil {
		t.Fatalf("archived file missing: %v", err)
	}
	if string(archived) != post.FileURL {
		t.Fatalf("archived content = %q", archived)
	}

	if err := services.download.DeleteDownloaded(ctx, models.WebsiteKonachan, 1, models.DownloadTypeFile, true); err != nil {
		t.Fatalf("DeleteDownloaded() error = %v", err)
	}
	if _, err := os.Stat(wantPath); !os.IsNotExist(err) {
		t.Fatalf("local file should be removed, stat err = %v", err)
	}
	if _, err := os.Stat(filepath.Join(services.dir, "archive", "konachan", "file", "1.png")); !os.IsNotExist(err) {
		t.Fatalf("archived file should be removed, stat err = %v", err)
	}
	if _, err := services.download.GetDownloaded(ctx, models.WebsiteKonachan, 1, models.DownloadTypeFile); !errors.Is(err, ErrDownloadedNotFound) {
		t.Fatalf("GetDownloaded() after delete error = %v", err)
	}
}

func TestDownloadServiceRejectsQueuedDuplicate(t *testing.T) {
	services := setupTestServicesWith(t, blockingWriter{})

	in := EnqueueInput{
		Website: models.WebsiteYande,
		Post:    testPost(2),
		Type:    models.DownloadTypeSample,
	}
	job, err := services.download.Enqueue(in)
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if _, err := services.download.Enqueue(in); !errors.Is(err, ErrAlreadyQueued) {
		t.Fatalf("Enqueue() duplicate error = %v, want ErrAlreadyQueued", err)
	}

	other := in
	other.Type = models.DownloadTypeFile
	otherJob, err := services.download.Enqueue(other)
	if err != nil {
		t.Fatalf("Enqueue() other type error = %v", err)
	}

	for _, id := range []string{job.ID(), otherJob.ID()} {
		if err := services.download.Cancel(id); err != nil {
			t.Fatalf("Cancel(%s) error = %v", id, err)
		}
	}
	waitIdle(t, services.manager)
	if _, err := services.download.Enqueue(in); err != nil {
		t.Fatalf("Enqueue() after cancel error = %v", err)
	}
	if err := services.download.Cancel(services.download.Jobs()[0].ID()); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	waitIdle(t, services.manager)
}

func TestDownloadServiceConcurrentEnqueue(t *testing.T) {
	services := setupTestServicesWith(t, blockingWriter{})
	in := EnqueueInput{
		Website: models.WebsiteYande,
		Post:    testPost(4),
		Type:    models.DownloadTypeFile,
	}

	const workers = 16
	start := make(chan struct{})
	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		added      int
		duplicates int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := services.download.Enqueue(in)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				added++
			case errors.Is(err, ErrAlreadyQueued):
				duplicates++
			default:
				t.Errorf("Enqueue() error = %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if added != 1 || duplicates != workers-1 {
		t.Fatalf("added = %d duplicates = %d, want 1 and %d", added, duplicates, workers-1)
	}
	jobs := services.download.Jobs()
	if len(jobs) != 1 {
		t.Fatalf("active jobs = %d, want 1", len(jobs))
	}
	if err := services.download.Cancel(jobs[0].ID()); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	waitIdle(t, services.manager)
}

func TestDownloadServiceUnknownJob(t *testing.T) {
	services := setupTestServices(t)

	for name, call := range map[string]func(string) error{
		"Stop":   services.download.Stop,
		"Resume": services.download.Resume,
		"Cancel": services.download.Cancel,
	} {
		if err := call("missing"); !errors.Is(err, ErrJobNotFound) {
			t.Fatalf("%s() error = %v, want ErrJobNotFound", name, err)
		}
	}
}

func TestDefaultSavePath(t *testing.T) {
	services := setupTestServices(t)

	post := testPost(9)
	post.JPEGURL = "https://files.example/jpeg/yande.re%20123%20sky.jpg?x=1"
	got := services.download.DefaultSavePath(models.WebsiteYande, post, models.DownloadTypeJPEG)
	want := filepath.Join(services.dir, "downloads", "yande", "jpeg", "9.jpg")
	if got != want {
		t.Fatalf("DefaultSavePath() = %q, want %q", got, want)
	}

	post.FileURL = "https://files.example/image/noext"
	post.FileExt = "webp"
	got = services.download.DefaultSavePath(models.WebsiteYande, post, models.DownloadTypeFile)
	if filepath.Ext(got) != ".webp" {
		t.Fatalf("DefaultSavePath() = %q, want .webp", got)
	}
}

func TestQueryDownloadedWithFilter(t *testing.T) {
	services := setupTestServices(t)
	ctx := context.Background()

	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	for i := int64(1); i <= 250; i++ {
		website := models.WebsiteKonachan
		if i%2 == 0 {
			website = models.WebsiteYande
		}
		post := testPost(i)
		if i%50 == 0 {
			post.Tags = "sky special"
		}
		if err := services.store.SaveDownloaded(ctx, models.DownloadedInfo{
			Post:         post,
			Website:      website,
			DownloadType: models.DownloadTypeFile,
			DownloadAt:   base,
			DownloadedAt: base.Add(time.Duration(i) * time.Minute),
			SavePath:     "unused",
			Size:         i,
		}); err != nil {
			t.Fatalf("SaveDownloaded(%d) error = %v", i, err)
		}
	}

	items, err := services.download.QueryDownloaded(ctx, DownloadedQueryInput{
		Filter: `website == "yande" && "special" in tags`,
		Limit:  10,
	})
	if err != nil {
		t.Fatalf("QueryDownloaded() error = %v", err)
	}
	want := []int64{250, 200, 150, 100, 50}
	if len(items) != len(want) {
		t.Fatalf("len(items) = %d, want %d", len(items), len(want))
	}
	for i, id := range want {
		if items[i].ID != id {
			t.Fatalf("items[%d].ID = %d, want %d", i, items[i].ID, id)
		}
	}

	items, err = services.download.QueryDownloaded(ctx, DownloadedQueryInput{
		Filter: `size > 240`,
		Limit:  3,
		Offset: 2,
	})
	if err != nil {
		t.Fatalf("QueryDownloaded(offset) error = %v", err)
	}
	if len(items) != 3 || items[0].ID != 248 || items[2].ID != 246 {
		t.Fatalf("unexpected page: %+v", items)
	}

	items, err = services.download.QueryDownloaded(ctx, DownloadedQueryInput{Filter: `website == "yande" && website == "konachan"`})
	if err != nil {
		t.Fatalf("QueryDownloaded(unsatisfiable) error = %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("unsatisfiable filter returned %d items", len(items))
	}

	if _, err := services.download.QueryDownloaded(ctx, DownloadedQueryInput{Filter: `website ==`}); !errors.Is(err, ErrInvalidFilter) {
		t.Fatalf("QueryDownloaded(invalid) error = %v, want ErrInvalidFilter", err)
	}
}
