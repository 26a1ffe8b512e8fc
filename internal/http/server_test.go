package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/axxuxy/ax-image/internal/booru"
	"github.com/axxuxy/ax-image/internal/config"
	"github.com/axxuxy/ax-image/internal/db"
	"github.com/axxuxy/ax-image/internal/download"
	"github.com/axxuxy/ax-image/internal/models"
	"github.com/axxuxy/ax-image/internal/request"
	"github.com/axxuxy/ax-image/internal/service"
	"github.com/axxuxy/ax-image/internal/store"
)

type testApp struct {
	app     *fiber.App
	manager *download.Manager
	dir     string
}

func setupTestApp(t *testing.T, token string) testApp {
	t.Helper()
	dir := t.TempDir()

	board := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/post.json":
			_ = json.NewEncoder(w).Encode([]models.Post{testPost(1), testPost(2)})
		case "/tag.json":
			_, _ = w.Write([]byte(`[{"id":1,"name":"sky","count":10,"type":0,"ambiguous":false}]`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(board.Close)

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
		APIToken:     token,
		MaxDownloads: 2,
		Archive:      config.ArchiveBackendNone,
	}
	client, err := request.NewClient()
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	booruClient := booru.NewClient(client,
		booru.WithBaseURL(models.WebsiteYande, board.URL+"/"),
		booru.WithRetry(1, time.Millisecond),
	)
	manager := download.NewManager(fileWriter{})
	history := service.NewHistoryService(sqlStore)
	archive := service.NewArchiveSettingsService(sqlStore, cfg)
	downloads := service.NewDownloadService(manager, sqlStore, archive, filepath.Join(dir, "downloads"))
	t.Cleanup(downloads.Close)
	settings := service.NewSettingsService(sqlStore, client, manager, booruClient, cfg)

	app := NewRouter(cfg, Services{
		Search:   service.NewSearchService(booruClient, history),
		Download: downloads,
		History:  history,
		Settings: settings,
		Archive:  archive,
	})
	return testApp{app: app, manager: manager, dir: dir}
}

type fileWriter struct{}

func (fileWriter) Download(ctx context.Context, link string, dest string, onProgress func(int64)) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(dest, []byte(link), 0o644); err != nil {
		return err
	}
	onProgress(int64(len(link)))
	return nil
}

func testPost(id int64) models.Post {
	return models.Post{
		ID:       id,
		Tags:     "sky cloud",
		Score:    id * 10,
		Rating:   "s",
		Width:    1920,
		Height:   1080,
		FileURL:  fmt.Sprintf("https://files.example/image/%d.png", id),
		FileSize: 1000,
	}
}

func doJSON(t *testing.T, app *fiber.App, method string, target string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Marshal() error = %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req, 5000)
	if err != nil {
		t.Fatalf("app.Test(%s %s) error = %v", method, target, err)
	}
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	return resp, out
}

func waitIdle(t *testing.T, manager *download.Manager) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := manager.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
}

func TestAuthMiddlewareRequiresToken(t *testing.T) {
	env := setupTestApp(t, "secret")

	resp, _ := doJSON(t, env.app, "GET", "/api/v1/concurrency", nil, nil)
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	resp, _ = doJSON(t, env.app, "GET", "/api/v1/concurrency", nil, map[string]string{"Authorization": "Bearer wrong"})
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	resp, body := doJSON(t, env.app, "GET", "/api/v1/concurrency", nil, map[string]string{"Authorization": "Bearer secret"})
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, body = %s", resp.StatusCode, body)
	}
	resp, _ = doJSON(t, env.app, "GET", "/healthz", nil, nil)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("healthz status = %d, want 200", resp.StatusCode)
	}
}

func TestSearchRecordsHistoryAndRestores(t *testing.T) {
	env := setupTestApp(t, "")

	resp, body := doJSON(t, env.app, "GET", "/api/v1/posts?website=yande&tags=sky+-cloud+order:score", nil, nil)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("posts status = %d, body = %s", resp.StatusCode, body)
	}
	var search searchResponse
	if err := json.Unmarshal(body, &search); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if len(search.Posts) != 2 || search.Page != 1 {
		t.Fatalf("unexpected search response: %+v", search)
	}

	resp, body = doJSON(t, env.app, "GET", "/api/v1/history?website=yande", nil, nil)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("history status = %d, body = %s", resp.StatusCode, body)
	}
	var history listHistoryResponse
	if err := json.Unmarshal(body, &history); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if len(history.Items) != 1 {
		t.Fatalf("history = %+v, want one item", history.Items)
	}
	key := history.Items[0].Key

	resp, body = doJSON(t, env.app, "GET", "/api/v1/history/restore?key="+url.QueryEscape(key), nil, nil)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("restore status = %d, body = %s", resp.StatusCode, body)
	}
	var restored restoreHistoryResponse
	if err := json.Unmarshal(body, &restored); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if restored.Website != "yande" || restored.Order != "score" || len(restored.Tags) != 2 {
		t.Fatalf("unexpected restore: %+v", restored)
	}

	resp, _ = doJSON(t, env.app, "DELETE", "/api/v1/history?key="+url.QueryEscape(key), nil, nil)
	if resp.StatusCode != fiber.StatusNoContent {
		t.Fatalf("delete status = %d, want 204", resp.StatusCode)
	}
	resp, _ = doJSON(t, env.app, "GET", "/api/v1/history/restore?key="+url.QueryEscape(key), nil, nil)
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("restore after delete status = %d, want 404", resp.StatusCode)
	}
}

func TestSearchRejectsBadInput(t *testing.T) {
	env := setupTestApp(t, "")

	resp, _ := doJSON(t, env.app, "GET", "/api/v1/posts?website=danbooru", nil, nil)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	resp, _ = doJSON(t, env.app, "GET", "/api/v1/tags?website=yande&order=random", nil, nil)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	resp, body := doJSON(t, env.app, "GET", "/api/v1/tags?website=yande&name=sky", nil, nil)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("tags status = %d, body = %s", resp.StatusCode, body)
	}
}

func TestDownloadLifecycle(t *testing.T) {
	env := setupTestApp(t, "")

	req := enqueueRequest{Website: "yande", Type: "file", Post: testPost(7)}
	resp, body := doJSON(t, env.app, "POST", "/api/v1/downloads", req, nil)
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("enqueue status = %d, body = %s", resp.StatusCode, body)
	}
	var job apiJob
	if err := json.Unmarshal(body, &job); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if job.ID == "" || job.PostID != 7 || job.Type != "file" {
		t.Fatalf("unexpected job: %+v", job)
	}
	waitIdle(t, env.manager)

	resp, body = doJSON(t, env.app, "GET", "/api/v1/downloaded?website=yande", nil, nil)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("downloaded status = %d, body = %s", resp.StatusCode, body)
	}
	var list listDownloadedResponse
	if err := json.Unmarshal(body, &list); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if len(list.Items) != 1 || list.Items[0].ID != 7 {
		t.Fatalf("downloaded = %+v, want post 7", list.Items)
	}
	wantPath := filepath.Join(env.dir, "downloads", "yande", "file", "7.png")
	if list.Items[0].SavePath != wantPath {
		t.Fatalf("SavePath = %q, want %q", list.Items[0].SavePath, wantPath)
	}

	resp, body = doJSON(t, env.app, "GET", "/api/v1/downloaded/yande/7/file/file", nil, map[string]string{"Range": "bytes=0-4"})
	if resp.StatusCode != fiber.StatusPartialContent {
		t.Fatalf("file status = %d, want 206", resp.StatusCode)
	}
	if string(body) != "https" {
		t.Fatalf("range body = %q, want %q", body, "https")
	}
	if got := resp.Header.Get("Content-Type"); got != "image/png" {
		t.Fatalf("Content-Type = %q, want image/png", got)
	}

	resp, body = doJSON(t, env.app, "GET", "/api/v1/downloaded?filter="+url.QueryEscape(`website == "konachan"`), nil, nil)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("filtered status = %d, body = %s", resp.StatusCode, body)
	}
	list = listDownloadedResponse{}
	if err := json.Unmarshal(body, &list); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if len(list.Items) != 0 {
		t.Fatalf("filtered = %+v, want none", list.Items)
	}

	resp, _ = doJSON(t, env.app, "DELETE", "/api/v1/downloaded/yande/7/file?remove_file=true", nil, nil)
	if resp.StatusCode != fiber.StatusNoContent {
		t.Fatalf("delete status = %d, want 204", resp.StatusCode)
	}
	if _, err := os.Stat(wantPath); !os.IsNotExist(err) {
		t.Fatalf("expected file removed, stat err = %v", err)
	}
	resp, _ = doJSON(t, env.app, "GET", "/api/v1/downloaded/yande/7/file", nil, nil)
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("get after delete status = %d, want 404", resp.StatusCode)
	}
}

func TestDownloadErrors(t *testing.T) {
	env := setupTestApp(t, "")

	resp, _ := doJSON(t, env.app, "POST", "/api/v1/downloads/missing:stop", nil, nil)
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("stop status = %d, want 404", resp.StatusCode)
	}
	resp, _ = doJSON(t, env.app, "DELETE", "/api/v1/downloads/missing", nil, nil)
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("cancel status = %d, want 404", resp.StatusCode)
	}
	resp, _ = doJSON(t, env.app, "POST", "/api/v1/downloads", enqueueRequest{Website: "yande", Type: "poster", Post: testPost(1)}, nil)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("bad type status = %d, want 400", resp.StatusCode)
	}
	resp, _ = doJSON(t, env.app, "GET", "/api/v1/downloaded?filter="+url.QueryEscape("size >"), nil, nil)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("bad filter status = %d, want 400", resp.StatusCode)
	}
	resp, _ = doJSON(t, env.app, "GET", "/api/v1/downloaded?first=yesterday", nil, nil)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("bad date status = %d, want 400", resp.StatusCode)
	}
}

func TestConcurrencyAndSettings(t *testing.T) {
	env := setupTestApp(t, "")

	resp, _ := doJSON(t, env.app, "PUT", "/api/v1/concurrency", concurrencyRequest{Limit: 0}, nil)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("limit 0 status = %d, want 400", resp.StatusCode)
	}
	resp, body := doJSON(t, env.app, "PUT", "/api/v1/concurrency", concurrencyRequest{Limit: 3}, nil)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("limit 3 status = %d, body = %s", resp.StatusCode, body)
	}
	if got := env.manager.ConcurrencyLimit(); got != 3 {
		t.Fatalf("ConcurrencyLimit() = %d, want 3", got)
	}

	resp, body = doJSON(t, env.app, "PUT", "/api/v1/settings/safe-search", safeSearchRequest{SafeSearch: "-e"}, nil)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("safe search status = %d, body = %s", resp.StatusCode, body)
	}
	resp, _ = doJSON(t, env.app, "PUT", "/api/v1/settings/proxy", proxyRequest{Proxy: "ftp://127.0.0.1:1"}, nil)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("bad proxy status = %d, want 400", resp.StatusCode)
	}

	resp, body = doJSON(t, env.app, "GET", "/api/v1/settings", nil, nil)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("settings status = %d, body = %s", resp.StatusCode, body)
	}
	var settings apiSettings
	if err := json.Unmarshal(body, &settings); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if settings.ConcurrencyLimit != 3 || settings.SafeSearch != "-e" || settings.Proxy != "" {
		t.Fatalf("unexpected settings: %+v", settings)
	}

	archiveDir := filepath.Join(env.dir, "archive")
	resp, body = doJSON(t, env.app, "PUT", "/api/v1/settings/archive", archiveRequest{Backend: "local", Dir: archiveDir}, nil)
	if resp.StatusCode != fiber.StatusNoContent {
		t.Fatalf("archive status = %d, body = %s", resp.StatusCode, body)
	}
	resp, body = doJSON(t, env.app, "GET", "/api/v1/settings/archive", nil, nil)
	var archive apiArchive
	if err := json.Unmarshal(body, &archive); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if resp.StatusCode != fiber.StatusOK || archive.Backend != "local" || archive.Dir != archiveDir {
		t.Fatalf("unexpected archive: %d %+v", resp.StatusCode, archive)
	}
}
