package http

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"

	"github.com/axxuxy/ax-image/internal/booru"
	"github.com/axxuxy/ax-image/internal/config"
	"github.com/axxuxy/ax-image/internal/download"
	"github.com/axxuxy/ax-image/internal/format"
	"github.com/axxuxy/ax-image/internal/models"
	"github.com/axxuxy/ax-image/internal/request"
	"github.com/axxuxy/ax-image/internal/service"
	"github.com/axxuxy/ax-image/internal/storage"
	"github.com/axxuxy/ax-image/internal/store"
	"github.com/axxuxy/ax-image/internal/tags"
)

type Services struct {
	Search   *service.SearchService
	Download *service.DownloadService
	History  *service.HistoryService
	Settings *service.SettingsService
	Archive  *service.ArchiveSettingsService
}

func NewRouter(cfg config.Config, services Services) *fiber.App {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Use(cors.New())

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api/v1", AuthMiddleware(cfg.APIToken))

	api.Get("/posts", func(c *fiber.Ctx) error {
		website, err := models.ParseWebsite(c.Query("website"))
		if err != nil {
			return badRequest(c, err.Error())
		}
		result, err := services.Search.Search(c.Context(), service.SearchInput{
			Website:   website,
			Query:     c.Query("tags"),
			Limit:     c.QueryInt("limit"),
			Page:      c.QueryInt("page"),
			NoHistory: c.QueryBool("no_history"),
		})
		if err != nil {
			return serviceError(c, err)
		}
		posts := result.Posts
		if posts == nil {
			posts = []models.Post{}
		}
		return c.JSON(searchResponse{
			Website: string(result.Website),
			Query:   result.Query,
			Page:    result.Page,
			Posts:   posts,
		})
	})

	api.Get("/tags", func(c *fiber.Ctx) error {
		website, err := models.ParseWebsite(c.Query("website"))
		if err != nil {
			return badRequest(c, err.Error())
		}
		opts := booru.TagsOptions{
			Limit: c.QueryInt("limit"),
			Order: booru.TagOrder(c.Query("order")),
			Name:  c.Query("name"),
		}
		switch opts.Order {
		case "", booru.TagOrderDate, booru.TagOrderCount, booru.TagOrderName:
		default:
			return badRequest(c, "invalid order")
		}
		if raw := c.Query("id"); raw != "" {
			id, err := parseID(raw)
			if err != nil {
				return badRequest(c, "invalid id")
			}
			opts.ID = &id
		}
		if raw := c.Query("after_id"); raw != "" {
			id, err := parseID(raw)
			if err != nil {
				return badRequest(c, "invalid after_id")
			}
			opts.AfterID = &id
		}
		list, err := services.Search.Tags(c.Context(), website, opts)
		if err != nil {
			return serviceError(c, err)
		}
		return c.JSON(fiber.Map{"tags": list})
	})

	api.Get("/downloads", func(c *fiber.Ctx) error {
		jobs := services.Download.Jobs()
		out := make([]apiJob, 0, len(jobs))
		for _, job := range jobs {
			out = append(out, toAPIJob(job))
		}
		return c.JSON(listJobsResponse{
			Jobs:             out,
			ConcurrencyLimit: services.Download.Manager().ConcurrencyLimit(),
		})
	})

	api.Post("/downloads", func(c *fiber.Ctx) error {
		var req enqueueRequest
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid request body")
		}
		website, err := models.ParseWebsite(req.Website)
		if err != nil {
			return badRequest(c, err.Error())
		}
		downloadType, err := models.ParseDownloadType(req.Type)
		if err != nil {
			return badRequest(c, err.Error())
		}
		job, err := services.Download.Enqueue(service.EnqueueInput{
			Website:  website,
			Post:     req.Post,
			Type:     downloadType,
			SavePath: req.SavePath,
		})
		if err != nil {
			if errors.Is(err, service.ErrAlreadyQueued) {
				return serviceError(c, err)
			}
			return badRequest(c, err.Error())
		}
		return c.Status(fiber.StatusCreated).JSON(toAPIJob(job))
	})

	api.Get("/downloads/:id", func(c *fiber.Ctx) error {
		job, err := services.Download.Job(c.Params("id"))
		if err != nil {
			return serviceError(c, err)
		}
		return c.JSON(toAPIJob(job))
	})

	api.Post("/downloads/:id\\:stop", func(c *fiber.Ctx) error {
		if err := services.Download.Stop(c.Params("id")); err != nil {
			return serviceError(c, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	api.Post("/downloads/:id\\:resume", func(c *fiber.Ctx) error {
		if err := services.Download.Resume(c.Params("id")); err != nil {
			return serviceError(c, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	api.Delete("/downloads/:id", func(c *fiber.Ctx) error {
		if err := services.Download.Cancel(c.Params("id")); err != nil {
			return serviceError(c, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	api.Get("/concurrency", func(c *fiber.Ctx) error {
		return c.JSON(concurrencyRequest{Limit: services.Download.Manager().ConcurrencyLimit()})
	})

	api.Put("/concurrency", func(c *fiber.Ctx) error {
		var req concurrencyRequest
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid request body")
		}
		if err := services.Settings.SetConcurrencyLimit(c.Context(), req.Limit); err != nil {
			return serviceError(c, err)
		}
		return c.JSON(req)
	})

	api.Get("/downloaded", func(c *fiber.Ctx) error {
		in := service.DownloadedQueryInput{
			Limit:  c.QueryInt("limit"),
			Offset: c.QueryInt("offset"),
			Filter: c.Query("filter"),
		}
		if raw := c.Query("website"); raw != "" {
			website, err := models.ParseWebsite(raw)
			if err != nil {
				return badRequest(c, err.Error())
			}
			in.Website = website
		}
		var err error
		if in.First, err = parseDay(c.Query("first")); err != nil {
			return badRequest(c, "invalid first")
		}
		if in.Last, err = parseDay(c.Query("last")); err != nil {
			return badRequest(c, "invalid last")
		}
		items, err := services.Download.QueryDownloaded(c.Context(), in)
		if err != nil {
			return serviceError(c, err)
		}
		out := make([]apiDownloaded, 0, len(items))
		for _, item := range items {
			out = append(out, toAPIDownloaded(item))
		}
		return c.JSON(listDownloadedResponse{Items: out})
	})

	api.Get("/downloaded/:website/:id/:type", func(c *fiber.Ctx) error {
		website, postID, downloadType, err := parseDownloadedKey(c)
		if err != nil {
			return badRequest(c, err.Error())
		}
		info, err := services.Download.GetDownloaded(c.Context(), website, postID, downloadType)
		if err != nil {
			return serviceError(c, err)
		}
		return c.JSON(toAPIDownloaded(info))
	})

	api.Get("/downloaded/:website/:id/:type/file", func(c *fiber.Ctx) error {
		website, postID, downloadType, err := parseDownloadedKey(c)
		if err != nil {
			return badRequest(c, err.Error())
		}
		info, err := services.Download.GetDownloaded(c.Context(), website, postID, downloadType)
		if err != nil {
			return serviceError(c, err)
		}
		return sendFile(c, info.SavePath)
	})

	api.Delete("/downloaded/:website/:id/:type", func(c *fiber.Ctx) error {
		website, postID, downloadType, err := parseDownloadedKey(c)
		if err != nil {
			return badRequest(c, err.Error())
		}
		if err := services.Download.DeleteDownloaded(c.Context(), website, postID, downloadType, c.QueryBool("remove_file")); err != nil {
			return serviceError(c, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	api.Get("/history", func(c *fiber.Ctx) error {
		q := store.SearchHistoryQuery{
			Limit:  c.QueryInt("limit"),
			Search: c.Query("search"),
		}
		if raw := c.Query("website"); raw != "" {
			website, err := models.ParseWebsite(raw)
			if err != nil {
				return badRequest(c, err.Error())
			}
			q.Website = website
		}
		var err error
		if q.First, err = parseDay(c.Query("first")); err != nil {
			return badRequest(c, "invalid first")
		}
		if q.Last, err = parseDay(c.Query("last")); err != nil {
			return badRequest(c, "invalid last")
		}
		items, err := services.History.Query(c.Context(), q)
		if err != nil {
			return serviceError(c, err)
		}
		return c.JSON(listHistoryResponse{Items: items})
	})

	api.Get("/history/restore", func(c *fiber.Ctx) error {
		key := c.Query("key")
		if strings.TrimSpace(key) == "" {
			return badRequest(c, "key is required")
		}
		website, opts, err := services.History.Restore(c.Context(), key)
		if err != nil {
			return serviceError(c, err)
		}
		return c.JSON(toRestoreResponse(website, opts))
	})

	api.Delete("/history", func(c *fiber.Ctx) error {
		if c.QueryBool("all") {
			if err := services.History.Clear(c.Context()); err != nil {
				return serviceError(c, err)
			}
			return c.SendStatus(fiber.StatusNoContent)
		}
		key := c.Query("key")
		if strings.TrimSpace(key) == "" {
			return badRequest(c, "key or all=true is required")
		}
		if err := services.History.Delete(c.Context(), key); err != nil {
			return serviceError(c, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	api.Post("/history/prune", func(c *fiber.Ctx) error {
		days := c.QueryInt("days", cfg.HistoryRetentionDays)
		if days <= 0 {
			return badRequest(c, "days must be positive")
		}
		removed, err := services.History.Prune(c.Context(), days)
		if err != nil {
			return serviceError(c, err)
		}
		return c.JSON(fiber.Map{"removed": removed})
	})

	api.Get("/settings", func(c *fiber.Ctx) error {
		settings, err := services.Settings.Load(c.Context())
		if err != nil {
			return serviceError(c, err)
		}
		return c.JSON(toAPISettings(settings))
	})

	api.Put("/settings/proxy", func(c *fiber.Ctx) error {
		var req proxyRequest
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid request body")
		}
		proxy, err := request.ParseProxy(req.Proxy)
		if err != nil {
			return badRequest(c, err.Error())
		}
		if err := services.Settings.SetProxy(c.Context(), proxy); err != nil {
			return badRequest(c, err.Error())
		}
		return c.JSON(req)
	})

	api.Put("/settings/safe-search", func(c *fiber.Ctx) error {
		var req safeSearchRequest
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid request body")
		}
		rating, err := service.ParseSafeSearch(req.SafeSearch)
		if err != nil {
			return badRequest(c, err.Error())
		}
		if err := services.Settings.SetSafeSearch(c.Context(), rating); err != nil {
			return serviceError(c, err)
		}
		return c.JSON(req)
	})

	api.Get("/settings/archive", func(c *fiber.Ctx) error {
		resolved, err := services.Archive.Resolve(c.Context())
		if err != nil {
			return serviceError(c, err)
		}
		return c.JSON(apiArchive{
			Backend:  string(resolved.Backend),
			Dir:      resolved.Dir,
			Endpoint: resolved.S3.Endpoint,
			Bucket:   resolved.S3.Bucket,
		})
	})

	api.Put("/settings/archive", func(c *fiber.Ctx) error {
		var req archiveRequest
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid request body")
		}
		var err error
		switch config.ArchiveBackend(strings.ToLower(strings.TrimSpace(req.Backend))) {
		case config.ArchiveBackendNone:
			err = services.Archive.SetNone(c.Context())
		case config.ArchiveBackendLocal:
			err = services.Archive.SetLocal(c.Context(), req.Dir)
		case config.ArchiveBackendS3:
			err = services.Archive.SetS3(c.Context(), config.S3Config{
				Endpoint:     req.Endpoint,
				Region:       req.Region,
				Bucket:       req.Bucket,
				AccessKeyID:  req.AccessKeyID,
				AccessSecret: req.AccessSecret,
				UsePathStyle: req.UsePathStyle,
			})
		default:
			return badRequest(c, "invalid backend")
		}
		if err != nil {
			return badRequest(c, err.Error())
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	return app
}

func parseDownloadedKey(c *fiber.Ctx) (models.Website, int64, models.DownloadType, error) {
	website, err := models.ParseWebsite(c.Params("website"))
	if err != nil {
		return "", 0, "", err
	}
	postID, err := parseID(c.Params("id"))
	if err != nil {
		return "", 0, "", fmt.Errorf("invalid post id")
	}
	downloadType, err := models.ParseDownloadType(c.Params("type"))
	if err != nil {
		return "", 0, "", err
	}
	return website, postID, downloadType, nil
}

// parseDay accepts RFC 3339 or a bare local date.
func parseDay(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	t, err := format.ParseYMD(raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func sendFile(c *fiber.Ctx, path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return notFound(c, "file not found")
		}
		return internalError(c, err)
	}
	stat, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return internalError(c, err)
	}
	size := stat.Size()
	c.Set(fiber.HeaderContentType, storage.ContentType(path))
	c.Set(fiber.HeaderAcceptRanges, "bytes")

	start, end, hasRange, err := parseSingleByteRange(c.Get(fiber.HeaderRange), size)
	if err != nil {
		_ = f.Close()
		c.Set(fiber.HeaderContentRange, fmt.Sprintf("bytes */%d", size))
		return c.Status(fiber.StatusRequestedRangeNotSatisfiable).JSON(fiber.Map{
			"message": err.Error(),
		})
	}
	if !hasRange {
		return c.SendStream(f, int(size))
	}
	if _, err := f.Seek(start, io.SeekStart); err != nil {
		_ = f.Close()
		return internalError(c, err)
	}
	length := end - start + 1
	c.Set(fiber.HeaderContentRange, fmt.Sprintf("bytes %d-%d/%d", start, end, size))
	c.Status(fiber.StatusPartialContent)
	return c.SendStream(&readerWithCloser{Reader: io.LimitReader(f, length), Closer: f}, int(length))
}

type readerWithCloser struct {
	io.Reader
	io.Closer
}

// parseSingleByteRange reads one "bytes=" range against a resource of size
// bytes. end is inclusive and clipped to the resource.
func parseSingleByteRange(raw string, size int64) (start int64, end int64, hasRange bool, err error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, 0, false, nil
	}
	ranges, ok := strings.CutPrefix(raw, "bytes=")
	if !ok {
		return 0, 0, true, fmt.Errorf("unsupported range unit")
	}
	if strings.Contains(ranges, ",") {
		return 0, 0, true, fmt.Errorf("multiple ranges are not supported")
	}
	if size <= 0 {
		return 0, 0, true, fmt.Errorf("empty resource")
	}
	first, last, ok := strings.Cut(ranges, "-")
	if !ok {
		return 0, 0, true, fmt.Errorf("invalid range")
	}
	first = strings.TrimSpace(first)
	last = strings.TrimSpace(last)

	if first == "" {
		suffix, err := strconv.ParseInt(last, 10, 64)
		if err != nil || suffix <= 0 {
			return 0, 0, true, fmt.Errorf("invalid suffix range")
		}
		return max(size-suffix, 0), size - 1, true, nil
	}

	start, err = strconv.ParseInt(first, 10, 64)
	if err != nil || start < 0 {
		return 0, 0, true, fmt.Errorf("invalid range start")
	}
	if start >= size {
		return 0, 0, true, fmt.Errorf("range start out of bounds")
	}
	end = size - 1
	if last != "" {
		end, err = strconv.ParseInt(last, 10, 64)
		if err != nil {
			return 0, 0, true, fmt.Errorf("invalid range end")
		}
		if end < start {
			return 0, 0, true, fmt.Errorf("range end before start")
		}
		end = min(end, size-1)
	}
	return start, end, true, nil
}

func serviceError(c *fiber.Ctx, err error) error {
	var statusErr *request.StatusError
	switch {
	case errors.Is(err, service.ErrJobNotFound),
		errors.Is(err, service.ErrDownloadedNotFound),
		errors.Is(err, service.ErrHistoryNotFound):
		return notFound(c, err.Error())
	case errors.Is(err, service.ErrAlreadyQueued),
		errors.Is(err, download.ErrJobActive):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"message": err.Error()})
	case errors.Is(err, service.ErrInvalidFilter),
		errors.Is(err, tags.ErrInvalidTag),
		errors.Is(err, tags.ErrEmptyTag),
		errors.Is(err, download.ErrInvalidLimit):
		return badRequest(c, err.Error())
	case errors.As(err, &statusErr):
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"message": err.Error()})
	default:
		return internalError(c, err)
	}
}

func parseID(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, fmt.Errorf("empty id")
	}
	return strconv.ParseInt(raw, 10, 64)
}

func badRequest(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"message": message,
	})
}

func notFound(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
		"message": message,
	})
}

func internalError(c *fiber.Ctx, err error) error {
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"message": err.Error(),
	})
}
