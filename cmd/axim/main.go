package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/axxuxy/ax-image/internal/app"
	"github.com/axxuxy/ax-image/internal/config"
	"github.com/axxuxy/ax-image/internal/download"
	"github.com/axxuxy/ax-image/internal/format"
	"github.com/axxuxy/ax-image/internal/logger"
	"github.com/axxuxy/ax-image/internal/models"
	"github.com/axxuxy/ax-image/internal/request"
	"github.com/axxuxy/ax-image/internal/service"
	"github.com/axxuxy/ax-image/internal/store"
)

const retentionSchedule = "@daily"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		log.Fatal().Err(err).Msg("axim")
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "axim",
		Usage: "Search konachan and yande, download posts and keep a local index",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "db", Usage: "sqlite database path (DB_PATH)"},
			&cli.StringFlag{Name: "save-dir", Usage: "download directory (SAVE_DIR)"},
			&cli.StringFlag{Name: "log-level", Usage: "trace, debug, info, warn, error (LOG_LEVEL)"},
			&cli.BoolFlag{Name: "no-color", Usage: "disable colored log output"},
		},
		Commands: []*cli.Command{
			serveCommand(),
			searchCommand(),
			downloadCommand(),
			historyCommand(),
			downloadedCommand(),
			settingsCommand(),
		},
	}
}

func loadConfig(cc *cli.Context) (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	if v := cc.String("db"); v != "" {
		cfg.DBPath = v
	}
	if v := cc.String("save-dir"); v != "" {
		cfg.SaveDir = v
	}
	if v := cc.String("log-level"); v != "" {
		cfg.LogLevel = v
	}
	if err := logger.Init(cfg.LogLevel, os.Stderr, cc.Bool("no-color")); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func buildContainer(cc *cli.Context) (*app.Container, func() error, error) {
	cfg, err := loadConfig(cc)
	if err != nil {
		return nil, nil, err
	}
	container, cleanup, err := app.Build(cc.Context, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("build app: %w", err)
	}
	return container, cleanup, nil
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run the HTTP API",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Usage: "listen address (APP_ADDR)"},
			&cli.BoolFlag{Name: "console", Usage: "enable the runtime job console on stdin"},
		},
		Action: serveAction,
	}
}

func serveAction(cc *cli.Context) error {
	container, cleanup, err := buildContainer(cc)
	if err != nil {
		return err
	}
	defer cleanup() //nolint:errcheck

	cfg := container.Config
	if v := cc.String("addr"); v != "" {
		cfg.Addr = v
	}
	if cfg.HistoryRetentionDays > 0 {
		scheduler, err := scheduleRetention(container.HistoryService, cfg.HistoryRetentionDays, retentionSchedule)
		if err != nil {
			return err
		}
		defer scheduler.Stop()
	}
	if cc.Bool("console") {
		log.Info().Msg("runtime console enabled")
		go runConsole(cc.Context, container.DownloadService, container.SettingsService, os.Stdin, os.Stdout)
	}

	log.Info().
		Str("addr", cfg.Addr).
		Str("archive", string(cfg.Archive)).
		Bool("auth", cfg.APIToken != "").
		Msg("axim listening")

	errCh := make(chan error, 1)
	go func() {
		errCh <- container.Router.Listen(cfg.Addr)
	}()
	select {
	case err := <-errCh:
		return err
	case <-cc.Context.Done():
		log.Info().Msg("shutting down")
		stopAll(container.DownloadService)
		return container.Router.ShutdownWithTimeout(5 * time.Second)
	}
}

// scheduleRetention prunes search history older than days on the given
// cron schedule.
func scheduleRetention(history *service.HistoryService, days int, schedule string) (*cron.Cron, error) {
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		removed, err := history.Prune(context.Background(), days)
		if err != nil {
			log.Error().Err(err).Msg("prune search history")
			return
		}
		log.Info().Int64("removed", removed).Int("days", days).Msg("search history pruned")
	})
	if err != nil {
		return nil, fmt.Errorf("schedule history retention: %w", err)
	}
	c.Start()
	return c, nil
}

func websiteFlag() cli.Flag {
	return &cli.StringFlag{Name: "website", Aliases: []string{"w"}, Value: string(models.WebsiteYande), Usage: "konachan or yande"}
}

func searchCommand() *cli.Command {
	return &cli.Command{
		Name:      "search",
		Usage:     "search posts and print them",
		ArgsUsage: "<tags...>",
		Flags: []cli.Flag{
			websiteFlag(),
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}},
			&cli.IntFlag{Name: "page", Aliases: []string{"p"}, Value: 1},
			&cli.BoolFlag{Name: "no-history", Usage: "do not record this search"},
		},
		Action: func(cc *cli.Context) error {
			website, err := models.ParseWebsite(cc.String("website"))
			if err != nil {
				return err
			}
			container, cleanup, err := buildContainer(cc)
			if err != nil {
				return err
			}
			defer cleanup() //nolint:errcheck

			result, err := container.SearchService.Search(cc.Context, service.SearchInput{
				Website:   website,
				Query:     strings.Join(cc.Args().Slice(), " "),
				Limit:     cc.Int("limit"),
				Page:      cc.Int("page"),
				NoHistory: cc.Bool("no-history"),
			})
			if err != nil {
				return err
			}
			fmt.Printf("query=%q page=%d count=%d\n", result.Query, result.Page, len(result.Posts))
			fmt.Println("id\tscore\trating\tsize\tdimensions\ttags")
			for _, post := range result.Posts {
				fmt.Printf("%d\t%d\t%s\t%s\t%dx%d\t%s\n",
					post.ID, post.Score, post.Rating, format.BitText(post.FileSize),
					post.Width, post.Height, post.Tags)
			}
			return nil
		},
	}
}

func downloadCommand() *cli.Command {
	return &cli.Command{
		Name:      "download",
		Usage:     "search and download every post of one page",
		ArgsUsage: "<tags...>",
		Flags: []cli.Flag{
			websiteFlag(),
			&cli.StringFlag{Name: "type", Aliases: []string{"t"}, Value: string(models.DownloadTypeFile), Usage: "sample, jpeg or file"},
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}},
			&cli.IntFlag{Name: "page", Aliases: []string{"p"}, Value: 1},
			&cli.IntFlag{Name: "concurrency", Aliases: []string{"c"}, Usage: "override the concurrency limit for this run"},
			&cli.BoolFlag{Name: "no-history", Usage: "do not record this search"},
		},
		Action: downloadAction,
	}
}

func downloadAction(cc *cli.Context) error {
	website, err := models.ParseWebsite(cc.String("website"))
	if err != nil {
		return err
	}
	downloadType, err := models.ParseDownloadType(cc.String("type"))
	if err != nil {
		return err
	}
	container, cleanup, err := buildContainer(cc)
	if err != nil {
		return err
	}
	defer cleanup() //nolint:errcheck

	ctx := cc.Context
	if n := cc.Int("concurrency"); n > 0 {
		if err := container.Manager.SetConcurrencyLimit(n); err != nil {
			return err
		}
	}
	result, err := container.SearchService.Search(ctx, service.SearchInput{
		Website:   website,
		Query:     strings.Join(cc.Args().Slice(), " "),
		Limit:     cc.Int("limit"),
		Page:      cc.Int("page"),
		NoHistory: cc.Bool("no-history"),
	})
	if err != nil {
		return err
	}

	svc := container.DownloadService
	queued, skipped := 0, 0
	for _, post := range result.Posts {
		done, err := svc.IsDownloaded(ctx, website, post.ID, downloadType)
		if err != nil {
			return err
		}
		if done {
			skipped++
			continue
		}
		if _, err := svc.Enqueue(service.EnqueueInput{Website: website, Post: post, Type: downloadType}); err != nil {
			log.Warn().Err(err).Int64("post", post.ID).Msg("skip post")
			skipped++
			continue
		}
		queued++
	}
	log.Info().Int("queued", queued).Int("skipped", skipped).Str("query", result.Query).Msg("downloads queued")

	stopProgress := reportProgress(svc, time.Second)
	err = svc.Wait(ctx)
	stopProgress()
	if err != nil {
		stopAll(svc)
		return err
	}

	succeeded, failed := summarize(svc.Jobs())
	fmt.Printf("downloaded=%d failed=%d skipped=%d\n", succeeded, failed, skipped)
	if failed > 0 {
		return fmt.Errorf("%d downloads failed", failed)
	}
	return nil
}

// reportProgress logs every active job each interval until the returned
// func is called.
func reportProgress(svc *service.DownloadService, interval time.Duration) func() {
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				for _, job := range svc.Jobs() {
					state := job.State()
					if !state.Downloading {
						continue
					}
					log.Info().
						Int64("post", job.Request().Post.ID).
						Str("progress", progressText(state.Downloaded, job.Info().Size)).
						Msg("downloading")
				}
			}
		}
	}()
	return func() {
		close(done)
		<-finished
	}
}

func progressText(downloaded int64, size int64) string {
	if size <= 0 {
		return format.BitText(downloaded)
	}
	return fmt.Sprintf("%s/%s %d%%", format.BitText(downloaded), format.BitText(size), downloaded*100/size)
}

func summarize(jobs []*download.Job) (succeeded int, failed int) {
	for _, job := range jobs {
		state := job.State()
		switch {
		case state.Err != nil:
			failed++
		case state.DownloadedAt != nil:
			succeeded++
		}
	}
	return succeeded, failed
}

func stopAll(svc *service.DownloadService) {
	for _, job := range svc.Jobs() {
		if err := svc.Stop(job.ID()); err != nil && !errors.Is(err, service.ErrJobNotFound) {
			log.Warn().Err(err).Str("job", job.ID()).Msg("stop download")
		}
	}
}

func historyCommand() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "manage search history",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "list recent searches",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "website", Aliases: []string{"w"}},
					&cli.StringFlag{Name: "search", Aliases: []string{"s"}, Usage: "terms the key must contain"},
					&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: 20},
				},
				Action: func(cc *cli.Context) error {
					q := store.SearchHistoryQuery{Search: cc.String("search"), Limit: cc.Int("limit")}
					if raw := cc.String("website"); raw != "" {
						website, err := models.ParseWebsite(raw)
						if err != nil {
							return err
						}
						q.Website = website
					}
					container, cleanup, err := buildContainer(cc)
					if err != nil {
						return err
					}
					defer cleanup() //nolint:errcheck

					items, err := container.HistoryService.Query(cc.Context, q)
					if err != nil {
						return err
					}
					fmt.Println("date\tkey")
					for _, item := range items {
						fmt.Printf("%s\t%s\n", item.Date.Format(time.DateTime), item.Key)
					}
					return nil
				},
			},
			{
				Name:      "delete",
				Usage:     "delete one search",
				ArgsUsage: "<key>",
				Action: func(cc *cli.Context) error {
					key := strings.TrimSpace(strings.Join(cc.Args().Slice(), " "))
					if key == "" {
						return fmt.Errorf("usage: history delete <key>")
					}
					container, cleanup, err := buildContainer(cc)
					if err != nil {
						return err
					}
					defer cleanup() //nolint:errcheck
					return container.HistoryService.Delete(cc.Context, key)
				},
			},
			{
				Name:  "clear",
				Usage: "delete every search",
				Action: func(cc *cli.Context) error {
					container, cleanup, err := buildContainer(cc)
					if err != nil {
						return err
					}
					defer cleanup() //nolint:errcheck
					return container.HistoryService.Clear(cc.Context)
				},
			},
			{
				Name:      "prune",
				Usage:     "delete searches older than an age such as 30d",
				ArgsUsage: "<age>",
				Action: func(cc *cli.Context) error {
					days, err := parseDays(cc.Args().First())
					if err != nil {
						return fmt.Errorf("invalid age %q: %w", cc.Args().First(), err)
					}
					container, cleanup, err := buildContainer(cc)
					if err != nil {
						return err
					}
					defer cleanup() //nolint:errcheck

					removed, err := container.HistoryService.Prune(cc.Context, days)
					if err != nil {
						return err
					}
					fmt.Printf("prune complete, removed=%d\n", removed)
					return nil
				},
			},
		},
	}
}

func downloadedCommand() *cli.Command {
	return &cli.Command{
		Name:  "downloaded",
		Usage: "inspect the downloaded index",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "list downloaded files, newest first",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "website", Aliases: []string{"w"}},
					&cli.StringFlag{Name: "filter", Aliases: []string{"f"}, Usage: `CEL expression, e.g. 'score > 100 && "sky" in tags'`},
					&cli.StringFlag{Name: "first", Usage: "earliest day, 2006-01-02"},
					&cli.StringFlag{Name: "last", Usage: "day after the latest, 2006-01-02"},
					&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: 20},
					&cli.IntFlag{Name: "offset"},
				},
				Action: downloadedListAction,
			},
			{
				Name:      "delete",
				Usage:     "forget one downloaded file",
				ArgsUsage: "<post id>",
				Flags: []cli.Flag{
					websiteFlag(),
					&cli.StringFlag{Name: "type", Aliases: []string{"t"}, Value: string(models.DownloadTypeFile)},
					&cli.BoolFlag{Name: "remove-file", Usage: "also delete the local file"},
				},
				Action: func(cc *cli.Context) error {
					website, err := models.ParseWebsite(cc.String("website"))
					if err != nil {
						return err
					}
					downloadType, err := models.ParseDownloadType(cc.String("type"))
					if err != nil {
						return err
					}
					postID, err := strconv.ParseInt(strings.TrimSpace(cc.Args().First()), 10, 64)
					if err != nil {
						return fmt.Errorf("invalid post id: %s", cc.Args().First())
					}
					container, cleanup, err := buildContainer(cc)
					if err != nil {
						return err
					}
					defer cleanup() //nolint:errcheck
					return container.DownloadService.DeleteDownloaded(cc.Context, website, postID, downloadType, cc.Bool("remove-file"))
				},
			},
		},
	}
}

func downloadedListAction(cc *cli.Context) error {
	in := service.DownloadedQueryInput{
		Filter: cc.String("filter"),
		Limit:  cc.Int("limit"),
		Offset: cc.Int("offset"),
	}
	if raw := cc.String("website"); raw != "" {
		website, err := models.ParseWebsite(raw)
		if err != nil {
			return err
		}
		in.Website = website
	}
	var err error
	if in.First, err = parseOptionalDay(cc.String("first")); err != nil {
		return fmt.Errorf("invalid --first: %w", err)
	}
	if in.Last, err = parseOptionalDay(cc.String("last")); err != nil {
		return fmt.Errorf("invalid --last: %w", err)
	}

	container, cleanup, err := buildContainer(cc)
	if err != nil {
		return err
	}
	defer cleanup() //nolint:errcheck

	items, err := container.DownloadService.QueryDownloaded(cc.Context, in)
	if err != nil {
		return err
	}
	fmt.Println("downloadedAt\twebsite\tid\ttype\tsize\tpath")
	for _, item := range items {
		fmt.Printf("%s\t%s\t%d\t%s\t%s\t%s\n",
			item.DownloadedAt.Format(time.DateTime), item.Website, item.ID,
			item.DownloadType, format.BitText(item.Size), item.SavePath)
	}
	return nil
}

func settingsCommand() *cli.Command {
	return &cli.Command{
		Name:  "settings",
		Usage: "show or change persisted settings",
		Action: func(cc *cli.Context) error {
			container, cleanup, err := buildContainer(cc)
			if err != nil {
				return err
			}
			defer cleanup() //nolint:errcheck

			settings, err := container.SettingsService.Load(cc.Context)
			if err != nil {
				return err
			}
			proxy := "-"
			if settings.Proxy != nil {
				proxy = settings.Proxy.String()
			}
			safe := "-"
			if settings.SafeSearch != nil {
				safe = string(settings.SafeSearch.Mode) + string(settings.SafeSearch.Value)
			}
			archive, err := container.ArchiveService.Resolve(cc.Context)
			if err != nil {
				return err
			}
			fmt.Printf("proxy=%s\nconcurrency_limit=%d\nsafe_search=%s\narchive=%s\n",
				proxy, settings.ConcurrencyLimit, safe, archive.Backend)
			return nil
		},
		Subcommands: []*cli.Command{
			{
				Name:      "proxy",
				Usage:     `set the proxy, "" to clear`,
				ArgsUsage: "<socks5://host:port|http://host:port>",
				Action: func(cc *cli.Context) error {
					proxy, err := request.ParseProxy(cc.Args().First())
					if err != nil {
						return err
					}
					container, cleanup, err := buildContainer(cc)
					if err != nil {
						return err
					}
					defer cleanup() //nolint:errcheck
					return container.SettingsService.SetProxy(cc.Context, proxy)
				},
			},
			{
				Name:      "concurrency",
				Usage:     "set the number of simultaneous downloads",
				ArgsUsage: "<n>",
				Action: func(cc *cli.Context) error {
					n, err := strconv.Atoi(strings.TrimSpace(cc.Args().First()))
					if err != nil {
						return fmt.Errorf("invalid limit: %s", cc.Args().First())
					}
					container, cleanup, err := buildContainer(cc)
					if err != nil {
						return err
					}
					defer cleanup() //nolint:errcheck
					return container.SettingsService.SetConcurrencyLimit(cc.Context, n)
				},
			},
			{
				Name:      "safe-search",
				Usage:     `set the default rating filter, e.g. s or -e; "" to clear`,
				ArgsUsage: "<rating>",
				Action: func(cc *cli.Context) error {
					rating, err := service.ParseSafeSearch(cc.Args().First())
					if err != nil {
						return err
					}
					container, cleanup, err := buildContainer(cc)
					if err != nil {
						return err
					}
					defer cleanup() //nolint:errcheck
					return container.SettingsService.SetSafeSearch(cc.Context, rating)
				},
			},
		},
	}
}

func parseOptionalDay(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	t, err := format.ParseYMD(raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// parseDays reads an age in whole days: "30", "30d", "2day", "7days".
func parseDays(raw string) (int, error) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	if normalized == "" {
		return 0, fmt.Errorf("empty age")
	}
	for _, suffix := range []string{"days", "day", "d"} {
		if strings.HasSuffix(normalized, suffix) {
			normalized = strings.TrimSpace(strings.TrimSuffix(normalized, suffix))
			break
		}
	}
	days, err := strconv.Atoi(normalized)
	if err != nil {
		return 0, fmt.Errorf("unsupported age format")
	}
	if days <= 0 {
		return 0, fmt.Errorf("age must be greater than 0")
	}
	return days, nil
}
