package app

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/axxuxy/ax-image/internal/booru"
	"github.com/axxuxy/ax-image/internal/config"
	"github.com/axxuxy/ax-image/internal/db"
	"github.com/axxuxy/ax-image/internal/download"
	httpserver "github.com/axxuxy/ax-image/internal/http"
	"github.com/axxuxy/ax-image/internal/request"
	"github.com/axxuxy/ax-image/internal/service"
	"github.com/axxuxy/ax-image/internal/store"
)

type Container struct {
	Config          config.Config
	Store           *store.SQLStore
	Client          *request.Client
	Booru           *booru.Client
	Manager         *download.Manager
	SearchService   *service.SearchService
	DownloadService *service.DownloadService
	HistoryService  *service.HistoryService
	SettingsService *service.SettingsService
	ArchiveService  *service.ArchiveSettingsService
	Router          *fiber.App
}

func Build(ctx context.Context, cfg config.Config) (*Container, func() error, error) {
	sqliteDB, err := db.OpenSQLite(cfg.DBPath)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() error {
		return sqliteDB.Close()
	}

	if err := db.Migrate(sqliteDB); err != nil {
		_ = cleanup()
		return nil, nil, err
	}
	sqlStore := store.New(sqliteDB)

	client, err := request.NewClient(request.WithTimeout(time.Duration(cfg.RequestTimeoutSecs) * time.Second))
	if err != nil {
		_ = cleanup()
		return nil, nil, fmt.Errorf("build request client: %w", err)
	}
	booruClient := booru.NewClient(client)
	manager := download.NewManager(client,
		download.WithConcurrencyLimit(cfg.MaxDownloads),
		download.WithLogger(log.Logger),
	)

	archiveService := service.NewArchiveSettingsService(sqlStore, cfg)
	resolved, err := archiveService.Resolve(ctx)
	if err != nil {
		_ = cleanup()
		return nil, nil, fmt.Errorf("resolve archive settings: %w", err)
	}
	cfg.Archive = resolved.Backend

	settingsService := service.NewSettingsService(sqlStore, client, manager, booruClient, cfg)
	settings, err := settingsService.Apply(ctx)
	if err != nil {
		_ = cleanup()
		return nil, nil, fmt.Errorf("apply settings: %w", err)
	}

	historyService := service.NewHistoryService(sqlStore)
	searchService := service.NewSearchService(booruClient, historyService)
	downloadService := service.NewDownloadService(manager, sqlStore, archiveService, cfg.SaveDir)
	cleanup = func() error {
		downloadService.Close()
		return sqliteDB.Close()
	}

	router := httpserver.NewRouter(cfg, httpserver.Services{
		Search:   searchService,
		Download: downloadService,
		History:  historyService,
		Settings: settingsService,
		Archive:  archiveService,
	})

	log.Debug().
		Str("archive", string(resolved.Backend)).
		Int("concurrency", settings.ConcurrencyLimit).
		Bool("proxy", settings.Proxy != nil).
		Msg("app built")

	return &Container{
		Config:          cfg,
		Store:           sqlStore,
		Client:          client,
		Booru:           booruClient,
		Manager:         manager,
		SearchService:   searchService,
		DownloadService: downloadService,
		HistoryService:  historyService,
		SettingsService: settingsService,
		ArchiveService:  archiveService,
		Router:          router,
	}, cleanup, nil
}
