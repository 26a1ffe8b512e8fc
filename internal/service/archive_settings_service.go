package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/axxuxy/ax-image/internal/config"
	"github.com/axxuxy/ax-image/internal/storage"
	"github.com/axxuxy/ax-image/internal/store"
)

const (
	settingKeyArchiveBackend    = "archive_backend"
	settingKeyArchiveLocalDir   = "archive_local_dir"
	settingKeyArchiveS3Endpoint = "archive_s3_endpoint"
	settingKeyArchiveS3Region   = "archive_s3_region"
	settingKeyArchiveS3Bucket   = "archive_s3_bucket"
	settingKeyArchiveS3KeyID    = "archive_s3_access_key_id"
	settingKeyArchiveS3Secret   = "archive_s3_access_key_secret"
	settingKeyArchiveS3Path     = "archive_s3_use_path_style"
)

type ArchiveSettings struct {
	Backend config.ArchiveBackend `json:"backend"`
	Dir     string                `json:"dir,omitempty"`
	S3      config.S3Config       `json:"-"`
}

// ArchiveSettingsService keeps the archive backend in system_settings. The
// first Resolve persists the configured defaults.
type ArchiveSettingsService struct {
	store    *store.SQLStore
	defaults ArchiveSettings
	openS3   func(ctx context.Context, cfg config.S3Config) (storage.Store, error)

	mu     sync.Mutex
	opened storage.Store
	valid  bool
}

func NewArchiveSettingsService(s *store.SQLStore, cfg config.Config) *ArchiveSettingsService {
	return &ArchiveSettingsService{
		store: s,
		defaults: ArchiveSettings{
			Backend: cfg.Archive,
			Dir:     cfg.ArchiveDir,
			S3:      cfg.S3,
		},
		openS3: func(ctx context.Context, cfg config.S3Config) (storage.Store, error) {
			return storage.NewS3Store(ctx, cfg, "")
		},
	}
}

func (s *ArchiveSettingsService) Resolve(ctx context.Context) (ArchiveSettings, error) {
	backend, err := s.resolveBackend(ctx)
	if err != nil {
		return ArchiveSettings{}, err
	}

	resolved := ArchiveSettings{Backend: backend}
	switch backend {
	case config.ArchiveBackendLocal:
		dir, err := s.getRequiredSetting(ctx, settingKeyArchiveLocalDir, backend)
		if err != nil {
			return ArchiveSettings{}, err
		}
		resolved.Dir = dir
	case config.ArchiveBackendS3:
		s3Cfg, err := s.resolveS3Config(ctx)
		if err != nil {
			return ArchiveSettings{}, err
		}
		resolved.S3 = s3Cfg
	}
	return resolved, nil
}

// Open returns the archive store, or nil when archiving is off.
func (s *ArchiveSettingsService) Open(ctx context.Context) (storage.Store, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.valid {
		return s.opened, nil
	}

	resolved, err := s.Resolve(ctx)
	if err != nil {
		return nil, err
	}
	var opened storage.Store
	switch resolved.Backend {
	case config.ArchiveBackendLocal:
		opened, err = storage.NewLocalStore(resolved.Dir)
	case config.ArchiveBackendS3:
		opened, err = s.openS3(ctx, resolved.S3)
	}
	if err != nil {
		return nil, err
	}
	s.opened = opened
	s.valid = true
	return opened, nil
}

func (s *ArchiveSettingsService) SetNone(ctx context.Context) error {
	defer s.invalidate()
	return s.store.UpsertSetting(ctx, settingKeyArchiveBackend, string(config.ArchiveBackendNone))
}

func (s *ArchiveSettingsService) SetLocal(ctx context.Context, dir string) error {
	defer s.invalidate()
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return fmt.Errorf("archive dir is required when archive backend is local")
	}
	if err := s.store.UpsertSetting(ctx, settingKeyArchiveLocalDir, dir); err != nil {
		return err
	}
	return s.store.UpsertSetting(ctx, settingKeyArchiveBackend, string(config.ArchiveBackendLocal))
}

func (s *ArchiveSettingsService) SetS3(ctx context.Context, cfg config.S3Config) error {
	defer s.invalidate()
	normalized := config.S3Config{
		Endpoint:     strings.TrimSpace(cfg.Endpoint),
		Region:       strings.TrimSpace(cfg.Region),
		Bucket:       strings.TrimSpace(cfg.Bucket),
		AccessKeyID:  strings.TrimSpace(cfg.AccessKeyID),
		AccessSecret: strings.TrimSpace(cfg.AccessSecret),
		UsePathStyle: cfg.UsePathStyle,
	}
	if err := normalized.Validate(); err != nil {
		return err
	}
	if err := s.saveS3(ctx, normalized); err != nil {
		return err
	}
	return s.store.UpsertSetting(ctx, settingKeyArchiveBackend, string(config.ArchiveBackendS3))
}

func (s *ArchiveSettingsService) invalidate() {
	s.mu.Lock()
	s.opened = nil
	s.valid = false
	s.mu.Unlock()
}

func (s *ArchiveSettingsService) saveS3(ctx context.Context, cfg config.S3Config) error {
	settings := []struct {
		key   string
		value string
	}{
		{settingKeyArchiveS3Endpoint, cfg.Endpoint},
		{settingKeyArchiveS3Region, cfg.Region},
		{settingKeyArchiveS3Bucket, cfg.Bucket},
		{settingKeyArchiveS3KeyID, cfg.AccessKeyID},
		{settingKeyArchiveS3Secret, cfg.AccessSecret},
		{settingKeyArchiveS3Path, strconv.FormatBool(cfg.UsePathStyle)},
	}
	for _, item := range settings {
		if err := s.store.UpsertSetting(ctx, item.key, item.value); err != nil {
			return err
		}
	}
	return nil
}

func (s *ArchiveSettingsService) resolveBackend(ctx context.Context) (config.ArchiveBackend, error) {
	raw, err := s.store.GetSetting(ctx, settingKeyArchiveBackend)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return "", err
		}
		return s.persistDefaults(ctx)
	}

	backend := config.ArchiveBackend(strings.ToLower(strings.TrimSpace(raw)))
	if !backend.IsValid() {
		return "", fmt.Errorf("unsupported archive backend %q in setting %s", raw, settingKeyArchiveBackend)
	}
	return backend, nil
}

func (s *ArchiveSettingsService) persistDefaults(ctx context.Context) (config.ArchiveBackend, error) {
	backend := s.defaults.Backend
	if backend == "" {
		backend = config.ArchiveBackendNone
	}
	switch backend {
	case config.ArchiveBackendLocal:
		if err := s.store.UpsertSetting(ctx, settingKeyArchiveLocalDir, s.defaults.Dir); err != nil {
			return "", err
		}
	case config.ArchiveBackendS3:
		if err := s.saveS3(ctx, s.defaults.S3); err != nil {
			return "", err
		}
	}
	if err := s.store.UpsertSetting(ctx, settingKeyArchiveBackend, string(backend)); err != nil {
		return "", err
	}
	return backend, nil
}

func (s *ArchiveSettingsService) resolveS3Config(ctx context.Context) (config.S3Config, error) {
	backend := config.ArchiveBackendS3
	endpoint, err := s.getRequiredSetting(ctx, settingKeyArchiveS3Endpoint, backend)
	if err != nil {
		return config.S3Config{}, err
	}
	region, err := s.getRequiredSetting(ctx, settingKeyArchiveS3Region, backend)
	if err != nil {
		return config.S3Config{}, err
	}
	bucket, err := s.getRequiredSetting(ctx, settingKeyArchiveS3Bucket, backend)
	if err != nil {
		return config.S3Config{}, err
	}
	accessKeyID, err := s.getRequiredSetting(ctx, settingKeyArchiveS3KeyID, backend)
	if err != nil {
		return config.S3Config{}, err
	}
	accessSecret, err := s.getRequiredSetting(ctx, settingKeyArchiveS3Secret, backend)
	if err != nil {
		return config.S3Config{}, err
	}
	usePathStyle, err := s.getBoolSetting(ctx, settingKeyArchiveS3Path, true)
	if err != nil {
		return config.S3Config{}, err
	}

	cfg := config.S3Config{
		Endpoint:     endpoint,
		Region:       region,
		Bucket:       bucket,
		AccessKeyID:  accessKeyID,
		AccessSecret: accessSecret,
		UsePathStyle: usePathStyle,
	}
	if err := cfg.Validate(); err != nil {
		return config.S3Config{}, err
	}
	return cfg, nil
}

func (s *ArchiveSettingsService) getRequiredSetting(ctx context.Context, key string, backend config.ArchiveBackend) (string, error) {
	raw, err := s.store.GetSetting(ctx, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("setting %s is required when archive backend is %s", key, backend)
		}
		return "", err
	}
	value := strings.TrimSpace(raw)
	if value == "" {
		return "", fmt.Errorf("setting %s is required when archive backend is %s", key, backend)
	}
	return value, nil
}

func (s *ArchiveSettingsService) getBoolSetting(ctx context.Context, key string, fallback bool) (bool, error) {
	raw, err := s.store.GetSetting(ctx, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fallback, nil
		}
		return fallback, err
	}
	value := strings.TrimSpace(raw)
	if value == "" {
		return fallback, nil
	}
	parsed, parseErr := strconv.ParseBool(value)
	if parseErr != nil {
		return fallback, fmt.Errorf("invalid bool in setting %s: %q", key, raw)
	}
	return parsed, nil
}
