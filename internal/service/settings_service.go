package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/axxuxy/ax-image/internal/booru"
	"github.com/axxuxy/ax-image/internal/config"
	"github.com/axxuxy/ax-image/internal/download"
	"github.com/axxuxy/ax-image/internal/request"
	"github.com/axxuxy/ax-image/internal/store"
	"github.com/axxuxy/ax-image/internal/tags"
)

const (
	settingKeyProxy            = "proxy"
	settingKeyConcurrencyLimit = "concurrency_limit"
	settingKeySafeSearch       = "safe_search"
)

type Settings struct {
	Proxy            *request.Proxy `json:"proxy"`
	ConcurrencyLimit int            `json:"concurrency_limit"`
	SafeSearch       *tags.Rating   `json:"safe_search"`
}

// SettingsService persists runtime settings and pushes them into the
// request client, the download manager and the board client.
type SettingsService struct {
	store    *store.SQLStore
	client   *request.Client
	manager  *download.Manager
	booru    *booru.Client
	defaults config.Config
}

func NewSettingsService(
	s *store.SQLStore,
	client *request.Client,
	manager *download.Manager,
	booruClient *booru.Client,
	defaults config.Config,
) *SettingsService {
	return &SettingsService{
		store:    s,
		client:   client,
		manager:  manager,
		booru:    booruClient,
		defaults: defaults,
	}
}

// Load reads stored settings, falling back to the configured defaults.
func (s *SettingsService) Load(ctx context.Context) (Settings, error) {
	rawProxy, err := s.getSetting(ctx, settingKeyProxy, s.defaults.Proxy)
	if err != nil {
		return Settings{}, err
	}
	proxy, err := request.ParseProxy(rawProxy)
	if err != nil {
		return Settings{}, fmt.Errorf("setting %s: %w", settingKeyProxy, err)
	}

	limit := s.defaults.MaxDownloads
	if limit < 1 {
		limit = download.DefaultConcurrencyLimit
	}
	rawLimit, err := s.getSetting(ctx, settingKeyConcurrencyLimit, strconv.Itoa(limit))
	if err != nil {
		return Settings{}, err
	}
	limit, err = strconv.Atoi(rawLimit)
	if err != nil || limit < 1 {
		return Settings{}, fmt.Errorf("invalid concurrency limit in setting %s: %q", settingKeyConcurrencyLimit, rawLimit)
	}

	rawSafe, err := s.getSetting(ctx, settingKeySafeSearch, s.defaults.SafeSearch)
	if err != nil {
		return Settings{}, err
	}
	safe, err := ParseSafeSearch(rawSafe)
	if err != nil {
		return Settings{}, fmt.Errorf("setting %s: %w", settingKeySafeSearch, err)
	}

	return Settings{Proxy: proxy, ConcurrencyLimit: limit, SafeSearch: safe}, nil
}

// Apply loads the settings and pushes them to their consumers.
func (s *SettingsService) Apply(ctx context.Context) (Settings, error) {
	settings, err := s.Load(ctx)
	if err != nil {
		return Settings{}, err
	}
	if err := s.client.SetProxy(settings.Proxy); err != nil {
		return Settings{}, err
	}
	if err := s.manager.SetConcurrencyLimit(settings.ConcurrencyLimit); err != nil {
		return Settings{}, err
	}
	s.booru.SetRating(settings.SafeSearch)
	return settings, nil
}

// SetProxy stores and applies p. nil removes the proxy.
func (s *SettingsService) SetProxy(ctx context.Context, p *request.Proxy) error {
	raw := ""
	if p != nil {
		if err := p.Validate(); err != nil {
			return err
		}
		raw = p.String()
	}
	if err := s.client.SetProxy(p); err != nil {
		return err
	}
	if err := s.store.UpsertSetting(ctx, settingKeyProxy, raw); err != nil {
		return err
	}
	log.Info().Str("proxy", raw).Msg("proxy updated")
	return nil
}

func (s *SettingsService) SetConcurrencyLimit(ctx context.Context, n int) error {
	if err := s.manager.SetConcurrencyLimit(n); err != nil {
		return err
	}
	return s.store.UpsertSetting(ctx, settingKeyConcurrencyLimit, strconv.Itoa(n))
}

// SetSafeSearch stores and applies r. nil disables safe search.
func (s *SettingsService) SetSafeSearch(ctx context.Context, r *tags.Rating) error {
	raw := ""
	if r != nil {
		if _, err := tags.NewRating(*r); err != nil {
			return err
		}
		raw = string(r.Mode) + string(r.Value)
	}
	s.booru.SetRating(r)
	return s.store.UpsertSetting(ctx, settingKeySafeSearch, raw)
}

// ParseSafeSearch reads the short form used in config and settings: "s",
// "-e" and so on. An empty string disables safe search.
func ParseSafeSearch(raw string) (*tags.Rating, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" {
		return nil, nil
	}
	token := "rating:" + raw
	if rest, ok := strings.CutPrefix(raw, "-"); ok {
		token = "-rating:" + rest
	}
	rating, ok := tags.ParseRating(token)
	if !ok {
		return nil, fmt.Errorf("%w: safe search %q", tags.ErrInvalidTag, raw)
	}
	return &rating, nil
}

func (s *SettingsService) getSetting(ctx context.Context, key string, fallback string) (string, error) {
	raw, err := s.store.GetSetting(ctx, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fallback, nil
		}
		return "", err
	}
	return strings.TrimSpace(raw), nil
}
