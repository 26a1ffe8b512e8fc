package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type ArchiveBackend string

const (
	ArchiveBackendNone  ArchiveBackend = "none"
	ArchiveBackendLocal ArchiveBackend = "local"
	ArchiveBackendS3    ArchiveBackend = "s3"
)

func (b ArchiveBackend) IsValid() bool {
	return b == ArchiveBackendNone || b == ArchiveBackendLocal || b == ArchiveBackendS3
}

type S3Config struct {
	Endpoint     string
	Region       string
	Bucket       string
	AccessKeyID  string
	AccessSecret string
	UsePathStyle bool
}

type Config struct {
	Addr                 string
	APIToken             string
	DBPath               string
	SaveDir              string
	MaxDownloads         int
	Proxy                string
	SafeSearch           string
	LogLevel             string
	RequestTimeoutSecs   int
	HistoryRetentionDays int
	Archive              ArchiveBackend
	ArchiveDir           string
	S3                   S3Config
}

func Load() (Config, error) {
	cfg := Config{
		Addr:                 env("APP_ADDR", ":12843"),
		APIToken:             env("API_TOKEN", ""),
		DBPath:               env("DB_PATH", "./data/axim.db"),
		SaveDir:              env("SAVE_DIR", "./data/downloads"),
		MaxDownloads:         envInt("MAX_DOWNLOADS", 5),
		Proxy:                env("PROXY", ""),
		SafeSearch:           strings.ToLower(env("SAFE_SEARCH", "")),
		LogLevel:             strings.ToLower(env("LOG_LEVEL", "info")),
		RequestTimeoutSecs:   envInt("REQUEST_TIMEOUT_SECONDS", 30),
		HistoryRetentionDays: envInt("HISTORY_RETENTION_DAYS", 0),
		Archive:              ArchiveBackend(strings.ToLower(env("ARCHIVE_BACKEND", string(ArchiveBackendNone)))),
		ArchiveDir:           env("ARCHIVE_DIR", "./data/archive"),
		S3: S3Config{
			Endpoint:     env("S3_ENDPOINT", ""),
			Region:       env("S3_REGION", "auto"),
			Bucket:       env("S3_BUCKET", ""),
			AccessKeyID:  env("S3_ACCESS_KEY_ID", ""),
			AccessSecret: env("S3_ACCESS_KEY_SECRET", ""),
			UsePathStyle: envBool("S3_USE_PATH_STYLE", true),
		},
	}
	if !cfg.Archive.IsValid() {
		return Config{}, fmt.Errorf("unsupported ARCHIVE_BACKEND %q", cfg.Archive)
	}
	if cfg.Archive == ArchiveBackendS3 {
		if err := cfg.S3.Validate(); err != nil {
			return Config{}, err
		}
	}
	switch cfg.SafeSearch {
	case "", "s", "q", "e", "-s", "-q", "-e":
	default:
		return Config{}, fmt.Errorf("unsupported SAFE_SEARCH %q", cfg.SafeSearch)
	}
	return cfg, nil
}

func (c S3Config) Validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("s3 endpoint is required when archive backend is s3")
	}
	if c.Region == "" {
		return fmt.Errorf("s3 region is required when archive backend is s3")
	}
	if c.Bucket == "" {
		return fmt.Errorf("s3 bucket is required when archive backend is s3")
	}
	if c.AccessKeyID == "" {
		return fmt.Errorf("s3 access key id is required when archive backend is s3")
	}
	if c.AccessSecret == "" {
		return fmt.Errorf("s3 access key secret is required when archive backend is s3")
	}
	return nil
}

func env(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envBool(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return parsed
}

func envInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(v)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}
