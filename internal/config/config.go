package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/c2h5oh/datasize"
	"github.com/go-playground/validator/v10"

	"github.com/leca/dt-image-store/internal/model"
)

type Config struct {
	ListenAddr   string `validate:"required"`
	StoragePath  string `validate:"required"`
	PermanentDir string `validate:"required"`
	CacheDir     string `validate:"required,nefield=PermanentDir"`
	// DBPath is the image journal. Empty disables it.
	DBPath string

	MaxFileSize int64 `validate:"gt=0"`
	MaxNameSize int   `validate:"gt=0"`
	AllowNaming bool

	MinResolutionHeight int `validate:"gte=1"`
	MaxResolutionHeight int `validate:"gtefield=MinResolutionHeight"`
	MinResolutionWidth  int `validate:"gte=1"`
	MaxResolutionWidth  int `validate:"gtefield=MinResolutionWidth"`

	// MaxInputPixels caps width*height of images the resizer will decode.
	MaxInputPixels int64 `validate:"gt=0"`

	// DiskBudget overrides the size of the disk holding PermanentDir. Zero
	// means query the filesystem.
	DiskBudget int64  `validate:"gte=0"`
	ResizeFit  string `validate:"oneof=cover contain scale-down crop pad"`
	LogLevel   string `validate:"oneof=debug info warn error"`
}

// Load reads the configuration from DT_* environment variables and validates it.
func Load() (*Config, error) {
	var errs []error

	storagePath := getEnv("DT_STORAGE_PATH", "/data/images")
	cfg := &Config{
		ListenAddr:   getEnv("DT_LISTEN_ADDR", ":8080"),
		StoragePath:  storagePath,
		PermanentDir: getEnv("DT_PERMANENT_DIR", filepath.Join(storagePath, "permanent")),
		CacheDir:     getEnv("DT_CACHE_DIR", filepath.Join(storagePath, "cache")),
		DBPath:       getEnv("DT_DB_PATH", "/data/db/images.db"),

		MaxFileSize: getEnvSize("DT_MAX_FILE_SIZE", 10*datasize.MB, &errs),
		MaxNameSize: getEnvInt("DT_MAX_NAME_SIZE", 100, &errs),
		AllowNaming: getEnvBool("DT_ALLOW_NAMING", false, &errs),

		MinResolutionHeight: getEnvInt("DT_MIN_RESOLUTION_HEIGHT", 1, &errs),
		MaxResolutionHeight: getEnvInt("DT_MAX_RESOLUTION_HEIGHT", 4096, &errs),
		MinResolutionWidth:  getEnvInt("DT_MIN_RESOLUTION_WIDTH", 1, &errs),
		MaxResolutionWidth:  getEnvInt("DT_MAX_RESOLUTION_WIDTH", 4096, &errs),

		MaxInputPixels: getEnvInt64("DT_MAX_INPUT_PIXELS", 0x3FFF*0x3FFF, &errs),

		DiskBudget: getEnvSize("DT_DISK_BUDGET", 0, &errs),
		ResizeFit:  getEnv("DT_RESIZE_FIT", "cover"),
		LogLevel:   strings.ToLower(getEnv("DT_LOG_LEVEL", "info")),
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Bounds returns the accepted resolution range.
func (c *Config) Bounds() model.ResolutionBounds {
	return model.ResolutionBounds{
		MinHeight: c.MinResolutionHeight,
		MaxHeight: c.MaxResolutionHeight,
		MinWidth:  c.MinResolutionWidth,
		MaxWidth:  c.MaxResolutionWidth,
	}
}

// SlogLevel maps LogLevel to a slog level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int, errs *[]error) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	return n
}

func getEnvInt64(key string, defaultValue int64, errs *[]error) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	return n
}

func getEnvBool(key string, defaultValue bool, errs *[]error) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	return b
}

// getEnvSize parses human sizes such as "512KB" or "2GB". A bare number is bytes.
func getEnvSize(key string, defaultValue datasize.ByteSize, errs *[]error) int64 {
	v := os.Getenv(key)
	if v == "" {
		return int64(defaultValue.Bytes())
	}
	var size datasize.ByteSize
	if err := size.UnmarshalText([]byte(v)); err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return int64(defaultValue.Bytes())
	}
	return int64(size.Bytes())
}
