// Package config handles application configuration and environment loading.
package config

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

const insecureEncryptionKey = "0000000000000000000000000000000000000000000000000000000000000000"

// StorageConfig holds optional object-storage credentials used to fetch remote
// file sources. Unset fields are nil so the SDK default chains can apply.
type StorageConfig struct {
	S3KeyID          *string
	S3Secret         *string
	S3Endpoint       *string
	S3Region         *string
	GCSKeyFile       *string
	AzureAccountName *string
	AzureAccountKey  *string
}

// HasS3Credentials returns true if static S3 credentials are set.
func (s *StorageConfig) HasS3Credentials() bool {
	return s.S3KeyID != nil && s.S3Secret != nil
}

// HasAzureCredentials returns true if a shared-key Azure account is configured.
func (s *StorageConfig) HasAzureCredentials() bool {
	return s.AzureAccountName != nil && s.AzureAccountKey != nil
}

// ExecutionConfig holds the execution engine limits.
type ExecutionConfig struct {
	QueryDefaultLimit int           // semantic query row limit when none is requested (default 1000)
	QueryMaxLimit     int           // semantic query row limit clamp (default 100000)
	PreviewRowLimit   int           // per-source row cap in preview mode (default 1000)
	PreviewTimeout    time.Duration // budget for preview runs (default 2m)
	RunTimeout        time.Duration // budget for regular and scheduled runs (default 30m)
	MaxConcurrentRuns int           // asynchronous run pool size (default 4)
	StepParallelism   int           // concurrent steps within one dependency level (default 4)
}

// Config holds the configuration for the HTTP API, metastore and execution engine.
type Config struct {
	MetaDBPath  string // path to SQLite metadata file
	ListenAddr  string // HTTP listen address (default ":8080")
	LogLevel    string // log level: debug, info, warn, error (default "info")
	Env         string // environment: "development" (default) or "production"
	DeliveryDir string // directory scheduled run results are written to (default "deliveries")
	TempDir     string // scratch directory for downloaded remote files (default os.TempDir())

	// EncryptionKey is a 64-char hex string (32-byte AES key) sealing data
	// source connection configs in the metastore.
	EncryptionKey string

	// Rate limiting
	RateLimitRPS   float64 // sustained requests per second (default 100)
	RateLimitBurst int     // burst capacity (default 200)

	// CORS
	CORSAllowedOrigins []string // allowed origins for CORS (default: ["*"])

	Execution ExecutionConfig
	Storage   StorageConfig

	// Warnings collects non-fatal warnings generated during config loading.
	// These are logged by the caller after the logger is initialised.
	Warnings []string
}

// SlogLevel maps the LogLevel string to an slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// IsProduction returns true when the server is running in production mode.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// LoadFromEnv loads configuration from environment variables.
// Storage variables are optional; the app can start without them.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		MetaDBPath:  os.Getenv("META_DB_PATH"),
		ListenAddr:  os.Getenv("LISTEN_ADDR"),
		LogLevel:    os.Getenv("LOG_LEVEL"),
		Env:         os.Getenv("ENV"),
		DeliveryDir: os.Getenv("DELIVERY_DIR"),
		TempDir:     os.Getenv("TEMP_DIR"),

		EncryptionKey: os.Getenv("ENCRYPTION_KEY"),
	}

	// Rate limiting
	if v := os.Getenv("RATE_LIMIT_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.RateLimitRPS = f
		}
	}
	if v := os.Getenv("RATE_LIMIT_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimitBurst = n
		}
	}

	// Execution limits
	var err error
	ex := &cfg.Execution
	if ex.QueryDefaultLimit, err = intEnv("QUERY_DEFAULT_LIMIT", 1000); err != nil {
		return nil, err
	}
	if ex.QueryMaxLimit, err = intEnv("QUERY_MAX_LIMIT", 100000); err != nil {
		return nil, err
	}
	if ex.PreviewRowLimit, err = intEnv("PREVIEW_ROW_LIMIT", 1000); err != nil {
		return nil, err
	}
	if ex.MaxConcurrentRuns, err = intEnv("MAX_CONCURRENT_RUNS", 4); err != nil {
		return nil, err
	}
	if ex.StepParallelism, err = intEnv("STEP_PARALLELISM", 4); err != nil {
		return nil, err
	}
	if ex.PreviewTimeout, err = durationEnv("PREVIEW_TIMEOUT", 2*time.Minute); err != nil {
		return nil, err
	}
	if ex.RunTimeout, err = durationEnv("RUN_TIMEOUT", 30*time.Minute); err != nil {
		return nil, err
	}
	if ex.QueryDefaultLimit > ex.QueryMaxLimit {
		return nil, fmt.Errorf("QUERY_DEFAULT_LIMIT (%d) exceeds QUERY_MAX_LIMIT (%d)", ex.QueryDefaultLimit, ex.QueryMaxLimit)
	}

	// Storage fields are optional; only set if present
	cfg.Storage = StorageConfig{
		S3KeyID:          optionalEnv("S3_KEY_ID"),
		S3Secret:         optionalEnv("S3_SECRET"),
		S3Endpoint:       optionalEnv("S3_ENDPOINT"),
		S3Region:         optionalEnv("S3_REGION"),
		GCSKeyFile:       optionalEnv("GCS_KEY_FILE"),
		AzureAccountName: optionalEnv("AZURE_ACCOUNT_NAME"),
		AzureAccountKey:  optionalEnv("AZURE_ACCOUNT_KEY"),
	}
	if (cfg.Storage.S3KeyID == nil) != (cfg.Storage.S3Secret == nil) {
		cfg.Warnings = append(cfg.Warnings, "only one of S3_KEY_ID and S3_SECRET is set; falling back to the default AWS credential chain")
	}

	// CORS
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		origins := strings.Split(v, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		cfg.CORSAllowedOrigins = compactNonEmpty(origins)
	}

	// Defaults
	if cfg.MetaDBPath == "" {
		cfg.MetaDBPath = "duckbi_meta.sqlite"
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.DeliveryDir == "" {
		cfg.DeliveryDir = "deliveries"
	}
	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}
	if cfg.EncryptionKey == "" {
		cfg.EncryptionKey = insecureEncryptionKey
		cfg.Warnings = append(cfg.Warnings, "ENCRYPTION_KEY not set, using insecure default; set ENCRYPTION_KEY in production")
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.RateLimitRPS == 0 {
		cfg.RateLimitRPS = 100
	}
	if cfg.RateLimitBurst == 0 {
		cfg.RateLimitBurst = 200
	}
	if len(cfg.CORSAllowedOrigins) == 0 {
		cfg.CORSAllowedOrigins = []string{"*"}
	}

	// Production mode: insecure defaults are fatal errors.
	if cfg.IsProduction() {
		if cfg.EncryptionKey == insecureEncryptionKey {
			return nil, fmt.Errorf("ENCRYPTION_KEY must be set in production (ENV=production)")
		}
		if len(cfg.CORSAllowedOrigins) == 1 && cfg.CORSAllowedOrigins[0] == "*" {
			return nil, fmt.Errorf("CORS wildcard (*) is not allowed in production (ENV=production)")
		}
	}

	return cfg, nil
}

func optionalEnv(key string) *string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return &v
	}
	return nil
}

func intEnv(key string, defaultVal int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if n < 1 {
		return 0, fmt.Errorf("%s must be positive, got %d", key, n)
	}
	return n, nil
}

func durationEnv(key string, defaultVal time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", key, d)
	}
	return d, nil
}

func compactNonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

// LoadDotEnv reads a .env file and sets any variables not already in the environment.
// Lines must be in KEY=VALUE format. Comments (#) and blank lines are skipped.
func LoadDotEnv(path string) error {
	f, err := os.Open(path) //nolint:gosec // path is caller-controlled
	if err != nil {
		if os.IsNotExist(err) {
			return nil // .env not found is not an error
		}
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = stripQuotes(strings.TrimSpace(value))
		// Only set if not already in the environment (env vars take precedence)
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("setenv %s: %w", key, err)
			}
		}
	}
	return scanner.Err()
}

// stripQuotes removes surrounding double or single quotes from a value.
func stripQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
