package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DatasetSourceDisk     = "disk"
	DatasetSourcePostgres = "postgres"
	DatasetSourceS3       = "s3"

	ExtractorStatic = "static"
	ExtractorGemini = "gemini"
)

type Config struct {
	Port      string
	Env       string
	Dataset   DatasetConfig
	Extractor ExtractorConfig

	// AllowedOrigins is the CORS allowlist; empty allows any origin.
	AllowedOrigins []string
}

type DatasetConfig struct {
	Source string
	// Documents restricts loading to these names; empty loads every document.
	Documents   []string
	Dir         string
	PostgresDSN string
	S3          S3Config
	Parallel    int
	CacheTTL    time.Duration
}

type S3Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
	UseSSL    bool
}

// Complete reports whether the bucket can be reached with this config.
func (c S3Config) Complete() bool {
	return strings.TrimSpace(c.Endpoint) != "" &&
		strings.TrimSpace(c.Bucket) != "" &&
		strings.TrimSpace(c.AccessKey) != "" &&
		strings.TrimSpace(c.SecretKey) != ""
}

type ExtractorConfig struct {
	Kind         string
	GeminiAPIKey string
	GeminiModel  string
	Retries      int
	RetryBackoff time.Duration
}

// Load reads .env (when present) and the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from getenv. APP_ENV=local fills in the
// docker-compose defaults.
func FromEnv(getenv func(string) string) (*Config, error) {
	get := func(key string) string { return strings.TrimSpace(getenv(key)) }

	env := firstNonEmpty(get("APP_ENV"), "local")
	local := strings.EqualFold(env, "local")

	cfg := &Config{
		Port:           normalizePort(firstNonEmpty(get("PORT"), ":8081")),
		Env:            env,
		AllowedOrigins: splitList(get("CORS_ALLOWED_ORIGINS")),
	}
	if local {
		cfg.Dataset = localDataset(get)
	} else {
		cfg.Dataset = DatasetConfig{
			Dir:         get("DATASET_DIR"),
			PostgresDSN: firstNonEmpty(get("DATASET_PG_DSN"), get("DATABASE_URL")),
			S3: S3Config{
				Endpoint:  get("DATASET_S3_ENDPOINT"),
				Region:    firstNonEmpty(get("DATASET_S3_REGION"), "us-east-1"),
				AccessKey: get("DATASET_S3_ACCESS_KEY"),
				SecretKey: get("DATASET_S3_SECRET_KEY"),
				Bucket:    get("DATASET_S3_BUCKET"),
				UseSSL:    parseBool(get("DATASET_S3_USE_SSL"), true),
			},
		}
	}
	cfg.Dataset.Source = strings.ToLower(firstNonEmpty(get("DATASET_SOURCE"), DatasetSourceDisk))
	cfg.Dataset.Documents = splitList(get("DATASET_DOCUMENTS"))
	cfg.Dataset.S3.Prefix = get("DATASET_S3_PREFIX")
	cfg.Dataset.Parallel = parseInt(get("DATASET_PARALLEL"), 4)
	cfg.Dataset.CacheTTL = parseDuration(get("DATASET_CACHE_TTL"), 10*time.Minute)

	cfg.Extractor = ExtractorConfig{
		GeminiAPIKey: get("GEMINI_API_KEY"),
		GeminiModel:  firstNonEmpty(get("GEMINI_MODEL"), "gemini-2.5-flash"),
		Retries:      parseInt(get("EXTRACTOR_RETRIES"), 3),
		RetryBackoff: parseDuration(get("EXTRACTOR_RETRY_BACKOFF"), 500*time.Millisecond),
	}
	defaultKind := ExtractorStatic
	if cfg.Extractor.GeminiAPIKey != "" {
		defaultKind = ExtractorGemini
	}
	cfg.Extractor.Kind = strings.ToLower(firstNonEmpty(get("EXTRACTOR"), defaultKind))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Dataset.Source {
	case DatasetSourceDisk:
		if c.Dataset.Dir == "" {
			return fmt.Errorf("config: DATASET_DIR is required for the disk source")
		}
	case DatasetSourcePostgres:
		if c.Dataset.PostgresDSN == "" {
			return fmt.Errorf("config: DATASET_PG_DSN is required for the postgres source")
		}
	case DatasetSourceS3:
		if !c.Dataset.S3.Complete() {
			return fmt.Errorf("config: DATASET_S3_ENDPOINT, DATASET_S3_BUCKET and credentials are required for the s3 source")
		}
	default:
		return fmt.Errorf("config: unsupported DATASET_SOURCE %q", c.Dataset.Source)
	}
	switch c.Extractor.Kind {
	case ExtractorStatic, ExtractorGemini:
	default:
		return fmt.Errorf("config: unsupported EXTRACTOR %q", c.Extractor.Kind)
	}
	return nil
}

func normalizePort(port string) string {
	if strings.Contains(port, ":") {
		return port
	}
	return ":" + port
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseBool(raw string, def bool) bool {
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return v
}

func parseInt(raw string, def int) int {
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func parseDuration(raw string, def time.Duration) time.Duration {
	if raw == "" {
		return def
	}
	v, err := time.ParseDuration(raw)
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
