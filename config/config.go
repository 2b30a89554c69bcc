package config

import (
	"errors"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
	"gopkg.in/yaml.v3"

	"github.com/elliot-woods/pgvector-search/internal/errs"
)

// DefaultFileName is looked up in the working directory when no config
// file is given.
const DefaultFileName = "pgsearch.yaml"

// Config holds all configuration for pgsearch. It is built once at process
// start and passed explicitly into every component.
type Config struct {
	Paths     PathsConfig     `yaml:"paths" mapstructure:"paths"`
	Embedding EmbeddingConfig `yaml:"embedding" mapstructure:"embedding"`
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Ledger    LedgerConfig    `yaml:"ledger" mapstructure:"ledger"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Logging   LoggingConfig   `yaml:"logging" mapstructure:"logging"`
	Tracing   TracingConfig   `yaml:"tracing" mapstructure:"tracing"`
}

// PathsConfig holds the on-disk locations.
type PathsConfig struct {
	EmbeddingsDir string `yaml:"embeddings_dir" mapstructure:"embeddings_dir"`
	ImagesDir     string `yaml:"images_dir" mapstructure:"images_dir"`
	TestImagesDir string `yaml:"test_images_dir" mapstructure:"test_images_dir"`
	ModelsDir     string `yaml:"models_dir" mapstructure:"models_dir"`
	Testing       bool   `yaml:"testing" mapstructure:"testing"`
}

// EmbeddingConfig holds oracle configuration.
type EmbeddingConfig struct {
	Provider       string `yaml:"provider" mapstructure:"provider"` // "jina", "local", "mock"
	Model          string `yaml:"model" mapstructure:"model"`
	BaseURL        string `yaml:"base_url" mapstructure:"base_url"`
	APIKeyEnv      string `yaml:"api_key_env" mapstructure:"api_key_env"`
	Dimension      int    `yaml:"dimension" mapstructure:"dimension"` // 0 = derive from model
	MaxImageSide   int    `yaml:"max_image_side" mapstructure:"max_image_side"`
	TimeoutSeconds int    `yaml:"timeout_seconds" mapstructure:"timeout_seconds"`
	DiskCache      bool   `yaml:"disk_cache" mapstructure:"disk_cache"`
	QueryCacheSize int    `yaml:"query_cache_size" mapstructure:"query_cache_size"`
	QueryCacheTTL  int    `yaml:"query_cache_ttl_seconds" mapstructure:"query_cache_ttl_seconds"`
}

// StoreConfig selects and connects the vector store.
type StoreConfig struct {
	Backend          string `yaml:"backend" mapstructure:"backend"` // "postgres", "sqlite", "qdrant", "memory"
	Table            string `yaml:"table" mapstructure:"table"`
	Host             string `yaml:"host" mapstructure:"host"`
	Port             int    `yaml:"port" mapstructure:"port"`
	Name             string `yaml:"name" mapstructure:"name"`
	User             string `yaml:"user" mapstructure:"user"`
	Password         string `yaml:"password,omitempty" mapstructure:"password"`
	SSLMode          string `yaml:"sslmode" mapstructure:"sslmode"`
	SQLitePath       string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	QdrantHost       string `yaml:"qdrant_host" mapstructure:"qdrant_host"`
	QdrantPort       int    `yaml:"qdrant_port" mapstructure:"qdrant_port"`
	QdrantCollection string `yaml:"qdrant_collection" mapstructure:"qdrant_collection"`
}

// LedgerConfig selects the staging artifact format.
type LedgerConfig struct {
	Backend string `yaml:"backend" mapstructure:"backend"` // "csv", "bolt"
}

// ServerConfig holds HTTP settings.
type ServerConfig struct {
	Listen        string `yaml:"listen" mapstructure:"listen"`
	MaxUploadMB   int    `yaml:"max_upload_mb" mapstructure:"max_upload_mb"`
	AllowedOrigin string `yaml:"allowed_origin" mapstructure:"allowed_origin"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"` // "text", "json"
}

// TracingConfig holds OpenTelemetry settings. An empty endpoint disables export.
type TracingConfig struct {
	OTLPEndpoint string  `yaml:"otlp_endpoint" mapstructure:"otlp_endpoint"`
	SampleRate   float64 `yaml:"sample_rate" mapstructure:"sample_rate"`
}

// envBindings maps config keys to the environment variables that set them.
var envBindings = map[string][]string{
	"paths.embeddings_dir":    {"EMBEDDINGS_DIR"},
	"paths.images_dir":        {"IMAGES_DIR"},
	"paths.test_images_dir":   {"TEST_IMAGES_DIR"},
	"paths.models_dir":        {"MODELS_DIR"},
	"paths.testing":           {"TESTING"},
	"embedding.provider":      {"EMBEDDING_PROVIDER"},
	"embedding.model":         {"MODEL_NAME"},
	"embedding.base_url":      {"EMBEDDING_BASE_URL"},
	"embedding.api_key_env":   {"EMBEDDING_API_KEY_ENV"},
	"embedding.dimension":     {"EMBEDDING_DIMENSION"},
	"store.backend":           {"STORE_BACKEND"},
	"store.table":             {"DB_TABLE"},
	"store.host":              {"DB_HOST"},
	"store.port":              {"DB_PORT"},
	"store.name":              {"DB_NAME"},
	"store.user":              {"DB_USER"},
	"store.password":          {"DB_PASSWORD"},
	"store.sslmode":           {"DB_SSLMODE"},
	"store.sqlite_path":       {"SQLITE_PATH"},
	"store.qdrant_host":       {"QDRANT_HOST"},
	"store.qdrant_port":       {"QDRANT_PORT"},
	"store.qdrant_collection": {"QDRANT_COLLECTION"},
	"ledger.backend":          {"LEDGER_BACKEND"},
	"server.listen":           {"LISTEN_ADDR"},
	"logging.level":           {"LOG_LEVEL"},
	"logging.format":          {"LOG_FORMAT"},
	"tracing.otlp_endpoint":   {"OTEL_EXPORTER_OTLP_ENDPOINT"},
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Paths: PathsConfig{
			EmbeddingsDir: "embeddings",
			ModelsDir:     "models",
		},
		Embedding: EmbeddingConfig{
			Provider:       "jina",
			Model:          "jina-clip-v1",
			APIKeyEnv:      "JINA_API_KEY",
			MaxImageSide:   512,
			TimeoutSeconds: 60,
			DiskCache:      true,
			QueryCacheSize: 256,
			QueryCacheTTL:  600,
		},
		Store: StoreConfig{
			Backend:    "postgres",
			Table:      "images",
			Host:       "localhost",
			Port:       5432,
			Name:       "postgres",
			User:       "postgres",
			SSLMode:    "disable",
			SQLitePath: "vectors.db",
			QdrantHost: "localhost",
			QdrantPort: 6334,
		},
		Ledger: LedgerConfig{
			Backend: "csv",
		},
		Server: ServerConfig{
			Listen:        ":8000",
			MaxUploadMB:   20,
			AllowedOrigin: "*",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Tracing: TracingConfig{
			SampleRate: 1.0,
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path (or
// pgsearch.yaml in the working directory when path is empty; a missing file
// is ignored), then the environment. envFiles are loaded first with gotenv and never override
// variables already set; when none are given ./.env is used if present.
func Load(path string, envFiles ...string) (*Config, error) {
	if err := loadEnvFiles(envFiles); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v, DefaultConfig())
	for key, envs := range envBindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return nil, errs.Wrapf(err, errs.CodeConfig, "binding %s", key)
		}
	}

	if path == "" {
		if _, err := os.Stat(DefaultFileName); err == nil {
			path = DefaultFileName
		}
	}
	if path != "" {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			path = ""
		}
	}
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, errs.Wrapf(err, errs.CodeConfig, "reading config %s", path)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errs.Wrap(err, errs.CodeConfig, "unmarshalling config")
	}

	if problems := cfg.Validate(); len(problems) > 0 {
		return nil, errs.Wrap(errors.Join(problems...), errs.CodeConfig, "validating config")
	}
	return &cfg, nil
}

func loadEnvFiles(files []string) error {
	if len(files) == 0 {
		if _, err := os.Stat(".env"); err != nil {
			return nil
		}
		files = []string{".env"}
	}
	if err := gotenv.Load(files...); err != nil {
		return errs.Wrap(err, errs.CodeConfig, "loading env file")
	}
	return nil
}

// setDefaults registers every field of def so that environment bindings
// and Unmarshal see the full key set.
func setDefaults(v *viper.Viper, def *Config) {
	data, err := yaml.Marshal(def)
	if err != nil {
		return
	}
	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return
	}
	for section, values := range tree {
		fields, ok := values.(map[string]any)
		if !ok {
			continue
		}
		for field, value := range fields {
			v.SetDefault(section+"."+field, value)
		}
	}
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o600)
}

// Validate checks the configuration for logical errors, collecting every
// problem rather than stopping at the first.
func (c *Config) Validate() []error {
	var problems []error
	invalid := func(format string, args ...any) {
		problems = append(problems, errs.Errorf(errs.CodeConfig, format, args...))
	}

	oneOf := func(field, value string, allowed ...string) {
		for _, a := range allowed {
			if value == a {
				return
			}
		}
		invalid("config: %s must be one of [%s], got %q", field, strings.Join(allowed, ", "), value)
	}

	oneOf("store.backend", c.Store.Backend, "postgres", "sqlite", "qdrant", "memory")
	oneOf("ledger.backend", c.Ledger.Backend, "csv", "bolt")
	oneOf("embedding.provider", c.Embedding.Provider, "jina", "local", "mock")
	oneOf("logging.format", c.Logging.Format, "text", "json")

	if c.Embedding.Model == "" {
		invalid("config: embedding.model must not be empty")
	}
	if c.Embedding.Dimension < 0 {
		invalid("config: embedding.dimension must not be negative, got %d", c.Embedding.Dimension)
	}
	if c.Embedding.Provider == "local" && c.Embedding.BaseURL == "" {
		invalid("config: embedding.base_url is required for the local provider")
	}
	if c.Paths.EmbeddingsDir == "" {
		invalid("config: paths.embeddings_dir must not be empty")
	}
	if c.Store.Table == "" {
		invalid("config: store.table must not be empty")
	}

	switch c.Store.Backend {
	case "postgres":
		if c.Store.Host == "" || c.Store.Name == "" {
			invalid("config: store.host and store.name are required for postgres")
		}
		validPort("store.port", c.Store.Port, invalid)
	case "sqlite":
		if c.Store.SQLitePath == "" {
			invalid("config: store.sqlite_path is required for sqlite")
		}
	case "qdrant":
		validPort("store.qdrant_port", c.Store.QdrantPort, invalid)
	}

	if c.Server.Listen != "" {
		if _, port, err := net.SplitHostPort(c.Server.Listen); err != nil {
			invalid("config: server.listen must be a valid host:port address, got %q", c.Server.Listen)
		} else if p, err := strconv.Atoi(port); err != nil || p < 0 || p > 65535 {
			invalid("config: server.listen port must be between 0 and 65535, got %q", port)
		}
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		invalid("config: tracing.sample_rate must be between 0 and 1, got %v", c.Tracing.SampleRate)
	}

	return problems
}

func validPort(field string, port int, invalid func(string, ...any)) {
	if port < 1 || port > 65535 {
		invalid("config: %s must be between 1 and 65535, got %d", field, port)
	}
}

// SourceImagesDir returns the directory the generation pass reads from:
// the test directory when testing is set, else the images directory.
func (c *Config) SourceImagesDir() (string, error) {
	dir := c.Paths.ImagesDir
	name := "IMAGES_DIR"
	if c.Paths.Testing {
		dir = c.Paths.TestImagesDir
		name = "TEST_IMAGES_DIR"
	}
	if dir == "" {
		return "", errs.Errorf(errs.CodeConfig, "no image directory configured; set %s", name)
	}
	return dir, nil
}
