// Package config loads the sync engine's runtime configuration from an
// optional YAML overlay and environment variables, with defaults for every
// field so the server can start against a freshly cloned workspace.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration object, one section per component.
type Config struct {
	Server         ServerConfig         `yaml:"server" json:"server"`
	VersionedStore VersionedStoreConfig `yaml:"versioned_store" json:"versioned_store"`
	VectorStore    VectorStoreConfig    `yaml:"vector_store" json:"vector_store"`
	Embedding      EmbeddingConfig      `yaml:"embedding" json:"embedding"`
	Chunking       ChunkingConfig       `yaml:"chunking" json:"chunking"`
	Logging        LoggingConfig        `yaml:"logging" json:"logging"`
	Locks          LocksConfig          `yaml:"locks" json:"locks"`
}

// ServerConfig names the tool façade exposed over stdio. Unlike the teacher,
// this server has no HTTP/WebSocket mode: the tool surface is stdio-only.
type ServerConfig struct {
	Name    string `yaml:"name" json:"name"`
	Version string `yaml:"version" json:"version"`
}

// VersionedStoreConfig locates the versioning CLI binary this process shells
// out to, and bounds how long the engine will wait on it.
type VersionedStoreConfig struct {
	BinaryPath         string `yaml:"binary_path" json:"binary_path"`
	WorkingDir         string `yaml:"working_dir" json:"working_dir"`
	ExecTimeoutSeconds int    `yaml:"exec_timeout_seconds" json:"exec_timeout_seconds"`
	KillDeadlineSeconds int   `yaml:"kill_deadline_seconds" json:"kill_deadline_seconds"`
	DefaultRemote      string `yaml:"default_remote" json:"default_remote"`
}

// VectorStoreConfig selects and configures the vector-store backend. Exactly
// one of Chroma/Qdrant is used at runtime, chosen by Backend.
type VectorStoreConfig struct {
	Backend string       `yaml:"backend" json:"backend"` // "chroma" or "qdrant"
	Chroma  ChromaConfig `yaml:"chroma" json:"chroma"`
	Qdrant  QdrantConfig `yaml:"qdrant" json:"qdrant"`
}

// ChromaConfig configures the HTTP-based Chroma backend.
type ChromaConfig struct {
	Endpoint       string       `yaml:"endpoint" json:"endpoint"`
	HealthCheck    bool         `yaml:"health_check" json:"health_check"`
	RetryAttempts  int          `yaml:"retry_attempts" json:"retry_attempts"`
	TimeoutSeconds int          `yaml:"timeout_seconds" json:"timeout_seconds"`
	Docker         DockerConfig `yaml:"docker" json:"docker"`
}

// QdrantConfig configures the gRPC-based Qdrant backend.
type QdrantConfig struct {
	Host       string `yaml:"host" json:"host"`
	Port       int    `yaml:"port" json:"port"`
	APIKey     string `yaml:"-" json:"-"`
	UseTLS     bool   `yaml:"use_tls" json:"use_tls"`
	VectorSize int    `yaml:"vector_size" json:"vector_size"`
}

// DockerConfig describes a locally managed container for a vector backend.
type DockerConfig struct {
	Enabled       bool   `yaml:"enabled" json:"enabled"`
	ContainerName string `yaml:"container_name" json:"container_name"`
	VolumePath    string `yaml:"volume_path" json:"volume_path"`
	Image         string `yaml:"image" json:"image"`
}

// EmbeddingConfig configures the embedding service used to populate new or
// changed chunks. The model string recorded here is the one sync-state
// compares against on every reconciliation.
type EmbeddingConfig struct {
	Provider       string        `yaml:"provider" json:"provider"` // "openai"
	APIKey         string        `yaml:"-" json:"-"`
	Model          string        `yaml:"model" json:"model"`
	BaseURL        string        `yaml:"base_url" json:"base_url"`
	TimeoutSeconds int           `yaml:"timeout_seconds" json:"timeout_seconds"`
	Dimensions     int           `yaml:"dimensions" json:"dimensions"`
	CacheSize      int           `yaml:"cache_size" json:"cache_size"`
	CacheTTL       time.Duration `yaml:"cache_ttl" json:"cache_ttl"`
	RateLimitRPM   int           `yaml:"rate_limit_rpm" json:"rate_limit_rpm"`
}

// ChunkingConfig holds the default sliding-window parameters a collection is
// created with; a collection registry entry may override these per §3.
type ChunkingConfig struct {
	Size    int `yaml:"size" json:"size"`
	Overlap int `yaml:"overlap" json:"overlap"`
}

// LoggingConfig holds the logging settings loaded from defaults and the
// environment. The server does not apply them to the structured logger.
type LoggingConfig struct {
	Level      string `yaml:"level" json:"level"`
	Format     string `yaml:"format" json:"format"`
	File       string `yaml:"file,omitempty" json:"file,omitempty"`
	MaxSize    int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`
	MaxAge     int    `yaml:"max_age_days" json:"max_age_days"`
}

// LocksConfig holds the lock wait timeout setting. It is loaded from defaults
// and the environment only: the lock manager does not read it, and a lock
// wait ends only when the operation's context is cancelled.
type LocksConfig struct {
	WaitTimeoutSeconds int `yaml:"wait_timeout_seconds" json:"wait_timeout_seconds"`
}

// DefaultConfig returns the configuration used when no overlay or environment
// variable overrides a field.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Name:    "vmrag-sync",
			Version: "0.1.0",
		},
		VersionedStore: VersionedStoreConfig{
			BinaryPath:          "dolt",
			WorkingDir:          "./data/versioned",
			ExecTimeoutSeconds:  30,
			KillDeadlineSeconds: 5,
			DefaultRemote:       "origin",
		},
		VectorStore: VectorStoreConfig{
			Backend: "chroma",
			Chroma: ChromaConfig{
				Endpoint:       "http://localhost:9000",
				HealthCheck:    true,
				RetryAttempts:  3,
				TimeoutSeconds: 30,
				Docker: DockerConfig{
					Enabled:       true,
					ContainerName: "vmrag-chroma",
					VolumePath:    "./data/chroma",
					Image:         "ghcr.io/chroma-core/chroma:latest",
				},
			},
			Qdrant: QdrantConfig{
				Host:       "localhost",
				Port:       6334,
				UseTLS:     false,
				VectorSize: 1536,
			},
		},
		Embedding: EmbeddingConfig{
			Provider:       "openai",
			Model:          "text-embedding-ada-002",
			BaseURL:        "https://api.openai.com/v1",
			TimeoutSeconds: 60,
			Dimensions:     1536,
			CacheSize:      1000,
			CacheTTL:       24 * time.Hour,
			RateLimitRPM:   60,
		},
		Chunking: ChunkingConfig{
			Size:    512,
			Overlap: 50,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     30,
		},
		Locks: LocksConfig{
			WaitTimeoutSeconds: 30,
		},
	}
}

// LoadConfig builds the effective configuration: defaults, then an optional
// YAML file overlay (config.yaml, or the path in CONFIG_FILE), then
// environment variable overrides, in that order, then validation.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("error loading .env file: %w", err)
	}

	cfg := DefaultConfig()

	if err := overlayYAML(cfg); err != nil {
		return nil, err
	}

	loadFromEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func overlayYAML(cfg *Config) error {
	path := os.Getenv("CONFIG_FILE")
	if path == "" {
		path = "config.yaml"
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func loadFromEnv(cfg *Config) {
	loadServerEnv(cfg)
	loadVersionedStoreEnv(cfg)
	loadVectorStoreEnv(cfg)
	loadEmbeddingEnv(cfg)
	loadChunkingEnv(cfg)
	loadLoggingEnv(cfg)
	loadLocksEnv(cfg)
}

func loadServerEnv(cfg *Config) {
	cfg.Server.Name = getStringEnvWithDefault("VMRAG_SERVER_NAME", cfg.Server.Name)
	cfg.Server.Version = getStringEnvWithDefault("VMRAG_SERVER_VERSION", cfg.Server.Version)
}

func loadVersionedStoreEnv(cfg *Config) {
	cfg.VersionedStore.BinaryPath = getStringEnvWithDefault("VMRAG_VCS_BINARY", cfg.VersionedStore.BinaryPath)
	cfg.VersionedStore.WorkingDir = getStringEnvWithDefault("VMRAG_VCS_WORKDIR", cfg.VersionedStore.WorkingDir)
	cfg.VersionedStore.ExecTimeoutSeconds = getIntEnvWithDefault("VMRAG_VCS_EXEC_TIMEOUT_SECONDS", cfg.VersionedStore.ExecTimeoutSeconds)
	cfg.VersionedStore.KillDeadlineSeconds = getIntEnvWithDefault("VMRAG_VCS_KILL_DEADLINE_SECONDS", cfg.VersionedStore.KillDeadlineSeconds)
	cfg.VersionedStore.DefaultRemote = getStringEnvWithDefault("VMRAG_VCS_DEFAULT_REMOTE", cfg.VersionedStore.DefaultRemote)
}

func loadVectorStoreEnv(cfg *Config) {
	cfg.VectorStore.Backend = getStringEnvWithDefault("VMRAG_VECTOR_BACKEND", cfg.VectorStore.Backend)

	cfg.VectorStore.Chroma.Endpoint = getStringEnvWithFallback("VMRAG_CHROMA_ENDPOINT", "CHROMA_ENDPOINT", cfg.VectorStore.Chroma.Endpoint)
	cfg.VectorStore.Chroma.HealthCheck = getBoolEnvWithDefault("VMRAG_CHROMA_HEALTH_CHECK", cfg.VectorStore.Chroma.HealthCheck)
	cfg.VectorStore.Chroma.RetryAttempts = getIntEnvWithDefault("VMRAG_CHROMA_RETRY_ATTEMPTS", cfg.VectorStore.Chroma.RetryAttempts)
	cfg.VectorStore.Chroma.TimeoutSeconds = getIntEnvWithDefault("VMRAG_CHROMA_TIMEOUT_SECONDS", cfg.VectorStore.Chroma.TimeoutSeconds)
	cfg.VectorStore.Chroma.Docker.Enabled = getBoolEnvWithDefault("VMRAG_CHROMA_DOCKER_ENABLED", cfg.VectorStore.Chroma.Docker.Enabled)
	cfg.VectorStore.Chroma.Docker.ContainerName = getStringEnvWithFallback("VMRAG_CHROMA_CONTAINER_NAME", "CHROMA_CONTAINER_NAME", cfg.VectorStore.Chroma.Docker.ContainerName)
	cfg.VectorStore.Chroma.Docker.VolumePath = getStringEnvWithFallback("VMRAG_CHROMA_VOLUME_PATH", "CHROMA_VOLUME_PATH", cfg.VectorStore.Chroma.Docker.VolumePath)
	cfg.VectorStore.Chroma.Docker.Image = getStringEnvWithDefault("VMRAG_CHROMA_IMAGE", cfg.VectorStore.Chroma.Docker.Image)

	cfg.VectorStore.Qdrant.Host = getStringEnvWithFallback("VMRAG_QDRANT_HOST", "QDRANT_HOST", cfg.VectorStore.Qdrant.Host)
	cfg.VectorStore.Qdrant.Port = getIntEnvWithFallback("VMRAG_QDRANT_PORT", "QDRANT_PORT", cfg.VectorStore.Qdrant.Port)
	cfg.VectorStore.Qdrant.APIKey = getStringEnvWithFallback("VMRAG_QDRANT_API_KEY", "QDRANT_API_KEY", cfg.VectorStore.Qdrant.APIKey)
	cfg.VectorStore.Qdrant.UseTLS = getBoolEnvWithFallback("VMRAG_QDRANT_USE_TLS", "QDRANT_USE_TLS", cfg.VectorStore.Qdrant.UseTLS)
	cfg.VectorStore.Qdrant.VectorSize = getIntEnvWithDefault("VMRAG_QDRANT_VECTOR_SIZE", cfg.VectorStore.Qdrant.VectorSize)
}

func loadEmbeddingEnv(cfg *Config) {
	cfg.Embedding.Provider = getStringEnvWithDefault("VMRAG_EMBEDDING_PROVIDER", cfg.Embedding.Provider)
	cfg.Embedding.APIKey = getStringEnvWithFallback("VMRAG_EMBEDDING_API_KEY", "OPENAI_API_KEY", cfg.Embedding.APIKey)
	cfg.Embedding.Model = getStringEnvWithFallback("VMRAG_EMBEDDING_MODEL", "OPENAI_EMBEDDING_MODEL", cfg.Embedding.Model)
	cfg.Embedding.BaseURL = getStringEnvWithDefault("VMRAG_EMBEDDING_BASE_URL", cfg.Embedding.BaseURL)
	cfg.Embedding.TimeoutSeconds = getIntEnvWithDefault("VMRAG_EMBEDDING_TIMEOUT_SECONDS", cfg.Embedding.TimeoutSeconds)
	cfg.Embedding.Dimensions = getIntEnvWithDefault("VMRAG_EMBEDDING_DIMENSIONS", cfg.Embedding.Dimensions)
	cfg.Embedding.CacheSize = getIntEnvWithDefault("VMRAG_EMBEDDING_CACHE_SIZE", cfg.Embedding.CacheSize)
	cfg.Embedding.RateLimitRPM = getIntEnvWithDefault("VMRAG_EMBEDDING_RATE_LIMIT_RPM", cfg.Embedding.RateLimitRPM)
	if ttl := os.Getenv("VMRAG_EMBEDDING_CACHE_TTL"); ttl != "" {
		if d, err := time.ParseDuration(ttl); err == nil {
			cfg.Embedding.CacheTTL = d
		}
	}
}

func loadChunkingEnv(cfg *Config) {
	cfg.Chunking.Size = getIntEnvWithDefault("VMRAG_CHUNK_SIZE", cfg.Chunking.Size)
	cfg.Chunking.Overlap = getIntEnvWithDefault("VMRAG_CHUNK_OVERLAP", cfg.Chunking.Overlap)
}

func loadLoggingEnv(cfg *Config) {
	cfg.Logging.Level = getStringEnvWithFallback("VMRAG_LOG_LEVEL", "LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getStringEnvWithFallback("VMRAG_LOG_FORMAT", "LOG_FORMAT", cfg.Logging.Format)
	cfg.Logging.File = getStringEnvWithFallback("VMRAG_LOG_FILE", "LOG_FILE", cfg.Logging.File)
	cfg.Logging.MaxSize = getIntEnvWithDefault("VMRAG_LOG_MAX_SIZE_MB", cfg.Logging.MaxSize)
	cfg.Logging.MaxBackups = getIntEnvWithDefault("VMRAG_LOG_MAX_BACKUPS", cfg.Logging.MaxBackups)
	cfg.Logging.MaxAge = getIntEnvWithDefault("VMRAG_LOG_MAX_AGE_DAYS", cfg.Logging.MaxAge)
}

func loadLocksEnv(cfg *Config) {
	cfg.Locks.WaitTimeoutSeconds = getIntEnvWithDefault("VMRAG_LOCK_WAIT_TIMEOUT_SECONDS", cfg.Locks.WaitTimeoutSeconds)
}

func getStringEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getStringEnvWithFallback(primaryKey, fallbackKey, defaultValue string) string {
	if value := os.Getenv(primaryKey); value != "" {
		return value
	}
	if value := os.Getenv(fallbackKey); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnvWithDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getIntEnvWithFallback(primaryKey, fallbackKey string, defaultValue int) int {
	if value := os.Getenv(primaryKey); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	if value := os.Getenv(fallbackKey); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getBoolEnvWithDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getBoolEnvWithFallback(primaryKey, fallbackKey string, defaultValue bool) bool {
	if value := os.Getenv(primaryKey); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	if value := os.Getenv(fallbackKey); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// Validate checks that every section of the configuration is well formed.
func (c *Config) Validate() error {
	if err := c.validateVersionedStore(); err != nil {
		return err
	}
	if err := c.validateVectorStore(); err != nil {
		return err
	}
	if err := c.validateEmbedding(); err != nil {
		return err
	}
	if err := c.validateChunking(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateVersionedStore() error {
	if c.VersionedStore.BinaryPath == "" {
		return errors.New("versioned store binary path cannot be empty")
	}
	if c.VersionedStore.WorkingDir == "" {
		return errors.New("versioned store working directory cannot be empty")
	}
	return nil
}

func (c *Config) validateVectorStore() error {
	switch c.VectorStore.Backend {
	case "chroma":
		if c.VectorStore.Chroma.Endpoint == "" {
			return errors.New("chroma endpoint cannot be empty")
		}
		if c.VectorStore.Chroma.Docker.Enabled && c.VectorStore.Chroma.Docker.ContainerName == "" {
			return errors.New("docker container name cannot be empty when docker is enabled")
		}
	case "qdrant":
		if c.VectorStore.Qdrant.Host == "" {
			return errors.New("qdrant host cannot be empty")
		}
		if c.VectorStore.Qdrant.Port <= 0 {
			return errors.New("qdrant port must be greater than 0")
		}
	default:
		return fmt.Errorf("unknown vector store backend: %q (want chroma or qdrant)", c.VectorStore.Backend)
	}
	return nil
}

func (c *Config) validateEmbedding() error {
	if c.Embedding.Model == "" {
		return errors.New("embedding model cannot be empty")
	}
	if c.Embedding.Provider == "openai" && c.Embedding.APIKey == "" {
		return errors.New("embedding API key is required for the openai provider")
	}
	return nil
}

func (c *Config) validateChunking() error {
	if c.Chunking.Size <= 0 {
		return errors.New("chunk size must be positive")
	}
	if c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.Size {
		return errors.New("chunk overlap must satisfy 0 <= overlap < size")
	}
	return nil
}

// DataDir returns the vector backend's local persistence directory,
// creating it if necessary.
func (c *Config) DataDir() (string, error) {
	dir := c.VectorStore.Chroma.Docker.VolumePath
	if dir == "" {
		dir = "./data"
	}
	absPath, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve data directory: %w", err)
	}
	if err := os.MkdirAll(absPath, 0o750); err != nil {
		return "", fmt.Errorf("create data directory: %w", err)
	}
	return absPath, nil
}
