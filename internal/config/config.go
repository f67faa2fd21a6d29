package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bryanwahyu/contract-review/internal/application/pipeline"
	"github.com/bryanwahyu/contract-review/internal/application/stage"
)

type Config struct {
	Server   ServerConfig      `yaml:"server"`
	Database DatabaseConfig    `yaml:"database"`
	Minio    MinioConfig       `yaml:"minio"`
	Redis    RedisConfig       `yaml:"redis"`
	OpenAI   OpenAIConfig      `yaml:"openai"`
	Pipeline pipeline.Config   `yaml:"pipeline"`
	Retry    stage.RetryConfig `yaml:"retry"`
	QA       QAConfig          `yaml:"qa"`
	Storage  StorageConfig     `yaml:"storage"`
	Auth     AuthConfig        `yaml:"auth"`
	Log      LogConfig         `yaml:"log"`
}

type ServerConfig struct {
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowedOrigins"`
	// RateLimit is requests per minute per tenant; 0 disables it.
	RateLimit int `yaml:"rateLimit"`
}

type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // mysql, postgres or none
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"sslMode"`
}

type MinioConfig struct {
	Endpoint   string        `yaml:"endpoint"`
	AccessKey  string        `yaml:"accessKey"`
	SecretKey  string        `yaml:"secretKey"`
	BucketName string        `yaml:"bucketName"`
	Region     string        `yaml:"region"`
	UseSSL     bool          `yaml:"useSSL"`
	PresignTTL time.Duration `yaml:"presignTTL"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type OpenAIConfig struct {
	APIKey    string        `yaml:"apiKey"`
	BaseURL   string        `yaml:"baseURL"`
	Model     string        `yaml:"model"`
	MaxTokens int           `yaml:"maxTokens"`
	Timeout   time.Duration `yaml:"timeout"`
}

type QAConfig struct {
	MaxTurns   int           `yaml:"maxTurns"`
	SessionTTL time.Duration `yaml:"sessionTTL"`
}

type StorageConfig struct {
	PlaybooksDir   string `yaml:"playbooksDir"`
	ReportsDir     string `yaml:"reportsDir"`
	MaxUploadBytes int64  `yaml:"maxUploadBytes"`
}

type AuthConfig struct {
	// APIKeys maps a tenant to its API key.
	APIKeys map[string]string `yaml:"apiKeys"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

// Load baca file config.yaml. A missing file yields the defaults so the
// CLIs run with nothing but OPENAI_API_KEY set.
func Load(path string) (*Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	cfg.applyDefaults()
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Path returns CONFIG_PATH or config.yaml.
func Path() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return "config.yaml"
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "none"
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.OpenAI.Model == "" {
		c.OpenAI.Model = "gpt-4o-mini"
	}
	if c.OpenAI.MaxTokens == 0 {
		c.OpenAI.MaxTokens = 4096
	}
	if c.OpenAI.Timeout == 0 {
		c.OpenAI.Timeout = 2 * time.Minute
	}

	def := pipeline.DefaultConfig()
	if c.Pipeline.WorkerCap == 0 {
		c.Pipeline.WorkerCap = def.WorkerCap
	}
	if c.Pipeline.ExtractionWorkers == 0 {
		c.Pipeline.ExtractionWorkers = def.ExtractionWorkers
	}

	rdef := stage.DefaultRetryConfig()
	if c.Retry.MaxRetries == 0 {
		c.Retry.MaxRetries = rdef.MaxRetries
	}
	if c.Retry.BaseBackoff == 0 {
		c.Retry.BaseBackoff = rdef.BaseBackoff
	}
	if c.Retry.MaxBackoff == 0 {
		c.Retry.MaxBackoff = rdef.MaxBackoff
	}

	if c.QA.MaxTurns == 0 {
		c.QA.MaxTurns = 6
	}
	if c.QA.SessionTTL == 0 {
		c.QA.SessionTTL = 24 * time.Hour
	}
	if c.Storage.PlaybooksDir == "" {
		c.Storage.PlaybooksDir = "data/playbooks"
	}
	if c.Storage.ReportsDir == "" {
		c.Storage.ReportsDir = "reports"
	}
	if c.Storage.MaxUploadBytes == 0 {
		c.Storage.MaxUploadBytes = 20 << 20
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// applyEnv lets secrets and the model endpoint come from the environment.
func (c *Config) applyEnv() error {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.OpenAI.APIKey = v
	}
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		c.OpenAI.BaseURL = v
	}
	if v := os.Getenv("OPENAI_MODEL"); v != "" {
		c.OpenAI.Model = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PORT: %w", err)
		}
		c.Server.Port = p
	}
	return nil
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "none", "mysql", "postgres":
	default:
		return fmt.Errorf("database.driver must be mysql, postgres or none, got %q", c.Database.Driver)
	}
	if c.Pipeline.WorkerCap < 1 {
		return fmt.Errorf("pipeline.workerCap must be at least 1")
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.maxRetries must not be negative")
	}
	return nil
}

// Helper untuk build DSN MySQL
func (c *Config) MySQLDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4&loc=UTC",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
	)
}

// PostgresDSN builds a lib/pq connection string.
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.Name,
		c.Database.SSLMode,
	)
}
