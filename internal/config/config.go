package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Storage  StorageConfig  `mapstructure:"storage"`
	ASR      ASRConfig      `mapstructure:"asr"`
	Parser   ParserConfig   `mapstructure:"parser"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Fallback FallbackConfig `mapstructure:"fallback"`
}

type ServerConfig struct {
	Port int        `mapstructure:"port"`
	Mode string     `mapstructure:"mode"`
	CORS CORSConfig `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	AllowAllOrigins bool     `mapstructure:"allow_all_origins"`
}

// DatabaseConfig selects the primary store. Driver is "sqlite" or "postgres".
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Path            string        `mapstructure:"path"`
	URL             string        `mapstructure:"url"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
	LogLevel        string        `mapstructure:"log_level"`
}

// DSN returns the connection string for the configured driver.
func (c *DatabaseConfig) DSN() string {
	switch c.Driver {
	case "postgres":
		if c.URL != "" {
			return c.URL
		}
		sslMode := c.SSLMode
		if sslMode == "" {
			sslMode = "disable"
		}
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.User, c.Password, c.DBName, sslMode)
	default:
		return c.Path
	}
}

// StorageConfig describes the bucket holding uploaded dictation audio.
type StorageConfig struct {
	Type         string        `mapstructure:"type"` // r2, s3, s3compatible; empty means auto-detect
	Endpoint     string        `mapstructure:"endpoint"`
	Region       string        `mapstructure:"region"`
	Bucket       string        `mapstructure:"bucket"`
	AccessKey    string        `mapstructure:"access_key"`
	SecretKey    string        `mapstructure:"secret_key"`
	UseSSL       bool          `mapstructure:"use_ssl"`
	SignedURLTTL time.Duration `mapstructure:"signed_url_ttl"`
}

// Configured reports whether signed audio URLs can be issued.
func (c *StorageConfig) Configured() bool {
	return c.Bucket != "" && c.AccessKey != "" && c.SecretKey != ""
}

type ASRConfig struct {
	BaseURL  string        `mapstructure:"base_url"`
	Model    string        `mapstructure:"model"`
	APIKey   string        `mapstructure:"api_key"`
	Language string        `mapstructure:"language"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Configured reports whether the hosted ASR provider can be called.
func (c *ASRConfig) Configured() bool {
	return c.APIKey != "" && c.BaseURL != ""
}

type ParserConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Model   string        `mapstructure:"model"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// Configured reports whether the clinical parser can be called.
func (c *ParserConfig) Configured() bool {
	return c.APIKey != "" && c.BaseURL != ""
}

type WorkerConfig struct {
	Once           bool          `mapstructure:"once"`
	Simulate       bool          `mapstructure:"simulate"`
	IntervalMs     int           `mapstructure:"interval_ms"`
	ErrorBackoffMs int           `mapstructure:"error_backoff_ms"`
	LeaseDuration  time.Duration `mapstructure:"lease_duration"`
	ClaimAttempts  int           `mapstructure:"claim_attempts"`
	ReplayInterval time.Duration `mapstructure:"replay_interval"`
}

// Interval returns the idle polling interval.
func (c *WorkerConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMs) * time.Millisecond
}

// ErrorBackoff returns the sleep applied after a queue error.
func (c *WorkerConfig) ErrorBackoff() time.Duration {
	return time.Duration(c.ErrorBackoffMs) * time.Millisecond
}

type FallbackConfig struct {
	Dir string `mapstructure:"dir"`
}

// Defaults returns a Config populated with the same defaults Load applies.
func Defaults() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.cors.allow_all_origins", true)
	v.SetDefault("server.cors.allowed_origins", []string{})

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/visitscribe.db")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("storage.region", "auto")
	v.SetDefault("storage.use_ssl", true)
	v.SetDefault("storage.signed_url_ttl", 15*time.Minute)

	v.SetDefault("asr.base_url", "")
	v.SetDefault("asr.model", "whisper-large-v3")
	v.SetDefault("asr.timeout", 120*time.Second)

	v.SetDefault("parser.base_url", "https://api.openai.com/v1")
	v.SetDefault("parser.model", "gpt-4o-mini")
	v.SetDefault("parser.timeout", 60*time.Second)

	v.SetDefault("worker.once", false)
	v.SetDefault("worker.simulate", false)
	v.SetDefault("worker.interval_ms", 5000)
	v.SetDefault("worker.error_backoff_ms", 10000)
	v.SetDefault("worker.lease_duration", 15*time.Minute)
	v.SetDefault("worker.claim_attempts", 5)
	v.SetDefault("worker.replay_interval", time.Minute)

	v.SetDefault("fallback.dir", "./data/fallback")
}

func Load(configPath string) (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Secrets and deployment-specific values
	v.BindEnv("database.driver", "DATABASE_DRIVER")
	v.BindEnv("database.url", "DATABASE_URL")
	v.BindEnv("database.password", "DATABASE_PASSWORD")
	v.BindEnv("storage.endpoint", "STORAGE_ENDPOINT")
	v.BindEnv("storage.bucket", "STORAGE_BUCKET")
	v.BindEnv("storage.access_key", "STORAGE_ACCESS_KEY")
	v.BindEnv("storage.secret_key", "STORAGE_SECRET_KEY")
	v.BindEnv("asr.api_key", "ASR_API_KEY")
	v.BindEnv("asr.base_url", "ASR_BASE_URL")
	v.BindEnv("asr.model", "ASR_MODEL")
	v.BindEnv("parser.api_key", "OPENAI_API_KEY")
	v.BindEnv("parser.base_url", "OPENAI_BASE_URL")
	v.BindEnv("parser.model", "PARSER_MODEL")
	v.BindEnv("fallback.dir", "FALLBACK_DIR")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks structural values. Missing provider credentials are not
// an error; the pipeline degrades to its local stub instead.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported database driver: %q", c.Database.Driver)
	}
	if c.Worker.IntervalMs <= 0 {
		return fmt.Errorf("worker.interval_ms must be positive, got %d", c.Worker.IntervalMs)
	}
	if c.Worker.ClaimAttempts <= 0 {
		return fmt.Errorf("worker.claim_attempts must be positive, got %d", c.Worker.ClaimAttempts)
	}
	if c.Worker.LeaseDuration <= 0 {
		return fmt.Errorf("worker.lease_duration must be positive, got %s", c.Worker.LeaseDuration)
	}
	if c.Worker.ReplayInterval <= 0 {
		return fmt.Errorf("worker.replay_interval must be positive, got %s", c.Worker.ReplayInterval)
	}
	if c.Fallback.Dir == "" {
		return fmt.Errorf("fallback.dir must be set")
	}
	return nil
}
