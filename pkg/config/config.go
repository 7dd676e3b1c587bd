package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

var (
	once    sync.Once
	initErr error

	validate = validator.New(validator.WithRequiredStructEnabled())
)

// legacyEnv maps config keys to the bare environment variable names
// deployments already export.
var legacyEnv = map[string]string{
	"youtube.api_key":    "YOUTUBE_API_KEY",
	"generation.api_key": "RIFFUSION_API_KEY",
	"proxy.endpoints":    "PROXY_URL",
}

// Init initializes the configuration system
// This should be called once at application startup
func Init() error {
	once.Do(func() {
		initErr = load("./config/settings.yaml")
	})

	return initErr
}

func load(configPath string) error {
	if err := godotenv.Load(".env"); err != nil {
		log.Debug("No .env file found; using process environment")
	}

	setDefaults()

	viper.SetEnvPrefix("VIBEMATCH")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	for key, env := range legacyEnv {
		prefixed := "VIBEMATCH_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := viper.BindEnv(key, prefixed, env); err != nil {
			return fmt.Errorf("binding %s: %w", key, err)
		}
	}

	configPath = filepath.Clean(configPath)
	viper.SetConfigFile(configPath)

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !os.IsNotExist(err) && !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file %s: %w", configPath, err)
		}
	}

	cfg, err := GetConfig()
	if err != nil {
		return err
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	warnMissingCredentials(cfg)
	return nil
}

// GetConfig returns the current configuration as a struct
// Init() must be called before using this
func GetConfig() (*Config, error) {
	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// A single PROXY_URL arrives as a plain string; split on commas for lists.
	if len(config.Proxy.Endpoints) == 1 && strings.Contains(config.Proxy.Endpoints[0], ",") {
		config.Proxy.Endpoints = splitList(config.Proxy.Endpoints[0])
	}

	return &config, nil
}

// GetString returns a string config value
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value
func GetBool(key string) bool {
	return viper.GetBool(key)
}

// GetDuration returns a time.Duration config value
func GetDuration(key string) time.Duration {
	return viper.GetDuration(key)
}

// Validate checks struct constraints and corrects recoverable values
func (c *Config) Validate() error {
	if c.Processing.Workers <= 0 {
		c.Processing.Workers = 2
	}

	if c.Processing.MaxQueueSize <= 0 {
		c.Processing.MaxQueueSize = 100
	}

	if err := validate.Struct(c); err != nil {
		return err
	}

	if c.Storage.Backend == "minio" && (c.Storage.Minio.Endpoint == "" || c.Storage.Minio.Bucket == "") {
		return fmt.Errorf("storage.minio.endpoint and storage.minio.bucket are required for the minio backend")
	}

	if (c.Processing.Scheduler == "asynq" || c.Jobs.Backend == "redis") && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when using asynq or the redis job store")
	}

	if c.Processing.Scheduler == "asynq" && c.Jobs.Backend != "redis" {
		return fmt.Errorf("the asynq scheduler requires jobs.backend=redis so workers share job state")
	}

	return nil
}

// warnMissingCredentials logs absent API keys; requests that need them
// fail with a misconfiguration error instead of refusing to start.
func warnMissingCredentials(c *Config) {
	if c.YouTube.APIKey == "" {
		log.Warn("YouTube API key is not set; search is disabled")
	}
	if c.Generation.APIKey == "" {
		log.Warn("Generation API key is not set; generation jobs will fail")
	}
	if len(c.Proxy.Endpoints) == 0 {
		log.Info("No proxy endpoints configured; fetches go direct")
	}
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("environment", "development")

	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", 30*time.Second)
	viper.SetDefault("server.write_timeout", 2*time.Minute)
	viper.SetDefault("server.shutdown_timeout", 10*time.Second)
	viper.SetDefault("server.max_header_bytes", 1048576)

	// Database defaults
	viper.SetDefault("database.path", "./data/vibematch.db")
	viper.SetDefault("database.verbose", false)

	// Redis defaults
	viper.SetDefault("redis.addr", "")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	// Storage defaults
	viper.SetDefault("storage.backend", "filesystem")
	viper.SetDefault("storage.cache_dir", "./audio_cache")
	viper.SetDefault("storage.temp_dir", "./tmp")
	viper.SetDefault("storage.max_temp_age", 1*time.Hour)
	viper.SetDefault("storage.cleanup_interval", 15*time.Minute)
	viper.SetDefault("storage.minio.endpoint", "")
	viper.SetDefault("storage.minio.access_key", "")
	viper.SetDefault("storage.minio.secret_key", "")
	viper.SetDefault("storage.minio.bucket", "audio-cache")
	viper.SetDefault("storage.minio.use_ssl", false)

	// Proxy defaults
	viper.SetDefault("proxy.endpoints", []string{})
	viper.SetDefault("proxy.probe_url", "https://www.youtube.com/generate_204")
	viper.SetDefault("proxy.probe_timeout", 5*time.Second)
	viper.SetDefault("proxy.health_interval", 10*time.Minute)

	// Acquisition defaults
	viper.SetDefault("acquisition.ytdlp_path", "yt-dlp")
	viper.SetDefault("acquisition.format", "bestaudio[ext=m4a]/bestaudio[ext=webm]/bestaudio/best")
	viper.SetDefault("acquisition.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")
	viper.SetDefault("acquisition.geo_bypass_country", "US")
	viper.SetDefault("acquisition.client_profiles", []string{"android_tv", "ios", "android_creator"})
	viper.SetDefault("acquisition.direct_profile", "android_tv")
	viper.SetDefault("acquisition.max_proxy_attempts", 3)
	viper.SetDefault("acquisition.attempt_timeout", 45*time.Second)
	viper.SetDefault("acquisition.socket_timeout", 10*time.Second)
	viper.SetDefault("acquisition.max_retries", 1)
	viper.SetDefault("acquisition.bot_cooldown", 3*time.Second)

	// YouTube Data API defaults
	viper.SetDefault("youtube.api_key", "")
	viper.SetDefault("youtube.base_url", "https://www.googleapis.com")
	viper.SetDefault("youtube.timeout", 10*time.Second)
	viper.SetDefault("youtube.requests_per_second", 5.0)
	viper.SetDefault("youtube.burst", 10)
	viper.SetDefault("youtube.search_ttl", 1*time.Hour)

	// Generation API defaults
	viper.SetDefault("generation.api_key", "")
	viper.SetDefault("generation.base_url", "https://riffusionapi.com")
	viper.SetDefault("generation.request_timeout", 30*time.Second)
	viper.SetDefault("generation.poll_interval", 5*time.Second)
	viper.SetDefault("generation.budget", 5*time.Minute)
	viper.SetDefault("generation.max_artifact_mb", 50)

	// Processing defaults
	viper.SetDefault("processing.scheduler", "inprocess")
	viper.SetDefault("processing.workers", 2)
	viper.SetDefault("processing.max_queue_size", 100)

	// Job store defaults
	viper.SetDefault("jobs.backend", "database")
	viper.SetDefault("jobs.stale_after", 10*time.Minute)
	viper.SetDefault("jobs.retention", 7*24*time.Hour)

	// Cache defaults
	viper.SetDefault("cache.memory.default_ttl", 10*time.Minute)
	viper.SetDefault("cache.memory.cleanup_interval", 1*time.Minute)
	viper.SetDefault("cache.memory.max_entries", 1000)

	// Rate limiting defaults
	viper.SetDefault("rate_limiting.enabled", true)
	viper.SetDefault("rate_limiting.endpoints", map[string]int{
		"search":      5,
		"media":       2,
		"generations": 1,
		"default":     10,
	})

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "text")
}
