package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	yaml "go.yaml.in/yaml/v3"
)

const insecurePassword = "default_password_change_me"

type Server struct {
	Addr string `yaml:"addr"`
}

type Database struct {
	Driver string `yaml:"driver"`
	URL    string `yaml:"url"`
}

type Security struct {
	EncryptionPassword string  `yaml:"encryption_password"`
	JWTSecret          string  `yaml:"jwt_secret"`
	AllowedUsers       []int64 `yaml:"allowed_users"`
}

type Instagram struct {
	BridgeURL       string        `yaml:"bridge_url"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	RequestsPerHour int           `yaml:"requests_per_hour"`
	PostsPerDay     int           `yaml:"posts_per_day"`
	StoriesPerDay   int           `yaml:"stories_per_day"`
	ReelsPerDay     int           `yaml:"reels_per_day"`
}

type Media struct {
	Dir             string        `yaml:"dir"`
	MaxFileSize     int64         `yaml:"max_file_size"`
	MaxReelDuration time.Duration `yaml:"max_reel_duration"`
	AllowedPhoto    []string      `yaml:"allowed_photo"`
	AllowedVideo    []string      `yaml:"allowed_video"`
	FFProbe         string        `yaml:"ffprobe"`
}

type Scheduler struct {
	Interval          time.Duration `yaml:"interval"`
	MaxConcurrentJobs int           `yaml:"max_concurrent_jobs"`
	RetryDelay        time.Duration `yaml:"retry_delay"`
	MaxRetries        int           `yaml:"max_retries"`
	BatchSize         int           `yaml:"batch_size"`
	ClaimTTL          time.Duration `yaml:"claim_ttl"`
}

type Notifications struct {
	Enabled       bool    `yaml:"enabled"`
	Transport     string  `yaml:"transport"`
	TelegramToken string  `yaml:"telegram_token"`
	ChatIDs       []int64 `yaml:"chat_ids"`
	RedisURI      string  `yaml:"redis_uri"`
	Success       bool    `yaml:"success"`
	Errors        bool    `yaml:"errors"`
	WeeklyReports bool    `yaml:"weekly_reports"`
}

type R2 struct {
	AccountID  string `yaml:"account_id"`
	AccessKey  string `yaml:"access_key"`
	SecretKey  string `yaml:"secret_key"`
	BucketName string `yaml:"bucket_name"`
}

// Enabled reports whether enough is set to talk to the bucket.
func (r R2) Enabled() bool {
	return r.AccountID != "" && r.AccessKey != "" && r.SecretKey != "" && r.BucketName != ""
}

type Config struct {
	Server        Server        `yaml:"server"`
	Database      Database      `yaml:"database"`
	Security      Security      `yaml:"security"`
	Instagram     Instagram     `yaml:"instagram"`
	Media         Media         `yaml:"media"`
	Scheduler     Scheduler     `yaml:"scheduler"`
	Notifications Notifications `yaml:"notifications"`
	R2            R2            `yaml:"r2"`
}

func Default() *Config {
	return &Config{
		Server:   Server{Addr: ":3000"},
		Database: Database{Driver: "sqlite", URL: "data/postqueue.db"},
		Instagram: Instagram{
			RequestTimeout:  30 * time.Second,
			RequestsPerHour: 200,
			PostsPerDay:     50,
			StoriesPerDay:   100,
			ReelsPerDay:     20,
		},
		Media: Media{
			Dir:             "media",
			MaxFileSize:     50 * 1024 * 1024,
			MaxReelDuration: 60 * time.Second,
			AllowedPhoto:    []string{"jpg", "jpeg", "png", "webp"},
			AllowedVideo:    []string{"mp4", "mov", "avi"},
		},
		Scheduler: Scheduler{
			Interval:          10 * time.Second,
			MaxConcurrentJobs: 5,
			RetryDelay:        60 * time.Second,
			MaxRetries:        3,
			BatchSize:         100,
			ClaimTTL:          10 * time.Minute,
		},
		Notifications: Notifications{
			Transport:     "direct",
			Success:       true,
			Errors:        true,
			WeeklyReports: true,
		},
	}
}

// LoadConfig reads the optional YAML file named by CONFIG_FILE, then applies
// environment overrides.
func LoadConfig() (*Config, error) {
	cfg := Default()
	if path := getEnv("CONFIG_FILE", ""); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := decodeYAML(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeYAML(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.Server.Addr = getEnv("SERVER_ADDR", c.Server.Addr)
	c.Database.Driver = getEnv("DATABASE_DRIVER", c.Database.Driver)
	c.Database.URL = getEnv("DATABASE_URL", c.Database.URL)
	c.Security.EncryptionPassword = getEnv("ENCRYPTION_PASSWORD", c.Security.EncryptionPassword)
	c.Security.JWTSecret = getEnv("JWT_SECRET", c.Security.JWTSecret)
	c.Instagram.BridgeURL = getEnv("INSTAGRAM_BRIDGE_URL", c.Instagram.BridgeURL)
	c.Media.Dir = getEnv("MEDIA_DIR", c.Media.Dir)
	c.Media.FFProbe = getEnv("FFPROBE_PATH", c.Media.FFProbe)
	c.Notifications.Transport = getEnv("NOTIFY_TRANSPORT", c.Notifications.Transport)
	c.Notifications.TelegramToken = getEnv("TELEGRAM_TOKEN", c.Notifications.TelegramToken)
	c.Notifications.RedisURI = getEnv("REDIS_URI", c.Notifications.RedisURI)
	c.R2.AccountID = getEnv("R2_ACCOUNT_ID", c.R2.AccountID)
	c.R2.AccessKey = getEnv("R2_ACCESS_KEY", c.R2.AccessKey)
	c.R2.SecretKey = getEnv("R2_SECRET_KEY", c.R2.SecretKey)
	c.R2.BucketName = getEnv("R2_BUCKET_NAME", c.R2.BucketName)

	var err error
	if c.Security.AllowedUsers, err = getEnvInts("ALLOWED_USERS", c.Security.AllowedUsers); err != nil {
		return err
	}
	if c.Notifications.ChatIDs, err = getEnvInts("NOTIFY_CHAT_IDS", c.Notifications.ChatIDs); err != nil {
		return err
	}
	if c.Notifications.Enabled, err = getEnvBool("NOTIFY_ENABLED", c.Notifications.Enabled); err != nil {
		return err
	}
	if c.Scheduler.Interval, err = getEnvDuration("SCHEDULER_INTERVAL", c.Scheduler.Interval); err != nil {
		return err
	}
	if c.Scheduler.MaxRetries, err = getEnvInt("MAX_RETRIES", c.Scheduler.MaxRetries); err != nil {
		return err
	}
	if c.Scheduler.RetryDelay, err = getEnvDuration("RETRY_DELAY", c.Scheduler.RetryDelay); err != nil {
		return err
	}
	if c.Scheduler.MaxConcurrentJobs, err = getEnvInt("MAX_CONCURRENT_JOBS", c.Scheduler.MaxConcurrentJobs); err != nil {
		return err
	}
	if c.Scheduler.ClaimTTL, err = getEnvDuration("CLAIM_TTL", c.Scheduler.ClaimTTL); err != nil {
		return err
	}
	if c.Media.MaxReelDuration, err = getEnvDuration("MAX_REEL_DURATION", c.Media.MaxReelDuration); err != nil {
		return err
	}
	if c.Instagram.RequestTimeout, err = getEnvDuration("REQUEST_TIMEOUT", c.Instagram.RequestTimeout); err != nil {
		return err
	}
	return nil
}

// Validate rejects configurations the server must not start with.
func (c *Config) Validate() error {
	var problems []string
	if c.Security.EncryptionPassword == "" || c.Security.EncryptionPassword == insecurePassword {
		problems = append(problems, "ENCRYPTION_PASSWORD must be set to a non-default value")
	}
	if c.Security.JWTSecret == "" {
		problems = append(problems, "JWT_SECRET must be set")
	}
	if c.Instagram.BridgeURL == "" {
		problems = append(problems, "INSTAGRAM_BRIDGE_URL must be set")
	}
	if c.Scheduler.Interval <= 0 {
		problems = append(problems, "scheduler interval must be positive")
	}
	if c.Scheduler.MaxRetries < 1 {
		problems = append(problems, "max retries must be at least 1")
	}
	if c.Scheduler.MaxConcurrentJobs < 1 {
		problems = append(problems, "max concurrent jobs must be at least 1")
	}
	if c.Instagram.RequestTimeout <= 0 {
		problems = append(problems, "request timeout must be positive")
	}
	if c.Scheduler.ClaimTTL < 2*c.Instagram.RequestTimeout {
		problems = append(problems, "claim ttl must cover at least two request timeouts")
	}
	switch c.Notifications.Transport {
	case "direct":
	case "asynq":
		if c.Notifications.RedisURI == "" {
			problems = append(problems, "REDIS_URI is required for the asynq notification transport")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown notification transport %q", c.Notifications.Transport))
	}
	if c.Notifications.Enabled && c.Notifications.TelegramToken == "" {
		problems = append(problems, "TELEGRAM_TOKEN is required when notifications are enabled")
	}
	if len(problems) > 0 {
		return errors.New("invalid config: " + strings.Join(problems, "; "))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getEnvBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

// getEnvInts parses a comma separated list of ids.
func getEnvInts(key string, defaultValue []int64) ([]int64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	var out []int64
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		out = append(out, n)
	}
	return out, nil
}
