package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultRunTimeout = 10 * time.Minute
	DefaultStaleDays  = 45
)

type Config struct {
	Database DatabaseConfig
	Validity ValidityConfig
	Telegram TelegramConfig
	Admin    AdminConfig
	LogPath  string
	LogLevel string
	Sources  map[string]*SourceConfig
}

type DatabaseConfig struct {
	URL string
}

type ValidityConfig struct {
	// HistoricalCutoff: anything published before this date is archived.
	HistoricalCutoff time.Time
	// StaleDays: a listing with no opening date older than this is presumed expired.
	StaleDays int
}

type TelegramConfig struct {
	BotToken string
	ChatID   string
}

type AdminConfig struct {
	ListenAddr string
}

// SourceConfig describes one government source: where to fetch, how to
// parse, and when to run.
type SourceConfig struct {
	Name           string `yaml:"name"`
	URL            string `yaml:"url"`
	Cron           string `yaml:"cron"` // 5-field cron expression
	Handler        string `yaml:"handler"`
	Active         bool   `yaml:"active"`
	Jurisdiction   string `yaml:"jurisdiction"`
	Family         string `yaml:"family"`          // sources sharing a listing-number namespace
	TimeoutMinutes int    `yaml:"timeout_minutes"` // 0 means the default run timeout
	ManualCuration bool   `yaml:"manual_curation"` // suppress new-listing notifications
	RateLimitMS    int    `yaml:"rate_limit_ms"`

	Channels  map[string]string `yaml:"channels"`  // channel name -> URL template
	Selectors map[string]string `yaml:"selectors"` // CSS selectors for the HTML handler
}

// RunTimeout returns the per-run wall-clock bound for this source.
func (s *SourceConfig) RunTimeout() time.Duration {
	if s.TimeoutMinutes > 0 {
		return time.Duration(s.TimeoutMinutes) * time.Minute
	}
	return DefaultRunTimeout
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Database: DatabaseConfig{
			URL: os.Getenv("DATABASE_URL"),
		},
		Validity: ValidityConfig{
			HistoricalCutoff: getEnvDate("VALIDITY_CUTOFF", time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC)),
			StaleDays:        getEnvInt("VALIDITY_STALE_DAYS", DefaultStaleDays),
		},
		Telegram: TelegramConfig{
			BotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
			ChatID:   os.Getenv("TELEGRAM_CHAT_ID"),
		},
		Admin: AdminConfig{
			ListenAddr: getEnv("ADMIN_ADDR", ":8090"),
		},
		LogPath:  getEnv("LOG_PATH", "daemon.log"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Sources:  make(map[string]*SourceConfig),
	}

	if err := cfg.loadSourceConfigs(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) loadSourceConfigs() error {
	configDir := getEnv("SOURCES_DIR", "config/sources")
	entries, err := os.ReadDir(configDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".yaml" {
			continue
		}

		path := filepath.Join(configDir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		var source SourceConfig
		if err := yaml.Unmarshal(data, &source); err != nil {
			return err
		}

		// Sources are keyed by file name: comprar.yaml -> "comprar".
		id := strings.TrimSuffix(entry.Name(), ".yaml")
		if source.Name == "" {
			source.Name = id
		}
		c.Sources[id] = &source
	}

	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvDate(key string, defaultVal time.Time) time.Time {
	if val := os.Getenv(key); val != "" {
		if t, err := time.Parse("2006-01-02", val); err == nil {
			return t
		}
	}
	return defaultVal
}
