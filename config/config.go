package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server   ServerConfig
	Store    StoreConfig
	Redis    RedisConfig
	Archive  ArchiveConfig
	AWS      AWSConfig
	Tracker  TrackerConfig
	LogLevel string
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all (extension origins are chrome-extension://<id>)
	EmbeddedWorker     bool   // run the job worker inside the server process
}

// StoreConfig selects the persistent state store backend.
type StoreConfig struct {
	Driver      string // memory, file, redis
	FilePath    string // state file for the file driver
	RedisPrefix string // key prefix for the redis driver
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// ArchiveConfig selects where finalized sessions are archived. Empty driver disables archiving.
type ArchiveConfig struct {
	Driver     string // "", postgres, sqlite
	URL        string // if set, used as-is (e.g. postgres://localhost:5432/shorts?sslmode=disable)
	Host       string
	Port       string
	User       string
	Password   string
	DBName     string
	SSLMode    string
	SQLitePath string
}

// AWSConfig holds AWS credentials and the history backup bucket.
type AWSConfig struct {
	Region               string
	AccessKeyID          string
	SecretAccessKey      string
	BackupBucket         string
	PresignExpireMinutes int
}

// TrackerConfig holds session tracking policy knobs.
type TrackerConfig struct {
	Timezone           string        // "Local" or an IANA name; defines calendar-day boundaries
	SweepInterval      time.Duration // watchdog verify period; 0 disables
	BreakReminderEvery int           // videos per break reminder
	DecayStart         int           // videos before visual decay starts
	DecayMax           int           // videos at which decay is 100%
}

// DSN returns the PostgreSQL connection string.
// If ArchiveConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c ArchiveConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Location resolves the configured timezone.
func (c TrackerConfig) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	readTimeout, _ := strconv.Atoi(getEnv("READ_TIMEOUT_SEC", "30"))
	writeTimeout, _ := strconv.Atoi(getEnv("WRITE_TIMEOUT_SEC", "30"))
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        readTimeout,
			WriteTimeout:       writeTimeout,
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),
			EmbeddedWorker:     getEnvBool("EMBEDDED_WORKER", false),
		},
		Store: StoreConfig{
			Driver:      strings.ToLower(getEnv("STORE_DRIVER", "file")),
			FilePath:    getEnv("STORE_FILE", "data/state.json"),
			RedisPrefix: getEnv("STORE_REDIS_PREFIX", "shorts"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		Archive: ArchiveConfig{
			Driver:     strings.ToLower(getEnv("ARCHIVE_DRIVER", "")),
			URL:        getEnv("DATABASE_URL", ""),
			Host:       getEnv("DB_HOST", "localhost"),
			Port:       getEnv("DB_PORT", "5432"),
			User:       getEnv("DB_USER", "postgres"),
			Password:   getEnv("DB_PASSWORD", "postgres"),
			DBName:     getEnv("DB_NAME", "shorts"),
			SSLMode:    getEnv("DB_SSLMODE", "disable"),
			SQLitePath: getEnv("SQLITE_PATH", "data/archive.db"),
		},
		AWS: AWSConfig{
			Region:               getEnv("AWS_REGION", ""),
			AccessKeyID:          getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
			BackupBucket:         getEnv("AWS_S3_BACKUP_BUCKET", "shorts-counter-backups"),
			PresignExpireMinutes: getEnvInt("AWS_PRESIGN_EXPIRE_MINUTES", 15),
		},
		Tracker: TrackerConfig{
			Timezone:           getEnv("TRACKER_TIMEZONE", "Local"),
			SweepInterval:      getEnvDuration("WATCHDOG_SWEEP_INTERVAL", 30*time.Second),
			BreakReminderEvery: getEnvInt("BREAK_REMINDER_EVERY", 15),
			DecayStart:         getEnvInt("DECAY_START", 5),
			DecayMax:           getEnvInt("DECAY_MAX", 25),
		},
		LogLevel: strings.ToLower(getEnv("LOG_LEVEL", "info")),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks driver names and tracker policy values.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "memory", "file", "redis":
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q (want memory, file or redis)", c.Store.Driver)
	}
	switch c.Archive.Driver {
	case "", "postgres", "sqlite":
	default:
		return fmt.Errorf("unknown ARCHIVE_DRIVER %q (want postgres or sqlite)", c.Archive.Driver)
	}
	if c.Tracker.BreakReminderEvery <= 0 {
		return fmt.Errorf("BREAK_REMINDER_EVERY must be positive")
	}
	if c.Tracker.DecayMax <= c.Tracker.DecayStart {
		return fmt.Errorf("DECAY_MAX must be greater than DECAY_START")
	}
	if _, err := c.Tracker.Location(); err != nil {
		return err
	}
	return nil
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
