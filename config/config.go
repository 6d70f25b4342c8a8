package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	AWS      AWSConfig
	Presence PresenceConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	ShutdownTimeout    int
	CORSAllowedOrigins string // comma-separated, or "*" for all (e.g. http://localhost:3000,http://localhost:3001)
	InstanceID         string // identifies this process in broadcasts; defaults to the hostname
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is (e.g. postgres://localhost:5432/jobportal?sslmode=disable)
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int32
	MinConns int32
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

// JWTConfig holds JWT signing and validation settings.
type JWTConfig struct {
	Secret      string
	ExpireHours int
	BcryptCost  int // password hashing cost; stored hashes at another cost are upgraded on login
}

// AWSConfig holds AWS credentials and the export bucket.
type AWSConfig struct {
	Region               string
	AccessKeyID          string
	SecretAccessKey      string
	ExportBucket         string
	PresignExpireMinutes int
}

// PresenceConfig tunes the presence tracker, roster and stale-session sweeper.
// Every field can be overridden by the YAML file named in CONFIG_FILE.
type PresenceConfig struct {
	PersistTimeout time.Duration `yaml:"persist_timeout"`
	RosterLimit    int           `yaml:"roster_limit"`
	StaleAfter     time.Duration `yaml:"stale_after"`
	SweepInterval  time.Duration `yaml:"sweep_interval"`
	SweepBatch     int           `yaml:"sweep_batch"`
	StatusTTL      time.Duration `yaml:"status_ttl"`
	Channel        string        `yaml:"channel"`
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file and YAML presence overlay.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	hostname, _ := os.Hostname()

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 30),
			ShutdownTimeout:    getEnvInt("SHUTDOWN_TIMEOUT_SEC", 15),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:3001"),
			InstanceID:         getEnv("INSTANCE_ID", hostname),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "jobportal"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: int32(getEnvInt("DB_MAX_CONNS", 0)),
			MinConns: int32(getEnvInt("DB_MIN_CONNS", 0)),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 0),
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", "change-me-in-production"),
			ExpireHours: getEnvInt("JWT_EXPIRE_HOURS", 24),
			BcryptCost:  getEnvInt("BCRYPT_COST", 10),
		},
		AWS: AWSConfig{
			Region:               getEnv("AWS_REGION", "us-east-1"),
			AccessKeyID:          getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
			ExportBucket:         getEnv("AWS_S3_EXPORT_BUCKET", "jobportal-activity-exports"),
			PresignExpireMinutes: getEnvInt("AWS_PRESIGN_EXPIRE_MINUTES", 15),
		},
		Presence: PresenceConfig{
			PersistTimeout: time.Duration(getEnvInt("PRESENCE_PERSIST_TIMEOUT_SEC", 5)) * time.Second,
			RosterLimit:    getEnvInt("PRESENCE_ROSTER_LIMIT", 200),
			StaleAfter:     time.Duration(getEnvInt("PRESENCE_STALE_AFTER_MIN", 30)) * time.Minute,
			SweepInterval:  time.Duration(getEnvInt("PRESENCE_SWEEP_INTERVAL_SEC", 60)) * time.Second,
			SweepBatch:     getEnvInt("PRESENCE_SWEEP_BATCH", 100),
			StatusTTL:      time.Duration(getEnvInt("PRESENCE_STATUS_TTL_HOURS", 24)) * time.Hour,
			Channel:        getEnv("PRESENCE_CHANNEL", "presence:admins"),
		},
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.Presence.overlay(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.Presence.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// presenceFile is the YAML document shape: a top-level presence key.
type presenceFile struct {
	Presence PresenceConfig `yaml:"presence"`
}

// overlay replaces fields set in the YAML file at path. Zero values in the file leave the field unchanged.
func (p *PresenceConfig) overlay(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	var doc presenceFile
	if err := yaml.NewDecoder(f).Decode(&doc); err != nil {
		return fmt.Errorf("decode config file %s: %w", path, err)
	}
	o := doc.Presence
	if o.PersistTimeout > 0 {
		p.PersistTimeout = o.PersistTimeout
	}
	if o.RosterLimit > 0 {
		p.RosterLimit = o.RosterLimit
	}
	if o.StaleAfter > 0 {
		p.StaleAfter = o.StaleAfter
	}
	if o.SweepInterval > 0 {
		p.SweepInterval = o.SweepInterval
	}
	if o.SweepBatch > 0 {
		p.SweepBatch = o.SweepBatch
	}
	if o.StatusTTL > 0 {
		p.StatusTTL = o.StatusTTL
	}
	if o.Channel != "" {
		p.Channel = o.Channel
	}
	return nil
}

func (p PresenceConfig) validate() error {
	switch {
	case p.PersistTimeout <= 0:
		return fmt.Errorf("presence: persist timeout must be positive")
	case p.RosterLimit <= 0:
		return fmt.Errorf("presence: roster limit must be positive")
	case p.StaleAfter <= 0 || p.SweepInterval <= 0:
		return fmt.Errorf("presence: stale-after and sweep interval must be positive")
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

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
