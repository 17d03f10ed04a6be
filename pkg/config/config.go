package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	CORS     CORSConfig
	Log      LogConfig
	Schedule ScheduleConfig
	Locks    LocksConfig
	Events   EventsConfig
	Store    StoreConfig
	Cache    CacheConfig
	Audit    AuditConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// ScheduleConfig bounds the week/day/period arguments accepted by mutations.
type ScheduleConfig struct {
	TermWeeks        int
	DaysPerWeek      int
	DayLength        time.Duration
	UnitDuration     time.Duration
	EnforceUnitLimit bool
}

// PeriodsPerDay derives how many teaching units fit into a day.
func (c ScheduleConfig) PeriodsPerDay() int {
	if c.UnitDuration <= 0 || c.DayLength <= 0 {
		return 0
	}
	return int(c.DayLength / c.UnitDuration)
}

// LocksConfig tunes the orphan lock sweeper.
type LocksConfig struct {
	SweepInterval time.Duration
}

// EventsConfig tunes session event delivery.
type EventsConfig struct {
	BufferSize          int
	Heartbeat           time.Duration
	ConfirmationTimeout time.Duration
}

// StoreConfig selects the schedule store backend.
type StoreConfig struct {
	Driver          string
	CatalogSeedFile string
	AutoMigrate     bool
}

// CacheConfig governs Redis caching of catalog and view payloads.
type CacheConfig struct {
	Enabled    bool
	CatalogTTL time.Duration
	ViewTTL    time.Duration
}

// AuditConfig controls the asynchronous audit trail writer.
type AuditConfig struct {
	Enabled bool
	Workers int
	Retries int
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !isMissingFile(err) {
			return nil, err
		}
	}

	return fromViper(v), nil
}

func fromViper(v *viper.Viper) *Config {
	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{Secret: v.GetString("JWT_SECRET")}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Schedule = ScheduleConfig{
		TermWeeks:        v.GetInt("TERM_WEEKS"),
		DaysPerWeek:      v.GetInt("DAYS_PER_WEEK"),
		DayLength:        parseDuration(v.GetString("SCHEDULE_DAY_LENGTH"), 12*time.Hour),
		UnitDuration:     parseDuration(v.GetString("SCHEDULE_UNIT_DURATION"), 90*time.Minute),
		EnforceUnitLimit: v.GetBool("ENFORCE_UNIT_LIMIT"),
	}

	cfg.Locks = LocksConfig{
		SweepInterval: parseDuration(v.GetString("LOCK_SWEEP_INTERVAL"), 30*time.Second),
	}

	cfg.Events = EventsConfig{
		BufferSize:          v.GetInt("EVENTS_BUFFER_SIZE"),
		Heartbeat:           parseDuration(v.GetString("EVENTS_HEARTBEAT"), 20*time.Second),
		ConfirmationTimeout: parseDuration(v.GetString("CONFIRMATION_TIMEOUT"), 15*time.Second),
	}

	cfg.Store = StoreConfig{
		Driver:          strings.ToLower(v.GetString("STORE_DRIVER")),
		CatalogSeedFile: v.GetString("CATALOG_SEED_FILE"),
		AutoMigrate:     v.GetBool("AUTO_MIGRATE"),
	}

	cfg.Cache = CacheConfig{
		Enabled:    v.GetBool("ENABLE_CACHE"),
		CatalogTTL: parseDuration(v.GetString("CATALOG_CACHE_TTL"), 10*time.Minute),
		ViewTTL:    parseDuration(v.GetString("VIEW_CACHE_TTL"), time.Minute),
	}

	cfg.Audit = AuditConfig{
		Enabled: v.GetBool("ENABLE_AUDIT"),
		Workers: v.GetInt("AUDIT_WORKERS"),
		Retries: v.GetInt("AUDIT_RETRIES"),
	}

	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "timetable")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("TERM_WEEKS", 15)
	v.SetDefault("DAYS_PER_WEEK", 5)
	v.SetDefault("SCHEDULE_DAY_LENGTH", "12h")
	v.SetDefault("SCHEDULE_UNIT_DURATION", "90m")
	v.SetDefault("ENFORCE_UNIT_LIMIT", true)

	v.SetDefault("LOCK_SWEEP_INTERVAL", "30s")

	v.SetDefault("EVENTS_BUFFER_SIZE", 256)
	v.SetDefault("EVENTS_HEARTBEAT", "20s")
	v.SetDefault("CONFIRMATION_TIMEOUT", "15s")

	v.SetDefault("STORE_DRIVER", StoreDriverPostgres)
	v.SetDefault("CATALOG_SEED_FILE", "")
	v.SetDefault("AUTO_MIGRATE", false)

	v.SetDefault("ENABLE_CACHE", false)
	v.SetDefault("CATALOG_CACHE_TTL", "10m")
	v.SetDefault("VIEW_CACHE_TTL", "1m")

	v.SetDefault("ENABLE_AUDIT", false)
	v.SetDefault("AUDIT_WORKERS", 1)
	v.SetDefault("AUDIT_RETRIES", 3)
}

func isMissingFile(err error) bool {
	return strings.Contains(err.Error(), "no such file or directory")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
