package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"medslots/pkg/client"
	"medslots/pkg/logger"
)

var (
	timeRegex  = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]$`)
	mongoRegex = regexp.MustCompile(`^mongodb(\+srv)?://`)
)

type Config struct {
	MongoURI          string
	MongoDatabaseName string
	MongoConnTimeout  time.Duration
	StoreBackend      string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	Port           string
	MetricsEnabled bool

	RateLimitRequests int
	RateLimitWindow   time.Duration

	RequestTimeout time.Duration
	IdempotencyTTL time.Duration
	MaxRequestSize int

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	LockTTL          time.Duration
	ReaperInterval   time.Duration
	ReaperBatchSize  int
	SnapshotInterval time.Duration
	SubscriberBuffer int

	CalendarFile       string
	DefaultStartOfDay  string
	DefaultEndOfDay    string
	DefaultSlotMinutes int
	DefaultWorkingDays []string

	EventsRelayEnabled bool
	EventsTopic        string
	EventsRelayQueue   int

	Log    *logger.Logger
	Client *client.Client
}

func Load(serviceName string) *Config {
	cfg := &Config{
		MongoURI:          getEnvStr(EnvMongoURI, DefaultMongoURI),
		MongoDatabaseName: getEnvStr(EnvMongoDatabaseName, DefaultMongoDatabaseName),
		MongoConnTimeout:  getEnvDuration(EnvMongoConnTimeout, DefaultMongoConnTimeout),
		StoreBackend:      strings.ToLower(getEnvStr(EnvStoreBackend, DefaultStoreBackend)),

		RedisAddr:     getEnvStr(EnvRedisAddr, ""),
		RedisPassword: getEnvStr(EnvRedisPassword, ""),
		RedisDB:       getEnvNum(EnvRedisDB, DefaultRedisDB),

		Port:           getEnvStr(EnvPort, DefaultPort),
		MetricsEnabled: getEnvBool(EnvMetricsEnabled, DefaultMetricsEnabled),

		RateLimitRequests: getEnvNum(EnvRateLimitRequests, DefaultRateLimitRequests),
		RateLimitWindow:   getEnvDuration(EnvRateLimitWindow, DefaultRateLimitWindow),

		RequestTimeout: getEnvDuration(EnvRequestTimeout, DefaultRequestTimeout),
		IdempotencyTTL: getEnvDuration(EnvIdempotencyTTL, DefaultIdempotencyTTL),
		MaxRequestSize: getEnvNum(EnvMaxRequestSize, DefaultMaxRequestSize),

		ReadTimeout:     getEnvDuration(EnvReadTimeout, DefaultReadTimeout),
		WriteTimeout:    getEnvDuration(EnvWriteTimeout, DefaultWriteTimeout),
		IdleTimeout:     getEnvDuration(EnvIdleTimeout, DefaultIdleTimeout),
		ShutdownTimeout: getEnvDuration(EnvShutdownTimeout, DefaultShutdownTimeout),

		LockTTL:          getEnvDuration(EnvLockTTL, DefaultLockTTL),
		ReaperInterval:   getEnvDuration(EnvReaperInterval, DefaultReaperInterval),
		ReaperBatchSize:  getEnvNum(EnvReaperBatchSize, DefaultReaperBatchSize),
		SnapshotInterval: getEnvDuration(EnvSnapshotInterval, DefaultSnapshotInterval),
		SubscriberBuffer: getEnvNum(EnvSubscriberBuffer, DefaultSubscriberBuffer),

		CalendarFile:       getEnvStr(EnvCalendarFile, ""),
		DefaultStartOfDay:  getEnvStr(EnvDefaultStartOfDay, DefaultStartOfDay),
		DefaultEndOfDay:    getEnvStr(EnvDefaultEndOfDay, DefaultEndOfDay),
		DefaultSlotMinutes: getEnvNum(EnvDefaultSlotMinutes, DefaultSlotMinutes),
		DefaultWorkingDays: getEnvList(EnvDefaultWorkingDays, DefaultWorkingDays),

		EventsRelayEnabled: getEnvBool(EnvEventsRelayEnabled, DefaultEventsRelayEnabled),
		EventsTopic:        getEnvStr(EnvEventsTopic, DefaultEventsTopic),
		EventsRelayQueue:   getEnvNum(EnvEventsRelayQueue, DefaultEventsRelayQueue),

		Log: logger.New(logger.Config{
			Level:     getEnvStr(EnvLogLevel, DefaultLogLevel),
			Format:    logger.JSON,
			AddSource: true,
			Service:   serviceName,
		}),
		Client: client.NewClient(),
	}

	if err := cfg.Validate(); err != nil {
		cfg.Log.Fatal(err.Error())
	}
	cfg.LogConfiguration()
	return cfg
}

func (cfg *Config) UsesMongo() bool {
	return cfg.StoreBackend == BackendMongo
}

func (cfg *Config) SetMongo() {
	cfg.Client.SetMongo(cfg.Log, cfg.MongoURI, cfg.MongoConnTimeout)
}

func (cfg *Config) SetRedis() {
	if cfg.RedisAddr == "" {
		return
	}
	cfg.Client.SetRedis(cfg.Log, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.MongoConnTimeout)
}

func (cfg *Config) Validate() error {
	var errors []string

	if port, err := strconv.Atoi(cfg.Port); err != nil || port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("Port must be between 1 and 65535, got: %s", cfg.Port))
	}

	if cfg.StoreBackend != BackendMemory && cfg.StoreBackend != BackendMongo {
		errors = append(errors, fmt.Sprintf("StoreBackend must be one of [memory, mongo], got: %s", cfg.StoreBackend))
	}

	if cfg.StoreBackend == BackendMongo {
		if cfg.MongoURI == "" {
			errors = append(errors, "MongoURI cannot be empty")
		} else if !mongoRegex.MatchString(cfg.MongoURI) {
			errors = append(errors, fmt.Sprintf("MongoURI must start with 'mongodb://' or 'mongodb+srv://', got: %s", redactMongoURI(cfg.MongoURI)))
		}
		if cfg.MongoDatabaseName == "" {
			errors = append(errors, "MongoDatabaseName cannot be empty")
		}
	}

	if cfg.MongoConnTimeout <= 0 {
		errors = append(errors, fmt.Sprintf("MongoConnTimeout must be positive, got: %s", cfg.MongoConnTimeout))
	}
	if cfg.RateLimitWindow <= 0 {
		errors = append(errors, fmt.Sprintf("RateLimitWindow must be positive, got: %s", cfg.RateLimitWindow))
	}
	if cfg.RateLimitRequests <= 0 {
		errors = append(errors, fmt.Sprintf("RateLimitRequests must be positive, got: %d", cfg.RateLimitRequests))
	}
	if cfg.RequestTimeout <= 0 {
		errors = append(errors, fmt.Sprintf("RequestTimeout must be positive, got: %s", cfg.RequestTimeout))
	}
	if cfg.IdempotencyTTL <= 0 {
		errors = append(errors, fmt.Sprintf("IdempotencyTTL must be positive, got: %s", cfg.IdempotencyTTL))
	}
	if cfg.MaxRequestSize <= 0 {
		errors = append(errors, fmt.Sprintf("MaxRequestSize must be positive, got: %d", cfg.MaxRequestSize))
	}
	if cfg.ReadTimeout <= 0 {
		errors = append(errors, fmt.Sprintf("ReadTimeout must be positive, got: %s", cfg.ReadTimeout))
	}
	if cfg.IdleTimeout <= 0 {
		errors = append(errors, fmt.Sprintf("IdleTimeout must be positive, got: %s", cfg.IdleTimeout))
	}
	if cfg.ShutdownTimeout <= 0 {
		errors = append(errors, fmt.Sprintf("ShutdownTimeout must be positive, got: %s", cfg.ShutdownTimeout))
	}

	if cfg.LockTTL <= 0 {
		errors = append(errors, fmt.Sprintf("LockTTL must be positive, got: %s", cfg.LockTTL))
	}
	if cfg.ReaperInterval <= 0 {
		errors = append(errors, fmt.Sprintf("ReaperInterval must be positive, got: %s", cfg.ReaperInterval))
	} else if cfg.LockTTL > 0 && cfg.ReaperInterval >= cfg.LockTTL {
		errors = append(errors, fmt.Sprintf("ReaperInterval (%s) must be shorter than LockTTL (%s)", cfg.ReaperInterval, cfg.LockTTL))
	}
	if cfg.ReaperBatchSize <= 0 {
		errors = append(errors, fmt.Sprintf("ReaperBatchSize must be positive, got: %d", cfg.ReaperBatchSize))
	}
	if cfg.SnapshotInterval <= 0 {
		errors = append(errors, fmt.Sprintf("SnapshotInterval must be positive, got: %s", cfg.SnapshotInterval))
	}
	if cfg.SubscriberBuffer < 0 {
		errors = append(errors, fmt.Sprintf("SubscriberBuffer cannot be negative, got: %d", cfg.SubscriberBuffer))
	}

	if !timeRegex.MatchString(cfg.DefaultStartOfDay) {
		errors = append(errors, fmt.Sprintf("DefaultStartOfDay must be in HH:MM format (00:00-23:59), got: %s", cfg.DefaultStartOfDay))
	}
	if !timeRegex.MatchString(cfg.DefaultEndOfDay) {
		errors = append(errors, fmt.Sprintf("DefaultEndOfDay must be in HH:MM format (00:00-23:59), got: %s", cfg.DefaultEndOfDay))
	}
	if timeRegex.MatchString(cfg.DefaultStartOfDay) && timeRegex.MatchString(cfg.DefaultEndOfDay) &&
		cfg.DefaultEndOfDay <= cfg.DefaultStartOfDay {
		errors = append(errors, fmt.Sprintf("DefaultEndOfDay (%s) must be after DefaultStartOfDay (%s)", cfg.DefaultEndOfDay, cfg.DefaultStartOfDay))
	}
	if cfg.DefaultSlotMinutes <= 0 || cfg.DefaultSlotMinutes > 24*60 {
		errors = append(errors, fmt.Sprintf("DefaultSlotMinutes must be between 1 and 1440, got: %d", cfg.DefaultSlotMinutes))
	}

	if cfg.EventsRelayEnabled && cfg.EventsTopic == "" {
		errors = append(errors, "EventsTopic cannot be empty when the events relay is enabled")
	}
	if cfg.EventsRelayEnabled && cfg.EventsRelayQueue <= 0 {
		errors = append(errors, fmt.Sprintf("EventsRelayQueue must be positive, got: %d", cfg.EventsRelayQueue))
	}

	if len(errors) > 0 {
		errMsg := "Configuration validation failed:\n"
		for i, err := range errors {
			errMsg += fmt.Sprintf("  %d. %s\n", i+1, err)
		}
		return fmt.Errorf("%s", errMsg)
	}

	return nil
}

func (cfg *Config) LogConfiguration() {
	cfg.Log.Info("Configuration loaded successfully",
		"store_backend", cfg.StoreBackend,
		"mongo_uri", redactMongoURI(cfg.MongoURI),
		"mongo_database", cfg.MongoDatabaseName,
		"mongo_conn_timeout", cfg.MongoConnTimeout,
		"redis_set", cfg.RedisAddr != "",
		"port", cfg.Port,
		"metrics_enabled", cfg.MetricsEnabled,
		"rate_limit_requests", cfg.RateLimitRequests,
		"rate_limit_window", cfg.RateLimitWindow,
		"request_timeout", cfg.RequestTimeout,
		"idempotency_ttl", cfg.IdempotencyTTL,
		"max_request_size", cfg.MaxRequestSize,
		"read_timeout", cfg.ReadTimeout,
		"write_timeout", cfg.WriteTimeout,
		"idle_timeout", cfg.IdleTimeout,
		"shutdown_timeout", cfg.ShutdownTimeout,
		"lock_ttl", cfg.LockTTL,
		"reaper_interval", cfg.ReaperInterval,
		"reaper_batch_size", cfg.ReaperBatchSize,
		"snapshot_interval", cfg.SnapshotInterval,
		"subscriber_buffer", cfg.SubscriberBuffer,
		"calendar_file", cfg.CalendarFile,
		"default_start_of_day", cfg.DefaultStartOfDay,
		"default_end_of_day", cfg.DefaultEndOfDay,
		"default_slot_minutes", cfg.DefaultSlotMinutes,
		"default_working_days", cfg.DefaultWorkingDays,
		"events_relay_enabled", cfg.EventsRelayEnabled,
		"events_topic", cfg.EventsTopic,
		"events_relay_queue", cfg.EventsRelayQueue,
	)
}

func (cfg *Config) GracefulShutdown() {
	cfg.Client.GracefulShutdown(cfg.Log, cfg.ShutdownTimeout)
}

func redactMongoURI(uri string) string {
	credentialRegex := regexp.MustCompile(`(mongodb(\+srv)?://)[^:]+:[^@]+@`)
	return credentialRegex.ReplaceAllString(uri, "${1}***:***@")
}

func getEnvStr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvNum(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return append([]string(nil), fallback...)
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(strings.ToLower(part)); part != "" {
			out = append(out, part)
		}
	}
	return out
}
