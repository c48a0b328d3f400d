package config

const (
	EnvMongoURI          = "MONGO_URI"
	EnvMongoDatabaseName = "MONGO_DATABASE_NAME"
	EnvMongoConnTimeout  = "MONGO_CONN_TIMEOUT"
	EnvStoreBackend      = "STORE_BACKEND"

	EnvRedisAddr     = "REDIS_ADDR"
	EnvRedisPassword = "REDIS_PASSWORD"
	EnvRedisDB       = "REDIS_DB"

	EnvPort           = "PORT"
	EnvLogLevel       = "LOG_LEVEL"
	EnvMetricsEnabled = "METRICS_ENABLED"

	EnvRateLimitRequests = "RATE_LIMIT_REQUESTS"
	EnvRateLimitWindow   = "RATE_LIMIT_WINDOW"

	EnvRequestTimeout = "REQUEST_TIMEOUT"
	EnvIdempotencyTTL = "IDEMPOTENCY_TTL"
	EnvMaxRequestSize = "MAX_REQUEST_SIZE"

	EnvReadTimeout     = "READ_TIMEOUT"
	EnvWriteTimeout    = "WRITE_TIMEOUT"
	EnvIdleTimeout     = "IDLE_TIMEOUT"
	EnvShutdownTimeout = "SHUTDOWN_TIMEOUT"

	EnvLockTTL          = "LOCK_TTL"
	EnvReaperInterval   = "REAPER_INTERVAL"
	EnvReaperBatchSize  = "REAPER_BATCH_SIZE"
	EnvSnapshotInterval = "SNAPSHOT_INTERVAL"
	EnvSubscriberBuffer = "SUBSCRIBER_BUFFER"

	EnvCalendarFile       = "CALENDAR_FILE"
	EnvDefaultStartOfDay  = "DEFAULT_START_OF_DAY"
	EnvDefaultEndOfDay    = "DEFAULT_END_OF_DAY"
	EnvDefaultSlotMinutes = "DEFAULT_SLOT_MINUTES"
	EnvDefaultWorkingDays = "DEFAULT_WORKING_DAYS"

	EnvEventsRelayEnabled = "EVENTS_RELAY_ENABLED"
	EnvEventsTopic        = "EVENTS_TOPIC"
	EnvEventsRelayQueue   = "EVENTS_RELAY_QUEUE"
)
