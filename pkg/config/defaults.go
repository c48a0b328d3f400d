package config

import "time"

const (
	BackendMemory = "memory"
	BackendMongo  = "mongo"
)

const (
	DefaultMongoURI          = "mongodb://localhost:27017"
	DefaultMongoDatabaseName = "medslots"
	DefaultMongoConnTimeout  = 10 * time.Second
	DefaultStoreBackend      = BackendMemory

	DefaultRedisDB = 0

	DefaultPort           = "8080"
	DefaultLogLevel       = "info"
	DefaultMetricsEnabled = true

	DefaultRateLimitRequests = 30
	DefaultRateLimitWindow   = 1 * time.Minute

	DefaultRequestTimeout = 30 * time.Second
	DefaultIdempotencyTTL = 24 * time.Hour
	DefaultMaxRequestSize = 1 * 1024 * 1024 // 1MB

	DefaultReadTimeout     = 15 * time.Second
	DefaultWriteTimeout    = 15 * time.Second
	DefaultIdleTimeout     = 60 * time.Second
	DefaultShutdownTimeout = 30 * time.Second

	DefaultLockTTL          = 5 * time.Minute
	DefaultReaperInterval   = 15 * time.Second
	DefaultReaperBatchSize  = 500
	DefaultSnapshotInterval = 30 * time.Second
	DefaultSubscriberBuffer = 0 // unbounded

	DefaultStartOfDay  = "09:00"
	DefaultEndOfDay    = "17:00"
	DefaultSlotMinutes = 30

	DefaultEventsRelayEnabled = false
	DefaultEventsTopic        = "slot-events"
	DefaultEventsRelayQueue   = 1024
)

var DefaultWorkingDays = []string{"monday", "tuesday", "wednesday", "thursday", "friday"}
