package kafka_config

import "time"

const (
	DefaultKafkaBrokers = "localhost:9092"

	// Producer defaults. Relay events are keyed by staff id, so the hash
	// balancer keeps one staff member's events on one partition.
	DefaultProducerMaxAttempts  = 3
	DefaultProducerBatchTimeout = 10 * time.Millisecond
	DefaultProducerRequireAcks  = 1
	DefaultProducerCompression  = "snappy"
	DefaultProducerAsync        = true

	// Consumer defaults
	DefaultConsumerStartOffset       = -1 // Newest messages
	DefaultConsumerMinBytes          = 1
	DefaultConsumerMaxBytes          = 1024 * 1024 // 1MB
	DefaultConsumerMaxWait           = 250 * time.Millisecond
	DefaultConsumerCommitInterval    = 1 * time.Second
	DefaultConsumerHeartbeatInterval = 3 * time.Second
	DefaultConsumerSessionTimeout    = 10 * time.Second
	DefaultConsumerRebalanceTimeout  = 30 * time.Second
	DefaultConsumerMaxRetries        = 2

	DefaultEnableMiddleware = true
)
