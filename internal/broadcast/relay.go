package broadcast

import (
	"context"
	"errors"
	"sync"
	"time"

	"medslots/pkg/kafka"
	kafka_config "medslots/pkg/kafka/config"
	kafka_middleware "medslots/pkg/kafka/middleware"
	"medslots/pkg/logger"
	"medslots/pkg/metrics"
	"medslots/pkg/model"

	"github.com/google/uuid"
)

const (
	relaySource       = "medslots"
	relayWriteTimeout = 5 * time.Second
)

// Publisher is the subset of kafka.Producer the relay writes through.
type Publisher interface {
	Publish(ctx context.Context, msg kafka.Message) error
	Close() error
}

// KafkaRelay makes events published on one replica reach subscribers on
// every replica. Events go to a topic keyed by staff id and come back
// through a consumer group unique to this replica, which delivers them into
// the local broadcaster.
//
// Publish and Notify only enqueue. A single writer drains the queue, so
// events for one staff member reach the topic in order. When the queue is
// full, the relay is closed or a write fails, the event is delivered locally.
type KafkaRelay struct {
	local     *Broadcaster
	publisher Publisher
	consumer  *kafka.Consumer
	log       *logger.Logger

	mu       sync.RWMutex
	closed   bool
	outbound chan outboundEvent
	writer   sync.WaitGroup

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

type outboundEvent struct {
	event    model.SlotEvent
	fallback func()
}

func NewKafkaRelay(cfg *kafka_config.Config, topic string, queueSize int, local *Broadcaster, log *logger.Logger, mt *metrics.Metrics) (*KafkaRelay, error) {
	producer, err := kafka.NewProducer(cfg, topic, log.Component("relay"))
	if err != nil {
		return nil, err
	}

	r := NewRelay(local, producer, queueSize, log)

	groupID := "medslots-relay-" + uuid.NewString()
	consumer, err := kafka.NewConsumer(cfg, topic, groupID, r.HandleMessage, r.log)
	if err != nil {
		_ = r.Close()
		return nil, err
	}
	r.consumer = consumer

	if cfg.EnableMiddleware {
		producer.Use(kafka_middleware.LoggingProducerMiddleware(r.log))
		producer.Use(kafka_middleware.MetricsProducerMiddleware(mt))
		consumer.Use(kafka_middleware.LoggingConsumerMiddleware(r.log))
		consumer.Use(kafka_middleware.MetricsConsumerMiddleware(mt))
	}
	return r, nil
}

// NewRelay builds a relay around an existing publisher and starts its
// writer. Incoming messages are fed through HandleMessage.
func NewRelay(local *Broadcaster, publisher Publisher, queueSize int, log *logger.Logger) *KafkaRelay {
	if queueSize <= 0 {
		queueSize = 1
	}
	r := &KafkaRelay{
		local:     local,
		publisher: publisher,
		log:       log.Component("relay"),
		outbound:  make(chan outboundEvent, queueSize),
	}
	r.writer.Add(1)
	go r.drain()
	return r
}

// Start runs the consumer in the background until Close.
func (r *KafkaRelay) Start(ctx context.Context) {
	if r.consumer == nil {
		return
	}
	ctx, r.cancel = context.WithCancel(ctx)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.log.Error("Event relay consumer stopped", "error", err)
		}
	}()
	r.log.Info("Event relay started")
}

func (r *KafkaRelay) Publish(ctx context.Context, event model.SlotEvent) {
	ctx = context.WithoutCancel(ctx)
	r.enqueue(event, func() { r.local.Publish(ctx, event) })
}

func (r *KafkaRelay) Notify(ctx context.Context, recipient model.Holder, event model.SlotEvent) {
	ctx = context.WithoutCancel(ctx)
	event.Recipient = &recipient
	r.enqueue(event, func() { r.local.Notify(ctx, recipient, event) })
}

func (r *KafkaRelay) enqueue(event model.SlotEvent, fallback func()) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.closed {
		select {
		case r.outbound <- outboundEvent{event: event, fallback: fallback}:
			return
		default:
		}
	}
	r.log.Warn("Relay queue unavailable, delivering locally",
		"event_id", event.ID,
		"type", event.Kind,
		"staff_id", event.StaffID,
	)
	fallback()
}

func (r *KafkaRelay) drain() {
	defer r.writer.Done()
	for out := range r.outbound {
		r.write(out)
	}
}

func (r *KafkaRelay) write(out outboundEvent) {
	event := out.event
	msg, err := kafka.NewMessage().
		WithKey(event.StaffID).
		WithValue(event).
		WithEventID(event.ID).
		WithEventType(string(event.Kind)).
		WithSource(relaySource).
		Build()
	if err == nil {
		ctx, cancel := context.WithTimeout(context.Background(), relayWriteTimeout)
		err = r.publisher.Publish(ctx, msg)
		cancel()
	}
	if err != nil {
		r.log.Warn("Relaying event failed, delivering locally",
			"event_id", event.ID,
			"type", event.Kind,
			"staff_id", event.StaffID,
			"error", err,
		)
		out.fallback()
	}
}

// HandleMessage delivers a relayed event into the local broadcaster.
func (r *KafkaRelay) HandleMessage(ctx context.Context, msg kafka.Message) error {
	if source := msg.GetSource(); source != relaySource {
		r.log.Debug("Ignoring message from another producer", "source", source, "key", msg.Key)
		return nil
	}

	var event model.SlotEvent
	if err := msg.DecodeValue(&event); err != nil {
		return err
	}
	if event.Recipient != nil {
		r.local.Notify(ctx, *event.Recipient, event)
		return nil
	}
	r.local.Publish(ctx, event)
	return nil
}

// Close stops the consumer, flushes queued events and closes the producer.
func (r *KafkaRelay) Close() error {
	if r.cancel != nil {
		r.cancel()
	}
	var err error
	if r.consumer != nil {
		err = r.consumer.Close()
	}
	r.wg.Wait()

	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.outbound)
	}
	r.mu.Unlock()
	r.writer.Wait()

	if perr := r.publisher.Close(); err == nil {
		err = perr
	}
	return err
}
