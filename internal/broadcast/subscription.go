package broadcast

import (
	"sync"

	"medslots/pkg/model"

	"github.com/google/uuid"
)

// Subscription is one subscriber's ordered event stream. Events are queued
// without blocking the publisher and pumped into Events() by a dedicated
// goroutine, so a slow reader only delays itself.
type Subscription struct {
	ID    string
	scope string
	key   string
	limit int

	mu     sync.Mutex
	queue  []model.SlotEvent
	closed bool

	signal    chan struct{}
	done      chan struct{}
	out       chan model.SlotEvent
	closeOnce sync.Once
	onClose   func(*Subscription)
}

func newSubscription(scope, key string, limit int, onClose func(*Subscription)) *Subscription {
	s := &Subscription{
		ID:      uuid.NewString(),
		scope:   scope,
		key:     key,
		limit:   limit,
		signal:  make(chan struct{}, 1),
		done:    make(chan struct{}),
		out:     make(chan model.SlotEvent),
		onClose: onClose,
	}
	go s.pump()
	return s
}

// Events is closed once the subscription ends, including when it was
// dropped for falling behind. Resubscribe and refetch the grid then.
func (s *Subscription) Events() <-chan model.SlotEvent {
	return s.out
}

// Done is closed when the subscription ends.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.queue = nil
		s.mu.Unlock()
		close(s.done)
		if s.onClose != nil {
			s.onClose(s)
		}
	})
}

// enqueue reports false when the subscription is closed or its queue is full.
func (s *Subscription) enqueue(event model.SlotEvent) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	if s.limit > 0 && len(s.queue) >= s.limit {
		s.mu.Unlock()
		return false
	}
	s.queue = append(s.queue, event)
	s.mu.Unlock()

	select {
	case s.signal <- struct{}{}:
	default:
	}
	return true
}

func (s *Subscription) pump() {
	defer close(s.out)

	for {
		select {
		case <-s.done:
			return
		case <-s.signal:
		}

		for {
			s.mu.Lock()
			batch := s.queue
			s.queue = nil
			s.mu.Unlock()
			if len(batch) == 0 {
				break
			}

			for _, event := range batch {
				select {
				case s.out <- event:
				case <-s.done:
					return
				}
			}
		}
	}
}
