package broadcast

import (
	"context"
	"sync"

	"medslots/pkg/logger"
	"medslots/pkg/metrics"
	"medslots/pkg/model"
)

const (
	scopeStaff   = "staff"
	scopeSession = "session"
)

// Broadcaster fans slot events out to everyone watching a staff member and
// delivers user-scoped notices to the owning session.
type Broadcaster struct {
	limit   int
	log     *logger.Logger
	metrics *metrics.Metrics

	mu       sync.RWMutex
	staff    map[string]map[*Subscription]struct{}
	sessions map[string]map[*Subscription]struct{}
	closed   bool
}

// NewBroadcaster creates a broadcaster. limit caps each subscriber's queue;
// zero means unbounded.
func NewBroadcaster(limit int, log *logger.Logger, mt *metrics.Metrics) *Broadcaster {
	return &Broadcaster{
		limit:    limit,
		log:      log.Component("broadcast"),
		metrics:  mt,
		staff:    make(map[string]map[*Subscription]struct{}),
		sessions: make(map[string]map[*Subscription]struct{}),
	}
}

func sessionKey(holder model.Holder) string {
	return holder.UserID + "|" + holder.SessionID
}

// Subscribe streams every event for staffID.
func (b *Broadcaster) Subscribe(staffID string) *Subscription {
	return b.subscribe(scopeStaff, staffID)
}

// SubscribeSession streams notices addressed to one user session.
func (b *Broadcaster) SubscribeSession(holder model.Holder) *Subscription {
	return b.subscribe(scopeSession, sessionKey(holder))
}

func (b *Broadcaster) subscribe(scope, key string) *Subscription {
	sub := newSubscription(scope, key, b.limit, b.unsubscribe)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		sub.Close()
		return sub
	}
	index := b.index(scope)
	if index[key] == nil {
		index[key] = make(map[*Subscription]struct{})
	}
	index[key][sub] = struct{}{}
	b.mu.Unlock()

	b.metrics.AddSubscribers(scope, 1)
	b.log.Debug("Subscriber added", "scope", scope, "key", key, "subscription_id", sub.ID)
	return sub
}

func (b *Broadcaster) index(scope string) map[string]map[*Subscription]struct{} {
	if scope == scopeSession {
		return b.sessions
	}
	return b.staff
}

func (b *Broadcaster) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	index := b.index(sub.scope)
	subs, ok := index[sub.key]
	_, present := subs[sub]
	if ok && present {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(index, sub.key)
		}
	}
	b.mu.Unlock()

	if present {
		b.metrics.AddSubscribers(sub.scope, -1)
	}
}

// Publish delivers event to every subscriber of event.StaffID. It never blocks.
func (b *Broadcaster) Publish(_ context.Context, event model.SlotEvent) {
	b.deliver(scopeStaff, event.StaffID, event)
}

// Notify delivers event to the sessions of recipient only.
func (b *Broadcaster) Notify(_ context.Context, recipient model.Holder, event model.SlotEvent) {
	b.deliver(scopeSession, sessionKey(recipient), event)
}

func (b *Broadcaster) deliver(scope, key string, event model.SlotEvent) {
	b.mu.RLock()
	subs := make([]*Subscription, 0, len(b.index(scope)[key]))
	for sub := range b.index(scope)[key] {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	for _, sub := range subs {
		if sub.enqueue(event) {
			continue
		}
		select {
		case <-sub.Done():
		default:
			b.log.Warn("Dropping slow subscriber", "scope", scope, "key", key, "subscription_id", sub.ID)
			b.metrics.IncDroppedSubscriber()
			sub.Close()
		}
	}
}

// SubscriberCount returns the number of subscribers watching staffID.
func (b *Broadcaster) SubscriberCount(staffID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.staff[staffID])
}

// Close ends every subscription. Later subscriptions are closed immediately.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	b.closed = true
	var subs []*Subscription
	for _, index := range []map[string]map[*Subscription]struct{}{b.staff, b.sessions} {
		for _, set := range index {
			for sub := range set {
				subs = append(subs, sub)
			}
		}
	}
	b.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
}
