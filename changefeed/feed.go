package changefeed

import (
	"sync"
	"time"
)

// TopicReports is the topic carrying report collection changes.
const TopicReports = "reports"

// Change kinds. The payload is advisory only; consumers re-issue their
// current query instead of applying the event directly.
const (
	KindInsert = "insert"
	KindUpdate = "update"
	KindDelete = "delete"
)

// Event signals that the report collection changed.
type Event struct {
	Topic     string    `json:"topic"`
	Kind      string    `json:"kind"`
	ReportID  int64     `json:"report_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Notifier publishes change events. Publishing is best-effort: a lost event
// never fails the database write that triggered it.
type Notifier interface {
	NotifyChange(topic, kind string, reportID int64)
}

// Feed delivers change events to subscribed consumers.
type Feed interface {
	Subscribe(topic string) (*Subscription, error)
	Unsubscribe(sub *Subscription)
}

// Subscription is one consumer's handle on a topic. Events arrive on C.
// The channel has capacity one and overlapping events are dropped rather
// than queued; a consumer refetches state on every delivery, so a dropped
// event is covered by the one already pending.
type Subscription struct {
	Topic string
	C     chan Event

	closeOnce sync.Once
}

func newSubscription(topic string) *Subscription {
	return &Subscription{
		Topic: topic,
		C:     make(chan Event, 1),
	}
}

// deliver performs a non-blocking send, coalescing with any pending event.
func (s *Subscription) deliver(ev Event) {
	select {
	case s.C <- ev:
	default:
	}
}

func (s *Subscription) close() {
	s.closeOnce.Do(func() { close(s.C) })
}

// MemoryFeed is an in-process Feed and Notifier for single-node deployments
// and tests.
type MemoryFeed struct {
	mu   sync.RWMutex
	subs map[string]map[*Subscription]bool
}

// NewMemoryFeed creates an empty in-process feed.
func NewMemoryFeed() *MemoryFeed {
	return &MemoryFeed{
		subs: make(map[string]map[*Subscription]bool),
	}
}

// Subscribe registers a new consumer on the topic.
func (f *MemoryFeed) Subscribe(topic string) (*Subscription, error) {
	sub := newSubscription(topic)
	f.mu.Lock()
	if f.subs[topic] == nil {
		f.subs[topic] = make(map[*Subscription]bool)
	}
	f.subs[topic][sub] = true
	f.mu.Unlock()
	return sub, nil
}

// Unsubscribe removes the consumer and closes its event channel.
func (f *MemoryFeed) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	f.mu.Lock()
	if subs, ok := f.subs[sub.Topic]; ok {
		delete(subs, sub)
	}
	f.mu.Unlock()
	sub.close()
}

// NotifyChange fans the event out to every subscriber of the topic.
func (f *MemoryFeed) NotifyChange(topic, kind string, reportID int64) {
	ev := Event{
		Topic:     topic,
		Kind:      kind,
		ReportID:  reportID,
		Timestamp: time.Now(),
	}
	f.mu.RLock()
	for sub := range f.subs[topic] {
		sub.deliver(ev)
	}
	f.mu.RUnlock()
}
