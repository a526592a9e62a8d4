// Package events is the in-process notification fan-out for the engine.
// Publication is fire-and-forget: a slow or absent subscriber never blocks
// the operation that produced the event.
package events

import (
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
)

const (
	TopicUsageChanged      = "usage.changed"
	TopicTriggerFired      = "trigger.fired"
	TopicComplianceChanged = "compliance.changed"
	TopicAircraftReleased  = "aircraft.released"
	TopicIntegrityAlarm    = "integrity.alarm"
)

const DefaultSubscriberBuffer = 64

// Event is the envelope delivered to subscribers. Fields that do not apply
// to a topic are left zero.
type Event struct {
	Topic       string         `json:"topic"`
	SubjectID   snowflake.ID   `json:"subject_id,omitempty"`
	TriggerID   snowflake.ID   `json:"trigger_id,omitempty"`
	WorkOrderID snowflake.ID   `json:"work_order_id,omitempty"`
	PartNumber  string         `json:"part_number,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`
	OccurredAt  time.Time      `json:"occurred_at"`
}

type Hub struct {
	mu               sync.RWMutex
	subs             map[string]map[uint64]chan Event
	nextID           uint64
	subscriberBuffer int
}

type Subscription struct {
	hub    *Hub
	topics []string
	id     uint64
	ch     chan Event
	once   sync.Once
}

func NewHub() *Hub {
	return &Hub{
		subs:             make(map[string]map[uint64]chan Event),
		subscriberBuffer: DefaultSubscriberBuffer,
	}
}

// Publish delivers the event to every subscriber of its topic. Full
// subscriber buffers drop the event rather than block the publisher.
func (h *Hub) Publish(event Event) {
	if h == nil || event.Topic == "" {
		return
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	h.mu.RLock()
	targets := make([]chan Event, 0, len(h.subs[event.Topic]))
	for _, ch := range h.subs[event.Topic] {
		targets = append(targets, ch)
	}
	h.mu.RUnlock()

	for _, ch := range targets {
		select {
		case ch <- event:
		default:
		}
	}
}

// Subscribe registers a subscriber for the given topics. The caller owns the
// returned Subscription and must Close it when done.
func (h *Hub) Subscribe(topics ...string) *Subscription {
	if h == nil || len(topics) == 0 {
		return nil
	}

	ch := make(chan Event, h.subscriberBuffer)

	h.mu.Lock()
	h.nextID++
	id := h.nextID
	for _, topic := range topics {
		if h.subs[topic] == nil {
			h.subs[topic] = make(map[uint64]chan Event)
		}
		h.subs[topic][id] = ch
	}
	h.mu.Unlock()

	return &Subscription{hub: h, topics: topics, id: id, ch: ch}
}

func (s *Subscription) Events() <-chan Event {
	if s == nil {
		return nil
	}
	return s.ch
}

// Close detaches the subscription from the hub. The channel itself is never
// closed: a publisher may still hold a pre-close snapshot of it, and a send
// on a closed channel would panic inside the publishing operation.
func (s *Subscription) Close() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		s.hub.mu.Lock()
		for _, topic := range s.topics {
			delete(s.hub.subs[topic], s.id)
			if len(s.hub.subs[topic]) == 0 {
				delete(s.hub.subs, topic)
			}
		}
		s.hub.mu.Unlock()
	})
}
