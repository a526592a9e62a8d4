package events

import (
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishReachesTopicSubscribers(t *testing.T) {
	hub := NewHub()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	subject := node.Generate()

	usage := hub.Subscribe(TopicUsageChanged)
	defer usage.Close()
	fired := hub.Subscribe(TopicTriggerFired)
	defer fired.Close()

	hub.Publish(Event{Topic: TopicUsageChanged, SubjectID: subject})

	select {
	case event := <-usage.Events():
		assert.Equal(t, TopicUsageChanged, event.Topic)
		assert.Equal(t, subject, event.SubjectID)
		assert.False(t, event.OccurredAt.IsZero())
	default:
		t.Fatal("expected the usage subscriber to receive the event")
	}

	select {
	case <-fired.Events():
		t.Fatal("trigger subscriber must not see usage events")
	default:
	}
}

func TestSubscribeSpansMultipleTopics(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe(TopicUsageChanged, TopicTriggerFired)
	defer sub.Close()

	hub.Publish(Event{Topic: TopicUsageChanged})
	hub.Publish(Event{Topic: TopicTriggerFired})
	hub.Publish(Event{Topic: TopicIntegrityAlarm})

	assert.Len(t, drain(sub), 2)
}

func TestPublishNeverBlocksOnFullSubscriber(t *testing.T) {
	hub := NewHub()
	hub.subscriberBuffer = 2
	sub := hub.Subscribe(TopicIntegrityAlarm)
	defer sub.Close()

	// Overfill the buffer; the extra events are dropped, not queued.
	for i := 0; i < 5; i++ {
		hub.Publish(Event{Topic: TopicIntegrityAlarm, PartNumber: "PN-1"})
	}

	assert.Len(t, drain(sub), 2)
}

func TestClosedSubscriptionStopsReceiving(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe(TopicUsageChanged)
	sub.Close()
	sub.Close() // idempotent

	hub.Publish(Event{Topic: TopicUsageChanged})

	// Nothing is delivered, and the channel stays open: a receive here
	// would yield a zero Event if Close had closed it.
	select {
	case <-sub.Events():
		t.Fatal("closed subscription must not receive")
	default:
	}
}

func TestPublishSurvivesConcurrentClose(t *testing.T) {
	hub := NewHub()
	done := make(chan struct{})

	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			sub := hub.Subscribe(TopicUsageChanged)
			sub.Close()
		}
	}()
	for i := 0; i < 1000; i++ {
		hub.Publish(Event{Topic: TopicUsageChanged})
	}
	<-done
}

func TestNilAndEmptyAreNoOps(t *testing.T) {
	var hub *Hub
	hub.Publish(Event{Topic: TopicUsageChanged})
	assert.Nil(t, hub.Subscribe(TopicUsageChanged))

	real := NewHub()
	assert.Nil(t, real.Subscribe())
	real.Publish(Event{}) // empty topic is dropped
}

func drain(sub *Subscription) []Event {
	var out []Event
	for {
		select {
		case event := <-sub.Events():
			out = append(out, event)
		default:
			return out
		}
	}
}
