package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/appetiteclub/apt"
	aptevents "github.com/appetiteclub/apt/events"

	"github.com/tanoorlab/tanoor/pkg/event"
)

const (
	publishTimeout = 3 * time.Second
	publishRetries = 3
	queueDepth     = 256
)

// Notifier pushes queue transitions to the bakery hardware over the event
// bus. Publishing is fire and forget through a small buffered worker;
// a saturated or down broker drops events instead of stalling queue
// operations, since displays resync on their next poll anyway.
type Notifier struct {
	logger    apt.Logger
	publisher aptevents.Publisher

	jobs chan job
	done chan struct{}
}

type job struct {
	topic   string
	payload []byte
}

func NewNotifier(publisher aptevents.Publisher, logger apt.Logger) *Notifier {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	n := &Notifier{
		logger:    logger,
		publisher: publisher,
		jobs:      make(chan job, queueDepth),
		done:      make(chan struct{}),
	}
	go n.run()
	return n
}

func (n *Notifier) run() {
	defer close(n.done)
	for j := range n.jobs {
		var err error
		for attempt := 0; attempt < publishRetries; attempt++ {
			ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
			err = n.publisher.Publish(ctx, j.topic, j.payload)
			cancel()
			if err == nil {
				break
			}
			time.Sleep(time.Duration(attempt+1) * 100 * time.Millisecond)
		}
		if err != nil {
			n.logger.Error("cannot publish queue event", "topic", j.topic, "error", err)
		}
	}
}

// Close drains pending events and stops the worker.
func (n *Notifier) Close() {
	close(n.jobs)
	<-n.done
}

func (n *Notifier) DisplayChanged(ctx context.Context, bakeryID int, hasCustomer bool) {
	n.enqueue(event.QueueDisplayTopic, event.DisplayChangedEvent{
		QueueEventMetadata: n.meta(event.EventQueueDisplayChanged, bakeryID),
		HasCustomer:        hasCustomer,
	})
}

func (n *Notifier) UpcomingChanged(ctx context.Context, bakeryID int, hasUpcoming bool) {
	n.enqueue(event.QueueUpcomingTopic, event.UpcomingChangedEvent{
		QueueEventMetadata: n.meta(event.EventQueueUpcomingChanged, bakeryID),
		HasUpcoming:        hasUpcoming,
	})
}

func (n *Notifier) TicketIssued(ctx context.Context, bakeryID, ticket int, upcoming bool) {
	n.enqueue(event.QueueDisplayTopic, event.TicketIssuedEvent{
		QueueEventMetadata: n.meta(event.EventQueueTicketIssued, bakeryID),
		TicketNumber:       ticket,
		Upcoming:           upcoming,
	})
}

func (n *Notifier) meta(eventType string, bakeryID int) event.QueueEventMetadata {
	return event.QueueEventMetadata{
		EventType:  eventType,
		OccurredAt: time.Now(),
		BakeryID:   bakeryID,
	}
}

func (n *Notifier) enqueue(topic string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		n.logger.Error("cannot marshal queue event", "topic", topic, "error", err)
		return
	}
	select {
	case n.jobs <- job{topic: topic, payload: data}:
	default:
		n.logger.Error("queue event dropped, publisher backlog full", "topic", topic)
	}
}
