package event

import "time"

const (
	QueueDisplayTopic  = "queue.display"
	QueueUpcomingTopic = "queue.upcoming"

	EventQueueDisplayChanged  = "queue.display.changed"
	EventQueueUpcomingChanged = "queue.upcoming.changed"
	EventQueueTicketIssued    = "queue.ticket.issued"
)

type QueueEventMetadata struct {
	EventType  string    `json:"event_type"`
	OccurredAt time.Time `json:"occurred_at"`
	BakeryID   int       `json:"bakery_id"`
}

// DisplayChangedEvent tells the bakery display hardware whether there is
// at least one customer waiting in the active queue.
type DisplayChangedEvent struct {
	QueueEventMetadata
	HasCustomer bool `json:"has_customer_in_queue"`
}

// UpcomingChangedEvent tells the display whether a customer ordering one of
// the bakery's flagged "upcoming" bread types is waiting.
type UpcomingChangedEvent struct {
	QueueEventMetadata
	HasUpcoming bool `json:"has_upcoming_customer_in_queue"`
}

type TicketIssuedEvent struct {
	QueueEventMetadata
	TicketNumber int  `json:"ticket_number"`
	Upcoming     bool `json:"upcoming"`
}
