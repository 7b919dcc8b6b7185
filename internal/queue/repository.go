package queue

import (
	"context"
	"time"
)

// StateStore owns the compound per-bakery state. Update runs the mutation
// under the bakery's lock and persists the whole state atomically; View
// runs read-only. Both load on demand, falling back to the journal when
// the cache has nothing for today.
type StateStore interface {
	Update(ctx context.Context, bakeryID int, fn func(*BakeryState) error) error
	View(ctx context.Context, bakeryID int, fn func(*BakeryState) error) error
	Purge(ctx context.Context, bakeryID int) error
}

// CustomerRecord is the durable trace of an issued ticket.
type CustomerRecord struct {
	ID           string
	BakeryID     int
	TicketNumber int
	Requirements map[int]int
	Token        string
	InQueue      bool
	RegisteredAt time.Time
}

// Journal is the durable side of the engine: configuration reads and
// idempotent event records. It never carries queue ordering; that lives
// in the snapshot blob.
type Journal interface {
	Config(ctx context.Context, bakeryID int) (*BakeryConfig, error)
	ActiveBakeries(ctx context.Context) ([]int, error)
	SetTimeout(ctx context.Context, bakeryID, timeoutS int) error

	RegisterCustomer(ctx context.Context, rec CustomerRecord) error
	SetInQueue(ctx context.Context, bakeryID, ticket int, inQueue bool) error
	RecordWaitList(ctx context.Context, bakeryID, ticket int, requirements map[int]int) error
	RecordBread(ctx context.Context, bakeryID int, bread Bread) error
	ConsumeBreads(ctx context.Context, bakeryID, ticket int) error

	SaveSnapshot(ctx context.Context, bakeryID int, date string, state []byte) error
	LoadSnapshot(ctx context.Context, bakeryID int, date string) ([]byte, error)
	LastTicketNumber(ctx context.Context, bakeryID int, date string) (int, error)
}

// Notifier fans queue transitions out to hardware displays. Publishing is
// best effort; queue state never depends on delivery.
type Notifier interface {
	DisplayChanged(ctx context.Context, bakeryID int, hasCustomer bool)
	UpcomingChanged(ctx context.Context, bakeryID int, hasUpcoming bool)
	TicketIssued(ctx context.Context, bakeryID, ticket int, upcoming bool)
}
