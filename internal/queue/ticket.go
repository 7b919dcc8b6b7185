package queue

import (
	"encoding/json"
	"sort"
	"strconv"
	"time"
)

type TicketKind string

const (
	KindSingle   TicketKind = "single"
	KindMulti    TicketKind = "multi"
	KindConsumed TicketKind = "consumed"
)

type TicketStatus string

const (
	StatusWaiting  TicketStatus = "waiting"
	StatusServed   TicketStatus = "served"
	StatusConsumed TicketStatus = "consumed"
)

// Ticket is one issued queue position for a single bakery-day. Consumed
// tickets are placeholders absorbed by a later multi order; ParentTicket
// is a numeric back-reference, never a pointer.
type Ticket struct {
	Number       int          `json:"number"`
	Kind         TicketKind   `json:"kind"`
	Quantity     int          `json:"quantity"`
	Status       TicketStatus `json:"status"`
	Timestamp    string       `json:"timestamp"`
	ServedAt     string       `json:"served_at,omitempty"`
	ParentTicket int          `json:"parent_ticket,omitempty"`
}

// QueueState is the ticket scheduler's book-keeping: every issued ticket,
// the next free number, the served cutoff and the interleaving slot sets.
type QueueState struct {
	Tickets         map[int]*Ticket
	NextNumber      int
	CurrentServed   int
	SlotsForMultis  map[int]struct{}
	SlotsForSingles map[int]struct{}

	now func() time.Time
}

func NewQueueState() *QueueState {
	return &QueueState{
		Tickets:         make(map[int]*Ticket),
		NextNumber:      1,
		SlotsForMultis:  make(map[int]struct{}),
		SlotsForSingles: make(map[int]struct{}),
		now:             time.Now,
	}
}

// SetClock overrides the timestamp source; nil restores time.Now.
func (q *QueueState) SetClock(fn func() time.Time) {
	q.now = fn
}

func (q *QueueState) clock() func() time.Time {
	if q.now == nil {
		return time.Now
	}
	return q.now
}

func (q *QueueState) nowISO() string {
	return q.clock()().Format("2006-01-02T15:04:05")
}

// expireOldSlots drops every reserved slot at or below the served cutoff
// and pushes NextNumber past it.
func (q *QueueState) expireOldSlots() {
	if q.CurrentServed <= 0 {
		return
	}
	for n := range q.SlotsForMultis {
		if n <= q.CurrentServed {
			delete(q.SlotsForMultis, n)
		}
	}
	for n := range q.SlotsForSingles {
		if n <= q.CurrentServed {
			delete(q.SlotsForSingles, n)
		}
	}
}

func (q *QueueState) prevTicketOfKind(kind TicketKind) (int, bool) {
	best, found := 0, false
	for n, t := range q.Tickets {
		if t.Kind == kind && n > best {
			best, found = n, true
		}
	}
	return best, found
}

// AdvanceServed raises the served cutoff; it never lowers it.
func (q *QueueState) AdvanceServed(n int) {
	if n > q.CurrentServed {
		q.CurrentServed = n
		q.expireOldSlots()
	}
}

// MarkServed records a single or multi ticket as served and advances the
// cutoff past it.
func (q *QueueState) MarkServed(number int) {
	t := q.Tickets[number]
	if t == nil || (t.Kind != KindSingle && t.Kind != KindMulti) {
		return
	}
	if t.Status == StatusServed || number <= q.CurrentServed {
		return
	}
	t.Status = StatusServed
	t.ServedAt = q.nowISO()
	q.CurrentServed = number
	q.expireOldSlots()
}

func sortedSet(s map[int]struct{}) []int {
	out := make([]int, 0, len(s))
	for n := range s {
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}

type queueStateJSON struct {
	Tickets         map[string]*Ticket `json:"tickets"`
	NextNumber      int                `json:"next_number"`
	CurrentServed   int                `json:"current_served"`
	SlotsForMultis  []int              `json:"slots_for_multis"`
	SlotsForSingles []int              `json:"slots_for_singles"`
}

func (q *QueueState) MarshalJSON() ([]byte, error) {
	dto := queueStateJSON{
		Tickets:         make(map[string]*Ticket, len(q.Tickets)),
		NextNumber:      q.NextNumber,
		CurrentServed:   q.CurrentServed,
		SlotsForMultis:  sortedSet(q.SlotsForMultis),
		SlotsForSingles: sortedSet(q.SlotsForSingles),
	}
	for n, t := range q.Tickets {
		dto.Tickets[strconv.Itoa(n)] = t
	}
	return json.Marshal(dto)
}

func (q *QueueState) UnmarshalJSON(data []byte) error {
	var dto queueStateJSON
	if err := json.Unmarshal(data, &dto); err != nil {
		return err
	}
	fresh := NewQueueState()
	for k, t := range dto.Tickets {
		n, err := strconv.Atoi(k)
		if err != nil {
			return err
		}
		t.Number = n
		fresh.Tickets[n] = t
	}
	if dto.NextNumber > 0 {
		fresh.NextNumber = dto.NextNumber
	}
	fresh.CurrentServed = dto.CurrentServed
	for _, n := range dto.SlotsForMultis {
		fresh.SlotsForMultis[n] = struct{}{}
	}
	for _, n := range dto.SlotsForSingles {
		fresh.SlotsForSingles[n] = struct{}{}
	}
	*q = *fresh
	return nil
}
