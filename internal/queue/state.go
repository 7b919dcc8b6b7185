package queue

import "sort"

// BakeryConfig is the per-day immutable configuration read through the
// journal. PrepTimes keys define the canonical bread ordering (ascending
// bread type id).
type BakeryConfig struct {
	BakeryID    int         `json:"bakery_id"`
	Token       string      `json:"token"`
	PrepTimes   map[int]int `json:"prep_time_per_bread"`
	BakingTimeS int         `json:"baking_time_s"`
	TimeoutS    int         `json:"timeout_s"`
}

// BreadOrder returns the canonical bread type ordering.
func (c *BakeryConfig) BreadOrder() []int {
	ids := make([]int, 0, len(c.PrepTimes))
	for id := range c.PrepTimes {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// OrderedPrepTimes returns preparation seconds aligned with BreadOrder.
func (c *BakeryConfig) OrderedPrepTimes() []int {
	order := c.BreadOrder()
	out := make([]int, len(order))
	for i, id := range order {
		out[i] = c.PrepTimes[id]
	}
	return out
}

// Reservation is an ordered count vector aligned with the bakery's
// canonical bread ordering.
type Reservation []int

func (r Reservation) Total() int {
	sum := 0
	for _, c := range r {
		sum += c
	}
	return sum
}

func (r Reservation) Clone() Reservation {
	out := make(Reservation, len(r))
	copy(out, r)
	return out
}

// ReservationFromRequirements converts a bread_type_id -> count request
// into the canonical vector, validating shape and counts.
func ReservationFromRequirements(cfg *BakeryConfig, req map[int]int) (Reservation, error) {
	if len(req) != len(cfg.PrepTimes) {
		return nil, Errorf(KindInvalidRequest, "expected %d bread types, got %d", len(cfg.PrepTimes), len(req))
	}
	order := cfg.BreadOrder()
	res := make(Reservation, len(order))
	for i, id := range order {
		count, ok := req[id]
		if !ok {
			return nil, Errorf(KindInvalidRequest, "unknown bread types in request")
		}
		if count < 0 {
			return nil, Errorf(KindInvalidRequest, "negative count for bread type %d", id)
		}
		res[i] = count
	}
	if res.Total() < 1 {
		return nil, Errorf(KindInvalidRequest, "order needs at least one bread")
	}
	return res, nil
}

// Detail maps the vector back to bread_type_id -> count for responses.
func (r Reservation) Detail(cfg *BakeryConfig) map[int]int {
	out := make(map[int]int, len(r))
	for i, id := range cfg.BreadOrder() {
		if i < len(r) {
			out[id] = r[i]
		}
	}
	return out
}

// PrepState names which ticket the oven is presently filling and how many
// of its breads are already stamped. CurrentTicket 0 means idle.
type PrepState struct {
	CurrentTicket int `json:"current_ticket"`
	BreadsMade    int `json:"breads_made"`
}

// Bread is one oven artifact: the moment it leaves the oven and the ticket
// it was stamped for. Owner 0 is the sentinel for breads baked with no
// customer in the queue.
type Bread struct {
	Index   int64 `json:"index"`
	ReadyAt int64 `json:"ready_at"`
	Owner   int   `json:"owner"`
}

// BakeryState is the compound per-bakery day state every operation
// mutates. The store persists all of it together; sub-keys never commit
// independently.
type BakeryState struct {
	Config *BakeryConfig

	Queue        *QueueState
	Reservations map[int]Reservation
	WaitList     map[int]Reservation
	Served       map[int]struct{}
	Breads       []Bread
	Prep         PrepState
	DisplayFlag  bool

	LastBreadTime  int64
	LastBreadIndex int64
	BreadTimeDiffs []int64

	UpcomingBreads    map[int]struct{}
	UpcomingCustomers map[int]struct{}
}

func NewBakeryState(cfg *BakeryConfig) *BakeryState {
	return &BakeryState{
		Config:            cfg,
		Queue:             NewQueueState(),
		Reservations:      make(map[int]Reservation),
		WaitList:          make(map[int]Reservation),
		Served:            make(map[int]struct{}),
		UpcomingBreads:    make(map[int]struct{}),
		UpcomingCustomers: make(map[int]struct{}),
	}
}

// Normalize backfills nil sub-structures after a snapshot decode.
func (s *BakeryState) Normalize(cfg *BakeryConfig) {
	if cfg != nil {
		s.Config = cfg
	}
	if s.Queue == nil {
		s.Queue = NewQueueState()
	}
	if s.Reservations == nil {
		s.Reservations = make(map[int]Reservation)
	}
	if s.WaitList == nil {
		s.WaitList = make(map[int]Reservation)
	}
	if s.Served == nil {
		s.Served = make(map[int]struct{})
	}
	if s.UpcomingBreads == nil {
		s.UpcomingBreads = make(map[int]struct{})
	}
	if s.UpcomingCustomers == nil {
		s.UpcomingCustomers = make(map[int]struct{})
	}
}

// ActiveOrder returns active ticket numbers ascending. The reservation map
// is the source of truth; the order is always its sorted key set.
func (s *BakeryState) ActiveOrder() []int {
	out := make([]int, 0, len(s.Reservations))
	for n := range s.Reservations {
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}

// BreadsPerTicket counts stamped breads by owning ticket.
func (s *BakeryState) BreadsPerTicket() map[int]int {
	out := make(map[int]int)
	for _, b := range s.Breads {
		out[b.Owner]++
	}
	return out
}

// BreadsOwnedBy returns ready-at timestamps for a ticket in stamping order.
func (s *BakeryState) BreadsOwnedBy(ticket int) []int64 {
	var out []int64
	for _, b := range s.Breads {
		if b.Owner == ticket {
			out = append(out, b.ReadyAt)
		}
	}
	return out
}

// MaxBreadOwner is the highest real ticket number appearing in the bread
// log; new_ticket reconciles the served cutoff with it.
func (s *BakeryState) MaxBreadOwner() int {
	best := 0
	for _, b := range s.Breads {
		if b.Owner > best {
			best = b.Owner
		}
	}
	return best
}

// ConsumeDisplayFlag reads and clears the one-shot display flag.
func (s *BakeryState) ConsumeDisplayFlag() bool {
	v := s.DisplayFlag
	s.DisplayFlag = false
	return v
}

// HasUpcomingOrder reports whether the reservation touches any flagged
// upcoming bread type.
func (s *BakeryState) HasUpcomingOrder(res Reservation) bool {
	if len(s.UpcomingBreads) == 0 {
		return false
	}
	for i, id := range s.Config.BreadOrder() {
		if i < len(res) && res[i] > 0 {
			if _, ok := s.UpcomingBreads[id]; ok {
				return true
			}
		}
	}
	return false
}
