package queue

import (
	"context"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/google/uuid"
)

const (
	journalTimeout = 5 * time.Second
	journalRetries = 3
)

// Service implements the queue operations on top of the state store, the
// journal and the hardware notifier. Ordering decisions happen inside
// store.Update under the bakery lock; journaling runs afterwards and never
// blocks the caller.
type Service struct {
	logger   apt.Logger
	store    StateStore
	journal  Journal
	notifier Notifier
	loc      *time.Location

	now func() time.Time
}

func NewService(store StateStore, journal Journal, notifier Notifier, loc *time.Location, logger apt.Logger) *Service {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		logger:   logger,
		store:    store,
		journal:  journal,
		notifier: notifier,
		loc:      loc,
		now:      time.Now,
	}
}

// SetClock overrides the time source for tests.
func (s *Service) SetClock(fn func() time.Time) {
	if fn == nil {
		fn = time.Now
	}
	s.now = fn
}

func (s *Service) localNow() time.Time {
	return s.now().In(s.loc)
}

// TicketIssue is the answer to a new customer order.
type TicketIssue struct {
	CustomerID    string      `json:"customer_id"`
	TicketNumber  int         `json:"ticket_number"`
	Token         string      `json:"token"`
	ShowOnDisplay bool        `json:"show_on_display"`
	WaitS         int64       `json:"estimated_wait_s"`
	InQueueS      int64       `json:"in_queue_s"`
	QueueAhead    int         `json:"queue_ahead"`
	Upcoming      bool        `json:"upcoming"`
	Requirements  map[int]int `json:"requirements"`
}

// NewTicket validates the order, assigns a queue number and registers the
// customer. The served cutoff is reconciled with the bread log first so a
// ticket is never issued at or below a number the oven already passed.
func (s *Service) NewTicket(ctx context.Context, bakeryID int, requirements map[int]int) (*TicketIssue, error) {
	now := s.localNow()
	var issue *TicketIssue
	var upcomingChanged bool

	err := s.store.Update(ctx, bakeryID, func(st *BakeryState) error {
		res, err := ReservationFromRequirements(st.Config, requirements)
		if err != nil {
			return err
		}

		st.Queue.AdvanceServed(st.MaxBreadOwner())

		ticket, err := st.Queue.Issue(res.Total())
		if err != nil {
			return err
		}
		if _, taken := st.Reservations[ticket.Number]; taken {
			return Errorf(KindConflict, "ticket %d already reserved", ticket.Number)
		}
		st.Reservations[ticket.Number] = res

		upcoming := st.HasUpcomingOrder(res)
		if upcoming {
			before := len(st.UpcomingCustomers)
			st.UpcomingCustomers[ticket.Number] = struct{}{}
			upcomingChanged = before == 0
		}

		ready, err := st.TicketReadiness(ticket.Number, now)
		if err != nil {
			return err
		}

		issue = &TicketIssue{
			CustomerID:    uuid.NewString(),
			TicketNumber:  ticket.Number,
			Token:         DailyToken(bakeryID, ticket.Number, now),
			ShowOnDisplay: st.ConsumeDisplayFlag(),
			WaitS:         ready.WaitS,
			InQueueS:      ready.InQueueS,
			QueueAhead:    ready.QueueAhead,
			Upcoming:      upcoming,
			Requirements:  res.Detail(st.Config),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.journalAsync("register customer", func(ctx context.Context) error {
		return s.journal.RegisterCustomer(ctx, CustomerRecord{
			ID:           issue.CustomerID,
			BakeryID:     bakeryID,
			TicketNumber: issue.TicketNumber,
			Requirements: issue.Requirements,
			Token:        issue.Token,
			InQueue:      true,
			RegisteredAt: now,
		})
	})

	s.notifier.TicketIssued(ctx, bakeryID, issue.TicketNumber, issue.Upcoming)
	if issue.ShowOnDisplay {
		s.notifier.DisplayChanged(ctx, bakeryID, true)
	}
	if upcomingChanged {
		s.notifier.UpcomingChanged(ctx, bakeryID, true)
	}
	return issue, nil
}

// BreadOutcome reports who the oven just baked for.
type BreadOutcome struct {
	HasCustomer    bool `json:"has_customer"`
	CustomerID     int  `json:"customer_id,omitempty"`
	CustomerBreads int  `json:"customer_breads,omitempty"`
	Total          int  `json:"total,omitempty"`
	NextCustomer   int  `json:"next_customer,omitempty"`
	Completed      bool `json:"completed"`
}

// NewBread records one bread leaving the oven and advances the
// preparation target.
func (s *Service) NewBread(ctx context.Context, bakeryID int) (*BreadOutcome, error) {
	now := s.localNow()
	var out BreadOutcome
	var queueEmptied bool
	var stamped Bread

	err := s.store.Update(ctx, bakeryID, func(st *BakeryState) error {
		res := st.StampBread(now)
		out = BreadOutcome{
			HasCustomer:    res.HasCustomer,
			CustomerID:     res.TicketNumber,
			CustomerBreads: res.BreadsMade,
			Total:          res.Total,
			NextCustomer:   res.NextTicket,
			Completed:      res.Completed,
		}
		queueEmptied = res.Completed && res.NextTicket == 0
		stamped = st.Breads[len(st.Breads)-1]
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.journalAsync("record bread", func(ctx context.Context) error {
		return s.journal.RecordBread(ctx, bakeryID, stamped)
	})

	if queueEmptied {
		s.notifier.DisplayChanged(ctx, bakeryID, false)
	}
	return &out, nil
}

// CurrentTicketInfo describes the ticket the oven is working on, with its
// readiness so the counter display can show both.
type CurrentTicketInfo struct {
	HasCustomer  bool        `json:"has_customer"`
	TicketNumber int         `json:"ticket_number,omitempty"`
	BreadsMade   int         `json:"breads_made"`
	Total        int         `json:"total"`
	Requirements map[int]int `json:"requirements,omitempty"`
	Upcoming     bool        `json:"upcoming"`
	Ready        bool        `json:"ready"`
	WaitS        int64       `json:"wait_s"`
}

// CurrentTicket reports the preparation target without mutating anything.
// An empty queue also pushes the display flag off so idle hardware stops
// showing the last number.
func (s *Service) CurrentTicket(ctx context.Context, bakeryID int) (*CurrentTicketInfo, error) {
	now := s.localNow()
	var info CurrentTicketInfo
	err := s.store.View(ctx, bakeryID, func(st *BakeryState) error {
		working, count := st.workingTicket(st.BreadsPerTicket(), st.ActiveOrder())
		if working == 0 {
			return nil
		}
		res := st.Reservations[working]
		_, upcoming := st.UpcomingCustomers[working]
		ready, err := st.TicketReadiness(working, now)
		if err != nil {
			return err
		}
		info = CurrentTicketInfo{
			HasCustomer:  true,
			TicketNumber: working,
			BreadsMade:   count,
			Total:        res.Total(),
			Requirements: res.Detail(st.Config),
			Upcoming:     upcoming,
			Ready:        ready.Ready,
			WaitS:        ready.WaitS,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !info.HasCustomer {
		s.notifier.DisplayChanged(ctx, bakeryID, false)
	}
	return &info, nil
}

// WaitListMove reports the ticket that became the oven target after the
// head moved to the wait list.
type WaitListMove struct {
	MovedTicket  int         `json:"moved_ticket"`
	NextTicket   int         `json:"next_ticket_id,omitempty"`
	NextDetail   map[int]int `json:"next_user_detail,omitempty"`
	QueueEmptied bool        `json:"queue_emptied"`
}

// SendCurrentToWaitList parks the head of the active queue: its
// reservation moves to the wait list, its stamped breads return to the
// rack and the oven target is rebuilt.
func (s *Service) SendCurrentToWaitList(ctx context.Context, bakeryID int) (*WaitListMove, error) {
	var move WaitListMove
	var detail map[int]int
	err := s.store.Update(ctx, bakeryID, func(st *BakeryState) error {
		order := st.ActiveOrder()
		if len(order) == 0 {
			return NotFoundError(ReasonEmptyQueue)
		}
		head := order[0]
		moved := st.Reservations[head].Clone()
		detail = moved.Detail(st.Config)
		st.WaitList[head] = moved
		delete(st.Reservations, head)
		delete(st.UpcomingCustomers, head)
		st.ConsumeTicketBreads(head)

		move = WaitListMove{MovedTicket: head}
		if next := st.Prep.CurrentTicket; next != 0 {
			move.NextTicket = next
			move.NextDetail = st.Reservations[next].Detail(st.Config)
		} else {
			move.QueueEmptied = true
			st.DisplayFlag = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	ticket := move.MovedTicket
	s.journalAsync("record wait list", func(ctx context.Context) error {
		if err := s.journal.RecordWaitList(ctx, bakeryID, ticket, detail); err != nil {
			return err
		}
		if err := s.journal.SetInQueue(ctx, bakeryID, ticket, false); err != nil {
			return err
		}
		return s.journal.ConsumeBreads(ctx, bakeryID, ticket)
	})

	if move.QueueEmptied {
		s.notifier.DisplayChanged(ctx, bakeryID, false)
	}
	return &move, nil
}

// IsTicketInWaitList answers the hardware membership check.
func (s *Service) IsTicketInWaitList(ctx context.Context, bakeryID, ticket int) (bool, error) {
	var in bool
	err := s.store.View(ctx, bakeryID, func(st *BakeryState) error {
		_, in = st.WaitList[ticket]
		return nil
	})
	return in, err
}

// Serve hands a wait-listed order over: the ticket leaves the wait list,
// joins the served set and its reservation breakdown is returned.
func (s *Service) Serve(ctx context.Context, bakeryID, ticket int) (map[int]int, error) {
	var detail map[int]int
	err := s.store.Update(ctx, bakeryID, func(st *BakeryState) error {
		res, ok := st.WaitList[ticket]
		if !ok {
			if _, served := st.Served[ticket]; served {
				return NotFoundError(ReasonTicketServed)
			}
			if _, active := st.Reservations[ticket]; active {
				return Errorf(KindInvalidRequest, "ticket %d is still in the active queue", ticket)
			}
			return NotFoundError(ReasonTicketMissing)
		}
		detail = res.Detail(st.Config)
		delete(st.WaitList, ticket)
		st.Served[ticket] = struct{}{}
		// A parked head can be served out of order; the cutoff must stay
		// below every ticket still in the active queue.
		if order := st.ActiveOrder(); len(order) == 0 || ticket < order[0] {
			st.Queue.MarkServed(ticket)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.journalAsync("record served", func(ctx context.Context) error {
		if err := s.journal.SetInQueue(ctx, bakeryID, ticket, false); err != nil {
			return err
		}
		return s.journal.ConsumeBreads(ctx, bakeryID, ticket)
	})
	return detail, nil
}

// ServeByToken resolves the daily pickup code and serves its ticket from
// the wait list.
func (s *Service) ServeByToken(ctx context.Context, bakeryID int, token string) (int, map[int]int, error) {
	now := s.localNow()
	ticket := 0
	err := s.store.View(ctx, bakeryID, func(st *BakeryState) error {
		var rerr error
		ticket, rerr = st.ResolveToken(token, now)
		return rerr
	})
	if err != nil {
		return 0, nil, err
	}
	detail, err := s.Serve(ctx, bakeryID, ticket)
	return ticket, detail, err
}

// TicketStatusResult is the customer readiness poll answer.
type TicketStatusResult struct {
	TicketNumber  int         `json:"ticket_id"`
	Ready         bool        `json:"ready"`
	AccurateTime  bool        `json:"accurate_time"`
	WaitS         int64       `json:"wait_until"`
	PeopleInQueue int         `json:"people_in_queue"`
	PaddingS      int64       `json:"empty_slot_time_avg"`
	InQueueS      int64       `json:"in_queue_customers_time"`
	UserBreads    map[int]int `json:"user_breads"`
	CurrentTicket int         `json:"current_ticket_id"`
}

// TicketStatusByToken resolves a daily code and answers the readiness
// poll for its ticket.
func (s *Service) TicketStatusByToken(ctx context.Context, bakeryID int, token string) (*TicketStatusResult, error) {
	now := s.localNow()
	var out *TicketStatusResult
	err := s.store.View(ctx, bakeryID, func(st *BakeryState) error {
		ticket, err := st.ResolveToken(token, now)
		if err != nil {
			return err
		}
		r, err := st.TicketReadiness(ticket, now)
		if err != nil {
			return err
		}
		current, _ := st.workingTicket(st.BreadsPerTicket(), st.ActiveOrder())
		out = &TicketStatusResult{
			TicketNumber:  ticket,
			Ready:         r.Ready,
			AccurateTime:  r.Precise,
			WaitS:         r.WaitS,
			PeopleInQueue: r.QueueAhead,
			PaddingS:      r.PaddingS,
			InQueueS:      r.InQueueS,
			UserBreads:    st.Reservations[ticket].Detail(st.Config),
			CurrentTicket: current,
		}
		return nil
	})
	return out, err
}

// TicketStatus answers the readiness poll for an explicit ticket number.
func (s *Service) TicketStatus(ctx context.Context, bakeryID, ticket int) (Readiness, error) {
	now := s.localNow()
	var out Readiness
	err := s.store.View(ctx, bakeryID, func(st *BakeryState) error {
		r, err := st.TicketReadiness(ticket, now)
		if err != nil {
			return err
		}
		out = r
		return nil
	})
	return out, err
}

// QueueUntilTicketSummary counts the queue between the served cutoff and
// the token's ticket.
type QueueUntilTicketSummary struct {
	TicketNumber int         `json:"ticket_id"`
	PeopleAhead  int         `json:"people_in_queue_until_this_ticket"`
	BreadCounts  map[int]int `json:"tickets_and_their_bread_count"`
}

func (s *Service) QueueSummaryByToken(ctx context.Context, bakeryID int, token string) (*QueueUntilTicketSummary, error) {
	now := s.localNow()
	var out *QueueUntilTicketSummary
	err := s.store.View(ctx, bakeryID, func(st *BakeryState) error {
		ticket, err := st.ResolveToken(token, now)
		if err != nil {
			return err
		}
		if _, active := st.Reservations[ticket]; !active {
			return NotFoundError(ReasonTicketMissing)
		}
		sum := &QueueUntilTicketSummary{
			TicketNumber: ticket,
			BreadCounts:  make(map[int]int),
		}
		for _, n := range st.ActiveOrder() {
			if n > ticket {
				break
			}
			if n < ticket {
				sum.PeopleAhead++
			}
			sum.BreadCounts[n] = st.Reservations[n].Total()
		}
		out = sum
		return nil
	})
	return out, err
}

// QueueSummary is the coarse operator view of one bakery's day.
type QueueSummary struct {
	BakeryID      int   `json:"bakery_id"`
	ActiveTickets int   `json:"active_tickets"`
	CurrentServed int   `json:"current_served"`
	NextNumber    int   `json:"next_number"`
	WaitListed    int   `json:"wait_listed"`
	BreadsBaked   int   `json:"breads_baked"`
	AvgBreadGapS  int64 `json:"avg_bread_gap_s"`
}

func (s *Service) QueueStatus(ctx context.Context, bakeryID int) (*QueueSummary, error) {
	var sum QueueSummary
	err := s.store.View(ctx, bakeryID, func(st *BakeryState) error {
		sum = QueueSummary{
			BakeryID:      bakeryID,
			ActiveTickets: len(st.Reservations),
			CurrentServed: st.Queue.CurrentServed,
			NextNumber:    st.Queue.NextNumber,
			WaitListed:    len(st.WaitList),
			BreadsBaked:   len(st.Breads),
		}
		if n := len(st.BreadTimeDiffs); n > 0 {
			var total int64
			for _, d := range st.BreadTimeDiffs {
				total += d
			}
			sum.AvgBreadGapS = total / int64(n)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &sum, nil
}

// SetUpcomingBreads replaces the bread types flagged as upcoming and
// re-evaluates which active tickets they touch.
func (s *Service) SetUpcomingBreads(ctx context.Context, bakeryID int, breadTypeIDs []int) error {
	var hasUpcoming, changed bool
	err := s.store.Update(ctx, bakeryID, func(st *BakeryState) error {
		before := len(st.UpcomingCustomers) > 0

		st.UpcomingBreads = make(map[int]struct{}, len(breadTypeIDs))
		for _, id := range breadTypeIDs {
			if _, known := st.Config.PrepTimes[id]; !known {
				return Errorf(KindInvalidRequest, "unknown bread type %d", id)
			}
			st.UpcomingBreads[id] = struct{}{}
		}

		st.UpcomingCustomers = make(map[int]struct{})
		for n, res := range st.Reservations {
			if st.HasUpcomingOrder(res) {
				st.UpcomingCustomers[n] = struct{}{}
			}
		}
		hasUpcoming = len(st.UpcomingCustomers) > 0
		changed = hasUpcoming != before
		return nil
	})
	if err != nil {
		return err
	}
	if changed {
		s.notifier.UpcomingChanged(ctx, bakeryID, hasUpcoming)
	}
	return nil
}

// UpdateTimeout changes the pickup timeout for the rest of the day.
func (s *Service) UpdateTimeout(ctx context.Context, bakeryID, timeoutS int) error {
	if timeoutS < 0 {
		return Errorf(KindInvalidRequest, "timeout must be non-negative, got %d", timeoutS)
	}
	err := s.store.Update(ctx, bakeryID, func(st *BakeryState) error {
		st.Config.TimeoutS = timeoutS
		return nil
	})
	if err != nil {
		return err
	}
	s.journalAsync("update timeout", func(ctx context.Context) error {
		return s.journal.SetTimeout(ctx, bakeryID, timeoutS)
	})
	return nil
}

// HardwareInfo is everything a booting display or oven panel needs.
type HardwareInfo struct {
	BakeryID      int         `json:"bakery_id"`
	BakingTimeS   int         `json:"baking_time_s"`
	TimeoutS      int         `json:"timeout_s"`
	PrepTimes     map[int]int `json:"prep_time_per_bread"`
	HasCustomer   bool        `json:"has_customer"`
	CurrentTicket int         `json:"current_ticket,omitempty"`
}

func (s *Service) HardwareInit(ctx context.Context, bakeryID int) (*HardwareInfo, error) {
	var info HardwareInfo
	err := s.store.View(ctx, bakeryID, func(st *BakeryState) error {
		info = HardwareInfo{
			BakeryID:    bakeryID,
			BakingTimeS: st.Config.BakingTimeS,
			TimeoutS:    st.Config.TimeoutS,
			PrepTimes:   st.Config.PrepTimes,
		}
		working, _ := st.workingTicket(st.BreadsPerTicket(), st.ActiveOrder())
		if working != 0 {
			info.HasCustomer = true
			info.CurrentTicket = working
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &info, nil
}

// Warm primes the cache for every active bakery; used on startup so the
// first request of the day does not pay the journal round trip.
func (s *Service) Warm(ctx context.Context) error {
	ids, err := s.journal.ActiveBakeries(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := s.store.View(ctx, id, func(*BakeryState) error { return nil }); err != nil {
			s.logger.Error("cannot warm bakery state", "bakery_id", id, "error", err)
		}
	}
	return nil
}

// ResetDay drops every bakery's cached day state and zeroes the additive
// pickup timeout. Runs at local midnight; the next request starts a fresh
// numbering day.
func (s *Service) ResetDay(ctx context.Context) error {
	ids, err := s.journal.ActiveBakeries(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := s.store.Purge(ctx, id); err != nil {
			s.logger.Error("cannot purge bakery state", "bakery_id", id, "error", err)
			continue
		}
		if err := s.journal.SetTimeout(ctx, id, 0); err != nil {
			s.logger.Error("cannot reset timeout", "bakery_id", id, "error", err)
		}
		s.logger.Info("bakery day state purged", "bakery_id", id)
	}
	return nil
}

// journalAsync runs a durable write off the request path with bounded
// retries.
func (s *Service) journalAsync(op string, fn func(context.Context) error) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
		defer cancel()

		var err error
		for attempt := 0; attempt < journalRetries; attempt++ {
			if err = fn(ctx); err == nil {
				return
			}
			time.Sleep(time.Duration(attempt+1) * 100 * time.Millisecond)
		}
		s.logger.Error("journal write failed", "op", op, "error", err)
	}()
}
