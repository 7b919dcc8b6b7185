package queue

import "time"

// NewBreadResult reports which ticket the oven just baked for.
type NewBreadResult struct {
	HasCustomer  bool
	TicketNumber int
	BreadsMade   int
	Total        int
	Completed    bool
	NextTicket   int
	BreadIndex   int64
}

// StampBread assigns the bread the oven just produced to the first ticket
// still owed breads, preferring the ticket the oven was already working
// on. The bread leaves the oven BakingTimeS after stamping.
func (s *BakeryState) StampBread(now time.Time) NewBreadResult {
	made := s.BreadsPerTicket()
	order := s.ActiveOrder()

	working, count := s.workingTicket(made, order)

	nowTS := now.Unix()
	s.LastBreadIndex++
	index := s.LastBreadIndex

	if working == 0 {
		// No incomplete ticket: keep the bread in the log under the
		// sentinel owner so counts stay honest.
		s.Breads = append(s.Breads, Bread{Index: index, ReadyAt: nowTS + int64(s.Config.BakingTimeS), Owner: 0})
		s.recordBreadInterval(nowTS)
		s.Prep = PrepState{}
		return NewBreadResult{HasCustomer: false, BreadIndex: index}
	}

	count++
	s.Breads = append(s.Breads, Bread{Index: index, ReadyAt: nowTS + int64(s.Config.BakingTimeS), Owner: working})
	s.recordBreadInterval(nowTS)

	total := s.Reservations[working].Total()
	res := NewBreadResult{
		HasCustomer:  true,
		TicketNumber: working,
		BreadsMade:   count,
		Total:        total,
		BreadIndex:   index,
	}

	if count < total {
		s.Prep = PrepState{CurrentTicket: working, BreadsMade: count}
		return res
	}

	res.Completed = true
	made[working] = count
	next := s.firstIncomplete(made, order)
	if next == 0 {
		// Oven idle: the next issued ticket should light the display.
		s.Prep = PrepState{}
		s.DisplayFlag = true
		return res
	}

	s.Prep = PrepState{CurrentTicket: next, BreadsMade: made[next]}
	s.Queue.AdvanceServed(next)
	res.NextTicket = next
	return res
}

// workingTicket resolves which ticket the next bread belongs to: the
// remembered prep target if it is still active and incomplete, otherwise
// the first incomplete ticket in order.
func (s *BakeryState) workingTicket(made map[int]int, order []int) (int, int) {
	if cur := s.Prep.CurrentTicket; cur != 0 {
		if res, active := s.Reservations[cur]; active && s.Prep.BreadsMade < res.Total() {
			return cur, made[cur]
		}
	}
	if first := s.firstIncomplete(made, order); first != 0 {
		return first, made[first]
	}
	return 0, 0
}

func (s *BakeryState) firstIncomplete(made map[int]int, order []int) int {
	for _, n := range order {
		if made[n] < s.Reservations[n].Total() {
			return n
		}
	}
	return 0
}

func (s *BakeryState) recordBreadInterval(nowTS int64) {
	if s.LastBreadTime > 0 {
		s.BreadTimeDiffs = append(s.BreadTimeDiffs, nowTS-s.LastBreadTime)
	}
	s.LastBreadTime = nowTS
}

// RebuildPrepState recomputes the oven target from reservations and the
// bread log; called on recovery so a restart does not restart the customer
// that was mid-preparation.
func (s *BakeryState) RebuildPrepState() {
	order := s.ActiveOrder()
	if len(order) == 0 {
		s.Prep = PrepState{}
		return
	}
	made := s.BreadsPerTicket()
	if first := s.firstIncomplete(made, order); first != 0 {
		s.Prep = PrepState{CurrentTicket: first, BreadsMade: made[first]}
		return
	}
	last := order[len(order)-1]
	s.Prep = PrepState{CurrentTicket: last, BreadsMade: s.Reservations[last].Total()}
}

// ConsumeTicketBreads removes every bread stamped to the ticket from the
// log (wait-list moves give the breads back to the rack) and rebuilds the
// prep target.
func (s *BakeryState) ConsumeTicketBreads(ticket int) int {
	kept := s.Breads[:0]
	removed := 0
	for _, b := range s.Breads {
		if b.Owner == ticket {
			removed++
			continue
		}
		kept = append(kept, b)
	}
	s.Breads = kept
	s.RebuildPrepState()
	return removed
}
