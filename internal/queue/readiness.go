package queue

import "time"

// maxEmptySlotPadding caps the forecast idle-gap seconds reported for
// back-to-back same-size orders ahead of a ticket.
const maxEmptySlotPadding = 300

// Readiness is the answer to "is my order ready, and if not, how long".
// Precise means the estimate comes from actual baked timestamps rather
// than the preparation model.
type Readiness struct {
	Ready      bool
	Precise    bool
	WaitS      int64
	InQueueS   int64
	PaddingS   int64
	QueueAhead int
}

// TicketReadiness walks the queue ahead of the ticket and estimates how
// many seconds remain until its last bread leaves the oven.
//
// Four regimes, resolved in order: nothing baked yet today, baking under
// way but none of this ticket's breads stamped, this ticket partially
// stamped, and this ticket fully stamped (ready once the last bread's
// ready-at passes).
func (s *BakeryState) TicketReadiness(ticket int, now time.Time) (Readiness, error) {
	res, active := s.Reservations[ticket]
	if !active {
		if _, served := s.Served[ticket]; served {
			return Readiness{}, NotFoundError(ReasonTicketServed)
		}
		if _, waiting := s.WaitList[ticket]; waiting {
			return Readiness{}, NotFoundError(ReasonTicketInWaitList)
		}
		return Readiness{}, NotFoundError(ReasonTicketMissing)
	}

	order := s.ActiveOrder()
	made := s.BreadsPerTicket()
	total := res.Total()
	baking := int64(s.Config.BakingTimeS)

	out := Readiness{
		InQueueS:   s.inQueueTime(ticket, order),
		PaddingS:   s.emptySlotPadding(ticket, order),
		QueueAhead: s.queueAhead(ticket, order),
	}

	if len(s.Breads) == 0 {
		wait := baking
		for _, n := range order {
			if n > ticket {
				break
			}
			wait += s.reservationPrepTime(s.Reservations[n])
		}
		out.WaitS = wait
		return out, nil
	}

	if made[ticket] == 0 {
		wait := baking + s.reservationPrepTime(res)
		for _, n := range order {
			if n >= ticket {
				break
			}
			other := s.Reservations[n]
			switch done := made[n]; {
			case done >= other.Total():
				// Complete tickets ahead cost nothing more.
			case done > 0:
				wait += int64(other.Total()-done) * s.avgPrepAll()
			default:
				wait += s.reservationPrepTime(other)
			}
		}
		out.WaitS = wait
		return out, nil
	}

	if made[ticket] < total {
		out.WaitS = int64(total-made[ticket])*s.avgPrepTime(res) + baking
		return out, nil
	}

	// Every bread stamped; ready when the count-th bread's ready-at passes.
	times := s.BreadsOwnedBy(ticket)
	lastReady := times[total-1]
	out.Precise = true
	if nowTS := now.Unix(); lastReady <= nowTS {
		out.Ready = true
	} else {
		out.WaitS = lastReady - nowTS
	}
	return out, nil
}

// reservationPrepTime is the full preparation cost of a reservation.
func (s *BakeryState) reservationPrepTime(res Reservation) int64 {
	var sum int64
	for i, id := range s.Config.BreadOrder() {
		if i < len(res) {
			sum += int64(res[i]) * int64(s.Config.PrepTimes[id])
		}
	}
	return sum
}

// avgPrepAll is the mean preparation time over every bread type the
// bakery offers, integer seconds.
func (s *BakeryState) avgPrepAll() int64 {
	var sum int64
	for _, t := range s.Config.PrepTimes {
		sum += int64(t)
	}
	if len(s.Config.PrepTimes) == 0 {
		return 0
	}
	return sum / int64(len(s.Config.PrepTimes))
}

// avgPrepTime is the mean preparation time over the bread types the
// reservation actually orders, integer seconds.
func (s *BakeryState) avgPrepTime(res Reservation) int64 {
	var sum int64
	var kinds int64
	for i, id := range s.Config.BreadOrder() {
		if i < len(res) && res[i] > 0 {
			sum += int64(s.Config.PrepTimes[id])
			kinds++
		}
	}
	if kinds == 0 {
		return 0
	}
	return sum / kinds
}

// emptySlotPadding forecasts idle oven gaps ahead of the ticket. It walks
// the sorted active tickets and counts consecutive pairs whose reservation
// totals are both one (two lone loaves in a row) or both above one (two
// bulk orders in a row), up to and including the ticket. Each pair is
// charged at the slowest bread's preparation time, capped.
//
// The padding is a forecast field on its own; it never feeds the wait
// estimate.
func (s *BakeryState) emptySlotPadding(ticket int, order []int) int64 {
	pairs := 0
	prev := -1
	for _, n := range order {
		if n > ticket {
			break
		}
		total := s.Reservations[n].Total()
		if prev >= 0 {
			if (prev == 1 && total == 1) || (prev > 1 && total > 1) {
				pairs++
			}
		}
		prev = total
	}
	if pairs == 0 {
		return 0
	}

	slowest := 0
	for _, t := range s.Config.PrepTimes {
		if t > slowest {
			slowest = t
		}
	}
	padding := int64(pairs) * int64(slowest)
	if padding > maxEmptySlotPadding {
		padding = maxEmptySlotPadding
	}
	return padding
}

// inQueueTime is the pessimistic in-queue estimate shown alongside the
// readiness answer: everything up to and including the ticket, plus the
// pickup timeout.
func (s *BakeryState) inQueueTime(ticket int, order []int) int64 {
	var sum int64
	for _, n := range order {
		if n > ticket {
			break
		}
		sum += s.reservationPrepTime(s.Reservations[n])
	}
	return sum + int64(s.Config.TimeoutS)
}

func (s *BakeryState) queueAhead(ticket int, order []int) int {
	count := 0
	for _, n := range order {
		if n < ticket {
			count++
		}
	}
	return count
}
