package queue

import "sort"

// The scheduler keeps singles and multis from queueing back-to-back: when a
// single would land right after a single, the skipped number is reserved
// for a future multi, and vice versa. Reserved numbers live in the slot
// sets until a matching order claims them or the served cutoff passes them.

// IssueSingle assigns the next ticket number for a one-bread order.
func (q *QueueState) IssueSingle() *Ticket {
	q.expireOldSlots()
	if q.NextNumber <= q.CurrentServed {
		q.NextNumber = q.CurrentServed + 1
	}

	if slots := q.validSlots(q.SlotsForSingles); len(slots) > 0 {
		s := slots[0]
		delete(q.SlotsForSingles, s)
		t := &Ticket{Number: s, Kind: KindSingle, Quantity: 1, Status: StatusWaiting, Timestamp: q.nowISO()}
		q.Tickets[s] = t
		return t
	}

	candidate := q.NextNumber
	assigned := candidate
	if prev, ok := q.prevTicketOfKind(KindSingle); ok && prev == candidate-1 {
		if _, taken := q.Tickets[candidate]; !taken {
			q.SlotsForMultis[candidate] = struct{}{}
		}
		assigned = candidate + 1
	}
	q.NextNumber = assigned + 1

	t := &Ticket{Number: assigned, Kind: KindSingle, Quantity: 1, Status: StatusWaiting, Timestamp: q.nowISO()}
	q.Tickets[assigned] = t
	return t
}

// IssueMulti assigns a ticket number for an order of quantity breads,
// consuming up to quantity reserved multi slots when any are free. The
// placeholders for all but the last consumed slot reference the multi
// that absorbed them.
func (q *QueueState) IssueMulti(quantity int) (*Ticket, error) {
	if quantity < 2 {
		return nil, Errorf(KindInvalidRequest, "multi ticket needs quantity >= 2, got %d", quantity)
	}

	q.expireOldSlots()
	if q.NextNumber <= q.CurrentServed {
		q.NextNumber = q.CurrentServed + 1
	}

	if available := q.validSlots(q.SlotsForMultis); len(available) > 0 {
		consumed := available
		if len(consumed) > quantity {
			consumed = consumed[:quantity]
		}
		for _, s := range consumed {
			delete(q.SlotsForMultis, s)
		}
		number := consumed[len(consumed)-1]
		for _, s := range consumed[:len(consumed)-1] {
			q.Tickets[s] = &Ticket{
				Number:       s,
				Kind:         KindConsumed,
				Status:       StatusConsumed,
				Timestamp:    q.nowISO(),
				ParentTicket: number,
			}
		}
		t := &Ticket{Number: number, Kind: KindMulti, Quantity: quantity, Status: StatusWaiting, Timestamp: q.nowISO()}
		q.Tickets[number] = t
		return t, nil
	}

	candidate := q.NextNumber
	assigned := candidate
	if prev, ok := q.prevTicketOfKind(KindMulti); ok && prev == candidate-1 {
		if _, taken := q.Tickets[candidate]; !taken {
			q.SlotsForSingles[candidate] = struct{}{}
		}
		assigned = candidate + 1
	}
	q.NextNumber = assigned + 1

	t := &Ticket{Number: assigned, Kind: KindMulti, Quantity: quantity, Status: StatusWaiting, Timestamp: q.nowISO()}
	q.Tickets[assigned] = t
	return t, nil
}

// Issue dispatches on the order's total bread count.
func (q *QueueState) Issue(total int) (*Ticket, error) {
	if total < 1 {
		return nil, Errorf(KindInvalidRequest, "order needs at least one bread")
	}
	if total == 1 {
		return q.IssueSingle(), nil
	}
	return q.IssueMulti(total)
}

// validSlots returns slots above the served cutoff, smallest first.
func (q *QueueState) validSlots(set map[int]struct{}) []int {
	out := make([]int, 0, len(set))
	for n := range set {
		if n > q.CurrentServed {
			out = append(out, n)
		}
	}
	sort.Ints(out)
	return out
}
