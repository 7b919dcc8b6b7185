package queue

import (
	"testing"
	"time"
)

func TestReadinessEmptyLogSumsPreparationAhead(t *testing.T) {
	st := testState(t, Reservation{1, 0, 0}, Reservation{0, 0, 1})
	now := fixedClock()()

	second := st.ActiveOrder()[1]
	r, err := st.TicketReadiness(second, now)
	if err != nil {
		t.Fatalf("TicketReadiness error: %v", err)
	}

	// baking 60 + prep(ticket 1) 60 + prep(self) 20.
	if r.WaitS != 140 {
		t.Errorf("wait = %d, want 140", r.WaitS)
	}
	if r.Ready || r.Precise {
		t.Errorf("readiness = (%v, %v), want modelled estimate", r.Ready, r.Precise)
	}
	if r.QueueAhead != 1 {
		t.Errorf("queue ahead = %d, want 1", r.QueueAhead)
	}
}

func TestReadinessSingleOrderEmptyBakery(t *testing.T) {
	st := NewBakeryState(&BakeryConfig{
		BakeryID:    1,
		PrepTimes:   map[int]int{1: 30},
		BakingTimeS: 60,
	})
	st.Queue.SetClock(fixedClock())
	tk := st.Queue.IssueSingle()
	st.Reservations[tk.Number] = Reservation{1}

	r, err := st.TicketReadiness(tk.Number, fixedClock()())
	if err != nil {
		t.Fatalf("TicketReadiness error: %v", err)
	}
	if r.Ready {
		t.Error("fresh order cannot be ready")
	}
	if r.WaitS != 90 {
		t.Errorf("wait = %d, want 90", r.WaitS)
	}
}

func TestReadinessAheadContributions(t *testing.T) {
	// Ticket 1 partial (1 of 2 made), ticket 2 untouched, target is 3.
	st := testState(t, Reservation{2, 0, 0}, Reservation{0, 1, 0}, Reservation{0, 0, 1})
	now := fixedClock()()
	st.StampBread(now)

	order := st.ActiveOrder()
	target := order[2]
	r, err := st.TicketReadiness(target, now)
	if err != nil {
		t.Fatalf("TicketReadiness error: %v", err)
	}

	// Partial ahead: (2-1) x floor((60+80+20)/3) = 53.
	// Untouched ahead: prep 80. Self: prep 20. Baking: 60.
	want := int64(53 + 80 + 20 + 60)
	if r.WaitS != want {
		t.Errorf("wait = %d, want %d", r.WaitS, want)
	}
}

func TestReadinessPartialSelfUsesOwnAverage(t *testing.T) {
	st := testState(t, Reservation{1, 1, 0})
	now := fixedClock()()
	st.StampBread(now)

	r, err := st.TicketReadiness(1, now)
	if err != nil {
		t.Fatalf("TicketReadiness error: %v", err)
	}

	// One bread left, avg over ordered types (60+80)/2 = 70, plus baking.
	if r.WaitS != 130 {
		t.Errorf("wait = %d, want 130", r.WaitS)
	}
	if r.Precise {
		t.Error("partial estimate must not be flagged precise")
	}
}

func TestReadinessCompleteTicket(t *testing.T) {
	st := testState(t, Reservation{1, 0, 0})
	now := fixedClock()()
	st.StampBread(now)

	early, err := st.TicketReadiness(1, now.Add(10*time.Second))
	if err != nil {
		t.Fatalf("TicketReadiness error: %v", err)
	}
	if early.Ready {
		t.Error("ticket cannot be ready while the bread is still baking")
	}
	if !early.Precise {
		t.Error("estimate from baked timestamps must be precise")
	}
	if early.WaitS != 50 {
		t.Errorf("wait = %d, want 50", early.WaitS)
	}

	late, err := st.TicketReadiness(1, now.Add(61*time.Second))
	if err != nil {
		t.Fatalf("TicketReadiness error: %v", err)
	}
	if !late.Ready || !late.Precise {
		t.Errorf("readiness = (%v, %v), want (true, true)", late.Ready, late.Precise)
	}
	if late.WaitS != 0 {
		t.Errorf("wait = %d, want 0", late.WaitS)
	}
}

func TestReadinessMonotonicUnderProgress(t *testing.T) {
	st := testState(t, Reservation{2, 0, 0})
	now := fixedClock()()

	before, err := st.TicketReadiness(1, now)
	if err != nil {
		t.Fatalf("TicketReadiness error: %v", err)
	}

	st.StampBread(now)
	after, err := st.TicketReadiness(1, now)
	if err != nil {
		t.Fatalf("TicketReadiness error: %v", err)
	}

	if after.WaitS > before.WaitS {
		t.Errorf("wait rose from %d to %d after progress", before.WaitS, after.WaitS)
	}
}

func TestReadinessNotFoundClassification(t *testing.T) {
	st := testState(t, Reservation{1, 0, 0})
	st.WaitList[7] = Reservation{1, 0, 0}
	st.Served[9] = struct{}{}
	now := fixedClock()()

	tests := []struct {
		name   string
		ticket int
		reason string
	}{
		{name: "inWaitList", ticket: 7, reason: ReasonTicketInWaitList},
		{name: "alreadyServed", ticket: 9, reason: ReasonTicketServed},
		{name: "unknown", ticket: 42, reason: ReasonTicketMissing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := st.TicketReadiness(tt.ticket, now)
			if err == nil {
				t.Fatal("expected an error")
			}
			if KindOf(err) != KindNotFound {
				t.Errorf("kind = %q, want not_found", KindOf(err))
			}
			if ReasonOf(err) != tt.reason {
				t.Errorf("reason = %q, want %q", ReasonOf(err), tt.reason)
			}
		})
	}
}

func TestEmptySlotPadding(t *testing.T) {
	st := testState(t, Reservation{1, 0, 0})
	st.Reservations[3] = Reservation{0, 0, 1}
	st.Queue.Tickets[3] = &Ticket{Number: 3, Kind: KindSingle, Quantity: 1, Status: StatusWaiting}
	now := fixedClock()()

	r, err := st.TicketReadiness(3, now)
	if err != nil {
		t.Fatalf("TicketReadiness error: %v", err)
	}

	// Active singles at 1 and 3 form one lone-loaf pair priced at the
	// slowest bread (80s).
	if r.PaddingS != 80 {
		t.Errorf("padding = %d, want 80", r.PaddingS)
	}
	// The pair is a forecast field only; the wait stays
	// baking 60 + prep(1) 60 + prep(3) 20.
	if r.WaitS != 140 {
		t.Errorf("wait = %d, want 140", r.WaitS)
	}
}

func TestEmptySlotPaddingIgnoresReservedSlots(t *testing.T) {
	st := testState(t, Reservation{1, 0, 0})
	st.Reservations[10] = Reservation{2, 0, 0}
	st.Queue.Tickets[10] = &Ticket{Number: 10, Kind: KindMulti, Quantity: 2, Status: StatusWaiting}
	st.Queue.SlotsForSingles[4] = struct{}{}
	st.Queue.SlotsForSingles[5] = struct{}{}
	now := fixedClock()()

	r, err := st.TicketReadiness(10, now)
	if err != nil {
		t.Fatalf("TicketReadiness error: %v", err)
	}

	// A single ahead of a bulk order is not a pair, and unclaimed slot
	// numbers never count. baking 60 + prep(1) 60 + prep(10) 120.
	if r.PaddingS != 0 {
		t.Errorf("padding = %d, want 0", r.PaddingS)
	}
	if r.WaitS != 240 {
		t.Errorf("wait = %d, want 240", r.WaitS)
	}
}

func TestEmptySlotPaddingClamped(t *testing.T) {
	st := testState(t,
		Reservation{1, 0, 0},
		Reservation{1, 0, 0},
		Reservation{1, 0, 0},
		Reservation{1, 0, 0},
		Reservation{1, 0, 0},
	)
	now := fixedClock()()

	order := st.ActiveOrder()
	r, err := st.TicketReadiness(order[len(order)-1], now)
	if err != nil {
		t.Fatalf("TicketReadiness error: %v", err)
	}

	// Four lone-loaf pairs at 80s each overflow the cap.
	if r.PaddingS != maxEmptySlotPadding {
		t.Errorf("padding = %d, want clamp %d", r.PaddingS, maxEmptySlotPadding)
	}
}

func TestInQueueTimeIncludesTimeout(t *testing.T) {
	st := testState(t, Reservation{1, 0, 0})
	now := fixedClock()()

	r, err := st.TicketReadiness(1, now)
	if err != nil {
		t.Fatalf("TicketReadiness error: %v", err)
	}

	// prep 60 + timeout 120.
	if r.InQueueS != 180 {
		t.Errorf("in-queue time = %d, want 180", r.InQueueS)
	}
}
