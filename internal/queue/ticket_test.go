package queue

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestQueueStateSnapshotRoundTrip(t *testing.T) {
	q := NewQueueState()
	q.SetClock(fixedClock())
	q.IssueSingle()
	q.IssueSingle()
	if _, err := q.IssueMulti(2); err != nil {
		t.Fatalf("IssueMulti error: %v", err)
	}
	q.AdvanceServed(1)

	data, err := json.Marshal(q)
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}

	restored := NewQueueState()
	if err := json.Unmarshal(data, restored); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}

	if restored.NextNumber != q.NextNumber {
		t.Errorf("next_number = %d, want %d", restored.NextNumber, q.NextNumber)
	}
	if restored.CurrentServed != q.CurrentServed {
		t.Errorf("current_served = %d, want %d", restored.CurrentServed, q.CurrentServed)
	}
	if !reflect.DeepEqual(restored.SlotsForMultis, q.SlotsForMultis) {
		t.Errorf("multi slots = %v, want %v", restored.SlotsForMultis, q.SlotsForMultis)
	}
	if !reflect.DeepEqual(restored.SlotsForSingles, q.SlotsForSingles) {
		t.Errorf("single slots = %v, want %v", restored.SlotsForSingles, q.SlotsForSingles)
	}
	if len(restored.Tickets) != len(q.Tickets) {
		t.Fatalf("tickets = %d, want %d", len(restored.Tickets), len(q.Tickets))
	}
	for n, want := range q.Tickets {
		got, ok := restored.Tickets[n]
		if !ok {
			t.Fatalf("ticket %d missing after round trip", n)
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("ticket %d = %+v, want %+v", n, got, want)
		}
	}
}

func TestQueueStateSnapshotDefaults(t *testing.T) {
	restored := NewQueueState()
	if err := json.Unmarshal([]byte(`{"tickets":{}}`), restored); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if restored.NextNumber != 1 {
		t.Errorf("next_number = %d, want default 1", restored.NextNumber)
	}
	if restored.Tickets == nil || restored.SlotsForMultis == nil || restored.SlotsForSingles == nil {
		t.Error("containers must be initialized after decode")
	}
}

func TestBakeryStateSnapshotRoundTrip(t *testing.T) {
	st := testState(t, Reservation{1, 0, 1}, Reservation{1, 0, 0})
	now := fixedClock()()
	st.StampBread(now)
	st.WaitList[20] = Reservation{0, 1, 0}
	st.Served[21] = struct{}{}
	st.UpcomingBreads[2] = struct{}{}

	data, err := json.Marshal(st)
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}

	restored := &BakeryState{}
	if err := json.Unmarshal(data, restored); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	restored.Normalize(st.Config)
	restored.RebuildPrepState()

	if !reflect.DeepEqual(restored.Reservations, st.Reservations) {
		t.Errorf("reservations = %v, want %v", restored.Reservations, st.Reservations)
	}
	if !reflect.DeepEqual(restored.WaitList, st.WaitList) {
		t.Errorf("wait list = %v, want %v", restored.WaitList, st.WaitList)
	}
	if !reflect.DeepEqual(restored.Breads, st.Breads) {
		t.Errorf("breads = %v, want %v", restored.Breads, st.Breads)
	}
	if restored.Prep != st.Prep {
		t.Errorf("prep = %+v, want %+v", restored.Prep, st.Prep)
	}
	if restored.Queue.NextNumber != st.Queue.NextNumber {
		t.Errorf("next_number = %d, want %d", restored.Queue.NextNumber, st.Queue.NextNumber)
	}
	if _, ok := restored.Served[21]; !ok {
		t.Error("served set lost in round trip")
	}
	if _, ok := restored.UpcomingBreads[2]; !ok {
		t.Error("upcoming breads lost in round trip")
	}
}

func TestReservationFromRequirements(t *testing.T) {
	cfg := testConfig()

	tests := []struct {
		name    string
		req     map[int]int
		want    Reservation
		wantErr bool
	}{
		{
			name: "validOrder",
			req:  map[int]int{1: 1, 2: 0, 3: 2},
			want: Reservation{1, 0, 2},
		},
		{
			name:    "wrongShape",
			req:     map[int]int{1: 1},
			wantErr: true,
		},
		{
			name:    "unknownBreadType",
			req:     map[int]int{1: 1, 2: 0, 9: 1},
			wantErr: true,
		},
		{
			name:    "negativeCount",
			req:     map[int]int{1: -1, 2: 1, 3: 0},
			wantErr: true,
		},
		{
			name:    "emptyOrder",
			req:     map[int]int{1: 0, 2: 0, 3: 0},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ReservationFromRequirements(cfg, tt.req)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected an error")
				}
				if KindOf(err) != KindInvalidRequest {
					t.Errorf("kind = %q, want invalid_request", KindOf(err))
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("reservation = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCanonicalBreadOrdering(t *testing.T) {
	cfg := &BakeryConfig{PrepTimes: map[int]int{7: 10, 2: 20, 5: 30}}

	order := cfg.BreadOrder()
	want := []int{2, 5, 7}
	if !reflect.DeepEqual(order, want) {
		t.Errorf("bread order = %v, want ascending %v", order, want)
	}

	times := cfg.OrderedPrepTimes()
	if !reflect.DeepEqual(times, []int{20, 30, 10}) {
		t.Errorf("ordered prep times = %v, want [20 30 10]", times)
	}
}
