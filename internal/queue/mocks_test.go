package queue

import (
	"context"
	"fmt"
	"sync"
)

// MockStateStore is an in-memory StateStore for testing.
type MockStateStore struct {
	mu     sync.Mutex
	states map[int]*BakeryState

	UpdateFunc func(ctx context.Context, bakeryID int, fn func(*BakeryState) error) error
	ViewFunc   func(ctx context.Context, bakeryID int, fn func(*BakeryState) error) error
	PurgeFunc  func(ctx context.Context, bakeryID int) error
}

func NewMockStateStore() *MockStateStore {
	return &MockStateStore{
		states: make(map[int]*BakeryState),
	}
}

func (m *MockStateStore) Seed(st *BakeryState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[st.Config.BakeryID] = st
}

func (m *MockStateStore) Update(ctx context.Context, bakeryID int, fn func(*BakeryState) error) error {
	if m.UpdateFunc != nil {
		return m.UpdateFunc(ctx, bakeryID, fn)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[bakeryID]
	if !ok {
		return NotFoundError(ReasonBakeryMissing)
	}
	return fn(st)
}

func (m *MockStateStore) View(ctx context.Context, bakeryID int, fn func(*BakeryState) error) error {
	if m.ViewFunc != nil {
		return m.ViewFunc(ctx, bakeryID, fn)
	}
	return m.Update(ctx, bakeryID, fn)
}

func (m *MockStateStore) Purge(ctx context.Context, bakeryID int) error {
	if m.PurgeFunc != nil {
		return m.PurgeFunc(ctx, bakeryID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, bakeryID)
	return nil
}

// MockJournal is an in-memory Journal for testing.
type MockJournal struct {
	mu sync.Mutex

	Configs   map[int]*BakeryConfig
	Customers []CustomerRecord
	Snapshots map[string][]byte
	WaitLists map[int][]int
	Breads    map[int][]Bread
	Consumed  map[int][]int
	Timeouts  map[int]int
	Dequeued  map[int][]int

	ConfigFunc       func(ctx context.Context, bakeryID int) (*BakeryConfig, error)
	LoadSnapshotFunc func(ctx context.Context, bakeryID int, date string) ([]byte, error)
}

func NewMockJournal() *MockJournal {
	return &MockJournal{
		Configs:   make(map[int]*BakeryConfig),
		Snapshots: make(map[string][]byte),
		WaitLists: make(map[int][]int),
		Breads:    make(map[int][]Bread),
		Consumed:  make(map[int][]int),
		Timeouts:  make(map[int]int),
		Dequeued:  make(map[int][]int),
	}
}

func (m *MockJournal) Config(ctx context.Context, bakeryID int) (*BakeryConfig, error) {
	if m.ConfigFunc != nil {
		return m.ConfigFunc(ctx, bakeryID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, ok := m.Configs[bakeryID]
	if !ok {
		return nil, NotFoundError(ReasonBakeryMissing)
	}
	return cfg, nil
}

func (m *MockJournal) ActiveBakeries(ctx context.Context) ([]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []int
	for id := range m.Configs {
		ids = append(ids, id)
	}
	return ids, nil
}

func (m *MockJournal) SetTimeout(ctx context.Context, bakeryID, timeoutS int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Timeouts[bakeryID] = timeoutS
	return nil
}

func (m *MockJournal) RegisterCustomer(ctx context.Context, rec CustomerRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Customers = append(m.Customers, rec)
	return nil
}

func (m *MockJournal) SetInQueue(ctx context.Context, bakeryID, ticket int, inQueue bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !inQueue {
		m.Dequeued[bakeryID] = append(m.Dequeued[bakeryID], ticket)
	}
	return nil
}

func (m *MockJournal) RecordWaitList(ctx context.Context, bakeryID, ticket int, requirements map[int]int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.WaitLists[bakeryID] = append(m.WaitLists[bakeryID], ticket)
	return nil
}

func (m *MockJournal) RecordBread(ctx context.Context, bakeryID int, bread Bread) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Breads[bakeryID] = append(m.Breads[bakeryID], bread)
	return nil
}

func (m *MockJournal) ConsumeBreads(ctx context.Context, bakeryID, ticket int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Consumed[bakeryID] = append(m.Consumed[bakeryID], ticket)
	return nil
}

func (m *MockJournal) SaveSnapshot(ctx context.Context, bakeryID int, date string, state []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Snapshots[snapshotKey(bakeryID, date)] = state
	return nil
}

func (m *MockJournal) LoadSnapshot(ctx context.Context, bakeryID int, date string) ([]byte, error) {
	if m.LoadSnapshotFunc != nil {
		return m.LoadSnapshotFunc(ctx, bakeryID, date)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.Snapshots[snapshotKey(bakeryID, date)]
	if !ok {
		return nil, NotFoundError("no snapshot for date")
	}
	return data, nil
}

func (m *MockJournal) LastTicketNumber(ctx context.Context, bakeryID int, date string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	last := 0
	for _, rec := range m.Customers {
		if rec.BakeryID == bakeryID && rec.TicketNumber > last {
			last = rec.TicketNumber
		}
	}
	return last, nil
}

func snapshotKey(bakeryID int, date string) string {
	return fmt.Sprintf("%d/%s", bakeryID, date)
}

// MockNotifier records notification calls for assertions.
type MockNotifier struct {
	mu sync.Mutex

	DisplayCalls  []bool
	UpcomingCalls []bool
	IssuedTickets []int
}

func NewMockNotifier() *MockNotifier {
	return &MockNotifier{}
}

func (m *MockNotifier) DisplayChanged(ctx context.Context, bakeryID int, hasCustomer bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DisplayCalls = append(m.DisplayCalls, hasCustomer)
}

func (m *MockNotifier) UpcomingChanged(ctx context.Context, bakeryID int, hasUpcoming bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.UpcomingCalls = append(m.UpcomingCalls, hasUpcoming)
}

func (m *MockNotifier) TicketIssued(ctx context.Context, bakeryID, ticket int, upcoming bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.IssuedTickets = append(m.IssuedTickets, ticket)
}
