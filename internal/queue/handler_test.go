package queue

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/go-chi/chi/v5"
)

func newTestRouter(t *testing.T) (chi.Router, *MockStateStore) {
	t.Helper()
	store := NewMockStateStore()
	svc := NewService(store, NewMockJournal(), NewMockNotifier(), time.UTC, nil)
	svc.SetClock(fixedClock())

	r := chi.NewRouter()
	NewHandler(svc, apt.NewConfig(), apt.NewNoopLogger()).RegisterRoutes(r)
	NewCustomerHandler(svc, apt.NewNoopLogger()).RegisterRoutes(r)
	return r, store
}

func doRequest(r chi.Router, method, target, token, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func dataOf(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("cannot decode response %q: %v", w.Body.String(), err)
	}
	data, ok := resp["data"].(map[string]interface{})
	if !ok {
		t.Fatalf("response does not contain a data object: %s", w.Body.String())
	}
	return data
}

func TestHandlerNewCustomer(t *testing.T) {
	tests := []struct {
		name           string
		token          string
		body           string
		expectedStatus int
	}{
		{
			name:           "issuesTicket",
			token:          "secret",
			body:           `{"bakery_id":1,"requirements":{"1":1,"2":0,"3":0}}`,
			expectedStatus: http.StatusCreated,
		},
		{
			name:           "missingToken",
			body:           `{"bakery_id":1,"requirements":{"1":1,"2":0,"3":0}}`,
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "wrongToken",
			token:          "wrong",
			body:           `{"bakery_id":1,"requirements":{"1":1,"2":0,"3":0}}`,
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "invalidJSON",
			token:          "secret",
			body:           `{"bakery_id":`,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "emptyOrder",
			token:          "secret",
			body:           `{"bakery_id":1,"requirements":{"1":0,"2":0,"3":0}}`,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "unknownBakery",
			token:          "secret",
			body:           `{"bakery_id":9,"requirements":{"1":1,"2":0,"3":0}}`,
			expectedStatus: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, store := newTestRouter(t)
			st := NewBakeryState(testConfig())
			st.Queue.SetClock(fixedClock())
			store.Seed(st)

			w := doRequest(r, http.MethodPut, "/hc/nc", tt.token, tt.body)
			if w.Code != tt.expectedStatus {
				t.Fatalf("NewCustomer() status = %d, want %d: %s", w.Code, tt.expectedStatus, w.Body.String())
			}

			if tt.expectedStatus == http.StatusCreated {
				data := dataOf(t, w)
				if data["ticket_number"].(float64) != 1 {
					t.Errorf("ticket_number = %v, want 1", data["ticket_number"])
				}
				if data["token"].(string) == "" {
					t.Error("response is missing the daily token")
				}
			}
		})
	}
}

func TestHandlerNewBread(t *testing.T) {
	r, store := newTestRouter(t)
	st := NewBakeryState(testConfig())
	st.Queue.SetClock(fixedClock())
	store.Seed(st)

	w := doRequest(r, http.MethodPost, "/hc/nb/abc", "secret", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("non-numeric bakery id status = %d, want 400", w.Code)
	}

	w = doRequest(r, http.MethodPost, "/hc/nb/1", "secret", "")
	if w.Code != http.StatusOK {
		t.Fatalf("NewBread() status = %d, want 200: %s", w.Code, w.Body.String())
	}
	data := dataOf(t, w)
	if data["has_customer"].(bool) {
		t.Error("empty queue should report has_customer false")
	}
}

func TestHandlerServe(t *testing.T) {
	r, store := newTestRouter(t)
	st := NewBakeryState(testConfig())
	st.Queue.SetClock(fixedClock())
	st.WaitList[3] = Reservation{1, 0, 1}
	store.Seed(st)

	w := doRequest(r, http.MethodPut, "/hc/serve", "secret", `{"bakery_id":1,"ticket":3}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Serve() status = %d, want 200: %s", w.Code, w.Body.String())
	}
	data := dataOf(t, w)
	if data["served"].(float64) != 3 {
		t.Errorf("served = %v, want 3", data["served"])
	}
	detail, ok := data["user_detail"].(map[string]interface{})
	if !ok {
		t.Fatalf("response is missing user_detail: %s", w.Body.String())
	}
	if detail["1"].(float64) != 1 || detail["3"].(float64) != 1 {
		t.Errorf("user_detail = %v, want the reservation breakdown", detail)
	}

	w = doRequest(r, http.MethodPut, "/hc/serve", "secret", `{"bakery_id":1,"ticket":3}`)
	if w.Code != http.StatusNotFound {
		t.Errorf("serving twice status = %d, want 404", w.Code)
	}
}

func TestHandlerWaitListRoutes(t *testing.T) {
	r, store := newTestRouter(t)
	st := NewBakeryState(testConfig())
	st.Queue.SetClock(fixedClock())
	tk := st.Queue.IssueSingle()
	st.Reservations[tk.Number] = Reservation{1, 0, 0}
	store.Seed(st)

	w := doRequest(r, http.MethodGet, "/hc/wl/1/5", "secret", "")
	if w.Code != http.StatusOK {
		t.Fatalf("IsTicketInWaitList() status = %d, want 200: %s", w.Code, w.Body.String())
	}
	if dataOf(t, w)["in_wait_list"].(bool) {
		t.Error("ticket 5 should not be wait listed")
	}

	w = doRequest(r, http.MethodPut, "/hc/wl/1", "secret", "")
	if w.Code != http.StatusOK {
		t.Fatalf("SendCurrentToWaitList() status = %d, want 200: %s", w.Code, w.Body.String())
	}
	if dataOf(t, w)["moved_ticket"].(float64) != float64(tk.Number) {
		t.Errorf("moved_ticket = %v, want %d", dataOf(t, w)["moved_ticket"], tk.Number)
	}

	w = doRequest(r, http.MethodGet, "/hc/wl/1/1", "secret", "")
	if !dataOf(t, w)["in_wait_list"].(bool) {
		t.Error("head ticket should be wait listed after the move")
	}

	w = doRequest(r, http.MethodPut, "/hc/wl/1", "secret", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("empty queue status = %d, want 404", w.Code)
	}
}

func TestHandlerUpdateTimeout(t *testing.T) {
	r, store := newTestRouter(t)
	st := NewBakeryState(testConfig())
	store.Seed(st)

	w := doRequest(r, http.MethodPut, "/hc/timeout/update", "secret", `{"bakery_id":1,"timeout_s":240}`)
	if w.Code != http.StatusOK {
		t.Fatalf("UpdateTimeout() status = %d, want 200: %s", w.Code, w.Body.String())
	}
	if st.Config.TimeoutS != 240 {
		t.Errorf("timeout = %d, want 240", st.Config.TimeoutS)
	}

	w = doRequest(r, http.MethodPut, "/hc/timeout/update", "secret", `{"bakery_id":1,"timeout_s":-5}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("negative timeout status = %d, want 400", w.Code)
	}
}

func TestHandlerHardwareInit(t *testing.T) {
	r, store := newTestRouter(t)
	store.Seed(NewBakeryState(testConfig()))

	w := doRequest(r, http.MethodGet, "/hc/hardware_init", "secret", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing bakery_id status = %d, want 400", w.Code)
	}

	w = doRequest(r, http.MethodGet, "/hc/hardware_init?bakery_id=1", "secret", "")
	if w.Code != http.StatusOK {
		t.Fatalf("HardwareInit() status = %d, want 200: %s", w.Code, w.Body.String())
	}
	data := dataOf(t, w)
	if data["baking_time_s"].(float64) != 60 {
		t.Errorf("baking_time_s = %v, want 60", data["baking_time_s"])
	}
}

func TestCustomerHandlerTicketStatus(t *testing.T) {
	r, store := newTestRouter(t)
	st := NewBakeryState(testConfig())
	st.Queue.SetClock(fixedClock())
	tk := st.Queue.IssueSingle()
	st.Reservations[tk.Number] = Reservation{1, 0, 0}
	store.Seed(st)

	token := DailyToken(1, tk.Number, fixedClock()())

	tests := []struct {
		name           string
		target         string
		expectedStatus int
	}{
		{name: "ok", target: "/res/?b=1&t=" + token, expectedStatus: http.StatusOK},
		{name: "lowercaseToken", target: "/res/?b=1&t=" + strings.ToLower(token), expectedStatus: http.StatusOK},
		{name: "missingBakery", target: "/res/?t=" + token, expectedStatus: http.StatusBadRequest},
		{name: "missingToken", target: "/res/?b=1", expectedStatus: http.StatusBadRequest},
		{name: "unknownToken", target: "/res/?b=1&t=ZZZZZ", expectedStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(r, http.MethodGet, tt.target, "", "")
			if w.Code != tt.expectedStatus {
				t.Fatalf("TicketStatus() status = %d, want %d: %s", w.Code, tt.expectedStatus, w.Body.String())
			}
			if tt.expectedStatus == http.StatusOK {
				data := dataOf(t, w)
				if data["ticket_id"].(float64) != float64(tk.Number) {
					t.Errorf("ticket_id = %v, want %d", data["ticket_id"], tk.Number)
				}
				if data["ready"].(bool) {
					t.Error("fresh order should not be ready")
				}
			}
		})
	}
}

func TestCustomerHandlerQueueSummary(t *testing.T) {
	r, store := newTestRouter(t)
	st := NewBakeryState(testConfig())
	st.Queue.SetClock(fixedClock())
	tk := st.Queue.IssueSingle()
	st.Reservations[tk.Number] = Reservation{0, 2, 0}
	store.Seed(st)

	token := DailyToken(1, tk.Number, fixedClock()())
	w := doRequest(r, http.MethodGet, "/res/summary?b=1&t="+token, "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("QueueSummary() status = %d, want 200: %s", w.Code, w.Body.String())
	}
	data := dataOf(t, w)
	if data["people_in_queue_until_this_ticket"].(float64) != 0 {
		t.Errorf("people ahead = %v, want 0", data["people_in_queue_until_this_ticket"])
	}
}

// Handler auth reads the device token through the same store the service
// uses, so a bakery the store cannot load yields 404 before any work.
func TestHandlerAuthUnknownBakery(t *testing.T) {
	r, _ := newTestRouter(t)
	w := doRequest(r, http.MethodGet, "/hc/ct/7", "secret", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

// Exercised only to pin the context plumbing: handlers must pass the
// request context through to the store.
func TestHandlerPropagatesContext(t *testing.T) {
	r, store := newTestRouter(t)
	store.Seed(NewBakeryState(testConfig()))

	var sawCtx bool
	store.ViewFunc = func(ctx context.Context, bakeryID int, fn func(*BakeryState) error) error {
		if ctx != nil {
			sawCtx = true
		}
		return store.Update(ctx, bakeryID, fn)
	}

	doRequest(r, http.MethodGet, "/hc/ct/1", "secret", "")
	if !sawCtx {
		t.Error("request context was not passed to the store")
	}
}
