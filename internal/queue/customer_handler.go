package queue

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/apt/telemetry"
	"github.com/go-chi/chi/v5"
)

// CustomerHandler serves the public readiness endpoints customers poll
// from their receipts. Lookups are by daily token, so a receipt is only
// meaningful for one bakery-day. No authentication.
type CustomerHandler struct {
	logger  apt.Logger
	tlm     *telemetry.HTTP
	service *Service
}

func NewCustomerHandler(service *Service, logger apt.Logger) *CustomerHandler {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	return &CustomerHandler{
		logger:  logger,
		tlm:     telemetry.NewHTTP(),
		service: service,
	}
}

func (h *CustomerHandler) RegisterRoutes(r chi.Router) {
	r.Route("/res", func(r chi.Router) {
		r.Get("/", h.TicketStatus)
		r.Get("/summary", h.QueueSummary)
	})
}

func (h *CustomerHandler) TicketStatus(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "CustomerHandler.TicketStatus")
	defer finish()

	bakeryID, token, ok := h.params(w, r)
	if !ok {
		return
	}

	status, err := h.service.TicketStatusByToken(r.Context(), bakeryID, token)
	if err != nil {
		h.respondError(w, err)
		return
	}
	apt.Respond(w, http.StatusOK, status, nil)
}

func (h *CustomerHandler) QueueSummary(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "CustomerHandler.QueueSummary")
	defer finish()

	bakeryID, token, ok := h.params(w, r)
	if !ok {
		return
	}

	sum, err := h.service.QueueSummaryByToken(r.Context(), bakeryID, token)
	if err != nil {
		h.respondError(w, err)
		return
	}
	apt.Respond(w, http.StatusOK, sum, nil)
}

func (h *CustomerHandler) params(w http.ResponseWriter, r *http.Request) (int, string, bool) {
	bakeryID, err := strconv.Atoi(r.URL.Query().Get("b"))
	if err != nil || bakeryID <= 0 {
		apt.RespondError(w, http.StatusBadRequest, "query parameter b must be a positive integer")
		return 0, "", false
	}
	token := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("t")))
	if token == "" {
		apt.RespondError(w, http.StatusBadRequest, "query parameter t is required")
		return 0, "", false
	}
	return bakeryID, token, true
}

func (h *CustomerHandler) respondError(w http.ResponseWriter, err error) {
	switch KindOf(err) {
	case KindInvalidRequest:
		apt.RespondError(w, http.StatusBadRequest, ReasonOf(err))
	case KindNotFound:
		apt.RespondError(w, http.StatusNotFound, ReasonOf(err))
	default:
		apt.RespondError(w, http.StatusInternalServerError, "internal error")
	}
}
