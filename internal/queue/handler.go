package queue

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/apt/telemetry"
	"github.com/go-chi/chi/v5"
)

const MaxBodyBytes = 1 << 20

// Handler exposes the hardware-facing queue endpoints. Every /hc route is
// called by bakery devices and must carry the bakery's bearer token.
type Handler struct {
	logger  apt.Logger
	config  *apt.Config
	tlm     *telemetry.HTTP
	service *Service
}

func NewHandler(service *Service, config *apt.Config, logger apt.Logger) *Handler {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	return &Handler{
		logger:  logger,
		config:  config,
		tlm:     telemetry.NewHTTP(),
		service: service,
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/hc", func(r chi.Router) {
		r.Put("/nc", h.NewCustomer)
		r.Post("/nb/{bakeryID}", h.NewBread)
		r.Get("/ct/{bakeryID}", h.CurrentTicket)
		r.Put("/st", h.SetUpcomingBreads)
		r.Put("/serve", h.Serve)
		r.Put("/serve_by_token", h.ServeByToken)
		r.Put("/wl/{bakeryID}", h.SendCurrentToWaitList)
		r.Get("/wl/{bakeryID}/{ticketID}", h.IsTicketInWaitList)
		r.Put("/timeout/update", h.UpdateTimeout)
		r.Get("/qs/{bakeryID}", h.QueueStatus)
		r.Get("/hardware_init", h.HardwareInit)
	})
}

type newCustomerPayload struct {
	BakeryID     int         `json:"bakery_id"`
	Requirements map[int]int `json:"requirements"`
}

func (h *Handler) NewCustomer(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.NewCustomer")
	defer finish()

	log := h.log(r)

	var payload newCustomerPayload
	if !h.decode(w, r, &payload) {
		return
	}
	if !h.authorize(w, r, payload.BakeryID) {
		return
	}

	issue, err := h.service.NewTicket(r.Context(), payload.BakeryID, payload.Requirements)
	if err != nil {
		log.Info("cannot issue ticket", "bakery_id", payload.BakeryID, "error", err)
		h.respondError(w, err)
		return
	}

	log.Info("ticket issued", "bakery_id", payload.BakeryID, "ticket", issue.TicketNumber)
	apt.Respond(w, http.StatusCreated, issue, nil)
}

func (h *Handler) NewBread(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.NewBread")
	defer finish()

	log := h.log(r)

	bakeryID, ok := h.pathInt(w, r, "bakeryID")
	if !ok {
		return
	}
	if !h.authorize(w, r, bakeryID) {
		return
	}

	out, err := h.service.NewBread(r.Context(), bakeryID)
	if err != nil {
		log.Error("cannot record bread", "bakery_id", bakeryID, "error", err)
		h.respondError(w, err)
		return
	}
	apt.Respond(w, http.StatusOK, out, nil)
}

func (h *Handler) CurrentTicket(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.CurrentTicket")
	defer finish()

	bakeryID, ok := h.pathInt(w, r, "bakeryID")
	if !ok {
		return
	}
	if !h.authorize(w, r, bakeryID) {
		return
	}

	info, err := h.service.CurrentTicket(r.Context(), bakeryID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	apt.Respond(w, http.StatusOK, info, nil)
}

type upcomingBreadsPayload struct {
	BakeryID     int   `json:"bakery_id"`
	BreadTypeIDs []int `json:"bread_type_ids"`
}

func (h *Handler) SetUpcomingBreads(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.SetUpcomingBreads")
	defer finish()

	var payload upcomingBreadsPayload
	if !h.decode(w, r, &payload) {
		return
	}
	if !h.authorize(w, r, payload.BakeryID) {
		return
	}

	if err := h.service.SetUpcomingBreads(r.Context(), payload.BakeryID, payload.BreadTypeIDs); err != nil {
		h.respondError(w, err)
		return
	}
	apt.Respond(w, http.StatusOK, map[string]bool{"updated": true}, nil)
}

type servePayload struct {
	BakeryID int `json:"bakery_id"`
	Ticket   int `json:"ticket"`
}

func (h *Handler) Serve(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.Serve")
	defer finish()

	log := h.log(r)

	var payload servePayload
	if !h.decode(w, r, &payload) {
		return
	}
	if !h.authorize(w, r, payload.BakeryID) {
		return
	}

	detail, err := h.service.Serve(r.Context(), payload.BakeryID, payload.Ticket)
	if err != nil {
		log.Info("cannot serve ticket", "bakery_id", payload.BakeryID, "ticket", payload.Ticket, "error", err)
		h.respondError(w, err)
		return
	}
	apt.Respond(w, http.StatusOK, map[string]any{"served": payload.Ticket, "user_detail": detail}, nil)
}

type serveByTokenPayload struct {
	BakeryID int    `json:"bakery_id"`
	Token    string `json:"token"`
}

func (h *Handler) ServeByToken(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.ServeByToken")
	defer finish()

	log := h.log(r)

	var payload serveByTokenPayload
	if !h.decode(w, r, &payload) {
		return
	}
	if !h.authorize(w, r, payload.BakeryID) {
		return
	}

	ticket, detail, err := h.service.ServeByToken(r.Context(), payload.BakeryID, strings.ToUpper(strings.TrimSpace(payload.Token)))
	if err != nil {
		log.Info("cannot serve by token", "bakery_id", payload.BakeryID, "error", err)
		h.respondError(w, err)
		return
	}
	apt.Respond(w, http.StatusOK, map[string]any{"served": ticket, "user_detail": detail}, nil)
}

func (h *Handler) SendCurrentToWaitList(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.SendCurrentToWaitList")
	defer finish()

	bakeryID, ok := h.pathInt(w, r, "bakeryID")
	if !ok {
		return
	}
	if !h.authorize(w, r, bakeryID) {
		return
	}

	move, err := h.service.SendCurrentToWaitList(r.Context(), bakeryID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	apt.Respond(w, http.StatusOK, move, nil)
}

func (h *Handler) IsTicketInWaitList(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.IsTicketInWaitList")
	defer finish()

	bakeryID, ok := h.pathInt(w, r, "bakeryID")
	if !ok {
		return
	}
	ticket, ok := h.pathInt(w, r, "ticketID")
	if !ok {
		return
	}
	if !h.authorize(w, r, bakeryID) {
		return
	}

	in, err := h.service.IsTicketInWaitList(r.Context(), bakeryID, ticket)
	if err != nil {
		h.respondError(w, err)
		return
	}
	apt.Respond(w, http.StatusOK, map[string]bool{"in_wait_list": in}, nil)
}

type timeoutPayload struct {
	BakeryID int `json:"bakery_id"`
	TimeoutS int `json:"timeout_s"`
}

func (h *Handler) UpdateTimeout(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.UpdateTimeout")
	defer finish()

	var payload timeoutPayload
	if !h.decode(w, r, &payload) {
		return
	}
	if !h.authorize(w, r, payload.BakeryID) {
		return
	}

	if err := h.service.UpdateTimeout(r.Context(), payload.BakeryID, payload.TimeoutS); err != nil {
		h.respondError(w, err)
		return
	}
	apt.Respond(w, http.StatusOK, map[string]int{"timeout_s": payload.TimeoutS}, nil)
}

func (h *Handler) QueueStatus(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.QueueStatus")
	defer finish()

	bakeryID, ok := h.pathInt(w, r, "bakeryID")
	if !ok {
		return
	}
	if !h.authorize(w, r, bakeryID) {
		return
	}

	sum, err := h.service.QueueStatus(r.Context(), bakeryID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	apt.Respond(w, http.StatusOK, sum, nil)
}

func (h *Handler) HardwareInit(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.HardwareInit")
	defer finish()

	bakeryID, err := strconv.Atoi(r.URL.Query().Get("bakery_id"))
	if err != nil || bakeryID <= 0 {
		apt.RespondError(w, http.StatusBadRequest, "bakery_id is required")
		return
	}
	if !h.authorize(w, r, bakeryID) {
		return
	}

	info, err := h.service.HardwareInit(r.Context(), bakeryID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	apt.Respond(w, http.StatusOK, info, nil)
}

// authorize matches the bearer token against the bakery's configured
// device token.
func (h *Handler) authorize(w http.ResponseWriter, r *http.Request, bakeryID int) bool {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if token == "" {
		apt.RespondError(w, http.StatusUnauthorized, "missing bearer token")
		return false
	}

	var expected string
	err := h.service.store.View(r.Context(), bakeryID, func(st *BakeryState) error {
		expected = st.Config.Token
		return nil
	})
	if err != nil {
		h.respondError(w, err)
		return false
	}
	if expected == "" || token != expected {
		h.log(r).Info("device token rejected", "bakery_id", bakeryID)
		apt.RespondError(w, http.StatusUnauthorized, "invalid token")
		return false
	}
	return true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		apt.RespondError(w, http.StatusBadRequest, "invalid JSON payload")
		return false
	}
	return true
}

func (h *Handler) pathInt(w http.ResponseWriter, r *http.Request, key string) (int, bool) {
	v, err := strconv.Atoi(chi.URLParam(r, key))
	if err != nil || v <= 0 {
		apt.RespondError(w, http.StatusBadRequest, key+" must be a positive integer")
		return 0, false
	}
	return v, true
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch KindOf(err) {
	case KindInvalidRequest:
		apt.RespondError(w, http.StatusBadRequest, ReasonOf(err))
	case KindNotFound:
		apt.RespondError(w, http.StatusNotFound, ReasonOf(err))
	case KindConflict:
		apt.RespondError(w, http.StatusConflict, ReasonOf(err))
	default:
		apt.RespondError(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *Handler) log(r *http.Request) apt.Logger {
	return h.logger.With("request_id", r.Context().Value("request_id"))
}
