// Package rpc exposes the exchange engine over HTTP. Caller identity arrives
// as a request field and is trusted; authenticating the transport is the
// operator's concern, not the engine's.
package rpc

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"swapyard/native/escrow"
	"swapyard/observability/metrics"
)

// Server routes HTTP requests to the exchange engine. Admin endpoints use the
// capability held by the hosting process.
type Server struct {
	engine   *escrow.Engine
	adminCap *escrow.AdminCap
	log      *slog.Logger
	metrics  *metrics.EscrowMetrics
}

// NewServer wires the engine and the process-held admin capability. A nil
// capability disables the admin endpoints.
func NewServer(engine *escrow.Engine, adminCap *escrow.AdminCap, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		engine:   engine,
		adminCap: adminCap,
		log:      log,
		metrics:  metrics.Escrow(),
	}
}

// Handler builds the HTTP routing table.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestLogger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/hub", s.handleHubInfo)
		r.Get("/escrows", s.handleList)
		r.Post("/escrows", s.handleCreate)
		r.Get("/escrows/{id}", s.handleGet)
		r.Post("/escrows/{id}/cancel", s.handleCancel)
		r.Post("/escrows/{id}/exchange", s.handleExchange)
		if s.adminCap != nil {
			r.Post("/admin/fee", s.handleUpdateFee)
			r.Post("/admin/withdraw", s.handleWithdraw)
			r.Post("/admin/migrate", s.handleMigrate)
		}
	})
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.NewString()
		s.log.Info("request", "id", requestID, "method", r.Method, "path", r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

type createRequest struct {
	Caller           string   `json:"caller"`
	ItemIDs          []string `json:"itemIds"`
	Amount           string   `json:"amount"`
	Recipient        string   `json:"recipient"`
	RecipientItemIDs []string `json:"recipientItemIds"`
	RecipientAmount  string   `json:"recipientAmount"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	recipient, err := parseAddress(req.Recipient)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	itemIDs, err := parseIDList(req.ItemIDs)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	wantIDs, err := parseIDList(req.RecipientItemIDs)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	wantAmount, err := parseAmount(req.RecipientAmount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	id, err := s.engine.Create(caller, itemIDs, amount, recipient, wantIDs, wantAmount)
	if err != nil {
		s.metrics.RecordRejected("create")
		writeEngineError(w, err)
		return
	}
	s.metrics.RecordCreated()
	writeJSON(w, http.StatusCreated, map[string]string{"id": encodeID(id)})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	esc, err := s.engine.Escrow(id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":               encodeID(esc.ID),
		"status":           esc.Status.String(),
		"creator":          encodeAddress(esc.Creator),
		"recipient":        encodeAddress(esc.Recipient),
		"creatorItemIds":   encodeIDList(esc.CreatorItemIDs),
		"creatorAmount":    esc.CreatorAmount.String(),
		"recipientItemIds": encodeIDList(esc.RecipientItemIDs),
		"recipientAmount":  esc.RecipientAmount.String(),
		"createdAt":        esc.CreatedAt,
	})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	party, err := parseAddress(r.URL.Query().Get("party"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	open, err := s.engine.OpenEscrowsFor(party)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	ids := make([]string, 0, len(open))
	for _, esc := range open {
		ids = append(ids, encodeID(esc.ID))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"escrows": ids})
}

type cancelRequest struct {
	Caller string `json:"caller"`
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.engine.Cancel(id, caller); err != nil {
		s.metrics.RecordRejected("cancel")
		writeEngineError(w, err)
		return
	}
	s.metrics.RecordCanceled()
	writeJSON(w, http.StatusOK, map[string]string{"status": "canceled"})
}

type exchangeRequest struct {
	Caller  string   `json:"caller"`
	Fee     string   `json:"fee"`
	ItemIDs []string `json:"itemIds"`
	Amount  string   `json:"amount"`
}

func (s *Server) handleExchange(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req exchangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	fee, err := parseAmount(req.Fee)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	itemIDs, err := parseIDList(req.ItemIDs)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.engine.Exchange(id, caller, fee, itemIDs, amount); err != nil {
		s.metrics.RecordRejected("exchange")
		writeEngineError(w, err)
		return
	}
	s.metrics.RecordExchanged(fee)
	writeJSON(w, http.StatusOK, map[string]string{"status": "exchanged"})
}

func (s *Server) handleHubInfo(w http.ResponseWriter, r *http.Request) {
	hub, err := s.engine.HubInfo()
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"version":    hub.Version,
		"feeAmount":  hub.FeeAmount.String(),
		"feeBalance": hub.FeeBalance.String(),
	})
}

type feeRequest struct {
	Amount string `json:"amount"`
}

func (s *Server) handleUpdateFee(w http.ResponseWriter, r *http.Request) {
	var req feeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	fee, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.engine.UpdateFee(s.adminCap, fee); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"feeAmount": fee.String()})
}

type withdrawRequest struct {
	To string `json:"to"`
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req withdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	to, err := parseAddress(req.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	withdrawn, err := s.engine.WithdrawFees(s.adminCap, to)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"withdrawn": withdrawn.String()})
}

func (s *Server) handleMigrate(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Migrate(s.adminCap); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "migrated"})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, escrow.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, escrow.ErrInactiveEscrow),
		errors.Is(err, escrow.ErrAlreadyCurrent),
		errors.Is(err, escrow.ErrDuplicateKey),
		errors.Is(err, escrow.ErrEmptyTreasury):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, escrow.ErrWrongRecipient),
		errors.Is(err, escrow.ErrWrongOwner),
		errors.Is(err, escrow.ErrInvalidCapability):
		writeError(w, http.StatusForbidden, err)
	case errors.Is(err, escrow.ErrStaleLedger):
		writeError(w, http.StatusServiceUnavailable, err)
	default:
		writeError(w, http.StatusBadRequest, err)
	}
}
