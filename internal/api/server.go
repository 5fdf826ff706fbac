// Package api serves the auction house over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"TlockAuction/internal/auction"
	"TlockAuction/internal/house"
	"TlockAuction/internal/logger"
	"TlockAuction/internal/symmetric"
)

const (
	// maxBodySize is the maximum request body size in bytes.
	maxBodySize = 1 << 20 // 1 MB
)

// Server is the HTTP API server.
type Server struct {
	addr     string              // addr is the HTTP listen address
	house    *house.House        // house holds the auctions
	gatherer prometheus.Gatherer // gatherer feeds /metrics, may be nil
	server   *http.Server        // server is the underlying HTTP server
}

// New creates a new HTTP API server.
func New(addr string, h *house.House, gatherer prometheus.Gatherer) *Server {
	return &Server{
		addr:     addr,
		house:    h,
		gatherer: gatherer,
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /params", s.handleParams)
	mux.HandleFunc("POST /auctions", s.handleCreate)
	mux.HandleFunc("GET /auctions", s.handleList)
	mux.HandleFunc("GET /auctions/{id}", s.handleGet)
	mux.HandleFunc("POST /auctions/{id}/proposals", s.handlePropose)
	mux.HandleFunc("POST /auctions/{id}/complete", s.handleComplete)

	if s.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	return mux
}

// Start starts the HTTP server in a goroutine.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("http api started", "addr", s.addr)

		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// handleHealth handles GET /health requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// handleParams handles GET /params requests.
func (s *Server) handleParams(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ParamsView{
		PublicParams: s.house.PublicParams().Bytes(),
		Version:      auction.Version,
	})
}

// handleCreate handles POST /auctions requests.
func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if !readJSON(w, r, &req) {
		return
	}

	cfg := auction.Config{
		ID:           req.ID,
		Auctioneer:   req.Auctioneer,
		Item:         req.Item,
		Threshold:    req.Threshold,
		ReservePrice: req.ReservePrice,
		PaymentAsset: req.PaymentAsset,
		Cipher:       req.Cipher,
	}
	for _, slot := range req.Schedule {
		cfg.Schedule = append(cfg.Schedule, auction.Slot(slot))
	}

	a, err := s.house.Create(r.Context(), cfg)
	if err != nil {
		writeFailure(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, auctionView(a))
}

// handleList handles GET /auctions requests.
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	auctions := s.house.List()

	views := make([]AuctionView, 0, len(auctions))
	for _, a := range auctions {
		views = append(views, auctionView(a))
	}

	writeJSON(w, http.StatusOK, views)
}

// handleGet handles GET /auctions/{id} requests.
func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	a, err := s.house.Get(r.PathValue("id"))
	if err != nil {
		writeFailure(w, err)
		return
	}

	writeJSON(w, http.StatusOK, auctionView(a))
}

// handlePropose handles POST /auctions/{id}/proposals requests.
func (s *Server) handlePropose(w http.ResponseWriter, r *http.Request) {
	var req ProposalRequest
	if !readJSON(w, r, &req) {
		return
	}

	id := r.PathValue("id")
	if err := s.house.Propose(id, req.Participant, req.Proposal); err != nil {
		writeFailure(w, err)
		return
	}

	logger.Debug("proposal stored", "auction", id, "participant", req.Participant)

	writeJSON(w, http.StatusAccepted, map[string]string{
		"auction":     id,
		"participant": req.Participant.String(),
	})
}

// handleComplete handles POST /auctions/{id}/complete requests.
func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	var out *auction.Outcome

	if len(body) == 0 {
		out, err = s.house.CompleteFromClock(r.Context(), id)
	} else {
		var req CompleteRequest
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid body: %v", err))
			return
		}

		secrets := make([]auction.SlotSecret, len(req.Secrets))
		for i, sec := range req.Secrets {
			secrets[i] = auction.SlotSecret{Slot: auction.Slot(sec.Slot), Key: sec.Key}
		}

		out, err = s.house.Complete(r.Context(), id, req.PublicParams, secrets)
	}

	if err != nil {
		writeFailure(w, err)
		return
	}

	writeJSON(w, http.StatusOK, outcomeView(out))
}

// readJSON decodes a bounded request body into dst and reports success.
func readJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodySize))
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid body: %v", err))
		return false
	}

	return true
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, house.ErrUnknownAuction):
		return http.StatusNotFound
	case errors.Is(err, auction.ErrDeadlinePassed),
		errors.Is(err, auction.ErrAlreadyCompleted),
		errors.Is(err, house.ErrDuplicateAuction):
		return http.StatusConflict
	case errors.Is(err, auction.ErrInvalidThreshold),
		errors.Is(err, auction.ErrInvalidSchedule),
		errors.Is(err, auction.ErrInvalidItem),
		errors.Is(err, symmetric.ErrUnknownSuite):
		return http.StatusUnprocessableEntity
	case errors.Is(err, auction.ErrMalformedProposal),
		errors.Is(err, auction.ErrCapsuleMismatch):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeFailure writes err with its mapped status.
func writeFailure(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.Error("request failed", "error", err)
	}

	writeError(w, status, err.Error())
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}
