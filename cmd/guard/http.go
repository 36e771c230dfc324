package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"solana-volume-guard/internal/aggregation"
	"solana-volume-guard/internal/domain"
	"solana-volume-guard/internal/observability"
	"solana-volume-guard/internal/solana"
	"solana-volume-guard/internal/storage"
)

const (
	healthTimeout       = 3 * time.Second
	defaultEventsWindow = time.Hour
	recentTriggerLimit  = 5
)

// tracking is the part of tracker.Service the HTTP surface reads.
type tracking interface {
	Session() (domain.TrackingSession, bool)
	Snapshot() (aggregation.Snapshot, bool)
	State() solana.ConnState
}

type slotSource interface {
	GetSlot(ctx context.Context) (int64, error)
}

// apiServer serves health, metrics, status and read-only journal queries.
// events and triggers are nil when journaling is off.
type apiServer struct {
	svc      tracking
	rpc      slotSource
	events   storage.EventStore
	triggers storage.TriggerStore
	logger   *zap.Logger
}

func (s *apiServer) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", observability.Handler())
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /events", s.handleEvents)
	mux.HandleFunc("GET /events/{signature}", s.handleEvent)
	mux.HandleFunc("GET /triggers", s.handleTriggers)
	mux.HandleFunc("GET /triggers/{id}", s.handleTrigger)
	return mux
}

type healthResponse struct {
	Status string `json:"status"`
	State  string `json:"state"`
	Slot   int64  `json:"slot,omitempty"`
	Error  string `json:"error,omitempty"`
}

// handleHealth reports OK only while a session is tracking and the RPC node answers getSlot.
func (s *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", State: s.svc.State().String()}

	if _, ok := s.svc.Session(); !ok {
		resp.Status = "unavailable"
		resp.Error = "not tracking"
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()
	slot, err := s.rpc.GetSlot(ctx)
	if err != nil {
		resp.Status = "unavailable"
		resp.Error = "rpc: " + err.Error()
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	resp.Slot = slot
	writeJSON(w, http.StatusOK, resp)
}

type statusResponse struct {
	Status         string        `json:"status"`
	State          string        `json:"state"`
	Mint           string        `json:"mint,omitempty"`
	Volume         string        `json:"volume"`
	Threshold      string        `json:"threshold"`
	Progress       float64       `json:"progress"`
	Events         int           `json:"events"`
	Triggered      bool          `json:"triggered"`
	WindowStart    *time.Time    `json:"window_start,omitempty"`
	RecentTriggers []triggerJSON `json:"recent_triggers,omitempty"`
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{Status: "idle", State: s.svc.State().String()}

	if sess, ok := s.svc.Session(); ok {
		resp.Status = "running"
		resp.Mint = sess.Mint
	}
	if snap, ok := s.svc.Snapshot(); ok {
		resp.Volume = snap.Volume.String()
		resp.Threshold = snap.Threshold.String()
		resp.Progress = snap.Progress()
		resp.Events = len(snap.Events)
		resp.Triggered = snap.Triggered
		resp.WindowStart = snap.StartedAt
	}

	if s.triggers != nil && resp.Mint != "" {
		records, err := s.triggers.GetByMint(r.Context(), resp.Mint)
		if err != nil {
			s.logger.Warn("load recent triggers", zap.Error(err))
		}
		if len(records) > recentTriggerLimit {
			records = records[len(records)-recentTriggerLimit:]
		}
		for _, rec := range records {
			resp.RecentTriggers = append(resp.RecentTriggers, toTriggerJSON(rec))
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleEvents lists journaled events of a mint observed in [from, to].
// Defaults: the session mint and the last hour.
func (s *apiServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeError(w, http.StatusNotFound, "journal disabled")
		return
	}

	mint, ok := s.mintParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "mint is required when no session is tracking")
		return
	}

	end := time.Now()
	if v := r.URL.Query().Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid to: "+err.Error())
			return
		}
		end = t
	}
	start := end.Add(-defaultEventsWindow)
	if v := r.URL.Query().Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid from: "+err.Error())
			return
		}
		start = t
	}
	if start.After(end) {
		writeError(w, http.StatusBadRequest, "from is after to")
		return
	}

	events, err := s.events.GetByTimeRange(r.Context(), mint, start, end)
	if err != nil {
		s.logger.Error("query events", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}

	out := make([]eventJSON, 0, len(events))
	for _, ev := range events {
		out = append(out, toEventJSON(ev))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *apiServer) handleEvent(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeError(w, http.StatusNotFound, "journal disabled")
		return
	}

	ev, err := s.events.GetBySignature(r.Context(), r.PathValue("signature"))
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "event not found")
		return
	}
	if err != nil {
		s.logger.Error("query event", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, toEventJSON(ev))
}

func (s *apiServer) handleTriggers(w http.ResponseWriter, r *http.Request) {
	if s.triggers == nil {
		writeError(w, http.StatusNotFound, "journal disabled")
		return
	}

	mint, ok := s.mintParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "mint is required when no session is tracking")
		return
	}

	records, err := s.triggers.GetByMint(r.Context(), mint)
	if err != nil {
		s.logger.Error("query triggers", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}

	out := make([]triggerJSON, 0, len(records))
	for _, rec := range records {
		out = append(out, toTriggerJSON(rec))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *apiServer) handleTrigger(w http.ResponseWriter, r *http.Request) {
	if s.triggers == nil {
		writeError(w, http.StatusNotFound, "journal disabled")
		return
	}

	rec, err := s.triggers.GetByID(r.Context(), r.PathValue("id"))
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "trigger not found")
		return
	}
	if err != nil {
		s.logger.Error("query trigger", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, toTriggerJSON(rec))
}

// mintParam returns the mint query parameter, falling back to the session mint.
func (s *apiServer) mintParam(r *http.Request) (string, bool) {
	if mint := r.URL.Query().Get("mint"); mint != "" {
		return mint, true
	}
	if sess, ok := s.svc.Session(); ok {
		return sess.Mint, true
	}
	return "", false
}

type eventJSON struct {
	Signature   string    `json:"signature"`
	Mint        string    `json:"mint"`
	Side        string    `json:"side"`
	Wallet      string    `json:"wallet"`
	Internal    bool      `json:"internal"`
	Volume      string    `json:"volume"`
	TokenAmount string    `json:"token_amount"`
	ObservedAt  time.Time `json:"observed_at"`
	Slot        int64     `json:"slot"`
	BlockTime   int64     `json:"block_time,omitempty"`
	Priority    bool      `json:"priority"`
}

func toEventJSON(ev *domain.ClassifiedEvent) eventJSON {
	return eventJSON{
		Signature:   ev.Signature,
		Mint:        ev.Mint,
		Side:        string(ev.Side),
		Wallet:      ev.Wallet,
		Internal:    ev.IsInternal,
		Volume:      ev.Volume.String(),
		TokenAmount: ev.TokenAmount.String(),
		ObservedAt:  ev.ObservedAt,
		Slot:        ev.Slot,
		BlockTime:   ev.BlockTime,
		Priority:    ev.Priority,
	}
}

type triggerJSON struct {
	ID             string    `json:"id"`
	Mint           string    `json:"mint"`
	WindowStart    time.Time `json:"window_start"`
	BreachedAt     time.Time `json:"breached_at"`
	Volume         string    `json:"volume"`
	Threshold      string    `json:"threshold"`
	EventCount     int       `json:"event_count"`
	Outcome        string    `json:"outcome"`
	CompletionCode int       `json:"completion_code"`
	Error          string    `json:"error,omitempty"`
	CompletedAt    time.Time `json:"completed_at"`
}

func toTriggerJSON(rec *domain.TriggerRecord) triggerJSON {
	return triggerJSON{
		ID:             rec.TriggerID,
		Mint:           rec.Mint,
		WindowStart:    rec.WindowStart,
		BreachedAt:     rec.BreachedAt,
		Volume:         rec.Volume.String(),
		Threshold:      rec.Threshold.String(),
		EventCount:     rec.EventCount,
		Outcome:        rec.Outcome,
		CompletionCode: rec.CompletionCode,
		Error:          rec.Error,
		CompletedAt:    rec.CompletedAt,
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// startHTTPServer serves api in the background.
func startHTTPServer(addr string, api *apiServer, logger *zap.Logger) *http.Server {
	srv := &http.Server{Addr: addr, Handler: api.routes(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", zap.Error(err))
		}
	}()
	return srv
}
