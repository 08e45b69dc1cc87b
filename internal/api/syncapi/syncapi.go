// Package syncapi exposes the JSON endpoints the external panel calls back
// into: configuration-write notifications, connect/disconnect and the
// storefront availability check.
package syncapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/packlane/pointsync/internal/services/connection"
	"github.com/packlane/pointsync/internal/services/intake"
	"github.com/pkg/errors"
)

type Intake interface {
	HandleSelectionWrite(ctx context.Context, shopID, rowID uint64, payload string) error
	HandleScriptWrite(ctx context.Context, shopID, rowID uint64) error
	HandleConfigDeleted(ctx context.Context, shopID uint64, name string) error
}

type Connection interface {
	Connect(ctx context.Context, shops []uint64) (*connection.Settings, error)
	Disconnect(ctx context.Context) error
	IsConnected(ctx context.Context) (bool, error)
}

type Availability interface {
	Available(ctx context.Context, shopID uint64) (bool, error)
}

// Limiter throttles callback endpoints per caller.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

type Server struct {
	intake Intake
	conn   Connection
	avail  Availability

	limiter   Limiter // optional
	rateLimit int64
}

func New(in Intake, conn Connection, avail Availability) *Server {
	return &Server{intake: in, conn: conn, avail: avail}
}

// WithRateLimit throttles the callback endpoints to perMinute requests per
// remote address.
func (s *Server) WithRateLimit(l Limiter, perMinute int64) *Server {
	s.limiter = l
	s.rateLimit = perMinute
	return s
}

func (s *Server) Router() chi.Router {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})

	r.Route("/callbacks", func(r chi.Router) {
		r.Use(s.throttle)
		r.Post("/selection", s.handleSelectionWrite)
		r.Post("/script", s.handleScriptWrite)
		r.Post("/config-deleted", s.handleConfigDeleted)
	})

	r.Post("/connect", s.handleConnect)
	r.Post("/disconnect", s.handleDisconnect)
	r.Get("/status", s.handleStatus)
	r.Get("/availability", s.handleAvailability)

	return r
}

type selectionWriteRequest struct {
	ShopID uint64          `json:"shop_id"`
	RowID  uint64          `json:"row_id"`
	Value  json.RawMessage `json:"value"`
}

func (s *Server) handleSelectionWrite(w http.ResponseWriter, r *http.Request) {
	var req selectionWriteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := s.intake.HandleSelectionWrite(r.Context(), req.ShopID, req.RowID, string(req.Value))
	switch {
	case errors.Is(err, intake.ErrInvalidSelection):
		writeErr(w, http.StatusUnprocessableEntity, "selection payload rejected")
	case err != nil:
		internalErr(w, "selection write", err)
	default:
		writeJSON(w, http.StatusOK, map[string]bool{"reconciled": true})
	}
}

type scriptWriteRequest struct {
	ShopID uint64 `json:"shop_id"`
	RowID  uint64 `json:"row_id"`
}

func (s *Server) handleScriptWrite(w http.ResponseWriter, r *http.Request) {
	var req scriptWriteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.intake.HandleScriptWrite(r.Context(), req.ShopID, req.RowID); err != nil {
		internalErr(w, "script write", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"reconciled": true})
}

type configDeletedRequest struct {
	ShopID uint64 `json:"shop_id"`
	Name   string `json:"name"`
}

func (s *Server) handleConfigDeleted(w http.ResponseWriter, r *http.Request) {
	var req configDeletedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeErr(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.intake.HandleConfigDeleted(r.Context(), req.ShopID, req.Name); err != nil {
		internalErr(w, "config delete", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type connectRequest struct {
	Shops []uint64 `json:"shops"`
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid request body")
		return
	}

	set, err := s.conn.Connect(r.Context(), req.Shops)
	switch {
	case errors.Is(err, connection.ErrAlreadyConnected):
		writeErr(w, http.StatusConflict, "already connected")
	case err != nil:
		internalErr(w, "connect", err)
	default:
		writeJSON(w, http.StatusOK, set)
	}
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if err := s.conn.Disconnect(r.Context()); err != nil {
		internalErr(w, "disconnect", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	connected, err := s.conn.IsConnected(r.Context())
	if err != nil {
		internalErr(w, "status", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"connected": connected})
}

func (s *Server) handleAvailability(w http.ResponseWriter, r *http.Request) {
	shopID, err := strconv.ParseUint(r.URL.Query().Get("shop_id"), 10, 64)
	if err != nil || shopID == 0 {
		writeErr(w, http.StatusBadRequest, "shop_id is required")
		return
	}
	avail, err := s.avail.Available(r.Context(), shopID)
	if err != nil {
		internalErr(w, "availability", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"available": avail})
}

func (s *Server) throttle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		ok, _, err := s.limiter.Allow(r.Context(), "rl:callbacks:"+r.RemoteAddr, s.rateLimit, time.Minute)
		if err != nil {
			// A broken limiter must not take the callbacks down with it.
			slog.Warn("rate limiter unavailable", "error", err.Error())
			next.ServeHTTP(w, r)
			return
		}
		if !ok {
			writeErr(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func internalErr(w http.ResponseWriter, op string, err error) {
	slog.Error(op, "error", err.Error())
	writeErr(w, http.StatusInternalServerError, "internal error")
}
