package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"buoy-svr/internal/pipeline"
)

const defaultLimit = 100

type LastStore interface {
	LastReading(ctx context.Context, deviceID string) (*pipeline.Reading, bool, error)
	LastReadings(ctx context.Context, deviceIDs []string) (map[string]*pipeline.Reading, error)
	DailyFrames(ctx context.Context, deviceID string, day time.Time) (int64, error)
}

type History interface {
	Recent(ctx context.Context, deviceID string, limit int) ([]pipeline.Reading, error)
}

type DeviceLister interface {
	ActiveDevices() []string
}

// Deps holds the optional backends; a nil backend turns its routes into 503s.
type Deps struct {
	Last    LastStore
	History History
	Devices DeviceLister
	Sinks   func() []string
}

type Server struct {
	deps   Deps
	logger *slog.Logger
	srv    *http.Server
}

func New(addr string, deps Deps, lg *slog.Logger) *Server {
	s := &Server{deps: deps, logger: lg.With("component", "http")}
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	router := httprouter.New()
	router.Handler(http.MethodGet, "/metrics", promhttp.Handler())
	router.GET("/healthz", s.healthz)
	router.GET("/buoys", s.listBuoys)
	router.GET("/buoys/:id/last", s.lastReading)
	router.GET("/buoys/:id/readings", s.readings)
	return router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", s.srv.Addr)
		errc <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	sinks := []string{}
	if s.deps.Sinks != nil {
		sinks = s.deps.Sinks()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "sinks": sinks})
}

type buoyStatus struct {
	DeviceID    string            `json:"device_id"`
	FramesToday int64             `json:"frames_today"`
	Last        *pipeline.Reading `json:"last,omitempty"`
}

func (s *Server) listBuoys(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if s.deps.Devices == nil || s.deps.Last == nil {
		writeError(w, http.StatusServiceUnavailable, "device registry unavailable")
		return
	}
	ids := s.deps.Devices.ActiveDevices()
	last, err := s.deps.Last.LastReadings(r.Context(), ids)
	if err != nil {
		s.logger.Error("last readings", "err", err)
		writeError(w, http.StatusInternalServerError, "store error")
		return
	}
	out := make([]buoyStatus, 0, len(ids))
	now := time.Now()
	for _, id := range ids {
		n, err := s.deps.Last.DailyFrames(r.Context(), id, now)
		if err != nil {
			s.logger.Warn("daily frames", "device", id, "err", err)
		}
		out = append(out, buoyStatus{DeviceID: id, FramesToday: n, Last: last[id]})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) lastReading(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if s.deps.Last == nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	id := ps.ByName("id")
	rd, ok, err := s.deps.Last.LastReading(r.Context(), id)
	if err != nil {
		s.logger.Error("last reading", "device", id, "err", err)
		writeError(w, http.StatusInternalServerError, "store error")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "no reading for "+id)
		return
	}
	writeJSON(w, http.StatusOK, rd)
}

func (s *Server) readings(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if s.deps.History == nil {
		writeError(w, http.StatusServiceUnavailable, "archive unavailable")
		return
	}
	limit := defaultLimit
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	id := ps.ByName("id")
	rows, err := s.deps.History.Recent(r.Context(), id, limit)
	if err != nil {
		s.logger.Error("recent readings", "device", id, "err", err)
		writeError(w, http.StatusInternalServerError, "archive error")
		return
	}
	if rows == nil {
		rows = []pipeline.Reading{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
