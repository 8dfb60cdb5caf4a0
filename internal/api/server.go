// Package api serves the engine's HTTP surface: health and readiness, the
// event log and live stream, metrics, tree state and operator controls.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/AaronLay10/SentientTree/internal/bt"
	"github.com/AaronLay10/SentientTree/internal/events"
	"github.com/AaronLay10/SentientTree/internal/metrics"
)

// TreeView is the read side of a running tree. Snapshot must be safe to
// call from any goroutine.
type TreeView interface {
	ID() string
	Snapshot() []bt.NodeState
}

// Aborter interrupts the running tree from outside the tick goroutine.
type Aborter interface {
	Abort(reason string) error
}

// Check is one readiness dependency. Optional dependencies are reported but
// never make the engine not ready.
type Check struct {
	Name     string
	Optional bool
	Probe    func(ctx context.Context) error
}

type Options struct {
	Port     int
	Auth     *Auth
	TLS      *TLSConfig
	Log      *events.Log
	Metrics  *metrics.Collector
	Tree     TreeView
	Aborter  Aborter
	Checks   []Check
	Logger   *zap.Logger
	Hostname string
}

// Server is the engine HTTP server.
type Server struct {
	opts   Options
	logger *zap.Logger
	mux    *http.ServeMux
	http   *http.Server
}

func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Log == nil {
		opts.Log = events.NewLog(0)
	}
	if opts.Hostname == "" {
		opts.Hostname, _ = os.Hostname()
	}
	s := &Server{
		opts:   opts,
		logger: logger,
		mux:    http.NewServeMux(),
	}
	s.routes()
	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Port),
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	auth := s.opts.Auth
	s.mux.HandleFunc("GET /health", s.healthHandler)
	s.mux.HandleFunc("GET /ready", s.readyHandler)
	s.mux.HandleFunc("GET /events", auth.RequireAnyRole(s.eventsHandler))
	s.mux.HandleFunc("GET /events/ws", auth.RequireAnyRole(s.wsEventsHandler))
	s.mux.HandleFunc("GET /tree", auth.RequireAnyRole(s.treeHandler))
	s.mux.HandleFunc("POST /tree/abort", auth.RequireAnyRole(s.abortHandler))
	if s.opts.Metrics != nil {
		s.mux.Handle("GET /metrics", s.opts.Metrics.Handler())
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler { return s.mux }

// ListenAndServe serves until Shutdown, using TLS when configured.
// It returns nil after a graceful shutdown.
func (s *Server) ListenAndServe() error {
	tlsCfg, err := s.opts.TLS.Load()
	if err != nil {
		return err
	}

	if tlsCfg != nil {
		s.http.TLSConfig = tlsCfg
		s.logger.Info("API listening", zap.String("addr", s.http.Addr), zap.Bool("tls", true))
		err = s.http.ListenAndServeTLS("", "")
	} else {
		s.logger.Info("API listening", zap.String("addr", s.http.Addr), zap.Bool("tls", false))
		err = s.http.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting connections and closes live event streams.
func (s *Server) Shutdown(ctx context.Context) error {
	s.opts.Log.CloseAllSubscribers()
	return s.http.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type HealthResponse struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	Hostname  string `json:"hostname"`
	Timestamp string `json:"ts"`
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Service:   "sentient-tree",
		Hostname:  s.opts.Hostname,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	})
}

type CheckResult struct {
	Status   string `json:"status"`
	Optional bool   `json:"optional,omitempty"`
	Error    string `json:"error,omitempty"`
}

type ReadinessResponse struct {
	Ready       bool                   `json:"ready"`
	Checks      map[string]CheckResult `json:"checks"`
	NotReadyMsg string                 `json:"message,omitempty"`
}

func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := ReadinessResponse{Ready: true, Checks: make(map[string]CheckResult, len(s.opts.Checks))}
	var notReady []string
	for _, c := range s.opts.Checks {
		err := c.Probe(ctx)
		s.opts.Metrics.SetConnected(c.Name, err == nil)

		res := CheckResult{Status: "ok", Optional: c.Optional}
		switch {
		case err == nil:
		case c.Optional:
			res.Status = "unavailable"
			res.Error = err.Error()
		default:
			res.Status = "not_ready"
			res.Error = err.Error()
			resp.Ready = false
			notReady = append(notReady, c.Name)
		}
		resp.Checks[c.Name] = res
	}

	status := http.StatusOK
	if !resp.Ready {
		status = http.StatusServiceUnavailable
		resp.NotReadyMsg = "not ready: " + strings.Join(notReady, ", ")
	}
	writeJSON(w, status, resp)
}

func (s *Server) eventsHandler(w http.ResponseWriter, r *http.Request) {
	list := s.opts.Log.Snapshot()
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, OperatorResponse{Error: "invalid limit"})
			return
		}
		list = s.opts.Log.Recent(n)
	}
	writeJSON(w, http.StatusOK, list)
}

type TreeResponse struct {
	ID    string         `json:"id"`
	Nodes []bt.NodeState `json:"nodes"`
}

func (s *Server) treeHandler(w http.ResponseWriter, r *http.Request) {
	if s.opts.Tree == nil {
		writeJSON(w, http.StatusServiceUnavailable, OperatorResponse{Error: "no tree loaded"})
		return
	}
	writeJSON(w, http.StatusOK, TreeResponse{
		ID:    s.opts.Tree.ID(),
		Nodes: s.opts.Tree.Snapshot(),
	})
}

type AbortRequest struct {
	Reason string `json:"reason"`
}

type OperatorResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

func (s *Server) abortHandler(w http.ResponseWriter, r *http.Request) {
	if s.opts.Aborter == nil {
		writeJSON(w, http.StatusServiceUnavailable, OperatorResponse{Error: "no tree running"})
		return
	}

	var req AbortRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, OperatorResponse{Error: "invalid JSON"})
			return
		}
	}
	if req.Reason == "" {
		req.Reason = "operator"
	}

	if err := s.opts.Aborter.Abort(req.Reason); err != nil {
		writeJSON(w, http.StatusConflict, OperatorResponse{Error: err.Error()})
		return
	}

	fields := map[string]interface{}{"reason": req.Reason}
	if s.opts.Tree != nil {
		fields["tree"] = s.opts.Tree.ID()
	}
	if user, _, ok := r.BasicAuth(); ok {
		fields["user"] = user
	}
	_, _ = s.opts.Log.Emit("warning", "operator.abort", "", fields)
	s.logger.Info("operator abort", zap.String("reason", req.Reason))

	writeJSON(w, http.StatusOK, OperatorResponse{OK: true})
}
