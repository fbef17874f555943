package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/natfailover/pkg/controller"
	"github.com/cuemby/natfailover/pkg/events"
	"github.com/cuemby/natfailover/pkg/metrics"
	"github.com/cuemby/natfailover/pkg/storage"
)

// StatusSource is what the server reports on
type StatusSource interface {
	Status() controller.Status
	Ready() bool
}

// HealthServer provides the HTTP status endpoints of a controller
type HealthServer struct {
	source  StatusSource
	journal storage.Journal
	version string
	mux     *http.ServeMux
	logger  zerolog.Logger
}

// NewHealthServer creates a new status HTTP server. journal may be nil.
func NewHealthServer(source StatusSource, journal storage.Journal, version string, logger zerolog.Logger) *HealthServer {
	mux := http.NewServeMux()
	hs := &HealthServer{
		source:  source,
		journal: journal,
		version: version,
		mux:     mux,
		logger:  logger,
	}

	// Register endpoints
	mux.HandleFunc("/health", hs.healthHandler)
	mux.HandleFunc("/ready", hs.readyHandler)
	mux.HandleFunc("/status", hs.statusHandler)
	mux.HandleFunc("/events", hs.eventsHandler)
	mux.Handle("/metrics", metrics.Handler())

	return hs
}

// Serve serves on ln until ctx is done, then shuts down gracefully
func (hs *HealthServer) Serve(ctx context.Context, ln net.Listener) error {
	server := &http.Server{
		Handler:      hs.mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(ln)
	}()
	hs.logger.Info().Str("addr", ln.Addr().String()).Msg("Status server listening")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shut down status server: %w", err)
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// Start listens on addr and serves until ctx is done
func (hs *HealthServer) Start(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return hs.Serve(ctx, ln)
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version,omitempty"`
	Node      string    `json:"node,omitempty"`
}

// ReadyResponse represents the readiness check response
type ReadyResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
	Message   string            `json:"message,omitempty"`
}

// healthHandler implements the /health endpoint
// This is a simple liveness check and the target of the peer's http probe
func (hs *HealthServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Version:   hs.version,
	}
	if hs.source != nil {
		response.Node = string(hs.source.Status().Node.Identity)
	}

	writeJSON(w, http.StatusOK, response)
}

// readyHandler implements the /ready endpoint
func (hs *HealthServer) readyHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	checks := make(map[string]string)
	ready := true
	var message string

	// Check 1: control loop
	switch {
	case hs.source == nil:
		checks["controller"] = "not initialized"
		ready = false
		message = "Controller not initialized"
	case !hs.source.Ready():
		checks["controller"] = "starting"
		ready = false
		message = "Waiting for the first probe cycle"
	default:
		checks["controller"] = "running"
	}

	// Check 2: cloud control plane, as last seen by the loop
	for _, comp := range metrics.GetHealth().Components {
		if comp.Name == "controller" {
			continue
		}
		if comp.Healthy {
			checks[comp.Name] = "healthy"
		} else {
			checks[comp.Name] = "unhealthy: " + comp.Message
		}
	}

	status := "ready"
	statusCode := http.StatusOK
	if !ready {
		status = "not ready"
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, ReadyResponse{
		Status:    status,
		Timestamp: time.Now(),
		Checks:    checks,
		Message:   message,
	})
}

// statusHandler implements the /status endpoint
func (hs *HealthServer) statusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if hs.source == nil {
		http.Error(w, "Controller not initialized", http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, http.StatusOK, hs.source.Status())
}

// eventsHandler implements the /events endpoint: the newest journal
// entries, ?limit=N (default 50)
func (hs *HealthServer) eventsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if hs.journal == nil {
		http.Error(w, "Journal disabled", http.StatusNotFound)
		return
	}

	query := r.URL.Query()
	opts := storage.ListOptions{Limit: 50}
	if raw := query.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			http.Error(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		opts.Limit = n
	}
	if raw := query.Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			http.Error(w, "since must be an RFC 3339 timestamp", http.StatusBadRequest)
			return
		}
		opts.Since = since
	}
	for _, typ := range query["type"] {
		opts.Types = append(opts.Types, events.EventType(typ))
	}

	list, err := hs.journal.List(opts)
	if err != nil {
		hs.logger.Error().Err(err).Msg("Failed to read journal")
		http.Error(w, "failed to read journal", http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []*events.Event{}
	}
	writeJSON(w, http.StatusOK, list)
}

// GetHandler returns the HTTP handler for embedding in other servers
func (hs *HealthServer) GetHandler() http.Handler {
	return hs.mux
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
