package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/mitchellh/mapstructure"

	"github.com/aretw0/stateful"
	"github.com/aretw0/stateful/internal/sanitize"
	"github.com/aretw0/stateful/pkg/cache"
	"github.com/aretw0/stateful/pkg/domain"
)

// Container is the part of the stateful container the API drives.
type Container interface {
	Deployed() []string
	Invoke(ctx context.Context, componentID, key string, m domain.Method, args ...any) (any, error)
	Status(key string) cache.Status
	Stats() cache.Stats
}

// Server exposes a Container over JSON/HTTP.
type Server struct {
	Container Container
	Streams   *StreamManager

	logger  *slog.Logger
	metrics http.Handler
}

// Option configures the Server.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithMetricsHandler mounts h on /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) {
		s.metrics = h
	}
}

// InvokeRequest is the optional body of the create and call routes.
type InvokeRequest struct {
	// Interface is the client view, e.g. "business-local" or "remote".
	Interface string `mapstructure:"interface"`
	// Method overrides the create method name on the create route.
	Method string `mapstructure:"method"`
	Args   []any  `mapstructure:"args"`
}

// InvokeResponse carries a method's result.
type InvokeResponse struct {
	Key    string `json:"key,omitempty"`
	Result any    `json:"result,omitempty"`
}

// InstanceResponse describes where an instance lives.
type InstanceResponse struct {
	Key    string `json:"key"`
	Status string `json:"status"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	// Kind is application, application-rollback or system.
	Kind string `json:"kind"`
}

// Event is published to the subscribers of an instance after each successful call.
type Event struct {
	Component string `json:"component"`
	Key       string `json:"key"`
	Method    string `json:"method"`
}

// NewHandler creates a new HTTP handler for the container.
func NewHandler(c Container, opts ...Option) http.Handler {
	s := &Server{
		Container: c,
		Streams:   NewStreamManager(),
		logger:    slog.New(slog.NewJSONHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.Streams.logger = s.logger

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)

	r.Get("/health", s.GetHealth)
	r.Get("/info", s.GetInfo)
	r.Get("/stats", s.GetStats)
	r.Get("/components", s.ListComponents)
	r.Route("/components/{component}/instances", func(r chi.Router) {
		r.Post("/", s.Create)
		r.Post("/{key}/{method}", s.Call)
		r.Delete("/{key}", s.Remove)
	})
	r.Get("/instances/{key}", s.GetInstance)
	r.Get("/instances/{key}/events", s.SubscribeEvents)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}
	return enableCORS(r)
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Create handles POST /components/{component}/instances.
func (s *Server) Create(w http.ResponseWriter, r *http.Request) {
	component := chi.URLParam(r, "component")
	req, err := decodeInvokeRequest(r)
	if err != nil {
		s.badRequest(w, "Create", err)
		return
	}

	m := domain.Method{Interface: domain.InterfaceBusinessLocalHome, Name: "create"}
	if req.Method != "" {
		m.Name = req.Method
	}
	if req.Interface != "" {
		if m.Interface, err = parseInterface(req.Interface); err != nil {
			s.badRequest(w, "Create", err)
			return
		}
	}
	if !m.Interface.IsHome() || !domain.IsCreateName(m.Name) {
		s.badRequest(w, "Create", fmt.Errorf("%s is not a create method", m))
		return
	}

	v, err := s.Container.Invoke(r.Context(), component, "", m, req.Args...)
	if err != nil {
		s.writeError(w, "Create", err)
		return
	}
	key, _ := v.(string)
	writeJSON(w, http.StatusCreated, InvokeResponse{Key: key}, s.logger)
}

// Call handles POST /components/{component}/instances/{key}/{method}.
func (s *Server) Call(w http.ResponseWriter, r *http.Request) {
	component := chi.URLParam(r, "component")
	key := chi.URLParam(r, "key")
	req, err := decodeInvokeRequest(r)
	if err != nil {
		s.badRequest(w, "Call", err)
		return
	}

	m := domain.Method{Interface: domain.InterfaceBusinessLocal, Name: chi.URLParam(r, "method")}
	if req.Interface != "" {
		if m.Interface, err = parseInterface(req.Interface); err != nil {
			s.badRequest(w, "Call", err)
			return
		}
	}

	result, err := s.Container.Invoke(r.Context(), component, key, m, req.Args...)
	if err != nil {
		s.writeError(w, "Call", err)
		return
	}
	s.publish(Event{Component: component, Key: key, Method: m.String()})
	writeJSON(w, http.StatusOK, InvokeResponse{Result: result}, s.logger)
}

// Remove handles DELETE /components/{component}/instances/{key}. The
// interface query parameter selects the component view (default local).
func (s *Server) Remove(w http.ResponseWriter, r *http.Request) {
	component := chi.URLParam(r, "component")
	key := chi.URLParam(r, "key")

	m := domain.Method{Interface: domain.InterfaceLocal, Name: domain.RemoveMethodName}
	if name := r.URL.Query().Get("interface"); name != "" {
		var err error
		if m.Interface, err = parseInterface(name); err != nil {
			s.badRequest(w, "Remove", err)
			return
		}
	}

	if _, err := s.Container.Invoke(r.Context(), component, key, m); err != nil {
		s.writeError(w, "Remove", err)
		return
	}
	s.publish(Event{Component: component, Key: key, Method: m.String()})
	w.WriteHeader(http.StatusNoContent)
}

// GetInstance handles GET /instances/{key}.
func (s *Server) GetInstance(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	status := s.Container.Status(key)
	if status == cache.StatusAbsent {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: domain.ErrInstanceNotFound.Error(), Kind: "application"}, s.logger)
		return
	}
	writeJSON(w, http.StatusOK, InstanceResponse{Key: key, Status: status.String()}, s.logger)
}

// ListComponents handles GET /components.
func (s *Server) ListComponents(w http.ResponseWriter, r *http.Request) {
	ids := s.Container.Deployed()
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, ids, s.logger)
}

// GetStats handles GET /stats.
func (s *Server) GetStats(w http.ResponseWriter, r *http.Request) {
	st := s.Container.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"resident":     st.Resident,
		"idle":         st.Idle,
		"checked_out":  st.CheckedOut,
		"passivated":   st.Passivated,
		"passivations": st.Passivations,
		"activations":  st.Activations,
		"timeouts":     st.Timeouts,
	}, s.logger)
}

// GetHealth handles the GET /health request.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"}, s.logger)
}

// GetInfo handles the GET /info request.
func (s *Server) GetInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"app":     "stateful-http",
		"version": strings.TrimSpace(stateful.Version),
	}, s.logger)
}

// SubscribeEvents handles GET /instances/{key}/events (SSE).
func (s *Server) SubscribeEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		s.logger.Error("SubscribeEvents: Streaming not supported")
		return
	}

	key := chi.URLParam(r, "key")
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, cancel := s.Streams.Subscribe(key)
	defer cancel()
	s.logger.Info("SSE: Subscribing to instance events", "key", key)

	fmt.Fprintf(w, "event: ping\ndata: connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			s.logger.Info("SSE Client Disconnected", "key", key)
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", msg)
			flusher.Flush()
		}
	}
}

func (s *Server) publish(ev Event) {
	bytes, err := json.Marshal(ev)
	if err != nil {
		s.logger.Error("Event encode failed", "err", err)
		return
	}
	s.Streams.Broadcast(ev.Key, string(bytes))
}

func (s *Server) badRequest(w http.ResponseWriter, op string, err error) {
	s.logger.Warn(op+": Invalid request", "err", err)
	writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error(), Kind: "request"}, s.logger)
}

func (s *Server) writeError(w http.ResponseWriter, op string, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(op+" failed", "err", err)
	} else {
		s.logger.Debug(op+" rejected", "err", err, "status", status)
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error(), Kind: domain.ClassifyError(err).String()}, s.logger)
}

// StatusFor maps a container error to an HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotDeployed),
		errors.Is(err, domain.ErrInstanceNotFound),
		errors.Is(err, domain.ErrMethodNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrConcurrentAccess),
		errors.Is(err, domain.ErrCrossTransaction),
		errors.Is(err, domain.ErrRemoveInTransaction):
		return http.StatusConflict
	case errors.Is(err, domain.ErrEmptyKey):
		return http.StatusBadRequest
	}
	if domain.ClassifyError(err) != domain.ExceptionSystem {
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

// StreamManager handles active SSE connections, keyed by instance.
type StreamManager struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan<- string]struct{}
	logger      *slog.Logger
}

func NewStreamManager() *StreamManager {
	return &StreamManager{
		subscribers: make(map[string]map[chan<- string]struct{}),
		logger:      slog.New(slog.NewJSONHandler(io.Discard, nil)),
	}
}

func (sm *StreamManager) Subscribe(key string) (chan string, func()) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	ch := make(chan string, 10)
	if _, ok := sm.subscribers[key]; !ok {
		sm.subscribers[key] = make(map[chan<- string]struct{})
	}
	sm.subscribers[key][ch] = struct{}{}

	return ch, func() {
		sm.mu.Lock()
		defer sm.mu.Unlock()
		if subs, ok := sm.subscribers[key]; ok {
			delete(subs, ch)
			close(ch)
			if len(subs) == 0 {
				delete(sm.subscribers, key)
			}
		}
	}
}

func (sm *StreamManager) Broadcast(key string, msg string) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	for ch := range sm.subscribers[key] {
		select {
		case ch <- msg:
		default:
			// Drop message if channel is full (slow client)
			sm.logger.Warn("SSE: Client buffer full, dropping message", "key", key)
		}
	}
}

// -- Helpers --

// MaxBodySize bounds invocation request bodies.
const MaxBodySize = 1 << 20

// decodeInvokeRequest accepts an empty body. Unknown fields are rejected.
func decodeInvokeRequest(r *http.Request) (InvokeRequest, error) {
	var req InvokeRequest
	body, err := io.ReadAll(http.MaxBytesReader(nil, r.Body, MaxBodySize))
	if err != nil {
		return req, fmt.Errorf("read body: %w", err)
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return req, nil
	}

	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return req, fmt.Errorf("invalid request body: %w", err)
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      &req,
		ErrorUnused: true,
	})
	if err != nil {
		return req, err
	}
	if err := dec.Decode(raw); err != nil {
		return req, fmt.Errorf("invalid request body: %w", err)
	}
	if err := sanitize.Args(req.Args); err != nil {
		return req, fmt.Errorf("invalid argument: %w", err)
	}
	return req, nil
}

func parseInterface(name string) (domain.InterfaceType, error) {
	t, ok := domain.ParseInterfaceType(name)
	if !ok {
		return 0, fmt.Errorf("unknown interface %q", name)
	}
	return t, nil
}

func writeJSON(w http.ResponseWriter, status int, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Response encode failed", "err", err)
	}
}
