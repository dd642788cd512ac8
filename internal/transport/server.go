package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// MemberInfo describes one peer as seen by the local node.
type MemberInfo struct {
	ID          string `json:"id"`
	Addr        string `json:"addr,omitempty"`
	Status      string `json:"status"`
	Incarnation uint64 `json:"incarnation"`
}

// MembersResponse is the body of GET /v1/members.
type MembersResponse struct {
	LocalID string       `json:"local_id"`
	Group   []string     `json:"group"`
	Peers   []MemberInfo `json:"peers"`
}

// RingResponse is the body of GET /v1/ring.
type RingResponse struct {
	Key      string   `json:"key"`
	Owner    string   `json:"owner"`
	Replicas []string `json:"replicas,omitempty"`
}

// HealthResponse is the body of GET /v1/healthz.
type HealthResponse struct {
	Status string `json:"status"`
	NodeID string `json:"node_id"`
	Group  int    `json:"group_size"`
}

// ServerConfig wires the HTTP surface to the agent's state.
type ServerConfig struct {
	LocalID string
	Addr    string

	// Gossip processes one inbound envelope and returns the reply.
	Gossip func(env Envelope) Envelope
	// Members reports the current view for the read endpoint.
	Members func() MembersResponse
	// Ring resolves key placement; nil disables the endpoint.
	Ring func(key string, replicas int) (RingResponse, error)

	Logger zerolog.Logger
}

// Server exposes the gossip exchange and read-only views over HTTP.
type Server struct {
	cfg  ServerConfig
	http *http.Server
}

// NewServer builds the HTTP server. It does not start listening.
func NewServer(cfg ServerConfig) *Server {
	s := &Server{cfg: cfg}
	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Router builds the route table. Exposed separately so tests can mount
// it on httptest servers.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Post("/v1/gossip", s.handleGossip)
	r.Get("/v1/members", s.handleMembers)
	r.Get("/v1/ring", s.handleRing)
	r.Get("/v1/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

// ListenAndServe binds the configured address and serves until ctx is
// cancelled, then shuts down gracefully. Bind errors are returned
// before any request is served.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.http.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return <-errCh
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleGossip(w http.ResponseWriter, r *http.Request) {
	var env Envelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid envelope")
		return
	}
	if env.From == "" {
		s.writeError(w, http.StatusBadRequest, "envelope missing sender")
		return
	}

	reply := s.cfg.Gossip(env)
	s.writeJSON(w, http.StatusOK, reply)
}

func (s *Server) handleMembers(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.cfg.Members())
}

func (s *Server) handleRing(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Ring == nil {
		s.writeError(w, http.StatusNotFound, "ring disabled")
		return
	}

	key := r.URL.Query().Get("key")
	if key == "" {
		s.writeError(w, http.StatusBadRequest, "missing key parameter")
		return
	}

	replicas := 1
	if raw := r.URL.Query().Get("replicas"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			s.writeError(w, http.StatusBadRequest, "invalid replicas parameter")
			return
		}
		replicas = n
	}

	resp, err := s.cfg.Ring(key, replicas)
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	members := s.cfg.Members()

	status := "ok"
	code := http.StatusOK
	if len(members.Group) == 0 {
		// No decided group yet: the node is up but not a member.
		status = "joining"
		code = http.StatusServiceUnavailable
	}

	s.writeJSON(w, code, HealthResponse{
		Status: status,
		NodeID: s.cfg.LocalID,
		Group:  len(members.Group),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.cfg.Logger.Error().Err(err).Msg("encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, msg string) {
	s.writeJSON(w, code, map[string]string{"error": msg})
}
