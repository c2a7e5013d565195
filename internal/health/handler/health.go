// Package handler serves liveness and readiness over HTTP and mirrors readiness
// into the standard gRPC health service.
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// checkTimeout bounds the whole readiness probe.
const checkTimeout = 2 * time.Second

// Pinger checks a storage dependency (e.g. *sql.DB).
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PingFunc adapts a function to Pinger (e.g. a Redis client's Ping).
type PingFunc func(ctx context.Context) error

func (f PingFunc) PingContext(ctx context.Context) error { return f(ctx) }

// PolicyChecker checks the launch policy engine (e.g. the OPA evaluator).
type PolicyChecker interface {
	HealthCheck(ctx context.Context) error
}

// Server reports readiness from its dependencies. Nil dependencies are skipped.
type Server struct {
	pingers       map[string]Pinger
	policyChecker PolicyChecker
}

// NewServer returns a health server. pingers is keyed by dependency name ("postgres", "redis").
func NewServer(pingers map[string]Pinger, policyChecker PolicyChecker) *Server {
	return &Server{pingers: pingers, policyChecker: policyChecker}
}

// Check runs every dependency check and returns per-dependency results and overall readiness.
func (s *Server) Check(ctx context.Context) (map[string]string, bool) {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	results := make(map[string]string)
	ready := true
	record := func(name string, err error) {
		if err != nil {
			results[name] = err.Error()
			ready = false
			return
		}
		results[name] = "ok"
	}
	for name, p := range s.pingers {
		if p == nil {
			continue
		}
		record(name, p.PingContext(ctx))
	}
	if s.policyChecker != nil {
		record("policy", s.policyChecker.HealthCheck(ctx))
	}
	return results, ready
}

// Live always answers 200; the process is up.
func (s *Server) Live(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// Ready answers 200 when every dependency check passes, 503 otherwise.
func (s *Server) Ready(w http.ResponseWriter, r *http.Request) {
	results, ready := s.Check(r.Context())
	status, code := "ok", http.StatusOK
	if !ready {
		status, code = "unavailable", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{"status": status, "checks": results})
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
