// Package api is the Query Surface (C7): a small REST/JSON API plus
// the /metrics and /ws/realtime mounts, built on the teacher's
// gorilla/mux + manual CORS middleware idiom (server.go).
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/netviz/netviz-go/internal/broker"
	"github.com/netviz/netviz-go/internal/kernelsrc"
	"github.com/netviz/netviz-go/internal/store"
	"github.com/netviz/netviz-go/internal/threat"
)

const defaultConnectionsLimit = 1000

// Server is the HTTP surface wrapping the store, analyzer and broker.
type Server struct {
	store       *store.Store
	analyzer    *threat.Analyzer
	broker      *broker.Broker
	source      *kernelsrc.Source
	corsOrigins []string
}

func New(st *store.Store, analyzer *threat.Analyzer, b *broker.Broker, source *kernelsrc.Source, corsOrigins []string) *Server {
	return &Server{store: st, analyzer: analyzer, broker: b, source: source, corsOrigins: corsOrigins}
}

// Router builds the mux.Router with every route mounted. Start is
// left to the caller (cmd/server) so http.Server's timeouts can be
// configured alongside graceful shutdown.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.corsMiddleware)

	r.HandleFunc("/", s.handleRoot).Methods(http.MethodGet)
	r.HandleFunc("/api/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/connections", s.handleConnections).Methods(http.MethodGet)
	r.HandleFunc("/api/processes/{pid}", s.handleProcessDetails).Methods(http.MethodGet)
	r.HandleFunc("/api/stats", s.handleStats).Methods(http.MethodGet)

	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/ws/realtime", s.broker.HandleWebSocket)

	return r
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(s.corsOrigins))
	for _, o := range s.corsOrigins {
		allowed[o] = struct{}{}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if len(allowed) == 0 {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		} else if _, ok := allowed[origin]; ok {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "eBPF Network Threat Visualizer API",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":            "ok",
		"ebpf_loaded":       s.source.Loaded(),
		"websocket_clients": s.broker.ClientCount(),
	})
}

func (s *Server) handleConnections(w http.ResponseWriter, r *http.Request) {
	limit := defaultConnectionsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	connections := s.store.Recent(limit)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"connections": connections,
		"total":       len(connections),
	})
}

func (s *Server) handleProcessDetails(w http.ResponseWriter, r *http.Request) {
	raw := mux.Vars(r)["pid"]
	pid, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid pid"})
		return
	}

	details, err := s.store.ProcessDetails(uint32(pid))
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "process not found"})
		return
	}

	threatReport := s.analyzer.ProcessThreat(uint32(pid))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"details": details,
		"threat":  threatReport,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "store not initialized"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"connections": s.store.Statistics(),
		"threats":     s.analyzer.Statistics(),
		"uptime":      s.broker.Statistics().UptimeSeconds,
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("api: failed to encode response", "error", err)
	}
}
