// Package debugapi exposes the governor's operator-facing HTTP surface:
// health, Prometheus metrics, and a debug view of local tasks/objects. It
// mirrors server/internal/debugapi's chi-based router, scoped to one
// governor's local state instead of the whole session graph.
package debugapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/rain-io/rain/shared"
)

// ObjectRow is one row of the /debug/objects response.
type ObjectRow struct {
	ID       string `json:"id"`
	DataType string `json:"data_type"`
	Finished bool   `json:"finished"`
	Size     int64  `json:"size,omitempty"`
}

// TaskRow is one row of the /debug/tasks response.
type TaskRow struct {
	ID    string `json:"id"`
	State string `json:"state"`
}

// Inspector exposes the runtime's internal tables for the debug endpoints,
// satisfied by runtime.Runtime via a thin accessor the reactor fills in
// under its own goroutine to avoid a cross-goroutine read of live state.
type Inspector interface {
	Objects() []ObjectRow
	Tasks() []TaskRow
	FreeCPUs() int
}

// Config bundles everything the router needs, matching the server's
// debugapi.Config one-struct-of-dependencies shape.
type Config struct {
	Logger     *zap.Logger
	GovernorID shared.GovernorID
	Inspector  Inspector
}

func NewRouter(cfg Config) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(cfg.Logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", handleHealthz)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/debug/objects", handleDebugObjects(cfg.Inspector))
	r.Get("/debug/tasks", handleDebugTasks(cfg.Inspector))
	r.Get("/debug/cpus", handleDebugCPUs(cfg.Inspector))

	return r
}

func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)
			next.ServeHTTP(ww, req)
			log.Info("http request",
				zap.String("method", req.Method),
				zap.String("path", req.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

func handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func handleDebugObjects(ins Inspector) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(ins.Objects())
	}
}

func handleDebugTasks(ins Inspector) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(ins.Tasks())
	}
}

func handleDebugCPUs(ins Inspector) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]int{"free_cpus": ins.FreeCPUs()})
	}
}
