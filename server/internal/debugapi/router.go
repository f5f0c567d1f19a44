// Package debugapi exposes the server's operator-facing HTTP surface:
// health, Prometheus metrics, and a debug event-log tail. Rain has no
// client SDK ergonomics goal, so the only HTTP surface it carries is a
// debug/ops endpoint wired with chi middleware.
package debugapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/rain-io/rain/server/internal/eventlog"
	"github.com/rain-io/rain/server/internal/graph"
)

// Config bundles everything the router needs into one struct holding
// every dependency.
type Config struct {
	Logger *zap.Logger
	Graph  *graph.Graph
	Events *eventlog.Store
}

func NewRouter(cfg Config) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(cfg.Logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", handleHealthz)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/debug/objects", handleDebugObjects(cfg.Graph))
	r.Get("/debug/tasks", handleDebugTasks(cfg.Graph))
	r.Get("/debug/events/stream", handleEventStream(cfg.Logger, cfg.Events))

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

func handleDebugObjects(g *graph.Graph) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		objects := g.Objects()
		type row struct {
			ID    string `json:"id"`
			State string `json:"state"`
			Size  int64  `json:"size"`
		}
		out := make([]row, 0, len(objects))
		for _, o := range objects {
			out = append(out, row{ID: o.ID.String(), State: o.State.String(), Size: o.Size})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(out)
	}
}

func handleDebugTasks(g *graph.Graph) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		tasks := g.Tasks()
		type row struct {
			ID       string `json:"id"`
			State    string `json:"state"`
			Governor string `json:"governor,omitempty"`
		}
		out := make([]row, 0, len(tasks))
		for _, t := range tasks {
			out = append(out, row{ID: t.ID.String(), State: t.State.String(), Governor: string(t.Governor)})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(out)
	}
}
