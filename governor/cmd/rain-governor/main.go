// Command rain-governor runs one worker node: it registers with the
// server, accepts task assignments, fetches missing inputs from peer
// governors, dispatches builtins or spawns executors to run tasks, and
// serves fetch requests for objects it holds locally. Structured the way
// rain-server's own cmd/rain-server/main.go builds its cobra root command:
// flags default from environment variables, a zap logger is built once,
// and signal.NotifyContext drives graceful shutdown.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rain-io/rain/governor/internal/cache"
	"github.com/rain-io/rain/governor/internal/data"
	"github.com/rain-io/rain/governor/internal/debugapi"
	"github.com/rain-io/rain/governor/internal/executors"
	"github.com/rain-io/rain/governor/internal/fetch"
	"github.com/rain-io/rain/governor/internal/fsdir"
	rainruntime "github.com/rain-io/rain/governor/internal/runtime"
	"github.com/rain-io/rain/governor/internal/serverconn"
	"github.com/rain-io/rain/shared"
	"github.com/rain-io/rain/shared/wire"
)

type config struct {
	serverAddr string
	fetchAddr  string
	debugAddr  string
	workDir    string
	logDir     string
	cpus       int
	logLevel   string
	executors  []string // "prefix=path,arg1,arg2" entries from --executor
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func newRootCmd() *cobra.Command {
	cfg := config{}
	cmd := &cobra.Command{
		Use:   "rain-governor",
		Short: "Run a rain worker node",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return run(ctx, cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&cfg.serverAddr, "server", envOrDefault("RAIN_SERVER_ADDR", "127.0.0.1:7761"), "server governor-endpoint address")
	flags.StringVar(&cfg.fetchAddr, "fetch-addr", envOrDefault("RAIN_FETCH_ADDR", ":7763"), "address peer governors use to fetch objects from this one")
	flags.StringVar(&cfg.debugAddr, "debug-addr", envOrDefault("RAIN_DEBUG_ADDR", ":7764"), "address for /healthz, /metrics, and debug endpoints")
	flags.StringVar(&cfg.workDir, "work-dir", envOrDefault("RAIN_WORK_DIR", "./rain-work"), "governor working directory (data/, tasks/, tmp/, executors/work/)")
	flags.StringVar(&cfg.logDir, "log-dir", envOrDefault("RAIN_LOG_DIR", "./rain-logs"), "directory for spawned executor stdout/stderr logs")
	flags.IntVar(&cfg.cpus, "cpus", runtime.NumCPU(), "total CPUs this governor advertises and schedules against")
	flags.StringVar(&cfg.logLevel, "log-level", envOrDefault("RAIN_LOG_LEVEL", "info"), "log level: debug, info, warn, error")
	flags.StringArrayVar(&cfg.executors, "executor", nil, "prefix=path[,arg...] executor spawn recipe, repeatable")

	return cmd
}

func run(ctx context.Context, cfg config) error {
	logger, err := buildLogger(cfg.logLevel)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	self := shared.GovernorID(cfg.fetchAddr)
	if host, _, ok := strings.Cut(cfg.fetchAddr, ":"); ok && host == "" {
		self = shared.GovernorID(localAddr(cfg.fetchAddr))
	}

	layout, err := fsdir.Open(cfg.workDir)
	if err != nil {
		return fmt.Errorf("open work dir: %w", err)
	}

	views, err := cache.New(256)
	if err != nil {
		return fmt.Errorf("create view cache: %w", err)
	}

	fetchClient := fetch.NewClient(nil)

	recipes, err := parseRecipes(cfg.executors)
	if err != nil {
		return fmt.Errorf("parse --executor: %w", err)
	}
	pool, err := executors.New(ctx, logger, self, layout, cfg.logDir, recipes)
	if err != nil {
		return fmt.Errorf("start executor pool: %w", err)
	}
	defer pool.Close()

	report := &stateReporter{governor: self}
	rt := rainruntime.New(logger, self, cfg.cpus, layout, views, fetchClient, pool, report)

	upstream := serverconn.New(logger, cfg.serverAddr, self, shared.Resources{CPUs: cfg.cpus}, assignmentHandler{rt}, rt.FreeCPUs)
	report.conn = upstream
	go upstream.Run(ctx)

	fetchSrv, err := fetch.Listen(logger, cfg.fetchAddr, fetchLookup(rt, views))
	if err != nil {
		return fmt.Errorf("listen fetch-addr: %w", err)
	}
	defer fetchSrv.Close()

	errCh := make(chan error, 2)
	go func() { errCh <- fetchSrv.Serve(ctx) }()
	go rt.Run(ctx)

	debugSrv := &http.Server{
		Addr: cfg.debugAddr,
		Handler: debugapi.NewRouter(debugapi.Config{
			Logger:     logger,
			GovernorID: self,
			Inspector:  snapshotInspector{rt},
		}),
	}
	go func() {
		logger.Info("debug http listening", zap.String("addr", cfg.debugAddr))
		if err := debugSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("debug http server: %w", err)
		}
	}()

	logger.Info("rain-governor started",
		zap.String("self", string(self)),
		zap.String("server", cfg.serverAddr),
		zap.Int("cpus", cfg.cpus),
	)

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		logger.Error("fatal listener error", zap.Error(err))
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = debugSrv.Shutdown(shutdownCtx)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return debugSrv.Shutdown(shutdownCtx)
}

// localAddr substitutes the machine's hostname for an empty bind host so
// peer governors dialing fetchAddr get something routable instead of ":port".
func localAddr(bindAddr string) string {
	host, err := os.Hostname()
	if err != nil {
		return bindAddr
	}
	_, port, ok := strings.Cut(bindAddr, ":")
	if !ok {
		return bindAddr
	}
	return net.JoinHostPort(host, port)
}

// parseRecipes turns repeated --executor prefix=path[,arg...] flags into
// executors.Recipe values.
func parseRecipes(raw []string) ([]executors.Recipe, error) {
	recipes := make([]executors.Recipe, 0, len(raw))
	for _, entry := range raw {
		prefix, rest, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("malformed --executor %q, want prefix=path[,arg...]", entry)
		}
		parts := strings.Split(rest, ",")
		recipes = append(recipes, executors.Recipe{Prefix: prefix, Path: parts[0], Args: parts[1:]})
	}
	return recipes, nil
}

// assignmentHandler adapts *rainruntime.Runtime to serverconn.Handler.
type assignmentHandler struct{ rt *rainruntime.Runtime }

func (h assignmentHandler) Assignment(a wire.Assignment) { h.rt.Assignment(a) }

// stateReporter adapts rainruntime.Reporter to serverconn's outbound
// StateReport frames, one frame per call: TaskFinished puts the task's
// update and its outputs' updates in one report, the other calls send one
// update each.
type stateReporter struct {
	governor shared.GovernorID
	conn     *serverconn.Conn
}

func (r *stateReporter) TaskFinished(task shared.TaskID, objects map[shared.DataObjectID]int64) {
	updates := make([]wire.StateUpdate, 0, len(objects)+1)
	t := task
	updates = append(updates, wire.StateUpdate{Kind: wire.UpdateTaskFinished, Task: &t})
	for obj, size := range objects {
		o := obj
		updates = append(updates, wire.StateUpdate{Kind: wire.UpdateObjectFinished, Object: &o, Size: size})
	}
	r.send(updates)
}

func (r *stateReporter) TaskFailed(task shared.TaskID, taskErr *shared.Error) {
	t := task
	r.send([]wire.StateUpdate{{Kind: wire.UpdateTaskFailed, Task: &t, Error: taskErr}})
}

func (r *stateReporter) ObjectFinished(object shared.DataObjectID, size int64) {
	o := object
	r.send([]wire.StateUpdate{{Kind: wire.UpdateObjectFinished, Object: &o, Size: size}})
}

func (r *stateReporter) send(updates []wire.StateUpdate) {
	if r.conn == nil {
		return
	}
	_ = r.conn.ReportState(wire.StateReport{Governor: r.governor, Updates: updates})
}

// snapshotInspector adapts rainruntime.Runtime.Snapshot to debugapi.Inspector.
type snapshotInspector struct{ rt *rainruntime.Runtime }

func (s snapshotInspector) Objects() []debugapi.ObjectRow {
	snap := s.rt.Snapshot(context.Background())
	rows := make([]debugapi.ObjectRow, len(snap.Objects))
	for i, o := range snap.Objects {
		rows[i] = debugapi.ObjectRow{ID: o.ID.String(), DataType: string(o.DataType), Finished: o.Finished, Size: o.Size}
	}
	return rows
}

func (s snapshotInspector) Tasks() []debugapi.TaskRow {
	snap := s.rt.Snapshot(context.Background())
	rows := make([]debugapi.TaskRow, len(snap.Tasks))
	for i, t := range snap.Tasks {
		rows[i] = debugapi.TaskRow{ID: t.ID.String(), State: t.State.String()}
	}
	return rows
}

func (s snapshotInspector) FreeCPUs() int { return s.rt.FreeCPUs() }

func buildLogger(level string) (*zap.Logger, error) {
	var zapLevel zap.AtomicLevel
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zapLevel
	return cfg.Build()
}

// fetchLookup answers peer Fetch requests from the view cache: the same
// TransportViews builtin tasks read from are reused to serve remote peers,
// so a hot object never needs to be mmap'd twice.
func fetchLookup(rt *rainruntime.Runtime, views *cache.ViewCache) fetch.Lookup {
	return func(id shared.DataObjectID) (*data.PackStream, shared.DataType, int64, bool) {
		dataType, storage, ok := rt.LookupObject(context.Background(), id)
		if !ok {
			return nil, "", 0, false
		}
		view, err := views.Get(id, func() (*data.TransportView, error) {
			return openViewForFetch(storage)
		})
		if err != nil {
			return nil, "", 0, false
		}
		return data.NewPackStream(view), dataType, view.Size(), true
	}
}

func openViewForFetch(s data.Storage) (*data.TransportView, error) {
	switch s.Kind {
	case data.StorageMemory:
		return data.MemoryView(s.Bytes), nil
	case data.StoragePath:
		return data.OpenMmapView(s.Path, s.Size)
	default:
		return data.EmptyView(), nil
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
