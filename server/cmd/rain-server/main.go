// Command rain-server runs the authoritative scheduler: it accepts client
// submissions, places tasks onto connected governors, and persists the
// event log. The root command follows the usual cobra shape: flags
// default from environment variables, a zap logger is built once from a
// --log-level flag, and signal.NotifyContext drives graceful shutdown.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"

	"github.com/rain-io/rain/server/internal/debugapi"
	"github.com/rain-io/rain/server/internal/eventlog"
	"github.com/rain-io/rain/server/internal/governors"
	"github.com/rain-io/rain/server/internal/graph"
	"github.com/rain-io/rain/server/internal/rpc"
	"github.com/rain-io/rain/server/internal/scheduler"
)

type config struct {
	clientAddr   string
	governorAddr string
	debugAddr    string
	dbDriver     string
	dbDSN        string
	logLevel     string
	policy       string
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
		Use:   "rain-server",
		Short: "Run the rain scheduler server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return run(ctx, cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&cfg.clientAddr, "client-addr", envOrDefault("RAIN_CLIENT_ADDR", ":7760"), "address clients connect to")
	flags.StringVar(&cfg.governorAddr, "governor-addr", envOrDefault("RAIN_GOVERNOR_ADDR", ":7761"), "address governors connect to")
	flags.StringVar(&cfg.debugAddr, "debug-addr", envOrDefault("RAIN_DEBUG_ADDR", ":7762"), "address for /healthz, /metrics, and the debug event stream")
	flags.StringVar(&cfg.dbDriver, "db-driver", envOrDefault("RAIN_DB_DRIVER", "sqlite"), "event log database driver: sqlite or postgres")
	flags.StringVar(&cfg.dbDSN, "db-dsn", envOrDefault("RAIN_DB_DSN", ""), "event log database DSN")
	flags.StringVar(&cfg.logLevel, "log-level", envOrDefault("RAIN_LOG_LEVEL", "info"), "log level: debug, info, warn, error")
	flags.StringVar(&cfg.policy, "policy", envOrDefault("RAIN_SCHEDULER_POLICY", "greedy"), "scheduler policy: greedy or random")

	return cmd
}

func run(ctx context.Context, cfg config) error {
	logger, err := buildLogger(cfg.logLevel)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	db, err := eventlog.Connect(eventlog.Config{
		Driver:   eventlog.Driver(cfg.dbDriver),
		DSN:      cfg.dbDSN,
		LogLevel: gormLogLevel(cfg.logLevel),
	})
	if err != nil {
		return fmt.Errorf("connect event log: %w", err)
	}
	store := eventlog.NewStore(db)

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	g := graph.New()
	govs := governors.NewRegistry()
	policy := choosePolicy(cfg.policy)
	reactor := rpc.NewReactor(logger, g, policy, govs, store)

	go reactor.Run(runCtx)

	governorLn, err := net.Listen("tcp", cfg.governorAddr)
	if err != nil {
		return fmt.Errorf("listen governor-addr: %w", err)
	}
	clientLn, err := net.Listen("tcp", cfg.clientAddr)
	if err != nil {
		return fmt.Errorf("listen client-addr: %w", err)
	}

	govListener := rpc.NewGovernorListener(logger, reactor)
	clientListener := rpc.NewClientListener(logger, reactor)

	errCh := make(chan error, 3)
	go func() { errCh <- govListener.Serve(runCtx, governorLn) }()
	go func() { errCh <- clientListener.Serve(runCtx, clientLn) }()

	debugSrv := &http.Server{
		Addr: cfg.debugAddr,
		Handler: debugapi.NewRouter(debugapi.Config{
			Logger: logger,
			Graph:  g,
			Events: store,
		}),
	}
	go func() {
		logger.Info("debug http listening", zap.String("addr", cfg.debugAddr))
		if err := debugSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("debug http server: %w", err)
		}
	}()

	logger.Info("rain-server started",
		zap.String("client_addr", cfg.clientAddr),
		zap.String("governor_addr", cfg.governorAddr),
		zap.String("policy", cfg.policy),
	)

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case <-reactor.Terminated():
		logger.Info("shutting down: terminate_server requested by a client")
	case err := <-errCh:
		logger.Error("fatal listener error", zap.Error(err))
		cancelRun()
		cancelDebug, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = debugSrv.Shutdown(cancelDebug)
		return err
	}

	cancelRun()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return debugSrv.Shutdown(shutdownCtx)
}

func choosePolicy(name string) scheduler.Policy {
	if name == "random" {
		return scheduler.RandomPolicy{}
	}
	return scheduler.GreedyPolicy{}
}

func buildLogger(level string) (*zap.Logger, error) {
	var zcfg zap.Config
	if level == "debug" {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}
	if err := zcfg.Level.UnmarshalText([]byte(level)); err != nil {
		zcfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return zcfg.Build()
}

func gormLogLevel(level string) gormlogger.LogLevel {
	if level == "debug" {
		return gormlogger.Info
	}
	return gormlogger.Warn
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
