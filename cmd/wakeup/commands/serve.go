package commands

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/teranos/wakeup/am"
	"github.com/teranos/wakeup/dispatch"
	"github.com/teranos/wakeup/enrich"
	"github.com/teranos/wakeup/enrich/weather"
	"github.com/teranos/wakeup/errors"
	"github.com/teranos/wakeup/interact"
	"github.com/teranos/wakeup/logger"
	"github.com/teranos/wakeup/provider"
	"github.com/teranos/wakeup/pulse/async"
	"github.com/teranos/wakeup/pulse/schedule"
	"github.com/teranos/wakeup/server"
	"github.com/teranos/wakeup/wakeup"
)

const drainTimeout = 15 * time.Second

// ServeCmd runs the scheduler, the worker pool and the HTTP server
var ServeCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"server"},
	Short:   "Run the wake-up call service",
	Long: `Start the scheduler, the execution workers and the webhook/API server.

Without provider credentials deliveries fail with "provider unavailable";
pass --sandbox to record them in memory instead.`,
	RunE: runServe,
}

var (
	serveDBPath  string
	serveAddr    string
	serveSandbox bool
)

func init() {
	ServeCmd.Flags().StringVar(&serveDBPath, "db-path", "", "Database path (overrides config)")
	ServeCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides server.addr)")
	ServeCmd.Flags().BoolVar(&serveSandbox, "sandbox", false, "Record deliveries in memory when the provider is disabled")
}

func runServe(cmd *cobra.Command, args []string) error {
	log := logger.Logger
	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load configuration")
	}
	for _, msg := range cfg.ApplyCredentialGates() {
		log.Warnw("Integration disabled", "reason", msg)
	}
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}

	conn, err := openDatabase(serveDBPath)
	if err != nil {
		return err
	}
	defer conn.Close()

	calls := wakeup.NewStore(conn)
	logs := wakeup.NewLogStore(conn)
	profiles := wakeup.NewProfileStore(conn)
	inbound := wakeup.NewInboundStore(conn)

	publicURL := strings.TrimRight(cfg.Server.PublicURL, "/")
	p, kind := provider.New(cfg.Provider, publicURL+server.StatusCallbackPath, serveSandbox, log)

	hub := server.NewHub(log)
	engine := dispatch.NewEngine(calls, logs, profiles, p, newEnricher(cfg.Weather, log), dispatch.Config{
		PublicURL:       publicURL,
		EnrichTimeout:   cfg.Weather.Timeout(),
		ProviderTimeout: cfg.Provider.Timeout(),
		Lease:           cfg.Scheduler.Lease(),
		SMSLimit:        cfg.Provider.SMSLimit,
	}, log, dispatch.WithSink(hub))

	pool := async.NewWorkerPool(async.WorkerPoolConfig{
		Workers:       cfg.Workers.Count,
		QueueSize:     cfg.Workers.QueueSize,
		TaskTimeout:   cfg.Workers.TaskTimeout(),
		RatePerSecond: cfg.Workers.RatePerSecond,
	}, func(ctx context.Context, id string) error {
		_, err := engine.Execute(ctx, id)
		return err
	}, log)

	svc := wakeup.NewService(calls, profiles, log)
	sched, err := schedule.New(calls, schedule.NewTriggerStore(conn), pool, schedule.Config{
		TickInterval:    cfg.Scheduler.TickInterval(),
		Tolerance:       cfg.Scheduler.Tolerance(),
		Lease:           cfg.Scheduler.Lease(),
		MaxLateness:     cfg.Scheduler.MaxLateness(),
		MaintenanceCron: cfg.Scheduler.MaintenanceCron,
	}, log)
	if err != nil {
		return err
	}
	svc.SetTriggers(sched)
	pool.SetReleaser(sched)

	handler := interact.NewHandler(svc, calls, logs, inbound, p, interact.Config{
		PublicURL:           publicURL,
		ReplyTimeout:        cfg.Provider.Timeout(),
		ReplyLimitPerMinute: cfg.Interact.ReplyLimitPerMinute,
	}, log)

	srv := server.NewServer(cfg.Server.Addr, server.Deps{
		Service:   svc,
		Calls:     calls,
		Logs:      logs,
		Scripts:   engine,
		Interact:  handler,
		Pool:      pool,
		Scheduler: sched,
		Hub:       hub,
	}, log)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool.Start(ctx)
	defer pool.Stop()
	if err := sched.Start(ctx); err != nil {
		return err
	}
	defer sched.Stop()
	if err := srv.Start(); err != nil {
		return err
	}

	if w := watchConfig(pool, log); w != nil {
		defer w.Stop()
	}

	printStartupBanner(srv.Addr(), string(kind), publicURL)
	<-ctx.Done()
	log.Infow("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warnw("HTTP shutdown incomplete", logger.FieldError, err)
	}
	return nil
}

// newEnricher returns the weather client, or the unavailable source when
// weather is off
func newEnricher(cfg am.WeatherConfig, log *zap.SugaredLogger) enrich.ContextEnrichment {
	if !cfg.Enabled {
		return enrich.Disabled{}
	}
	return weather.New(weather.Config{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
		Timeout: cfg.Timeout(),
		Logger:  log,
	})
}

// watchConfig applies worker rate changes from edited config files. Returns
// nil when no config file exists.
func watchConfig(pool *async.WorkerPool, log *zap.SugaredLogger) *am.ConfigWatcher {
	paths := am.ExistingConfigPaths()
	if len(paths) == 0 {
		return nil
	}
	w, err := am.NewConfigWatcher(paths, func() (*am.Config, error) {
		am.Reset()
		return am.Load()
	}, log)
	if err != nil {
		log.Warnw("Config watcher unavailable", logger.FieldError, err)
		return nil
	}
	w.OnReload(func(cfg *am.Config) error {
		pool.SetRate(cfg.Workers.RatePerSecond)
		return nil
	})
	w.Start()
	return w
}
