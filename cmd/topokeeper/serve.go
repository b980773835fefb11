package main

import (
	"context"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"topokeeper/internal/config"
	"topokeeper/internal/fabric"
	"topokeeper/internal/handler"
	"topokeeper/internal/hello"
	"topokeeper/internal/hub"
	"topokeeper/internal/liveness"
	"topokeeper/internal/logging"
	"topokeeper/internal/observability"
	"topokeeper/internal/repository"
	"topokeeper/internal/repository/redis"
	"topokeeper/internal/repository/sqlite"
	"topokeeper/internal/service"
	"topokeeper/internal/watcher"
)

func newServeCmd() *cobra.Command {
	var clean bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the controller and its REST API",
		Long: `Start the controller.

The entity store is reloaded unchanged unless --clean is given, in which
case every switch, interface and link record is wiped first. With
--enable-all every discovered switch, interface and link starts enabled.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, err := loadConfig(flagV)
			if err != nil {
				return err
			}
			if clean {
				cfg.Topology.StartMode = config.StartClean
			}
			if err := logging.Configure(cfg.Log.Level, cfg.Log.Format); err != nil {
				return errors.Wrap(err, "configure logging")
			}
			if path != "" {
				logging.Infof("using config file %s", path)
			} else {
				logging.Debugf("no config file in %v, using defaults", config.SearchPaths())
			}
			logging.Infof("%s", cfg.Summary())

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, path)
		},
	}

	f := cmd.Flags()
	f.BoolVar(&clean, "clean", false, "wipe the entity store before starting")
	f.Bool("enable-all", false, "enable every discovered switch, interface and link")
	f.String("addr", "", "HTTP listen address")
	f.String("db", "", "SQLite database path")
	f.Int("polling-time", 0, "seconds between hellos")
	_ = flagV.BindPFlag("topology.enable_all", f.Lookup("enable-all"))
	_ = flagV.BindPFlag("server.addr", f.Lookup("addr"))
	_ = flagV.BindPFlag("database.path", f.Lookup("db"))
	_ = flagV.BindPFlag("lldp.polling_time", f.Lookup("polling-time"))

	return cmd
}

// openStore opens the configured backend and applies the start mode
func openStore(ctx context.Context, cfg *config.Config, m *observability.Metrics) (repository.Store, error) {
	var (
		store repository.Store
		err   error
	)
	switch cfg.Database.Driver {
	case "redis":
		store, err = redis.New(ctx, cfg.Database.RedisAddr, cfg.Database.RedisDB)
	default:
		store, err = sqlite.New(cfg.Database.Path)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "open %s store", cfg.Database.Driver)
	}
	store = repository.Instrument(store, m)

	if cfg.Topology.StartMode.Clean() {
		if err := store.Reset(ctx); err != nil {
			store.Close()
			return nil, errors.Wrap(err, "reset store")
		}
		logging.Infof("clean start: entity store wiped")
	}
	return store, nil
}

func serve(ctx context.Context, cfg *config.Config, cfgPath string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(reg)

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfig{
		Enabled:     cfg.Tracing.Enabled,
		Exporter:    cfg.Tracing.Exporter,
		Endpoint:    cfg.Tracing.Endpoint,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		return errors.Wrap(err, "init tracing")
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logging.Warnf("tracing shutdown: %v", err)
		}
	}()

	store, err := openStore(ctx, cfg, metrics)
	if err != nil {
		return err
	}
	defer store.Close()

	eventBus := service.NewEventBus()
	topo := service.NewTopologyService(store, eventBus, service.WithEnableAll(cfg.Topology.EnableAll))

	detector := liveness.New(topo, liveness.Config{
		PollingTime:    cfg.LLDP.PollingInterval(),
		DeadMultiplier: cfg.LLDP.DeadMultiplier,
	}, metrics)

	fabricTopo, err := loadFabricTopology(cfg)
	if err != nil {
		return errors.Wrap(err, "load fabric topology")
	}
	fab, err := fabric.New(fabricTopo)
	if err != nil {
		return err
	}

	driver := hello.NewDriver(topo, detector, fab, hello.Config{
		PollingTime: cfg.LLDP.PollingInterval(),
		Workers:     cfg.LLDP.Workers,
	}, metrics)
	fab.SetReceiver(driver)

	lldp := service.NewLLDPService(topo, store, detector, eventBus, driver)
	if err := lldp.Restore(ctx); err != nil {
		return errors.Wrap(err, "restore liveness monitoring")
	}
	if err := fab.Connect(ctx, topo); err != nil {
		return errors.Wrap(err, "connect fabric")
	}

	sseHub := hub.New()
	events := make(chan service.Event, 100)
	eventBus.Subscribe(events)

	var wg sync.WaitGroup
	run := func(fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx)
		}()
	}
	run(sseHub.Run)
	run(detector.Run)
	run(driver.Run)
	run(func(ctx context.Context) {
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-events:
				sseHub.Broadcast(ev)
			}
		}
	})

	if cfgPath != "" {
		w := watcher.New(cfgPath, func() { reloadSettings(ctx, cfgPath, lldp) })
		run(func(ctx context.Context) {
			if err := w.Watch(ctx); err != nil && ctx.Err() == nil {
				logging.Warnf("config watcher stopped: %v", err)
			}
		})
	}

	api := http.NewServeMux()
	handler.NewTopologyHandler(topo).Register(api)
	handler.NewLLDPHandler(lldp).Register(api)

	mux := http.NewServeMux()
	mux.Handle("/api/", http.TimeoutHandler(api, cfg.Server.RequestTimeout.Duration(), `{"error":"request timed out"}`))
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /healthz", handler.Health(store))
	mux.Handle("GET /events", sseHub)

	final := handler.Chain(mux,
		handler.Recover,
		handler.CORS,
		handler.Logger,
		handler.Metrics(metrics),
	)

	server := &http.Server{
		Addr:        cfg.Server.Addr,
		Handler:     otelhttp.NewHandler(final, "topokeeper"),
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logging.Infof("listening on %s", cfg.Server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
	}()

	select {
	case <-ctx.Done():
		logging.Infof("shutting down")
	case err = <-errc:
		logging.Errorf("server error: %v", err)
	}

	// stop background loops first so the hub releases SSE streams
	cancel()

	shutdownCtx, done := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer done()
	if serr := server.Shutdown(shutdownCtx); serr != nil {
		logging.Warnf("server shutdown: %v", serr)
	}

	wg.Wait()
	logging.Infof("stopped")
	return err
}

// reloadSettings applies the runtime-adjustable settings of a changed
// config file: log level and hello polling time
func reloadSettings(ctx context.Context, path string, lldp *service.LLDPService) {
	cfg, _, err := config.LoadFromPath(path)
	if err == nil {
		cfg.ApplyOverrides(flagV)
		err = cfg.Validate()
	}
	if err != nil {
		logging.Warnf("ignoring config change: %v", err)
		return
	}
	if err := logging.SetLogLevel(cfg.Log.Level); err != nil {
		logging.Warnf("ignoring log level %q: %v", cfg.Log.Level, err)
	}
	if cfg.LLDP.PollingTime != lldp.PollingTime() {
		if err := lldp.SetPollingTime(ctx, cfg.LLDP.PollingTime); err != nil {
			logging.Warnf("ignoring polling time: %v", err)
		}
	}
}
