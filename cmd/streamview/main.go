// Package main runs the streamview backend: the live telemetry dashboard
// model, its connection engines, the optional WebSocket proxy and the
// HTTP surface that serves health, metrics and dashboard state.
package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/c360/streamview/config"
	"github.com/c360/streamview/connection"
	"github.com/c360/streamview/dashboard"
	"github.com/c360/streamview/endpoint"
	"github.com/c360/streamview/health"
	"github.com/c360/streamview/metric"
	"github.com/c360/streamview/natsclient"
	"github.com/c360/streamview/output/natsrelay"
	"github.com/c360/streamview/pkg/retry"
	"github.com/c360/streamview/pkg/tlsutil"
	"github.com/c360/streamview/proxy"
	"github.com/c360/streamview/render"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "streamview"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	cliCfg, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return fmt.Errorf("invalid flags: %w", err)
	}
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	if cliCfg.ShowVersion {
		_, _ = fmt.Fprintf(stdout, "%s version %s\n", appName, Version)
		return nil
	}

	logger := setupLogger(stdout, cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	cfg, err := loadConfig(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cliCfg.Validate {
		logger.Info("Configuration is valid")
		return nil
	}

	logger.Info("Starting streamview",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath,
		"proxy_enabled", cfg.ProxyEnabled,
		"ports", cfg.AggregatorPorts)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	return a.serve(ctx, cliCfg.ShutdownTimeout)
}

// loadConfig layers the optional file over the defaults and applies
// STREAMVIEW_* overrides.
func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader()
	if path != "" {
		loader.AddLayer(path)
	}
	return loader.Load()
}

// app is the wired process: every long-lived component plus the mux.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	metrics   *metric.MetricsRegistry
	monitor   *health.Monitor
	scheduler *render.Scheduler
	dashboard *dashboard.Dashboard
	registry  *dashboard.Registry
	proxy     *proxy.Handler
	nats      *natsclient.Client
	relay     *natsrelay.Relay
	tls       *tls.Config
	mux       *http.ServeMux
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{
		cfg:     cfg,
		logger:  logger,
		metrics: metric.NewMetricsRegistry(),
		monitor: health.NewMonitor(),
	}

	a.scheduler = render.NewScheduler(
		render.WithLogger(logger),
		render.WithMetrics(a.metrics),
	)
	a.scheduler.SetContinuous(cfg.Render.Continuous)

	store := dashboard.NewFrameStore()
	a.dashboard = dashboard.New(
		dashboard.WithLogger(logger),
		dashboard.WithRetention(cfg.Render.Retention),
		dashboard.WithScheduler(a.scheduler, store),
		dashboard.WithMetrics(a.metrics),
	)

	connMetrics, err := connection.NewMetrics(a.metrics)
	if err != nil {
		return nil, fmt.Errorf("create connection metrics: %w", err)
	}

	regOpts := []dashboard.RegistryOption{
		dashboard.WithRegistryLogger(logger),
		dashboard.WithHealth(a.monitor),
		dashboard.WithConnectionMetrics(connMetrics),
		dashboard.WithEngineOptions(
			connection.WithTimeouts(cfg.Connection.ConnectTimeout, cfg.Connection.HeartbeatInterval),
			connection.WithBackoff(retry.Backoff{
				Base:   cfg.Connection.BackoffBase,
				Factor: cfg.Connection.BackoffFactor,
				Max:    cfg.Connection.BackoffMax,
			}),
		),
	}

	if cfg.NATS.Enabled {
		relay, err := a.setupRelay(ctx)
		if err != nil {
			return nil, err
		}
		regOpts = append(regOpts, dashboard.WithSink(relay))
	}

	resolver := newResolver(cfg)
	a.registry = dashboard.NewRegistry(resolver, a.dashboard, regOpts...)

	a.tls, err = tlsutil.LoadServerTLSConfig(cfg.HTTP.TLS)
	if err != nil {
		return nil, err
	}
	upstreamTLS, err := tlsutil.LoadClientTLSConfig(cfg.ProxyTLS)
	if err != nil {
		return nil, err
	}
	proxyMetrics, err := proxy.NewMetrics(a.metrics)
	if err != nil {
		return nil, fmt.Errorf("create proxy metrics: %w", err)
	}
	a.proxy = proxy.New(cfg.ProxyEnabled,
		proxy.WithLogger(logger),
		proxy.WithMetrics(proxyMetrics),
		proxy.WithWriteTimeout(cfg.Proxy.WriteTimeout),
		proxy.WithDialer(&websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.Proxy.DialTimeout,
			TLSClientConfig:  upstreamTLS,
		}),
	)

	a.mux = http.NewServeMux()
	a.mux.Handle("/metrics", metric.Handler(a.metrics))
	a.mux.Handle("/health", health.Handler(a.monitor, appName))
	// A reverse proxy in front may strip the site path, so the bare route
	// stays mounted next to the one under the site path.
	a.mux.Handle("/"+endpoint.ProxyPath, a.proxy)
	if route := resolver.ProxyRoute(); route != "/"+endpoint.ProxyPath {
		a.mux.Handle(route, a.proxy)
	}
	a.mux.Handle("/api/graphs", dashboard.GraphsHandler(a.dashboard, store))
	a.mux.Handle("/api/fragment", dashboard.FragmentHandler(a.dashboard))

	for _, server := range cfg.Servers {
		if err := a.registry.Connect(server); err != nil {
			logger.Warn("Skipping server", "server", server, "error", err)
		}
	}
	if cfg.Fragment != "" {
		if err := a.dashboard.ApplyFragment(cfg.Fragment); err != nil {
			return nil, fmt.Errorf("apply fragment: %w", err)
		}
	}
	return a, nil
}

// setupRelay connects to NATS and returns the sink that mirrors every
// report there before handing it to the dashboard. A NATS outage at startup
// is logged; the client keeps reconnecting in the background.
func (a *app) setupRelay(ctx context.Context) (*natsrelay.Relay, error) {
	nc := a.cfg.NATS
	client, err := natsclient.NewClient(strings.Join(nc.URLs, ","), natsOptions(nc, a.logger, a.metrics)...)
	if err != nil {
		return nil, fmt.Errorf("create NATS client: %w", err)
	}
	a.nats = client

	err = retry.Do(ctx, retry.Quick(), func() error {
		return client.Connect(ctx)
	})
	if err != nil {
		a.logger.Warn("NATS unavailable, relay will publish once connected", "error", err)
	}

	relay := natsrelay.New(a.dashboard, client,
		natsrelay.WithPrefix(nc.SubjectPrefix),
		natsrelay.WithLogger(a.logger),
		natsrelay.WithMetrics(a.metrics),
		natsrelay.WithPublishTimeout(nc.PublishTimeout),
		natsrelay.WithAsync(4, 1024),
	)
	if err := relay.Start(ctx); err != nil {
		return nil, fmt.Errorf("start relay: %w", err)
	}
	a.relay = relay
	a.monitor.Register("nats", client)
	a.monitor.Register("natsrelay", relay)
	return relay, nil
}

// natsOptions maps the NATS section onto client options.
func natsOptions(nc config.NATSConfig, logger *slog.Logger, metrics *metric.MetricsRegistry) []natsclient.ClientOption {
	opts := []natsclient.ClientOption{
		natsclient.WithName(appName),
		natsclient.WithLogger(logger),
		natsclient.WithMetrics(metrics),
		natsclient.WithMaxReconnects(nc.MaxReconnects),
		natsclient.WithReconnectWait(nc.ReconnectWait),
		natsclient.WithTimeout(nc.ConnectTimeout),
		natsclient.WithPingInterval(nc.PingInterval),
		natsclient.WithDrainTimeout(nc.DrainTimeout),
		natsclient.WithDisconnectCallback(func(err error) {
			logger.Warn("NATS disconnected, relay publishes will fail until reconnect", "error", err)
		}),
		natsclient.WithReconnectCallback(func() {
			logger.Info("NATS reconnected")
		}),
	}
	switch {
	case nc.Token != "":
		opts = append(opts, natsclient.WithToken(nc.Token))
	case nc.Username != "":
		opts = append(opts, natsclient.WithCredentials(nc.Username, nc.Password))
	}
	return opts
}

// newResolver derives endpoint expansion from configuration. Without a
// site URL the proxy is addressed at the local listen address.
func newResolver(cfg *config.Config) endpoint.Resolver {
	r := endpoint.Resolver{
		ProxyEnabled: cfg.ProxyEnabled,
		KnownPorts:   cfg.AggregatorPorts,
	}
	if site := cfg.SiteURL(); site != nil {
		r.SiteSecure = site.Scheme == "https"
		r.ProxyBase = site
		return r
	}

	host, port, err := net.SplitHostPort(cfg.HTTP.Addr)
	if err != nil {
		return r
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	scheme := "http"
	if cfg.HTTP.TLS.Enabled() {
		scheme = "https"
		r.SiteSecure = true
	}
	r.ProxyBase = &url.URL{Scheme: scheme, Host: net.JoinHostPort(host, port), Path: "/"}
	return r
}

// serve runs the HTTP server and render loop until ctx ends, then shuts
// down in reverse order of construction.
func (a *app) serve(ctx context.Context, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTP.Addr,
		Handler:           a.mux,
		TLSConfig:         a.tls,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("HTTP server listening", "addr", srv.Addr, "tls", srv.TLSConfig != nil)
		var err error
		if srv.TLSConfig != nil {
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return a.scheduler.Run(gctx)
	})
	g.Go(func() error {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				a.refreshHealth()
			}
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return a.shutdown(shutdownCtx, srv)
	})

	err := g.Wait()
	a.logger.Info("streamview shutdown complete")
	return err
}

// refreshHealth polls every checker and mirrors the results into the
// health gauge. Removed components drop out of the gauge.
func (a *app) refreshHealth() {
	a.monitor.Refresh()
	core := a.metrics.CoreMetrics()
	core.HealthCheckStatus.Reset()
	for name, st := range a.monitor.GetAll() {
		core.RecordHealthStatus(name, st.IsHealthy())
	}
}

func (a *app) shutdown(ctx context.Context, srv *http.Server) error {
	var errs []error
	if err := srv.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	a.proxy.Close()
	a.registry.Close()
	if a.relay != nil {
		if err := a.relay.Stop(5 * time.Second); err != nil {
			errs = append(errs, fmt.Errorf("relay stop: %w", err))
		}
	}
	if a.nats != nil {
		if err := a.nats.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("nats close: %w", err))
		}
	}
	return errors.Join(errs...)
}
