package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/shortontech/trafficgate/internal/event"
	"github.com/shortontech/trafficgate/internal/gate"
	httpx "github.com/shortontech/trafficgate/internal/http"
	"github.com/shortontech/trafficgate/internal/metrics"
	"github.com/shortontech/trafficgate/internal/sink"
	"github.com/shortontech/trafficgate/pkg/config"
)

func main() {
	healthcheck := flag.Bool("healthcheck", false, "probe /healthz of the local instance and exit")
	selftest := flag.Bool("selftest", false, "run sample traffic through the policy, emit the decisions and exit")
	flag.Parse()

	cfg := config.Load()

	if *healthcheck {
		if err := performHealthCheck(healthURL(cfg)); err != nil {
			log.Printf("health check failed: %v", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	engine, err := gate.LoadEngine(cfg.PolicyFile)
	if err != nil {
		log.Fatalf("failed to load policy: %v", err)
	}
	log.Printf("gate: policy %s loaded (strategy=%s)", engine.Snapshot().Hash, strategyName(engine))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	appMetrics := metrics.InitMetrics()
	metricsServer := metrics.NewServer(metrics.LoadConfig())
	if err := metricsServer.Start(ctx); err != nil {
		log.Printf("metrics: failed to start: %v", err)
	}

	sinks := initializeSinks(ctx, cfg.Outputs, appMetrics)
	emit := createEmitFunc(sinks, appMetrics)

	if *selftest {
		runSelfTest(engine, emit)
		closeSinks(sinks)
		return
	}

	if cfg.PolicyWatch {
		startReloader(ctx, engine, appMetrics)
	}

	var draining atomic.Bool
	env := httpx.Env{
		Cfg:     cfg,
		Engine:  engine,
		Emit:    emit,
		Metrics: appMetrics,
		Ready: func() error {
			if draining.Load() {
				return errors.New("shutting down")
			}
			return nil
		},
	}

	srv := startHTTPServer(cfg, env)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	draining.Store(true)
	cancel()

	waitForShutdown(srv, metricsServer, sinks)
}

func strategyName(e *gate.Engine) string {
	if s := e.Snapshot().File.Strategy; s != "" {
		return s
	}
	return "default"
}

// initializeSinks starts every configured output. A sink that fails to
// start is logged and skipped.
func initializeSinks(ctx context.Context, outputs []string, m *metrics.Metrics) []sink.Sink {
	var sinks []sink.Sink
	for _, out := range outputs {
		var s sink.Sink
		switch out {
		case "log":
			s = sink.NewLogSink()
		case "kafka":
			ks := sink.NewKafkaSinkFromEnv()
			ks.OnError = func(errorType string) { m.IncrementSinkErrors("kafka", errorType) }
			s = ks
		case "postgres":
			ps := sink.NewPGSinkFromEnv()
			ps.OnFlush = func(n int, d time.Duration, err error) {
				m.ObserveBatchFlushLatency("postgres", d)
				if err != nil {
					m.IncrementSinkErrors("postgres", "flush")
				}
			}
			s = ps
		default:
			log.Printf("sink: unknown output %q, skipping", out)
			continue
		}

		if err := s.Start(ctx); err != nil {
			log.Printf("sink: failed to start %s: %v", s.Name(), err)
			m.IncrementSinkErrors(s.Name(), "start")
			continue
		}
		log.Printf("sink: %s started", s.Name())
		sinks = append(sinks, s)
	}
	return sinks
}

// createEmitFunc fans a decision out to every sink. Sink failures are
// counted and never reach the request path.
func createEmitFunc(sinks []sink.Sink, m *metrics.Metrics) func(event.Decision) {
	return func(d event.Decision) {
		for _, s := range sinks {
			if err := s.Enqueue(d); err != nil {
				log.Printf("sink: %s enqueue failed: %v", s.Name(), err)
				m.IncrementSinkErrors(s.Name(), "enqueue")
				continue
			}
			m.IncrementEventsEmitted(s.Name())
		}
	}
}

func startReloader(ctx context.Context, engine *gate.Engine, m *metrics.Metrics) {
	r, err := gate.NewReloader(engine)
	if err != nil {
		log.Printf("gate: hot-reload disabled: %v", err)
		return
	}
	r.OnResult = func(err error) {
		if err != nil {
			m.IncrementPolicyReloads("error")
			return
		}
		m.IncrementPolicyReloads("success")
	}
	go func() {
		if err := r.Run(ctx); err != nil {
			log.Printf("gate: file watcher stopped: %v", err)
		}
	}()
	log.Printf("gate: watching %s for changes", engine.Path())
}

func startHTTPServer(cfg config.Config, env httpx.Env) *http.Server {
	srv := &http.Server{
		Addr:              cfg.ServerAddr,
		Handler:           httpx.NewMux(env),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		var err error
		if cfg.EnableHTTPS {
			log.Printf("trafficgate listening on %s (HTTPS)", cfg.ServerAddr)
			err = srv.ListenAndServeTLS(cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			log.Printf("trafficgate listening on %s", cfg.ServerAddr)
			err = srv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()
	return srv
}

// healthURL points at /healthz of the instance described by cfg, on
// loopback when the address has no host.
func healthURL(cfg config.Config) string {
	host, port, err := net.SplitHostPort(cfg.ServerAddr)
	if err != nil {
		host, port = "", strings.TrimPrefix(cfg.ServerAddr, ":")
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	scheme := "http"
	if cfg.EnableHTTPS {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/healthz", scheme, net.JoinHostPort(host, port))
}

func performHealthCheck(url string) error {
	client := &http.Client{
		Timeout: 3 * time.Second,
		Transport: &http.Transport{
			// The probe runs next to the server and may face a self-signed cert.
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec
		},
	}
	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if strings.TrimSpace(string(body)) != "ok" {
		return fmt.Errorf("unexpected response body %q", body)
	}
	return nil
}

func closeSinks(sinks []sink.Sink) {
	for _, s := range sinks {
		if err := s.Close(); err != nil {
			log.Printf("sink: failed to close %s: %v", s.Name(), err)
		}
	}
}

func waitForShutdown(srv *http.Server, metricsServer *metrics.Server, sinks []sink.Sink) {
	log.Printf("shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("server shutdown: %v", err)
	}
	if err := metricsServer.Shutdown(ctx); err != nil {
		log.Printf("metrics: shutdown: %v", err)
	}
	closeSinks(sinks)
}
