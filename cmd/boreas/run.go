package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/dnscache"

	stream "github.com/halvard/boreas/internal"
	"github.com/halvard/boreas/internal/config"
	"github.com/halvard/boreas/internal/conn"
	"github.com/halvard/boreas/internal/ops"
	"github.com/halvard/boreas/internal/rag"
	"github.com/halvard/boreas/internal/telemetry"
	"github.com/halvard/boreas/internal/transcript"
	"github.com/halvard/boreas/internal/transport"
	"github.com/halvard/boreas/internal/worker"
)

func run(configPath, command string, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if cfg.Telemetry.Tracing.Enabled {
		shutdown, err := telemetry.SetupTracing(ctx, cfg.Telemetry.Tracing.Endpoint, cfg.Telemetry.Tracing.SampleRate)
		if err != nil {
			return err
		}
		defer shutdown(context.Background())
	}

	reg := prometheus.NewRegistry()
	var metrics *telemetry.Metrics
	if cfg.Telemetry.Metrics.Enabled {
		metrics = telemetry.NewMetrics(reg)
	}

	store, err := transcript.New(cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer store.Close()

	resolver := &dnscache.Resolver{}
	client := transport.NewClient(resolver)

	switch command {
	case "subscribe":
		return subscribe(ctx, cfg, client, resolver, reg, metrics, store)
	case "ask":
		if len(args) != 1 {
			return errors.New(`usage: boreas ask "question"`)
		}
		return ask(ctx, cfg, client, metrics, store, args[0])
	case "history":
		limit := 10
		if len(args) > 0 {
			limit, err = strconv.Atoi(args[0])
			if err != nil || limit < 1 {
				return fmt.Errorf("invalid history count %q", args[0])
			}
		}
		return history(ctx, store, limit)
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

// subscribe follows the configured event stream until a signal arrives,
// reconnecting on drops per the configured policy. The ops server runs
// alongside it.
func subscribe(ctx context.Context, cfg *config.Config, client *http.Client, resolver *dnscache.Resolver, reg *prometheus.Registry, metrics *telemetry.Metrics, store *transcript.Store) error {
	if cfg.Stream.URL == "" {
		return errors.New("stream.url is not configured")
	}

	closed := make(chan struct{})
	c, err := conn.New(conn.Options{
		URL:         cfg.Stream.URL,
		Client:      client,
		Reconnect:   cfg.Stream.AutoReconnect(),
		Policy:      cfg.Stream.Policy(),
		IdleTimeout: cfg.Stream.IdleTimeout,
		Metrics:     metrics,
		Handlers: conn.Handlers{
			OnOpen: func() { slog.Info("stream open", "url", cfg.Stream.URL) },
			OnMessage: func(f stream.Frame) {
				if ev, ok := rag.Interpret(f); ok {
					printEvent(ev)
				}
			},
			OnError: func(err error) { slog.Error("stream error", "error", err) },
			OnClose: func() { close(closed) },
		},
	})
	if err != nil {
		return err
	}

	var metricsHandler http.Handler
	if metrics != nil {
		metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	}
	opsSrv := &http.Server{
		Addr: cfg.Ops.Addr,
		Handler: ops.New(ops.Deps{
			ReadyCheck:     store.Ping,
			MetricsHandler: metricsHandler,
			Transcripts:    store,
			ConnState:      c.State,
		}),
		ReadTimeout:  cfg.Ops.ReadTimeout,
		WriteTimeout: cfg.Ops.WriteTimeout,
	}

	runner := worker.NewRunner(
		worker.Func{WorkerName: "stream", RunFunc: func(ctx context.Context) error {
			if err := c.Connect(ctx); err != nil {
				return err
			}
			select {
			case <-ctx.Done():
				c.Close()
				return ctx.Err()
			case <-closed:
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return errors.New("stream terminated")
			}
		}},
		worker.Func{WorkerName: "ops_server", RunFunc: func(ctx context.Context) error {
			errCh := make(chan error, 1)
			go func() {
				if err := opsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()
			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Ops.ShutdownTimeout)
			defer cancel()
			return opsSrv.Shutdown(shutdownCtx)
		}},
		worker.Func{WorkerName: "dns_refresh", RunFunc: func(ctx context.Context) error {
			transport.RefreshLoop(ctx, resolver, 5*time.Minute)
			return nil
		}},
	)

	slog.Info("boreas ready", "ops_addr", cfg.Ops.Addr)
	err = runner.Run(ctx)
	if errors.Is(err, context.Canceled) {
		slog.Info("boreas stopped")
		return nil
	}
	return err
}

// ask streams one answer to stdout and records the transcript.
func ask(ctx context.Context, cfg *config.Config, client *http.Client, metrics *telemetry.Metrics, store *transcript.Store, question string) error {
	if cfg.Chat.Endpoint == "" {
		return errors.New("chat.endpoint is not configured")
	}
	rc, err := rag.New(rag.Config{
		Endpoint: cfg.Chat.Endpoint,
		Client:   client,
		Metrics:  metrics,
		Recorder: store,
	})
	if err != nil {
		return err
	}

	var failed string
	err = rc.Ask(ctx, question, rag.Handlers{
		OnToken: func(content, _ string) { fmt.Print(content) },
		OnDone:  func(string) { fmt.Println() },
		OnError: func(msg, _ string) { failed = msg },
	})
	if err != nil {
		return err
	}
	if failed != "" {
		return fmt.Errorf("answer failed: %s", failed)
	}
	return nil
}

// history prints the most recent transcripts, newest first.
func history(ctx context.Context, store *transcript.Store, limit int) error {
	ts, err := store.Recent(ctx, limit)
	if err != nil {
		return err
	}
	for _, t := range ts {
		fmt.Printf("%s  [%s]  %s\n", t.CreatedAt.Local().Format(time.RFC3339), t.Status, t.Question)
		if t.Status == "error" {
			fmt.Printf("    error: %s\n", t.Error)
			continue
		}
		fmt.Printf("    %s\n", t.Answer)
	}
	return nil
}

func printEvent(ev stream.Event) {
	switch ev.Kind {
	case stream.EventStart:
		fmt.Printf("--- %s\n", ev.RequestID)
	case stream.EventToken:
		fmt.Print(ev.Content)
	case stream.EventDone:
		fmt.Println()
	case stream.EventError:
		fmt.Fprintf(os.Stderr, "stream error (%s): %s\n", ev.RequestID, ev.Message)
	}
}
