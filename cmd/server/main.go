// Command server hosts arenas behind a websocket gateway.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"arena-host/internal/api"
	"arena-host/internal/arena"
	"arena-host/internal/config"
	"arena-host/internal/host"
	"arena-host/internal/logging"
	"arena-host/internal/plugins/tally"
	"arena-host/internal/push"
	"arena-host/internal/shutdown"
	"arena-host/internal/trace"
)

// httpShutdownTimeout bounds closing the listeners once arenas are drained.
const httpShutdownTimeout = 5 * time.Second

func main() {
	configPath := flag.String("config", os.Getenv("ARENA_CONFIG"), "TOML config file (optional)")
	flag.Parse()

	// .env is optional; real environment variables win.
	envErr := godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if envErr == nil {
		log.Info("loaded environment from .env")
	}

	if err := run(cfg, log); err != nil {
		log.Error("server stopped with error", zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}
	log.Info("goodbye")
}

func run(cfg config.AppConfig, log *zap.Logger) error {
	kinds, err := config.LoadKinds(cfg.Host.KindsFile)
	if err != nil {
		return err
	}

	var tr *trace.Log
	if cfg.Trace.Path != "" {
		tr = trace.New()
		if err := tr.Start(cfg.Trace.Path); err != nil {
			return fmt.Errorf("trace log: %w", err)
		}
		defer func() {
			if err := tr.Stop(); err != nil {
				log.Warn("trace log close", zap.Error(err))
			}
		}()
		log.Info("trace log enabled", zap.String("path", cfg.Trace.Path))
	}

	gateway := api.NewGateway(cfg.Server, log.Named("gateway"))
	var pusher arena.Pusher = gateway
	if cfg.NATS.URL != "" {
		mirror, closeNATS, err := push.Connect(cfg.NATS.URL, cfg.NATS.SubjectPrefix, log.Named("push"))
		if err != nil {
			return err
		}
		defer closeNATS()
		pusher = arena.Fanout{gateway, mirror}
		log.Info("mirroring pushes to nats", zap.String("url", cfg.NATS.URL))
	}

	state := shutdown.NewState()
	h := host.New(state, log.Named("host"), host.Options{
		MaxArenas: cfg.Host.MaxArenas,
		ArenaOptions: []arena.Option{
			arena.WithLogger(log.Named("arena")),
			arena.WithPusher(pusher),
			arena.WithTrace(tr),
		},
	})
	h.RegisterPlugin("tally", tally.Factory(log.Named("tally")))
	for _, k := range kinds {
		if err := h.AddKind(k); err != nil {
			return err
		}
	}
	if cfg.Host.Warm {
		if err := h.Warm(); err != nil {
			return fmt.Errorf("warm arenas: %w", err)
		}
	}
	log.Info("arena kinds ready", zap.Strings("kinds", h.Kinds()), zap.Int("max_arenas", cfg.Host.MaxArenas))

	tokens, err := api.NewTokens(nil)
	if err != nil {
		return err
	}
	srv := api.NewServer(api.ServerConfig{
		Host:      h,
		Gateway:   gateway,
		Tokens:    tokens,
		Server:    cfg.Server,
		RateLimit: cfg.RateLimit,
		Log:       log.Named("api"),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(srv.Start)

	var debug *http.Server
	if cfg.Debug.Addr != "" {
		debug = api.NewDebugServer(cfg.Debug.Addr, log)
		g.Go(func() error {
			log.Info("debug server listening", zap.String("addr", debug.Addr))
			if err := debug.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("debug server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down", zap.Duration("timeout", cfg.Host.ShutdownTimeout))

		ctrl := shutdown.NewController(state, h, cfg.Host.ShutdownTimeout, log.Named("shutdown"))
		err := ctrl.Shutdown(context.Background())
		for _, rep := range ctrl.Reports() {
			fields := []zap.Field{
				zap.String("arena", rep.Arena.String()),
				zap.Uint64("version", uint64(rep.Version)),
				zap.Int("notified", rep.Notified),
			}
			if rep.Err != nil {
				fields = append(fields, zap.NamedError("arena_error", rep.Err))
			}
			log.Info("arena drained", fields...)
		}

		sctx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
		defer cancel()
		err = multierr.Append(err, srv.Shutdown(sctx))
		if debug != nil {
			err = multierr.Append(err, debug.Shutdown(sctx))
		}
		return err
	})

	log.Info("server ready", zap.String("addr", cfg.Server.Addr()))
	return g.Wait()
}
