// Command picpaygo-server runs the generation worker pool, the payment webhook
// receiver and the gRPC health service.
package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"

	"github.com/and161185/picpaygo/internal/app"
	"github.com/and161185/picpaygo/internal/config"
	"github.com/and161185/picpaygo/internal/generator"
	"github.com/and161185/picpaygo/internal/observability"
	grpcserver "github.com/and161185/picpaygo/internal/server/grpc"
	httpserver "github.com/and161185/picpaygo/internal/server/http"
	"github.com/and161185/picpaygo/internal/service"
	"github.com/and161185/picpaygo/internal/worker"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

const shutdownTimeout = 5 * time.Second

func main() {
	configPath := flag.String("config", "", "TOML config file (optional)")
	httpAddr := flag.String("http-addr", "", "HTTP listen address (overrides config)")
	grpcAddr := flag.String("grpc-addr", "", "gRPC listen address (overrides config)")
	certFile := flag.String("tls-cert", "", "gRPC TLS certificate (PEM); plaintext when empty")
	keyFile := flag.String("tls-key", "", "gRPC TLS private key (PEM)")
	dev := flag.Bool("dev", false, "development logging and gRPC reflection")
	flag.Parse()

	logger, _ := zap.NewProduction()
	if *dev {
		logger, _ = zap.NewDevelopment()
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
	)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}
	if *httpAddr != "" {
		cfg.HTTPAddr = *httpAddr
	}
	if *grpcAddr != "" {
		cfg.GRPCAddr = *grpcAddr
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *certFile, *keyFile, *dev, logger); err != nil {
		logger.Error("server error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func run(ctx context.Context, cfg config.Config, certFile, keyFile string, dev bool, logger *zap.Logger) error {
	shutdownTracing, err := observability.InitTracing(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Warn("tracing shutdown", zap.Error(err))
		}
	}()

	st, err := app.OpenStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	objects, err := app.OpenObjects(ctx, cfg.Objects, logger)
	if err != nil {
		return err
	}

	// no hosted image provider client ships with the server; Echo returns the input image
	pool := worker.New(st.Jobs, objects, generator.Echo{}, worker.Config{
		Workers:         cfg.Jobs.Workers,
		Timeout:         cfg.Jobs.Timeout,
		PollInterval:    cfg.Jobs.PollInterval,
		GeneratedBucket: cfg.Objects.GeneratedBucket,
	}, logger.Named("worker"))

	svc := app.NewServices(cfg, st, objects, app.Provider(cfg.Stripe, logger), pool, logger)

	var grpcOpts []grpc.ServerOption
	if certFile != "" {
		creds, err := credentials.NewServerTLSFromFile(certFile, keyFile)
		if err != nil {
			return err
		}
		grpcOpts = append(grpcOpts, grpc.Creds(creds))
	}
	gs := grpcserver.New(st, grpcserver.Options{Reflection: dev, ServerOptions: grpcOpts}, logger.Named("grpc"))
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return err
	}

	hs := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpserver.New(svc.Payments, st, logger.Named("http")).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return pool.Run(gctx) })
	g.Go(func() error {
		gs.Watch(gctx)
		return nil
	})
	g.Go(func() error {
		cleanupGuests(gctx, svc.Identity, cfg.Guests, logger)
		return nil
	})
	g.Go(func() error {
		if err := gs.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := hs.Shutdown(sctx); err != nil {
			logger.Warn("http shutdown", zap.Error(err))
		}
		gs.Stop(shutdownTimeout)
		return nil
	})
	return g.Wait()
}

// cleanupGuests removes stale guest sessions on every interval until ctx is done.
func cleanupGuests(ctx context.Context, identity *service.IdentityResolver, cfg config.GuestsConfig, logger *zap.Logger) {
	interval := cfg.CleanupInterval
	if interval <= 0 {
		interval = time.Hour
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		if _, err := identity.CleanupStaleGuests(ctx, cfg.Retention); err != nil && ctx.Err() == nil {
			logger.Error("guest cleanup", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}
