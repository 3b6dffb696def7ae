package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"sellergate.io/internal/audit"
	"sellergate.io/internal/auth"
	"sellergate.io/internal/authz"
	"sellergate.io/internal/cache"
	"sellergate.io/internal/config"
	"sellergate.io/internal/feature"
	"sellergate.io/internal/gate"
	"sellergate.io/internal/httpapi"
	"sellergate.io/internal/obs"
	"sellergate.io/internal/store/pg"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	configPath := flag.String("config", os.Getenv("SELLERGATE_CONFIG"), "path to YAML config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := obs.NewLogger(os.Stdout, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	obs.SetLogger(logger)
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, obs.Logger()); err != nil {
		obs.Logger().Fatal("gate-api stopped", zap.Error(err))
	}
}

// stores bundles the persistence behind both services.
type stores struct {
	kind  string
	authz authz.Store
	audit audit.Store
	gate  gate.Store
	flag  feature.Source
	ready httpapi.Pinger
	close func()
}

func openStores(cfg config.Config) (*stores, error) {
	if cfg.DatabaseURL == "" {
		mem := authz.NewInMemory(nil)
		return &stores{
			kind:  "memory",
			authz: mem,
			audit: mem.Audit(),
			gate:  mem,
			flag:  feature.NewToggle(cfg.Gate.Enabled),
			close: func() {},
		}, nil
	}

	db, err := pg.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	s := &stores{
		kind:  "postgres",
		authz: db,
		audit: db,
		gate:  db,
		ready: db,
		close: func() { _ = db.Close() },
	}
	if cfg.FeatureSource == config.FeatureFromDatabase {
		s.flag = db.Flag(pg.DefaultFlag)
	} else {
		s.flag = feature.NewToggle(cfg.Gate.Enabled)
	}
	return s, nil
}

func openCache(ctx context.Context, cfg config.Config) (cache.Cache, func(), error) {
	if cfg.CacheBackend != config.CacheRedis {
		return cache.NewMemory(), func() {}, nil
	}
	client, err := cache.Connect(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redis ping: %w", err)
	}
	return cache.NewRedis(client), func() { _ = client.Close() }, nil
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	obs.Init()
	metrics, err := obs.NewGateMetrics(prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	st, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer st.close()

	if err := obs.RegisterBuildInfo(prometheus.DefaultRegisterer, obs.BuildInfo{
		Version:       version,
		Commit:        commit,
		Store:         st.kind,
		Cache:         cfg.CacheBackend,
		FeatureSource: cfg.FeatureSource,
	}); err != nil {
		return fmt.Errorf("register build info: %w", err)
	}

	decisions, closeCache, err := openCache(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeCache()

	gateSvc := gate.New(st.gate, decisions, st.flag,
		gate.WithTTL(cfg.Gate.CacheTTL()),
		gate.WithProductLimit(cfg.Gate.ProductLimit),
		gate.WithMetrics(metrics),
		gate.WithLogger(logger.Named("gate")),
	)
	authzSvc, err := authz.NewService(st.authz, audit.NewLog(st.audit, logger.Named("audit")), st.flag,
		authz.WithProductLimit(cfg.Gate.ProductLimit),
		authz.WithCooldownDays(cfg.Gate.CooldownDays),
		authz.WithMetrics(metrics),
		authz.WithLogger(logger.Named("authz")),
		authz.WithInvalidator(gateSvc),
	)
	if err != nil {
		return fmt.Errorf("authz service: %w", err)
	}
	tokens, err := auth.NewTokens(cfg.AuthSecret)
	if err != nil {
		return fmt.Errorf("auth tokens: %w", err)
	}

	probe := httpapi.ReadyProbe{DB: st.ready}
	api, err := httpapi.New(httpapi.Config{
		Authz:         authzSvc,
		Gate:          gateSvc,
		Flag:          st.flag,
		Tokens:        tokens,
		Ready:         probe,
		Logger:        logger.Named("http"),
		Version:       version,
		RatePerSecond: cfg.RateLimitRPS,
		RateBurst:     cfg.RateLimitBurst,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errs := make(chan error, 2)
	go func() {
		logger.Info("http listening", zap.String("addr", srv.Addr), zap.String("version", version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- fmt.Errorf("http: %w", err)
		}
	}()

	var grpcSrv *grpc.Server
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		grpcSrv = grpc.NewServer()
		health := httpapi.NewHealthServer(probe, logger.Named("grpc"))
		health.Register(grpcSrv)
		go health.Run(ctx, 5*time.Second)
		go func() {
			logger.Info("grpc listening", zap.String("addr", cfg.GRPCAddr))
			if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				errs <- fmt.Errorf("grpc: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errs:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	logger.Info("stopped")
	return nil
}
