package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	flag "github.com/spf13/pflag"
	"google.golang.org/grpc"

	"arkavo.org/accesscore/internal/auth"
	"arkavo.org/accesscore/internal/config"
	"arkavo.org/accesscore/internal/httpapi"
	"arkavo.org/accesscore/internal/migrate"
	"arkavo.org/accesscore/internal/node"
	"arkavo.org/accesscore/internal/obs"
	"arkavo.org/accesscore/internal/store/pg"
)

var (
	version = "0.1.0"
	commit  = "unknown"
)

func main() {
	log.SetFlags(0)
	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.Version == "dev" {
		cfg.Version = version
	}

	flag.StringVar(&cfg.HTTPAddr, "http", cfg.HTTPAddr, "HTTP listen address")
	flag.StringVar(&cfg.GRPCAddr, "grpc", cfg.GRPCAddr, "gRPC health listen address (empty disables)")
	flag.StringVar(&cfg.GenesisPath, "genesis", cfg.GenesisPath, "Genesis YAML applied to a fresh chain")
	flag.DurationVar(&cfg.BlockInterval, "block-interval", cfg.BlockInterval, "Block sealing interval (0 disables)")
	flag.BoolVar(&cfg.DevTokens, "dev-tokens", cfg.DevTokens, "Serve POST /v1/auth/token")
	autoMigrate := flag.Bool("migrate", false, "Apply the built-in schema before starting (Postgres only)")
	flag.Parse()

	obs.Init()
	obs.InitBuildInfo(cfg.Version, commit, cfg.MerkleScheme.String())
	if !auth.Configured() {
		obs.Warn("ACCESS_AUTH_SECRET is not set; bearer tokens are rejected and the node is read-only over HTTP", nil)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *autoMigrate && cfg.PGDSN != "" {
		if err := migrateUp(ctx, cfg.PGDSN); err != nil {
			log.Fatalf("migrate: %v", err)
		}
	}

	genesis, err := config.LoadGenesis(cfg.GenesisPath)
	if err != nil {
		log.Fatalf("genesis: %v", err)
	}

	n, err := node.Open(ctx, cfg)
	if err != nil {
		log.Fatalf("open node: %v", err)
	}
	defer n.Close()

	if err := n.Bootstrap(ctx, genesis); err != nil {
		log.Fatalf("bootstrap: %v", err)
	}

	go n.Host.Run(ctx, cfg.BlockInterval)

	api := httpapi.New(n, httpapi.Options{
		Version:      cfg.Version,
		DevTokens:    cfg.DevTokens,
		RateBurst:    cfg.RateBurst,
		RatePerSec:   cfg.RatePerSec,
		MaxBodyBytes: cfg.MaxBodyBytes,
	})
	// Cancelled on shutdown so open event streams end.
	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		// Zero so /v1/events/stream is not cut off.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}
	srv.RegisterOnShutdown(cancelBase)

	var grpcSrv *grpc.Server
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			log.Fatalf("grpc listen: %v", err)
		}
		grpcSrv = grpc.NewServer()
		httpapi.NewGRPCServer(httpapi.ReadyFunc(n.Ready), cfg.Version).Register(grpcSrv)
		go func() {
			if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				obs.Error("grpc serve failed", map[string]any{"error": err.Error()})
			}
		}()
	}

	obs.Info("accessd starting", map[string]any{
		"version":        cfg.Version,
		"http":           cfg.HTTPAddr,
		"grpc":           cfg.GRPCAddr,
		"postgres":       cfg.PGDSN != "",
		"block_interval": cfg.BlockInterval.String(),
		"registry":       n.Registry.Address().Hex(),
	})

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	obs.Info("accessd shutting down", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	obs.Info("accessd stopped", nil)
}

func migrateUp(ctx context.Context, dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return err
	}
	defer db.Close()
	mgr := migrate.NewManager(db, "", "", migrate.WithMigrationsFS(pg.Migrations()))
	return mgr.Up(ctx)
}
