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

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc/health"

	"taxpilot.io/internal/audit"
	"taxpilot.io/internal/auth"
	"taxpilot.io/internal/config"
	"taxpilot.io/internal/grpcapi"
	"taxpilot.io/internal/httpapi"
	"taxpilot.io/internal/obs"
	"taxpilot.io/internal/store/memory"
	"taxpilot.io/internal/store/pg"
	"taxpilot.io/internal/sweeper"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

// repositories is what a storage backend must provide to the service.
type repositories interface {
	auth.UserRepository
	auth.RoleRepository
	auth.RefreshTokenRepository
}

func main() {
	configPath := flag.String("config", "", "path to YAML config (defaults to $TAXPILOT_CONFIG)")
	storeFlag := flag.String("store", "", "override database.driver: pg or memory")
	flag.Parse()

	cfg, err := config.Load(*configPath, config.WithDriver(*storeFlag))
	if err != nil {
		logrus.WithError(err).Fatal("load config")
	}

	log, err := obs.NewLogger(cfg.Logging.Level, cfg.Logging.Format, os.Stdout)
	if err != nil {
		logrus.WithError(err).Fatal("configure logger")
	}
	obs.SetLogger(log)

	// регистрация метрик
	obs.Init()
	obs.InitBuildInfo(version, commit)

	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("taxpilot-auth stopped with error")
	}
	log.Info("stopped")
}

func run(cfg *config.Config, log *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		repos repositories
		mem   *memory.Store
		ready interface {
			Ping(ctx context.Context) error
		}
	)
	switch cfg.Database.Driver {
	case "memory":
		log.Warn("using in-memory store; data is lost on restart")
		mem = memory.New()
		repos = mem
	default:
		store, err := pg.Open(cfg.Database.DSN)
		if err != nil {
			return err
		}
		defer store.Close()
		if err := store.EnsureCatalog(ctx, auth.BuiltinPermissions, auth.BuiltinRoles); err != nil {
			return err
		}
		repos, ready = store, store
	}

	queue := audit.NewQueue(audit.NewLogSink(log), cfg.Audit.QueueSize,
		audit.WithRetries(cfg.Audit.Retries, 200*time.Millisecond),
		audit.WithQueueLogger(log),
	)

	hasher, err := auth.NewHasher(cfg.Auth.BcryptCost)
	if err != nil {
		return err
	}
	svc, err := auth.NewService(repos, repos, repos,
		auth.WithSecrets(cfg.Auth.AccessSecret, cfg.Auth.RefreshSecret),
		auth.WithIssuer(cfg.Auth.Issuer),
		auth.WithAccessTTL(cfg.Auth.AccessTTL),
		auth.WithRefreshTTL(cfg.Auth.RefreshTTL),
		auth.WithHasher(hasher),
		auth.WithDefaultRole(cfg.Auth.DefaultRole),
		auth.WithAuditLogger(queue),
		auth.WithLogger(log),
		auth.WithResolverOptions(auth.WithRoleCache(cfg.Auth.RoleCacheSize, cfg.Auth.RoleCacheTTL)),
	)
	if err != nil {
		return err
	}
	if mem != nil {
		mem.OnRoleChange(svc.Resolver().Invalidate)
	}

	sw, err := sweeper.New(repos, cfg.Sweeper.Schedule, log.WithField("component", "sweeper"))
	if err != nil {
		return err
	}

	api := httpapi.New(svc, ready, httpapi.Options{
		Cookie:         cfg.Cookie,
		RateLimit:      cfg.HTTP.RateLimit,
		MaxBodyBytes:   cfg.HTTP.MaxBodyBytes,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		TrustedProxies: cfg.HTTP.TrustedProxies,
		Logger:         log,
		Version:        version,
	})
	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
	}

	hs := health.NewServer()
	authn := grpcapi.NewAuthenticator(svc,
		grpcapi.WithPolicy(grpcapi.DefaultPolicy()),
		grpcapi.WithLogger(log),
	)
	grpcSrv := grpcapi.NewServer(authn, hs, svc)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithFields(logrus.Fields{"addr": srv.Addr, "version": version}).Info("http listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		lis, err := net.Listen("tcp", cfg.GRPC.Addr)
		if err != nil {
			return err
		}
		log.WithField("addr", cfg.GRPC.Addr).Info("grpc listening")
		return grpcSrv.Serve(lis)
	})
	g.Go(func() error {
		grpcapi.WatchReadiness(gctx, hs, ready, 10*time.Second, log)
		return nil
	})
	g.Go(func() error {
		return sw.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()

		err := srv.Shutdown(shutdownCtx)
		grpcSrv.GracefulStop()
		if qerr := queue.Close(shutdownCtx); qerr != nil {
			err = errors.Join(err, qerr)
		}
		return err
	})
	return g.Wait()
}
