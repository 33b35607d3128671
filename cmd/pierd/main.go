package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pier-run/pier/internal/buildexec"
	"github.com/pier-run/pier/internal/docker"
	"github.com/pier-run/pier/internal/httpx"
	"github.com/pier-run/pier/internal/ingress"
	"github.com/pier-run/pier/internal/migrate"
	"github.com/pier-run/pier/internal/realtime"
	"github.com/pier-run/pier/internal/repository/postgres"
	"github.com/pier-run/pier/internal/service/deploy"
	"github.com/pier-run/pier/internal/service/logs"
	"github.com/pier-run/pier/internal/service/project"
	"github.com/pier-run/pier/internal/storage"
	"github.com/pier-run/pier/internal/workspace"
	"github.com/pier-run/pier/internal/ws"
	"github.com/pier-run/pier/pkg/config"
	"github.com/pier-run/pier/pkg/logger"
)

func main() {
	cfg := config.Load()
	log := logger.New("pierd", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	runner, err := migrate.New(pool, cfg.DatabaseURL, cfg.MigrationsDir, log)
	if err != nil {
		log.Error("failed to configure migrations", "error", err)
		os.Exit(1)
	}
	defer runner.Close()
	if err := runner.Ping(ctx); err != nil {
		log.Error("database ping failed", "error", err)
		os.Exit(1)
	}
	if err := runner.Ensure(ctx); err != nil {
		log.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	dockerCli, err := docker.New(cfg.DockerHost)
	if err != nil {
		log.Error("failed to create docker client", "error", err)
		os.Exit(1)
	}
	defer dockerCli.Close()
	if err := dockerCli.Ping(ctx); err != nil {
		log.Error("docker ping failed", "error", err)
		os.Exit(1)
	}

	workspaces, err := workspace.New(cfg.Workdir)
	if err != nil {
		log.Error("failed to prepare workspace root", "error", err)
		os.Exit(1)
	}

	publisher, err := storage.New(ctx, storage.Options{
		Bucket:   cfg.StorageBucket,
		Region:   cfg.StorageRegion,
		Endpoint: cfg.StorageEndpoint,
		Workers:  cfg.UploadWorkers,
	})
	if err != nil {
		log.Error("failed to configure object storage", "error", err)
		os.Exit(1)
	}

	reloader, validator, err := buildProxyHooks(cfg)
	if err != nil {
		log.Error("failed to configure ingress hooks", "error", err)
		os.Exit(1)
	}
	router, err := ingress.NewManager(ingress.ManagerOptions{
		SitesDir:     cfg.NginxSitesDir,
		StagingDir:   cfg.NginxStagingDir,
		BaseDomain:   cfg.BaseDomain,
		UpstreamHost: cfg.ProxyUpstreamHost,
		TLSCertPath:  cfg.TLSCertPath,
		TLSKeyPath:   cfg.TLSKeyPath,
	}, validator, reloader, log)
	if err != nil {
		log.Error("failed to configure ingress", "error", err)
		os.Exit(1)
	}

	ports := docker.NewPortAllocator(cfg.PortBase, nil)
	runtimeDrv := docker.NewDriver(dockerCli, ports, log, docker.Options{
		Registry:      cfg.Registry,
		MemoryLimitMB: cfg.MemoryLimitMB,
		CPULimitNano:  cfg.CPULimitNano,
		ReadyTimeout:  cfg.ReadyTimeout,
		UpstreamHost:  cfg.ProxyUpstreamHost,
	})

	repo := postgres.New(pool)
	hub := ws.NewHub()
	defer hub.Shutdown()

	var publisherRT logs.Publisher
	var redisPub *realtime.RedisPublisher
	if addr := strings.TrimSpace(cfg.RedisAddr); addr != "" {
		redisPub, err = realtime.NewRedisPublisher(ctx, addr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			log.Warn("redis realtime transport unavailable", "error", err)
		} else {
			publisherRT = redisPub
			defer redisPub.Close()
		}
	}

	logSvc := logs.New(repo, hub, publisherRT, logs.Options{
		LogChannelPrefix:    cfg.LogChannelPrefix,
		StatusChannelPrefix: cfg.StatusChannelPrefix,
	}, log)

	metrics := httpx.NewMetrics()

	teardown := deploy.Teardown{Publisher: publisher, Runtime: runtimeDrv, Router: router}
	projectSvc := project.New(repo, teardown, cfg.EnvEncryptionKey, log)

	deploySvc := deploy.New(
		repo, repo,
		workspaces,
		deploy.GitFetcher{},
		buildexec.Runner{},
		publisher,
		runtimeDrv,
		router,
		projectSvc,
		logSvc,
		metrics,
		log,
		deploy.Options{
			BaseDomain:     cfg.BaseDomain,
			InstallCommand: cfg.InstallCommand,
			GitTimeout:     cfg.GitTimeout,
			BuildTimeout:   cfg.BuildTimeout,
		},
	)

	limiter := httpx.NewMemoryRateLimiter()
	if redisPub != nil {
		limiter = httpx.NewRedisRateLimiter(redisPub.Client(), log)
	}

	handler := httpx.NewRouter(log, projectSvc, deploySvc, logSvc, limiter, metrics, cfg.DeployToken, pool.Ping)
	defer handler.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("pier daemon starting", "addr", cfg.Addr, "base_domain", cfg.BaseDomain)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("pier daemon stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}

// buildProxyHooks selects host-exec or containerized nginx control.
func buildProxyHooks(cfg config.Config) (ingress.Reloader, ingress.Validator, error) {
	validator, err := ingress.NewExecValidator(cfg.NginxValidateCmd)
	if err != nil {
		return nil, nil, err
	}
	if name := strings.TrimSpace(cfg.NginxContainerName); name != "" {
		reloader, err := ingress.NewDockerReloader(name)
		if err != nil {
			return nil, nil, err
		}
		return reloader, validator, nil
	}
	reloader, err := ingress.NewExecReloader(cfg.NginxReloadCmd)
	if err != nil {
		return nil, nil, err
	}
	return reloader, validator, nil
}
