// Package main provides the devpulse server entry point: the HTTP API plus
// the background sync scheduler and job worker pool.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/golang/glog"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"

	"github.com/devpulse/devpulse/internal/api"
	"github.com/devpulse/devpulse/internal/config"
	"github.com/devpulse/devpulse/internal/correlation"
	"github.com/devpulse/devpulse/internal/db"
	"github.com/devpulse/devpulse/internal/db/models"
	"github.com/devpulse/devpulse/internal/db/store"
	"github.com/devpulse/devpulse/internal/etl"
	"github.com/devpulse/devpulse/internal/metrics"
	"github.com/devpulse/devpulse/internal/providers/github"
	"github.com/devpulse/devpulse/internal/providers/gitlab"
	devsync "github.com/devpulse/devpulse/internal/sync"
	"github.com/devpulse/devpulse/pkg/cache"
	"github.com/devpulse/devpulse/pkg/ha"
	"github.com/devpulse/devpulse/pkg/jobs"
)

func main() {
	flag.Parse()
	_ = flag.Set("logtostderr", "true")

	cfg, err := config.Load()
	if err != nil {
		glog.Fatalf("Failed to load config: %v", err)
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	logger.Info("starting devpulse server",
		"listen", cfg.Server.Addr(),
		"database", cfg.Database.Type,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	gormDB, err := db.Open(cfg.Database.Type, cfg.Database.DSN)
	if err != nil {
		glog.Fatalf("Failed to connect to database: %v", err)
	}

	haCfg := ha.HAConfigFromEnv()
	var locker ha.MigrationLocker
	if haCfg.MigrationLockEnabled {
		locker = ha.NewMigrationLocker(gormDB)
	}
	if err := db.Migrate(ctx, gormDB, locker); err != nil {
		glog.Fatalf("Failed to migrate database: %v", err)
	}

	// Stores.
	orgStore := store.NewOrgStore(gormDB)
	bookmarkStore := store.NewBookmarkStore(gormDB)
	prStore := store.NewPullRequestStore(gormDB)
	runStore := store.NewWorkflowRunStore(gormDB)
	deployStore := store.NewDeploymentStore(gormDB)
	incidentStore := store.NewIncidentStore(gormDB)
	settingStore := store.NewSettingStore(gormDB)

	jobStore := jobs.NewJobStore(gormDB)
	if err := jobStore.AutoMigrate(); err != nil {
		glog.Fatalf("Failed to migrate job table: %v", err)
	}

	// Provider clients behind the handler registry.
	stores := etl.Stores{
		DB:           gormDB,
		Bookmarks:    bookmarkStore,
		PullRequests: prStore,
		WorkflowRuns: runStore,
		Deployments:  deployStore,
		Incidents:    incidentStore,
		Settings:     settingStore,
	}
	var handlers []*etl.Handler
	if cfg.Providers.GitHub.Token != "" {
		client := github.NewClient(ctx, cfg.Providers.GitHub.Token, logger)
		handlers = append(handlers, etl.NewHandler(models.ProviderGitHub, client, stores, logger))
	}
	if cfg.Providers.GitLab.Token != "" {
		client := gitlab.NewClient(cfg.Providers.GitLab.BaseURL, cfg.Providers.GitLab.Token, logger)
		handlers = append(handlers, etl.NewHandler(models.ProviderGitLab, client, stores, logger))
	}
	registry := etl.NewRegistry(handlers...)

	metricsCache := cache.NewLRUCache(cfg.Cache.MaxEntries, cfg.Cache.TTL)
	mergeToDeploy := correlation.NewMergeToDeploy(prStore, deployStore, logger)
	orchestrator := devsync.NewOrchestrator(registry, orgStore, mergeToDeploy, metricsCache, logger)

	jobCfg := jobs.JobConfigFromEnv()
	workers := jobs.NewWorkerPool(jobStore, orchestrator, jobCfg, logger)
	scheduler := devsync.NewScheduler(orgStore, jobStore, registry, cfg.Sync.Interval, logger)

	// The scheduler and worker pool run on exactly one replica.
	startBackground := func(runCtx context.Context) {
		go workers.Run(runCtx)
		if cfg.Sync.Interval > 0 {
			go scheduler.Run(runCtx)
		}
	}

	if haCfg.LeaderElectionEnabled {
		k8sCfg, err := rest.InClusterConfig()
		if err != nil {
			glog.Fatalf("Failed to create in-cluster K8s config (is the server running in a pod?): %v", err)
		}
		clientset, err := kubernetes.NewForConfig(k8sCfg)
		if err != nil {
			glog.Fatalf("Failed to create K8s clientset: %v", err)
		}
		elector := ha.NewLeaderElector(haCfg, clientset, haCfg.Identity, logger)
		elector.OnStartLeading(startBackground)
		go elector.Run(ctx)
		logger.Info("leader election enabled",
			"lease", haCfg.LeaseName, "namespace", haCfg.LeaseNamespace, "identity", haCfg.Identity)
	} else {
		startBackground(ctx)
	}

	// Seed tracked orgs/repos from the sources file and keep following it.
	if cfg.Sources.Path != "" {
		sources, err := config.LoadSources(cfg.Sources.Path)
		if err != nil {
			glog.Fatalf("Failed to load sources file: %v", err)
		}
		applySources(orgStore, sources, logger)

		watcher := config.NewSourceWatcher(cfg.Sources.Path, func(src *config.SourcesFile) {
			applySources(orgStore, src, logger)
		}, logger)
		go func() {
			if err := watcher.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("sources watcher stopped", "error", err)
			}
		}()
	}

	server := api.NewServer(api.ServerDeps{
		DB:            gormDB,
		Orgs:          orgStore,
		Bookmarks:     bookmarkStore,
		Settings:      settingStore,
		Jobs:          jobStore,
		Registry:      registry,
		Orchestrator:  orchestrator,
		Metrics:       metrics.NewService(prStore, deployStore, incidentStore, logger),
		Cache:         metricsCache,
		WebhookAPIKey: cfg.Webhook.APIKey,
		Logger:        logger,
	})

	httpServer := &http.Server{
		Addr:    cfg.Server.Addr(),
		Handler: server.Router(),
	}
	go func() {
		logger.Info("devpulse server ready", "listen", cfg.Server.Addr())
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			glog.Fatalf("HTTP server error: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	logger.Info("devpulse server stopped")
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

// applySources reconciles the sources file into tracked orgs and repos.
// Creation only: removing an entry from the file stops neither tracking nor
// sync, that needs an explicit API call.
func applySources(orgs *store.OrgStore, sources *config.SourcesFile, logger *slog.Logger) {
	for _, srcOrg := range sources.Organizations {
		org, err := ensureOrg(orgs, srcOrg.Name)
		if err != nil {
			logger.Error("could not ensure organization from sources file", "org", srcOrg.Name, "error", err)
			continue
		}

		for _, srcRepo := range srcOrg.Repos {
			source := models.DeploymentSource(srcRepo.DeploymentSource)
			if source == "" {
				source = models.DeploymentSourceWorkflow
			}
			_, err := orgs.AddRepo(&models.OrgRepo{
				OrgID:            org.ID,
				Provider:         models.Provider(srcOrg.Provider),
				ExternalRepoID:   srcRepo.ExternalID,
				Name:             srcRepo.Name,
				DeploymentSource: source,
				SyncEnabled:      true,
			})
			if err != nil {
				// Already tracked is the common case on reload.
				logger.Debug("repo from sources file not added", "repo", srcRepo.Name, "error", err)
			}
		}
	}
}

func ensureOrg(orgs *store.OrgStore, name string) (*models.Organization, error) {
	existing, err := orgs.ListOrgs()
	if err != nil {
		return nil, err
	}
	for i := range existing {
		if existing[i].Name == name {
			return &existing[i], nil
		}
	}
	return orgs.CreateOrg(&models.Organization{Name: name})
}
