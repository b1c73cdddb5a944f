package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ignite/phishtriage/internal/api"
	"github.com/ignite/phishtriage/internal/cache"
	"github.com/ignite/phishtriage/internal/config"
	"github.com/ignite/phishtriage/internal/dedup"
	"github.com/ignite/phishtriage/internal/domain"
	"github.com/ignite/phishtriage/internal/graph"
	"github.com/ignite/phishtriage/internal/guard"
	"github.com/ignite/phishtriage/internal/intel"
	"github.com/ignite/phishtriage/internal/llm"
	"github.com/ignite/phishtriage/internal/metrics"
	"github.com/ignite/phishtriage/internal/orchestrator"
	"github.com/ignite/phishtriage/internal/pkg/httpretry"
	"github.com/ignite/phishtriage/internal/pkg/logger"
	"github.com/ignite/phishtriage/internal/poller"
	"github.com/ignite/phishtriage/internal/queue"
	"github.com/ignite/phishtriage/internal/ratelimit"
	"github.com/ignite/phishtriage/internal/reply"
	"github.com/ignite/phishtriage/internal/subscription"
)

const shutdownTimeout = 15 * time.Second

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}
	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		logger.Error("loading configuration failed", "path", configPath, "error", err)
		os.Exit(1)
	}
	if strings.EqualFold(os.Getenv("LOG_LEVEL"), "debug") {
		logger.SetLevel(logger.DEBUG)
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("configuration invalid", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := buildCache(ctx, cfg)
	if err != nil {
		logger.Error("cache initialization failed", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("closing cache failed", "error", err)
		}
	}()

	mail := graph.NewClient(cfg.Provider, cfg.Mailbox.Address)
	registry := metrics.NewRegistry()

	builder, err := reply.NewBuilder()
	if err != nil {
		logger.Error("reply template failed to parse", "error", err)
		os.Exit(1)
	}

	var enricher *intel.Enricher
	if cfg.ThreatIntel.Enabled {
		intelClient := httpretry.NewRetryClient(&http.Client{Timeout: cfg.ThreatIntel.Timeout()}, 2)
		enricher = intel.New(cfg.ThreatIntel, store, intelClient)
	}

	var explainer *llm.Explainer
	if cfg.LLM.Enabled {
		explainer, err = llm.NewFromAWS(ctx, cfg.LLM)
		if err != nil {
			logger.Warn("explanation model unavailable, continuing without", "error", err)
		}
	}

	limiter := ratelimit.New(store, cfg.Rate)
	orch := orchestrator.New(cfg, mail,
		guard.New(store, cfg.Mailbox.Address, cfg.Allowlist, cfg.IsProduction()),
		enricher, explainer,
		dedup.New(store, cfg.Dedup),
		limiter, builder, registry)

	q := queue.New(orch.ProcessMessage, cfg.Pipeline)
	q.Start(ctx)

	p := poller.New(mail, func(ctx context.Context, email domain.Email) (bool, error) {
		outcome, err := orch.ProcessEmail(ctx, email)
		if err != nil {
			return false, err
		}
		return outcome.Status != orchestrator.StatusGuardDenied, nil
	}, cfg.Mailbox)
	p.Start(ctx)

	var subMgr *subscription.Manager
	var lifecycle api.LifecycleHandler
	if cfg.Webhook.NotificationURL != "" {
		subMgr = subscription.New(mail, cfg.Webhook, p.PollOnce)
		subMgr.Start(ctx)
		lifecycle = subMgr
	} else {
		logger.Warn("no notification url configured, running on poll fallback only")
	}

	srv := api.NewServer(cfg, q, lifecycle, registry, store, p, limiter)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-errCh:
		if err != nil {
			logger.Error("http server failed", "error", err)
		}
	}

	// Stop the notification sources first so no new work arrives, then
	// drain in-flight work, then close the HTTP surface and the cache.
	if subMgr != nil {
		subMgr.Stop()
	}
	p.Stop()
	q.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}
	logger.Info("shutdown complete")
}

// buildCache picks the distributed backend when configured and falls
// back to the in-process store for single-replica runs.
func buildCache(ctx context.Context, cfg *config.Config) (cache.Store, error) {
	local := cache.NewLocal()
	if cfg.Cache.URL == "" {
		logger.Warn("no redis configured, using in-process cache only")
		return local, nil
	}
	redisStore, err := cache.NewRedis(ctx, cfg.Cache.URL, cfg.Cache.KeyPrefix)
	if err != nil {
		return nil, err
	}
	return cache.NewResilient(redisStore, local, cache.ResilientConfig{}), nil
}
