package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/boddenberg/sales-intake-go/internal/config"
	"github.com/boddenberg/sales-intake-go/internal/domain"
	"github.com/boddenberg/sales-intake-go/internal/handler"
	"github.com/boddenberg/sales-intake-go/internal/infra/cache"
	"github.com/boddenberg/sales-intake-go/internal/infra/client"
	"github.com/boddenberg/sales-intake-go/internal/infra/memory"
	"github.com/boddenberg/sales-intake-go/internal/infra/observability"
	"github.com/boddenberg/sales-intake-go/internal/infra/resilience"
	"github.com/boddenberg/sales-intake-go/internal/infra/supabase"
	"github.com/boddenberg/sales-intake-go/internal/port"
	"github.com/boddenberg/sales-intake-go/internal/service"

	"go.uber.org/zap"
)

// recordStore is everything the services need from the backing store.
type recordStore interface {
	handler.Pinger
	port.SaleStore
	port.PermissionStore
	port.UserStore
}

func main() {
	// --- Load .env file (for local development) ---
	_ = config.LoadDotEnv(".env")

	// --- Config ---
	cfg := config.Load()

	// --- Logger ---
	logger := observability.NewLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
		zap.String("store_driver", cfg.StoreDriver),
		zap.Duration("http_timeout", cfg.HTTPTimeout),
		zap.Duration("cache_ttl", cfg.CacheTTL),
		zap.Int("max_retries", cfg.MaxRetries),
		zap.Duration("autosave_delay", cfg.AutosaveDelay),
		zap.Duration("sync_interval_seller", cfg.SyncIntervalSeller),
		zap.Duration("sync_interval_manager", cfg.SyncIntervalManager),
		zap.Duration("jwt_access_ttl", cfg.JWTAccessTTL),
	)

	// --- Tracing ---
	shutdownTracer := observability.NoopShutdown
	if cfg.TracingEnabled {
		shutdown, err := observability.InitTracer(context.Background(), cfg.OTLPEndpoint, "sales-intake")
		if err != nil {
			logger.Fatal("failed to init tracer", zap.Error(err))
		}
		shutdownTracer = shutdown
	}
	defer shutdownTracer(context.Background())

	// --- Metrics ---
	metrics := observability.NewMetrics()

	// --- Resilience ---
	resilienceCfg := resilience.Config{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
		MaxBackoff:     cfg.MaxBackoff,
		MaxConcurrency: cfg.MaxConcurrency,
	}
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}

	// --- Store ---
	var store recordStore
	if cfg.UseSupabase() {
		logger.Info("using Supabase as record store", zap.String("supabase_url", cfg.SupabaseURL))
		store = supabase.NewClient(
			httpClient,
			cfg.SupabaseURL,
			cfg.SupabaseAnonKey,
			cfg.SupabaseServiceKey,
			resilience.NewCircuitBreaker("supabase", supabase.Tolerable, resilience.WithStateLogger(logger)),
			resilienceCfg,
			logger,
		)
	} else {
		logger.Warn("using in-memory record store; data is lost on restart")
		store = memory.New()
	}

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelStartup()

	// --- Services ---
	perms := service.NewPermissionRegistry(store, logger)
	if err := perms.Load(startupCtx); err != nil {
		logger.Warn("permissions: using built-in defaults", zap.Error(err))
	}

	authSvc := service.NewAuthService(store, perms, cfg.JWTSecret, cfg.JWTAccessTTL, logger)
	if err := authSvc.BootstrapAdmin(startupCtx, "Administrador", cfg.BootstrapAdminEmail, cfg.BootstrapAdminPassword); err != nil {
		logger.Error("bootstrap admin failed", zap.Error(err))
	}

	engine := service.NewLifecycleEngine(store, perms, metrics, logger)
	drafts := service.NewAutosaveCoordinator(engine, cfg.AutosaveDelay, metrics, logger)
	views := service.NewViewManager(engine, map[domain.Role]time.Duration{
		domain.RoleSeller:  cfg.SyncIntervalSeller,
		domain.RoleManager: cfg.SyncIntervalManager,
		domain.RoleAdmin:   cfg.SyncIntervalAdmin,
	}, cfg.ViewIdleTimeout, resilience.NewBulkhead(cfg.MaxConcurrency), metrics, logger)

	addressCache := cache.New[*domain.Address](cfg.CacheTTL)
	cepClient := client.NewCEPClient(httpClient, cfg.ViaCEPURL, resilience.NewCircuitBreaker("viacep", client.Tolerable, resilience.WithStateLogger(logger)), resilienceCfg)

	// --- Router ---
	router := handler.NewRouter(handler.Services{
		Auth:      authSvc,
		Perms:     perms,
		Engine:    engine,
		Drafts:    drafts,
		Views:     views,
		Dashboard: service.NewDashboardService(engine, store, metrics, logger),
		Address:   service.NewAddressService(cepClient, addressCache, metrics, logger),
		Store:     store,
	}, metrics, logger)

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// --- Graceful shutdown ---
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced shutdown", zap.Error(err))
	}
	drafts.Shutdown(ctx)
	if err := views.Shutdown(ctx); err != nil {
		logger.Error("views shutdown", zap.Error(err))
	}
	addressCache.Close()

	logger.Info("server stopped")
}
