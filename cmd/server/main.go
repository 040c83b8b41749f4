// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"custody-service/internal/chains"
	"custody-service/internal/chains/bitcoin"
	"custody-service/internal/chains/evm"
	"custody-service/internal/chains/tron"
	"custody-service/internal/config"
	"custody-service/internal/domain"
	"custody-service/internal/handler"
	"custody-service/internal/repository"
	"custody-service/internal/router"
	"custody-service/internal/security"
	"custody-service/internal/server"
	"custody-service/internal/usecase"
	"custody-service/internal/worker"
	"custody-service/pkg/cache"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	// Load .env
	_ = godotenv.Load()

	logger := newLogger(os.Getenv("APP_ENV"))
	defer logger.Sync()

	cfg, err := config.Load(logger)
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ============================================================================
	// Security
	// ============================================================================
	vaultProvider, err := newVaultProvider(cfg.Security)
	if err != nil {
		logger.Fatal("failed to init vault provider", zap.Error(err))
	}
	vault := security.NewVault(vaultProvider, logger)
	keys, err := security.NewKeyWrapper(ctx, vault)
	if err != nil {
		logger.Fatal("failed to load master key", zap.Error(err))
	}
	hasher := security.NewPinHasher(cfg.Security.PinHashCost)

	// ============================================================================
	// Storage
	// ============================================================================
	pool, err := repository.ConnectDB(ctx, repository.PoolConfig{
		URL:        cfg.Database.URL,
		MaxConns:   cfg.Database.MaxConns,
		MinConns:   cfg.Database.MinConns,
		MaxRetries: cfg.Database.MaxRetries,
	}, logger)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	if err := repository.EnsureSchema(ctx, pool); err != nil {
		logger.Fatal("failed to apply schema", zap.Error(err))
	}

	walletRepo := repository.NewWalletRepository(pool)
	txRepo := repository.NewTransactionRepository(pool)
	pinRepo := repository.NewUserPinRepository(pool)
	tokenRepo := repository.NewTokenRepository(pool)

	grants := newGrantStore(ctx, cfg.Redis, logger)
	if closer, ok := grants.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	// ============================================================================
	// Chains
	// ============================================================================
	registry, closeChains := buildRegistry(ctx, cfg.Chains, logger)
	defer closeChains()

	if err := seedTokens(ctx, tokenRepo, registry, cfg.Chains); err != nil {
		logger.Warn("failed to seed token catalog", zap.Error(err))
	}

	// ============================================================================
	// Usecases
	// ============================================================================
	policy := domain.PinPolicy{
		MaxAttempts:     cfg.Pin.MaxAttempts,
		LockoutDuration: cfg.Pin.LockoutDuration,
	}
	pinUC := usecase.NewPinUsecase(pinRepo, hasher, grants, policy, cfg.Pin.GrantTTL, logger)
	walletUC := usecase.NewWalletUsecase(walletRepo, tokenRepo, registry, keys, logger)
	reconciler := usecase.NewReconciler(txRepo, registry, logger)
	txUC := usecase.NewTransactionUsecase(txRepo, tokenRepo, registry, walletUC, pinUC, reconciler, logger)

	var monitor *worker.ConfirmationMonitor
	if cfg.Worker.Enabled {
		monitor = worker.NewConfirmationMonitor(reconciler, worker.MonitorConfig{
			Schedule:  cfg.Worker.ConfirmationSchedule,
			BatchSize: cfg.Worker.BatchSize,
		}, logger)
		if err := monitor.Start(); err != nil {
			logger.Fatal("failed to start confirmation monitor", zap.Error(err))
		}
	}

	// ============================================================================
	// HTTP
	// ============================================================================
	routes := router.SetupRoutes(router.Handlers{
		Wallet:      handler.NewWalletHandler(walletUC, logger),
		Pin:         handler.NewPinHandler(pinUC, logger),
		Transaction: handler.NewTransactionHandler(txUC, logger),
		Auth:        handler.NewAuthMiddleware(cfg.Security.JWTSecret, cfg.Security.JWTIssuer, logger),
	}, cfg.Server.AllowedOrigins, logger)

	httpServer := server.NewHTTPServer(cfg.Server.HTTPAddr, routes, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Start()
	}()

	logger.Info("Custody service started",
		zap.String("http_addr", cfg.Server.HTTPAddr),
		zap.Strings("chains", chainNames(registry.List())))

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error("HTTP server stopped", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown failed", zap.Error(err))
	}
	if monitor != nil {
		monitor.Stop()
	}

	logger.Info("Custody service stopped")
}

func newLogger(appEnv string) *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)
	if appEnv == "development" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		panic(err)
	}
	return logger
}

func newVaultProvider(cfg config.SecurityConfig) (security.VaultProvider, error) {
	switch cfg.VaultProvider {
	case "file":
		return security.NewFileVaultProvider(cfg.FileVaultDir, cfg.FileVaultKey)
	case "env":
		return security.NewEnvVaultProvider(), nil
	default:
		return nil, errors.New("unsupported vault provider: " + cfg.VaultProvider)
	}
}

// newGrantStore falls back to process memory when redis is disabled or
// unreachable. Grants then do not survive restarts or span replicas.
func newGrantStore(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) cache.Store {
	if !cfg.Enabled {
		logger.Warn("Redis disabled, transfer grants kept in memory")
		return cache.NewMemoryStore()
	}

	store := cache.NewRedisStore(cache.RedisOptions{
		Addrs:      cfg.Addrs,
		Password:   cfg.Password,
		DB:         cfg.DB,
		UseCluster: cfg.UseCluster,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := store.Ping(pingCtx); err != nil {
		logger.Warn("Redis unreachable, transfer grants kept in memory", zap.Error(err))
		_ = store.Close()
		return cache.NewMemoryStore()
	}

	logger.Info("Redis connected", zap.Strings("addrs", cfg.Addrs))
	return store
}

// buildRegistry registers every enabled chain that initializes. A chain
// whose endpoint is down at boot is skipped, not fatal.
func buildRegistry(ctx context.Context, cfg config.ChainsConfig, logger *zap.Logger) (*chains.Registry, func()) {
	registry := chains.NewRegistry()
	var closers []func()

	evmChains := []struct {
		chain  domain.ChainID
		symbol string
		cfg    config.EVMChainConfig
	}{
		{domain.ChainEthereum, "ETH", cfg.Ethereum},
		{domain.ChainBSC, "BNB", cfg.BSC},
		{domain.ChainPolygon, "MATIC", cfg.Polygon},
	}
	for _, c := range evmChains {
		if !c.cfg.Enabled {
			continue
		}
		dialCtx, cancel := context.WithTimeout(ctx, cfg.RPCTimeout)
		adapter, err := evm.Dial(dialCtx, evm.Config{
			Chain:           c.chain,
			Symbol:          c.symbol,
			RPCURL:          c.cfg.RPCURL,
			ChainID:         c.cfg.ChainID,
			MaxGasPriceGwei: c.cfg.MaxGasPrice,
			Confirmations:   c.cfg.Confirmations,
			Timeout:         cfg.RPCTimeout,
		}, logger)
		cancel()
		if err != nil {
			logger.Error("Failed to initialize chain", zap.String("chain", c.chain.String()), zap.Error(err))
			continue
		}
		registry.Register(adapter)
		closers = append(closers, adapter.Close)
	}

	if cfg.Tron.Enabled {
		adapter, err := tron.Dial(tron.Config{
			Network:     cfg.Tron.Network,
			APIKey:      cfg.Tron.APIKey,
			GRPCURL:     cfg.Tron.GRPCUrl,
			HTTPURL:     cfg.Tron.HTTPUrl,
			FeeLimitSun: cfg.Tron.FeeLimitSun,
			Timeout:     cfg.RPCTimeout,
		}, logger)
		if err != nil {
			logger.Error("Failed to initialize chain", zap.String("chain", domain.ChainTron.String()), zap.Error(err))
		} else {
			registry.Register(adapter)
			closers = append(closers, adapter.Stop)
		}
	}

	if cfg.Bitcoin.Enabled {
		client := bitcoin.NewClient(bitcoin.ClientConfig{
			Network: cfg.Bitcoin.Network,
			APIURL:  cfg.Bitcoin.APIURL,
			FeeURL:  cfg.Bitcoin.FeeURL,
			RPCURL:  cfg.Bitcoin.RPCURL,
			APIKey:  cfg.Bitcoin.APIKey,
			Timeout: cfg.RPCTimeout,
		}, logger)
		adapter, err := bitcoin.New(client, bitcoin.Config{
			Network:       cfg.Bitcoin.Network,
			Confirmations: cfg.Bitcoin.Confirmations,
			Timeout:       cfg.RPCTimeout,
		}, logger)
		if err != nil {
			logger.Error("Failed to initialize chain", zap.String("chain", domain.ChainBitcoin.String()), zap.Error(err))
		} else {
			registry.Register(adapter)
		}
	}

	return registry, func() {
		for _, c := range closers {
			c()
		}
	}
}

// seedTokens makes sure each registered chain has its native coin in the
// catalog, plus USDT on Tron.
func seedTokens(ctx context.Context, tokens *repository.TokenRepository, registry *chains.Registry, cfg config.ChainsConfig) error {
	var errs []error
	for _, id := range registry.List() {
		adapter, err := registry.Get(id)
		if err != nil {
			continue
		}
		native := adapter.NativeAsset()
		errs = append(errs, tokens.Upsert(ctx, &domain.Token{
			Chain:    id,
			Symbol:   native.Symbol,
			Name:     native.Symbol,
			Decimals: native.Decimals,
			IsActive: true,
			IsNative: true,
		}))

		if id == domain.ChainTron {
			contract := tron.USDTContract(cfg.Tron.Network)
			errs = append(errs, tokens.Upsert(ctx, &domain.Token{
				Chain:           id,
				Symbol:          "USDT",
				Name:            "Tether USD",
				ContractAddress: &contract,
				Decimals:        6,
				IsActive:        true,
			}))
		}
	}
	return errors.Join(errs...)
}

func chainNames(ids []domain.ChainID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	return out
}
