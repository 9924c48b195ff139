package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"math/big"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"stratvault/config"
	"stratvault/crypto"
	"stratvault/observability"
	"stratvault/observability/logging"
	telemetry "stratvault/observability/otel"
	"stratvault/rpc"
	"stratvault/storage"
	"stratvault/strategy"
	"stratvault/vault"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "config.toml", "path to vaultd config")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := logging.Setup("vaultd", cfg.Environment, &logging.Rotation{
		Path:       cfg.Log.Path,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Telemetry.Endpoint != "" || cfg.Telemetry.Metrics || cfg.Telemetry.Traces {
		shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
			ServiceName: "vaultd",
			Environment: cfg.Environment,
			Endpoint:    cfg.Telemetry.Endpoint,
			Insecure:    cfg.Telemetry.Insecure,
			Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
			Metrics:     cfg.Telemetry.Metrics,
			Traces:      cfg.Telemetry.Traces,
		})
		if err != nil {
			log.Fatalf("init telemetry: %v", err)
		}
		defer func() {
			_ = shutdownTelemetry(context.Background())
		}()
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		log.Fatalf("open database at %s: %v", cfg.DataDir, err)
	}
	defer db.Close()

	store := storage.NewVaultStore(db)
	ledger := storage.NewAssetLedger(db)

	vaultAddr, initialized, err := store.VaultAddress()
	if err != nil {
		log.Fatalf("load vault address: %v", err)
	}

	var genesis *config.Genesis
	if !initialized {
		if cfg.GenesisFile == "" {
			log.Fatalf("fresh data directory %s requires a genesis file", cfg.DataDir)
		}
		genesis, err = config.LoadGenesis(cfg.GenesisFile)
		if err != nil {
			log.Fatalf("load genesis: %v", err)
		}
		vaultAddr = genesis.Vault.Address
		if err := applyGenesis(store, ledger, genesis); err != nil {
			log.Fatalf("apply genesis: %v", err)
		}
		logger.Info("genesis applied", "vault", vaultAddr.String(), "network", cfg.NetworkName)
	}

	broadcaster := rpc.NewBroadcaster()
	engine := vault.NewEngine(vaultAddr)
	engine.SetState(store)
	engine.SetAsset(ledger)
	engine.SetEmitter(broadcaster)

	registry := strategy.NewRegistry()
	engine.SetStrategyResolver(registry)
	registered, err := registerStrategies(store, ledger, registry, vaultAddr)
	if err != nil {
		log.Fatalf("register strategies: %v", err)
	}
	if registered > 0 {
		logger.Info("registered simulated strategies", "count", registered)
	}
	feeRecipient, protocolRecipient, haveRecipients, err := store.FeeRecipients()
	if err != nil {
		log.Fatalf("load fee recipients: %v", err)
	}
	if haveRecipients {
		engine.SetFeeRecipients(feeRecipient, protocolRecipient)
	}

	auth := rpc.NewAuthenticator(cfg.RPCAuthSecret)
	if auth == nil {
		logger.Warn("RPC authentication disabled, mutating methods are open")
	}
	server := rpc.NewServer(engine, ledger, broadcaster, auth, cfg.RateLimitPerMinute, logger)

	httpServer := &http.Server{
		Addr:              cfg.RPCAddress,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go publishAccounting(ctx, engine, 15*time.Second)

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("vaultd listening", "addr", cfg.RPCAddress, "network", cfg.NetworkName)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-serverErr:
		logger.Error("rpc server failed", "err", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown incomplete", "err", err)
	}
}

// applyGenesis seeds a fresh database from the genesis document.
func applyGenesis(store *storage.VaultStore, ledger *storage.AssetLedger, genesis *config.Genesis) error {
	if err := store.PutVaultAddress(genesis.Vault.Address); err != nil {
		return err
	}
	state := &vault.State{
		DepositLimit:        genesis.Vault.DepositLimit,
		MinimumTotalIdle:    genesis.Vault.MinimumTotalIdle,
		ProfitMaxUnlockTime: genesis.Vault.ProfitMaxUnlockTime,
		ProtocolFeeBps:      genesis.Vault.ProtocolFeeBps,
		RageQuitCooldown:    genesis.Vault.RageQuitCooldown,
	}
	if err := store.PutVaultState(state); err != nil {
		return err
	}
	if err := store.PutFeeRecipients(genesis.Vault.FeeRecipient, genesis.Vault.ProtocolRecipient); err != nil {
		return err
	}
	for _, grant := range genesis.Roles {
		if err := store.PutRoles(grant.Address, grant.Roles); err != nil {
			return err
		}
	}
	for _, account := range genesis.Accounts {
		if err := ledger.Mint(account.Address, account.Balance); err != nil {
			return err
		}
	}
	now := time.Now().Unix()
	for _, entry := range genesis.Strategies {
		params := &vault.StrategyParams{
			Activation:  now,
			LastReport:  now,
			CurrentDebt: big.NewInt(0),
			MaxDebt:     entry.MaxDebt,
		}
		if err := store.PutStrategy(entry.Address, params); err != nil {
			return err
		}
	}
	if len(genesis.Queue) > 0 {
		if err := store.PutQueue(genesis.Queue); err != nil {
			return err
		}
	}
	return nil
}

// registerStrategies binds a simulated implementation to every strategy in the
// default queue. Production deployments replace this with adapters for real
// venues.
func registerStrategies(store *storage.VaultStore, ledger *storage.AssetLedger, registry *strategy.Registry, vaultAddr crypto.Address) (int, error) {
	queue, err := store.Queue()
	if err != nil {
		return 0, err
	}
	lossSink := crypto.NewAddress(crypto.AccountPrefix, make([]byte, 20))
	for _, addr := range queue {
		registry.Register(addr, strategy.NewSimulated(ledger, addr, vaultAddr, lossSink))
	}
	return len(queue), nil
}

// publishAccounting refreshes the Prometheus accounting gauges until the
// context ends.
func publishAccounting(ctx context.Context, engine *vault.Engine, interval time.Duration) {
	metrics := observability.Metrics()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st, err := engine.Snapshot()
			if err != nil {
				continue
			}
			metrics.SetAccounting(st.TotalAssets(), st.TotalIdle, st.TotalDebt, st.TotalSupply)
		}
	}
}
