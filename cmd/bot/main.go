package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/omnex/crypto_trade_engine/internal/infrastructure/exchange"
	"github.com/omnex/crypto_trade_engine/internal/infrastructure/logger"
	"github.com/omnex/crypto_trade_engine/internal/infrastructure/storage"
	"github.com/omnex/crypto_trade_engine/internal/usecase"
	"github.com/omnex/crypto_trade_engine/internal/web"
)

type Config struct {
	Exchange struct {
		Name         string `yaml:"name"`
		APIKey       string `yaml:"api_key"`
		APISecret    string `yaml:"api_secret"`
		RESTEndpoint string `yaml:"rest_endpoint"`
		WSEndpoint   string `yaml:"ws_endpoint"`
	} `yaml:"exchange"`
	Trading struct {
		TotalCapital      float64  `yaml:"total_capital"`
		SafetyReserve     float64  `yaml:"safety_reserve"`
		PerTradeCapital   float64  `yaml:"per_trade_capital"`
		MaxPositions      int      `yaml:"max_positions"`
		Leverage          int      `yaml:"leverage"`
		MinConfidence     float64  `yaml:"min_confidence"`
		TrailingStopPct   float64  `yaml:"trailing_stop_pct"`
		MaxHoldingMinutes int      `yaml:"max_holding_minutes"`
		Symbols           []string `yaml:"symbols"`
	} `yaml:"trading"`
	Intervals struct {
		TradeCycleSec        int `yaml:"trade_cycle_sec"`
		MonitorSec           int `yaml:"monitor_sec"`
		InstrumentRefreshMin int `yaml:"instrument_refresh_min"`
		ShutdownTimeoutSec   int `yaml:"shutdown_timeout_sec"`
	} `yaml:"intervals"`
	Logging struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"logging"`
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`
	Storage struct {
		DBPath string `yaml:"db_path"`
	} `yaml:"storage"`
}

func loadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, err
	}

	// Secrets come from the environment when present.
	if v := os.Getenv("BYBIT_API_KEY"); v != "" {
		cfg.Exchange.APIKey = v
	}
	if v := os.Getenv("BYBIT_API_SECRET"); v != "" {
		cfg.Exchange.APISecret = v
	}

	if cfg.Trading.TotalCapital <= 0 {
		return nil, fmt.Errorf("trading.total_capital must be positive")
	}
	if cfg.Trading.SafetyReserve < 0 || cfg.Trading.SafetyReserve >= cfg.Trading.TotalCapital {
		return nil, fmt.Errorf("trading.safety_reserve must be in [0, total_capital)")
	}
	if cfg.Trading.PerTradeCapital <= 0 {
		return nil, fmt.Errorf("trading.per_trade_capital must be positive")
	}
	if cfg.Trading.MaxPositions <= 0 {
		return nil, fmt.Errorf("trading.max_positions must be positive")
	}
	if len(cfg.Trading.Symbols) == 0 {
		return nil, fmt.Errorf("trading.symbols must not be empty")
	}
	return &cfg, nil
}

func main() {
	// .env is optional; real deployments export the variables directly.
	_ = godotenv.Load()

	configPath := "config/config.yaml"
	if v := os.Getenv("ENGINE_CONFIG"); v != "" {
		configPath = v
	}
	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	var log *zap.Logger
	if cfg.Logging.File != "" {
		log, err = logger.NewFileLogger(cfg.Logging.File, cfg.Logging.Level)
	} else {
		log, err = logger.NewLogger(cfg.Logging.Level)
	}
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	dbPath := cfg.Storage.DBPath
	if dbPath == "" {
		dbPath = "engine.db"
	}
	store, err := storage.NewSQLiteStore(dbPath)
	if err != nil {
		log.Fatal("Failed to init sqlite", zap.Error(err))
	}
	defer store.Close()

	adapter := exchange.NewBybitAdapter(
		cfg.Exchange.APIKey, cfg.Exchange.APISecret,
		cfg.Exchange.RESTEndpoint, cfg.Exchange.WSEndpoint, log)

	health := usecase.NewHealthTracker()
	ledger := usecase.NewCapitalLedger(cfg.Trading.TotalCapital, cfg.Trading.SafetyReserve, log)
	positions := usecase.NewPositionStore(ledger, store, cfg.Trading.TrailingStopPct, log)
	instruments := usecase.NewInstrumentCache(adapter, log)
	signalSource := usecase.NewMomentumSignal(adapter)

	monitor := usecase.NewRiskMonitor(adapter, positions, usecase.RiskMonitorConfig{
		TrailingPct: cfg.Trading.TrailingStopPct,
		MaxHolding:  time.Duration(cfg.Trading.MaxHoldingMinutes) * time.Minute,
	}, health, log)

	scheduler := usecase.NewTradeScheduler(adapter, signalSource, positions, ledger, instruments, usecase.SchedulerConfig{
		Symbols:         cfg.Trading.Symbols,
		PerTradeCapital: cfg.Trading.PerTradeCapital,
		Leverage:        cfg.Trading.Leverage,
		MaxPositions:    cfg.Trading.MaxPositions,
		MinConfidence:   cfg.Trading.MinConfidence,
	}, health, log)

	engine := &usecase.Engine{
		Store:     positions,
		Ledger:    ledger,
		Scheduler: scheduler,
		Health:    health,
	}

	// Instruments must exist before the first cycle can size an order.
	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	if err := instruments.Refresh(startCtx); err != nil {
		log.Fatal("Failed to load instruments", zap.Error(err))
	}
	cancelStart()

	if err := adapter.SubscribeTickers(cfg.Trading.Symbols); err != nil {
		log.Warn("ticker stream unavailable, REST only", zap.Error(err))
	}

	runCtx, cancelRun := context.WithCancel(context.Background())

	monitorInterval := time.Duration(cfg.Intervals.MonitorSec) * time.Second
	if monitorInterval <= 0 {
		monitorInterval = 10 * time.Second
	}
	cycleInterval := time.Duration(cfg.Intervals.TradeCycleSec) * time.Second
	if cycleInterval <= 0 {
		cycleInterval = 2 * time.Minute
	}
	refreshInterval := time.Duration(cfg.Intervals.InstrumentRefreshMin) * time.Minute
	if refreshInterval <= 0 {
		refreshInterval = time.Hour
	}
	shutdownTimeout := time.Duration(cfg.Intervals.ShutdownTimeoutSec) * time.Second
	if shutdownTimeout <= 0 {
		shutdownTimeout = 30 * time.Second
	}

	monitorDone := make(chan struct{})
	go func() {
		defer close(monitorDone)
		monitor.Run(runCtx, monitorInterval, shutdownTimeout)
	}()
	go scheduler.Run(runCtx, cycleInterval)
	go func() {
		ticker := time.NewTicker(refreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				refreshCtx, cancel := context.WithTimeout(runCtx, 30*time.Second)
				_ = instruments.Refresh(refreshCtx)
				cancel()
			case <-runCtx.Done():
				return
			}
		}
	}()

	server := web.NewServer(cfg.Server.Port, engine, store, log)
	go func() {
		if err := server.Start(); err != nil {
			log.Fatal("Server failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info("Shutting down, draining open positions...")
	cancelRun()

	// The monitor owns the close drain; give it the shutdown budget plus a
	// margin before giving up.
	select {
	case <-monitorDone:
	case <-time.After(shutdownTimeout + 5*time.Second):
		log.Error("monitor did not drain in time")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("server shutdown", zap.Error(err))
	}
	adapter.Close()
	log.Info("Shutdown complete")
}
