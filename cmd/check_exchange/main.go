package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/omnex/crypto_trade_engine/internal/infrastructure/exchange"
	"github.com/omnex/crypto_trade_engine/internal/infrastructure/logger"
)

type config struct {
	Exchange struct {
		APIKey       string `yaml:"api_key"`
		APISecret    string `yaml:"api_secret"`
		RESTEndpoint string `yaml:"rest_endpoint"`
	} `yaml:"exchange"`
}

// Connectivity check: ticker, wallet balance, instrument constraints.
func main() {
	_ = godotenv.Load()

	path := "config/config.yaml"
	if len(os.Args) > 1 {
		path = os.Args[1]
	}
	f, err := os.Open(path)
	if err != nil {
		fmt.Printf("open config: %v\n", err)
		os.Exit(1)
	}
	var cfg config
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		f.Close()
		fmt.Printf("decode config: %v\n", err)
		os.Exit(1)
	}
	f.Close()
	if v := os.Getenv("BYBIT_API_KEY"); v != "" {
		cfg.Exchange.APIKey = v
	}
	if v := os.Getenv("BYBIT_API_SECRET"); v != "" {
		cfg.Exchange.APISecret = v
	}

	log, err := logger.NewLogger("warn")
	if err != nil {
		fmt.Printf("init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	adapter := exchange.NewBybitAdapter(cfg.Exchange.APIKey, cfg.Exchange.APISecret, cfg.Exchange.RESTEndpoint, "", log)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	ticker, err := adapter.GetTicker(ctx, "BTCUSDT")
	if err != nil {
		fmt.Printf("ticker: FAILED: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("ticker: BTCUSDT last=%.2f\n", ticker.LastPrice)

	balance, err := adapter.GetWalletBalance(ctx)
	if err != nil {
		fmt.Printf("balance: FAILED: %v\n", err)
	} else {
		fmt.Printf("balance: %s equity=%.4f available=%.4f\n", balance.Coin, balance.Equity, balance.AvailableToSpend)
	}

	instruments, err := adapter.GetInstruments(ctx)
	if err != nil {
		fmt.Printf("instruments: FAILED: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("instruments: %d loaded\n", len(instruments))
	for _, inst := range instruments {
		if inst.Symbol == "BTCUSDT" {
			fmt.Printf("  BTCUSDT minQty=%v step=%v tick=%v maxLev=%v\n",
				inst.MinQty, inst.QtyStep, inst.TickSize, inst.MaxLeverage)
		}
	}
}
