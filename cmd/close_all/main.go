package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/omnex/crypto_trade_engine/internal/domain"
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

// Emergency flatten: submit a reduce-only market close for every open
// position on the account. Requires --yes to actually trade.
func main() {
	_ = godotenv.Load()

	confirmed := false
	path := "config/config.yaml"
	for _, arg := range os.Args[1:] {
		if arg == "--yes" {
			confirmed = true
		} else {
			path = arg
		}
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

	log, err := logger.NewLogger("info")
	if err != nil {
		fmt.Printf("init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	adapter := exchange.NewBybitAdapter(cfg.Exchange.APIKey, cfg.Exchange.APISecret, cfg.Exchange.RESTEndpoint, "", log)
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	positions, err := adapter.GetPositions(ctx)
	if err != nil {
		fmt.Printf("query positions: %v\n", err)
		os.Exit(1)
	}
	if len(positions) == 0 {
		fmt.Println("no open positions")
		return
	}

	for _, p := range positions {
		fmt.Printf("%s %s size=%v entry=%v pnl=%v\n", p.Symbol, p.Side, p.Size, p.EntryPrice, p.UnrealizedPnL)
	}
	if !confirmed {
		fmt.Println("dry run: pass --yes to close these positions")
		return
	}

	for _, p := range positions {
		_, err := adapter.PlaceOrder(ctx, &domain.OrderRequest{
			Symbol:      p.Symbol,
			Side:        p.Side.Opposite(),
			Quantity:    p.Size,
			ReduceOnly:  true,
			OrderLinkID: linkID(p.Symbol),
		})
		if err != nil {
			fmt.Printf("close %s: FAILED: %v\n", p.Symbol, err)
			continue
		}
		fmt.Printf("close %s: submitted\n", p.Symbol)
	}
}

func linkID(symbol string) string {
	buf := make([]byte, 6)
	_, _ = rand.Read(buf)
	return "flat-" + symbol + "-" + hex.EncodeToString(buf)
}
