package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"rsi-grid-bot/internal/binance/rest"
	"rsi-grid-bot/internal/config"
	"rsi-grid-bot/internal/indicator"
	"rsi-grid-bot/internal/logging"
	"rsi-grid-bot/internal/market"
	"rsi-grid-bot/internal/state"
	"rsi-grid-bot/internal/state/sqlite"
	"rsi-grid-bot/internal/strategy"

	"golang.org/x/time/rate"
)

const defaultVerifyEnvFile = ".env"

type accountBalance struct {
	Asset  string `json:"asset"`
	Free   string `json:"free"`
	Locked string `json:"locked"`
}

type accountInfo struct {
	CanTrade bool             `json:"canTrade"`
	Balances []accountBalance `json:"balances"`
}

// verify runs one read-only cycle: it fetches the recent closes, computes the
// RSI and prints what the live loop would do against the stored state.
// Nothing is committed and no order is placed.
func main() {
	configPath := flag.String("config", "internal/config/config.yaml", "path to config file")
	account := flag.Bool("account", false, "also check the API credentials with a signed account query")
	flag.Parse()

	if err := config.LoadEnv(defaultVerifyEnvFile); err != nil {
		fatal(err)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal(err)
	}
	log := logging.New(cfg.Log)
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	limiter := rate.NewLimiter(rate.Limit(cfg.REST.RequestsPerSec), cfg.REST.Burst)
	restClient := rest.New(cfg.REST.BaseURL, cfg.REST.Timeout, limiter, log)
	bot := cfg.Bot

	series, err := market.NewBinanceKlines(restClient, log).RecentPrices(ctx, bot.Asset, bot.Lookback, bot.KlineInterval)
	if err != nil {
		fatal(err)
	}
	if err := series.Validate(); err != nil {
		fatal(err)
	}
	rsi, err := indicator.Last(series.Closes(), bot.Window)
	if err != nil {
		fatal(err)
	}
	last := series[len(series)-1]

	store, err := sqlite.New(cfg.State.SQLitePath)
	if err != nil {
		fatal(err)
	}
	defer store.Close()
	initial, ok := strategy.ParseState(bot.InitialState)
	if !ok {
		initial = strategy.StateWaitingToBuy
	}
	st, err := state.NewBotStateStore(store, bot.Asset, initial.IsBuying()).Load(ctx)
	if err != nil {
		fatal(err)
	}
	decision := strategy.Decide(st, rsi, bot.Entry, bot.Exit)

	fmt.Printf("asset=%s closes=%d last_close=%.8g at %s\n", bot.Asset, len(series), last.Close, last.Time.UTC().Format(time.RFC3339))
	prev := "n/a"
	if st.HasLastRSI {
		prev = fmt.Sprintf("%.2f", st.LastRSI)
	}
	fmt.Printf("rsi=%.2f prev_rsi=%s entry=%.2f exit=%.2f window=%d\n", rsi, prev, bot.Entry, bot.Exit, bot.Window)
	fmt.Printf("state=%s version=%d action=%s quantity=%g dry_run=%t\n", decision.State, st.Version, decision.Action, bot.Quantity, bot.DryRun)

	if *account {
		if err := checkAccount(ctx, restClient, bot.Asset); err != nil {
			fatal(err)
		}
	}
}

func checkAccount(ctx context.Context, client *rest.Client, asset string) error {
	apiKey := config.Secret("BINANCE_API_KEY")
	secretKey := config.Secret("BINANCE_SECRET_KEY")
	if apiKey == "" || secretKey == "" {
		return errors.New("BINANCE_API_KEY and BINANCE_SECRET_KEY are required")
	}
	var info accountInfo
	if err := client.WithCredentials(apiKey, secretKey).Signed(ctx, http.MethodGet, "/api/v3/account", nil, &info); err != nil {
		return fmt.Errorf("account query: %w", err)
	}
	fmt.Printf("account can_trade=%t\n", info.CanTrade)
	for _, b := range info.Balances {
		if strings.HasPrefix(asset, b.Asset) || strings.HasSuffix(asset, b.Asset) {
			fmt.Printf("balance %s free=%s locked=%s\n", b.Asset, b.Free, b.Locked)
		}
	}
	return nil
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "verify failed: %v\n", err)
	os.Exit(1)
}
