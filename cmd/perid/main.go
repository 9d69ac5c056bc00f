package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/perifinance/peri-finance-sub001/config"
	"github.com/perifinance/peri-finance-sub001/core"
	"github.com/perifinance/peri-finance-sub001/core/events"
	"github.com/perifinance/peri-finance-sub001/core/types"
	"github.com/perifinance/peri-finance-sub001/native/common"
	"github.com/perifinance/peri-finance-sub001/native/fixed"
	"github.com/perifinance/peri-finance-sub001/observability/logging"
	"github.com/perifinance/peri-finance-sub001/observability/metrics"
	"github.com/perifinance/peri-finance-sub001/storage"
)

// logEmitter forwards protocol events into the structured log and onto the
// matching Prometheus series.
type logEmitter struct {
	log *slog.Logger
}

func (e *logEmitter) Emit(ev events.Event) {
	if e == nil || ev == nil {
		return
	}
	e.log.Info("protocol event", slog.String("type", ev.EventType()))
	observeEvent(ev)
}

func observeEvent(ev events.Event) {
	m := metrics.Protocol()
	switch ev := ev.(type) {
	case events.ExchangeExecuted:
		m.ObserveExchange(ev.Src.String(), ev.Dest.String())
	case events.ExchangeSettled:
		m.ObserveSettlement(ev.Entries)
	case events.PynthSuspended:
		m.ObserveCircuitBreaker(ev.Key.String())
	case events.FeePeriodClosed:
		m.ObserveFeePeriodClosed()
	case events.FeesClaimed:
		m.ObserveFeesClaimed()
	case events.LoanCreated:
		m.ObserveLoanOpened(ev.Engine)
	case events.LoanLiquidated:
		m.ObserveLoanLiquidated(ev.Engine)
	}
}

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("PERI_ENV"))
	logger := logging.SetupWithRotation("perid", env, logging.Rotation{})

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Error("Failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	if cfg.LogFile != "" {
		logger = logging.SetupWithRotation("perid", env, logging.Rotation{
			Filename:   cfg.LogFile,
			MaxSizeMB:  cfg.LogMaxSizeMB,
			MaxBackups: cfg.LogMaxBackups,
			MaxAgeDays: cfg.LogMaxAgeDays,
		})
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		logger.Error("Failed to open database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	sys := core.New(db, &logEmitter{log: logger})
	if err := bootstrap(sys, cfg); err != nil {
		logger.Error("Failed to bootstrap system", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Oracle.Endpoint != "" && len(cfg.Oracle.Currencies) > 0 {
		go pollOracle(ctx, logger, sys, cfg.Oracle)
	}
	go snapshotLoop(ctx, logger, sys, cfg.Debt.SnapshotInterval())

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"status":"ok"}`)
	})
	server := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info("perid started",
		slog.String("network", cfg.NetworkName),
		slog.String("listen", cfg.ListenAddress),
		slog.String("data", cfg.DataDir))
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("HTTP server failed", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("perid stopped")
}

// bootstrap registers the configured pynths and loan engines. All calls are
// idempotent, so restarting against an existing data directory is safe.
func bootstrap(sys *core.System, cfg *config.Config) error {
	for _, key := range cfg.Pynths {
		if err := sys.Issuer.AddPynth(common.RoleOwner, types.CurrencyKey(key)); err != nil {
			return fmt.Errorf("add pynth %s: %w", key, err)
		}
	}
	for _, loan := range cfg.Loans {
		min, err := loan.MinCollateralAmount()
		if err != nil {
			return err
		}
		if err := sys.AddErc20Collateral(types.CurrencyKey(loan.Token), min); err != nil {
			return fmt.Errorf("add collateral %s: %w", loan.Token, err)
		}
	}
	return nil
}

// oracleResponse is the feed payload: decimal rates keyed by currency.
type oracleResponse struct {
	Rates     map[string]string `json:"rates"`
	Timestamp int64             `json:"timestamp"`
}

// pollOracle fetches the configured feed on a fixed cadence and pushes
// accepted batches into the rates engine. The limiter bounds request volume
// independently of the poll interval.
func pollOracle(ctx context.Context, logger *slog.Logger, sys *core.System, oracle config.Oracle) {
	limiter := rate.NewLimiter(rate.Limit(oracle.RequestsPerMinute/60), oracle.Burst)
	ticker := time.NewTicker(oracle.PollInterval())
	defer ticker.Stop()
	client := &http.Client{Timeout: 10 * time.Second}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		if err := fetchAndSubmit(ctx, client, sys, oracle); err != nil {
			logger.Warn("Oracle poll failed", slog.Any("error", err))
			continue
		}
		metrics.Protocol().ObserveRatesUpdated()
	}
}

func fetchAndSubmit(ctx context.Context, client *http.Client, sys *core.System, oracle config.Oracle) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, oracle.Endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("oracle: unexpected status %d", resp.StatusCode)
	}
	var payload oracleResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return err
	}

	keys := make([]types.CurrencyKey, 0, len(oracle.Currencies))
	rates := make([]*big.Int, 0, len(oracle.Currencies))
	for _, currency := range oracle.Currencies {
		raw, ok := payload.Rates[currency]
		if !ok {
			continue
		}
		v, err := fixed.FromDecimal(raw)
		if err != nil {
			return fmt.Errorf("oracle: rate for %s: %w", currency, err)
		}
		keys = append(keys, types.CurrencyKey(currency))
		rates = append(rates, v)
	}
	if len(keys) == 0 {
		return nil
	}
	ts := time.Now()
	if payload.Timestamp > 0 {
		ts = time.Unix(payload.Timestamp, 0)
	}
	return sys.SubmitRates(keys, rates, ts)
}

// snapshotLoop periodically resynchronises the debt cache and publishes the
// cache gauges.
func snapshotLoop(ctx context.Context, logger *slog.Logger, sys *core.System, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if err := sys.TakeDebtSnapshot(common.RoleOwner); err != nil {
			logger.Warn("Debt snapshot failed", slog.Any("error", err))
			continue
		}
		debt, ts, invalid, _, err := sys.CacheInfo()
		if err != nil {
			continue
		}
		if f, err := strconv.ParseFloat(fixed.Format(debt), 64); err == nil {
			metrics.Protocol().SetCachedDebt(f)
		}
		metrics.Protocol().SetDebtSnapshotAge(time.Since(ts).Seconds())
		metrics.Protocol().SetDebtCacheInvalid(invalid)
	}
}
