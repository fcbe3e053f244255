package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/averlon/posledger/internal/httpapi"
	"github.com/averlon/posledger/internal/ledger"
	"github.com/averlon/posledger/internal/storage/memory"
	pgstore "github.com/averlon/posledger/internal/storage/postgres"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Logger (slog to stdout). Level via LOG_LEVEL; format via LOG_FORMAT (json|text, default json)
	logger := buildLoggerFromEnv()
	slog.SetDefault(logger)

	loc := loadTimezone(logger)
	maxLookback := intFromEnv("LEDGER_MAX_LOOKBACK_DAYS", 0)
	lockWait := time.Duration(intFromEnv("LEDGER_LOCK_WAIT_MS", 0)) * time.Millisecond

	var store httpapi.Store
	var closeFn func()

	if dsn := strings.TrimSpace(os.Getenv("DATABASE_URL")); dsn != "" {
		pg, err := pgstore.Open(ctx, dsn)
		if err != nil {
			logger.Error("failed to connect to postgres", "err", err)
			os.Exit(1)
		}
		if lockWait > 0 {
			pg.SetLockWait(lockWait)
		}
		closeFn = func() { pg.Close() }
		if devSeedEnabled() {
			user, channels, err := pg.SeedDev(ctx)
			if err != nil {
				logger.Error("dev seed failed", "err", err)
			} else {
				logDevSeed(logger, "postgres", user, channels)
				printDevSeedBanner(user, channels)
			}
		}
		store = pg
		logger.Info("storage backend: postgres")
	} else {
		mem := memory.New()
		if lockWait > 0 {
			mem.SetLockWait(lockWait)
		}
		if devSeedEnabled() {
			user := uuid.New()
			channels := []ledger.Channel{
				{ID: uuid.New(), Code: "cash", Name: "Cash Drawer", Kind: ledger.KindCash, Currency: "USD", Active: true},
				{ID: uuid.New(), Code: "bank_main", Name: "Main Bank Account", Kind: ledger.KindBank, Currency: "USD", Active: true},
				{ID: uuid.New(), Code: "bank_savings", Name: "Savings Account", Kind: ledger.KindBank, Currency: "USD", Active: true},
			}
			for _, c := range channels {
				mem.SeedChannel(c)
			}
			logDevSeed(logger, "memory", user, channels)
			printDevSeedBanner(user, channels)
		}
		store = mem
		logger.Info("storage backend: memory")
	}

	srvMux := httpapi.New(store, logger, loc, maxLookback)

	addr := strings.TrimSpace(os.Getenv("ADDR"))
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           srvMux,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("posledger service listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctxShutdown); err != nil {
			logger.Error("server shutdown error", "err", err)
		}
	case err := <-errCh:
		logger.Error("server error", "err", err)
	}
	if closeFn != nil {
		closeFn()
	}
}

func devSeedEnabled() bool {
	dev := strings.ToLower(strings.TrimSpace(os.Getenv("DEV_SEED")))
	return dev == "1" || dev == "true" || dev == "yes"
}

// loadTimezone resolves LEDGER_TIMEZONE; the business day boundary follows it.
func loadTimezone(l *slog.Logger) *time.Location {
	name := strings.TrimSpace(os.Getenv("LEDGER_TIMEZONE"))
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		l.Warn("invalid LEDGER_TIMEZONE, falling back to UTC", "value", name, "err", err)
		return time.UTC
	}
	return loc
}

func intFromEnv(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}

// logDevSeed emits structured logs with useful IDs
func logDevSeed(l *slog.Logger, backend string, user uuid.UUID, channels []ledger.Channel) {
	ids := map[string]string{}
	for _, c := range channels {
		ids[c.Code+"_channel_id"] = c.ID.String()
	}
	l.Info("DEV seed ("+backend+")", "user_id", user.String(), "ids", ids)
}

// printDevSeedBanner prints a simple banner to stdout for easy copy/paste of IDs
func printDevSeedBanner(user uuid.UUID, channels []ledger.Channel) {
	fmt.Println("==================== DEV SEED ====================")
	fmt.Printf("user_id: %s\n", user.String())
	for _, c := range channels {
		fmt.Printf("%s_channel_id: %s\n", c.Code, c.ID.String())
	}
	fmt.Println("==================================================")
}

// parseLogLevel maps env values to slog.Leveler
func parseLogLevel(s string) slog.Leveler {
	switch s {
	case "DEBUG", "debug":
		return slog.LevelDebug
	case "WARN", "WARNING", "warn", "warning":
		return slog.LevelWarn
	case "ERROR", "ERR", "error", "err":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func buildLoggerFromEnv() *slog.Logger {
	level := parseLogLevel(os.Getenv("LOG_LEVEL"))
	format := strings.ToLower(strings.TrimSpace(os.Getenv("LOG_FORMAT")))
	if format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	}
	// default to JSON
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}
