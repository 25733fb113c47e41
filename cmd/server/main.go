package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/blocknetdx/eth-payment-processor/internal/config"
	"github.com/blocknetdx/eth-payment-processor/internal/handler"
	"github.com/blocknetdx/eth-payment-processor/internal/metering"
	"github.com/blocknetdx/eth-payment-processor/internal/service"
	"github.com/blocknetdx/eth-payment-processor/internal/store"
)

func main() {
	// A missing .env is fine outside local development.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	setupLogger(cfg)

	if err := run(cfg); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}

func setupLogger(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339
	if cfg.LogFormat == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(connectCtx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()
	if err := pool.Ping(connectCtx); err != nil {
		return fmt.Errorf("pinging database: %w", err)
	}
	db := store.NewPostgres(pool)

	lease, closeLease, err := connectLease(connectCtx, cfg)
	if err != nil {
		return err
	}
	defer closeLease()

	chains := dialChains(connectCtx, cfg)
	defer chains.close()

	sealer, err := newSealer(cfg)
	if err != nil {
		return err
	}
	prices := newOracle(cfg, chains)
	pricing := cfg.Pricing()

	quotes := service.NewQuoteEngine(db, prices, pricing, chains.names(), sealer)
	projects := service.NewProjectService(db)

	meter := metering.NewCache(db)
	flusher, err := metering.NewFlusher(meter, cfg.FlushSchedule, 30*time.Second)
	if err != nil {
		return err
	}
	flusher.Start()

	watchers := buildWatchers(cfg, chains, db, prices, pricing, lease)
	statuses := make([]handler.ChainStatus, 0, len(watchers))
	for _, w := range watchers {
		statuses = append(statuses, w)
	}

	router := handler.NewRouter(handler.RouterConfig{
		Quotes:         quotes,
		Projects:       projects,
		Meter:          meter,
		Lookup:         db,
		Health:         handler.NewHealthHandler(db, statuses, chains.skipped),
		AdminToken:     cfg.AdminToken,
		CORSOrigins:    cfg.CORSOrigins,
		QuoteRateLimit: cfg.QuoteRateLimit,
		QuoteValid:     pricing.QuoteValid,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	var wg sync.WaitGroup
	for _, w := range watchers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Run(ctx)
		}()
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.Port).Int("chains", len(watchers)).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			log.Error().Err(err).Msg("http server failed")
		}
		stop()
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown failed")
	}
	wg.Wait()
	flusher.Stop(shutdownCtx)

	log.Info().Msg("server stopped")
	return nil
}
