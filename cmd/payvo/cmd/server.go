package cmd

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/Payvo-ai/payvo-middleware-sub001/api"
	"github.com/Payvo-ai/payvo-middleware-sub001/routing"
	sig "github.com/Payvo-ai/payvo-middleware-sub001/signal"
	"github.com/Payvo-ai/payvo-middleware-sub001/storage"
	bboltstorage "github.com/Payvo-ai/payvo-middleware-sub001/storage/bbolt"
	pgstorage "github.com/Payvo-ai/payvo-middleware-sub001/storage/postgres"
	"github.com/Payvo-ai/payvo-middleware-sub001/token"
)

var (
	port        int
	dataDir     string
	postgresDSN string
	tlsCert     string
	tlsKey      string
	apiTokens   map[string]string
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the payment routing server",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

		var store storage.Store
		var bs *bboltstorage.Store
		if postgresDSN != "" {
			pool, err := pgxpool.New(cmd.Context(), postgresDSN)
			if err != nil {
				return fmt.Errorf("failed to connect to postgres: %w", err)
			}
			defer pool.Close()
			if err := pgstorage.EnsureSchema(cmd.Context(), pool); err != nil {
				return fmt.Errorf("failed to prepare postgres schema: %w", err)
			}
			store = pgstorage.NewStore(pool)
		} else {
			if err := os.MkdirAll(dataDir, 0o700); err != nil {
				return fmt.Errorf("failed to create data directory: %w", err)
			}
			var err error
			bs, err = bboltstorage.NewStoreFromFile(dataDir+"/routing.db", nil)
			if err != nil {
				return fmt.Errorf("failed to open routing storage: %w", err)
			}
			defer bs.Close()
			store = bs
		}

		caches := sig.NewLayer()
		caches.StartSweeper(sig.DefaultSweepInterval)
		defer caches.Stop()

		if bs != nil {
			if err := bs.LoadSignalSnapshot(cmd.Context(), caches); err != nil {
				return fmt.Errorf("failed to restore signal caches: %w", err)
			}
			// Learned records survive restarts.
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := bs.SaveSignalSnapshot(ctx, caches); err != nil {
					logger.Warn("signal cache snapshot failed", "error", err)
				}
			}()
		}

		collector := routing.NewCollector(routing.WithCollectorLogger(logger))
		predictor := routing.NewPredictor(caches,
			routing.WithHistoryStore(store),
			routing.WithPredictorLogger(logger))
		selector := routing.StaticSelector{
			Card: routing.CardSelection{CardID: "default", Network: "visa", Reason: "static selector"},
		}

		tokens := token.NewService(token.WithLogger(logger))
		tokens.StartSweeper(token.DefaultSweepInterval)
		defer tokens.Stop()

		orch := routing.New(collector, predictor, selector, tokens, caches,
			routing.WithStore(store),
			routing.WithLogger(logger))
		orch.StartReaper(routing.DefaultReapInterval)
		defer orch.Stop()

		opts := []api.Option{
			api.WithLogger(logger),
			api.WithAlertFunc(func(ev api.AlertEvent) {
				logger.Warn("anomaly detected",
					"type", string(ev.Type),
					"message", ev.Message,
					"count", ev.Count,
					"threshold", ev.Threshold)
			}),
		}
		if len(apiTokens) > 0 {
			opts = append(opts, api.WithAuth(api.StaticTokenAuth(apiTokens)))
		}
		a := api.New(orch, caches, tokens, opts...)

		r := chi.NewRouter()
		r.Use(middleware.Logger)
		r.Use(middleware.Recoverer)
		r.Mount("/api/v1", a.Router())

		server := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		}

		useTLS := tlsCert != "" && tlsKey != ""
		if useTLS {
			cert, err := tls.LoadX509KeyPair(tlsCert, tlsKey)
			if err != nil {
				return fmt.Errorf("failed to load TLS key pair: %w", err)
			}
			server.TLSConfig = &tls.Config{
				Certificates: []tls.Certificate{cert},
				MinVersion:   tls.VersionTLS12,
			}
		}

		// Graceful shutdown on SIGINT/SIGTERM.
		done := make(chan error, 1)
		go func() {
			var err error
			if useTLS {
				err = server.ListenAndServeTLS("", "")
			} else {
				err = server.ListenAndServe()
			}
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				done <- fmt.Errorf("server failed: %w", err)
				return
			}
			done <- nil
		}()

		printBanner()
		fmt.Printf("Starting server on port %d...\n", port)

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			fmt.Printf("\nReceived %s, shutting down...\n", sig)
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(ctx); err != nil {
				return fmt.Errorf("server shutdown failed: %w", err)
			}
			return nil
		case err := <-done:
			return err
		}
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
	serverCmd.Flags().IntVarP(&port, "port", "p", 8080, "Port to listen on")
	serverCmd.Flags().StringVar(&dataDir, "data-dir", "./data", "Directory for persistent data")
	serverCmd.Flags().StringVar(&postgresDSN, "postgres-dsn", "", "Postgres DSN (uses embedded storage when empty)")
	serverCmd.Flags().StringVar(&tlsCert, "tls-cert", "", "Path to TLS certificate file")
	serverCmd.Flags().StringVar(&tlsKey, "tls-key", "", "Path to TLS key file")
	serverCmd.Flags().StringToStringVar(&apiTokens, "api-token", nil, "Bearer token to user id mappings (token=user)")
}
