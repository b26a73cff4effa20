/*
Package main is the entry point for the Sketchroom server.

It is responsible for loading configuration, initializing the global logging system,
connecting to the shared room store, starting the room Manager and the store
subscriber, setting up the HTTP server, and gracefully handling operating system
interrupt signals (SIGINT, SIGTERM) to ensure a smooth server shutdown.
*/
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sketchroom/internal/app/db"
	"sketchroom/internal/app/game"
	"sketchroom/internal/app/store"
	"sketchroom/internal/configs"
	"sketchroom/internal/handler"
	"sketchroom/internal/pkg/logx"
	"sketchroom/internal/pkg/metrics"
)

func main() {
	// Load configuration from environment variables
	cfg, err := configs.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize global logger
	logx.InitGlobalLogger(cfg.Environment == "development")
	logx.Logger().Info().
		Str("environment", cfg.Environment).
		Int("port", cfg.Port).
		Strs("allowed_origins", cfg.AllowedOrigins).
		Int("max_players", cfg.Game.MaxPlayers).
		Int("max_rounds", cfg.Game.MaxRounds).
		Msg("Configuration loaded successfully")

	// Create a context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Connect to the shared room store and run migrations
	pool, err := db.NewPool(cfg.DatabaseDSN)
	if err != nil {
		logx.Fatal(err, "Failed to connect to database")
	}
	defer pool.Close()

	meter := metrics.New("sketchroom")
	roomStore := store.NewPgStore(pool, meter)

	// Initialize the room Manager and the cross-process event subscriber
	manager := game.NewManager(cfg, roomStore, meter)

	subscriberCtx, cancelSubscriber := context.WithCancel(context.Background())
	defer cancelSubscriber()

	subscriber := store.NewSubscriber(pool, manager.HandleEnvelope)
	go subscriber.Run(subscriberCtx)

	// Setup HTTP server and routes
	deps := &handler.AppDeps{
		Manager: manager,
		Config:  cfg,
		Store:   roomStore,
	}
	router := handler.Router(deps)

	serverAddr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logx.Info(fmt.Sprintf("Sketchroom Server starting on http://localhost%s", serverAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logx.Fatal(err, "Server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server with a timeout of 5 seconds.
	<-ctx.Done()
	logx.Info("Received shutdown signal. Starting graceful shutdown...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logx.Fatal(err, "Server forced to shutdown")
	}

	cancelSubscriber()
	manager.Shutdown()

	logx.Info("Server gracefully stopped.")
}
