package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/parley-labs/parley-node/internal/api"
	"github.com/parley-labs/parley-node/internal/blobs"
	"github.com/parley-labs/parley-node/internal/database"
	"github.com/parley-labs/parley-node/internal/relay"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the messaging node",
	Long: `Start the messaging node.

This will:
- Open the SQLite database for users and message history
- Start the relay core (presence, messaging, call signaling)
- Serve the HTTP API and WebSocket endpoint`,
	Run: func(cmd *cobra.Command, args []string) {
		logger.Info("Starting Parley Node...", "cli")

		dbManager, err := database.NewSQLiteManager(config, logger)
		if err != nil {
			logger.Error(fmt.Sprintf("Failed to initialize database: %v", err), "cli")
			fmt.Printf("Error initializing database: %v\n", err)
			os.Exit(1)
		}

		blobStore, err := blobs.NewStore(config, logger)
		if err != nil {
			logger.Error(fmt.Sprintf("Failed to initialize blob store: %v", err), "cli")
			os.Exit(1)
		}

		// Relay core
		registry := relay.NewRegistry(logger)
		presence := relay.NewPresence(registry, config.GetConfigDuration("typing_quiet_window", relay.DefaultTypingQuietWindow), logger)
		messenger := relay.NewMessenger(registry, dbManager.Messages, dbManager.Users, config, logger)
		broker := relay.NewBroker(registry, logger)
		coordinator := relay.NewCoordinator(registry, presence, messenger, broker, dbManager.Users, blobStore, logger)

		presence.Start()

		// HTTP + WebSocket surface
		apiServer := api.NewAPIServer(config, logger, dbManager, blobStore, coordinator)
		if err := apiServer.Start(); err != nil {
			logger.Error(fmt.Sprintf("Failed to start API server: %v", err), "cli")
			os.Exit(1)
		}
		logger.Info(fmt.Sprintf("API server listening on port %s", apiServer.GetPort()), "cli")

		fmt.Printf("Parley Node is running on port %s. Press Ctrl+C to stop.\n", apiServer.GetPort())

		// Setup signal handling for graceful shutdown
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("Shutdown signal received, stopping node...", "cli")

		if err := apiServer.Stop(); err != nil {
			logger.Error(fmt.Sprintf("Error stopping API server: %v", err), "cli")
		}

		presence.Stop()

		if err := dbManager.Close(); err != nil {
			logger.Error(fmt.Sprintf("Error closing database: %v", err), "cli")
		}

		logger.Info("Parley Node stopped successfully", "cli")
	},
}

func init() {
	rootCmd.AddCommand(startCmd)
}
