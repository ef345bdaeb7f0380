package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/finwatch-lab/cryptofolio/internal/config"
	"github.com/finwatch-lab/cryptofolio/internal/logger"
	"github.com/finwatch-lab/cryptofolio/internal/portfolio"
	"github.com/finwatch-lab/cryptofolio/internal/server"
	"github.com/finwatch-lab/cryptofolio/internal/storage"
	"github.com/finwatch-lab/cryptofolio/internal/stream"
	"github.com/finwatch-lab/cryptofolio/internal/ticker"
	"github.com/finwatch-lab/cryptofolio/internal/tracker"
)

// trackAction loads configuration, assembles the tracker, and runs
// until interrupted.
func trackAction(ctx context.Context, cmd *cli.Command) error {
	cfg := config.DefaultConfig()

	if path := cmd.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	}

	log, err := logger.NewLogger()
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Sync()

	tickerClient := ticker.NewClient(cfg.RestBaseURL, log)
	streamManager := stream.NewManager(cfg.StreamURL, cfg.QuoteAsset, cfg.ReconnectDelay, log)
	snapshots := storage.NewFileSnapshotStore(cfg.SnapshotPath, log)
	store := portfolio.NewStore(tickerClient, streamManager, cfg.QuoteAsset, log)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("Received interrupt signal, stopping")
		cancel()
	}()

	t := tracker.NewTracker(store, streamManager, snapshots, log)
	t.Start(ctx)

	apiServer := server.NewServer(store, log)
	if err := apiServer.Start(cfg.ListenAddress); err != nil {
		cancel()
		t.Wait()

		return fmt.Errorf("failed to start API server: %w", err)
	}

	log.Info("Portfolio tracker running",
		zap.String("restBaseURL", cfg.RestBaseURL),
		zap.String("streamURL", cfg.StreamURL),
		zap.String("listenAddress", apiServer.Address()),
	)

	t.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	return apiServer.Stop(shutdownCtx)
}

func main() {
	cmd := &cli.Command{
		Name:  "cryptofolio",
		Usage: "Track a crypto portfolio against live exchange prices",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "config",
				Aliases:  []string{"c"},
				Usage:    "Path to the YAML configuration file",
				Required: false,
			},
		},
		Action: trackAction,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}
