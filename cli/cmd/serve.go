package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/cairnstack/cairn/adapter"
	"github.com/cairnstack/cairn/httpd"
	"github.com/cairnstack/cairn/log"
	"github.com/cairnstack/cairn/metrics"
)

// ServeCommand returns the serve command, the ingestion server
// entrypoint.
func ServeCommand() *cli.Command {
	flags := []cli.Flag{
		ConfigFlag,
		&cli.StringFlag{
			Name:  "listen",
			Usage: "Bind address (default :8640)",
		},
		&cli.Int64Flag{
			Name:  "max-body-bytes",
			Usage: "Maximum archive upload size in bytes",
		},
		&cli.IntFlag{
			Name:  "concurrency",
			Usage: "Concurrent storage puts per batch (default 10)",
		},
	}
	flags = append(flags, storageFlags()...)

	return &cli.Command{
		Name:   "serve",
		Usage:  "Run the batch ingestion server",
		Flags:  flags,
		Action: serveAction,
	}
}

func serveAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	serverCfg := httpd.Config{}
	if cfg != nil {
		serverCfg.Listen = cfg.Listen
		serverCfg.MaxBodyBytes = cfg.MaxBodyBytes
		serverCfg.Concurrency = cfg.Concurrency
	}
	if v := c.String("listen"); v != "" {
		serverCfg.Listen = v
	}
	if v := c.Int64("max-body-bytes"); v > 0 {
		serverCfg.MaxBodyBytes = v
	}
	if v := c.Int("concurrency"); v > 0 {
		serverCfg.Concurrency = v
	}

	choice := resolveStorage(c, cfg)

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	contentStore, blobStore, err := buildStore(ctx, choice)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	var adapters []adapter.Adapter
	if cfg != nil {
		adapters, err = buildAdapters(cfg.Adapters)
		if err != nil {
			return cli.Exit(err.Error(), 1)
		}
	}
	defer func() {
		for _, a := range adapters {
			_ = a.Close()
		}
	}()

	backend := choice.backend
	if backend == "" {
		backend = "memory"
	}

	logger := log.NewLogger()
	collector := metrics.NewCollector(backend)

	logger.Info("starting server", map[string]any{
		"backend":  backend,
		"adapters": len(adapters),
	})

	server := httpd.NewServer(serverCfg, contentStore, blobStore, adapters, logger, collector)
	if err := server.Run(ctx); err != nil {
		return fmt.Errorf("server: %w", err)
	}

	snap := collector.Snapshot()
	logger.Info("server stopped", map[string]any{
		"batches_completed": snap.BatchesCompleted,
		"batches_failed":    snap.BatchesFailed,
		"envelopes_stored":  snap.EnvelopesStored,
		"deletions":         snap.Deletions,
	})
	return nil
}
