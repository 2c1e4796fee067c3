package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"memorybank/internal/host"
	"memorybank/internal/mcp"
	"memorybank/internal/memorybank"
	"memorybank/internal/metrics"
	"memorybank/internal/session"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	serveStdio  bool
	serveListen string
	serveWatch  bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the memory bank server",
	Long: `Serve the memory bank over HTTP (GET /sse, POST /messages, GET /health,
GET /metrics) or, with --stdio, over stdin/stdout.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("listen") {
			cfg.Listen = serveListen
		}
		if cmd.Flags().Changed("watch") {
			cfg.Watch = serveWatch
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runServe(ctx)
	},
}

func runServe(ctx context.Context) error {
	var m *metrics.Metrics
	if cfg.Metrics && !serveStdio {
		m = metrics.New()
	}

	// Set before any goroutine that can write is started.
	var stdioServer *server.MCPServer
	notify := func(level host.Level, message string) {
		if stdioServer != nil {
			mcp.LogNotifier(stdioServer)(level, message)
		}
	}

	b, err := openBank(ctx, cfg, logger, m, notify)
	if err != nil {
		return err
	}
	defer b.Close()

	sessions := session.NewManager(cfg.SessionConfig(), logger, m)
	srv, err := mcp.NewServer(mcp.Options{
		Store:       b.store,
		Sessions:    sessions,
		Metrics:     m,
		Logger:      logger,
		Version:     version,
		ToolTimeout: cfg.ToolTimeout,
	})
	if err != nil {
		return err
	}

	logger.Info("Memory bank ready",
		"bank_dir", b.store.BankDir(),
		"documents", len(memorybank.Keys()),
		"watch", cfg.Watch,
	)

	if serveStdio {
		stdioServer = srv.MCPServer()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)
	if cfg.Watch {
		g.Go(func() error {
			return b.store.Watch(ctx, memorybank.DefaultWatchDebounce)
		})
	}

	if serveStdio {
		g.Go(func() error {
			// EOF on stdin ends the session and everything else with it.
			defer cancel()
			return srv.ServeStdio(ctx, stdioServer, os.Stdin, os.Stdout)
		})
		return wait(g)
	}

	g.Go(func() error {
		sessions.Run(ctx)
		return nil
	})
	g.Go(func() error {
		srv.RunBroadcaster(ctx)
		return nil
	})
	g.Go(func() error {
		return srv.ListenAndServe(ctx, cfg.Listen)
	})
	return wait(g)
}

// wait treats cancellation as a clean shutdown.
func wait(g *errgroup.Group) error {
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("Server stopped")
	return nil
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().BoolVar(&serveStdio, "stdio", false, "Serve over stdin/stdout instead of HTTP")
	serveCmd.Flags().StringVarP(&serveListen, "listen", "l", "", "Listen address (overrides config)")
	serveCmd.Flags().BoolVar(&serveWatch, "watch", true, "Reload documents edited on disk")
}
