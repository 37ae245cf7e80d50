package main

import (
	"context"
	"errors"
	"fmt"
	stdnet "net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"SyncBoard/internal/metrics"
	boardnet "SyncBoard/internal/net"
	"SyncBoard/internal/store"
)

var (
	discoverTimeout time.Duration

	hubCmd = &cobra.Command{
		Use:   "hub",
		Short: "Serve boards to clients on the local network",
		Long: `Starts the hub: the durable shape store and the presence map for every
board, served over websockets at /ws/{board}. The hub is advertised over
mDNS unless SYNCBOARD_MDNS=false.`,
		Args: cobra.NoArgs,
		RunE: runHub,
	}

	discoverCmd = &cobra.Command{
		Use:   "discover",
		Short: "List hubs advertised on the local network",
		Args:  cobra.NoArgs,
		RunE:  runDiscover,
	}
)

func init() {
	discoverCmd.Flags().DurationVar(&discoverTimeout, "timeout", 3*time.Second, "how long to listen for answers")
}

func runHub(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	_, portStr, err := stdnet.SplitHostPort(cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen address %q: %w", cfg.Listen, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("listen port %q: %w", portStr, err)
	}

	backends, err := store.Open(ctx, cfg.Store, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := backends.Close(); err != nil {
			logger.Error("[HOST] closing store failed", "error", err)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	hub := boardnet.NewServer(boardnet.ServerConfig{
		Backends:     backends,
		Logger:       logger,
		Metrics:      metrics.New(reg),
		Gatherer:     reg,
		RateLimit:    rate.Limit(cfg.RateLimit),
		Burst:        cfg.RateBurst,
		WriteTimeout: cfg.WriteTimeout,
	})
	defer hub.Close()

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           hub.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("[HOST] listening", "addr", cfg.Listen, "store", backends.Kind())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if cfg.MDNS {
		g.Go(func() error {
			server, err := boardnet.Advertise(port, cfg.Boards)
			if err != nil {
				// Discovery is a convenience; the hub still serves direct links.
				logger.Warn("[MDNS] advertise failed", "error", err)
				return nil
			}
			logger.Info("[MDNS] advertising", "port", port, "boards", cfg.Boards)
			<-gctx.Done()
			return server.Shutdown()
		})
	}

	for _, board := range cfg.Boards {
		logger.Info("[HOST] share link", "board", board, "url", boardnet.ShareURL(port, board))
	}
	return g.Wait()
}

func runDiscover(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()
	var n atomic.Int32
	err := boardnet.Browse(cmd.Context(), discoverTimeout, func(s boardnet.Service) {
		n.Add(1)
		fmt.Fprintf(out, "%s\t%s\n", s.Instance, s.Addr)
		for _, board := range s.Boards {
			fmt.Fprintf(out, "\t%s\n", s.URL(board))
		}
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("browse: %w", err)
	}
	if n.Load() == 0 {
		fmt.Fprintln(out, "no hubs found")
	}
	return nil
}
