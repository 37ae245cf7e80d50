package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"SyncBoard/internal/config"
	"SyncBoard/internal/logging"
)

// CustomURLScheme prefixes share links handed between machines. A link is
// syncboard://host:port/board and maps onto the hub's websocket endpoint.
const CustomURLScheme = "syncboard://"

var (
	envFiles  []string
	listen    string
	storeSpec string
	logLevel  string

	cfg    config.Config
	logger *slog.Logger

	rootCmd = &cobra.Command{
		Use:           "syncboard",
		Short:         "Real-time shared whiteboard hub and tools",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cfg, err = config.Load(envFiles...)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("listen") {
				cfg.Listen = listen
			}
			if cmd.Flags().Changed("store") {
				cfg.Store = storeSpec
			}
			if cmd.Flags().Changed("log-level") {
				cfg.LogLevel = logLevel
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			logger, err = logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
			if err != nil {
				return err
			}
			slog.SetDefault(logger)
			return nil
		},
	}
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringSliceVar(&envFiles, "env", nil, "dotenv files to load (default .env)")
	pf.StringVar(&listen, "listen", "", "hub listen address")
	pf.StringVar(&storeSpec, "store", "", "store backend: memory, badger:<dir>, badger:mem or postgres:<dsn>")
	pf.StringVar(&logLevel, "log-level", "", "debug, info, warn or error")

	rootCmd.AddCommand(hubCmd, discoverCmd, exportCmd, applyCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

// boardURL turns a share link or host:port/board address into the hub's
// websocket endpoint. ws:// and wss:// URLs pass through.
func boardURL(link string) (string, error) {
	link = strings.TrimSpace(link)
	switch {
	case strings.HasPrefix(link, "ws://"), strings.HasPrefix(link, "wss://"):
		return link, nil
	case strings.HasPrefix(link, CustomURLScheme):
		link = strings.TrimPrefix(link, CustomURLScheme)
	}
	link = strings.TrimSuffix(link, "/")
	addr, board, ok := strings.Cut(link, "/")
	if !ok || addr == "" || board == "" || strings.Contains(board, "/") {
		return "", fmt.Errorf("bad board link %q: want %shost:port/board", link, CustomURLScheme)
	}
	return "ws://" + addr + "/ws/" + board, nil
}
