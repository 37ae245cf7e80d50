package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"SyncBoard/internal/command"
	"SyncBoard/internal/engine"
	"SyncBoard/internal/export"
	boardnet "SyncBoard/internal/net"
	"SyncBoard/internal/presence"
	"SyncBoard/internal/state"
)

var (
	exportOut    string
	exportTitle  string
	exportGrid   bool
	exportUpload bool
	dialTimeout  time.Duration

	exportCmd = &cobra.Command{
		Use:   "export <board-link>",
		Short: "Write a board to PDF",
		Long: `Connects to a hub, waits for the board's current shapes and writes them
to a PDF. With --upload the file is also stored in the S3 bucket named by
S3_BUCKET.`,
		Args: cobra.ExactArgs(1),
		RunE: runExport,
	}

	applyCmd = &cobra.Command{
		Use:   "apply <board-link> <ops-file>",
		Short: "Apply a YAML or JSON list of operations to a board",
		Long: `Joins the board as SYNCBOARD_USER and applies each operation in the file
in order. Operations that fail are reported and the rest still run. Use -
to read operations from stdin.`,
		Args: cobra.ExactArgs(2),
		RunE: runApply,
	}

	listTemplatesCmd = &cobra.Command{
		Use:   "templates",
		Short: "List the built-in templates usable by the template operation",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			for _, name := range command.TemplateNames() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
		},
	}
)

func init() {
	for _, c := range []*cobra.Command{exportCmd, applyCmd} {
		c.Flags().DurationVar(&dialTimeout, "dial-timeout", 10*time.Second, "time allowed to reach the hub")
	}
	f := exportCmd.Flags()
	f.StringVarP(&exportOut, "out", "o", "", "output file (default <board>.pdf)")
	f.StringVar(&exportTitle, "title", "", "page title (default the board name)")
	f.BoolVar(&exportGrid, "grid", false, "draw the board grid")
	f.BoolVar(&exportUpload, "upload", false, "upload the PDF to S3")

	applyCmd.AddCommand(listTemplatesCmd)
}

// boardName is the last path element of a hub websocket URL.
func boardName(url string) string {
	return url[strings.LastIndex(url, "/")+1:]
}

func dial(ctx context.Context, link string) (*boardnet.Client, string, error) {
	url, err := boardURL(link)
	if err != nil {
		return nil, "", err
	}
	dctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	c, err := boardnet.Dial(dctx, url, logger)
	if err != nil {
		return nil, "", err
	}
	return c, url, nil
}

// snapshot waits for the hub's current shape set.
func snapshot(ctx context.Context, c *boardnet.Client) ([]state.Shape, error) {
	got := make(chan []state.Shape, 1)
	cancel, err := c.Shapes().Subscribe(ctx, func(shapes []state.Shape) {
		select {
		case got <- shapes:
		default:
		}
	})
	if err != nil {
		return nil, err
	}
	defer cancel()
	select {
	case shapes := <-got:
		shapes = append([]state.Shape(nil), shapes...)
		state.SortShapes(shapes)
		return shapes, nil
	case <-c.Done():
		return nil, boardnet.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func runExport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	c, url, err := dial(ctx, args[0])
	if err != nil {
		return err
	}
	defer c.Close()

	shapes, err := snapshot(ctx, c)
	if err != nil {
		return fmt.Errorf("read board: %w", err)
	}

	board := boardName(url)
	opts := export.Options{Title: exportTitle, Grid: exportGrid}
	if opts.Title == "" {
		opts.Title = board
	}
	out := exportOut
	if out == "" {
		out = board + ".pdf"
	}

	var buf bytes.Buffer
	if err := export.Write(&buf, shapes, opts); err != nil {
		return err
	}
	if err := os.WriteFile(out, buf.Bytes(), 0o644); err != nil {
		return err
	}
	logger.Info("[EXPORT] wrote board", "board", board, "shapes", len(shapes), "file", out)

	if !exportUpload {
		return nil
	}
	up, err := export.NewS3(export.S3Config{
		Bucket:    cfg.S3Bucket,
		Region:    cfg.S3Region,
		AccessKey: cfg.AWSAccessKey,
		SecretKey: cfg.AWSSecretKey,
		Endpoint:  cfg.S3Endpoint,
		Prefix:    cfg.S3Prefix,
	}, logger)
	if err != nil {
		return err
	}
	loc, err := up.Upload(ctx, up.ObjectKey(board, time.Now()), bytes.NewReader(buf.Bytes()))
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), loc)
	return nil
}

func readOps(path string) ([]command.Operation, error) {
	if path == "-" {
		return command.Decode(os.Stdin)
	}
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return command.Decode(f)
}

func runApply(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	ops, err := readOps(args[1])
	if err != nil {
		return err
	}
	if len(ops) == 0 {
		return nil
	}

	c, _, err := dial(ctx, args[0])
	if err != nil {
		return err
	}
	defer c.Close()

	sess := engine.New(engine.Config{
		Identity: presence.Identity{
			UserID:      cfg.UserID,
			DisplayName: cfg.DisplayName,
			ColorHex:    cfg.Color,
		},
		Store:            c.Shapes(),
		Channel:          c.Presence(),
		Logger:           logger,
		ThrottleInterval: cfg.ThrottleInterval,
		PendingTTL:       cfg.PendingTTL,
		WriteTimeout:     cfg.WriteTimeout,
	})
	if err := sess.Start(ctx); err != nil {
		return fmt.Errorf("join board: %w", err)
	}
	var errs []error
	select {
	case <-sess.Board().Synced():
		errs = command.NewExecutor(sess, logger).Apply(ctx, ops)
	case <-c.Done():
		errs = append(errs, boardnet.ErrClosed)
	case <-ctx.Done():
		errs = append(errs, ctx.Err())
	}
	closeCtx, cancel := context.WithTimeout(context.Background(), cfg.WriteTimeout)
	defer cancel()
	if err := sess.Close(closeCtx); err != nil {
		errs = append(errs, err)
	}

	out := cmd.OutOrStdout()
	for _, err := range errs {
		fmt.Fprintln(out, err)
	}
	fmt.Fprintf(out, "applied %d of %d operations\n", len(ops)-failedOps(errs), len(ops))
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// failedOps counts operations rejected before reaching the store.
func failedOps(errs []error) int {
	n := 0
	for _, err := range errs {
		var opErr *command.OpError
		if errors.As(err, &opErr) {
			n++
		}
	}
	return n
}
