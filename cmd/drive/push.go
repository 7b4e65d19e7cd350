package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"drive/internal/client"
	"drive/internal/server/logging"
	"drive/internal/version"
)

type pushOptions struct {
	server      string
	token       string
	folder      string
	concurrency int
	retries     uint64
	timeout     time.Duration
	verbose     bool
}

func (o *pushOptions) register(fs *pflag.FlagSet) {
	fs.StringVar(&o.server, "server", envOr("DRIVE_SERVER", "http://localhost:8080"), "drive server base URL (env DRIVE_SERVER)")
	fs.StringVar(&o.token, "token", os.Getenv("DRIVE_TOKEN"), "bearer token (env DRIVE_TOKEN)")
	fs.StringVarP(&o.folder, "folder", "f", "", "destination folder id; empty uploads to the top level")
	fs.IntVarP(&o.concurrency, "concurrency", "j", 4, "parallel uploads per folder")
	fs.Uint64Var(&o.retries, "retries", 3, "retries for blob uploads on transient errors")
	fs.DurationVar(&o.timeout, "timeout", 5*time.Minute, "per-request timeout")
	fs.BoolVarP(&o.verbose, "verbose", "v", false, "log every folder and file")
}

func newPushCmd() *cobra.Command {
	var opts pushOptions

	cmd := &cobra.Command{
		Use:   "push [paths...]",
		Short: "Upload local files and directories into the drive",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPush(cmd, &opts, args)
		},
	}
	opts.register(cmd.Flags())
	return cmd
}

func runPush(cmd *cobra.Command, opts *pushOptions, args []string) error {
	if opts.token == "" {
		return fmt.Errorf("a token is required (--token or DRIVE_TOKEN)")
	}

	parsed, err := client.ParseArgs(args)
	if err != nil {
		return err
	}
	roots, err := client.BuildTree(parsed)
	if err != nil {
		return fmt.Errorf("building file tree: %w", err)
	}

	level := zapcore.WarnLevel
	if opts.verbose {
		level = zapcore.InfoLevel
	}
	lg := logging.NewLogger(&logging.Config{Level: level})
	defer lg.Sync()

	ctx := cmd.Context()
	c := client.New(opts.server, opts.token,
		client.WithRetries(opts.retries),
		client.WithHTTPClient(&http.Client{Timeout: opts.timeout}),
	)

	health, err := c.Health(ctx)
	if err != nil {
		return fmt.Errorf("server unreachable: %w", err)
	}
	if err := version.Compatible(version.Version, health.Version); err != nil {
		return err
	}

	var folderID *string
	if opts.folder != "" {
		folderID = &opts.folder
	}

	start := time.Now()
	res, err := client.NewPusher(c, opts.concurrency, lg).Push(ctx, roots, folderID)
	if err != nil {
		lg.Error("push failed", zap.Error(err))
		return err
	}

	var total int64
	for _, p := range res.Files {
		total += p.File.SizeBytes
		cmd.Printf("✓ %s  %s  %s\n", p.File.ID, p.Blake3[:16], p.LocalPath)
	}
	cmd.Printf("\nPushed %d files (%d bytes) and %d folders in %s\n",
		len(res.Files), total, len(res.Folders), time.Since(start).Round(time.Millisecond))
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
