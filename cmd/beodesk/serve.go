package main

import (
	"context"
	"errors"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/eringen/beodesk"
)

var serveCfg beodesk.Config

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, calendar board and WebSocket server",
	RunE:  runServe,
}

func envInt(key string, fallback int) int {
	if n, err := strconv.Atoi(beodesk.EnvOr(key, "")); err == nil {
		return n
	}
	return fallback
}

func init() {
	f := serveCmd.Flags()
	f.StringVar(&serveCfg.Addr, "addr", beodesk.EnvOr("BEODESK_ADDR", ":8000"), "Listen address")
	f.StringVar(&serveCfg.PdftoppmPath, "pdftoppm", beodesk.EnvOr("PDFTOPPM_PATH", "pdftoppm"), "pdftoppm binary")
	f.IntVar(&serveCfg.RasterWorkers, "raster-workers", envInt("RASTER_WORKERS", 0), "Concurrent page renders (0 uses every CPU)")
	f.IntVar(&serveCfg.ThumbnailDPI, "thumb-dpi", envInt("THUMBNAIL_DPI", 75), "Thumbnail resolution")
	f.IntVar(&serveCfg.HighResDPI, "highres-dpi", envInt("HIGHRES_DPI", 300), "High-res resolution")
	f.IntVar(&serveCfg.UploadLimit, "upload-limit", envInt("UPLOAD_LIMIT", 30), "Uploads per client per minute")
	f.BoolVar(&serveCfg.KeepArtifacts, "keep-artifacts", beodesk.EnvOr("KEEP_ARTIFACTS", "") == "true", "Keep page images of deleted documents")
	f.StringSliceVar(&serveCfg.AllowedOrigins, "allowed-origins", splitList(beodesk.EnvOr("ALLOWED_ORIGINS", "*")), "CORS and WebSocket origins")
}

func splitList(s string) []string {
	var out []string
	for _, v := range strings.Split(s, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := serveCfg
	cfg.DatabasePath = databasePath
	cfg.StorageRoot = storageRoot
	cfg.LogLevel = logLevel
	cfg.LogJSON = logJSON

	app := beodesk.New(cfg)
	if err := app.Setup(); err != nil {
		return err
	}
	defer app.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() { errc <- app.Start() }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	app.Log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), app.Config.ShutdownTimeout)
	defer cancel()
	if err := app.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return <-errc
}
