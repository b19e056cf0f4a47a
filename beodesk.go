// Package beodesk is a catering event-order (BEO) desk built with Go, Echo,
// and templ. It ingests uploaded PDFs into page images, lets staff pick and
// promote pages, splits them into new documents, stores annotations, and
// schedules documents on a weekly calendar.
//
// The Engine owns document lifecycle semantics; App wires it to SQLite, the
// artifact directory, a pdftoppm worker pool, a WebSocket hub, and an HTTP API.
package beodesk

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"slices"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/eringen/beodesk/artifact"
	"github.com/eringen/beodesk/notify"
	"github.com/eringen/beodesk/raster"
)

// App is the central beodesk application. It wires together the registry,
// engine, caches, handlers, middleware, and views.
type App struct {
	Config    Config
	Echo      *echo.Echo
	Store     *Store
	Engine    *Engine
	Cache     *WeekCache
	Hub       *notify.Hub
	Artifacts *artifact.FS
	Views     ViewFuncs
	Log       zerolog.Logger

	logSet        bool
	rasterizer    raster.Rasterizer
	pool          *raster.Pool
	stopPool      context.CancelFunc
	uploadLimiter *UploadLimiter
	customRoutes  []func(*App)
	ready         bool
}

// New creates a new App with the given configuration.
func New(cfg Config, opts ...Option) *App {
	cfg.setDefaults()

	a := &App{
		Config: cfg,
		Echo:   echo.New(),
		Views:  DefaultViews(),
	}
	a.Echo.HideBanner = true
	a.Echo.HidePort = true

	for _, opt := range opts {
		opt(a)
	}

	return a
}

// Setup opens the registry and artifact store, starts the raster workers, and
// registers middleware and routes. Start calls it; tests call it directly and
// drive a.Echo with httptest.
func (a *App) Setup() error {
	if a.ready {
		return nil
	}

	if !a.logSet {
		l, err := NewLogger(a.Config.LogLevel, a.Config.LogJSON, os.Stderr)
		if err != nil {
			return fmt.Errorf("beodesk: %w", err)
		}
		a.Log = l
	}

	store, err := NewStore(a.Config.DatabasePath)
	if err != nil {
		return fmt.Errorf("beodesk: init store: %w", err)
	}
	a.Store = store

	fs, err := artifact.NewFS(a.Config.StorageRoot)
	if err != nil {
		store.Close()
		return fmt.Errorf("beodesk: init artifacts: %w", err)
	}
	a.Artifacts = fs

	if a.rasterizer == nil {
		a.rasterizer = &raster.Poppler{Bin: a.Config.PdftoppmPath}
	}
	a.pool = raster.NewPool(a.Config.RasterWorkers, a.Config.RasterWorkers*4)
	poolCtx, cancel := context.WithCancel(context.Background())
	a.stopPool = cancel
	a.pool.Start(poolCtx)

	a.Hub = notify.NewHub(a.Log, a.checkOrigin)

	a.Engine = NewEngine(store, fs, raster.Pooled(a.rasterizer, a.pool),
		WithNotifier(a.Hub),
		WithEngineLogger(a.Log),
		WithProfiles(a.Config.thumbnailProfile(), a.Config.highResProfile()),
		WithReclaim(!a.Config.KeepArtifacts),
	)

	a.Cache = NewWeekCache(a.Engine.Calendar, a.Config.WeekCacheTTL)
	a.uploadLimiter = NewUploadLimiter(a.Config.UploadLimit, a.Config.UploadWindow)

	a.setupMiddleware()
	a.setupRoutes()
	for _, fn := range a.customRoutes {
		fn(a)
	}

	a.ready = true
	a.Log.Info().
		Str("database", a.Config.DatabasePath).
		Str("storage", a.Config.StorageRoot).
		Int("raster_workers", a.pool.Workers()).
		Msg("beodesk ready")
	return nil
}

// Start sets the app up and serves HTTP until Shutdown is called.
func (a *App) Start() error {
	if err := a.Setup(); err != nil {
		return err
	}
	a.Log.Info().Str("addr", a.Config.Addr).Msg("listening")
	if err := a.Echo.Start(a.Config.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, disconnects WebSocket subscribers, and
// waits for in-flight requests until ctx ends.
func (a *App) Shutdown(ctx context.Context) error {
	if a.Hub != nil {
		a.Hub.Close()
	}
	return a.Echo.Shutdown(ctx)
}

// checkOrigin accepts WebSocket upgrades from AllowedOrigins.
func (a *App) checkOrigin(r *http.Request) bool {
	if slices.Contains(a.Config.AllowedOrigins, "*") {
		return true
	}
	origin := r.Header.Get("Origin")
	return origin == "" || slices.Contains(a.Config.AllowedOrigins, origin)
}

// Close cleans up resources. Call this when the app is shutting down.
func (a *App) Close() error {
	if a.Hub != nil {
		a.Hub.Close()
	}
	if a.uploadLimiter != nil {
		a.uploadLimiter.Stop()
	}
	if a.pool != nil {
		a.pool.Close()
		a.stopPool()
	}
	if a.Store != nil {
		return a.Store.Close()
	}
	return nil
}

// EnvOr returns the value of the environment variable key, or fallback if empty.
func EnvOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
