package beodesk

import (
	"runtime"
	"time"

	"github.com/rs/zerolog"

	"github.com/eringen/beodesk/raster"
)

// Config holds all configuration for a beodesk server.
type Config struct {
	Addr         string // Listen address (default ":8000")
	DatabasePath string // SQLite path (default "data/beodesk.db")
	StorageRoot  string // Artifact root holding originals/, thumbnails/, high_res/ (default "storage")

	ThumbnailDPI      int // default 75
	ThumbnailQuality  int // JPEG quality (default 60)
	ThumbnailMaxWidth int // 0 keeps the rendered width
	HighResDPI        int // default 300
	HighResQuality    int // default 95
	HighResMaxWidth   int

	PdftoppmPath  string // default "pdftoppm" on PATH
	RasterWorkers int    // concurrent renders (default runtime.NumCPU())

	MaxUploadSize int64         // bytes per request (default 50MB)
	UploadLimit   int           // uploads per client per UploadWindow (default 30)
	UploadWindow  time.Duration // default 1min

	WeekCacheTTL  time.Duration // default 30s
	KeepArtifacts bool          // leave files behind when a document is deleted

	AllowedOrigins []string // CORS and WebSocket origins (default any)

	LogLevel string // zerolog level (default "info")
	LogJSON  bool   // JSON log lines instead of console output

	ShutdownTimeout time.Duration // default 10s
}

func (c *Config) setDefaults() {
	if c.Addr == "" {
		c.Addr = ":8000"
	}
	if c.DatabasePath == "" {
		c.DatabasePath = "data/beodesk.db"
	}
	if c.StorageRoot == "" {
		c.StorageRoot = "storage"
	}
	if c.ThumbnailDPI == 0 {
		c.ThumbnailDPI = 75
	}
	if c.ThumbnailQuality == 0 {
		c.ThumbnailQuality = 60
	}
	if c.HighResDPI == 0 {
		c.HighResDPI = 300
	}
	if c.HighResQuality == 0 {
		c.HighResQuality = 95
	}
	if c.PdftoppmPath == "" {
		c.PdftoppmPath = "pdftoppm"
	}
	if c.RasterWorkers == 0 {
		c.RasterWorkers = runtime.NumCPU()
	}
	if c.MaxUploadSize == 0 {
		c.MaxUploadSize = 50 << 20
	}
	if c.UploadLimit == 0 {
		c.UploadLimit = 30
	}
	if c.UploadWindow == 0 {
		c.UploadWindow = time.Minute
	}
	if c.WeekCacheTTL == 0 {
		c.WeekCacheTTL = 30 * time.Second
	}
	if len(c.AllowedOrigins) == 0 {
		c.AllowedOrigins = []string{"*"}
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
}

func (c *Config) thumbnailProfile() raster.Profile {
	return raster.Profile{DPI: c.ThumbnailDPI, Quality: c.ThumbnailQuality, MaxWidth: c.ThumbnailMaxWidth}
}

func (c *Config) highResProfile() raster.Profile {
	return raster.Profile{DPI: c.HighResDPI, Quality: c.HighResQuality, MaxWidth: c.HighResMaxWidth}
}

// Option configures additional App behavior.
type Option func(*App)

// WithCustomRoutes registers additional routes on the Echo instance.
// The callback runs after the built-in routes are registered.
func WithCustomRoutes(fn func(*App)) Option {
	return func(a *App) {
		a.customRoutes = append(a.customRoutes, fn)
	}
}

// WithRasterizer replaces the pdftoppm rasterizer. Calls still go through the
// worker pool.
func WithRasterizer(r raster.Rasterizer) Option {
	return func(a *App) {
		a.rasterizer = r
	}
}

// WithLogger sets the logger instead of building one from LogLevel/LogJSON.
func WithLogger(l zerolog.Logger) Option {
	return func(a *App) {
		a.Log = l
		a.logSet = true
	}
}

// WithViews overrides the HTML views.
func WithViews(v ViewFuncs) Option {
	return func(a *App) {
		a.Views = v
	}
}
