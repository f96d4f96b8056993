// main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/carlmjohnson/versioninfo"
	"github.com/go-playground/validator/v10"
	"github.com/iancoleman/strcase"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/akhenakh/tiledivide/divide"
	"github.com/akhenakh/tiledivide/tiling"
)

const appName = "tiledivide"

const (
	imageStoreFlag   = "image-store"
	paramStoreFlag   = "param-store"
	neighborsDirFlag = "neighbors-dir"
	maskFlag         = "mask"
)

// Config holds all configuration for the application, loaded from environment variables.
type Config struct {
	LogLevel          string  `env:"LOG_LEVEL" envDefault:"INFO"`
	WorkerRoot        string  `env:"WORKER_ROOT" envDefault:"." validate:"required"`
	WaterMaskDir      string  `env:"WATER_MASK_DIR" envDefault:"water_mask" validate:"required"`
	TileSize          int     `env:"TILE_SIZE" envDefault:"200" validate:"gt=0"`
	Overlap           float64 `env:"OVERLAP" envDefault:"0.2" validate:"gte=0,lt=1"`
	CornerBand        int     `env:"CORNER_BAND" envDefault:"3" validate:"oneof=2 3 4"`
	Workers           int     `env:"WORKERS" envDefault:"0" validate:"gte=0"`
	CacheMaxSize      int64   `env:"CACHE_MAX_SIZE" envDefault:"1024" validate:"gt=0"`
	CacheItemsToPrune uint32  `env:"CACHE_ITEMS_TO_PRUNE" envDefault:"100" validate:"gt=0"`
	HTTPMetricsPort   int     `env:"METRICS_PORT" envDefault:"0" validate:"gte=0,lte=65535"`
}

func loadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("%w: %w", tiling.ErrConfiguration, err)
	}
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(cfg); err != nil {
		return cfg, fmt.Errorf("%w: %w", tiling.ErrConfiguration, err)
	}
	return cfg, nil
}

func (cfg Config) options() divide.Options {
	workers := cfg.Workers
	if workers == 0 {
		workers = runtime.NumCPU()
	}
	return divide.Options{
		BlockSize:         cfg.TileSize,
		Overlap:           cfg.Overlap,
		CornerBand:        cfg.CornerBand,
		Workers:           workers,
		CacheMaxSize:      cfg.CacheMaxSize,
		CacheItemsToPrune: cfg.CacheItemsToPrune,
	}
}

func main() {
	app := cli.NewApp()
	app.Name = appName
	app.Usage = "Divide a georeferenced image into overlapping, water-masked, normalized tiles"
	app.Version = versioninfo.Short()
	app.ArgsUsage = "<image>"

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    imageStoreFlag,
			Usage:   "Tile image container, defaults to $WORKER_ROOT/divided_img/<name>/image_data.db",
			EnvVars: []string{strcase.ToScreamingSnake(imageStoreFlag)},
		},
		&cli.StringFlag{
			Name:    paramStoreFlag,
			Usage:   "Tile parameter container, defaults to $WORKER_ROOT/divided_img/<name>/image_param.db",
			EnvVars: []string{strcase.ToScreamingSnake(paramStoreFlag)},
		},
		&cli.StringFlag{
			Name:    neighborsDirFlag,
			Usage:   "Directory for the index files, defaults to $WORKER_ROOT/neighbors",
			EnvVars: []string{strcase.ToScreamingSnake(neighborsDirFlag)},
		},
		&cli.StringFlag{
			Name:    maskFlag,
			Usage:   "Water mask, defaults to $WATER_MASK_DIR/<name>/<name>_watermask.tif",
			EnvVars: []string{strcase.ToScreamingSnake(maskFlag)},
		},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		slog.Error("tiledivide failed", "error", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("expected one image argument, got %d", c.NArg())
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := createLogger(cfg, appName)
	slog.SetDefault(logger)

	paths := divide.DefaultPaths(cfg.WorkerRoot, cfg.WaterMaskDir, c.Args().First())
	overridePaths(&paths, c)

	metrics := divide.NewMetrics(prometheus.DefaultRegisterer)
	d, err := divide.New(cfg.options(), logger, metrics)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	var httpMetricsServer *http.Server
	if cfg.HTTPMetricsPort > 0 {
		httpMetricsServer = newMetricsServer(cfg)
		g.Go(func() error {
			return startMetricsServer(logger, httpMetricsServer)
		})
	}

	g.Go(func() error {
		if httpMetricsServer != nil {
			defer shutdownMetricsServer(httpMetricsServer)
		}
		logger.Info("dividing image", "image", paths.Image, "mask", paths.MaskPath(),
			"tile_size", cfg.TileSize, "overlap", cfg.Overlap, "workers", cfg.options().Workers)
		sum, err := d.Process(ctx, paths)
		if err != nil {
			return err
		}
		logger.Info("done", "name", sum.Name, "accepted", sum.Accepted, "rejected", sum.Rejected,
			"grid_rows", sum.GridRows, "grid_cols", sum.GridCols, "duration", sum.Duration)
		return nil
	})

	return g.Wait()
}

func overridePaths(p *divide.Paths, c *cli.Context) {
	if v := c.String(imageStoreFlag); v != "" {
		p.ImageStore = v
	}
	if v := c.String(paramStoreFlag); v != "" {
		p.ParamStore = v
	}
	if v := c.String(neighborsDirFlag); v != "" {
		p.NeighborsDir = v
	}
	if v := c.String(maskFlag); v != "" {
		p.Mask = v
	}
}

func newMetricsServer(cfg Config) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &http.Server{Addr: fmt.Sprintf(":%d", cfg.HTTPMetricsPort), Handler: mux}
}

func startMetricsServer(logger *slog.Logger, srv *http.Server) error {
	logger.Info("HTTP metrics server listening", "address", srv.Addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP metrics server failed: %w", err)
	}
	return nil
}

func shutdownMetricsServer(srv *http.Server) {
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP metrics server shutdown error", "error", err)
	}
}

func createLogger(cfg Config, appName string) *slog.Logger {
	var programLevel slog.Level
	switch strings.ToUpper(cfg.LogLevel) {
	case "DEBUG":
		programLevel = slog.LevelDebug
	case "INFO":
		programLevel = slog.LevelInfo
	case "WARN":
		programLevel = slog.LevelWarn
	case "ERROR":
		programLevel = slog.LevelError
	default:
		programLevel = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     programLevel,
		AddSource: programLevel <= slog.LevelDebug,
	}).WithAttrs([]slog.Attr{slog.String("app", appName)})
	return slog.New(handler)
}
