// Command anthemcas extracts and verifies Frostbite CAS archive contents.
package main

import (
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/anthemcas/anthemcas"
	"github.com/anthemcas/anthemcas/internal/cache"
	"github.com/anthemcas/anthemcas/internal/env"
	"github.com/anthemcas/anthemcas/internal/export"
	"github.com/anthemcas/anthemcas/internal/game"
	"github.com/anthemcas/anthemcas/internal/trace"
)

func newLogger(debug bool) (*zap.Logger, error) {
	if isatty.IsTerminal(os.Stderr.Fd()) {
		cfg := zap.NewDevelopmentConfig()
		if !debug {
			cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
		}
		return cfg.Build()
	}
	cfg := zap.NewProductionConfig()
	if debug {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	return cfg.Build()
}

// bumpRlimitNOFILE raises the open-file limit to the kernel maximum: a
// full install's layout.toc + per-package .toc/.sb/cas handles can easily
// outnumber the default 1024.
func bumpRlimitNOFILE() error {
	var rlim unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rlim); err != nil {
		return err
	}
	rlim.Cur = rlim.Max
	return unix.Setrlimit(unix.RLIMIT_NOFILE, &rlim)
}

func defaultConfigPath() string {
	return env.ConfigRoot + "/config.toml"
}

func loadConfig(c *cli.Context) (*export.Config, error) {
	cfg, err := export.LoadConfig(c.String("config"))
	if err != nil {
		return nil, err
	}
	if v := c.String("game-folder"); v != "" {
		cfg.GameFolder = v
	}
	if v := c.String("output-folder"); v != "" {
		cfg.OutputFolder = v
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadDriver(c *cli.Context, logger *zap.Logger) (*export.Config, *export.Driver, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, nil, err
	}
	drv, err := export.NewDriver(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return cfg, drv, nil
}

func exportCommand(getLogger func() *zap.Logger) *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "extract Ebx/Resource/Chunk/toc-resource payloads from a game install",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "game-folder", Usage: "overrides config's game_folder"},
			&cli.StringFlag{Name: "output-folder", Usage: "overrides config's output_folder"},
		},
		Action: func(c *cli.Context) error {
			logger := getLogger()
			if err := bumpRlimitNOFILE(); err != nil {
				logger.Warn("raising RLIMIT_NOFILE failed", zap.Error(err))
			}

			if tf := c.String("tracefile"); tf != "" {
				if err := trace.Enable(tf); err != nil {
					return fmt.Errorf("enabling trace: %w", err)
				}
			}

			_, drv, err := loadDriver(c, logger)
			if err != nil {
				return err
			}

			ev := trace.Event("load", 0)
			g, err := game.Load(drv.Config.GameFolder)
			ev.Done()
			if err != nil {
				return fmt.Errorf("loading install: %w", err)
			}
			anthemcas.RegisterAtExit(g.Close)

			ctx, canc := anthemcas.InterruptibleContext()
			defer canc()

			ev = trace.Event("export", 0)
			err = drv.Export(ctx, g)
			ev.Done()
			if err != nil {
				return fmt.Errorf("export: %w", err)
			}
			logger.Info("export complete", zap.String("output", drv.Config.OutputFolder))
			return nil
		},
	}
}

func verifyCacheCommand(getLogger func() *zap.Logger) *cli.Command {
	return &cli.Command{
		Name:  "verify-cache",
		Usage: "drop and rebuild the cross-run object cache (no comparison against a previous snapshot)",
		Action: func(c *cli.Context) error {
			logger := getLogger()
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			if !cfg.CacheEnabled || cfg.CachePath == "" {
				return fmt.Errorf("verify-cache: config.cache_enabled is false or cache_path is empty")
			}

			g, err := game.Load(cfg.GameFolder)
			if err != nil {
				return fmt.Errorf("loading install: %w", err)
			}
			defer g.Close()

			fp, err := cache.Fingerprint(g)
			if err != nil {
				return fmt.Errorf("fingerprinting install: %w", err)
			}

			store, err := cache.Open(cfg.CachePath)
			if err != nil {
				return fmt.Errorf("opening cache: %w", err)
			}
			defer store.Close()

			if err := store.Drop(); err != nil {
				return fmt.Errorf("dropping cache: %w", err)
			}

			snap := &cache.GameSnapshot{}
			for _, l := range g.Layouts() {
				ls := cache.LayoutSnapshot{Name: l.Name}
				for _, p := range l.Packages {
					superbundles, split, err := p.LoadSuperbundles()
					if err != nil {
						return fmt.Errorf("loading package %d of %s: %w", p.Idx, l.Name, err)
					}
					ls.Packages = append(ls.Packages, cache.BuildSnapshot(p, superbundles, split))
				}
				snap.Layouts = append(snap.Layouts, ls)
			}

			if err := store.Store(fp, snap); err != nil {
				return fmt.Errorf("storing snapshot: %w", err)
			}

			logger.Info("cache rebuilt", zap.Uint64("fingerprint", fp), zap.String("path", cfg.CachePath))
			return nil
		},
	}
}

func envCommand() *cli.Command {
	return &cli.Command{
		Name:  "env",
		Usage: "print anthemcas's configuration directory",
		Action: func(c *cli.Context) error {
			fmt.Printf("ANTHEMCAS_CONFIG=%q\n", env.ConfigRoot)
			return nil
		},
	}
}

func run() error {
	var logger *zap.Logger

	app := &cli.App{
		Name:  "anthemcas",
		Usage: "extract Frostbite CAS archive assets",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Value: defaultConfigPath(), Usage: "path to config.toml"},
			&cli.BoolFlag{Name: "debug", Usage: "enable debug-level logging"},
			&cli.StringFlag{Name: "tracefile", Usage: "write a chrome://tracing event file to $TMPDIR/anthemcas.traces/<value>.<pid>"},
		},
		Before: func(c *cli.Context) error {
			l, err := newLogger(c.Bool("debug"))
			if err != nil {
				return err
			}
			logger = l
			return nil
		},
	}
	getLogger := func() *zap.Logger { return logger }
	app.Commands = []*cli.Command{
		exportCommand(getLogger),
		verifyCacheCommand(getLogger),
		envCommand(),
	}

	err := app.Run(os.Args)
	if logger != nil {
		logger.Sync()
	}
	if rerr := anthemcas.RunAtExit(); rerr != nil && err == nil {
		err = rerr
	}
	return err
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "anthemcas: %v\n", err)
		os.Exit(1)
	}
}
