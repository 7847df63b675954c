// Command bloomd runs the layered Bloom filter TCP service: it loads a
// config file, recovers any filters already on disk, then serves the
// wire protocol until a SIGINT/SIGTERM asks it to flush and exit.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/csvquery/bloomd/internal/iniconf"
	"github.com/csvquery/bloomd/internal/logging"
	"github.com/csvquery/bloomd/internal/registry"
	"github.com/csvquery/bloomd/internal/server"
	"github.com/csvquery/bloomd/internal/workers"
)

const (
	version   = "1.0.0"
	buildDate = "2026-07-31"
)

func main() {
	app := &cli.App{
		Name:    "bloomd",
		Usage:   "a server for maintaining probabilistic set filters",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"f"},
				Usage:   "path to the bloomd INI config file",
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg := iniconf.DefaultServerConfig()

	if path := c.String("config"); path != "" {
		loaded, err := iniconf.LoadServerConfig(path)
		if err != nil {
			logging.Fatal("failed to load config", "path", path, "error", err)
			return cli.Exit(err, 1)
		}
		cfg = loaded
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		logging.Fatal("failed to create data dir", "dir", cfg.DataDir, "error", err)
		return cli.Exit(err, 1)
	}

	reg := registry.New(cfg.DataDir, cfg.InMemory)
	if err := reg.Recover(); err != nil {
		logging.Fatal("failed to recover data dir", "dir", cfg.DataDir, "error", err)
		return cli.Exit(err, 1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := workers.New(reg, cfg)
	w.Start(ctx)

	srv := server.New(reg, cfg)
	err := srv.ListenAndServe()
	cancel()
	w.Wait()

	if err != nil {
		logging.Fatal("failed to serve", "error", err)
		return cli.Exit(err, 1)
	}
	return nil
}
