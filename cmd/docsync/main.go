// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command docsync keeps a search index consistent with an object store.
//
// Usage:
//
//	docsync run --config config.yaml
//	docsync scan --config config.yaml
//	docsync sync --config config.yaml
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/kadirpekel/docsync/pkg/config"
)

// CLI defines the command-line interface.
type CLI struct {
	Version VersionCmd `cmd:"" help:"Show version information."`
	Run     RunCmd     `cmd:"" help:"Run the ingestion service (queue, scan and reconciliation per config)."`
	Scan    ScanCmd    `cmd:"" help:"Run one full bucket scan and exit."`
	Sync    SyncCmd    `cmd:"" help:"Run one reconciliation sweep and exit."`

	Config    string `short:"c" help:"Path to config file." type:"path" default:"config.yaml"`
	LogLevel  string `help:"Log level (debug, info, warn, error)."`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple or verbose)."`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("docsync version %s\n", version)
	return nil
}

// RunCmd runs the long-lived service.
type RunCmd struct {
	Watch bool `help:"Watch config file for changes."`
}

func (c *RunCmd) Run(cli *CLI) error {
	ctx, cancel := signalContext()
	defer cancel()

	cfg, loader, err := config.LoadConfigFile(ctx, cli.Config)
	if err != nil {
		return err
	}
	defer loader.Close()

	if c.Watch {
		go func() {
			if err := loader.Watch(ctx); err != nil && ctx.Err() == nil {
				slog.Error("Config watch error", "error", err)
			}
		}()
	}

	svc, err := buildService(ctx, cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	return svc.Run(ctx)
}

// ScanCmd runs one full scan: every object in the bucket gets a CREATE
// event, then the process exits.
type ScanCmd struct{}

func (c *ScanCmd) Run(cli *CLI) error {
	ctx, cancel := signalContext()
	defer cancel()

	cfg, loader, err := config.LoadConfigFile(ctx, cli.Config)
	if err != nil {
		return err
	}
	defer loader.Close()

	// One-shot: force scan mode, no queue, no sweep.
	cfg.Pipeline.FullScan = true
	cfg.Queue.Enabled = false
	cfg.Reconcile.Enabled = false

	svc, err := buildService(ctx, cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	return svc.Run(ctx)
}

// SyncCmd runs one reconciliation sweep: index records whose objects
// are gone get deleted, then the process exits.
type SyncCmd struct{}

func (c *SyncCmd) Run(cli *CLI) error {
	ctx, cancel := signalContext()
	defer cancel()

	cfg, loader, err := config.LoadConfigFile(ctx, cli.Config)
	if err != nil {
		return err
	}
	defer loader.Close()

	svc, err := buildService(ctx, cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	return svc.SweepOnce(ctx)
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("Shutting down...")
		cancel()
	}()
	return ctx, cancel
}

func main() {
	_ = config.LoadEnvFiles()

	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("docsync"),
		kong.Description("docsync - document ingestion and search-index consistency"),
		kong.UsageOnError(),
	)

	cleanup, err := initLoggerFromCLI(cli.LogLevel, cli.LogFile, cli.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	if cleanup != nil {
		defer cleanup()
	}

	if err := ctx.Run(&cli); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
