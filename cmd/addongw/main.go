package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/mattjoyce/addongw/internal/addon"
	"github.com/mattjoyce/addongw/internal/api"
	"github.com/mattjoyce/addongw/internal/auth"
	"github.com/mattjoyce/addongw/internal/cache"
	"github.com/mattjoyce/addongw/internal/config"
	"github.com/mattjoyce/addongw/internal/engine"
	"github.com/mattjoyce/addongw/internal/lock"
	"github.com/mattjoyce/addongw/internal/log"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "start":
		os.Exit(runStart(args))
	case "selftest":
		os.Exit(runSelftest(args))
	case "version":
		fmt.Printf("addongw version %s\n", version)
		os.Exit(0)
	case "help", "--help", "-h":
		printUsage()
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`addongw - addon dispatch gateway

Usage:
  addongw <command> [flags]

Commands:
  start       Start the gateway service in foreground
  selftest    Run every discovered addon's selftest action
  version     Show version information
  help        Show this help message

Flags:
  -config <path>   Path to the configuration file (default: addongw.yaml)
`)
}

// setup loads configuration, applies environment overrides, and builds the
// engine with every discovered addon.
func setup(configPath string) (*config.Config, *engine.Engine, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}

	env, err := config.LoadEnv()
	if err != nil {
		return nil, nil, err
	}
	env.Apply(cfg)

	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("main")
	logger.Info("addongw starting", "version", version, "config", configPath)

	cacheEngine, err := cache.OpenEngine(context.Background(), cfg.Cache.Engine, cfg.Cache.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("open cache engine: %w", err)
	}
	facade := cache.New(cacheEngine, cache.Options{
		TTL:      cfg.Cache.TTL,
		ErrorTTL: cfg.Cache.ErrorTTL,
	})

	var addons []addon.Addon
	var manifests []*addon.Manifest
	if cfg.AddonsDir != "" {
		manifests, err = addon.Discover(cfg.AddonsDir)
		if err != nil {
			return nil, nil, fmt.Errorf("addon discovery: %w", err)
		}
		for _, m := range manifests {
			addons = append(addons, m.Descriptor())
		}
		logger.Info("addon discovery complete", "addons_dir", cfg.AddonsDir, "count", len(manifests))
	}
	addons = append(addons, addon.NewRepository(cfg.Repository.ID, cfg.Repository.Name, manifests))

	opts := []engine.Option{
		engine.WithCache(facade),
		engine.WithEnv(env),
		engine.WithReplayMode(cfg.ReplayMode),
	}
	if cfg.Auth.Secret != "" {
		opts = append(opts, engine.WithValidator(auth.NewJWTValidator(cfg.Auth.Secret)))
	}
	if cfg.Recorder.Path != "" {
		opts = append(opts, engine.WithRecordPath(cfg.Recorder.Path))
	}

	eng, err := engine.New(addons, opts...)
	if err != nil {
		return nil, nil, err
	}
	return cfg, eng, nil
}

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	configPath := fs.String("config", "addongw.yaml", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, eng, err := setup(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Startup failed: %v\n", err)
		return 1
	}
	defer eng.Close()

	logger := log.WithComponent("main")

	pidLock, err := lock.Acquire(lock.DefaultPath(cfg.Service.Name))
	if err != nil {
		logger.Error("failed to acquire instance lock", "error", err)
		return 1
	}
	defer pidLock.Release()
	logger.Info("acquired instance lock", "path", pidLock.Path())

	server, err := api.New(api.Config{
		Listen:      cfg.API.Listen,
		CORSOrigins: cfg.API.CORSOrigins,
	}, eng, log.WithComponent("api"))
	if err != nil {
		logger.Error("failed to create API server", "error", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Start(ctx)
	})

	logger.Info("addongw running (press Ctrl+C to stop)",
		"listen", cfg.API.Listen,
		"addons", len(eng.Addons()),
	)

	if err := g.Wait(); err != nil && err != context.Canceled {
		logger.Error("gateway terminated", "error", err)
		return 1
	}
	logger.Info("addongw stopped")
	return 0
}

// runSelftest dispatches the selftest action against every hosted addon and
// reports per-addon outcomes.
func runSelftest(args []string) int {
	fs := flag.NewFlagSet("selftest", flag.ExitOnError)
	configPath := fs.String("config", "addongw.yaml", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	_, eng, err := setup(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Startup failed: %v\n", err)
		return 1
	}
	defer eng.Close()

	ctx := context.Background()
	failures := 0
	for _, a := range eng.Addons() {
		handler, err := eng.CreateAddonHandler(a)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", a.ID(), err)
			failures++
			continue
		}

		var status int
		var output any
		err = handler(ctx, &engine.Request{
			Action: addon.ActionSelftest,
			Send: func(_ context.Context, st int, body any) (string, error) {
				status, output = st, body
				return "", nil
			},
		})
		if err != nil || status != 200 {
			raw, _ := json.Marshal(output)
			fmt.Printf("FAIL  %s (status %d): %s\n", a.ID(), status, raw)
			failures++
			continue
		}
		fmt.Printf("ok    %s\n", a.ID())
	}

	if failures > 0 {
		fmt.Printf("%d addon(s) failed selftest\n", failures)
		return 1
	}
	return 0
}
