// Package main is the entry point for the Tool Gateway.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/toolbridge/tool-gateway/internal/adapters"
	"github.com/toolbridge/tool-gateway/internal/config"
	"github.com/toolbridge/tool-gateway/internal/dispatch"
	"github.com/toolbridge/tool-gateway/internal/gateway"
	"github.com/toolbridge/tool-gateway/internal/monitoring"
	"github.com/toolbridge/tool-gateway/internal/registry"
	"github.com/toolbridge/tool-gateway/internal/store"
)

// Version is set at build time via -ldflags.
var Version = "dev"

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "serve", "start":
			runServer(os.Args[2:])
			return
		case "version", "-v", "--version":
			fmt.Printf("tool-gateway %s\n", Version)
			return
		case "help", "-h", "--help":
			printHelp()
			return
		}
	}
	printHelp()
	os.Exit(2)
}

// loadEnvFiles loads .env from standard locations.
func loadEnvFiles() {
	if homeDir, err := os.UserHomeDir(); err == nil {
		configEnv := filepath.Join(homeDir, ".config", "tool-gateway", ".env")
		if _, err := os.Stat(configEnv); err == nil {
			_ = godotenv.Load(configEnv)
		}
	}
	// Local .env can override.
	_ = godotenv.Load()
}

// runServer starts the gateway with all configured vendor adapters.
func runServer(args []string) {
	loadEnvFiles()

	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "configs/gateway.yaml", "path to config file")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(args) // ExitOnError handles errors

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tool-gateway: %v\n", err)
		os.Exit(1)
	}
	if *debug {
		cfg.Logging.Level = "debug"
	}
	monitoring.Setup(cfg.Logging)

	log.Info().
		Str("version", Version).
		Str("config", *configPath).
		Msg("tool gateway starting")

	audit, err := openAudit(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open audit store")
	}
	defer audit.Close()

	metrics := monitoring.NewMetricsCollector()
	reg := registry.New()
	built, err := adapters.BuildAll(cfg, reg, metrics)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build vendor adapters")
	}
	for _, a := range built {
		log.Info().Str("vendor", a.Name()).Msg("adapter registered")
	}
	log.Info().
		Int("tools", reg.Len()).
		Int("port", cfg.Server.Port).
		Bool("mcp_stdio", cfg.MCP.Stdio).
		Str("mcp_http", cfg.MCP.HTTPAddr).
		Msg("configuration loaded")

	dispatcher := dispatch.New(reg, audit, metrics)
	gw := gateway.New(cfg, dispatcher, audit, metrics)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := gw.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("gateway error")
	}
	log.Info().Msg("tool gateway stopped")
}

// openAudit creates the configured audit store backend.
func openAudit(cfg *config.Config) (store.Store, error) {
	switch cfg.Audit.Type {
	case "sqlite":
		return store.NewSQLiteStore(cfg.Audit.Path)
	default:
		return store.NewMemoryStore(cfg.Audit.Capacity), nil
	}
}

// printHelp prints usage information.
func printHelp() {
	fmt.Println("Tool Gateway - uniform MCP/REST gateway for vendor APIs")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  tool-gateway serve [--config FILE] [--debug]")
	fmt.Println("  tool-gateway version")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  --config FILE    Gateway config (default: configs/gateway.yaml)")
	fmt.Println("  --debug          Enable debug logging")
	fmt.Println()
	fmt.Println("Credentials are read from the environment (see configs/gateway.yaml)")
	fmt.Println("or supplied per request via the X-Auth-Token / X-Auth-Data headers.")
}
