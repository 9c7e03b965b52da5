// Command formvox-mcp exposes the Form 100 dictation tools to MCP clients
// over stdio.
//
// Without -config only the stateless tools are offered. With a config whose
// storage section points at the service's database, form_record_get reads
// the records saved by formvox.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/formvox/internal/app"
	"github.com/MrWong99/formvox/internal/config"
	"github.com/MrWong99/formvox/internal/mcptools"
	"github.com/MrWong99/formvox/internal/store"
)

var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "optional YAML configuration; enables form_record_get")
	flag.Parse()

	// stdout carries the protocol, so logs go to stderr.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var records store.Store
	if *configPath != "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "formvox-mcp: %v\n", err)
			return 1
		}
		if cfg.Storage.Driver == config.StorageMemory {
			slog.Warn("memory storage holds no saved records, form_record_get disabled")
		} else {
			a, err := app.New(ctx, cfg, nil)
			if err != nil {
				fmt.Fprintf(os.Stderr, "formvox-mcp: %v\n", err)
				return 1
			}
			defer func() { _ = a.Shutdown(context.Background()) }()
			records = a.Store()
		}
	}

	server := mcptools.NewServer(mcptools.Config{Records: records}, version)
	if err := server.Run(ctx, &mcp.StdioTransport{}); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "formvox-mcp: %v\n", err)
		return 1
	}
	return 0
}
