package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ducminhle1904/risk-orchestrator/cmd/common"
	"github.com/ducminhle1904/risk-orchestrator/internal/config"
)

func main() {
	flags := common.RegisterCommonFlags()
	checkOnly := flag.Bool("check", false, "Validate the configuration and exit")
	flag.Parse()
	flags.HandleVersion("risk-core")

	cfg, err := config.Load(*flags.ConfigFile, *flags.EnvFile)
	if err != nil {
		common.Fatal("Failed to load config: %v", err)
	}
	if *checkOnly {
		fmt.Printf("✅ %s is valid (executor=%s, storage=%s)\n", *flags.ConfigFile, cfg.Executor, cfg.Storage.Backend)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApp(ctx, cfg)
	if err != nil {
		common.Fatal("Failed to start: %v", err)
	}
	defer app.Close()

	if err := app.Run(ctx); err != nil {
		common.Fatal("Stopped with error: %v", err)
	}
	fmt.Println("👋 risk-core stopped")
}
