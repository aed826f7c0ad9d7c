package main

import (
	"context"
	"fmt"
	"os"

	"github.com/epsniff/runfactory/pkg/config"
	"github.com/epsniff/runfactory/pkg/server"
	"github.com/epsniff/runfactory/pkg/workerstate"
	"go.uber.org/zap"
)

func main() {

	var cfg = zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	logger, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	args, err := config.ParseArgs(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(2)
	}

	rcfg, err := config.LoadConfig(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration errors - %s\n", err)
		os.Exit(1)
	}
	logger = logger.Named(rcfg.ID())

	srv, err := server.New(rcfg, workerstate.DefaultsFromEnv(), logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error configuring node: %s", err)
		os.Exit(1)
	}
	if err := srv.Serve(context.Background()); err != nil {
		os.Exit(-1)
	}
}
