package main

import (
	"fmt"
	"os"

	"microstack/internal/cli"
	"microstack/internal/config"
	"microstack/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log := logging.New(cfg.Logging.Level, cfg.Logging.Format)

	rootCmd := cli.NewRootCmd(cfg, log)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
