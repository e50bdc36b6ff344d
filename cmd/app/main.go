package main

import (
	"context"
	"flag"
	"log"
	"os"

	"AlertGate/internal/di"
	"AlertGate/pkg/config"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "config file path, empty for defaults")
	flag.Parse()

	path := *configPath
	if _, err := os.Stat(path); path != "" && os.IsNotExist(err) {
		log.Printf("config %s not found, using defaults", path)
		path = ""
	}

	cfg, err := config.LoadWithEnv(path)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	app, err := di.InitializeApp(cfg)
	if err != nil {
		log.Fatalf("app initialization failed: %v", err)
	}

	if err := app.Run(context.Background()); err != nil {
		log.Printf("app error: %v", err)
		os.Exit(1)
	}
}
