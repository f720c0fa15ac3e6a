package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"gpsdo/internal/config"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "./gpsdo.yaml", "Path to YAML config")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	sigs := make(chan os.Signal, 1)
	for _, s := range []os.Signal{reloadSignal, resyncSignal} {
		if s != nil {
			signal.Notify(sigs, s)
		}
	}
	defer signal.Stop(sigs)

	log.Printf("gpsdo starting config=%s", configPath)
	rt, err := newRuntime(cfg)
	if err != nil {
		log.Fatalf("init failed: %v", err)
	}
	defer rt.Close()

	if err := rt.Run(ctx, sigs); err != nil {
		rt.Close()
		log.Fatalf("gpsdo stopped: %v", err)
	}
	log.Printf("gpsdo stopping")
}
