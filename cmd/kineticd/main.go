package main

import (
	"context"
	"flag"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	log "github.com/sirupsen/logrus"

	kinetic "kinetic-client"
	"kinetic-client/config"
	"kinetic-client/internal/diagnostics"
)

var Version = "1.0.0"

// main boots a long-lived client process: load config, start the
// reactor (kinetic.NewClient), dial the configured device, and expose
// the pending-table fill level over HTTP for anything that wants to
// scrape it. It is a reference wiring, not something library callers
// must use — importing kinetic-client and calling NewClient directly
// works just as well embedded in a larger program.
func main() {
	configPath := flag.String("config", "config.yaml", "Path to config file")
	flag.Parse()

	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if cfg.Log.File != "" {
		logFile, err := os.OpenFile(cfg.Log.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err == nil {
			log.SetOutput(logFile)
		}
	}

	log.Infof("starting kinetic client v%s", Version)
	log.Infof("  device: %s:%d", cfg.Device.Host, cfg.Device.Port)
	log.Infof("  diagnostics: %s", cfg.Diagnostics.Addr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("shutting down...")
		cancel()
	}()

	client := kinetic.NewClient(cfg)
	defer client.Close()

	var diagServer *diagnostics.Server
	if cfg.Diagnostics.Addr != "" {
		diagServer = diagnostics.New(cfg.Diagnostics.Addr, client)
		go func() {
			if err := diagServer.ListenAndServe(); err != nil {
				log.WithError(err).Warn("diagnostics server stopped")
			}
		}()
	}

	if cfg.Device.Host != "" {
		addr := net.JoinHostPort(cfg.Device.Host, strconv.Itoa(cfg.Device.Port))
		if _, err := client.Dial(addr, 1, nil); err != nil {
			log.WithError(err).Warn("initial dial to configured device failed; retrying is left to the caller")
		}
	}

	<-ctx.Done()
	if diagServer != nil {
		_ = diagServer.Close()
	}
}
