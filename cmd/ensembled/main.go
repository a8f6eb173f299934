// Command ensembled runs the device session coordination daemon: the
// device gateway, the shared coordination store, and the admin control
// socket.
package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"ensemble/internal/config"
	"ensemble/internal/daemon"
	"ensemble/internal/ipc"
	"ensemble/internal/logging"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, _, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}

	d, err := daemon.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("create daemon", logging.Error(err))
		return
	}
	defer d.Close()

	ipcServer, err := ipc.NewServer(ctx, cfg.SocketPath(), d, logger)
	if err != nil {
		logger.Error("start ipc server", logging.Error(err))
		return
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	if err := d.Start(ctx); err != nil {
		logger.Error("daemon start", logging.Error(err))
		return
	}

	<-ctx.Done()
	logger.Info("ensembled shutting down")
}
