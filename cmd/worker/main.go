package main

import (
	"context"
	"fmt"
	"log"
	"os"

	temporalclient "go.temporal.io/sdk/client"
	temporallog "go.temporal.io/sdk/log"

	"github.com/GilbertoAbrao/wxcode-sub008/internal/app"
	"github.com/GilbertoAbrao/wxcode-sub008/internal/config"
	"github.com/GilbertoAbrao/wxcode-sub008/internal/server"
	temporalmod "github.com/GilbertoAbrao/wxcode-sub008/internal/temporal"
)

func main() {
	configPath := "configs/wxcode.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}
	if _, err := os.Stat(configPath); err != nil {
		configPath = ""
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx := context.Background()
	a, err := app.New(ctx, cfg, os.Stderr)
	if err != nil {
		log.Fatalf("startup: %v", err)
	}
	logger := a.Logger

	temporalmod.SetDependencies(&temporalmod.Dependencies{Service: a.Service})

	c, err := temporalclient.Dial(temporalclient.Options{
		HostPort:  cfg.Temporal.Host,
		Namespace: cfg.Temporal.Namespace,
		Logger:    temporallog.NewStructuredLogger(logger),
	})
	if err != nil {
		_ = a.Close(ctx)
		log.Fatalf("temporal client: %v", err)
	}

	w, err := temporalmod.StartWorker(c, cfg.Temporal.TaskQueue)
	if err != nil {
		c.Close()
		_ = a.Close(ctx)
		log.Fatalf("worker: %v", err)
	}
	logger.Info("worker started", "task_queue", cfg.Temporal.TaskQueue, "store", cfg.Graph.Store)

	health := server.NewHealthServer(&server.HealthConfig{Version: cfg.Health.Version, Logger: logger})
	health.RegisterCheck("graph", server.GraphStoreChecker(cfg.Graph.Store, a.Store.Ping))
	health.RegisterCheck("artifacts", server.ArtifactSourceChecker(cfg.Artifacts.Source, a.Artifacts.Ping))
	health.RegisterCheck("temporal", server.TemporalHealthChecker(func(ctx context.Context) error {
		_, err := c.CheckHealth(ctx, &temporalclient.CheckHealthRequest{})
		return err
	}))

	// Metrics get their own listener when configured apart from health.
	var metrics *server.HealthServer
	if cfg.Metrics.Addr == "" || cfg.Metrics.Addr == cfg.Health.Addr {
		health.Mount("/metrics", a.Metrics.Handler())
	} else {
		metrics = server.NewHealthServer(&server.HealthConfig{Logger: logger})
		metrics.Mount("/metrics", a.Metrics.Handler())
	}

	shutdown := server.NewShutdownHandler(&server.ShutdownConfig{Logger: logger})
	shutdown.RegisterHook("health-server", server.PriorityHTTP, health.Shutdown)
	if metrics != nil {
		shutdown.RegisterHook("metrics-server", server.PriorityHTTP, metrics.Shutdown)
	}
	shutdown.RegisterHook("temporal-worker", server.PriorityWorker, func(context.Context) error {
		w.Stop()
		c.Close()
		return nil
	})
	shutdown.RegisterHook("components", server.PriorityStore, a.Close)
	shutdown.Start()

	serve := func(name string, s *server.HealthServer, addr string) {
		if err := s.ListenAndServe(addr); err != nil {
			logger.Error("server failed", "server", name, "addr", addr, "error", err)
			shutdown.Shutdown()
		}
	}
	go serve("health", health, cfg.Health.Addr)
	if metrics != nil {
		go serve("metrics", metrics, cfg.Metrics.Addr)
	}
	health.SetReady(true)

	shutdown.Wait()
	fmt.Println("Worker stopped")
}
