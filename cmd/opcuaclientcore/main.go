// Package main is the entry point for the OPC UA client core service.
// It initializes all components and manages the application lifecycle.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gopcua/opcua"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nexus-edge/opcua-client-core/internal/clientcore"
	"github.com/nexus-edge/opcua-client-core/internal/config"
	"github.com/nexus-edge/opcua-client-core/internal/diagnostics"
	"github.com/nexus-edge/opcua-client-core/internal/eventbus"
	"github.com/nexus-edge/opcua-client-core/internal/health"
	"github.com/nexus-edge/opcua-client-core/internal/memgraph"
	"github.com/nexus-edge/opcua-client-core/internal/metrics"
	"github.com/nexus-edge/opcua-client-core/pkg/logging"
)

const serviceVersion = "1.0.0"

func main() {
	configPath := flag.String("config", "config.yaml", "path to the client core's YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "opcua-client-core: failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info().Str("version", serviceVersion).Str("env", cfg.Service.Environment).Msg("starting opcua-client-core")

	metricsRegistry := metrics.NewRegistry()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var events *eventbus.Publisher
	if cfg.EventBus.Enabled {
		opts := mqtt.NewClientOptions().AddBroker(cfg.EventBus.BrokerURL).SetClientID(cfg.Service.Name + "-events")
		mqttClient := mqtt.NewClient(opts)
		if token := mqttClient.Connect(); token.WaitTimeout(10*time.Second) && token.Error() != nil {
			logger.Error().Err(token.Error()).Msg("failed to connect event bus MQTT client, continuing without it")
			events = eventbus.NewPublisher(nil, eventbus.Config{TopicPrefix: cfg.EventBus.TopicPrefix}, logger)
		} else {
			events = eventbus.NewPublisher(mqttClient, eventbus.Config{TopicPrefix: cfg.EventBus.TopicPrefix}, logger)
		}
	} else {
		events = eventbus.NewPublisher(nil, eventbus.Config{TopicPrefix: cfg.EventBus.TopicPrefix}, logger)
	}

	rawClient := opcua.NewClient(cfg.Client.ServerURL)

	root := memgraph.NewSubject()
	source := clientcore.NewSource(
		rawClient,
		clientcore.Config{
			RootName:                        cfg.Client.RootName,
			MaximumItemsPerSubscription:     cfg.Client.MaximumItemsPerSubscription,
			ReconnectDelay:                  cfg.Client.ReconnectDelay,
			SessionTimeout:                  cfg.Client.SessionTimeout,
			SessionDisposalTimeout:          cfg.Client.SessionDisposalTimeout,
			SubscriptionHealthCheckInterval: cfg.Client.SubscriptionHealthCheckInterval,
			WriteQueueSize:                  cfg.Client.WriteQueueSize,
			EnableRemoteNodeManagement:      cfg.Client.EnableRemoteNodeManagement,
			ShouldAddDynamicProperties:      cfg.Client.ShouldAddDynamicProperties,
			RecentlyDeletedTTL:              cfg.Client.RecentlyDeletedTTL,
		},
		memgraph.Factory{},
		memgraph.NoStaticPaths{},
		nil,
		nil,
		root,
		metricsRegistry,
		events,
		logger,
	)

	go source.Run(ctx)

	healthChecker := health.NewChecker(source, logger)
	diagReporter := diagnostics.NewReporter(source)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthChecker.HealthHandler)
	mux.HandleFunc("/health/live", healthChecker.LiveHandler)
	mux.HandleFunc("/health/ready", healthChecker.ReadyHandler)
	mux.HandleFunc("/diagnostics", diagReporter.Handler)
	mux.Handle("/metrics", promhttp.HandlerFor(metricsRegistry.Gatherer(), promhttp.HandlerOpts{}))

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      mux,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	go func() {
		logger.Info().Int("port", cfg.HTTP.Port).Msg("starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("HTTP server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("error shutting down HTTP server")
	}

	if err := rawClient.Close(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("error closing OPC UA session during shutdown")
	}

	logger.Info().Msg("opcua-client-core shutdown complete")
}
