// Command broker runs the task broker: durable task store, consumer
// registry, delivery loop, health prober, and reaper, per §4.1.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/taskbroker/internal/broker"
	"github.com/ternarybob/taskbroker/internal/broker/httpapi"
	"github.com/ternarybob/taskbroker/internal/common"
	"github.com/ternarybob/taskbroker/internal/config"
	"github.com/ternarybob/taskbroker/internal/models"
	"github.com/ternarybob/taskbroker/internal/storage/badger"
)

type configPaths []string

func (c *configPaths) String() string { return fmt.Sprintf("%v", *c) }
func (c *configPaths) Set(value string) error {
	*c = append(*c, value)
	return nil
}

var (
	configFiles configPaths
	serverPort  = flag.Int("port", 0, "Server port (overrides config)")
	serverHost  = flag.String("host", "", "Server host (overrides config)")
	showVersion = flag.Bool("version", false, "Print version information")
)

func init() {
	flag.Var(&configFiles, "config", "Configuration file path (can be specified multiple times)")
	flag.Var(&configFiles, "c", "Configuration file path (shorthand)")
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("taskbroker version %s\n", common.GetVersion())
		os.Exit(0)
	}

	if len(configFiles) == 0 {
		if _, err := os.Stat("broker.toml"); err == nil {
			configFiles = append(configFiles, "broker.toml")
		}
	}

	cfg, err := config.LoadBrokerConfig(configFiles...)
	if err != nil {
		arbor.NewLogger().Fatal().Err(err).Msg("failed to load broker configuration")
		os.Exit(1)
	}
	config.ApplyBrokerFlagOverrides(cfg, *serverPort, *serverHost)

	logger := common.SetupLogger(common.LoggingOptions{
		Level:       cfg.Logging.Level,
		Output:      cfg.Logging.Output,
		TimeFormat:  cfg.Logging.TimeFormat,
		LogFileName: "broker.log",
	})
	defer common.Stop()

	logger.Info().Int("port", cfg.Server.Port).Str("host", cfg.Server.Host).Msg("starting task broker")

	db, err := badger.Open(logger, badger.Options{
		Path:           cfg.Storage.Badger.Path,
		ResetOnStartup: cfg.Storage.Badger.ResetOnStartup,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open badger store")
	}
	defer db.Close()

	tasks := badger.NewTaskStore(db, logger)
	consumers := badger.NewConsumerStore(db, logger)

	for _, seed := range cfg.Consumers {
		if err := consumers.Upsert(&models.Consumer{
			Topic:       seed.Topic,
			EndpointURL: seed.EndpointURL,
			HealthURL:   seed.HealthURL,
			Ready:       true,
			LastSeenAt:  time.Now(),
		}); err != nil {
			logger.Warn().Err(err).Str("topic", seed.Topic).Msg("failed to seed consumer")
		}
	}

	processingTimeout := parseDurationOrDefault(cfg.Delivery.ProcessingTimeout, time.Hour)
	service := broker.NewService(tasks, consumers, logger, processingTimeout)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deliveryLoop := broker.NewDeliveryLoop(tasks, consumers, logger, broker.DeliveryConfig{
		PollInterval:      parseDurationOrDefault(cfg.Delivery.PollInterval, 500*time.Millisecond),
		Concurrency:       cfg.Delivery.Concurrency,
		AttemptCeiling:    cfg.Delivery.AttemptCeiling,
		BaseBackoff:       parseDurationOrDefault(cfg.Delivery.BaseBackoff, time.Second),
		MaxBackoff:        parseDurationOrDefault(cfg.Delivery.MaxBackoff, 5*time.Minute),
		RequestTimeout:    parseDurationOrDefault(cfg.Delivery.RequestTimeout, 10*time.Second),
		ProcessingTimeout: processingTimeout,
		SelfBaseURL:       fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port),
	})
	go deliveryLoop.Run(ctx)

	healthLoop := broker.NewHealthProbeLoop(consumers, logger, broker.HealthProbeConfig{
		Interval:         parseDurationOrDefault(cfg.Health.Interval, 15*time.Second),
		Timeout:          parseDurationOrDefault(cfg.Health.Timeout, 5*time.Second),
		FailureThreshold: cfg.Health.FailureThreshold,
	})
	go healthLoop.Run(ctx)

	reaper := broker.NewReaper(service, logger, broker.ReaperConfig{
		Interval: parseDurationOrDefault(cfg.Reaper.Interval, time.Minute),
		Schedule: cfg.Reaper.Schedule,
	})
	go reaper.Run(ctx)

	srv := httpapi.NewServer(cfg.Server.Host, cfg.Server.Port, service, logger)
	go func() {
		if err := srv.Start(); err != nil {
			logger.Fatal().Err(err).Msg("broker HTTP server failed")
		}
	}()

	logger.Info().Str("url", fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port)).
		Msg("broker ready - press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info().Msg("shutting down broker")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("broker shutdown failed")
	}
	logger.Info().Msg("broker stopped")
}

func parseDurationOrDefault(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}
