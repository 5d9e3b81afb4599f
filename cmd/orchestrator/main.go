// Command orchestrator runs the index orchestrator: a consumer of the
// index-document topic that drives the parse/redact/chunk/embed/index
// pipeline to completion, per §4.2.
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
	"github.com/ternarybob/taskbroker/internal/brokerclient"
	"github.com/ternarybob/taskbroker/internal/common"
	"github.com/ternarybob/taskbroker/internal/config"
	"github.com/ternarybob/taskbroker/internal/orchestrator"
	"github.com/ternarybob/taskbroker/internal/orchestrator/httpapi"
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
	brokerURL   = flag.String("broker-url", "", "Broker base URL (overrides config)")
	showVersion = flag.Bool("version", false, "Print version information")
)

func init() {
	flag.Var(&configFiles, "config", "Configuration file path (can be specified multiple times)")
	flag.Var(&configFiles, "c", "Configuration file path (shorthand)")
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("orchestrator version %s\n", common.GetVersion())
		os.Exit(0)
	}

	if len(configFiles) == 0 {
		if _, err := os.Stat("orchestrator.toml"); err == nil {
			configFiles = append(configFiles, "orchestrator.toml")
		}
	}

	cfg, err := config.LoadOrchestratorConfig(configFiles...)
	if err != nil {
		arbor.NewLogger().Fatal().Err(err).Msg("failed to load orchestrator configuration")
		os.Exit(1)
	}
	config.ApplyOrchestratorFlagOverrides(cfg, *serverPort, *serverHost, *brokerURL)

	logger := common.SetupLogger(common.LoggingOptions{
		Level:       cfg.Logging.Level,
		Output:      cfg.Logging.Output,
		TimeFormat:  cfg.Logging.TimeFormat,
		LogFileName: "orchestrator.log",
	})
	defer common.Stop()

	logger.Info().Int("port", cfg.Server.Port).Str("broker_url", cfg.BrokerURL).Msg("starting index orchestrator")

	client := brokerclient.New(cfg.BrokerURL, 30*time.Second)

	driver := orchestrator.New(client, logger, orchestrator.Config{
		FanOutConcurrency:  cfg.FanOutConcurrency,
		PollInterval:       parseDurationOrDefault(cfg.PollInterval, 500*time.Millisecond),
		MaxPollInterval:    parseDurationOrDefault(cfg.MaxPollInterval, 5*time.Second),
		DefaultStepTimeout: parseDurationOrDefault(cfg.DefaultStepTimeout, 30*time.Minute),
		DefaultRetryCap:    cfg.DefaultRetryCap,
	})

	srv := httpapi.NewServer(cfg.Server.Host, cfg.Server.Port, driver, logger)
	go func() {
		if err := srv.Start(); err != nil {
			logger.Fatal().Err(err).Msg("orchestrator HTTP server failed")
		}
	}()

	logger.Info().Str("url", fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port)).
		Msg("orchestrator ready - press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info().Msg("shutting down orchestrator")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("orchestrator shutdown failed")
	}
	logger.Info().Msg("orchestrator stopped")
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
