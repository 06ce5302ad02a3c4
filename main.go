package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"rqbridge/config"
	"rqbridge/datafeed"
	"rqbridge/gateway"
	"rqbridge/internal/channel"
	"rqbridge/logger"
	"rqbridge/models"
	"rqbridge/rqclient"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", config.DefaultPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(config.ResolvePath(*configPath))
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service": cfg.RQBridge.Name,
		"version": cfg.RQBridge.Version,
		"env":     config.AppEnvironment(),
	}).Info("starting rqbridge")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Metrics.CloudWatch.Enabled {
		logger.InitCloudWatch(
			cfg.Metrics.CloudWatch.Region,
			cfg.Metrics.CloudWatch.Namespace,
			cfg.Metrics.CloudWatch.Dashboard,
		)
	}

	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(ctx, log, 30*time.Second)
	}

	events := channel.NewChannels(cfg.Channels.TickBuffer, cfg.Channels.ContractBuffer)
	defer events.Close()

	events.StartMetricsReporting(ctx)

	client := rqclient.New(cfg)
	feed := datafeed.New(cfg, client)
	gw := gateway.New(cfg, gateway.NewClientAPI(client), events)

	// Drain the event channels the way the host platform's engine
	// would; here they just feed the log.
	go consumeContracts(ctx, events, log)
	go consumeTicks(ctx, events, log)

	for _, entry := range cfg.Gateway.Symbols {
		req, ok := parseVTSymbol(entry)
		if !ok {
			log.WithFields(logger.Fields{"symbol": entry}).Warn("skipping malformed gateway symbol")
			continue
		}
		gw.Subscribe(req)
	}

	gw.Connect(ctx)

	if !feed.Init(ctx) {
		log.Warn("datafeed not initialized; historical queries will return empty results")
	}

	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	log.Info("starting graceful shutdown")
	cancel()

	log.Info("stopping gateway")
	gw.Close()

	log.Info("rqbridge stopped")
}

func consumeTicks(ctx context.Context, events *channel.Channels, log *logger.Log) {
	for {
		select {
		case <-ctx.Done():
			return
		case tick, ok := <-events.Ticks:
			if !ok {
				return
			}
			log.WithComponent("events").WithFields(logger.Fields{
				"symbol":   tick.Symbol,
				"exchange": string(tick.Exchange),
				"last":     tick.Last,
				"volume":   tick.Volume,
				"datetime": tick.Datetime.Format(time.RFC3339Nano),
			}).Debug("tick")
		}
	}
}

func consumeContracts(ctx context.Context, events *channel.Channels, log *logger.Log) {
	for {
		select {
		case <-ctx.Done():
			return
		case contract, ok := <-events.Contracts:
			if !ok {
				return
			}
			log.WithComponent("events").WithFields(logger.Fields{
				"symbol":   contract.Symbol,
				"exchange": string(contract.Exchange),
				"product":  string(contract.Product),
			}).Debug("contract")
		}
	}
}

// parseVTSymbol splits "rb2510.SHFE" style entries at the last dot.
func parseVTSymbol(entry string) (models.SubscribeRequest, bool) {
	idx := strings.LastIndex(entry, ".")
	if idx <= 0 || idx == len(entry)-1 {
		return models.SubscribeRequest{}, false
	}
	return models.SubscribeRequest{
		Symbol:   entry[:idx],
		Exchange: models.Exchange(entry[idx+1:]),
	}, true
}
