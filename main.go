package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"spreadflow/aggregator"
	"spreadflow/config"
	"spreadflow/internal/api"
	"spreadflow/internal/channel"
	"spreadflow/internal/symbols"
	"spreadflow/logger"
	"spreadflow/reader"
	"spreadflow/reader/lighter"
	"spreadflow/reader/paradex"
	"spreadflow/reader/vest"
	"spreadflow/writer"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service": cfg.Spreadflow.Name,
		"version": cfg.Spreadflow.Version,
		"venues":  cfg.VenueOrder(),
		"symbols": cfg.Symbols,
	}).Info("starting spreadflow")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.InitCloudWatch(cfg.Storage.S3.Region, "Spreadflow")
		logger.StartReport(ctx, log, 30*time.Second)
	}

	channels := channel.NewChannels(cfg.Channels.QuoteBuffer, cfg.Channels.SinkBuffer)
	defer channels.Close()

	go channels.StartMetricsReporting(ctx, 30*time.Second)

	allow := symbols.NewAllowList(cfg.Symbols)
	cache := aggregator.NewCache(cfg.VenueOrder(), cfg.Aggregator.FreshnessThreshold())
	coordinator := aggregator.NewCoordinator(cfg, channels, cache, allow)

	connectors := make([]*reader.Hybrid, 0, len(cfg.VenueOrder()))
	for _, venue := range cfg.VenueOrder() {
		vcfg, _ := cfg.Venue(venue)
		var adapter reader.Adapter
		switch venue {
		case "VEST":
			adapter = vest.NewAdapter(vcfg, cfg.Reader.Timeout())
		case "LIGHTER":
			adapter = lighter.NewAdapter(vcfg, cfg.Reader.Timeout())
		case "PARADEX":
			adapter = paradex.NewAdapter(vcfg, cfg.Reader.Timeout())
		}
		connectors = append(connectors, reader.NewHybrid(cfg, vcfg, adapter, allow, channels))
	}

	var spreadWriter *writer.SpreadWriter
	if cfg.Storage.S3.Enabled {
		spreadWriter, err = writer.NewSpreadWriter(cfg, channels.Spreads)
		if err != nil {
			log.WithError(err).Error("failed to create spread writer")
			os.Exit(1)
		}
	} else {
		log.WithComponent("main").Info("S3 storage disabled; spread persistence off")
	}

	var kafkaWriter *writer.KafkaWriter
	if cfg.Storage.Kafka.Enabled {
		kafkaWriter, err = writer.NewKafkaWriter(cfg, channels.Snapshots)
		if err != nil {
			log.WithError(err).Error("failed to create kafka writer")
			os.Exit(1)
		}
	} else {
		log.WithComponent("main").Info("kafka disabled; snapshot broadcast off")
	}

	alertWriter := writer.NewAlertWriter(cfg, channels.Alerts)

	if err := coordinator.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start coordinator")
		os.Exit(1)
	}

	var wg sync.WaitGroup
	for _, conn := range connectors {
		wg.Add(1)
		go func(h *reader.Hybrid) {
			defer wg.Done()
			if err := h.Start(ctx); err != nil {
				log.WithError(err).Warn("connector failed to start")
			}
		}(conn)
	}

	if spreadWriter != nil {
		if err := spreadWriter.Start(ctx); err != nil {
			log.WithError(err).Warn("spread writer failed to start")
		}
	}
	if kafkaWriter != nil {
		if err := kafkaWriter.Start(ctx); err != nil {
			log.WithError(err).Warn("kafka writer failed to start")
		}
	}
	if err := alertWriter.Start(ctx); err != nil {
		log.WithError(err).Warn("alert writer failed to start")
	}

	statusProviders := make([]api.StatusProvider, 0, len(connectors))
	for _, conn := range connectors {
		statusProviders = append(statusProviders, conn)
	}
	apiServer := api.NewServer(cfg.API, cache, statusProviders)
	if apiServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := apiServer.Run(ctx); err != nil {
				log.WithError(err).Warn("api server exited with error")
			}
		}()
	}

	time.Sleep(2 * time.Second)
	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	log.Info("starting graceful shutdown")
	cancel()

	log.Info("stopping connectors")
	for _, conn := range connectors {
		conn.Stop()
	}

	log.Info("stopping coordinator")
	coordinator.Stop()

	if spreadWriter != nil {
		log.Info("stopping spread writer")
		spreadWriter.Stop()
	}
	if kafkaWriter != nil {
		log.Info("stopping kafka writer")
		kafkaWriter.Stop()
	}
	log.Info("stopping alert writer")
	alertWriter.Stop()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("graceful shutdown completed")
	case <-time.After(30 * time.Second):
		log.Warn("graceful shutdown timeout exceeded")
	}

	log.Info("spreadflow stopped")
}
