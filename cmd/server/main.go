package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	"energy-ingest/internal/assembler"
	"energy-ingest/internal/cache"
	"energy-ingest/internal/config"
	"energy-ingest/internal/handlers"
	"energy-ingest/internal/ingest"
	"energy-ingest/internal/metrics"
	"energy-ingest/internal/schema"
	"energy-ingest/internal/sink/influx"
	"energy-ingest/internal/transport/mqtt"
	"energy-ingest/internal/transport/natsin"
	"energy-ingest/internal/translate"
)

func main() {
	configPath := pflag.String("config", "", "path to YAML config file (environment variables override it)")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	level, _ := cfg.SlogLevel()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	logger.Info("Starting energy telemetry ingestion service...")

	// Схемы и правила загружаются один раз
	registry, err := schema.LoadRegistry(cfg.SchemaDir, cfg.RulesDir, logger)
	if err != nil {
		logger.Error("Failed to load schema registry", "error", err)
		os.Exit(1)
	}
	logger.Info("Schema registry loaded", "device_types", registry.Types())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Хранилище окон, записей и снимков за день
	var (
		store      assembler.Store
		redisCache *cache.RedisCache
		sinks      ingest.MultiSink
		contexts   ingest.ContextProvider = ingest.NopContext{}
	)
	if cfg.Redis.Addr != "" {
		redisCache, err = cache.NewRedisCache(ctx, cache.Options{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			WindowTTL: cfg.Assembler.WindowTTL,
			RecordTTL: cfg.Redis.RecordRetention,
		})
		if err != nil {
			logger.Error("Failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		defer redisCache.Close()
		logger.Info("Connected to Redis", "addr", cfg.Redis.Addr)

		store = redisCache
		contexts = redisCache
		sinks = append(sinks, redisCache)
	} else {
		memoryStore := assembler.NewMemoryStore(cfg.Assembler.WindowTTL)
		go memoryStore.Run(ctx, cfg.Assembler.SweepInterval)
		store = memoryStore
		sinks = append(sinks, ingest.LogSink{Logger: logger})
		logger.Info("Redis not configured, using in-memory windows and log sink")
	}

	if cfg.Influx.URL != "" {
		influxSink := influx.New(cfg.Influx.URL, cfg.Influx.Token, cfg.Influx.Org, cfg.Influx.Bucket, cfg.Influx.Measurement)
		defer influxSink.Close()
		sinks = append(sinks, influxSink)
		logger.Info("InfluxDB sink enabled", "url", cfg.Influx.URL, "bucket", cfg.Influx.Bucket)
	}

	asm := assembler.New(cfg.AssemblerSettings(), store, logger)
	translator := translate.NewTranslator(registry, logger)

	pipeline := ingest.New(cfg.PipelineSettings(), asm, translator, contexts, sinks, logger)
	pipeline.Start(ctx)
	logger.Info("Pipeline started", "workers", cfg.Pipeline.Workers, "queue_size", cfg.Pipeline.QueueSize)

	// Транспорты устройств
	var mqttSub *mqtt.Subscriber
	if cfg.MQTT.Broker != "" {
		mqttSub = mqtt.NewSubscriber(mqtt.Options{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
			Topics:   cfg.MQTT.Topics,
			QoS:      byte(cfg.MQTT.QoS),
		}, pipeline, logger)
		if err := mqttSub.Start(ctx); err != nil {
			logger.Error("Failed to connect to MQTT broker", "error", err)
			os.Exit(1)
		}
	}

	var natsSub *natsin.Subscriber
	if cfg.NATS.URL != "" {
		natsSub = natsin.NewSubscriber(cfg.NATS.URL, cfg.NATS.Subject, pipeline, logger)
		if err := natsSub.Start(); err != nil {
			logger.Error("Failed to connect to NATS", "error", err)
			os.Exit(1)
		}
	}

	// Инициализация HTTP handlers
	handler := handlers.NewHandler(pipeline, redisCache, registry)

	// Настройка HTTP router
	mux := http.NewServeMux()

	// API endpoints
	mux.HandleFunc("/ingest", handler.Ingest)
	mux.HandleFunc("/ingest/batch", handler.BatchIngest)
	mux.HandleFunc("/records", handler.GetRecords)
	mux.HandleFunc("/health", handler.HealthCheck)
	mux.HandleFunc("/stats", handler.GetStats)

	// Prometheus metrics endpoint
	mux.Handle("/prometheus", promhttp.Handler())

	// HTTP сервер
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		logger.Info("Server listening", "port", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	// Периодическое обновление метрик
	go updateMetrics(ctx, pipeline, store, logger)

	// Ожидание сигнала завершения
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}

	// Сначала транспорты, затем дочитываем очереди
	if mqttSub != nil {
		mqttSub.Stop()
	}
	if natsSub != nil {
		natsSub.Stop()
	}
	pipeline.Stop()
	cancel()

	logger.Info("Server stopped gracefully")
}

// updateMetrics периодически обновляет метрики
func updateMetrics(ctx context.Context, pipeline *ingest.Pipeline, store assembler.Store, logger *slog.Logger) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		stats := pipeline.GetStats()
		if queueSize, ok := stats["queue_size"].(int); ok {
			metrics.QueueSize.Set(float64(queueSize))
		}

		windows, err := store.Len(ctx)
		if err != nil {
			logger.Warn("Failed to count open windows", "error", err)
			continue
		}
		metrics.ActiveWindows.Set(float64(windows))
	}
}
