package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/Murrman25/tipoff-alerts-sub000/internal/budget"
	"github.com/Murrman25/tipoff-alerts-sub000/internal/config"
	"github.com/Murrman25/tipoff-alerts-sub000/internal/eventcache"
	"github.com/Murrman25/tipoff-alerts-sub000/internal/ingester"
	"github.com/Murrman25/tipoff-alerts-sub000/internal/monitor"
	"github.com/Murrman25/tipoff-alerts-sub000/internal/oddsapi"
	"github.com/Murrman25/tipoff-alerts-sub000/internal/planner"
	"github.com/Murrman25/tipoff-alerts-sub000/internal/shared"
	"github.com/Murrman25/tipoff-alerts-sub000/internal/stream"
)

func main() {
	_ = godotenv.Load()

	cfg := &config.IngesterConfig{}
	flag.StringVar(&cfg.RedisAddr, "redis-addr", shared.GetEnvOrDefault("REDIS_ADDR", "localhost:6379"), "Redis server address")
	flag.StringVar(&cfg.VendorBaseURL, "vendor-base-url", shared.GetEnvOrDefault("VENDOR_BASE_URL", "https://api.sportsgameodds.com/v2"), "Vendor odds API base URL")
	flag.StringVar(&cfg.VendorAPIKey, "vendor-api-key", os.Getenv("VENDOR_API_KEY"), "Vendor odds API key")
	flag.StringVar(&cfg.Leagues, "leagues", shared.GetEnvOrDefault("LEAGUES", "NBA"), "Leagues to track (comma-separated)")
	flag.StringVar(&cfg.Teams, "teams", os.Getenv("TEAMS"), "Teams to track (comma-separated, optional)")
	flag.StringVar(&cfg.LiveBookmakers, "live-bookmakers", os.Getenv("LIVE_BOOKMAKERS"), "Bookmaker override for live polls (comma-separated)")
	flag.StringVar(&cfg.ColdBookmakers, "cold-bookmakers", os.Getenv("COLD_BOOKMAKERS"), "Bookmaker override for pregame polls (comma-separated)")
	flag.IntVar(&cfg.RequestsPerMinute, "requests-per-minute", 60, "Vendor request budget per minute")
	flag.IntVar(&cfg.MaxEventsPerRequest, "max-events-per-request", 10, "Max event IDs batched into one vendor request")
	flag.IntVar(&cfg.MaxTracked, "max-tracked", ingester.DefaultMaxTracked, "Max events tracked per cycle")
	flag.DurationVar(&cfg.CycleInterval, "cycle-interval", ingester.DefaultCycleInterval, "Time between ingestion cycles")
	flag.DurationVar(&cfg.DiscoveryInterval, "discovery-interval", ingester.DefaultDiscoveryInterval, "Time between league discovery fetches")
	flag.Parse()

	logLevel := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "DEBUG" || os.Getenv("LOG_LEVEL") == "debug" {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	slog.Info("Starting ingestion worker",
		"redis_addr", cfg.RedisAddr,
		"vendor_base_url", cfg.VendorBaseURL,
		"leagues", cfg.Leagues,
		"requests_per_minute", cfg.RequestsPerMinute,
		"cycle_interval", cfg.CycleInterval,
	)

	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		slog.Info("Received shutdown signal, shutting down gracefully...")
		cancel()
	}()

	slog.Info("Connecting to Redis")
	redisClient, err := shared.ConnectRedis(ctx, cfg.RedisAddr)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	slog.Info("Successfully connected to Redis")

	cache := eventcache.New(redisClient)
	schedule := planner.NewSchedule(redisClient)
	b := budget.PerMinute(cfg.RequestsPerMinute)
	p := planner.New(b, schedule, cfg.MaxEventsPerRequest, slog.Default())
	vendor := oddsapi.NewClient(cfg.VendorBaseURL, cfg.VendorAPIKey,
		oddsapi.WithRetry(4, 500*time.Millisecond, 10*time.Second),
	)
	producer := stream.NewProducer(redisClient)

	collector := monitor.NewCollector("ingester", redisClient, nil, slog.Default())
	collector.Start(ctx)
	defer collector.Stop()

	worker := ingester.New(vendor, p, schedule, cache, b, producer, ingester.Options{
		Leagues:           config.SplitList(cfg.Leagues),
		Teams:             config.SplitList(cfg.Teams),
		LiveBookmakers:    config.SplitList(cfg.LiveBookmakers),
		ColdBookmakers:    config.SplitList(cfg.ColdBookmakers),
		CycleInterval:     cfg.CycleInterval,
		DiscoveryInterval: cfg.DiscoveryInterval,
		MaxTracked:        cfg.MaxTracked,
		Sink:              ingester.NewDedupeSink(cache, slog.Default()),
		Counters:          collector,
	})

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		slog.Error("Ingestion worker failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Ingestion worker shut down")
}
