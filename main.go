package main

import (
	"context"
	"crypto/tls"
	"database/sql"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/IliaW/site-bot/config"
	"github.com/IliaW/site-bot/internal/aws_s3"
	"github.com/IliaW/site-bot/internal/broker"
	cacheClient "github.com/IliaW/site-bot/internal/cache"
	"github.com/IliaW/site-bot/internal/chat"
	"github.com/IliaW/site-bot/internal/completion"
	"github.com/IliaW/site-bot/internal/crawler"
	"github.com/IliaW/site-bot/internal/model"
	"github.com/IliaW/site-bot/internal/persistence"
	"github.com/IliaW/site-bot/internal/ranker"
	"github.com/IliaW/site-bot/internal/ratelimit"
	"github.com/IliaW/site-bot/internal/server"
	"github.com/IliaW/site-bot/internal/service"
	"github.com/IliaW/site-bot/internal/telemetry"
	"github.com/IliaW/site-bot/internal/worker"
	_ "github.com/lib/pq"
	"github.com/lmittmann/tint"
)

var (
	cfg   *config.Config
	db    *sql.DB
	cache cacheClient.CachedClient
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg = config.MustLoad()
	setupLogger()
	metrics := telemetry.SetupMetrics(context.Background(), cfg)
	defer metrics.Close()
	db = setupDatabase()
	defer closeDatabase()
	cache = cacheClient.NewMemcachedClient(cfg.CacheSettings)
	defer cache.Close()
	botRepo := setupMongo(ctx)
	defer botRepo.Close(context.Background())

	completionClient := completion.NewClient(cfg.CompletionSettings, nil)
	if !completionClient.Configured() {
		slog.Warn("completion api key is not set. ranking and bot chat use fallbacks, general chat is off.")
	}
	fetcher := crawler.NewFetcher(cfg.CrawlerSettings, getHttpTransport())
	botService := &service.BotService{
		Extractor: crawler.NewLinkExtractor(fetcher, cfg.CrawlerSettings),
		Ranker:    ranker.NewPathRanker(completionClient, cfg.CompletionSettings, metrics.AppMetrics),
		Scraper:   crawler.NewScraper(fetcher, cfg.CrawlerSettings, metrics.AppMetrics),
		Store:     persistence.NewBotStore(botRepo, cfg.MongoSettings, cfg.CrawlerSettings),
		Cfg:       cfg.CrawlerSettings,
		Metrics:   metrics.AppMetrics,
	}
	if cfg.S3Settings.Enabled {
		botService.Archive = aws_s3.NewS3BucketClient(cfg)
	}
	limiter := ratelimit.NewLimiter(cache, cfg.RateLimitSettings, metrics.AppMetrics)
	responder := chat.NewResponder(completionClient, limiter, persistence.NewMessageRepository(db), cfg,
		metrics.AppMetrics)

	slog.Info("starting application on port "+cfg.Port, slog.String("env", cfg.Env),
		slog.Bool("kafka", cfg.KafkaSettings.Enabled), slog.Bool("s3", cfg.S3Settings.Enabled))

	kafkaWg := &sync.WaitGroup{}
	workerWg := &sync.WaitGroup{}
	var eventChan chan *model.BotCreatedEvent
	var kafkaDLQ *broker.KafkaDLQClient
	if cfg.KafkaSettings.Enabled {
		threadNum := parallelWorkers()
		taskChan := make(chan []byte, threadNum*2)
		eventChan = make(chan *model.BotCreatedEvent, threadNum*2)
		botService.Events = eventChan
		kafkaDLQ = broker.NewKafkaDLQ(cfg.ServiceName, cfg.KafkaSettings.Producer)

		kafkaWg.Add(1)
		kafkaConsumer := broker.NewKafkaConsumer(taskChan, metrics.KafkaConsumerMetrics,
			cfg.KafkaSettings.Consumer, kafkaWg)
		go kafkaConsumer.Run(ctx)

		extractWorker := &worker.ExtractWorker{
			TaskChan: taskChan,
			Builder:  botService,
			DLQ:      kafkaDLQ,
			Wg:       workerWg,
		}
		for i := 0; i < threadNum; i++ {
			workerWg.Add(1)
			go extractWorker.Run(ctx)
		}

		kafkaWg.Add(1)
		kafkaProducer := broker.NewKafkaProducer(eventChan, metrics.KafkaProducerMetrics,
			cfg.KafkaSettings.Producer, kafkaWg)
		go kafkaProducer.Run()
	}

	router, err := server.NewRouter(cfg.Env, cfg.ServerSettings, server.NewHandler(botService, responder))
	if err != nil {
		slog.Error("failed to set up router.", slog.String("err", err.Error()))
		os.Exit(1)
	}
	httpServer := server.NewHttpServer(ctx, cfg.Port, cfg.ServerSettings, router)
	go httpServer.Run()

	// Graceful shutdown.
	// 1. Stop the http server. Running requests are cancelled through their context
	// 2. Stop Kafka Consumer by system call. Close taskChan
	// 3. Wait till all Workers processed all messages from taskChan. Close eventChan
	// 4. Wait till Producer writes all events to Kafka. Stop Kafka Producer
	// 5. Close mongodb, database and memcached connections
	<-ctx.Done()
	slog.Info("stopping server...")
	httpServer.Shutdown()
	if cfg.KafkaSettings.Enabled {
		workerWg.Wait()
		botService.CloseEvents()
		kafkaWg.Wait()
		kafkaDLQ.Close()
	}
	slog.Info("server stopped.")
}

func setupLogger() *slog.Logger {
	envLogLevel := strings.ToLower(cfg.LogLevel)
	var slogLevel slog.Level
	err := slogLevel.UnmarshalText([]byte(envLogLevel))
	if err != nil {
		log.Printf("encountenred log level: '%s'. The package does not support custom log levels", envLogLevel)
		slogLevel = slog.LevelDebug
	}
	log.Printf("slog level overwritten to '%v'", slogLevel)
	slog.SetLogLoggerLevel(slogLevel)

	replaceAttrs := func(groups []string, a slog.Attr) slog.Attr {
		if a.Key == slog.SourceKey {
			source := a.Value.Any().(*slog.Source)
			source.File = filepath.Base(source.File)
		}
		return a
	}

	var logger *slog.Logger
	if strings.ToLower(cfg.LogType) == "json" {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			AddSource:   true,
			Level:       slogLevel,
			ReplaceAttr: replaceAttrs}))
	} else {
		logger = slog.New(tint.NewHandler(os.Stdout, &tint.Options{
			AddSource:   true,
			Level:       slogLevel,
			ReplaceAttr: replaceAttrs,
			NoColor:     cfg.Env != "local"}))
	}

	slog.SetDefault(logger)
	logger.Debug("debug messages are enabled.")

	return logger
}

func setupDatabase() *sql.DB {
	slog.Info("connecting to the database...")
	connStr := fmt.Sprintf("user=%s password=%s host=%s port=%s dbname=%s sslmode=disable",
		cfg.DbSettings.User,
		cfg.DbSettings.Password,
		cfg.DbSettings.Host,
		cfg.DbSettings.Port,
		cfg.DbSettings.Name,
	)
	database, err := sql.Open("postgres", connStr)
	if err != nil {
		slog.Error("failed to establish database connection.", slog.String("err", err.Error()))
		os.Exit(1)
	}
	database.SetConnMaxLifetime(cfg.DbSettings.ConnMaxLifetime)
	database.SetMaxOpenConns(cfg.DbSettings.MaxOpenConns)
	database.SetMaxIdleConns(cfg.DbSettings.MaxIdleConns)

	maxRetry := 6
	for i := 1; i <= maxRetry; i++ {
		slog.Info("ping the database.", slog.String("attempt", fmt.Sprintf("%d/%d", i, maxRetry)))
		pingErr := database.Ping()
		if pingErr != nil {
			slog.Error("not responding.", slog.String("err", pingErr.Error()))
			if i == maxRetry {
				slog.Error("failed to establish database connection.")
				os.Exit(1)
			}
			slog.Info(fmt.Sprintf("wait %d seconds", 5*i))
			time.Sleep(time.Duration(5*i) * time.Second)
		} else {
			break
		}
	}
	slog.Info("connected to the database!")

	return database
}

func closeDatabase() {
	slog.Info("closing database connection.")
	err := db.Close()
	if err != nil {
		slog.Error("failed to close database connection.", slog.String("err", err.Error()))
	}
}

func setupMongo(ctx context.Context) *persistence.MongoBotRepository {
	slog.Info("connecting to mongodb...")
	repo, err := persistence.NewMongoBotRepository(ctx, cfg.MongoSettings)
	if err != nil {
		slog.Error("failed to establish mongodb connection.", slog.String("err", err.Error()))
		os.Exit(1)
	}
	slog.Info("connected to mongodb!")

	return repo
}

// Set -1 to use all available CPUs
func parallelWorkers() int {
	customNumCPU := cfg.WorkerSettings.WorkersNum
	if customNumCPU == -1 {
		return runtime.NumCPU()
	}
	if customNumCPU <= 0 {
		slog.Error("workers number is 0 or less than -1")
		os.Exit(1)
	}

	return customNumCPU
}

// getHttpTransport is used for crawled sites only. With block_private_networks every dial is checked
// against private and loopback ranges after DNS resolution.
func getHttpTransport() *http.Transport {
	dialContext := (&net.Dialer{
		Timeout:   cfg.HttpClientSettings.DialTimeout,
		KeepAlive: cfg.HttpClientSettings.DialKeepAlive,
	}).DialContext
	if cfg.HttpClientSettings.BlockPrivateNetworks {
		dialContext = crawler.GuardedDialContext(dialContext)
	}

	return &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.HttpClientSettings.MaxIdleConnections,
		MaxIdleConnsPerHost: cfg.HttpClientSettings.MaxIdleConnectionsPerHost,
		MaxConnsPerHost:     cfg.HttpClientSettings.MaxConnectionsPerHost,
		IdleConnTimeout:     cfg.HttpClientSettings.IdleConnectionTimeout,
		TLSHandshakeTimeout: cfg.HttpClientSettings.TlsHandshakeTimeout,
		DialContext:         dialContext,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.HttpClientSettings.TlsInsecureSkipVerify,
		},
	}
}
