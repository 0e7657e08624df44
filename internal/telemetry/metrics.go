package telemetry

import (
	"context"
	"log/slog"
	"os"

	"go.opentelemetry.io/contrib/detectors/aws/ecs"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/IliaW/site-bot/config"
	"github.com/google/uuid"
)

var meter metric.Meter

type MetricsProvider struct {
	KafkaConsumerMetrics *KafkaConsumerMetrics
	KafkaProducerMetrics *KafkaProducerMetrics
	AppMetrics           *AppMetrics
	Close                func()
}

type KafkaConsumerMetrics struct {
	SuccessfullyReadMsgCnt func(count int64)
	FailedReadMsgCnt       func(count int64)
}

type KafkaProducerMetrics struct {
	SuccessfullySendMsgCnt func(count int64)
	FailedSendMsgCnt       func(count int64)
}

type AppMetrics struct {
	BotCreatedCnt        func(count int64)
	BotFailedCnt         func(count int64)
	PageScrapedCnt       func(count int64)
	PageSkippedCnt       func(count int64)
	RankingFallbackCnt   func(count int64)
	ChatAnsweredCnt      func(count int64)
	ChatFallbackCnt      func(count int64)
	ChatRateLimitedCnt   func(count int64)
	ChatFailedCnt        func(count int64)
	RateLimitFailOpenCnt func(count int64)
}

// Noop returns a provider whose counters discard everything. Used when telemetry is off and in tests.
func Noop() *MetricsProvider {
	nop := func(int64) {}
	return &MetricsProvider{
		KafkaConsumerMetrics: &KafkaConsumerMetrics{SuccessfullyReadMsgCnt: nop, FailedReadMsgCnt: nop},
		KafkaProducerMetrics: &KafkaProducerMetrics{SuccessfullySendMsgCnt: nop, FailedSendMsgCnt: nop},
		AppMetrics: &AppMetrics{
			BotCreatedCnt:        nop,
			BotFailedCnt:         nop,
			PageScrapedCnt:       nop,
			PageSkippedCnt:       nop,
			RankingFallbackCnt:   nop,
			ChatAnsweredCnt:      nop,
			ChatFallbackCnt:      nop,
			ChatRateLimitedCnt:   nop,
			ChatFailedCnt:        nop,
			RateLimitFailOpenCnt: nop,
		},
		Close: func() {},
	}
}

func SetupMetrics(ctx context.Context, cfg *config.Config) *MetricsProvider {
	if !cfg.TelemetrySettings.Enabled {
		slog.Info("telemetry is disabled.")
		return Noop()
	}

	r, err := newResource(cfg)
	if err != nil {
		slog.Error("failed to get resource.", slog.String("err", err.Error()))
		os.Exit(1)
	}
	exporter, err := newMetricExporter(ctx, cfg.TelemetrySettings)
	if err != nil {
		slog.Error("failed to get metric exporter.", slog.String("err", err.Error()))
		os.Exit(1)
	}
	meterProvider := newMeterProvider(exporter, *r)
	otel.SetMeterProvider(meterProvider)
	meter = otel.Meter(cfg.ServiceName)

	metricsProvider := &MetricsProvider{
		Close: func() {
			if err := meterProvider.Shutdown(ctx); err != nil {
				slog.Error("failed to shutdown metrics provider.", slog.String("err", err.Error()))
			}
		},
	}

	metricsProvider.KafkaConsumerMetrics = &KafkaConsumerMetrics{
		SuccessfullyReadMsgCnt: counter(ctx, "site-bot.kafka.read.success",
			"The number of extraction tasks that the kafka consumer successfully read"),
		FailedReadMsgCnt: counter(ctx, "site-bot.kafka.read.fail",
			"The number of extraction tasks that the kafka consumer could not read"),
	}
	metricsProvider.KafkaProducerMetrics = &KafkaProducerMetrics{
		SuccessfullySendMsgCnt: counter(ctx, "site-bot.kafka.send.success",
			"The number of bot events that the kafka producer successfully sent"),
		FailedSendMsgCnt: counter(ctx, "site-bot.kafka.send.fail",
			"The number of bot events that the kafka producer could not send"),
	}
	metricsProvider.AppMetrics = &AppMetrics{
		BotCreatedCnt: counter(ctx, "site-bot.bots.created", "The number of persisted bots"),
		BotFailedCnt: counter(ctx, "site-bot.bots.failed",
			"The number of bot creations that failed on extraction or persistence"),
		PageScrapedCnt: counter(ctx, "site-bot.pages.scraped", "The number of pages kept for a bot"),
		PageSkippedCnt: counter(ctx, "site-bot.pages.skipped",
			"The number of pages skipped because of fetch errors or too little text"),
		RankingFallbackCnt: counter(ctx, "site-bot.ranking.fallback",
			"The number of path rankings that used the static default"),
		ChatAnsweredCnt: counter(ctx, "site-bot.chat.answered",
			"The number of chat questions answered by the completion service"),
		ChatFallbackCnt: counter(ctx, "site-bot.chat.fallback",
			"The number of bot chat questions answered with a canned reply"),
		ChatRateLimitedCnt: counter(ctx, "site-bot.chat.rate-limited",
			"The number of general chat questions rejected by the rate limiter"),
		ChatFailedCnt: counter(ctx, "site-bot.chat.fail",
			"The number of general chat questions that failed"),
		RateLimitFailOpenCnt: counter(ctx, "site-bot.rate-limit.fail-open",
			"The number of rate limit checks allowed because the state store was unavailable"),
	}

	return metricsProvider
}

func counter(ctx context.Context, name, description string) func(count int64) {
	c, err := meter.Int64Counter(name, metric.WithDescription(description), metric.WithUnit("{messages}"))
	if err != nil {
		slog.Error("failed to create telemetry counter.", slog.String("name", name),
			slog.String("err", err.Error()))
		os.Exit(1)
	}
	// initialize metrics in DataDog for setup UI
	c.Add(ctx, 0)
	return func(count int64) {
		c.Add(ctx, count)
	}
}

func newResource(cfg *config.Config) (*resource.Resource, error) {
	ecsResourceDetector := ecs.NewResourceDetector()
	ecsResource, err := ecsResourceDetector.Detect(context.Background())
	if err != nil {
		slog.Error("ecs detection failed", slog.String("err", err.Error()))
	}
	mergedResource, err := resource.Merge(ecsResource, resource.Default())
	if err != nil {
		slog.Error("failed to merge resources", slog.String("err", err.Error()))
	}
	keyValue, found := ecsResource.Set().Value("container.id")
	var serviceId string
	if found {
		serviceId = keyValue.AsString()
	} else {
		serviceId = uuid.New().String()
	}
	return resource.Merge(mergedResource,
		resource.NewWithAttributes(semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.DeploymentEnvironment(cfg.Env),
			semconv.ServiceInstanceID(serviceId),
		))
}

func newMetricExporter(ctx context.Context, cfg *config.TelemetryConfig) (sdkmetric.Exporter, error) {
	return otlpmetrichttp.New(ctx,
		otlpmetrichttp.WithEndpoint(cfg.CollectorUrl),
		otlpmetrichttp.WithInsecure())
}

func newMeterProvider(meterExporter sdkmetric.Exporter, resource resource.Resource) *sdkmetric.MeterProvider {
	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(meterExporter)),
		sdkmetric.WithResource(&resource),
	)
	return meterProvider
}
