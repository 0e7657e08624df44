package config

import (
	"log/slog"
	"os"
	"path"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Env                string            `mapstructure:"env"`
	LogLevel           string            `mapstructure:"log_level"`
	LogType            string            `mapstructure:"log_type"`
	ServiceName        string            `mapstructure:"service_name"`
	Port               string            `mapstructure:"port"`
	Version            string            `mapstructure:"version"`
	ServerSettings     *ServerConfig     `mapstructure:"server"`
	CrawlerSettings    *CrawlerConfig    `mapstructure:"crawler"`
	CompletionSettings *CompletionConfig `mapstructure:"completion"`
	RateLimitSettings  *RateLimitConfig  `mapstructure:"rate_limit"`
	ChatSettings       *ChatConfig       `mapstructure:"chat"`
	SiteSettings       *SiteConfig       `mapstructure:"site"`
	WorkerSettings     *WorkerConfig     `mapstructure:"worker"`
	CacheSettings      *CacheConfig      `mapstructure:"cache"`
	DbSettings         *DatabaseConfig   `mapstructure:"database"`
	MongoSettings      *MongoConfig      `mapstructure:"mongo"`
	KafkaSettings      *KafkaConfig      `mapstructure:"kafka"`
	S3Settings         *S3Config         `mapstructure:"s3"`
	TelemetrySettings  *TelemetryConfig  `mapstructure:"telemetry"`
	HttpClientSettings *HttpClientConfig `mapstructure:"http_client"`
}

type ServerConfig struct {
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	TrustedProxies  []string      `mapstructure:"trusted_proxies"`
	TrustedPlatform string        `mapstructure:"trusted_platform"`
}

type CrawlerConfig struct {
	UserAgent            string        `mapstructure:"user_agent"`
	FetchTimeout         time.Duration `mapstructure:"fetch_timeout"`
	PageDelay            time.Duration `mapstructure:"page_delay"`
	MaxCandidates        int           `mapstructure:"max_candidates"`
	MaxExtractPaths      int           `mapstructure:"max_extract_paths"`
	MaxContentLength     int           `mapstructure:"max_content_length"`
	MaxPageContentLength int           `mapstructure:"max_page_content_length"`
	MinPageTextLength    int           `mapstructure:"min_page_text_length"`
}

type CompletionConfig struct {
	ApiUrl           string        `mapstructure:"api_url"`
	ApiKey           string        `mapstructure:"api_key"`
	Model            string        `mapstructure:"model"`
	Timeout          time.Duration `mapstructure:"timeout"`
	Retries          int           `mapstructure:"retries"`
	RankMaxTokens    int           `mapstructure:"rank_max_tokens"`
	RankTemperature  float64       `mapstructure:"rank_temperature"`
	BotMaxTokens     int           `mapstructure:"bot_max_tokens"`
	GeneralMaxTokens int           `mapstructure:"general_max_tokens"`
	ChatTemperature  float64       `mapstructure:"chat_temperature"`
}

type RateLimitConfig struct {
	MaxMessages int           `mapstructure:"max_messages"`
	Window      time.Duration `mapstructure:"window"`
}

type ChatConfig struct {
	BotContextLimit int `mapstructure:"bot_context_limit"`
}

// SiteConfig is the read-only description of the agency website. It feeds the general chat prompt.
type SiteConfig struct {
	Name        string          `mapstructure:"name"`
	Description string          `mapstructure:"description"`
	Tagline     string          `mapstructure:"tagline"`
	Services    []ServiceConfig `mapstructure:"services"`
}

type ServiceConfig struct {
	Title       string   `mapstructure:"title"`
	Description string   `mapstructure:"description"`
	Features    []string `mapstructure:"features"`
}

type WorkerConfig struct {
	WorkersNum int `mapstructure:"workers_num"`
}

type CacheConfig struct {
	Servers      []string      `mapstructure:"servers"`
	TtlRateLimit time.Duration `mapstructure:"ttl_rate_limit"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            string        `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
}

type MongoConfig struct {
	Uri            string        `mapstructure:"uri"`
	Database       string        `mapstructure:"database"`
	BotsCollection string        `mapstructure:"bots_collection"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	QueryTimeout   time.Duration `mapstructure:"query_timeout"`
	BotCacheTtl    time.Duration `mapstructure:"bot_cache_ttl"`
}

type KafkaConfig struct {
	Enabled  bool            `mapstructure:"enabled"`
	Producer *ProducerConfig `mapstructure:"producer"`
	Consumer *ConsumerConfig `mapstructure:"consumer"`
}

type ProducerConfig struct {
	Addr                []string      `mapstructure:"addr"`
	WriteTopicName      string        `mapstructure:"write_topic_name"`
	DeadLetterTopicName string        `mapstructure:"dlq_topic_name"`
	MaxAttempts         int           `mapstructure:"max_attempts"`
	BatchSize           int           `mapstructure:"batch_size"`
	BatchTimeout        time.Duration `mapstructure:"batch_timeout"`
	ReadTimeout         time.Duration `mapstructure:"read_timeout"`
	WriteTimeout        time.Duration `mapstructure:"write_timeout"`
	RequiredAsks        int           `mapstructure:"required_acks"`
	Async               bool          `mapstructure:"async"`
}

type ConsumerConfig struct {
	ReadTopicName    string        `mapstructure:"read_topic_name"`
	Brokers          []string      `mapstructure:"brokers"`
	GroupID          string        `mapstructure:"group_id"`
	MaxWait          time.Duration `mapstructure:"max_wait"`
	ReadBatchTimeout time.Duration `mapstructure:"read_batch_timeout"`
	QueueCapacity    int           `mapstructure:"queue_capacity"`
	MaxBytes         int           `mapstructure:"max_bytes"`
	CommitInterval   time.Duration `mapstructure:"commit_interval"`
}

type S3Config struct {
	Enabled         bool   `mapstructure:"enabled"`
	AwsBaseEndpoint string `mapstructure:"aws_base_endpoint"`
	Region          string `mapstructure:"region"`
	BucketName      string `mapstructure:"bucket_name"`
	KeyPrefix       string `mapstructure:"key_prefix"`
}

type TelemetryConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	CollectorUrl string `mapstructure:"collector_url"`
}

type HttpClientConfig struct {
	MaxIdleConnections        int           `mapstructure:"max_idle_connections"`
	MaxIdleConnectionsPerHost int           `mapstructure:"max_idle_connections_per_host"`
	MaxConnectionsPerHost     int           `mapstructure:"max_connections_per_host"`
	IdleConnectionTimeout     time.Duration `mapstructure:"idle_connection_timeout"`
	TlsHandshakeTimeout       time.Duration `mapstructure:"tls_handshake_timeout"`
	DialTimeout               time.Duration `mapstructure:"dial_timeout"`
	DialKeepAlive             time.Duration `mapstructure:"dial_keep_alive"`
	TlsInsecureSkipVerify     bool          `mapstructure:"tls_insecure_skip_verify"`
	BlockPrivateNetworks      bool          `mapstructure:"block_private_networks"`
}

func MustLoad() *Config {
	viper.AddConfigPath(path.Join("."))
	viper.SetConfigName("config")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	setDefaults()
	_ = viper.BindEnv("completion.api_key", "COMPLETION_API_KEY", "XAI_API_KEY", "GROK_API_KEY")

	err := viper.ReadInConfig()
	if err != nil {
		slog.Error("can't initialize config file.", slog.String("err", err.Error()))
		os.Exit(1)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		slog.Error("error unmarshalling viper config.", slog.String("err", err.Error()))
		os.Exit(1)
	}

	return &cfg
}

// Defaults reproduce the documented behaviour of the ingestion pipeline; config.yaml only needs to
// override what differs per environment.
func setDefaults() {
	viper.SetDefault("service_name", "site-bot")
	viper.SetDefault("port", "8080")
	viper.SetDefault("log_level", "info")

	// An extraction may fetch max_extract_paths pages sequentially, so writes need a long timeout.
	viper.SetDefault("server.read_timeout", 30*time.Second)
	viper.SetDefault("server.write_timeout", 5*time.Minute)
	viper.SetDefault("server.idle_timeout", 2*time.Minute)
	viper.SetDefault("server.shutdown_timeout", 30*time.Second)

	viper.SetDefault("crawler.user_agent", "Mozilla/5.0 (compatible; BotAnalyzer/1.0)")
	viper.SetDefault("crawler.fetch_timeout", 10*time.Second)
	viper.SetDefault("crawler.page_delay", 800*time.Millisecond)
	viper.SetDefault("crawler.max_candidates", 20)
	viper.SetDefault("crawler.max_extract_paths", 20)
	viper.SetDefault("crawler.max_content_length", 500_000)
	viper.SetDefault("crawler.max_page_content_length", 50_000)
	viper.SetDefault("crawler.min_page_text_length", 100)

	viper.SetDefault("completion.api_url", "https://api.x.ai/v1")
	viper.SetDefault("completion.model", "grok-2-1212")
	viper.SetDefault("completion.timeout", 30*time.Second)
	viper.SetDefault("completion.retries", 0)
	viper.SetDefault("completion.rank_max_tokens", 100)
	viper.SetDefault("completion.rank_temperature", 0.1)
	viper.SetDefault("completion.bot_max_tokens", 1024)
	viper.SetDefault("completion.general_max_tokens", 150)
	viper.SetDefault("completion.chat_temperature", 0.7)

	viper.SetDefault("rate_limit.max_messages", 10)
	viper.SetDefault("rate_limit.window", 24*time.Hour)

	viper.SetDefault("chat.bot_context_limit", 50_000)

	viper.SetDefault("worker.workers_num", 2)
	viper.SetDefault("cache.ttl_rate_limit", 48*time.Hour)
	viper.SetDefault("mongo.bots_collection", "bots")
	viper.SetDefault("mongo.connect_timeout", 10*time.Second)
	viper.SetDefault("mongo.query_timeout", 5*time.Second)
	viper.SetDefault("mongo.bot_cache_ttl", time.Hour)
}
