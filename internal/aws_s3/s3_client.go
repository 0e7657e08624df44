package aws_s3

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	netUrl "net/url"
	"os"

	"github.com/IliaW/site-bot/config"
	"github.com/IliaW/site-bot/internal"
	"github.com/IliaW/site-bot/internal/model"
	awsCfg "github.com/aws/aws-sdk-go-v2/config"
	crd "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	jsoniter "github.com/json-iterator/go"
)

type BucketClient interface {
	WriteBot(context.Context, *model.BotRecord) (string, error)
}

type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput,
		error)
}

type S3BucketClient struct {
	client ObjectPutter
	cfg    *config.S3Config
}

func NewS3BucketClient(cfg *config.Config) *S3BucketClient {
	slog.Info("connecting to s3...")

	c, err := connect(cfg)
	if err != nil {
		slog.Error("failed to connect to s3.", slog.String("err", err.Error()))
		os.Exit(1)
	}

	return &S3BucketClient{
		client: c,
		cfg:    cfg.S3Settings,
	}
}

// WriteBot stores the full bot record as JSON and returns the object key.
func (bc *S3BucketClient) WriteBot(ctx context.Context, bot *model.BotRecord) (string, error) {
	s3Key := bc.key(bot)
	body, err := jsoniter.Marshal(bot)
	if err != nil {
		return "", fmt.Errorf("marshal bot %s: %w", bot.ID, err)
	}

	_, err = bc.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &bc.cfg.BucketName,
		Key:         &s3Key,
		Body:        bytes.NewReader(body),
		ContentType: &contentType,
	})
	if err != nil {
		return "", fmt.Errorf("save bot %s to s3: %w", bot.ID, err)
	}
	slog.Debug("bot saved to s3.", slog.String("key", s3Key))

	return s3Key, nil
}

var contentType = "application/json"

func (bc *S3BucketClient) key(bot *model.BotRecord) string {
	host := "unknown"
	if u, err := netUrl.Parse(bot.WebsiteURL); err == nil && u.Host != "" {
		host = u.Host
	}
	return fmt.Sprintf("%s/%s/%s/%s", bc.cfg.KeyPrefix, host, internal.HashKey(bot.ID), "bot.json")
}

func connect(cfg *config.Config) (*s3.Client, error) {
	s3Config, err := awsCfg.LoadDefaultConfig(context.Background(), awsCfg.WithRegion(cfg.S3Settings.Region))
	if err != nil {
		slog.Error("failed to load s3 config.", slog.String("err", err.Error()))
		return nil, err
	}

	if cfg.Env == "local" {
		s3Config.BaseEndpoint = &cfg.S3Settings.AwsBaseEndpoint // for LocalStack
		s3Config.Credentials = crd.NewStaticCredentialsProvider("test", "test", "")
		// LocalStack only supports path style addressing.
		slog.Warn("test configuration for S3")
		return s3.NewFromConfig(s3Config, func(o *s3.Options) {
			o.UsePathStyle = true
		}), nil
	}

	return s3.NewFromConfig(s3Config), nil
}
