package persistence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/IliaW/site-bot/config"
	"github.com/IliaW/site-bot/internal/model"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// BotRepository is the document store behind BotStore. GetBot returns nil, nil for an unknown id.
type BotRepository interface {
	SaveBot(context.Context, *model.BotRecord) error
	GetBot(context.Context, string) (*model.BotRecord, error)
}

type MongoBotRepository struct {
	client *mongo.Client
	bots   *mongo.Collection
	cfg    *config.MongoConfig
}

func NewMongoBotRepository(ctx context.Context, cfg *config.MongoConfig) (*MongoBotRepository, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.Uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("can't ping mongodb: %w", err)
	}

	r := &MongoBotRepository{
		client: client,
		bots:   client.Database(cfg.Database).Collection(cfg.BotsCollection),
		cfg:    cfg,
	}
	r.createIndexes(ctx)

	return r, nil
}

func (r *MongoBotRepository) createIndexes(ctx context.Context) {
	indexModel := mongo.IndexModel{
		Keys: bson.D{{Key: "metadata.created_at", Value: -1}},
	}
	if _, err := r.bots.Indexes().CreateOne(ctx, indexModel); err != nil {
		slog.Warn("failed to create bots index.", slog.String("err", err.Error()))
	}
}

// SaveBot inserts the record once. Bots are immutable, so an existing id is an error.
func (r *MongoBotRepository) SaveBot(ctx context.Context, bot *model.BotRecord) error {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.QueryTimeout)
	defer cancel()

	if _, err := r.bots.InsertOne(ctx, bot); err != nil {
		return fmt.Errorf("insert bot %s: %w", bot.ID, err)
	}
	slog.Debug("bot saved to mongodb.", slog.String("id", bot.ID))

	return nil
}

func (r *MongoBotRepository) GetBot(ctx context.Context, id string) (*model.BotRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.QueryTimeout)
	defer cancel()

	var bot model.BotRecord
	err := r.bots.FindOne(ctx, bson.M{"_id": id}).Decode(&bot)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find bot %s: %w", id, err)
	}

	return &bot, nil
}

func (r *MongoBotRepository) Close(ctx context.Context) {
	slog.Info("closing mongodb connection.")
	if err := r.client.Disconnect(ctx); err != nil {
		slog.Error("failed to close mongodb connection.", slog.String("err", err.Error()))
	}
}
