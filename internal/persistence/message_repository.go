package persistence

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/IliaW/site-bot/internal/model"
)

type MessageStorage interface {
	Save(context.Context, *model.MessageLogEntry)
}

// MessageRepository appends answered general chat messages for audit. Rows are never read back here.
type MessageRepository struct {
	db *sql.DB
}

func NewMessageRepository(db *sql.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

func (mr *MessageRepository) Save(ctx context.Context, entry *model.MessageLogEntry) {
	_, err := mr.db.ExecContext(ctx, `INSERT INTO site_bot.chat_messages
	(requester_id, message, response, created_at)
	VALUES ($1, $2, $3, $4);`,
		entry.RequesterID,
		entry.Message,
		entry.Response,
		entry.Timestamp.UTC())
	if err != nil {
		slog.Error("failed to save chat message to database.", slog.String("err", err.Error()))
		return
	}
	slog.Debug("chat message saved to db.")
}
