package persistence

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/IliaW/site-bot/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var insertMessage = regexp.QuoteMeta("INSERT INTO site_bot.chat_messages")

func TestMessageRepository_Save(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	ts := time.Date(2025, 3, 1, 12, 0, 0, 0, time.FixedZone("CET", 3600))
	mock.ExpectExec(insertMessage).
		WithArgs("203.0.113.7", "What do you build?", "Websites.", ts.UTC()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	NewMessageRepository(db).Save(context.Background(), &model.MessageLogEntry{
		RequesterID: "203.0.113.7",
		Message:     "What do you build?",
		Response:    "Websites.",
		Timestamp:   ts,
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMessageRepository_SaveSwallowsErrors(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	mock.ExpectExec(insertMessage).WillReturnError(errors.New("relation does not exist"))

	assert.NotPanics(t, func() {
		NewMessageRepository(db).Save(context.Background(), &model.MessageLogEntry{RequesterID: "ip"})
	})
	assert.NoError(t, mock.ExpectationsWereMet())
}
