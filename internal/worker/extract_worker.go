package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/IliaW/site-bot/internal/model"
	jsoniter "github.com/json-iterator/go"
)

type BotBuilder interface {
	Build(ctx context.Context, rawURL string, paths []string, requesterID string) (*model.BotRecord, error)
}

type DeadLetterSender interface {
	SendToDLQ(ctx context.Context, value []byte, cause error)
}

// ExtractWorker turns extraction tasks read from Kafka into bots. Failed tasks go to the dead letter
// topic unchanged.
type ExtractWorker struct {
	TaskChan <-chan []byte
	Builder  BotBuilder
	DLQ      DeadLetterSender
	Wg       *sync.WaitGroup
}

var errEmptyTask = errors.New("task has no url")

// Run consumes TaskChan until it is closed. ctx bounds each build, so a shutdown interrupts a
// running scrape instead of waiting for every page.
func (w *ExtractWorker) Run(ctx context.Context) {
	defer w.Wg.Done()
	slog.Debug("starting extract worker.")

	for value := range w.TaskChan {
		var task model.ExtractTask
		if err := jsoniter.Unmarshal(value, &task); err != nil {
			slog.Error("failed to unmarshal message.", slog.String("err", err.Error()))
			w.DLQ.SendToDLQ(context.WithoutCancel(ctx), value, err)
			continue
		}
		if task.URL == "" {
			slog.Error("invalid extraction task.", slog.String("err", errEmptyTask.Error()))
			w.DLQ.SendToDLQ(context.WithoutCancel(ctx), value, errEmptyTask)
			continue
		}

		requester := task.RequesterID
		if requester == "" {
			requester = "kafka"
		}
		bot, err := w.Builder.Build(ctx, task.URL, task.Paths, requester)
		if err != nil {
			slog.Error("bot extraction failed.", slog.String("url", task.URL), slog.String("err", err.Error()))
			w.DLQ.SendToDLQ(context.WithoutCancel(ctx), value, err)
			continue
		}
		slog.Debug("bot extracted from task.", slog.String("id", bot.ID), slog.String("url", task.URL))
	}
}
