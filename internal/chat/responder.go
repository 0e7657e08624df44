package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/IliaW/site-bot/config"
	"github.com/IliaW/site-bot/internal"
	"github.com/IliaW/site-bot/internal/completion"
	"github.com/IliaW/site-bot/internal/model"
	"github.com/IliaW/site-bot/internal/telemetry"
)

var (
	ErrRateLimited      = errors.New("rate limit exceeded")
	ErrCompletionFailed = errors.New("failed to generate response")
)

const contextTruncationMarker = "\n\n[Content truncated for API limits]"

type Completer interface {
	Complete(ctx context.Context, req completion.Request) (string, error)
}

type RateLimiter interface {
	Check(ip string) model.RateLimitResult
	RecordUsage(ip string)
}

type MessageLog interface {
	Save(context.Context, *model.MessageLogEntry)
}

type Responder struct {
	completer  Completer
	limiter    RateLimiter
	messages   MessageLog
	cfg        *config.CompletionConfig
	chatCfg    *config.ChatConfig
	sitePrompt string
	metrics    *telemetry.AppMetrics
	now        func() time.Time
}

func NewResponder(completer Completer, limiter RateLimiter, messages MessageLog, cfg *config.Config,
	metrics *telemetry.AppMetrics) *Responder {
	return &Responder{
		completer:  completer,
		limiter:    limiter,
		messages:   messages,
		cfg:        cfg.CompletionSettings,
		chatCfg:    cfg.ChatSettings,
		sitePrompt: SitePrompt(cfg.SiteSettings),
		metrics:    metrics,
		now:        time.Now,
	}
}

// AskBot answers from the bot's own content. It never fails: when the completion service is
// unavailable the answer is a canned reply picked by keyword.
func (r *Responder) AskBot(ctx context.Context, question string, bot *model.BotRecord) string {
	answer, err := r.completer.Complete(ctx, completion.Request{
		SystemPrompt: botSystemPrompt,
		UserPrompt: fmt.Sprintf("Website content:\n%s\n\nQuestion: %s\n\nPlease answer based ONLY on the "+
			"website content provided above. Keep response short and professional.",
			r.botContext(bot), question),
		MaxTokens:   r.cfg.BotMaxTokens,
		Temperature: r.cfg.ChatTemperature,
	})
	if err != nil {
		slog.Warn("bot chat completion failed. using canned reply.", slog.String("bot", bot.ID),
			slog.String("err", err.Error()))
		r.metrics.ChatFallbackCnt(1)
		return CannedReply(question)
	}
	r.metrics.ChatAnsweredCnt(1)

	return answer
}

type GeneralAnswer struct {
	Response string
	Limit    model.RateLimitResult
}

// AskGeneral answers questions about the site itself. The requester's budget is checked before the
// completion call and charged only when the call succeeds. A rate limited call returns the limit
// together with ErrRateLimited.
func (r *Responder) AskGeneral(ctx context.Context, requesterID, question string) (*GeneralAnswer, error) {
	limit := r.limiter.Check(requesterID)
	if !limit.Allowed {
		r.metrics.ChatRateLimitedCnt(1)
		return &GeneralAnswer{Limit: limit}, ErrRateLimited
	}

	answer, err := r.completer.Complete(ctx, completion.Request{
		SystemPrompt: r.sitePrompt,
		UserPrompt:   question,
		MaxTokens:    r.cfg.GeneralMaxTokens,
		Temperature:  r.cfg.ChatTemperature,
	})
	if err != nil {
		r.metrics.ChatFailedCnt(1)
		return nil, fmt.Errorf("%w: %w", ErrCompletionFailed, err)
	}
	r.metrics.ChatAnsweredCnt(1)

	r.limiter.RecordUsage(requesterID)
	limit.Remaining = max(limit.Remaining-1, 0)
	r.messages.Save(ctx, &model.MessageLogEntry{
		RequesterID: requesterID,
		Message:     question,
		Response:    answer,
		Timestamp:   r.now(),
	})

	return &GeneralAnswer{Response: answer, Limit: limit}, nil
}

func (r *Responder) botContext(bot *model.BotRecord) string {
	structured, err := bot.Content.DecodeStructured()
	if err != nil {
		slog.Warn("bot has unreadable structured content. using raw text.", slog.String("bot", bot.ID),
			slog.String("err", err.Error()))
		return internal.TruncateRunes(bot.Content.Raw, r.chatCfg.BotContextLimit, contextTruncationMarker)
	}

	var b strings.Builder
	b.WriteString("Website Content:\n\n")
	for i, page := range structured.Pages {
		fmt.Fprintf(&b, "=== PAGE %d: %s ===\nURL: %s\n\nCONTENT:\n%s\n\n--- END OF PAGE ---\n\n",
			i+1, page.Title, page.URL, page.Content)
	}

	return internal.TruncateRunes(b.String(), r.chatCfg.BotContextLimit, contextTruncationMarker)
}
