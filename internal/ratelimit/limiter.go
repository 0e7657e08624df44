package ratelimit

import (
	"log/slog"
	"sync"
	"time"

	"github.com/IliaW/site-bot/config"
	"github.com/IliaW/site-bot/internal/model"
	"github.com/IliaW/site-bot/internal/telemetry"
)

// StateStore keeps one RateLimitState per requester. Get returns nil, nil for an unknown requester.
type StateStore interface {
	GetRateLimit(string) (*model.RateLimitState, error)
	SaveRateLimit(string, *model.RateLimitState) error
}

// Limiter enforces a message budget per requester over a window anchored at the last message.
// A store failure allows the request.
//
// The mutex only orders check and record inside one process. Two instances sharing the store can
// both read the same count and overshoot the budget slightly.
type Limiter struct {
	store   StateStore
	max     int
	window  time.Duration
	metrics *telemetry.AppMetrics
	now     func() time.Time
	mu      sync.Mutex
}

func NewLimiter(store StateStore, cfg *config.RateLimitConfig, metrics *telemetry.AppMetrics) *Limiter {
	return &Limiter{
		store:   store,
		max:     cfg.MaxMessages,
		window:  cfg.Window,
		metrics: metrics,
		now:     time.Now,
	}
}

func (l *Limiter) Check(ip string) model.RateLimitResult {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	state, err := l.store.GetRateLimit(ip)
	if err != nil {
		slog.Warn("rate limit store unavailable. allowing request.", slog.String("err", err.Error()))
		l.metrics.RateLimitFailOpenCnt(1)
		return l.fresh(now)
	}

	switch {
	case state == nil:
		l.save(ip, &model.RateLimitState{LastMessageTime: now, CreatedAt: now})
		return l.fresh(now)
	case now.Sub(state.LastMessageTime) > l.window:
		state.MessageCount = 0
		state.LastMessageTime = now
		l.save(ip, state)
		return l.fresh(now)
	case state.MessageCount >= l.max:
		return model.RateLimitResult{
			Allowed:   false,
			Remaining: 0,
			ResetTime: state.LastMessageTime.Add(l.window),
		}
	default:
		return model.RateLimitResult{
			Allowed:   true,
			Remaining: l.max - state.MessageCount,
			ResetTime: state.LastMessageTime.Add(l.window),
		}
	}
}

// RecordUsage counts one answered message. Call it only after the completion service succeeded.
func (l *Limiter) RecordUsage(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	state, err := l.store.GetRateLimit(ip)
	if err != nil {
		slog.Warn("failed to read rate limit state.", slog.String("err", err.Error()))
		return
	}
	if state == nil {
		state = &model.RateLimitState{CreatedAt: now}
	}
	state.MessageCount++
	state.LastMessageTime = now
	l.save(ip, state)
}

func (l *Limiter) fresh(now time.Time) model.RateLimitResult {
	return model.RateLimitResult{
		Allowed:   true,
		Remaining: l.max,
		ResetTime: now.Add(l.window),
	}
}

func (l *Limiter) save(ip string, state *model.RateLimitState) {
	if err := l.store.SaveRateLimit(ip, state); err != nil {
		slog.Warn("failed to save rate limit state.", slog.String("err", err.Error()))
	}
}
