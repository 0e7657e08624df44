package ranker

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/IliaW/site-bot/config"
	"github.com/IliaW/site-bot/internal/completion"
	"github.com/IliaW/site-bot/internal/model"
	"github.com/IliaW/site-bot/internal/telemetry"
	jsoniter "github.com/json-iterator/go"
)

// TopN is how many paths the completion service is asked to pick.
const TopN = 2

// DefaultPicks replace the completion service answer when it cannot be used.
var DefaultPicks = []string{model.HomePath, "/about"}

const systemPrompt = "You analyze website structure and choose the pages that best describe a business " +
	"for training a customer support chatbot. Answer with a JSON array of path strings only."

type Completer interface {
	Complete(ctx context.Context, req completion.Request) (string, error)
}

type PathRanker struct {
	completer Completer
	cfg       *config.CompletionConfig
	metrics   *telemetry.AppMetrics
}

func NewPathRanker(completer Completer, cfg *config.CompletionConfig, metrics *telemetry.AppMetrics) *PathRanker {
	return &PathRanker{
		completer: completer,
		cfg:       cfg,
		metrics:   metrics,
	}
}

// Rank labels every candidate (plus the home path) and orders the result recommended first, then by
// path length. Nothing is dropped. The home path is always recommended.
func (r *PathRanker) Rank(ctx context.Context, seedURL string, candidates []string) []model.PathOption {
	paths := model.WithHome(slices.Clone(candidates))
	slices.SortStableFunc(paths, func(a, b string) int {
		return len(a) - len(b)
	})

	picks, err := r.pick(ctx, seedURL, paths)
	if err != nil {
		slog.Warn("path ranking fell back to defaults.", slog.String("url", seedURL),
			slog.String("err", err.Error()))
		r.metrics.RankingFallbackCnt(1)
		picks = DefaultPicks
	}

	options := make([]model.PathOption, 0, len(paths))
	for _, p := range paths {
		options = append(options, model.PathOption{
			Path:        p,
			Title:       Title(p),
			Recommended: p == model.HomePath || slices.Contains(picks, p),
		})
	}
	slices.SortStableFunc(options, func(a, b model.PathOption) int {
		if a.Recommended != b.Recommended {
			if a.Recommended {
				return -1
			}
			return 1
		}
		return len(a.Path) - len(b.Path)
	})

	return options
}

func (r *PathRanker) pick(ctx context.Context, seedURL string, paths []string) ([]string, error) {
	var listing strings.Builder
	for i, p := range paths {
		fmt.Fprintf(&listing, "%d. %s\n", i+1, p)
	}
	prompt := fmt.Sprintf("Website: %s\n\nAvailable paths:\n%s\nReturn exactly the top %d most "+
		"informative paths for understanding this business, as a JSON array, for example [\"/\", \"/about\"].",
		seedURL, listing.String(), TopN)

	answer, err := r.completer.Complete(ctx, completion.Request{
		SystemPrompt: systemPrompt,
		UserPrompt:   prompt,
		MaxTokens:    r.cfg.RankMaxTokens,
		Temperature:  r.cfg.RankTemperature,
	})
	if err != nil {
		return nil, err
	}

	return parsePicks(answer, paths)
}

// parsePicks reads the first JSON array in answer and keeps up to TopN distinct known paths.
func parsePicks(answer string, known []string) ([]string, error) {
	start := strings.Index(answer, "[")
	end := strings.LastIndex(answer, "]")
	if start < 0 || end < start {
		return nil, fmt.Errorf("no path array in ranking answer %q", answer)
	}
	var raw []string
	if err := jsoniter.UnmarshalFromString(answer[start:end+1], &raw); err != nil {
		return nil, fmt.Errorf("parse ranking answer: %w", err)
	}

	picks := make([]string, 0, TopN)
	for _, p := range raw {
		p = normalize(p)
		if slices.Contains(known, p) && !slices.Contains(picks, p) {
			picks = append(picks, p)
		}
		if len(picks) == TopN {
			return picks, nil
		}
	}

	return nil, fmt.Errorf("ranking answer named %d usable paths", len(picks))
}

func normalize(p string) string {
	p = strings.TrimSpace(p)
	if p != model.HomePath {
		p = strings.TrimRight(p, "/")
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

// Title is the capitalized last non-empty segment of p, or "Home" for the home path.
func Title(p string) string {
	segments := strings.FieldsFunc(p, func(r rune) bool { return r == '/' })
	if len(segments) == 0 {
		return "Home"
	}
	last := segments[len(segments)-1]
	first, size := utf8.DecodeRuneInString(last)
	return string(unicode.ToUpper(first)) + last[size:]
}
