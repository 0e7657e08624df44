package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/IliaW/site-bot/internal/chat"
	"github.com/IliaW/site-bot/internal/crawler"
	"github.com/IliaW/site-bot/internal/model"
	"github.com/IliaW/site-bot/internal/persistence"
	"github.com/gin-gonic/gin"
)

// BotNotFoundMessage is shown instead of an answer when the bot id is unknown.
const BotNotFoundMessage = "Sorry, this bot doesn't exist or has been removed."

type BotPipeline interface {
	Discover(ctx context.Context, rawURL string) (*model.Discovery, error)
	Build(ctx context.Context, rawURL string, paths []string, requesterID string) (*model.BotRecord, error)
	Get(ctx context.Context, id string) (*model.BotRecord, error)
}

type ChatResponder interface {
	AskBot(ctx context.Context, question string, bot *model.BotRecord) string
	AskGeneral(ctx context.Context, requesterID, question string) (*chat.GeneralAnswer, error)
}

type Handler struct {
	bots BotPipeline
	chat ChatResponder
}

func NewHandler(bots BotPipeline, chat ChatResponder) *Handler {
	return &Handler{bots: bots, chat: chat}
}

type createBotRequest struct {
	URL string `json:"url"`
}

type extractRequest struct {
	URL   string   `json:"url"`
	Paths []string `json:"paths"`
}

// botContent is sent by older clients. The stored bot is authoritative, so it is ignored.
type botChatRequest struct {
	Message string `json:"message"`
	BotID   string `json:"botId"`
}

type generalChatRequest struct {
	Message string `json:"message"`
}

func (h *Handler) CreateBot(c *gin.Context) {
	var req createBotRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.URL) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "URL is required"})
		return
	}

	discovery, err := h.bots.Discover(c.Request.Context(), req.URL)
	switch {
	case errors.Is(err, crawler.ErrInvalidURL):
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid URL format"})
		return
	case errors.Is(err, crawler.ErrNoLinks):
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Could not extract links from the website"})
		return
	case err != nil:
		slog.Error("failed to analyze website.", slog.String("url", req.URL), slog.String("err", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to analyze website"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"pathOptions": discovery.PathOptions,
		"totalHrefs":  discovery.TotalHrefs,
	})
}

func (h *Handler) ExtractBot(c *gin.Context) {
	var req extractRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.URL) == "" || req.Paths == nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "URL and paths are required"})
		return
	}

	bot, err := h.bots.Build(c.Request.Context(), req.URL, req.Paths, c.ClientIP())
	switch {
	case errors.Is(err, crawler.ErrInvalidURL):
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid URL format"})
		return
	case errors.Is(err, crawler.ErrNoContent):
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Failed to extract content from pages"})
		return
	case err != nil:
		slog.Error("failed to create bot.", slog.String("url", req.URL), slog.String("err", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to create bot. Please try again."})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "bot": bot})
}

func (h *Handler) GetBot(c *gin.Context) {
	bot, ok := h.lookupBot(c, c.Param("id"))
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "bot": bot})
}

func (h *Handler) BotChat(c *gin.Context) {
	var req botChatRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Message) == "" || req.BotID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Message and botId are required"})
		return
	}

	bot, ok := h.lookupBot(c, req.BotID)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"response": h.chat.AskBot(c.Request.Context(), req.Message, bot),
	})
}

func (h *Handler) GeneralChat(c *gin.Context) {
	var req generalChatRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Message) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Message is required"})
		return
	}

	answer, err := h.chat.AskGeneral(c.Request.Context(), c.ClientIP(), req.Message)
	switch {
	case errors.Is(err, chat.ErrRateLimited):
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":     "Rate limit exceeded",
			"message":   "You have reached the daily message limit. Please try again later.",
			"remaining": answer.Limit.Remaining,
			"resetTime": answer.Limit.ResetTime,
		})
		return
	case err != nil:
		slog.Error("general chat failed.", slog.String("err", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process chat request"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"response":  answer.Response,
		"remaining": answer.Limit.Remaining,
	})
}

func (h *Handler) lookupBot(c *gin.Context, id string) (*model.BotRecord, bool) {
	bot, err := h.bots.Get(c.Request.Context(), id)
	if errors.Is(err, persistence.ErrBotNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": BotNotFoundMessage})
		return nil, false
	}
	if err != nil {
		slog.Error("failed to load bot.", slog.String("id", id), slog.String("err", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to load bot"})
		return nil, false
	}
	return bot, true
}
