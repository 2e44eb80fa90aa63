package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"daily-goods-assistant/logging"
	"daily-goods-assistant/metrics"
	"daily-goods-assistant/service/query"
)

type Assistant interface {
	Chat(ctx context.Context, message string) (string, error)
	Assist(ctx context.Context, message string) (string, error)
}

type server struct {
	assistant Assistant
	logger    *slog.Logger
}

// NewRouter wires the chat routes, health and metrics endpoints behind an allow-all CORS policy.
func NewRouter(assistant Assistant, logger *slog.Logger) *gin.Engine {
	s := &server{
		assistant: assistant,
		logger:    logging.For(logger, "api"),
	}

	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger(), metrics.Middleware(), cors.New(CORSConfig()))

	router.POST("/chat", s.chatHandler)
	router.POST("/assistant", s.assistantHandler)
	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", metrics.Handler())

	return router
}

// CORSConfig allows every origin, method and header.
func CORSConfig() cors.Config {
	return cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"},
		AllowHeaders:    []string{"*"},
		MaxAge:          12 * time.Hour,
	}
}

func (s *server) chatHandler(ctx *gin.Context) {
	s.answer(ctx, s.assistant.Chat)
}

func (s *server) assistantHandler(ctx *gin.Context) {
	s.answer(ctx, s.assistant.Assist)
}

func (s *server) answer(ctx *gin.Context, respond func(context.Context, string) (string, error)) {
	var req query.ChatRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		s.logger.WarnContext(ctx, "failed to bind request to expected object", slog.Any("error", err))
		ctx.JSON(http.StatusBadRequest, query.ErrorResponse{Error: err.Error()})
		return
	}

	reply, err := respond(ctx.Request.Context(), req.Message)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to answer message", slog.String("path", ctx.FullPath()), slog.Any("error", err))
		ctx.JSON(http.StatusInternalServerError, query.ErrorResponse{Error: "something went wrong answering the message"})
		return
	}

	ctx.JSON(http.StatusOK, query.ChatResponse{Reply: reply})
}

func (s *server) requestLogger() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()
		ctx.Next()
		s.logger.InfoContext(ctx, "handled request",
			slog.String("method", ctx.Request.Method),
			slog.String("path", ctx.Request.URL.Path),
			slog.Int("status", ctx.Writer.Status()),
			slog.Duration("latency", time.Since(start)),
		)
	}
}
