package assistant

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sashabaranov/go-openai"

	"daily-goods-assistant/logging"
	"daily-goods-assistant/meta"
	"daily-goods-assistant/search"
)

const DefaultTopK = 5

type Completer interface {
	Complete(ctx context.Context, messages []openai.ChatCompletionMessage) (string, error)
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type Retriever interface {
	Query(ctx context.Context, vector []float32, topK int, includeMetadata bool) ([]search.Match, error)
}

// Service answers user messages, either directly or with context retrieved from the price index. It holds
// no per-request state and is safe for concurrent use as long as its collaborators are.
type Service struct {
	completer Completer
	embedder  Embedder
	retriever Retriever
	topK      int
	logger    *slog.Logger
}

func NewService(completer Completer, embedder Embedder, retriever Retriever, topK int, logger *slog.Logger) *Service {
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &Service{
		completer: completer,
		embedder:  embedder,
		retriever: retriever,
		topK:      topK,
		logger:    logging.For(logger, "assistant"),
	}
}

// Chat forwards the message with the fixed system prompt and returns the model's reply verbatim.
func (s *Service) Chat(ctx context.Context, message string) (string, error) {
	reply, err := s.completer.Complete(ctx, meta.CreateConversation(meta.ChatPrompt, message))
	if err != nil {
		return "", err
	}
	return reply, nil
}

// Assist embeds the message, retrieves the nearest stored snippets and answers with them as context.
// Zero matches is not an error; the model then sees an empty context.
func (s *Service) Assist(ctx context.Context, message string) (string, error) {
	queryVector, err := s.embedder.Embed(ctx, message)
	if err != nil {
		return "", fmt.Errorf("failed to generate embedding from user query: %w", err)
	}

	matches, err := s.retriever.Query(ctx, queryVector, s.topK, true)
	if err != nil {
		return "", fmt.Errorf("failed to locate nearby embeddings from user query: %w", err)
	}
	s.logger.DebugContext(ctx, "retrieved context", slog.Int("matches", len(matches)))

	conversation := meta.CreateConversation(meta.AssistantPrompt, meta.UserPrompt(meta.JoinContext(matches), message))
	reply, err := s.completer.Complete(ctx, conversation)
	if err != nil {
		return "", err
	}
	return reply, nil
}
