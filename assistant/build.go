package assistant

import (
	"context"
	"log/slog"

	"daily-goods-assistant/config"
	"daily-goods-assistant/llm"
	"daily-goods-assistant/search"
)

// FromConfig builds the long-lived OpenAI client and index store once and returns a service sharing them.
// The store is returned too so callers can check the index at startup.
func FromConfig(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Service, *search.Store, error) {
	searchClient, err := search.NewClient(ctx, cfg.OpenSearch)
	if err != nil {
		return nil, nil, err
	}
	store := search.NewStore(searchClient, cfg.IndexName, cfg.OpenAI.EmbeddingDimensions, cfg.Ingest.BatchSize)
	openaiClient := llm.NewClient(cfg.OpenAI, logger)

	return NewService(openaiClient, openaiClient, store, cfg.TopK, logger), store, nil
}
