package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"daily-goods-assistant/logging"
	"daily-goods-assistant/records"
	"daily-goods-assistant/search"
)

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type IndexStore interface {
	Exists(ctx context.Context) (bool, error)
	Create(ctx context.Context) error
	Upsert(ctx context.Context, entries []search.Entry) error
}

// Chunk is a window of one record's formatted content together with a copy of that record's metadata.
type Chunk struct {
	Row      int
	Text     string
	Metadata map[string]string
}

type Options struct {
	ChunkSize    int
	ChunkOverlap int
	// Concurrency bounds the number of embedding calls in flight. Values below 1 mean sequential.
	Concurrency int
	// RateLimit caps embedding calls per second. Zero disables the limit.
	RateLimit float64
}

// Report summarises a completed run.
type Report struct {
	Records      int
	Chunks       int
	IndexCreated bool
	Duration     time.Duration
}

type Pipeline struct {
	embedder Embedder
	store    IndexStore
	options  Options
	limiter  *rate.Limiter
	newID    func() string
	logger   *slog.Logger
}

func NewPipeline(embedder Embedder, store IndexStore, options Options, logger *slog.Logger) *Pipeline {
	if options.Concurrency < 1 {
		options.Concurrency = 1
	}
	p := &Pipeline{
		embedder: embedder,
		store:    store,
		options:  options,
		newID:    uuid.NewString,
		logger:   logging.For(logger, "ingestion"),
	}
	if options.RateLimit > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(options.RateLimit), 1)
	}
	return p
}

// Run ensures the index exists, chunks and embeds every record and uploads the vectors in record order.
// Any failure aborts the whole run; nothing is uploaded unless every chunk was embedded.
func (p *Pipeline) Run(ctx context.Context, recs []records.SourceRecord) (Report, error) {
	start := time.Now()
	report := Report{Records: len(recs)}

	created, err := p.ensureIndex(ctx)
	if err != nil {
		return report, err
	}
	report.IndexCreated = created

	chunks := BuildChunks(recs, p.options.ChunkSize, p.options.ChunkOverlap)
	report.Chunks = len(chunks)
	p.logger.InfoContext(ctx, "split records into chunks", slog.Int("records", len(recs)), slog.Int("chunks", len(chunks)))

	vectors, err := p.embed(ctx, chunks)
	if err != nil {
		return report, err
	}

	entries := make([]search.Entry, len(chunks))
	for i, chunk := range chunks {
		metadata := make(map[string]string, len(chunk.Metadata)+1)
		for k, v := range chunk.Metadata {
			metadata[k] = v
		}
		metadata[search.TextField] = chunk.Text
		entries[i] = search.Entry{
			ID:       p.newID(),
			Vector:   vectors[i],
			Metadata: metadata,
		}
	}

	if err := p.store.Upsert(ctx, entries); err != nil {
		return report, fmt.Errorf("failed to upload embeddings: %w", err)
	}

	report.Duration = time.Since(start)
	return report, nil
}

func (p *Pipeline) ensureIndex(ctx context.Context) (bool, error) {
	exists, err := p.store.Exists(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to check for existing index: %w", err)
	}
	if exists {
		p.logger.InfoContext(ctx, "index already exists, skipping creation")
		return false, nil
	}
	if err := p.store.Create(ctx); err != nil {
		return false, fmt.Errorf("failed to create index: %w", err)
	}
	p.logger.InfoContext(ctx, "created new index")
	return true, nil
}

// embed computes one vector per chunk. Results land in the slot of their chunk so the order never depends on
// which call finishes first.
func (p *Pipeline) embed(ctx context.Context, chunks []Chunk) ([][]float32, error) {
	vectors := make([][]float32, len(chunks))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(p.options.Concurrency)
	for i := range chunks {
		i := i
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}
			if p.limiter != nil {
				if err := p.limiter.Wait(groupCtx); err != nil {
					return err
				}
			}
			vector, err := p.embedder.Embed(groupCtx, chunks[i].Text)
			if err != nil {
				return fmt.Errorf("failed to embed chunk %d of row %d: %w", i, chunks[i].Row, err)
			}
			vectors[i] = vector
			p.logger.DebugContext(groupCtx, "embedded chunk", slog.Int("chunk", i), slog.Int("row", chunks[i].Row))
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}

// BuildChunks splits every record's content and pairs each window with its own copy of the record metadata.
func BuildChunks(recs []records.SourceRecord, size int, overlap int) []Chunk {
	var chunks []Chunk
	for _, rec := range recs {
		for _, text := range Split(rec.Content(), size, overlap) {
			chunks = append(chunks, Chunk{
				Row:      rec.Row,
				Text:     text,
				Metadata: rec.Metadata(),
			})
		}
	}
	return chunks
}
