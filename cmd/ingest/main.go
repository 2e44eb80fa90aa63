package ingest

import (
	"fmt"
	"log/slog"

	"github.com/urfave/cli/v2"

	"daily-goods-assistant/config"
	"daily-goods-assistant/ingestion"
	"daily-goods-assistant/llm"
	"daily-goods-assistant/logging"
	"daily-goods-assistant/records"
	"daily-goods-assistant/search"
)

var Flags = []cli.Flag{
	&cli.StringFlag{
		Name:    "file",
		Aliases: []string{"f"},
		Usage:   "CSV file of price surveys, overrides INGEST_CSV_PATH",
	},
	&cli.StringFlag{
		Name:  "encoding",
		Usage: "character encoding of the CSV file, overrides INGEST_CSV_ENCODING",
	},
	&cli.StringFlag{
		Name:  "index",
		Usage: "name of the index to fill, overrides INDEX_NAME",
	},
	&cli.IntFlag{
		Name:  "concurrency",
		Usage: "number of embedding requests in flight, overrides INGEST_CONCURRENCY",
	},
}

func Ingest(ctx *cli.Context) error {
	cfg, err := config.Load(ctx.Context)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	applyFlags(ctx, cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := logging.Init(cfg.LogLevel, cfg.LogFormat)

	recs, err := records.Load(cfg.Ingest.CSVPath, cfg.Ingest.CSVEncoding)
	if err != nil {
		return fmt.Errorf("failed to load price surveys: %w", err)
	}
	logger.InfoContext(ctx.Context, "loaded price surveys", slog.String("path", cfg.Ingest.CSVPath), slog.Int("rows", len(recs)))

	client, err := search.NewClient(ctx.Context, cfg.OpenSearch)
	if err != nil {
		return err
	}
	store := search.NewStore(client, cfg.IndexName, cfg.OpenAI.EmbeddingDimensions, cfg.Ingest.BatchSize)

	pipeline := ingestion.NewPipeline(llm.NewClient(cfg.OpenAI, logger), store, ingestion.Options{
		ChunkSize:    cfg.Ingest.ChunkSize,
		ChunkOverlap: cfg.Ingest.ChunkOverlap,
		Concurrency:  cfg.Ingest.Concurrency,
		RateLimit:    cfg.Ingest.RateLimit,
	}, logger)

	report, err := pipeline.Run(ctx.Context, recs)
	if err != nil {
		return fmt.Errorf("ingestion into %s failed: %w", store.Index(), err)
	}

	logger.InfoContext(ctx.Context, "ingestion complete",
		slog.String("index", store.Index()),
		slog.Int("rows", report.Records),
		slog.Int("chunks", report.Chunks),
		slog.Bool("index_created", report.IndexCreated),
		slog.Duration("duration", report.Duration),
	)
	fmt.Fprintf(ctx.App.Writer, "Indexed %d chunks from %d rows into %s\n", report.Chunks, report.Records, store.Index())
	return nil
}

func applyFlags(ctx *cli.Context, cfg *config.Config) {
	if ctx.IsSet("file") {
		cfg.Ingest.CSVPath = ctx.String("file")
	}
	if ctx.IsSet("encoding") {
		cfg.Ingest.CSVEncoding = ctx.String("encoding")
	}
	if ctx.IsSet("index") {
		cfg.IndexName = ctx.String("index")
	}
	if ctx.IsSet("concurrency") {
		cfg.Ingest.Concurrency = ctx.Int("concurrency")
	}
}
