package main

import (
	"log"
	"os"

	"github.com/urfave/cli/v2"

	"daily-goods-assistant/cmd/ingest"
	"daily-goods-assistant/cmd/query"
)

func main() {
	app := &cli.App{
		Name:  "daily-goods",
		Usage: "Load grocery price surveys into the vector index and query them",
		Commands: []*cli.Command{
			{
				Name:    "ingest",
				Aliases: []string{"i"},
				Usage:   "Chunk, embed and upload the price survey CSV into the Opensearch index",
				Flags:   ingest.Flags,
				Action:  ingest.Ingest,
			},
			{
				Name:    "query",
				Aliases: []string{"q"},
				Usage:   "Ask a question with embedding context",
				Flags:   query.Flags,
				Action:  query.Query,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
