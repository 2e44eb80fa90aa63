package query

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"daily-goods-assistant/assistant"
	"daily-goods-assistant/config"
	"daily-goods-assistant/logging"
)

var Flags = []cli.Flag{
	&cli.StringFlag{
		Name:     "message",
		Aliases:  []string{"m"},
		Usage:    "question to ask",
		Required: true,
	},
	&cli.BoolFlag{
		Name:  "plain",
		Usage: "skip the index lookup and ask the chat model directly",
	},
}

func Query(ctx *cli.Context) error {
	cfg, err := config.Load(ctx.Context)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger := logging.Init(cfg.LogLevel, cfg.LogFormat)

	svc, _, err := assistant.FromConfig(ctx.Context, cfg, logger)
	if err != nil {
		return err
	}

	answer := svc.Assist
	if ctx.Bool("plain") {
		answer = svc.Chat
	}
	reply, err := answer(ctx.Context, ctx.String("message"))
	if err != nil {
		return err
	}

	fmt.Fprintln(ctx.App.Writer, "ChatResponse: "+reply)
	return nil
}
