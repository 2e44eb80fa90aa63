package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"daily-goods-assistant/assistant"
	"daily-goods-assistant/config"
	"daily-goods-assistant/logging"
	"daily-goods-assistant/service/api"
	"daily-goods-assistant/service/query"
)

type lambdaHandler struct {
	assistant api.Assistant
	logger    *slog.Logger
}

var corsHeaders = map[string]string{
	"Access-Control-Allow-Origin":  "*",
	"Access-Control-Allow-Methods": "GET,POST,PUT,PATCH,DELETE,HEAD,OPTIONS",
	"Access-Control-Allow-Headers": "*",
	"Content-Type":                 "application/json",
}

func (l *lambdaHandler) handler(ctx context.Context, request events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	l.logger.InfoContext(ctx, "Handler started", slog.String("method", request.HTTPMethod), slog.String("path", request.Path))

	if request.HTTPMethod == http.MethodOptions {
		return respond(http.StatusNoContent, nil), nil
	}

	var answer func(context.Context, string) (string, error)
	switch {
	case strings.HasSuffix(request.Path, "/chat"):
		answer = l.assistant.Chat
	case strings.HasSuffix(request.Path, "/assistant"):
		answer = l.assistant.Assist
	default:
		return respond(http.StatusNotFound, query.ErrorResponse{Error: "no route for " + request.Path}), nil
	}
	if request.HTTPMethod != http.MethodPost {
		return respond(http.StatusMethodNotAllowed, query.ErrorResponse{Error: "only POST is supported"}), nil
	}

	body := []byte(request.Body)
	if request.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(request.Body)
		if err != nil {
			l.logger.ErrorContext(ctx, "failed to decode request body", slog.Any("error", err))
			return respond(http.StatusBadRequest, query.ErrorResponse{Error: err.Error()}), nil
		}
		body = decoded
	}

	var req query.ChatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		l.logger.ErrorContext(ctx, "failed to parse request body", slog.Any("error", err))
		return respond(http.StatusBadRequest, query.ErrorResponse{Error: err.Error()}), nil
	}

	reply, err := answer(ctx, req.Message)
	if err != nil {
		l.logger.ErrorContext(ctx, "failed to answer message", slog.String("path", request.Path), slog.Any("error", err))
		return respond(http.StatusInternalServerError, query.ErrorResponse{Error: "something went wrong answering the message"}), nil
	}

	return respond(http.StatusOK, query.ChatResponse{Reply: reply}), nil
}

func respond(status int, payload any) events.APIGatewayProxyResponse {
	response := events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    corsHeaders,
	}
	if payload != nil {
		// Both payload types are plain string structs and always marshal.
		bodyBytes, _ := json.Marshal(payload)
		response.Body = string(bodyBytes)
	}
	return response
}

func main() {
	ctx := context.Background()

	cfg, err := config.Load(ctx)
	if err != nil {
		panic(err)
	}
	logger := logging.Init(cfg.LogLevel, "json")

	svc, _, err := assistant.FromConfig(ctx, cfg, logger)
	if err != nil {
		panic(err)
	}

	handler := lambdaHandler{
		assistant: svc,
		logger:    logging.For(logger, "lambda"),
	}

	lambda.Start(handler.handler)
}
