package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	stephttp "github.com/aretw0/stepwise/pkg/adapters/http"
	"github.com/aws/aws-lambda-go/events"
)

type deliverer interface {
	Deliver(ctx context.Context, body []byte, signature string) (stephttp.DeliveryResult, error)
}

// drainer waits for detached work; Lambda freezes the process after each response.
type drainer interface {
	Close(ctx context.Context) error
}

type handler struct {
	server deliverer
	tasks  drainer
	logger *slog.Logger
}

func newHandler(server deliverer, tasks drainer, logger *slog.Logger) (*handler, error) {
	if server == nil {
		return nil, errors.New("server is required")
	}
	return &handler{server: server, tasks: tasks, logger: logger}, nil
}

// Handle accepts POST deliveries of the channel webhook.
func (h *handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	if req.HTTPMethod != http.MethodPost {
		return respond(http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"}), nil
	}

	body := []byte(req.Body)
	if req.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(req.Body)
		if err != nil {
			return respond(http.StatusBadRequest, map[string]string{"error": "invalid body encoding"}), nil
		}
		body = decoded
	}

	res, err := h.server.Deliver(ctx, body, header(req.Headers, stephttp.SignatureHeader))
	if h.tasks != nil {
		if werr := h.tasks.Close(ctx); werr != nil {
			h.logger.WarnContext(ctx, "background work not drained", "error", werr)
		}
	}
	switch {
	case errors.Is(err, stephttp.ErrBadSignature):
		h.logger.WarnContext(ctx, "webhook rejected", "error", err)
		return respond(http.StatusUnauthorized, map[string]string{"error": "invalid signature"}), nil
	case err != nil:
		h.logger.WarnContext(ctx, "webhook rejected", "error", err)
		return respond(http.StatusBadRequest, map[string]string{"error": "invalid payload"}), nil
	}
	return respond(http.StatusOK, res), nil
}

// header looks name up case-insensitively; API Gateway may lowercase keys.
func header(headers map[string]string, name string) string {
	if v, ok := headers[name]; ok {
		return v
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

func respond(status int, v any) events.APIGatewayProxyResponse {
	body, _ := json.Marshal(v)
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       string(body),
	}
}
