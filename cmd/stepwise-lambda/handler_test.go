package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/aretw0/stepwise/internal/logging"
	stephttp "github.com/aretw0/stepwise/pkg/adapters/http"
	"github.com/aretw0/stepwise/pkg/domain"
	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/require"
)

type stubServer struct {
	body      []byte
	signature string
	res       stephttp.DeliveryResult
	err       error
}

func (s *stubServer) Deliver(_ context.Context, body []byte, signature string) (stephttp.DeliveryResult, error) {
	s.body, s.signature = body, signature
	return s.res, s.err
}

type stubDrainer struct{ calls int }

func (d *stubDrainer) Close(context.Context) error {
	d.calls++
	return nil
}

func makeEvent(body string) events.APIGatewayProxyRequest {
	return events.APIGatewayProxyRequest{
		HTTPMethod: http.MethodPost,
		Path:       "/webhook",
		Headers:    map[string]string{"x-hub-signature-256": "sha256=abc"},
		Body:       body,
	}
}

func TestNewHandler_ValidatesDependency(t *testing.T) {
	_, err := newHandler(nil, nil, logging.NewNop())
	require.Error(t, err)
}

func TestHandle_Delivers(t *testing.T) {
	srv := &stubServer{res: stephttp.DeliveryResult{Outcomes: []stephttp.EventOutcome{{EventID: "wamid.1", Outcome: domain.OutcomeAdvanced}}}}
	tasks := &stubDrainer{}
	h, err := newHandler(srv, tasks, logging.NewNop())
	require.NoError(t, err)

	resp, err := h.Handle(context.Background(), makeEvent(`{"entry":[]}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, `{"entry":[]}`, string(srv.body))
	require.Equal(t, "sha256=abc", srv.signature)
	require.Equal(t, 1, tasks.calls)

	var out stephttp.DeliveryResult
	require.NoError(t, json.Unmarshal([]byte(resp.Body), &out))
	require.Equal(t, domain.OutcomeAdvanced, out.Outcomes[0].Outcome)
}

func TestHandle_Base64Body(t *testing.T) {
	srv := &stubServer{}
	h, err := newHandler(srv, nil, logging.NewNop())
	require.NoError(t, err)

	ev := makeEvent(base64.StdEncoding.EncodeToString([]byte(`{"entry":[]}`)))
	ev.IsBase64Encoded = true
	resp, err := h.Handle(context.Background(), ev)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, `{"entry":[]}`, string(srv.body))
}

func TestHandle_Rejections(t *testing.T) {
	cases := []struct {
		name   string
		method string
		err    error
		want   int
	}{
		{name: "method", method: http.MethodGet, want: http.StatusMethodNotAllowed},
		{name: "signature", method: http.MethodPost, err: stephttp.ErrBadSignature, want: http.StatusUnauthorized},
		{name: "payload", method: http.MethodPost, err: errors.Join(stephttp.ErrBadPayload, errors.New("eof")), want: http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h, err := newHandler(&stubServer{err: tc.err}, nil, logging.NewNop())
			require.NoError(t, err)

			ev := makeEvent("{}")
			ev.HTTPMethod = tc.method
			resp, err := h.Handle(context.Background(), ev)
			require.NoError(t, err)
			require.Equal(t, tc.want, resp.StatusCode)
		})
	}
}
