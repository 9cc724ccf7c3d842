package channel

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/stepwise/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captured struct {
	mu     sync.Mutex
	auth   []string
	bodies []map[string]any
}

func (c *captured) last(t *testing.T) map[string]any {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	require.NotEmpty(t, c.bodies)
	return c.bodies[len(c.bodies)-1]
}

func newServer(t *testing.T, status int, reply string) (*httptest.Server, *captured) {
	t.Helper()
	got := &captured{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/messages", r.URL.Path)
		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		_ = json.Unmarshal(raw, &body)

		got.mu.Lock()
		got.auth = append(got.auth, r.Header.Get("Authorization"))
		got.bodies = append(got.bodies, body)
		got.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, reply)
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func TestNew_RequiresURL(t *testing.T) {
	_, err := New(" ", "token")
	assert.Error(t, err)
}

func TestClient_SendText(t *testing.T) {
	srv, got := newServer(t, http.StatusOK, `{"messages":[{"id":"wamid.1"}]}`)
	c, err := New(srv.URL+"/", "secret")
	require.NoError(t, err)

	require.NoError(t, c.SendText(context.Background(), "5511999990000", "hello"))

	body := got.last(t)
	assert.Equal(t, "whatsapp", body["messaging_product"])
	assert.Equal(t, "5511999990000", body["to"])
	assert.Equal(t, "text", body["type"])
	assert.Equal(t, map[string]any{"body": "hello"}, body["text"])
	assert.Equal(t, "Bearer secret", got.auth[0])
}

func TestClient_SendChoice(t *testing.T) {
	srv, got := newServer(t, http.StatusOK, `{}`)
	c, err := New(srv.URL, "")
	require.NoError(t, err)

	err = c.SendChoice(context.Background(), "55", "1/6", "How was it?", []domain.Choice{
		{ID: "rate:1:1", Title: "1"},
		{ID: "rate:1:2", Title: "2"},
		{ID: "rate:1:3", Title: "3"},
	})
	require.NoError(t, err)

	body := got.last(t)
	assert.Equal(t, "interactive", body["type"])
	inter := body["interactive"].(map[string]any)
	assert.Equal(t, "button", inter["type"])
	assert.Equal(t, map[string]any{"type": "text", "text": "1/6"}, inter["header"])
	assert.Equal(t, map[string]any{"text": "How was it?"}, inter["body"])
	buttons := inter["action"].(map[string]any)["buttons"].([]any)
	require.Len(t, buttons, 3)
	first := buttons[0].(map[string]any)["reply"].(map[string]any)
	assert.Equal(t, "rate:1:1", first["id"])
	assert.Empty(t, got.auth[0])
}

func TestClient_SendChoiceWithoutBodyUsesTitle(t *testing.T) {
	srv, got := newServer(t, http.StatusOK, `{}`)
	c, err := New(srv.URL, "")
	require.NoError(t, err)

	require.NoError(t, c.SendChoice(context.Background(), "55", "Pick one", "", []domain.Choice{{ID: "a", Title: "A"}}))

	inter := got.last(t)["interactive"].(map[string]any)
	assert.Nil(t, inter["header"])
	assert.Equal(t, map[string]any{"text": "Pick one"}, inter["body"])
}

func TestClient_SendChoiceRejectsTooMany(t *testing.T) {
	srv, got := newServer(t, http.StatusOK, `{}`)
	c, err := New(srv.URL, "")
	require.NoError(t, err)

	choices := make([]domain.Choice, domain.MaxChoices+1)
	err = c.SendChoice(context.Background(), "55", "t", "b", choices)
	assert.ErrorIs(t, err, domain.ErrTooManyChoices)
	assert.Empty(t, got.bodies, "nothing must reach the API")
}

func TestClient_APIError(t *testing.T) {
	srv, _ := newServer(t, http.StatusBadRequest, `{"error":{"message":"invalid recipient","code":131030}}`)
	c, err := New(srv.URL, "")
	require.NoError(t, err)

	err = c.SendText(context.Background(), "55", "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid recipient")
	assert.Contains(t, err.Error(), "400")
}

func TestClient_ContextDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	t.Cleanup(srv.Close)

	c, err := New(srv.URL, "")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, c.SendText(ctx, "55", "hi"))
}
