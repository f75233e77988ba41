package chatclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/nkozdemir/character-chat-app/internal/models"
	"github.com/nkozdemir/character-chat-app/internal/persona"
)

type fakeGateway struct {
	mu       sync.Mutex
	appended []models.Message
	failRole models.Role
}

func (g *fakeGateway) AppendMessage(_ context.Context, _, chatID string, role models.Role, content string) (*models.Message, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if role == g.failRole && g.failRole != "" {
		return nil, errors.New("db unavailable")
	}
	msg := models.Message{
		ID:        uuid.NewString(),
		ChatID:    chatID,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	g.appended = append(g.appended, msg)
	return &msg, nil
}

func (g *fakeGateway) messages() []models.Message {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]models.Message, len(g.appended))
	copy(out, g.appended)
	return out
}

func testPersona(t *testing.T) persona.Persona {
	t.Helper()
	p, ok := persona.Get("luna-dreamweaver")
	require.True(t, ok)
	return p
}

// chunkedRelay writes each fragment with an explicit flush so the consumer
// sees them one at a time.
func chunkedRelay(t *testing.T, fragments []string, capture *relayRequest) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if capture != nil {
			require.NoError(t, json.NewDecoder(r.Body).Decode(capture))
		}
		flusher, ok := w.(http.Flusher)
		require.True(t, ok)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		for _, fragment := range fragments {
			_, err := w.Write([]byte(fragment))
			require.NoError(t, err)
			flusher.Flush()
		}
	}))
}

func TestSendStreamsAndPersists(t *testing.T) {
	gw := &fakeGateway{}
	var captured relayRequest
	srv := chunkedRelay(t, []string{"Hello", " world"}, &captured)
	defer srv.Close()

	var streamed []string
	var cleared bool
	client := New(Config{
		Gateway:     gw,
		RelayURL:    srv.URL,
		OnStreaming: func(msg models.Message) { streamed = append(streamed, msg.Content) },
		OnStreamEnd: func() { cleared = true },
	})

	p := testPersona(t)
	history := []models.Message{
		{Role: models.RoleUser, Content: "earlier question"},
		{Role: models.RoleAssistant, Content: "earlier answer"},
	}
	reply, err := client.Send(context.Background(), "u1", p, history, "  new question  ")
	require.NoError(t, err)
	require.NotNil(t, reply)
	require.Equal(t, models.RoleAssistant, reply.Role)
	require.Equal(t, "Hello world", reply.Content)

	msgs := gw.messages()
	require.Len(t, msgs, 2)
	require.Equal(t, models.RoleUser, msgs[0].Role)
	require.Equal(t, "new question", msgs[0].Content, "input must be trimmed before persisting")
	require.Equal(t, models.RoleAssistant, msgs[1].Role)

	require.NotEmpty(t, streamed, "streaming callback must fire while chunks arrive")
	require.Equal(t, "Hello world", streamed[len(streamed)-1])
	for _, content := range streamed {
		require.True(t, len(content) <= len("Hello world"))
	}
	require.True(t, cleared, "transient message must be cleared at stream end")

	require.Equal(t, p.ID, captured.CharacterID)
	require.Equal(t, p.SystemPrompt, captured.SystemPrompt)
	require.Len(t, captured.Messages, 3, "history plus the new turn")
	require.Equal(t, "new question", captured.Messages[2].Content)

	require.Equal(t, StateIdle, client.State())
}

func TestSendSkipsEmptyHistoryTurns(t *testing.T) {
	gw := &fakeGateway{}
	var captured relayRequest
	srv := chunkedRelay(t, []string{"ok"}, &captured)
	defer srv.Close()

	client := New(Config{Gateway: gw, RelayURL: srv.URL})
	history := []models.Message{
		{Role: models.RoleUser, Content: "kept"},
		{Role: models.RoleAssistant, Content: ""},
	}
	_, err := client.Send(context.Background(), "u1", testPersona(t), history, "hi")
	require.NoError(t, err)
	require.Len(t, captured.Messages, 2, "blank history turns are dropped")
}

func TestSendEmptyCompletionNotPersisted(t *testing.T) {
	gw := &fakeGateway{}
	srv := chunkedRelay(t, []string{"   ", "\n"}, nil)
	defer srv.Close()

	client := New(Config{Gateway: gw, RelayURL: srv.URL})
	reply, err := client.Send(context.Background(), "u1", testPersona(t), nil, "hi")
	require.NoError(t, err)
	require.Nil(t, reply, "a blank completion yields no assistant message")

	msgs := gw.messages()
	require.Len(t, msgs, 1)
	require.Equal(t, models.RoleUser, msgs[0].Role)
}

func TestSendUserPersistFailureRestoresInput(t *testing.T) {
	gw := &fakeGateway{failRole: models.RoleUser}
	client := New(Config{Gateway: gw, RelayURL: "http://127.0.0.1:0"})

	_, err := client.Send(context.Background(), "u1", testPersona(t), nil, "hi")
	var retryable *RetryableError
	require.ErrorAs(t, err, &retryable)
	require.True(t, retryable.RestoreInput, "unsent text must go back into the input box")
}

func TestSendRelayUnreachableIsRetryable(t *testing.T) {
	gw := &fakeGateway{}
	srv := chunkedRelay(t, nil, nil)
	srv.Close()

	client := New(Config{Gateway: gw, RelayURL: srv.URL})
	_, err := client.Send(context.Background(), "u1", testPersona(t), nil, "hi")
	var retryable *RetryableError
	require.ErrorAs(t, err, &retryable)
	require.False(t, retryable.RestoreInput, "the user message was already persisted")

	msgs := gw.messages()
	require.Len(t, msgs, 1, "no assistant message on transport failure")
	require.Equal(t, StateIdle, client.State())
}

func TestSendRelayErrorStatusIsRetryable(t *testing.T) {
	gw := &fakeGateway{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":"missing api credentials"}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := New(Config{Gateway: gw, RelayURL: srv.URL})
	_, err := client.Send(context.Background(), "u1", testPersona(t), nil, "hi")
	var retryable *RetryableError
	require.ErrorAs(t, err, &retryable)
	require.Len(t, gw.messages(), 1)
}

func TestSendRejectsConcurrentSend(t *testing.T) {
	gw := &fakeGateway{}
	release := make(chan struct{})
	entered := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		close(entered)
		<-release
		w.Write([]byte("late"))
	}))
	defer srv.Close()

	client := New(Config{Gateway: gw, RelayURL: srv.URL})

	done := make(chan error, 1)
	go func() {
		_, err := client.Send(context.Background(), "u1", testPersona(t), nil, "first")
		done <- err
	}()

	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatal("first send never reached the relay")
	}

	_, err := client.Send(context.Background(), "u1", testPersona(t), nil, "second")
	require.ErrorIs(t, err, ErrSendInFlight)

	close(release)
	require.NoError(t, <-done)
	require.Equal(t, StateIdle, client.State())
}

func TestSendRejectsBlankContent(t *testing.T) {
	client := New(Config{Gateway: &fakeGateway{}, RelayURL: "http://127.0.0.1:0"})
	_, err := client.Send(context.Background(), "u1", testPersona(t), nil, "   ")
	require.Error(t, err)
	var retryable *RetryableError
	require.False(t, errors.As(err, &retryable), "validation failures are not retryable sends")
}

func TestCompleteRunesHoldsBackPartial(t *testing.T) {
	full := []byte("héllo 🌙")
	for cut := 0; cut <= len(full); cut++ {
		prefix := completeRunes(full[:cut])
		require.True(t, len(prefix) <= cut)
		for _, r := range string(prefix) {
			require.NotEqual(t, '�', r, "cut at %d leaked a partial rune", cut)
		}
	}
}
