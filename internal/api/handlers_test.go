package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nkozdemir/character-chat-app/internal/auth"
	"github.com/nkozdemir/character-chat-app/internal/config"
	"github.com/nkozdemir/character-chat-app/internal/models"
	"github.com/nkozdemir/character-chat-app/internal/store"
	"github.com/nkozdemir/character-chat-app/internal/upstream"
)

type stubCompletions struct {
	configured bool
	payload    string
	body       io.ReadCloser
	err        error
	calls      int
	lastTurns  []upstream.Message
}

func (s *stubCompletions) Configured() bool { return s.configured }

func (s *stubCompletions) StreamCompletion(_ context.Context, messages []upstream.Message) (io.ReadCloser, error) {
	s.calls++
	s.lastTurns = messages
	if s.err != nil {
		return nil, s.err
	}
	if s.body != nil {
		return s.body, nil
	}
	return io.NopCloser(strings.NewReader(s.payload)), nil
}

func TestRelayStreamsDecodedFragments(t *testing.T) {
	router, st, stub := newTestServer(t)
	defer st.Close()

	stub.payload = strings.Join([]string{
		`data: {"choices":[{"delta":{"content":"Hi "}}]}`,
		``,
		`data: {"choices":[{"delta":{"content":"there"}}]}`,
		``,
		`data: [DONE]`,
		``,
	}, "\n")

	resp := doJSONRequest(t, router, http.MethodPost, "/api/chat", map[string]any{
		"characterId":  "luna-dreamweaver",
		"systemPrompt": "You are Luna.",
		"messages": []map[string]string{
			{"role": "user", "content": "Hello"},
		},
	}, nil)
	assertStatus(t, resp, http.StatusOK)
	if got := resp.Body.String(); got != "Hi there" {
		t.Fatalf("unexpected relayed text %q", got)
	}
	if ct := resp.Header().Get("Content-Type"); ct != "text/plain; charset=utf-8" {
		t.Fatalf("unexpected content type %q", ct)
	}
	if cc := resp.Header().Get("Cache-Control"); cc != "no-store" {
		t.Fatalf("unexpected cache control %q", cc)
	}
	if stub.calls != 1 {
		t.Fatalf("expected exactly one upstream call, got %d", stub.calls)
	}
	if len(stub.lastTurns) != 2 || stub.lastTurns[0].Role != "system" {
		t.Fatalf("expected system turn prepended, got %#v", stub.lastTurns)
	}
	if stub.lastTurns[0].Content != "You are Luna." {
		t.Fatalf("system prompt not forwarded: %q", stub.lastTurns[0].Content)
	}
}

func TestRelayMissingCredential(t *testing.T) {
	router, st, stub := newTestServer(t)
	defer st.Close()
	stub.configured = false

	resp := doJSONRequest(t, router, http.MethodPost, "/api/chat", map[string]any{
		"messages": []map[string]string{{"role": "user", "content": "Hello"}},
	}, nil)
	assertStatus(t, resp, http.StatusInternalServerError)
	if stub.calls != 0 {
		t.Fatalf("expected no upstream call without credentials, got %d", stub.calls)
	}
}

func TestRelayValidation(t *testing.T) {
	router, st, stub := newTestServer(t)
	defer st.Close()

	resp := doJSONRequest(t, router, http.MethodPost, "/api/chat", map[string]any{
		"characterId":  "luna-dreamweaver",
		"systemPrompt": "You are Luna.",
		"messages":     []map[string]string{},
	}, nil)
	assertStatus(t, resp, http.StatusBadRequest)

	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader("not json"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assertStatus(t, rec, http.StatusBadRequest)

	if stub.calls != 0 {
		t.Fatalf("expected no upstream calls on invalid input, got %d", stub.calls)
	}
}

func TestRelayUpstreamFailure(t *testing.T) {
	router, st, stub := newTestServer(t)
	defer st.Close()
	stub.err = &upstream.Error{Status: http.StatusTooManyRequests, Body: "rate limited"}

	resp := doJSONRequest(t, router, http.MethodPost, "/api/chat", map[string]any{
		"systemPrompt": "You are Luna.",
		"messages":     []map[string]string{{"role": "user", "content": "Hello"}},
	}, nil)
	assertStatus(t, resp, http.StatusBadGateway)
}

func TestRelayRejectsMissingSystemPrompt(t *testing.T) {
	router, st, stub := newTestServer(t)
	defer st.Close()

	resp := doJSONRequest(t, router, http.MethodPost, "/api/chat", map[string]any{
		"characterId": "luna-dreamweaver",
		"messages":    []map[string]string{{"role": "user", "content": "Hello"}},
	}, nil)
	assertStatus(t, resp, http.StatusBadRequest)
	if stub.calls != 0 {
		t.Fatalf("expected no upstream call without a system prompt, got %d", stub.calls)
	}
}

// failingBody yields one chunk and then breaks, like an upstream dying
// mid-response.
type failingBody struct {
	data []byte
	read bool
}

func (b *failingBody) Read(p []byte) (int, error) {
	if !b.read {
		b.read = true
		return copy(p, b.data), nil
	}
	return 0, errors.New("connection reset by peer")
}

func (b *failingBody) Close() error { return nil }

func TestRelayMidStreamFailureAbortsConnection(t *testing.T) {
	router, st, stub := newTestServer(t)
	defer st.Close()
	stub.body = &failingBody{data: []byte(`data: {"choices":[{"delta":{"content":"partial"}}]}` + "\n")}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(map[string]any{
		"systemPrompt": "You are Luna.",
		"messages":     []map[string]string{{"role": "user", "content": "Hello"}},
	}); err != nil {
		t.Fatalf("encode body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/chat", &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	recovered := func() (r any) {
		defer func() { r = recover() }()
		router.ServeHTTP(rec, req)
		return nil
	}()
	err, ok := recovered.(error)
	if !ok || !errors.Is(err, http.ErrAbortHandler) {
		t.Fatalf("expected the handler to abort the connection, got %v", recovered)
	}
	// The fragments received before the failure were already flushed.
	if got := rec.Body.String(); got != "partial" {
		t.Fatalf("expected the partial fragment to be flushed, got %q", got)
	}
}

func TestRelaySkipsMalformedEvents(t *testing.T) {
	router, st, stub := newTestServer(t)
	defer st.Close()

	stub.payload = strings.Join([]string{
		`data: {"choices":[{"delta":{"content":"ok"}}]}`,
		`data: {not valid json`,
		`: keep-alive`,
		`data: {"choices":[{"delta":{"content":"!"}}]}`,
		`data: [DONE]`,
	}, "\n")

	resp := doJSONRequest(t, router, http.MethodPost, "/api/chat", map[string]any{
		"systemPrompt": "You are Luna.",
		"messages":     []map[string]string{{"role": "user", "content": "Hello"}},
	}, nil)
	assertStatus(t, resp, http.StatusOK)
	if got := resp.Body.String(); got != "ok!" {
		t.Fatalf("unexpected relayed text %q", got)
	}
}

func TestHandlersEndToEndFlow(t *testing.T) {
	router, st, _ := newTestServer(t)
	defer st.Close()

	email := fmt.Sprintf("tester_%d@example.com", time.Now().UnixNano())
	password := "pass123"

	regResp := doJSONRequest(t, router, http.MethodPost, "/api/auth/register", map[string]string{
		"email":        email,
		"password":     password,
		"display_name": "Tester",
	}, nil)
	assertStatus(t, regResp, http.StatusCreated)
	var regBody struct {
		AuthToken string `json:"auth_token"`
		User      struct {
			ID string `json:"id"`
		} `json:"user"`
	}
	decodeJSON(t, regResp.Body.Bytes(), &regBody)
	if regBody.User.ID == "" || regBody.AuthToken == "" {
		t.Fatalf("expected user id and auth token in register response")
	}
	authHeader := map[string]string{"Authorization": "Bearer " + regBody.AuthToken}

	// Fresh account has no chats.
	listResp := doJSONRequest(t, router, http.MethodGet, "/api/chats", nil, authHeader)
	assertStatus(t, listResp, http.StatusOK)
	var listBody struct {
		Chats []models.ChatSession `json:"chats"`
	}
	decodeJSON(t, listResp.Body.Bytes(), &listBody)
	if len(listBody.Chats) != 0 {
		t.Fatalf("expected empty chat list, got %d", len(listBody.Chats))
	}

	// Opening a character creates its chat.
	ensureResp := doJSONRequest(t, router, http.MethodPost, "/api/chats/luna-dreamweaver", nil, authHeader)
	assertStatus(t, ensureResp, http.StatusOK)
	var ensureBody struct {
		Chat models.ChatSession `json:"chat"`
	}
	decodeJSON(t, ensureResp.Body.Bytes(), &ensureBody)
	if ensureBody.Chat.ID != "luna-dreamweaver" {
		t.Fatalf("unexpected chat id %q", ensureBody.Chat.ID)
	}

	// Reopening is idempotent.
	ensureResp2 := doJSONRequest(t, router, http.MethodPost, "/api/chats/luna-dreamweaver", nil, authHeader)
	assertStatus(t, ensureResp2, http.StatusOK)
	var ensureBody2 struct {
		Chat models.ChatSession `json:"chat"`
	}
	decodeJSON(t, ensureResp2.Body.Bytes(), &ensureBody2)
	if !ensureBody2.Chat.CreatedAt.Equal(ensureBody.Chat.CreatedAt) {
		t.Fatalf("reopening changed created_at: %v vs %v", ensureBody2.Chat.CreatedAt, ensureBody.Chat.CreatedAt)
	}

	// Append a user message and check the list preview follows.
	msgResp := doJSONRequest(t, router, http.MethodPost, "/api/chats/luna-dreamweaver/messages", map[string]string{
		"role":    "user",
		"content": "Hello Luna",
	}, authHeader)
	assertStatus(t, msgResp, http.StatusCreated)

	listResp = doJSONRequest(t, router, http.MethodGet, "/api/chats", nil, authHeader)
	assertStatus(t, listResp, http.StatusOK)
	decodeJSON(t, listResp.Body.Bytes(), &listBody)
	if len(listBody.Chats) != 1 || listBody.Chats[0].LastMessage != "Hello Luna" {
		t.Fatalf("expected preview to track the latest message, got %#v", listBody.Chats)
	}

	msgsResp := doJSONRequest(t, router, http.MethodGet, "/api/chats/luna-dreamweaver/messages", nil, authHeader)
	assertStatus(t, msgsResp, http.StatusOK)
	var msgsBody struct {
		Messages []models.Message `json:"messages"`
	}
	decodeJSON(t, msgsResp.Body.Bytes(), &msgsBody)
	if len(msgsBody.Messages) != 1 || msgsBody.Messages[0].Content != "Hello Luna" {
		t.Fatalf("unexpected messages %#v", msgsBody.Messages)
	}

	// Delete the chat, its history must go with it.
	delResp := doJSONRequest(t, router, http.MethodDelete, "/api/chats/luna-dreamweaver", nil, authHeader)
	assertStatus(t, delResp, http.StatusNoContent)

	msgsResp = doJSONRequest(t, router, http.MethodGet, "/api/chats/luna-dreamweaver/messages", nil, authHeader)
	assertStatus(t, msgsResp, http.StatusNotFound)

	// Logout revokes the token.
	logoutResp := doJSONRequest(t, router, http.MethodPost, "/api/auth/logout", nil, authHeader)
	assertStatus(t, logoutResp, http.StatusNoContent)

	listResp = doJSONRequest(t, router, http.MethodGet, "/api/chats", nil, authHeader)
	assertStatus(t, listResp, http.StatusUnauthorized)

	// Login again works with the same credentials.
	loginResp := doJSONRequest(t, router, http.MethodPost, "/api/auth/login", map[string]string{
		"email":    email,
		"password": password,
	}, nil)
	assertStatus(t, loginResp, http.StatusOK)
}

func TestEnsureChatUnknownCharacter(t *testing.T) {
	router, st, _ := newTestServer(t)
	defer st.Close()

	_, authHeader := registerAndLogin(t, router)
	resp := doJSONRequest(t, router, http.MethodPost, "/api/chats/nobody-here", nil, authHeader)
	assertStatus(t, resp, http.StatusNotFound)
}

func TestChatsRequireAuth(t *testing.T) {
	router, st, _ := newTestServer(t)
	defer st.Close()

	resp := doJSONRequest(t, router, http.MethodGet, "/api/chats", nil, nil)
	assertStatus(t, resp, http.StatusUnauthorized)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	router, st, _ := newTestServer(t)
	defer st.Close()

	body := map[string]string{
		"email":        "dup@example.com",
		"password":     "pass123",
		"display_name": "Dup",
	}
	resp := doJSONRequest(t, router, http.MethodPost, "/api/auth/register", body, nil)
	assertStatus(t, resp, http.StatusCreated)
	resp = doJSONRequest(t, router, http.MethodPost, "/api/auth/register", body, nil)
	assertStatus(t, resp, http.StatusConflict)
}

func registerAndLogin(t *testing.T, router *gin.Engine) (string, map[string]string) {
	t.Helper()
	email := fmt.Sprintf("tester_%d@example.com", time.Now().UnixNano())
	resp := doJSONRequest(t, router, http.MethodPost, "/api/auth/register", map[string]string{
		"email":        email,
		"password":     "pass123",
		"display_name": "Tester",
	}, nil)
	assertStatus(t, resp, http.StatusCreated)
	var body struct {
		AuthToken string `json:"auth_token"`
		User      struct {
			ID string `json:"id"`
		} `json:"user"`
	}
	decodeJSON(t, resp.Body.Bytes(), &body)
	return body.User.ID, map[string]string{"Authorization": "Bearer " + body.AuthToken}
}

func newTestServer(t *testing.T) (*gin.Engine, *store.Store, *stubCompletions) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st, err := store.Open(config.DatabaseConfig{Driver: "sqlite3", DSN: ":memory:"})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := st.Migrate("sqlite3"); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	authSvc := auth.NewService(st, nil, nil, time.Hour)
	stub := &stubCompletions{configured: true}
	handler := NewHandler(st, authSvc, stub, zap.NewNop())

	router := gin.New()
	router.Use(Recovery(zap.NewNop()))
	handler.RegisterRoutes(router)
	return router, st, stub
}

func doJSONRequest(t *testing.T, router *gin.Engine, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, data []byte, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("decode json: %v", err)
	}
}

func assertStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("unexpected status %d, body: %s", rec.Code, rec.Body.String())
	}
}
