// Package chatclient drives one chat turn end to end: persist the user
// message, stream the assistant reply from the relay with progressive
// reveal, and persist the finalized reply. It is the client half of the
// relay's producer/consumer pair.
package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/nkozdemir/character-chat-app/internal/models"
	"github.com/nkozdemir/character-chat-app/internal/persona"
)

// State tracks the cooperative single-send guard: new sends are only
// accepted while idle.
type State int

const (
	StateIdle State = iota
	StateSending
	StateStreaming
)

// ErrSendInFlight rejects a send started while another is outstanding.
var ErrSendInFlight = errors.New("a send is already in flight")

// RetryableError marks failures the user can recover from by resending the
// turn. RestoreInput is set when the typed text was never persisted and
// should be put back into the input box.
type RetryableError struct {
	RestoreInput bool
	err          error
}

func (e *RetryableError) Error() string { return e.err.Error() }
func (e *RetryableError) Unwrap() error { return e.err }

// Gateway is the slice of the store the consumer persists through.
type Gateway interface {
	AppendMessage(ctx context.Context, userID, chatID string, role models.Role, content string) (*models.Message, error)
}

// Config wires a Client.
type Config struct {
	Gateway  Gateway
	RelayURL string

	// OnStreaming publishes the transient streaming message after every
	// received chunk. OnStreamEnd clears it. Either may be nil.
	OnStreaming func(models.Message)
	OnStreamEnd func()

	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client submits turns to the relay endpoint and reconstructs the streamed
// reply incrementally.
type Client struct {
	gateway     Gateway
	relayURL    string
	onStreaming func(models.Message)
	onStreamEnd func()
	httpClient  *http.Client
	log         *zap.Logger

	mu    sync.Mutex
	state State
}

// New builds a Client.
func New(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		gateway:     cfg.Gateway,
		relayURL:    cfg.RelayURL,
		onStreaming: cfg.OnStreaming,
		onStreamEnd: cfg.OnStreamEnd,
		httpClient:  httpClient,
		log:         log,
	}
}

// State returns the current send state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

type relayTurn struct {
	Role    models.Role `json:"role"`
	Content string      `json:"content"`
}

type relayRequest struct {
	CharacterID  string      `json:"characterId"`
	SystemPrompt string      `json:"systemPrompt"`
	Messages     []relayTurn `json:"messages"`
}

// Send runs one full turn: the user message is persisted first, then the
// prior history plus the new turn is submitted to the relay and the reply is
// streamed back. The finalized assistant message is returned once persisted;
// an empty completion persists nothing and returns nil.
func (c *Client) Send(ctx context.Context, userID string, p persona.Persona, history []models.Message, content string) (*models.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, errors.New("content cannot be empty")
	}

	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return nil, ErrSendInFlight
	}
	c.state = StateSending
	c.mu.Unlock()
	defer c.setState(StateIdle)

	if _, err := c.gateway.AppendMessage(ctx, userID, p.ID, models.RoleUser, content); err != nil {
		return nil, &RetryableError{RestoreInput: true, err: fmt.Errorf("send message: %w", err)}
	}

	turns := make([]relayTurn, 0, len(history)+1)
	for _, msg := range history {
		if msg.Content == "" {
			continue
		}
		turns = append(turns, relayTurn{Role: msg.Role, Content: msg.Content})
	}
	turns = append(turns, relayTurn{Role: models.RoleUser, Content: content})

	payload, err := json.Marshal(relayRequest{
		CharacterID:  p.ID,
		SystemPrompt: p.SystemPrompt,
		Messages:     turns,
	})
	if err != nil {
		return nil, &RetryableError{err: fmt.Errorf("encode request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.relayURL, bytes.NewReader(payload))
	if err != nil {
		return nil, &RetryableError{err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &RetryableError{err: fmt.Errorf("reach relay: %w", err)}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &RetryableError{err: fmt.Errorf("relay returned status %d", resp.StatusCode)}
	}

	c.setState(StateStreaming)
	assistant, err := c.consume(ctx, resp.Body, userID, p.ID)
	if err != nil {
		return nil, err
	}
	return assistant, nil
}

// consume pumps the relay's outbound stream, publishing the transient
// streaming message after every chunk and persisting the trimmed result on
// clean completion.
func (c *Client) consume(ctx context.Context, body io.Reader, userID, chatID string) (*models.Message, error) {
	defer c.clearStreaming()

	var accumulated []byte
	buf := make([]byte, 2048)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			accumulated = append(accumulated, buf[:n]...)
			c.publishStreaming(chatID, accumulated)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			c.log.Warn("reply stream broke", zap.String("chat", chatID), zap.Error(err))
			return nil, &RetryableError{err: fmt.Errorf("read stream: %w", err)}
		}
	}

	final := strings.TrimSpace(string(accumulated))
	if final == "" {
		return nil, nil
	}
	msg, err := c.gateway.AppendMessage(ctx, userID, chatID, models.RoleAssistant, final)
	if err != nil {
		return nil, &RetryableError{err: fmt.Errorf("save reply: %w", err)}
	}
	return msg, nil
}

// publishStreaming emits the transient projection. The trailing bytes of an
// incomplete multi-byte character are held back so the UI never paints a
// mangled rune; they are included once the next chunk completes them.
func (c *Client) publishStreaming(chatID string, accumulated []byte) {
	if c.onStreaming == nil {
		return
	}
	c.onStreaming(models.Message{
		ID:        "streaming",
		ChatID:    chatID,
		Role:      models.RoleAssistant,
		Content:   string(completeRunes(accumulated)),
		CreatedAt: time.Now(),
		Streaming: true,
	})
}

func (c *Client) clearStreaming() {
	if c.onStreamEnd != nil {
		c.onStreamEnd()
	}
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// completeRunes returns the longest prefix of b that ends on a UTF-8
// character boundary.
func completeRunes(b []byte) []byte {
	for end := len(b); end > 0 && len(b)-end < utf8.UTFMax; end-- {
		if r, _ := utf8.DecodeLastRune(b[:end]); r != utf8.RuneError {
			return b[:end]
		}
	}
	if len(b) < utf8.UTFMax {
		return nil
	}
	return b
}
