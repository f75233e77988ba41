package api

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nkozdemir/character-chat-app/internal/sse"
	"github.com/nkozdemir/character-chat-app/internal/upstream"
)

type relayTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type relayRequest struct {
	CharacterID  string      `json:"characterId"`
	SystemPrompt string      `json:"systemPrompt"`
	Messages     []relayTurn `json:"messages"`
}

// relayChat proxies one streamed completion. The provider's event framing is
// decoded on the fly and only the text fragments are forwarded, flushed as
// plain text as they arrive, so the client sees tokens without buffering.
func (h *Handler) relayChat(c *gin.Context) {
	if !h.upstream.Configured() {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "missing api credentials"})
		return
	}
	var req relayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.SystemPrompt == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "system prompt is required"})
		return
	}
	if len(req.Messages) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "messages are required"})
		return
	}

	turns := make([]upstream.Message, 0, len(req.Messages)+1)
	turns = append(turns, upstream.Message{Role: "system", Content: req.SystemPrompt})
	for _, msg := range req.Messages {
		turns = append(turns, upstream.Message{Role: msg.Role, Content: msg.Content})
	}

	body, err := h.upstream.StreamCompletion(c.Request.Context(), turns)
	if err != nil {
		h.log.Error("upstream request failed",
			zap.String("character", req.CharacterID),
			zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to get ai response"})
		return
	}
	defer body.Close()

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}
	c.Writer.Header().Set("Content-Type", "text/plain; charset=utf-8")
	c.Writer.Header().Set("Cache-Control", "no-store")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	writeFragments := func(fragments []string) bool {
		for _, fragment := range fragments {
			if _, err := io.WriteString(c.Writer, fragment); err != nil {
				h.log.Debug("client went away mid-stream", zap.Error(err))
				return false
			}
		}
		if len(fragments) > 0 {
			flusher.Flush()
		}
		return true
	}

	decoder := sse.NewDecoder(h.log)
	buf := make([]byte, 4096)
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			if !writeFragments(decoder.Feed(buf[:n])) {
				return
			}
		}
		if readErr == io.EOF {
			writeFragments(decoder.Flush())
			return
		}
		if readErr != nil {
			// The status line is already out, so the only honest signal
			// left is tearing the connection down.
			h.log.Error("upstream stream broke mid-response",
				zap.String("character", req.CharacterID),
				zap.Error(readErr))
			panic(http.ErrAbortHandler)
		}
	}
}
