package sse

import (
	"bytes"
	"encoding/json"
	"strings"

	"go.uber.org/zap"
)

const (
	dataPrefix   = "data: "
	doneSentinel = "data: [DONE]"
)

// Decoder turns raw byte chunks of an upstream server-sent-event stream into
// ordered text fragments. Chunks may split anywhere, including in the middle
// of a line or a multi-byte character: bytes after the last newline are
// carried over until the next chunk completes them. Malformed payload lines
// are logged and skipped, never fatal.
type Decoder struct {
	buf []byte
	log *zap.Logger
}

// NewDecoder builds a decoder. A nil logger silences parse warnings.
func NewDecoder(log *zap.Logger) *Decoder {
	if log == nil {
		log = zap.NewNop()
	}
	return &Decoder{log: log}
}

// chunkPayload mirrors the OpenAI-style streaming completion frame. The
// incremental delta field is preferred; the full message field covers
// providers that send non-delta frames.
type chunkPayload struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Feed consumes one chunk and returns the fragments completed by it,
// in stream order.
func (d *Decoder) Feed(chunk []byte) []string {
	if len(chunk) == 0 {
		return nil
	}
	d.buf = append(d.buf, chunk...)

	var fragments []string
	for {
		idx := bytes.IndexByte(d.buf, '\n')
		if idx < 0 {
			break
		}
		line := string(d.buf[:idx])
		d.buf = d.buf[idx+1:]
		if frag, ok := d.decodeLine(line); ok {
			fragments = append(fragments, frag)
		}
	}
	return fragments
}

// Flush processes any trailing bytes as a final line (the upstream may end
// the stream without a terminating newline) and resets the decoder.
func (d *Decoder) Flush() []string {
	if len(d.buf) == 0 {
		return nil
	}
	line := string(d.buf)
	d.buf = nil
	if frag, ok := d.decodeLine(line); ok {
		return []string{frag}
	}
	return nil
}

func (d *Decoder) decodeLine(line string) (string, bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || trimmed == doneSentinel {
		return "", false
	}
	if !strings.HasPrefix(trimmed, dataPrefix) {
		return "", false
	}

	var payload chunkPayload
	if err := json.Unmarshal([]byte(trimmed[len(dataPrefix):]), &payload); err != nil {
		d.log.Warn("skipping malformed stream payload", zap.Error(err))
		return "", false
	}
	if len(payload.Choices) == 0 {
		return "", false
	}
	content := payload.Choices[0].Delta.Content
	if content == "" {
		content = payload.Choices[0].Message.Content
	}
	if content == "" {
		return "", false
	}
	return content, true
}
