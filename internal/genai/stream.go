package genai

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// Stream reads text fragments from a server-sent-events response body.
type Stream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	done    bool
}

func newStream(body io.ReadCloser) *Stream {
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 0, 64*1024), 4<<20)
	return &Stream{body: body, scanner: sc}
}

// Recv returns the next non-empty text fragment. It returns io.EOF when the
// stream ends; events without candidate text are skipped.
func (s *Stream) Recv() (string, error) {
	if s.done {
		return "", io.EOF
	}
	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}
		if payload == "[DONE]" {
			s.done = true
			return "", io.EOF
		}
		text, err := parseChunk([]byte(payload))
		if err != nil {
			return "", err
		}
		if text == "" {
			continue
		}
		return text, nil
	}
	if err := s.scanner.Err(); err != nil {
		return "", err
	}
	s.done = true
	return "", io.EOF
}

func (s *Stream) Close() error {
	return s.body.Close()
}

func parseChunk(payload []byte) (string, error) {
	var chunk struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	if err := json.Unmarshal(payload, &chunk); err != nil {
		return "", fmt.Errorf("decode stream chunk: %w", err)
	}
	if len(chunk.Candidates) == 0 {
		return "", nil
	}
	var b strings.Builder
	for _, part := range chunk.Candidates[0].Content.Parts {
		b.WriteString(part.Text)
	}
	return b.String(), nil
}
