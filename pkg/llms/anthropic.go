// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package llms

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/arborun/arbor/pkg/llms/httpx"
)

const anthropicDefaultHost = "https://api.anthropic.com"

// AnthropicProvider speaks the Anthropic Messages streaming protocol.
type AnthropicProvider struct {
	host       string
	httpClient *httpx.Client
}

// NewAnthropicProvider builds a provider pointed at host (or the default
// Anthropic host when empty).
func NewAnthropicProvider(host string) *AnthropicProvider {
	if host == "" {
		host = anthropicDefaultHost
	}
	return &AnthropicProvider{
		host: strings.TrimRight(host, "/"),
		httpClient: httpx.New(
			httpx.WithHeaderParser(parseAnthropicRateLimitHeaders),
		),
	}
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Temperature float64            `json:"temperature"`
	MaxTokens   int                `json:"max_tokens"`
	Stream      bool               `json:"stream"`
}

type anthropicStreamEvent struct {
	Type  string `json:"type"`
	Delta *struct {
		Type       string `json:"type"`
		Text       string `json:"text"`
		StopReason string `json:"stop_reason"`
	} `json:"delta"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// StreamGenerate implements Provider.
func (p *AnthropicProvider) StreamGenerate(ctx context.Context, params GenerateParams) (<-chan Chunk, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	maxTokens := params.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	reqBody, err := json.Marshal(anthropicRequest{
		Model:       params.Model,
		System:      params.SystemPrompt,
		Messages:    []anthropicMessage{{Role: "user", Content: buildUserContent(params)}},
		Temperature: params.Temperature,
		MaxTokens:   maxTokens,
		Stream:      true,
	})
	if err != nil {
		return nil, fmt.Errorf("llms: marshal anthropic request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.host+"/v1/messages", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("llms: build anthropic request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", params.APIKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Provider: p.Name(), Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return nil, &TransportError{Provider: p.Name(), Err: fmt.Errorf("http %d: %s", resp.StatusCode, string(body))}
	}

	out := make(chan Chunk, 16)
	go streamAnthropicBody(ctx, resp.Body, out)
	return out, nil
}

// streamAnthropicBody reads Anthropic's `data: {...}` SSE frames,
// forwarding text deltas from content_block_delta events and mapping
// message_delta.stop_reason to a FinishReason.
func streamAnthropicBody(ctx context.Context, body io.ReadCloser, out chan<- Chunk) {
	defer close(out)
	defer body.Close()

	sawText := false
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, ":") || !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")

		var event anthropicStreamEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			continue
		}

		switch event.Type {
		case "content_block_delta":
			if event.Delta != nil && event.Delta.Text != "" {
				sawText = true
				out <- Chunk{Text: event.Delta.Text}
			}
		case "message_delta":
			if event.Delta != nil {
				switch event.Delta.StopReason {
				case "max_tokens":
					out <- Chunk{Finish: FinishMaxTokens}
				default:
					if sawText {
						out <- Chunk{Finish: FinishStop}
					} else {
						out <- Chunk{Text: emptyCompletionNotice, Finish: FinishEmptyCompletion}
					}
				}
				return
			}
		case "error":
			if event.Error != nil {
				out <- Chunk{Text: blockedByPolicyNotice, Finish: FinishBlockedByPolicy}
				return
			}
		case "message_stop":
			if sawText {
				out <- Chunk{Finish: FinishStop}
			} else {
				out <- Chunk{Text: emptyCompletionNotice, Finish: FinishEmptyCompletion}
			}
			return
		}
	}
	if err := scanner.Err(); err != nil {
		out <- Chunk{Text: emptyCompletionNotice, Finish: FinishTransportFailure}
		return
	}
	if !sawText {
		out <- Chunk{Text: emptyCompletionNotice, Finish: FinishEmptyCompletion}
	}
}
