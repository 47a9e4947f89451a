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
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/arborun/arbor/pkg/llms/httpx"
)

const openAIDefaultHost = "https://api.openai.com/v1"

// OpenAIProvider speaks the OpenAI-compatible Chat Completions streaming
// protocol, shared by OpenAI itself and any self-hosted gateway exposing
// the same wire format (vLLM, LiteLLM, Azure OpenAI, etc).
type OpenAIProvider struct {
	baseURL    string
	httpClient *httpx.Client
}

// NewOpenAIProvider builds a provider pointed at baseURL (or the default
// OpenAI host when empty).
func NewOpenAIProvider(baseURL string) *OpenAIProvider {
	if baseURL == "" {
		baseURL = openAIDefaultHost
	}
	return &OpenAIProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: httpx.New(
			httpx.WithHeaderParser(parseOpenAIRateLimitHeaders),
		),
	}
}

func (p *OpenAIProvider) Name() string { return "openai" }

type openAIChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIChatRequest struct {
	Model       string               `json:"model"`
	Messages    []openAIChatMessage  `json:"messages"`
	Temperature float64              `json:"temperature"`
	MaxTokens   int                  `json:"max_tokens,omitempty"`
	Stream      bool                 `json:"stream"`
}

type openAIChatStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// StreamGenerate implements Provider.
func (p *OpenAIProvider) StreamGenerate(ctx context.Context, params GenerateParams) (<-chan Chunk, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	messages := []openAIChatMessage{
		{Role: "system", Content: params.SystemPrompt},
		{Role: "user", Content: buildUserContent(params)},
	}
	reqBody, err := json.Marshal(openAIChatRequest{
		Model:       params.Model,
		Messages:    messages,
		Temperature: params.Temperature,
		MaxTokens:   params.MaxTokens,
		Stream:      true,
	})
	if err != nil {
		return nil, fmt.Errorf("llms: marshal openai request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("llms: build openai request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+strings.TrimSpace(params.APIKey))

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
	go streamOpenAIChatBody(ctx, resp.Body, out)
	return out, nil
}

// streamOpenAIChatBody reads the `data: {...}` SSE frames emitted by the
// Chat Completions streaming endpoint, forwarding content deltas and
// translating the terminal finish_reason.
func streamOpenAIChatBody(ctx context.Context, body io.ReadCloser, out chan<- Chunk) {
	defer close(out)
	defer body.Close()

	reader := bufio.NewReader(body)
	sawText := false
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			line = bytes.TrimSpace(line)
			if bytes.HasPrefix(line, []byte("data: ")) {
				data := line[len("data: "):]
				if string(data) == "[DONE]" {
					if !sawText {
						out <- Chunk{Text: emptyCompletionNotice, Finish: FinishEmptyCompletion}
					} else {
						out <- Chunk{Finish: FinishStop}
					}
					return
				}

				var streamChunk openAIChatStreamChunk
				if jsonErr := json.Unmarshal(data, &streamChunk); jsonErr != nil {
					slog.Debug("llms: failed to parse openai stream chunk", "error", jsonErr)
					continue
				}
				if streamChunk.Error != nil {
					out <- Chunk{Text: blockedByPolicyNotice, Finish: FinishBlockedByPolicy}
					return
				}
				for _, choice := range streamChunk.Choices {
					if choice.Delta.Content != "" {
						sawText = true
						out <- Chunk{Text: choice.Delta.Content}
					}
					if choice.FinishReason != nil {
						switch *choice.FinishReason {
						case "length":
							out <- Chunk{Finish: FinishMaxTokens}
						case "content_filter":
							out <- Chunk{Text: blockedByPolicyNotice, Finish: FinishBlockedByPolicy}
						default:
							if sawText {
								out <- Chunk{Finish: FinishStop}
							} else {
								out <- Chunk{Text: emptyCompletionNotice, Finish: FinishEmptyCompletion}
							}
						}
						return
					}
				}
			}
		}
		if err != nil {
			if err == io.EOF {
				if !sawText {
					out <- Chunk{Text: emptyCompletionNotice, Finish: FinishEmptyCompletion}
				} else {
					out <- Chunk{Finish: FinishStop}
				}
				return
			}
			out <- Chunk{Text: emptyCompletionNotice, Finish: FinishTransportFailure}
			return
		}
	}
}

func buildUserContent(params GenerateParams) string {
	if len(params.Images) == 0 {
		return params.UserPrompt
	}
	var b strings.Builder
	b.WriteString(params.UserPrompt)
	for _, img := range params.Images {
		encoded := base64.StdEncoding.EncodeToString(img.Data)
		b.WriteString("\n[inline image: ")
		b.WriteString(img.MIMEType)
		b.WriteString(" ")
		b.WriteString(encoded[:min(16, len(encoded))])
		b.WriteString("...]")
	}
	return b.String()
}

func parseOpenAIRateLimitHeaders(h http.Header) httpx.RateLimitInfo {
	return parseRetryAfterHeader(h)
}
