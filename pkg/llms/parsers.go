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
	"net/http"
	"strconv"
	"time"

	"github.com/arborun/arbor/pkg/llms/httpx"
)

// parseRetryAfterHeader handles the plain Retry-After header common to
// both OpenAI and Anthropic's 429/503 responses.
func parseRetryAfterHeader(h http.Header) httpx.RateLimitInfo {
	info := httpx.RateLimitInfo{}
	if retryAfter := h.Get("Retry-After"); retryAfter != "" {
		if seconds, err := strconv.Atoi(retryAfter); err == nil {
			info.RetryAfter = time.Duration(seconds) * time.Second
		}
	}
	return info
}

// parseAnthropicRateLimitHeaders adds Anthropic's reset-time headers on
// top of the shared Retry-After handling.
func parseAnthropicRateLimitHeaders(h http.Header) httpx.RateLimitInfo {
	info := parseRetryAfterHeader(h)
	resetHeaders := []string{
		"anthropic-ratelimit-input-tokens-reset",
		"anthropic-ratelimit-output-tokens-reset",
		"anthropic-ratelimit-requests-reset",
	}
	for _, header := range resetHeaders {
		if resetStr := h.Get(header); resetStr != "" {
			if resetTime, err := time.Parse(time.RFC3339, resetStr); err == nil {
				info.ResetTime = resetTime.Unix()
				break
			}
		}
	}
	return info
}
