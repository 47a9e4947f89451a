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

// Package llms implements the orchestrator's LLM Streaming Client (C1):
// a uniform, cancellable, chunked text generation contract over
// multiple providers.
package llms

import "fmt"

// FinishReason is the terminal signal a stream carries once exhausted.
type FinishReason string

const (
	FinishStop             FinishReason = "stop"
	FinishMaxTokens        FinishReason = "max_tokens"
	FinishCancelled        FinishReason = "cancelled"
	FinishEmptyCompletion  FinishReason = "empty_completion"
	FinishBlockedByPolicy  FinishReason = "blocked_by_policy"
	FinishTransportFailure FinishReason = "transport_failure"
)

// Chunk is one element of a generate_stream result: either a non-empty
// text fragment, or (on the final element) a terminal FinishReason.
type Chunk struct {
	Text   string
	Finish FinishReason
}

// Image is an opaque inline image buffer attached to a generation request.
type Image struct {
	MIMEType string
	Data     []byte
}

// GenerateParams is the input to Provider.StreamGenerate, matching
// spec.md's generate_stream(api_key, model, system_prompt, user_prompt,
// images?, temperature, max_tokens, cancel_token).
type GenerateParams struct {
	APIKey       string
	Model        string
	SystemPrompt string
	UserPrompt   string
	Images       []Image
	Temperature  float64
	MaxTokens    int
}

// Validate enforces the input constraints named in spec.md §4.1.
func (p GenerateParams) Validate() error {
	if p.APIKey == "" {
		return fmt.Errorf("llms: api key is required")
	}
	if p.Model == "" {
		return fmt.Errorf("llms: model is required")
	}
	if p.Temperature < 0 || p.Temperature > 2 {
		return fmt.Errorf("llms: temperature %f out of range [0, 2]", p.Temperature)
	}
	return nil
}

// TransportError wraps a non-retryable or exhausted-retry failure
// reaching the provider, distinct from a provider-reported policy block.
type TransportError struct {
	Provider string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("llms: %s transport failure: %v", e.Provider, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
