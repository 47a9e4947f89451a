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

import "context"

// Provider produces a lazy, finite, non-restartable sequence of text
// chunks from a remote LLM, respecting ctx cancellation. The returned
// channel is closed after the terminal chunk (carrying a FinishReason)
// is sent, or immediately on a setup error.
//
// Implementations guarantee: chunk ordering matches the provider's wire
// order; cancellation of ctx is observed within one chunk's bound; on
// EmptyCompletion or BlockedByPolicy a single synthetic chunk is
// surfaced instead of an empty stream.
type Provider interface {
	Name() string
	StreamGenerate(ctx context.Context, params GenerateParams) (<-chan Chunk, error)
}

// emptyCompletionNotice is the operator-visible text substituted for a
// provider response that produced no usable text.
const emptyCompletionNotice = "[no content returned by the model]"

// blockedByPolicyNotice is the operator-visible text substituted when a
// provider refuses generation on content-policy grounds.
const blockedByPolicyNotice = "[response withheld by provider content policy]"
