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
	"context"
	"strings"
)

// StubProvider returns deterministic canned chunks without making any
// network call. It backs operators with no configured provider key and
// gives tests a fully in-process Provider.
type StubProvider struct {
	// Chunks, if set, are yielded verbatim instead of the default echo
	// behavior (splitting UserPrompt on spaces).
	Chunks []string
	Finish FinishReason
	// Delay, when non-zero, is awaited before each chunk is sent,
	// letting tests exercise mid-stream cancellation and timeouts.
	Delay func(i int)
}

func (p *StubProvider) Name() string { return "stub" }

// StreamGenerate implements Provider. With no explicit Chunks configured
// it echoes the user prompt back, split into words, terminated by
// FinishStop (or Finish if set).
func (p *StubProvider) StreamGenerate(ctx context.Context, params GenerateParams) (<-chan Chunk, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	chunks := p.Chunks
	if chunks == nil {
		chunks = strings.Fields(params.UserPrompt)
		if len(chunks) == 0 {
			chunks = []string{emptyCompletionNotice}
		}
	}
	finish := p.Finish
	if finish == "" {
		finish = FinishStop
	}

	out := make(chan Chunk, len(chunks)+1)
	go func() {
		defer close(out)
		for i, text := range chunks {
			if p.Delay != nil {
				p.Delay(i)
			}
			if ctx.Err() != nil {
				out <- Chunk{Finish: FinishCancelled}
				return
			}
			out <- Chunk{Text: text}
		}
		if ctx.Err() != nil {
			out <- Chunk{Finish: FinishCancelled}
		} else {
			out <- Chunk{Finish: finish}
		}
	}()
	return out, nil
}
