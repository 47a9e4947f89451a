package llms

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(t *testing.T, ch <-chan Chunk) []Chunk {
	t.Helper()
	var out []Chunk
	for c := range ch {
		out = append(out, c)
	}
	return out
}

func TestStubProvider_EchoesUserPrompt(t *testing.T) {
	p := &StubProvider{}
	ch, err := p.StreamGenerate(context.Background(), GenerateParams{
		APIKey:     "key",
		Model:      "stub-model",
		UserPrompt: "hello there friend",
	})
	require.NoError(t, err)

	chunks := drain(t, ch)
	require.Len(t, chunks, 4)
	assert.Equal(t, "hello", chunks[0].Text)
	assert.Equal(t, "there", chunks[1].Text)
	assert.Equal(t, "friend", chunks[2].Text)
	assert.Equal(t, FinishStop, chunks[3].Finish)
}

func TestStubProvider_EmptyPromptYieldsSyntheticChunk(t *testing.T) {
	p := &StubProvider{}
	ch, err := p.StreamGenerate(context.Background(), GenerateParams{
		APIKey: "key",
		Model:  "stub-model",
	})
	require.NoError(t, err)

	chunks := drain(t, ch)
	require.Len(t, chunks, 2)
	assert.Equal(t, emptyCompletionNotice, chunks[0].Text)
	assert.Equal(t, FinishStop, chunks[1].Finish)
}

func TestStubProvider_ValidatesParams(t *testing.T) {
	p := &StubProvider{}
	_, err := p.StreamGenerate(context.Background(), GenerateParams{Model: "m"})
	assert.Error(t, err)

	_, err = p.StreamGenerate(context.Background(), GenerateParams{APIKey: "k", Model: "m", Temperature: 3})
	assert.Error(t, err)
}

func TestStubProvider_CancellationStopsStream(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := &StubProvider{
		Chunks: []string{"one", "two", "three"},
		Delay: func(i int) {
			if i == 1 {
				cancel()
				time.Sleep(10 * time.Millisecond)
			}
		},
	}
	ch, err := p.StreamGenerate(ctx, GenerateParams{APIKey: "k", Model: "m"})
	require.NoError(t, err)

	chunks := drain(t, ch)
	require.NotEmpty(t, chunks)
	last := chunks[len(chunks)-1]
	assert.Equal(t, FinishCancelled, last.Finish)
}
