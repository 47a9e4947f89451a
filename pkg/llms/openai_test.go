package llms

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAIProvider_StreamGenerate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher := w.(http.Flusher)
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n")
		flusher.Flush()
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n")
		flusher.Flush()
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"stop\"}]}\n\n")
		flusher.Flush()
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	}))
	defer server.Close()

	p := NewOpenAIProvider(server.URL)
	ch, err := p.StreamGenerate(context.Background(), GenerateParams{
		APIKey:     "sk-test",
		Model:      "gpt-4o-mini",
		UserPrompt: "hi",
	})
	require.NoError(t, err)

	var text string
	var finish FinishReason
	for c := range ch {
		text += c.Text
		if c.Finish != "" {
			finish = c.Finish
		}
	}
	assert.Equal(t, "Hello", text)
	assert.Equal(t, FinishStop, finish)
}

func TestOpenAIProvider_NonOKStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"invalid key"}}`)
	}))
	defer server.Close()

	p := NewOpenAIProvider(server.URL)
	_, err := p.StreamGenerate(context.Background(), GenerateParams{
		APIKey: "bad", Model: "gpt-4o-mini", UserPrompt: "hi",
	})
	require.Error(t, err)
	var transportErr *TransportError
	assert.ErrorAs(t, err, &transportErr)
}

func TestOpenAIProvider_ValidatesParams(t *testing.T) {
	p := NewOpenAIProvider("")
	_, err := p.StreamGenerate(context.Background(), GenerateParams{Model: "m"})
	assert.Error(t, err)
}
