package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/graphflow/types"
)

func TestMapHTTPError(t *testing.T) {
	tests := []struct {
		status    int
		code      types.ErrorCode
		retryable bool
	}{
		{http.StatusBadRequest, types.ErrValidation, false},
		{http.StatusUnauthorized, types.ErrUpstream, false},
		{http.StatusRequestTimeout, types.ErrTimeout, true},
		{http.StatusTooManyRequests, types.ErrUpstream, true},
		{http.StatusInternalServerError, types.ErrUpstream, true},
		{http.StatusBadGateway, types.ErrUpstream, true},
		{http.StatusGatewayTimeout, types.ErrTimeout, true},
	}
	for _, tt := range tests {
		err := MapHTTPError(tt.status, "detail")
		assert.Equal(t, tt.code, err.Code, "status %d", tt.status)
		assert.Equal(t, tt.retryable, types.IsRetryable(err), "status %d", tt.status)
	}
}

func TestComplete_RoundTrip(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)
		require.Len(t, req.Messages, 1)

		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": "pong"}},
			},
		})
	}))
	defer srv.Close()

	p := NewOpenAIProvider(OpenAIConfig{BaseURL: srv.URL, APIKey: "sk-test", Model: "test-model"})
	out, err := p.Complete(context.Background(), "ping")
	require.NoError(t, err)
	assert.Equal(t, "pong", out)
	assert.Equal(t, "Bearer sk-test", gotAuth)
}

func TestComplete_UpstreamStatusMapped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := NewOpenAIProvider(OpenAIConfig{BaseURL: srv.URL, Model: "m"})
	_, err := p.Complete(context.Background(), "ping")
	require.Error(t, err)
	assert.Equal(t, types.ErrUpstream, types.GetErrorCode(err))
	assert.True(t, types.IsRetryable(err))
}

func TestComplete_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider(OpenAIConfig{BaseURL: srv.URL, Model: "m"})
	_, err := p.Complete(context.Background(), "ping")
	require.Error(t, err)
	assert.Equal(t, types.ErrUpstream, types.GetErrorCode(err))
}
