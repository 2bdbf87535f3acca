package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromHTTPStatus(t *testing.T) {
	cases := []struct {
		status    int
		body      string
		kind      Kind
		retryable bool
	}{
		{http.StatusTooManyRequests, "slow down", KindRateLimited, true},
		{http.StatusGatewayTimeout, "", KindTimeout, true},
		{http.StatusBadGateway, "", KindUnavailable, true},
		{http.StatusRequestEntityTooLarge, "", KindInputTooLarge, false},
		{http.StatusBadRequest, "This model's maximum context length is 8192 tokens", KindInputTooLarge, false},
		{http.StatusUnsupportedMediaType, "", KindUnsupportedFormat, false},
		{http.StatusBadRequest, "bad json", KindMalformedInput, false},
	}
	for _, tc := range cases {
		err := FromHTTPStatus("embedding", tc.status, tc.body)
		kind, ok := KindOf(err)
		require.True(t, ok)
		assert.Equal(t, tc.kind, kind, "status %d", tc.status)
		assert.Equal(t, tc.retryable, errors.Is(err, ErrTransientProvider), "status %d", tc.status)
		assert.Equal(t, !tc.retryable, errors.Is(err, ErrTerminalInput), "status %d", tc.status)
	}
}

func TestFromTransportDeadline(t *testing.T) {
	err := FromTransport("tika", fmt.Errorf("do request: %w", context.DeadlineExceeded))
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindTimeout, kind)
	assert.True(t, IsRetryable(err))
}

func TestStageErrorMatchesSentinel(t *testing.T) {
	err := AtStage("embedding", FromHTTPStatus("embedding", 429, ""))
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
	assert.NotErrorIs(t, err, ErrIndexingFailed)
	assert.Equal(t, ClassTransient, ClassOf(err))

	wrapped := fmt.Errorf("process doc: %w", AtStage("extracting", NewProviderError("tika", KindUnsupportedFormat, nil)))
	assert.ErrorIs(t, wrapped, ErrExtractionFailed)
	assert.Equal(t, ClassTerminal, ClassOf(wrapped))
	assert.False(t, IsRetryable(wrapped))
}

func TestClassOf(t *testing.T) {
	assert.Equal(t, ClassConsistency, ClassOf(fmt.Errorf("acquire: %w", ErrLeaseHeld)))
	assert.Equal(t, ClassConfiguration, ClassOf(Configuration("missing %s", "embedding.base_url")))
	assert.Equal(t, ClassUnknown, ClassOf(errors.New("boom")))
	assert.True(t, IsRetryable(errors.New("connection reset")))
	assert.False(t, IsRetryable(nil))
}

func TestPublicDropsProviderBody(t *testing.T) {
	body := `{"error":{"message":"key sk-live-123 over quota","org":"acme"}}`
	err := fmt.Errorf("process doc: %w", AtStage("embedding", FromHTTPStatus("embedding", http.StatusTooManyRequests, body)))
	assert.Contains(t, err.Error(), "sk-live-123")
	assert.Equal(t, "stage embedding: embedding: rate_limited", Public(err))

	answer := fmt.Errorf("%w: %w", ErrAnswerGenerationFailed, FromHTTPStatus("llm", http.StatusBadGateway, "upstream trace id 42"))
	assert.Equal(t, "answer generation failed: llm: unavailable", Public(answer))

	assert.Equal(t, "record not found", Public(errors.New("record not found")))
	assert.Empty(t, Public(nil))
}
