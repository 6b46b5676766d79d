package apperr

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromStatus(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{401, ErrAuthentication},
		{403, ErrAuthentication},
		{404, ErrNotFound},
		{429, ErrRateLimit},
		{500, ErrTransport},
		{502, ErrTransport},
	}
	for _, c := range cases {
		t.Run(fmt.Sprint(c.status), func(t *testing.T) {
			err := FromStatus("op", c.status, "body")
			assert.ErrorIs(t, err, c.want)
			assert.Equal(t, c.status, err.StatusCode)
		})
	}
}

func TestIsMatchesThroughWrapping(t *testing.T) {
	base := &Error{Kind: KindRateLimit, Provider: "gemini"}
	wrapped := fmt.Errorf("generate: %w", base)

	assert.ErrorIs(t, wrapped, ErrRateLimit)
	assert.NotErrorIs(t, wrapped, ErrTimeout)
	assert.True(t, IsRetryable(wrapped))
	assert.Equal(t, KindRateLimit, KindOf(wrapped))
}

func TestKindOf_DeadlineIsTimeout(t *testing.T) {
	assert.Equal(t, KindTimeout, KindOf(fmt.Errorf("x: %w", context.DeadlineExceeded)))
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
}

func TestUserMessage(t *testing.T) {
	t.Run("auth names provider", func(t *testing.T) {
		msg := UserMessage(&Error{Kind: KindAuthentication, Provider: "openai"})
		assert.Contains(t, msg, "openai")
		assert.Contains(t, msg, "API key")
	})
	t.Run("wordpress auth", func(t *testing.T) {
		assert.Contains(t, UserMessage(FromStatus("wp", 401, "")), "application password")
	})
	t.Run("transport carries CORS hint", func(t *testing.T) {
		assert.Contains(t, UserMessage(FromStatus("wp", 500, "")), "CORS")
	})
	t.Run("malformed names provider", func(t *testing.T) {
		msg := UserMessage(&Error{Kind: KindMalformedResponse, Provider: "groq", Message: "no JSON found"})
		assert.Contains(t, msg, "Groq")
		assert.Contains(t, msg, "no JSON found")
	})
	t.Run("provider not found points at model", func(t *testing.T) {
		msg := UserMessage(&Error{Kind: KindNotFound, Provider: "openrouter", StatusCode: 404})
		assert.Contains(t, msg, "Openrouter")
		assert.Contains(t, msg, "model name")
		assert.NotContains(t, msg, "WordPress")
	})
	t.Run("wordpress not found", func(t *testing.T) {
		assert.Contains(t, UserMessage(FromStatus("wp", 404, "")), "WordPress REST API")
	})
	t.Run("validation", func(t *testing.T) {
		assert.Contains(t, UserMessage(Validation("text.model is required")), "text.model is required")
	})
	t.Run("nil", func(t *testing.T) {
		assert.Empty(t, UserMessage(nil))
	})
}
