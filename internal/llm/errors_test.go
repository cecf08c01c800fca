package llm

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRetryable(t *testing.T) {
	assert.False(t, Retryable(nil))
	assert.True(t, Retryable(Transientf("rate limited")))
	assert.True(t, Retryable(Malformedf("not json")))
	assert.False(t, Retryable(Fatalf("bad request")))
	assert.False(t, Retryable(context.Canceled))
	assert.False(t, Retryable(context.DeadlineExceeded))
	assert.False(t, Retryable(fmt.Errorf("wrapped: %w", context.Canceled)))
	assert.False(t, Retryable(fmt.Errorf("plain error")))
}

func TestKind(t *testing.T) {
	assert.Equal(t, "none", Kind(nil))
	assert.Equal(t, "transient", Kind(Transientf("x")))
	assert.Equal(t, "malformed", Kind(Malformedf("x")))
	assert.Equal(t, "fatal", Kind(Fatalf("x")))
	assert.Equal(t, "unknown", Kind(fmt.Errorf("x")))
}
