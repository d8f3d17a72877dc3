package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorFormatting(t *testing.T) {
	err := New(KindNotFound, "collection missing")
	assert.Equal(t, `[not_found] collection missing`, err.Error())

	wrapped := Wrap(KindProviderTransient, "embed call failed", fmt.Errorf("connection refused"))
	assert.Contains(t, wrapped.Error(), "provider_transient")
	assert.Contains(t, wrapped.Error(), "connection refused")
}

func TestWrapNil(t *testing.T) {
	assert.Nil(t, Wrap(KindInternal, "no-op", nil))
}

func TestUnwrapChain(t *testing.T) {
	cause := fmt.Errorf("socket closed")
	err := Wrap(KindTimeout, "search timed out", cause)

	require.ErrorIs(t, err, cause)
	assert.Equal(t, KindTimeout, KindOf(err))
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, ""},
		{"structured", New(KindConflict, "writer busy"), KindConflict},
		{"wrapped deeper", fmt.Errorf("outer: %w", New(KindCorruption, "sidecar unreadable")), KindCorruption},
		{"plain error", fmt.Errorf("boom"), KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		kind Kind
		want bool
	}{
		{KindProviderTransient, true},
		{KindProviderRateLimited, true},
		{KindTimeout, true},
		{KindProviderPermanent, false},
		{KindInvalidInput, false},
		{KindCancelled, false},
		{KindInternal, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(New(tt.kind, "x")))
		})
	}
}

func TestIsMatchesByKind(t *testing.T) {
	err := Newf(KindIncompatibleCollection, "dimension %d != %d", 384, 768)
	assert.True(t, Is(err, New(KindIncompatibleCollection, "")))
	assert.False(t, Is(err, New(KindNotFound, "")))
}

func TestWithDetailAndRetryAfter(t *testing.T) {
	err := New(KindProviderRateLimited, "quota exceeded").WithDetail("retry_after", "3")

	hint, ok := RetryAfter(err)
	require.True(t, ok)
	assert.Equal(t, "3", hint)

	_, ok = RetryAfter(New(KindProviderRateLimited, "no hint"))
	assert.False(t, ok)
}
