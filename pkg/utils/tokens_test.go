package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountTokens(t *testing.T) {
	tc, err := NewTokenCounter()
	require.NoError(t, err)

	assert.Equal(t, 0, tc.CountTokens(""))
	assert.Greater(t, tc.CountTokens("review the execution log and update the task id"), 0)
}

func TestCountTokensNilFallback(t *testing.T) {
	var tc *TokenCounter
	// 4 chars per token estimate when no codec is available.
	assert.Equal(t, 3, tc.CountTokens("abcdefghijkl"))
}
