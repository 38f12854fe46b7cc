package errors

import (
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapPreservesStackAndDetails(t *testing.T) {
	inner := NewAPIError("unable to start the connector", 500, []byte("oops"))
	outer := Wrap(inner, ErrorTypeAPI, "start failed")

	require.NotNil(t, outer)
	assert.Equal(t, inner.Stack, outer.Stack)

	code, ok := StatusCode(outer)
	require.True(t, ok)
	assert.Equal(t, 500, code)
	assert.Equal(t, "oops", Body(outer))
}

func TestWrapNil(t *testing.T) {
	assert.Nil(t, Wrap(nil, ErrorTypeInternal, "nothing"))
}

func TestClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		config    bool
		api       bool
		retryable bool
	}{
		{"config", New(ErrorTypeConfig, "no endpoints"), true, false, false},
		{"api", NewAPIError("bad", 400, nil), false, true, false},
		{"connection", Wrap(io.EOF, ErrorTypeConnection, "dial"), false, true, true},
		{"timeout", New(ErrorTypeTimeout, "deadline"), false, true, true},
		{"plain", fmt.Errorf("plain"), false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.config, IsConfig(tt.err))
			assert.Equal(t, tt.api, IsAPI(tt.err))
			assert.Equal(t, tt.retryable, IsRetryable(tt.err))
		})
	}
}

func TestStatusCodeMissing(t *testing.T) {
	_, ok := StatusCode(New(ErrorTypeConfig, "x"))
	assert.False(t, ok)
	assert.Empty(t, Body(fmt.Errorf("plain")))
}
