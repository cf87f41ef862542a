package providers

import (
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/BaSui01/groundwork/llm"
)

func TestMapHTTPError(t *testing.T) {
	tests := []struct {
		status    int
		wantCode  llm.ErrorCode
		retryable bool
	}{
		{http.StatusUnauthorized, llm.ErrUnauthorized, false},
		{http.StatusForbidden, llm.ErrForbidden, false},
		{http.StatusTooManyRequests, llm.ErrRateLimited, true},
		{http.StatusBadRequest, llm.ErrInvalidRequest, false},
		{http.StatusNotFound, llm.ErrInvalidRequest, false},
		{http.StatusGatewayTimeout, llm.ErrUpstreamTimeout, true},
		{http.StatusInternalServerError, llm.ErrUpstreamError, true},
		{http.StatusServiceUnavailable, llm.ErrUpstreamError, true},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			err := MapHTTPError(tt.status, "test error", "test-provider")
			assert.Equal(t, tt.wantCode, err.Code)
			assert.Equal(t, tt.retryable, err.Retryable)
			assert.Equal(t, tt.retryable, llm.IsRetryable(err))
			assert.Equal(t, "test-provider", err.Provider)
			assert.Equal(t, tt.status, err.HTTPStatus)
		})
	}
}

func TestTransportError(t *testing.T) {
	err := TransportError(errors.New("dial tcp: refused"), "openai")
	assert.True(t, llm.IsRetryable(err))
	assert.Equal(t, http.StatusBadGateway, err.HTTPStatus)
}

func TestReadErrorMessage(t *testing.T) {
	assert.Equal(t, "bad key (type: auth)", ReadErrorMessage(strings.NewReader(`{"error":{"message":"bad key","type":"auth"}}`)))
	assert.Equal(t, "bad key", ReadErrorMessage(strings.NewReader(`{"error":{"message":"bad key"}}`)))
	assert.Equal(t, "upstream exploded", ReadErrorMessage(strings.NewReader("upstream exploded\n")))
}

func TestChooseModel(t *testing.T) {
	assert.Equal(t, "req-model", ChooseModel("req-model", "default", "fallback"))
	assert.Equal(t, "default", ChooseModel("", "default", "fallback"))
	assert.Equal(t, "fallback", ChooseModel("", "", "fallback"))
}
