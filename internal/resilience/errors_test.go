package resilience

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"syscall"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"503", &StatusError{Service: "heidi", StatusCode: http.StatusServiceUnavailable}, true},
		{"429 wrapped", eris.Wrap(&StatusError{Service: "heidi", StatusCode: http.StatusTooManyRequests}, "fetch"), true},
		{"404", &StatusError{Service: "heidi", StatusCode: http.StatusNotFound}, false},
		{"401", &StatusError{Service: "heidi", StatusCode: http.StatusUnauthorized}, false},
		{"net timeout", timeoutErr{}, true},
		{"conn reset", fmt.Errorf("read: %w", syscall.ECONNRESET), true},
		{"broken pipe message", errors.New("write tcp: broken pipe"), true},
		{"context canceled", context.Canceled, false},
		{"plain", errors.New("invalid json"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestStatusError_Message(t *testing.T) {
	err := &StatusError{Service: "heidi", StatusCode: 502, Body: "bad gateway"}
	assert.Equal(t, "heidi: unexpected status 502: bad gateway", err.Error())
}

func TestIsTransientHTTPStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		assert.True(t, IsTransientHTTPStatus(code), code)
	}
	for _, code := range []int{200, 400, 401, 403, 404, 422} {
		assert.False(t, IsTransientHTTPStatus(code), code)
	}
}
