package ai

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/api/googleapi"

	"docintel-backend/services"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
		fatal     bool
	}{
		{"bad request", &googleapi.Error{Code: 400}, false, true},
		{"unauthorized", &googleapi.Error{Code: 401}, false, true},
		{"forbidden", &googleapi.Error{Code: 403}, false, true},
		{"rate limited", &googleapi.Error{Code: 429}, true, false},
		{"server error", &googleapi.Error{Code: 500}, true, false},
		{"bad gateway", &googleapi.Error{Code: 502}, true, false},
		{"invalid api key message", errors.New("API key not valid"), false, true},
		{"blocked prompt", errors.New("response blocked by safety settings"), false, true},
		{"unknown failure", errors.New("connection reset by peer"), true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			classified := classifyError(tt.err)
			assert.Equal(t, tt.transient, services.IsTransient(classified))
			assert.Equal(t, tt.fatal, services.IsFatal(classified))
		})
	}
}

func TestClassifyErrorPassesContextErrors(t *testing.T) {
	assert.Equal(t, context.Canceled, classifyError(context.Canceled))
	assert.Equal(t, context.DeadlineExceeded, classifyError(context.DeadlineExceeded))
}

func TestTokenCounterWindows(t *testing.T) {
	tc := &TokenCounter{limits: RateLimits{RPM: 2, TPM: 100, RPD: 3}}

	assert.True(t, tc.CanConsume(40, 1))
	tc.RecordUsage(40, 1)
	assert.True(t, tc.CanConsume(40, 1))
	tc.RecordUsage(40, 1)

	assert.False(t, tc.CanConsume(40, 1), "third request in the minute exceeds RPM")
	assert.False(t, tc.CanConsume(30, 0), "tokens beyond TPM are rejected")
}
