package core

import (
	"fmt"
	"testing"

	"github.com/ajitpratap0/finlake/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestErrorResultTransient(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
	}{
		{"timeout", errors.New(errors.ErrorTypeTimeout, "request cancelled"), true},
		{"rate limit", errors.New(errors.ErrorTypeRateLimit, "429"), true},
		{"bad gateway", errors.New(errors.ErrorTypeHTTP, "502").WithDetail("status", 502), true},
		{"bad request", errors.New(errors.ErrorTypeHTTP, "400").WithDetail("status", 400), false},
		{"missing credentials", errors.New(errors.ErrorTypeConfig, "ANBIMA_CLIENT_ID not set"), false},
		{"undecodable body", errors.New(errors.ErrorTypeData, "failed to decode JSON response"), false},
		{"plain error", fmt.Errorf("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := ErrorResult("src", "ds", DomainMacro, tt.err)
			assert.Equal(t, StatusError, res.Status)
			assert.Equal(t, tt.err.Error(), res.Metadata["error"])
			assert.Equal(t, tt.transient, res.Metadata["transient"])
			assert.Equal(t, tt.transient, res.Transient())
		})
	}

	assert.False(t, NewResult("src", "ds", DomainMacro, "").Transient())
}
