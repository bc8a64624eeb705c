package crm

import (
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"

	"github.com/sells-group/leadgen/internal/resilience"
)

func TestClassifySalesforceErrors(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
	}{
		{"rate limited", eris.New("429 Too Many Requests: REQUEST_LIMIT_EXCEEDED"), true},
		{"server error", eris.New("500 Internal Server Error"), true},
		{"bad gateway", eris.New("502 Bad Gateway"), true},
		{"unavailable", eris.New("503 Service Unavailable: UNABLE_TO_LOCK_ROW"), true},
		{"expired session", eris.New("401 Unauthorized: INVALID_SESSION_ID"), false},
		{"validation", eris.New("400 Bad Request: REQUIRED_FIELD_MISSING"), false},
		{"malformed soql", eris.New("MALFORMED_QUERY: unexpected token"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			classified := classify(tt.err)
			assert.Equal(t, tt.transient, resilience.IsTransient(classified))
			// Classification wraps, never swallows.
			assert.Contains(t, classified.Error(), tt.err.Error())
		})
	}

	assert.NoError(t, classify(nil))
}

func TestClassifySurvivesErisWrapping(t *testing.T) {
	// The adapter wraps classified errors with call context; the
	// transient marker must stay visible to the retry loop through
	// that wrapping.
	err := eris.Wrap(classify(eris.New("429 Too Many Requests")), "crm: create account")
	assert.True(t, resilience.IsTransient(err))

	var te *resilience.TransientError
	assert.ErrorAs(t, err, &te)
	assert.Equal(t, 429, te.StatusCode)
}
