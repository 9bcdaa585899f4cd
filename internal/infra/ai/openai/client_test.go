package openai

import (
	"context"
	"errors"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/sitejournal/compliance/internal/domain/analysis"
)

func kindOf(t *testing.T, err error) domain.FailureKind {
	t.Helper()
	var pe *domain.ProviderError
	require.ErrorAs(t, err, &pe)
	return pe.Kind
}

func TestClassifyAPIErrors(t *testing.T) {
	cases := []struct {
		name   string
		status int
		want   domain.FailureKind
	}{
		{"server error", 500, domain.FailureTransient},
		{"bad gateway", 502, domain.FailureTransient},
		{"rate limit", 429, domain.FailureTransient},
		{"bad request", 400, domain.FailurePermanent},
		{"unprocessable", 422, domain.FailurePermanent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Classify(&openai.APIError{HTTPStatusCode: tc.status, Message: tc.name})
			assert.Equal(t, tc.want, kindOf(t, err))
		})
	}
}

func TestClassifyContextErrorsAreTransient(t *testing.T) {
	assert.Equal(t, domain.FailureTransient, kindOf(t, Classify(context.DeadlineExceeded)))
	assert.Equal(t, domain.FailureTransient, kindOf(t, Classify(context.Canceled)))
}

func TestClassifyUnknownErrorsAreTransient(t *testing.T) {
	assert.Equal(t, domain.FailureTransient, kindOf(t, Classify(errors.New("connection reset"))))
}

func TestParseVerdictCompliant(t *testing.T) {
	raw := `{"compliant":true,"summary":"certificate matches batch","non_compliances":[]}`
	v, nc, err := parseVerdict(raw)
	require.NoError(t, err)
	assert.True(t, v.Compliant)
	assert.Equal(t, "certificate matches batch", v.Summary)
	assert.Empty(t, nc)
}

func TestParseVerdictNonCompliant(t *testing.T) {
	raw := `{"compliant":false,"summary":"issues found","non_compliances":[
		{"issue":"expired certificate","severity":"critical","requirement":"GOST 31108","recommendation":"request a current certificate"}
	]}`
	v, nc, err := parseVerdict(raw)
	require.NoError(t, err)
	assert.False(t, v.Compliant)
	require.Len(t, nc, 1)
	assert.Equal(t, "expired certificate", nc[0].Issue)
	assert.Equal(t, "critical", nc[0].Severity)
}

func TestParseVerdictRejectsMalformedJSON(t *testing.T) {
	_, _, err := parseVerdict("not json at all")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unparseable")
}
