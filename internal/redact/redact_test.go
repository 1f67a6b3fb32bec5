package redact

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestApplyScrubsKnownPatterns(t *testing.T) {
	r := New()
	cases := map[string]string{
		"Authorization: Bearer abc.def-123":            "Authorization: Bearer [REDACTED]",
		"key sk-abcdefghijklmnop1234 leaked":            "key [REDACTED_API_KEY] leaked",
		"api_key=hunter22 model=qwen":                   "api_key=[REDACTED] model=qwen",
		"POST https://user:pw@eval.internal/v1 failed": "POST https://[REDACTED]@eval.internal/v1 failed",
		"AIME24 score=0.53":                             "AIME24 score=0.53",
	}
	for input, want := range cases {
		assert.Equal(t, want, r.Apply(input), input)
	}
}

func TestApplyScrubsLiteralSecrets(t *testing.T) {
	r := New("", "abc", "s3cr3t-webhook-id")

	assert.Equal(t, "posting to https://hooks.example/[REDACTED]", r.Apply("posting to https://hooks.example/s3cr3t-webhook-id"))
	assert.Equal(t, "abc stays", r.Apply("abc stays"))
}

func TestNilRedactorPassesThrough(t *testing.T) {
	var r *Redactor
	assert.Equal(t, "token=x", r.Apply("token=x"))
}
