package fetch

import (
	"errors"
	"testing"

	"github.com/vietddude/curator/internal/infra/fetch/retry"
)

func TestClassifyRunError(t *testing.T) {
	base := errors.New("exit status 1")

	tests := []struct {
		stderr string
		want   retry.Kind
	}{
		{"ERROR: Sign in to confirm you're not a bot", retry.KindCredentialBlocked},
		{"ERROR: This video requires login required", retry.KindCredentialBlocked},
		{"ERROR: cookies are no longer valid", retry.KindCredentialBlocked},
		{"ERROR: consent page detected", retry.KindCredentialBlocked},
		{"ERROR: The uploader has not made this video available in your country", retry.KindFatal},
		{"ERROR: blocked in your location", retry.KindFatal},
		{"ERROR: Video unavailable", retry.KindFatal},
		{"ERROR: Private video", retry.KindFatal},
		{"ERROR: HTTP Error 404: Not Found", retry.KindFatal},
		{"ERROR: HTTP Error 429: Too Many Requests", retry.KindRetryable},
		{"ERROR: Connection reset by peer", retry.KindRetryable},
		{"ERROR: HTTP Error 503: Service Unavailable", retry.KindRetryable},
		{"", retry.KindRetryable},
	}

	for _, tt := range tests {
		got := retry.KindOf(classifyRunError(tt.stderr, base))
		if got != tt.want {
			t.Errorf("classifyRunError(%q) = %v, want %v", tt.stderr, got, tt.want)
		}
	}
}

func TestSummarizeKeepsFirstLine(t *testing.T) {
	base := errors.New("exit status 1")
	err := summarize("line one\nline two\nline three", base)
	if got := err.Error(); got != "line one: exit status 1" {
		t.Errorf("summarize = %q", got)
	}
	if !errors.Is(err, base) {
		t.Error("summarize must preserve the wrapped error")
	}
}
