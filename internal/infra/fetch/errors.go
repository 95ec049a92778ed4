package fetch

import (
	"errors"
	"fmt"
	"strings"

	"github.com/vietddude/curator/internal/infra/fetch/retry"
)

var (
	// ErrPoolExhausted means every credential is blocked. Retrying cannot
	// help until an operator refreshes credentials and unblocks the pool.
	ErrPoolExhausted = errors.New("all credentials blocked, pool exhausted")

	// ErrInvalidURL marks input that no amount of retrying will fix.
	ErrInvalidURL = errors.New("invalid media url")
)

// classifyRunError maps downloader stderr to the retry taxonomy.
//
// Consent walls and bot checks are attributable to the credential/profile
// pair and are worth another attempt with a different identity.
// Geo restrictions and missing videos are permanent. Everything else
// (network resets, HTTP 5xx, throttling) is plain retryable.
func classifyRunError(stderr string, err error) error {
	s := strings.ToLower(stderr)

	switch {
	case strings.Contains(s, "sign in") ||
		strings.Contains(s, "bot") ||
		strings.Contains(s, "login required") ||
		strings.Contains(s, "consent") ||
		strings.Contains(s, "cookies are no longer valid"):
		return retry.CredentialBlocked(fmt.Errorf("credential rejected: %w", summarize(stderr, err)))

	case strings.Contains(s, "geo") ||
		strings.Contains(s, "not available in your country") ||
		strings.Contains(s, "location"):
		return retry.Fatal(fmt.Errorf("geo-restricted: %w", summarize(stderr, err)))

	case strings.Contains(s, "video unavailable") ||
		strings.Contains(s, "does not exist") ||
		strings.Contains(s, "404") ||
		strings.Contains(s, "private video") ||
		strings.Contains(s, "removed"):
		return retry.Fatal(fmt.Errorf("content gone: %w", summarize(stderr, err)))
	}

	return summarize(stderr, err)
}

// summarize keeps the first stderr line so logs stay readable.
func summarize(stderr string, err error) error {
	line := stderr
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return err
	}
	return fmt.Errorf("%s: %w", line, err)
}
