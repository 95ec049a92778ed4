// Package fetch is the resilient access path to the remote content
// source. One call flows rate limiter → retry policy → credential
// selection → downloader subprocess → outcome recording, with the
// synthetic client identity rotated whenever a failure looks pinned to
// the current credential/profile pair.
package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"github.com/vietddude/curator/internal/core/domain"
	"github.com/vietddude/curator/internal/infra/fetch/credential"
	"github.com/vietddude/curator/internal/infra/fetch/identity"
	"github.com/vietddude/curator/internal/infra/fetch/ratelimit"
	"github.com/vietddude/curator/internal/infra/fetch/retry"
)

// Supports /watch, /shorts and youtu.be forms.
var videoIDPattern = regexp.MustCompile(`(?:youtube\.com/(?:watch\?v=|shorts/)|youtu\.be/)([a-zA-Z0-9_-]{11})`)

// Config wires a Fetcher.
type Config struct {
	CookiesDir string
	RatePeriod time.Duration
	Quality    string
}

// Fetcher performs metadata and media fetches against the remote source.
type Fetcher struct {
	limiter *ratelimit.Limiter
	policy  retry.Policy
	pool    *credential.Pool
	rotator *identity.Rotator
	runner  Runner

	cookiesDir string
	ratePeriod time.Duration
	quality    string
	log        *slog.Logger
}

// NewFetcher composes the access core around a downloader runner. The
// pool, limiter, policy and rotator are injected so the host owns their
// lifetimes and the status surface can read the same pool.
func NewFetcher(
	cfg Config,
	limiter *ratelimit.Limiter,
	policy retry.Policy,
	pool *credential.Pool,
	rotator *identity.Rotator,
	runner Runner,
) *Fetcher {
	quality := cfg.Quality
	if quality == "" {
		quality = "best"
	}
	ratePeriod := cfg.RatePeriod
	if ratePeriod == 0 {
		ratePeriod = 2 * time.Second
	}
	return &Fetcher{
		limiter:    limiter,
		policy:     policy,
		pool:       pool,
		rotator:    rotator,
		runner:     runner,
		cookiesDir: cfg.CookiesDir,
		ratePeriod: ratePeriod,
		quality:    quality,
		log:        slog.With("component", "fetch"),
	}
}

// Pool exposes the credential pool for the status surface.
func (f *Fetcher) Pool() *credential.Pool { return f.pool }

// LoadCookies registers every cookies file found in the configured
// directory. Safe to call again after an operator drops in fresh files;
// already-known files keep their stats.
func (f *Fetcher) LoadCookies() (int, error) {
	if f.cookiesDir == "" {
		return 0, nil
	}
	entries, err := os.ReadDir(f.cookiesDir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read cookies dir: %w", err)
	}

	count := 0
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".txt" {
			continue
		}
		f.pool.Register(filepath.Join(f.cookiesDir, e.Name()))
		count++
	}
	return count, nil
}

// metadataPayload is the subset of the downloader's JSON dump we keep.
type metadataPayload struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	Uploader   string  `json:"uploader"`
	Duration   float64 `json:"duration"`
	WebpageURL string  `json:"webpage_url"`
}

// Metadata fetches the remote item's metadata without downloading media.
func (f *Fetcher) Metadata(ctx context.Context, url string) (domain.ItemMeta, error) {
	if !videoIDPattern.MatchString(url) {
		return domain.ItemMeta{}, retry.Fatal(fmt.Errorf("%w: %s", ErrInvalidURL, url))
	}

	if err := f.limiter.Acquire(ctx); err != nil {
		return domain.ItemMeta{}, err
	}

	var meta domain.ItemMeta
	err := f.policy.Do(ctx, func(ctx context.Context) error {
		out, err := f.call(ctx, []string{"--dump-json", "--quiet", url})
		if err != nil {
			return err
		}

		var payload metadataPayload
		if err := json.Unmarshal(out, &payload); err != nil {
			return retry.Fatal(fmt.Errorf("unreadable metadata: %w", err))
		}
		meta = domain.ItemMeta{
			VideoID:  payload.ID,
			URL:      payload.WebpageURL,
			Title:    payload.Title,
			Uploader: payload.Uploader,
			Duration: time.Duration(payload.Duration * float64(time.Second)),
		}
		if meta.URL == "" {
			meta.URL = url
		}
		return nil
	})
	if err != nil {
		return domain.ItemMeta{}, err
	}
	return meta, nil
}

// Download fetches the media file into destDir and returns its path.
func (f *Fetcher) Download(ctx context.Context, url, destDir string) (string, error) {
	m := videoIDPattern.FindStringSubmatch(url)
	if m == nil {
		return "", retry.Fatal(fmt.Errorf("%w: %s", ErrInvalidURL, url))
	}
	videoID := m[1]

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create media dir: %w", err)
	}

	if err := f.limiter.Acquire(ctx); err != nil {
		return "", err
	}

	template := filepath.Join(destDir, videoID+".%(ext)s")
	var path string
	err := f.policy.Do(ctx, func(ctx context.Context) error {
		_, err := f.call(ctx, []string{"-f", f.quality, "-o", template, url})
		if err != nil {
			return err
		}

		matches, globErr := filepath.Glob(filepath.Join(destDir, videoID+".*"))
		if globErr != nil || len(matches) == 0 {
			return fmt.Errorf("download finished but media file is missing for %s", videoID)
		}
		path = matches[0]
		return nil
	})
	if err != nil {
		return "", err
	}
	return path, nil
}

// call performs one downloader invocation with the healthiest credential
// and records the outcome. Fatal failures leave pool state untouched;
// credential-blocking failures also advance the identity rotation so the
// next attempt presents a different fingerprint.
func (f *Fetcher) call(ctx context.Context, args []string) ([]byte, error) {
	var credID string
	if f.pool.Len() > 0 {
		best, ok := f.pool.SelectBest()
		if !ok {
			return nil, retry.Fatal(ErrPoolExhausted)
		}
		credID = best.ID
	}

	out, err := f.runner.Run(ctx, f.buildArgs(credID, args))
	if err != nil {
		classified := f.classify(err)
		switch retry.KindOf(classified) {
		case retry.KindFatal:
			// Not the credential's fault; leave its stats alone.
		case retry.KindCredentialBlocked:
			if credID != "" {
				f.pool.RecordOutcome(credID, false)
			}
			f.rotator.Advance()
			f.log.Warn("credential rejected, rotating client profile",
				"credential", credID,
				"profile", f.rotator.Current().Name)
		default:
			if credID != "" {
				f.pool.RecordOutcome(credID, false)
			}
		}
		return nil, classified
	}

	if credID != "" {
		f.pool.RecordOutcome(credID, true)
	}
	return out, nil
}

func (f *Fetcher) classify(err error) error {
	var rf *runFailure
	if errors.As(err, &rf) {
		return classifyRunError(rf.stderr, err)
	}
	return err
}

// buildArgs decorates the call with the current client identity, the
// selected cookies file, and the downloader's own politeness knobs.
func (f *Fetcher) buildArgs(credID string, args []string) []string {
	profile := f.rotator.Current()

	full := []string{
		"--user-agent", profile.UserAgent,
		"--sleep-interval", formatSeconds(f.ratePeriod),
		"--max-sleep-interval", formatSeconds(f.ratePeriod * 3 / 2),
		"--no-warnings",
	}
	for k, v := range profile.Headers {
		full = append(full, "--add-header", k+":"+v)
	}
	if credID != "" {
		full = append(full, "--cookies", credID)
	}
	return append(full, args...)
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
}
