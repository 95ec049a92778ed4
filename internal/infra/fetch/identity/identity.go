// Package identity cycles through a small fixed set of synthetic client
// profiles. Rotation is a plain round robin with no per-profile health:
// profiles are interchangeable, and the rotator exists only to decorrelate
// repeated failures that look tied to one client fingerprint.
package identity

import "sync"

// Profile is one immutable synthetic client identity.
type Profile struct {
	Name      string
	Version   string
	UserAgent string
	Headers   map[string]string
}

// DefaultProfiles mirrors the downloader clients the remote target
// expects to see in the wild.
var DefaultProfiles = []Profile{
	{
		Name:      "web",
		Version:   "2.20250111.00.00",
		UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		Headers: map[string]string{
			"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
			"Accept-Language": "en-US,en;q=0.9",
		},
	},
	{
		Name:      "android",
		Version:   "19.09.36",
		UserAgent: "com.google.android.youtube/19.09.36 (Linux; U; Android 13) gzip",
		Headers: map[string]string{
			"Accept":          "*/*",
			"Accept-Language": "en-US,en;q=0.9",
		},
	},
	{
		Name:      "ios",
		Version:   "19.09.3",
		UserAgent: "com.google.ios.youtube/19.09.3 (iPhone14,3; U; CPU iOS 15_6 like Mac OS X)",
		Headers: map[string]string{
			"Accept":          "*/*",
			"Accept-Language": "en-US,en;q=0.9",
		},
	},
}

// Rotator holds an ordered profile list and a cursor. Safe for
// concurrent use; callers that want independent rotations construct
// their own Rotator instead of sharing one.
type Rotator struct {
	mu       sync.Mutex
	profiles []Profile
	cursor   int
}

// NewRotator creates a rotator over the given profiles, falling back to
// DefaultProfiles when none are supplied.
func NewRotator(profiles ...Profile) *Rotator {
	if len(profiles) == 0 {
		profiles = DefaultProfiles
	}
	return &Rotator{profiles: profiles}
}

// Current returns the profile at the cursor.
func (r *Rotator) Current() Profile {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.profiles[r.cursor]
}

// Advance moves the cursor to the next profile, wrapping around. Called
// by the fetch path when a credential-blocking failure suggests the
// current fingerprint is burned.
func (r *Rotator) Advance() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cursor = (r.cursor + 1) % len(r.profiles)
}

// Len returns the number of profiles in the rotation.
func (r *Rotator) Len() int {
	return len(r.profiles)
}
