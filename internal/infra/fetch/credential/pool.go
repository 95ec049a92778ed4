// Package credential manages a pool of reusable sessions for a single
// bot-hostile remote target.
//
// Each resource carries usage counters and a derived health score; the
// pool always hands out the resource with the lowest score and quarantines
// resources that keep failing. This is a per-credential circuit breaker
// with a continuous health signal instead of a binary open/closed state,
// so a moderately failing resource is deprioritized rather than dropped.
package credential

import (
	"sort"
	"sync"
	"time"
)

// DefaultBlockThreshold is how many accumulated failures (minus
// successes) it takes before a resource is quarantined.
const DefaultBlockThreshold = 3

// Health score weights. Failures are penalized an order of magnitude
// harder than plain use, so a failing resource sinks fast while a
// heavily used but reliable one only drifts down slowly.
const (
	usageWeight   = 10
	failureWeight = 100
)

// Resource is one reusable credential/session.
type Resource struct {
	ID           string
	UsageCount   int
	SuccessCount int
	FailCount    int
	LastUsedAt   time.Time
	Blocked      bool
}

// SuccessRate returns the success percentage, 100 for an unused resource.
func (r *Resource) SuccessRate() float64 {
	if r.UsageCount == 0 {
		return 100.0
	}
	return float64(r.SuccessCount) / float64(r.UsageCount) * 100
}

// HealthScore ranks resources for selection. Lower is better.
func (r *Resource) HealthScore() float64 {
	return float64(r.UsageCount*usageWeight + r.FailCount*failureWeight)
}

// Report is a read-only snapshot of one resource, for the status surface.
type Report struct {
	ID           string    `json:"id"`
	UsageCount   int       `json:"usage_count"`
	SuccessCount int       `json:"success_count"`
	FailCount    int       `json:"fail_count"`
	SuccessRate  float64   `json:"success_rate"`
	HealthScore  float64   `json:"health_score"`
	Blocked      bool      `json:"blocked"`
	LastUsedAt   time.Time `json:"last_used_at,omitempty"`
}

// Pool owns the resources for one remote target.
type Pool struct {
	mu             sync.Mutex
	resources      map[string]*Resource
	blockThreshold int
}

// NewPool creates an empty pool. blockThreshold <= 0 falls back to
// DefaultBlockThreshold.
func NewPool(blockThreshold int) *Pool {
	if blockThreshold <= 0 {
		blockThreshold = DefaultBlockThreshold
	}
	return &Pool{
		resources:      make(map[string]*Resource),
		blockThreshold: blockThreshold,
	}
}

// Register adds a resource to the pool. Registering an existing ID is a
// no-op, so startup scans can be re-run safely.
func (p *Pool) Register(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.resources[id]; ok {
		return
	}
	p.resources[id] = &Resource{ID: id}
}

// SelectBest returns the unblocked resource with the lowest health score.
// Ties go to the least recently used resource, never-used first. The
// second return is false when every resource is blocked (or none are
// registered); callers must surface that as pool exhaustion, not retry.
func (p *Pool) SelectBest() (Resource, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var best *Resource
	for _, r := range p.resources {
		if r.Blocked {
			continue
		}
		if best == nil || better(r, best) {
			best = r
		}
	}
	if best == nil {
		return Resource{}, false
	}
	return *best, true
}

func better(a, b *Resource) bool {
	as, bs := a.HealthScore(), b.HealthScore()
	if as != bs {
		return as < bs
	}
	// Never-used sorts before any used resource.
	if a.LastUsedAt.IsZero() != b.LastUsedAt.IsZero() {
		return a.LastUsedAt.IsZero()
	}
	return a.LastUsedAt.Before(b.LastUsedAt)
}

// RecordOutcome updates counters for one use of a resource. A success
// also walks the failure counter back by one (floored at zero), giving a
// resource that hit transient trouble a path back to full health. Once
// failures reach the block threshold the resource is quarantined until
// UnblockAll.
func (p *Pool) RecordOutcome(id string, success bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	r, ok := p.resources[id]
	if !ok {
		r = &Resource{ID: id}
		p.resources[id] = r
	}

	r.UsageCount++
	r.LastUsedAt = time.Now()

	if success {
		r.SuccessCount++
		if r.FailCount > 0 {
			r.FailCount--
		}
		return
	}

	r.FailCount++
	if r.FailCount >= p.blockThreshold {
		r.Blocked = true
	}
}

// UnblockAll clears the blocked flag and failure counters on every
// resource. Meant for an operator who refreshed the underlying
// credentials out-of-band; usage and success history is preserved.
func (p *Pool) UnblockAll() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, r := range p.resources {
		r.Blocked = false
		r.FailCount = 0
	}
}

// Len returns the number of registered resources.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.resources)
}

// Exhausted reports whether every registered resource is blocked.
func (p *Pool) Exhausted() bool {
	_, ok := p.SelectBest()
	return !ok
}

// Reports returns per-resource snapshots sorted by ID, for display only.
func (p *Pool) Reports() []Report {
	p.mu.Lock()
	defer p.mu.Unlock()

	reports := make([]Report, 0, len(p.resources))
	for _, r := range p.resources {
		reports = append(reports, Report{
			ID:           r.ID,
			UsageCount:   r.UsageCount,
			SuccessCount: r.SuccessCount,
			FailCount:    r.FailCount,
			SuccessRate:  r.SuccessRate(),
			HealthScore:  r.HealthScore(),
			Blocked:      r.Blocked,
			LastUsedAt:   r.LastUsedAt,
		})
	}
	sort.Slice(reports, func(i, j int) bool { return reports[i].ID < reports[j].ID })
	return reports
}
