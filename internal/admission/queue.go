// Package admission gates scarce local compute: one running job at a
// time per category, with a FIFO queue of waiting requesters behind each
// slot. Categories are fully independent; a job running in one never
// delays another category's queue.
//
// The queue is pull-based on purpose. Finish does not auto-promote the
// next entry; the caller polls CanStart and starts the Head itself, which
// keeps callback machinery out of the queue and leaves admission policy
// (e.g. "also require no other category active") to the host.
package admission

import (
	"sync"
	"time"
)

// State describes a requester's relationship to one category.
type State string

const (
	StateRunning    State = "running"
	StateQueued     State = "queued"
	StateNotInQueue State = "not_in_queue"
)

// Entry is one waiting requester.
type Entry struct {
	RequesterID int64     `json:"requester_id"`
	Label       string    `json:"label"`
	EnqueuedAt  time.Time `json:"enqueued_at"`
}

// Running is the occupied slot of a category.
type Running struct {
	RequesterID int64  `json:"requester_id"`
	Label       string `json:"label"`
	RunHandle   string `json:"run_handle"`
}

// Status is the answer to "where am I?" for one requester and category.
type Status struct {
	State    State `json:"state"`
	Position int   `json:"position,omitempty"` // 1-based, only when queued
	Total    int   `json:"total,omitempty"`    // queue length, only when queued
}

// CategorySnapshot is a read-only view of one category, for display.
type CategorySnapshot struct {
	Category string   `json:"category"`
	Running  *Running `json:"running,omitempty"`
	Queue    []Entry  `json:"queue"`
}

type categoryState struct {
	queue   []Entry
	running *Running
}

// Queue is the per-category admission controller. The zero value is not
// usable; construct with NewQueue.
type Queue struct {
	mu         sync.Mutex
	categories map[string]*categoryState
}

// NewQueue creates an admission queue. Categories are created lazily on
// first use; the set is defined by the host application, not fixed here.
func NewQueue() *Queue {
	return &Queue{categories: make(map[string]*categoryState)}
}

func (q *Queue) category(name string) *categoryState {
	c, ok := q.categories[name]
	if !ok {
		c = &categoryState{}
		q.categories[name] = c
	}
	return c
}

// Enqueue adds the requester to the category's queue and returns its
// 1-based position. A requester already waiting keeps its place and gets
// its existing position back; Enqueue never fails and never duplicates.
func (q *Queue) Enqueue(category string, requesterID int64, label string) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	c := q.category(category)
	for i, e := range c.queue {
		if e.RequesterID == requesterID {
			return i + 1
		}
	}
	c.queue = append(c.queue, Entry{
		RequesterID: requesterID,
		Label:       label,
		EnqueuedAt:  time.Now(),
	})
	return len(c.queue)
}

// CanStart reports whether the category's slot is free and someone is
// waiting for it.
func (q *Queue) CanStart(category string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	c := q.category(category)
	return c.running == nil && len(c.queue) > 0
}

// Head returns the first waiting entry, the one that should be started
// next under the FIFO contract.
func (q *Queue) Head(category string) (Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	c := q.category(category)
	if len(c.queue) == 0 {
		return Entry{}, false
	}
	return c.queue[0], true
}

// Start occupies the category's slot for the requester and removes their
// queue entry if present. It deliberately does not enforce CanStart,
// since admission policy belongs to the caller, but refuses to displace
// a job that is already running, returning false so the caller can log
// the logic error.
func (q *Queue) Start(category string, requesterID int64, label, runHandle string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	c := q.category(category)
	if c.running != nil {
		return false
	}
	c.running = &Running{RequesterID: requesterID, Label: label, RunHandle: runHandle}
	c.queue = removeRequester(c.queue, requesterID)
	return true
}

// Finish frees the category's slot. Finishing an idle category is a
// no-op that returns false; it should not happen if the caller pairs
// Start/Finish correctly.
func (q *Queue) Finish(category string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	c := q.category(category)
	if c.running == nil {
		return false
	}
	c.running = nil
	return true
}

// Remove cancels a queued (not yet running) entry. Returns false when
// the requester is not waiting in that category.
func (q *Queue) Remove(category string, requesterID int64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	c := q.category(category)
	before := len(c.queue)
	c.queue = removeRequester(c.queue, requesterID)
	return len(c.queue) != before
}

// Status reports the requester's state in the category.
func (q *Queue) Status(category string, requesterID int64) Status {
	q.mu.Lock()
	defer q.mu.Unlock()

	c := q.category(category)
	if c.running != nil && c.running.RequesterID == requesterID {
		return Status{State: StateRunning}
	}
	for i, e := range c.queue {
		if e.RequesterID == requesterID {
			return Status{State: StateQueued, Position: i + 1, Total: len(c.queue)}
		}
	}
	return Status{State: StateNotInQueue}
}

// RunningSlot returns the category's occupied slot, if any.
func (q *Queue) RunningSlot(category string) (Running, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	c := q.category(category)
	if c.running == nil {
		return Running{}, false
	}
	return *c.running, true
}

// Snapshot returns a copy of every known category's queue and slot,
// sorted by category name upstream if the caller cares. Display only.
func (q *Queue) Snapshot() []CategorySnapshot {
	q.mu.Lock()
	defer q.mu.Unlock()

	snaps := make([]CategorySnapshot, 0, len(q.categories))
	for name, c := range q.categories {
		snap := CategorySnapshot{
			Category: name,
			Queue:    append([]Entry(nil), c.queue...),
		}
		if c.running != nil {
			running := *c.running
			snap.Running = &running
		}
		snaps = append(snaps, snap)
	}
	return snaps
}

func removeRequester(queue []Entry, requesterID int64) []Entry {
	out := queue[:0]
	for _, e := range queue {
		if e.RequesterID != requesterID {
			out = append(out, e)
		}
	}
	return out
}
