// Package scheduler implements the crawl subsystem's priority scheduler: a
// min-heap of (due-time, repo_id) entries with lazy removal and
// de-duplicated rescheduling. It performs no I/O and is safe for concurrent
// use by multiple fetch goroutines.
package scheduler

import (
	"container/heap"
	"math/rand/v2"
	"sync"
	"time"
)

// entry is one heap slot. An entry is "live" while it is the value pointed
// to by Scheduler.index[repoID]; once superseded it is tombstoned and is
// discarded silently when popped.
type entry struct {
	repoID    string
	due       time.Time
	seq       int64 // breaks ties between equal due-times, oldest first
	tombstone bool
	heapIndex int
}

// entryHeap is a container/heap.Interface ordered by due-time, then seq.
type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if h[i].due.Equal(h[j].due) {
		return h[i].seq < h[j].seq
	}
	return h[i].due.Before(h[j].due)
}

func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}

func (h *entryHeap) Push(x any) {
	e := x.(*entry)
	e.heapIndex = len(*h)
	*h = append(*h, e)
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.heapIndex = -1
	*h = old[:n-1]
	return e
}

// Scheduler is the min-heap priority queue described in §4.1 of the
// specification. At most one live entry exists per repo_id at any time.
type Scheduler struct {
	mu             sync.Mutex
	h              entryHeap
	index          map[string]*entry
	nextSeq        int64
	defaultPollInt time.Duration
	now            func() time.Time
}

// New creates a Scheduler. defaultPollInterval is the upper bound used when
// Schedule is called without an explicit delay (a uniform random delay in
// [0, defaultPollInterval) is drawn instead, so a batch of newly discovered
// repositories doesn't all come due at once).
func New(defaultPollInterval time.Duration) *Scheduler {
	return &Scheduler{
		index:          make(map[string]*entry),
		defaultPollInt: defaultPollInterval,
		now:            time.Now,
	}
}

// Schedule sets repoID's due time to now+delay, superseding any existing
// entry. A negative delay schedules it as already due.
func (s *Scheduler) Schedule(repoID string, delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scheduleLocked(repoID, delay)
}

// ScheduleDefault schedules repoID at a uniformly random delay in
// [0, defaultPollInterval) — the "default-poll mode" the accounts poller
// uses for freshly discovered repositories.
func (s *Scheduler) ScheduleDefault(repoID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scheduleLocked(repoID, randDuration(s.defaultPollInt))
}

func (s *Scheduler) scheduleLocked(repoID string, delay time.Duration) {
	if old, ok := s.index[repoID]; ok {
		old.tombstone = true
	}
	e := &entry{
		repoID: repoID,
		due:    s.now().Add(delay),
		seq:    s.nextSeq,
	}
	s.nextSeq++
	heap.Push(&s.h, e)
	s.index[repoID] = e
}

// Reschedule advances repoID's due time to now+delay, but only if that is
// earlier than its current due time (or it has no pending entry). It never
// delays a pending entry — callers that want an unconditional due time
// should call Schedule instead.
func (s *Scheduler) Reschedule(repoID string, delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	candidate := s.now().Add(delay)
	if cur, ok := s.index[repoID]; ok && !cur.due.After(candidate) {
		return
	}
	s.scheduleLocked(repoID, delay)
}

// Get pops up to n repo ids whose due time is <= now, in non-decreasing
// due-time order. It never blocks: if fewer than n are due, it returns what
// is available (possibly none). Tombstoned entries are discarded silently
// and do not count against n.
func (s *Scheduler) Get(n int) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	out := make([]string, 0, n)
	for len(out) < n && len(s.h) > 0 {
		top := s.h[0]
		if top.due.After(now) {
			break
		}
		heap.Pop(&s.h)
		if top.tombstone {
			continue
		}
		// The popped entry is, by construction, the live one for its
		// repo_id (tombstoning happens at schedule time), so it is
		// safe to drop the index entry now.
		delete(s.index, top.repoID)
		out = append(out, top.repoID)
	}
	return out
}

// Len reports the number of heap slots, including tombstoned ones awaiting
// lazy removal. Exposed for tests and metrics.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.h)
}

// SetClockForTest overrides the time source. Only used by tests that need a
// deterministic clock instead of sleeping real time.
func (s *Scheduler) SetClockForTest(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func randDuration(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(max)))
}
