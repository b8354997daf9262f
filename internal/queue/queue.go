// Package queue implements the timestamped, multi-reader audio queue
// (spec.md §4.1). One instance of Registry is shared process-wide; one
// lock per session plus one registry lock protect it (spec.md
// "Concurrency").
package queue

import (
	"sync"
	"time"

	"github.com/asrhub/asrhub/internal/clock"
	"github.com/asrhub/asrhub/internal/model"
)

// DefaultMaxHistory is the default retention window (spec.md §4.1, §6.4
// max_history_duration).
const DefaultMaxHistory = 30 * time.Second

// DefaultPreRollLead is how far before "now" a reader cursor is placed
// when no explicit start_timestamp is given (spec.md §4.1 register_reader).
const DefaultPreRollLead = 100 * time.Millisecond

// Registry owns every session's queue state (spec.md "Lifecycle
// ownership": "The store owns the session state record"; the registry
// here is the queue's own per-session state, owned by the session per
// spec.md §3 "Lifecycle ownership").
type Registry struct {
	clock clock.Clock

	mu       sync.Mutex // protects the sessions map only (create/remove)
	sessions map[string]*sessionQueue
}

func NewRegistry(c clock.Clock) *Registry {
	if c == nil {
		c = clock.Real
	}
	return &Registry{clock: c, sessions: make(map[string]*sessionQueue)}
}

type reader struct {
	cursor time.Time
}

type sessionQueue struct {
	mu         sync.Mutex
	items      []model.Timestamped
	readers    map[string]*reader
	maxHistory time.Duration
	lastTS     time.Time

	newData chan struct{} // closed-and-replaced signal, see push()
}

func newSessionQueue(maxHistory time.Duration) *sessionQueue {
	return &sessionQueue{
		readers:    make(map[string]*reader),
		maxHistory: maxHistory,
		newData:    make(chan struct{}),
	}
}

// getOrCreate auto-creates per-session structures (spec.md §4.1 Failure
// modes: "push with unknown session auto-creates the per-session structures").
func (r *Registry) getOrCreate(sessionID string) *sessionQueue {
	r.mu.Lock()
	defer r.mu.Unlock()
	sq, ok := r.sessions[sessionID]
	if !ok {
		sq = newSessionQueue(DefaultMaxHistory)
		r.sessions[sessionID] = sq
	}
	return sq
}

func (r *Registry) get(sessionID string) (*sessionQueue, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sq, ok := r.sessions[sessionID]
	return sq, ok
}

// SetMaxHistory overrides the retention window for a session (spec.md
// §6.4 max_history_duration is per-deployment config, applied per session
// at creation time by the coordinator).
func (r *Registry) SetMaxHistory(sessionID string, d time.Duration) {
	sq := r.getOrCreate(sessionID)
	sq.mu.Lock()
	sq.maxHistory = d
	sq.mu.Unlock()
}

// Push appends chunk with an assigned timestamp = current monotonic time,
// returning the assigned timestamp (spec.md §4.1 push). Pushes for the
// same session are serialized by sq.mu; pushes for distinct sessions
// never contend.
func (r *Registry) Push(sessionID string, chunk model.AudioChunk) time.Time {
	sq := r.getOrCreate(sessionID)
	sq.mu.Lock()
	now := r.clock.Now()
	if !sq.lastTS.IsZero() && !now.After(sq.lastTS) {
		// Clock non-monotonicity tolerance (spec.md §4.1 Failure modes).
		now = sq.lastTS.Add(time.Nanosecond)
	}
	sq.lastTS = now
	chunk.Timestamp = now
	item := model.Timestamped{Timestamp: now, Chunk: chunk, Duration: chunk.Duration}
	sq.items = append(sq.items, item)
	sq.trim(now)
	r.wake(sq)
	sq.mu.Unlock()
	return now
}

// wake signals any blocked readers by closing and replacing newData,
// broadcasting to every current waiter (spec.md §4.1 push: "wakes any
// readers waiting on that session"). Must be called with sq.mu held.
func (r *Registry) wake(sq *sessionQueue) {
	close(sq.newData)
	sq.newData = make(chan struct{})
}

// trim discards items older than now - maxHistory (spec.md §4.1
// Retention, I3). Must be called with sq.mu held.
func (sq *sessionQueue) trim(now time.Time) {
	cutoff := now.Add(-sq.maxHistory)
	i := 0
	for i < len(sq.items) && sq.items[i].Timestamp.Before(cutoff) {
		i++
	}
	if i > 0 {
		sq.items = append([]model.Timestamped(nil), sq.items[i:]...)
	}
}

// RegisterReader records a cursor for reader_id (spec.md §4.1
// register_reader). Idempotent per R3: calling again updates the cursor
// only if startTimestamp is explicitly provided.
func (r *Registry) RegisterReader(sessionID, readerID string, startTimestamp *time.Time) {
	sq := r.getOrCreate(sessionID)
	sq.mu.Lock()
	defer sq.mu.Unlock()
	rd, ok := sq.readers[readerID]
	if !ok {
		rd = &reader{}
		sq.readers[readerID] = rd
	}
	switch {
	case startTimestamp != nil:
		rd.cursor = *startTimestamp
	case !ok:
		rd.cursor = r.clock.Now().Add(-DefaultPreRollLead)
	}
}

// PullFromTimestamp returns items with timestamp strictly greater than
// from (or the reader's cursor if from is nil), advancing the cursor to
// the last returned item's timestamp (spec.md §4.1 pull_from_timestamp).
func (r *Registry) PullFromTimestamp(sessionID, readerID string, from *time.Time, maxChunks int) []model.Timestamped {
	sq, ok := r.get(sessionID)
	if !ok {
		return nil
	}
	sq.mu.Lock()
	defer sq.mu.Unlock()

	rd, ok := sq.readers[readerID]
	if !ok {
		rd = &reader{cursor: r.clock.Now().Add(-DefaultPreRollLead)}
		sq.readers[readerID] = rd
	}
	cursor := rd.cursor
	if from != nil {
		cursor = *from
	}

	// (B2) cursor older than earliest retained item: resync to earliest.
	if len(sq.items) > 0 && cursor.Before(sq.items[0].Timestamp) && cursor.Before(sq.items[0].Timestamp.Add(-sq.maxHistory)) {
		cursor = sq.items[0].Timestamp.Add(-time.Nanosecond)
	}

	var out []model.Timestamped
	for _, it := range sq.items {
		if !it.Timestamp.After(cursor) {
			continue
		}
		out = append(out, it)
		if maxChunks > 0 && len(out) >= maxChunks {
			break
		}
	}
	if len(out) > 0 {
		rd.cursor = out[len(out)-1].Timestamp
	}
	return out
}

// PullBlocking waits up to timeout on the session's "new data" signal,
// then attempts a single-item PullFromTimestamp (spec.md §4.1 pull_blocking).
func (r *Registry) PullBlocking(sessionID, readerID string, timeout time.Duration) (model.Timestamped, bool) {
	sq, ok := r.get(sessionID)
	if !ok {
		return model.Timestamped{}, false
	}

	if items := r.PullFromTimestamp(sessionID, readerID, nil, 1); len(items) > 0 {
		return items[0], true
	}

	sq.mu.Lock()
	waitCh := sq.newData
	sq.mu.Unlock()

	select {
	case <-waitCh:
	case <-r.clock.After(timeout):
		return model.Timestamped{}, false
	}

	items := r.PullFromTimestamp(sessionID, readerID, nil, 1)
	if len(items) == 0 {
		return model.Timestamped{}, false
	}
	return items[0], true
}

// GetBetween is a read-only range scan ignoring cursors (spec.md §4.1
// get_between), used by the coordinator to gather a recorded segment.
// If tEnd is nil the range is open-ended ("now").
func (r *Registry) GetBetween(sessionID string, tStart time.Time, tEnd *time.Time) []model.Timestamped {
	sq, ok := r.get(sessionID)
	if !ok {
		return nil
	}
	sq.mu.Lock()
	defer sq.mu.Unlock()

	var out []model.Timestamped
	for _, it := range sq.items {
		if it.Timestamp.Before(tStart) {
			continue
		}
		if tEnd != nil && it.Timestamp.After(*tEnd) {
			continue
		}
		out = append(out, it)
	}
	return out
}

// Drain destructively returns and clears all queued items in insertion
// order, used only by the batch strategy (SPEC_FULL.md §4.4, spec.md §9
// open question resolved: intentional and distinct from the timestamped
// range API).
func (r *Registry) Drain(sessionID string) []model.Timestamped {
	sq, ok := r.get(sessionID)
	if !ok {
		return nil
	}
	sq.mu.Lock()
	defer sq.mu.Unlock()
	out := sq.items
	sq.items = nil
	return out
}

// Reinsert directly inserts items preserving their original timestamps,
// unlike Push which always stamps the current time. It exists solely for
// the coordinator's pre-roll-after-clear resolution (SPEC_FULL.md §4.4):
// restoring a small pre-roll ring's contents into a queue it just
// cleared, with the timestamps those chunks were originally assigned.
// items must already be sorted by timestamp ascending.
func (r *Registry) Reinsert(sessionID string, items []model.Timestamped) {
	if len(items) == 0 {
		return
	}
	sq := r.getOrCreate(sessionID)
	sq.mu.Lock()
	sq.items = append(sq.items, items...)
	if last := items[len(items)-1].Timestamp; last.After(sq.lastTS) {
		sq.lastTS = last
	}
	sq.trim(r.clock.Now())
	r.wake(sq)
	sq.mu.Unlock()
}

// Clear drops all chunks; cursors remain but are effectively invalidated
// until new data arrives (spec.md §4.1 clear).
func (r *Registry) Clear(sessionID string) {
	sq, ok := r.get(sessionID)
	if !ok {
		return
	}
	sq.mu.Lock()
	sq.items = nil
	sq.mu.Unlock()
}

// Remove destroys the entire per-session state (spec.md §4.1 remove).
func (r *Registry) Remove(sessionID string) {
	r.mu.Lock()
	delete(r.sessions, sessionID)
	r.mu.Unlock()
}
