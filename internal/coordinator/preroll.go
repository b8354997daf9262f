package coordinator

import (
	"sync"
	"time"

	"github.com/asrhub/asrhub/internal/model"
)

// preRollRing is the small independent per-session buffer that resolves
// the pre-roll/clear conflict (spec.md §9 open question, SPEC_FULL.md
// §4.4): the ingest effect feeds it in parallel with the main timestamped
// queue, so wake activation can clear the main queue (dropping the
// wake-word audio itself) while still having pre-roll audio to restore.
type preRollRing struct {
	mu       sync.Mutex
	window   time.Duration
	items    []model.Timestamped
}

func newPreRollRing(window time.Duration) *preRollRing {
	return &preRollRing{window: window}
}

// Push appends item and trims anything older than window relative to the
// newest item.
func (p *preRollRing) Push(item model.Timestamped) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.items = append(p.items, item)
	cutoff := item.Timestamp.Add(-p.window)
	i := 0
	for i < len(p.items) && p.items[i].Timestamp.Before(cutoff) {
		i++
	}
	if i > 0 {
		p.items = append([]model.Timestamped(nil), p.items[i:]...)
	}
}

// Items returns a copy of the currently retained chunks, oldest first.
func (p *preRollRing) Items() []model.Timestamped {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]model.Timestamped, len(p.items))
	copy(out, p.items)
	return out
}

// Reset drops all retained chunks, used on reset_session/delete_session.
func (p *preRollRing) Reset() {
	p.mu.Lock()
	p.items = nil
	p.mu.Unlock()
}
