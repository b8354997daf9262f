// Package providerpool implements the bounded, leased ASR provider pool
// (spec.md §4.5): fair FIFO waiting, one dedicated provider per lease,
// unhealthy-provider replacement on next lease.
package providerpool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/asrhub/asrhub/internal/collab"
	"github.com/asrhub/asrhub/internal/errs"
)

// Factory constructs a new provider instance, used both at pool
// construction and to replace a provider marked unhealthy.
type Factory func() (collab.ASRProvider, error)

// Pool is the channel-of-tokens free-list: a buffered channel of length
// size holding the currently-idle providers. Leasing is a channel
// receive (naturally FIFO across waiting goroutines); releasing is a
// channel send. This is the idiomatic Go "semaphore via buffered
// channel" pattern, paired with golang.org/x/sync/semaphore to additionally
// bound concurrent provider *construction* during a correlated
// unhealthy-replacement burst (SPEC_FULL.md §4.5).
type Pool struct {
	factory Factory
	free    chan collab.ASRProvider
	buildSem *semaphore.Weighted

	mu   sync.Mutex
	size int
}

// New builds a pool of size providers via factory.
func New(size int, factory Factory) (*Pool, error) {
	p := &Pool{
		factory:  factory,
		free:     make(chan collab.ASRProvider, size),
		buildSem: semaphore.NewWeighted(int64(size)),
		size:     size,
	}
	for i := 0; i < size; i++ {
		prov, err := factory()
		if err != nil {
			return nil, fmt.Errorf("providerpool: build provider %d/%d: %w", i+1, size, err)
		}
		p.free <- prov
	}
	return p, nil
}

// Lease attempts to acquire a provider within timeout (spec.md §4.5
// lease()). The returned release func must be called exactly once.
func (p *Pool) Lease(ctx context.Context, timeout time.Duration) (collab.ASRProvider, func(), error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case prov := <-p.free:
		if !prov.Healthy() {
			prov = p.replace(prov)
		}
		released := false
		release := func() {
			if released {
				return
			}
			released = true
			if prov.Healthy() {
				p.free <- prov
			} else {
				p.free <- p.replace(prov)
			}
		}
		return prov, release, nil
	case <-ctx.Done():
		return nil, func() {}, fmt.Errorf("providerpool: lease timed out after %s: %w", timeout, errs.ErrTimeout)
	}
}

// WithLease is the scoped variant guaranteeing release on every exit
// path (spec.md §4.5 lease_context; P7: "a provider lease is always
// released").
func (p *Pool) WithLease(ctx context.Context, timeout time.Duration, fn func(collab.ASRProvider) error) error {
	prov, release, err := p.Lease(ctx, timeout)
	if err != nil {
		return err
	}
	defer release()
	return fn(prov)
}

// replace closes the unhealthy provider and builds a fresh one, bounded
// by buildSem so a burst of simultaneous failures doesn't spawn unbounded
// concurrent constructions (SPEC_FULL.md §4.5).
func (p *Pool) replace(unhealthy collab.ASRProvider) collab.ASRProvider {
	_ = p.buildSem.Acquire(context.Background(), 1)
	defer p.buildSem.Release(1)

	_ = unhealthy.Close()
	fresh, err := p.factory()
	if err != nil {
		// Keep serving the unhealthy instance rather than shrinking the
		// pool; the next lease will retry replacement.
		return unhealthy
	}
	return fresh
}

// Size returns the configured pool size.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.size
}
