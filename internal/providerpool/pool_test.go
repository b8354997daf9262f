package providerpool

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/asrhub/asrhub/internal/collab"
	"github.com/stretchr/testify/require"
)

func TestLeaseAndReleaseRoundTrip(t *testing.T) {
	p, err := New(1, func() (collab.ASRProvider, error) { return collab.NewStubASRProvider("HELLO"), nil })
	require.NoError(t, err)

	prov, release, err := p.Lease(context.Background(), time.Second)
	require.NoError(t, err)
	res, err := prov.TranscribeFile(context.Background(), "x.wav")
	require.NoError(t, err)
	require.Equal(t, "HELLO", res.FullText)
	release()

	// Leasing again must succeed immediately now that it was released.
	_, release2, err := p.Lease(context.Background(), time.Second)
	require.NoError(t, err)
	release2()
}

func TestLeaseExhaustionTimesOut(t *testing.T) {
	// Scenario 5: pool size 1, lease_timeout 0.2s, two overlapping leases.
	p, err := New(1, func() (collab.ASRProvider, error) { return collab.NewStubASRProvider("HELLO"), nil })
	require.NoError(t, err)

	_, release1, err := p.Lease(context.Background(), time.Second)
	require.NoError(t, err)
	defer release1()

	_, _, err = p.Lease(context.Background(), 200*time.Millisecond)
	require.Error(t, err)
}

func TestUnhealthyProviderReplacedOnNextLease(t *testing.T) {
	var built int
	p, err := New(1, func() (collab.ASRProvider, error) {
		built++
		return collab.NewStubASRProvider("HELLO"), nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, built)

	prov, release, err := p.Lease(context.Background(), time.Second)
	require.NoError(t, err)
	prov.(*collab.StubASRProvider).MarkUnhealthy()
	release()

	prov2, release2, err := p.Lease(context.Background(), time.Second)
	require.NoError(t, err)
	defer release2()
	require.True(t, prov2.Healthy())
	require.Equal(t, 2, built)
}

func TestReleaseAlwaysRunsViaWithLease(t *testing.T) {
	// P7: exactly one release per successful lease, even on handler error.
	p, err := New(1, func() (collab.ASRProvider, error) { return collab.NewStubASRProvider("HELLO"), nil })
	require.NoError(t, err)

	err = p.WithLease(context.Background(), time.Second, func(collab.ASRProvider) error {
		return context.DeadlineExceeded
	})
	require.Error(t, err)

	// Pool must still have its provider available — release ran despite the error.
	done := make(chan struct{})
	go func() {
		_, release, err := p.Lease(context.Background(), time.Second)
		require.NoError(t, err)
		release()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("provider was not released after handler error")
	}
}

func TestQueuedWaitersAllServedAfterRelease(t *testing.T) {
	p, err := New(1, func() (collab.ASRProvider, error) { return collab.NewStubASRProvider("HELLO"), nil })
	require.NoError(t, err)

	_, release, err := p.Lease(context.Background(), time.Second)
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make(chan int, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, rel, err := p.Lease(context.Background(), 2*time.Second)
			if err == nil {
				results <- n
				time.Sleep(5 * time.Millisecond)
				rel()
			}
		}(i)
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	release()
	wg.Wait()
	close(results)
	var count int
	for range results {
		count++
	}
	require.Equal(t, 3, count)
}
