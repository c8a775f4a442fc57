package library

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublisher_FanOut(t *testing.T) {
	p := newPublisher()

	var a, b int
	p.subscribe(func(Snapshot) { a++ })
	p.subscribe(func(Snapshot) { b++ })

	p.publish(Snapshot{})
	p.publish(Snapshot{})

	assert.Equal(t, 2, a)
	assert.Equal(t, 2, b)
}

func TestPublisher_Unsubscribe(t *testing.T) {
	p := newPublisher()

	var calls int
	id := p.subscribe(func(Snapshot) { calls++ })

	p.publish(Snapshot{})
	p.unsubscribe(id)
	p.publish(Snapshot{})

	assert.Equal(t, 1, calls)
}

func TestPublisher_ObserverMayUnsubscribeDuringPublish(t *testing.T) {
	p := newPublisher()

	var calls int
	watched := p.subscribe(func(Snapshot) {
		calls++
	})
	p.subscribe(func(Snapshot) {
		p.unsubscribe(watched)
	})

	require.NotPanics(t, func() { p.publish(Snapshot{}) })
	p.publish(Snapshot{})
	// selfID was removed during the first publish; order within one
	// publish is unspecified, so it saw at most one snapshot.
	assert.LessOrEqual(t, calls, 1)
}

func TestPublisher_ConcurrentSubscribePublish(t *testing.T) {
	p := newPublisher()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				id := p.subscribe(func(Snapshot) {})
				p.unsubscribe(id)
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				p.publish(Snapshot{})
			}
		}()
	}
	wg.Wait()
}
