package syncutil

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestShardedMutex_MutualExclusion(t *testing.T) {
	var m ShardedMutex
	var counter int64
	const n = 200

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := m.Lock("same-key")
			defer unlock()
			v := atomic.LoadInt64(&counter)
			atomic.StoreInt64(&counter, v+1)
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt64(&counter); got != n {
		t.Fatalf("counter = %d, want %d", got, n)
	}
}

func TestShardedMutex_DistinctKeysDoNotBlock(t *testing.T) {
	var m ShardedMutex

	unlockA := m.Lock("key-a")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		// Try keys until one lands on a different shard.
		for _, k := range []string{"key-b", "key-c", "key-d", "key-e"} {
			if m.shard(k) != m.shard("key-a") {
				unlock := m.Lock(k)
				unlock()
				break
			}
		}
		close(done)
	}()
	<-done
}
