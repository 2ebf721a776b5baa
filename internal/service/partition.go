package service

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
)

// keyLocks hands out one mutex per key so unrelated keys never contend.
type keyLocks struct {
	m sync.Map // string -> *sync.Mutex
}

func newKeyLocks() *keyLocks { return &keyLocks{} }

func (k *keyLocks) lock(key string) func() {
	v, ok := k.m.Load(key)
	if !ok {
		v, _ = k.m.LoadOrStore(key, &sync.Mutex{})
	}
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

var ErrPoolClosed = errors.New("partition pool closed")

type job struct {
	fn   func()
	done chan struct{}
}

// PartitionPool runs work on single-writer workers chosen by key hash. Work for one
// key executes in submission order; different keys run in parallel.
type PartitionPool struct {
	queues []chan job
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func NewPartitionPool(workers, queueSize int) *PartitionPool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	p := &PartitionPool{queues: make([]chan job, workers)}
	for i := range p.queues {
		q := make(chan job, queueSize)
		p.queues[i] = q
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for j := range q {
				j.fn()
				close(j.done)
			}
		}()
	}
	return p
}

func (p *PartitionPool) partition(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(p.queues)))
}

// Do runs fn on the key's worker and waits for it. A cancelled context stops the
// wait for a queue slot, never a job that already started.
func (p *PartitionPool) Do(ctx context.Context, key string, fn func()) error {
	j := job{fn: fn, done: make(chan struct{})}

	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return ErrPoolClosed
	}
	select {
	case p.queues[p.partition(key)] <- j:
	case <-ctx.Done():
		p.mu.RUnlock()
		return ctx.Err()
	}
	p.mu.RUnlock()

	<-j.done
	return nil
}

// Close stops accepting work and waits for queued jobs to finish.
func (p *PartitionPool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	for _, q := range p.queues {
		close(q)
	}
	p.mu.Unlock()
	p.wg.Wait()
}
