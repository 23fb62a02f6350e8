package task

import "sync"

// keyedQueue serializes jobs that share a key. A key is busy from the moment
// a worker acquires it until its backlog is empty; jobs arriving for a busy
// key wait in FIFO order and are run by the worker holding the key, so other
// workers stay free for other keys.
type keyedQueue struct {
	mu      sync.Mutex
	backlog map[string][]job
}

func newKeyedQueue() *keyedQueue {
	return &keyedQueue{backlog: make(map[string][]job)}
}

// acquire reports whether the caller now holds j's key. Otherwise j was
// parked behind the current holder.
func (k *keyedQueue) acquire(j job) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	if q, busy := k.backlog[j.req.Key]; busy {
		k.backlog[j.req.Key] = append(q, j)
		return false
	}
	k.backlog[j.req.Key] = nil
	return true
}

// next pops the oldest parked job for key. When none is left the key is
// released and ok is false.
func (k *keyedQueue) next(key string) (j job, ok bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	q := k.backlog[key]
	if len(q) == 0 {
		delete(k.backlog, key)
		return job{}, false
	}
	k.backlog[key] = q[1:]
	return q[0], true
}

// size is the number of busy keys.
func (k *keyedQueue) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.backlog)
}
