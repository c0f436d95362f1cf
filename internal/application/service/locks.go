package service

import "sync"

// keyedMutex serializes operations per entity id. The balance check and the
// pending insert in the transaction processor must run as one unit per budget
// line, and approval decisions must run one at a time per request.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[int64]*sync.Mutex)}
}

// Lock acquires the mutex for the given id and returns its unlock func.
func (k *keyedMutex) Lock(id int64) func() {
	k.mu.Lock()
	lock, ok := k.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		k.locks[id] = lock
	}
	k.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}
