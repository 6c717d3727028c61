package locking

import "sync"

// MemLock is a Group backed by in-process mutexes. It does not protect
// against other processes sharing the same cache directory; use FileLock for
// that.
type MemLock struct {
	mu    sync.Mutex
	locks map[string]*memEntry
}

type memEntry struct {
	sync.Mutex
	refs int
}

func NewMemLock() *MemLock {
	return &MemLock{
		locks: make(map[string]*memEntry),
	}
}

func (s *MemLock) DoWithLock(key string, fn func() (interface{}, error)) (interface{}, error) {
	s.mu.Lock()
	lock, ok := s.locks[key]
	if !ok {
		lock = &memEntry{}
		s.locks[key] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.Lock()
	defer func() {
		lock.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}()
	return fn()
}
