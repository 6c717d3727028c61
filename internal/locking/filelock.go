package locking

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
)

// FileLock is a Group that takes an advisory file lock per key, so several
// processes sharing one cache directory never write the same entry at the
// same time. Callers in the same process are serialized in memory first.
//
// Lock files are left in place after use. Removing them would race with a
// process that has just opened the file and is about to lock it.
type FileLock struct {
	dir   string
	local *MemLock
}

// NewFileLock creates the lock directory if needed.
func NewFileLock(dir string) (*FileLock, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}
	return &FileLock{
		dir:   dir,
		local: NewMemLock(),
	}, nil
}

func (f *FileLock) DoWithLock(key string, fn func() (interface{}, error)) (interface{}, error) {
	return f.local.DoWithLock(key, func() (interface{}, error) {
		fl := flock.New(f.path(key))
		if err := fl.Lock(); err != nil {
			return nil, fmt.Errorf("failed to lock %s: %w", key, err)
		}
		defer fl.Unlock()
		return fn()
	})
}

func (f *FileLock) path(key string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, key)
	return filepath.Join(f.dir, safe+".lock")
}
