// Package locking provides mutual exclusion over sets of string keys.
package locking

// Group runs functions with mutual exclusion over a key.
type Group interface {
	// DoWithLock runs fn while holding the lock for key.
	DoWithLock(key string, fn func() (interface{}, error)) (v interface{}, err error)
}
