package locking

// NoOpGroup performs no locking; every call runs fn immediately.
type NoOpGroup struct{}

func NewNoOpGroup() *NoOpGroup {
	return &NoOpGroup{}
}

func (n *NoOpGroup) DoWithLock(key string, fn func() (interface{}, error)) (interface{}, error) {
	return fn()
}
