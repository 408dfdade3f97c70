package sync

import (
	"sync"
)

// OnceValue is a wrapper around [sync.Once] that runs f only once and
// returns both a value (of type T) and an error.
func OnceValue[T any](f func() (T, error)) func() (T, error) {
	var (
		once sync.Once
		v    T
		err  error
	)

	return func() (T, error) {
		once.Do(func() {
			v, err = f()
		})
		return v, err
	}
}
