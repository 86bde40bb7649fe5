package worker

import (
	"context"
	"fmt"
)

// Result is the settled outcome of one concurrent source.
type Result[T any] struct {
	Value T
	Err   error
}

// Pending is a source started by Go.
type Pending[T any] struct {
	done chan struct{}
	res  Result[T]
}

// Go runs fn in its own goroutine. A panic in fn settles as an error.
// Sources never cancel one another.
func Go[T any](ctx context.Context, fn func(context.Context) (T, error)) *Pending[T] {
	p := &Pending[T]{done: make(chan struct{})}
	go func() {
		defer close(p.done)
		defer func() {
			if r := recover(); r != nil {
				p.res = Result[T]{Err: fmt.Errorf("panic: %v", r)}
			}
		}()
		v, err := fn(ctx)
		p.res = Result[T]{Value: v, Err: err}
	}()
	return p
}

// Wait blocks until the source settles.
func (p *Pending[T]) Wait() Result[T] {
	<-p.done
	return p.res
}
