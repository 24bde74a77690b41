// Package safe_close coordinates the shutdown of a service and the
// goroutines it started.
package safe_close

import (
	"context"
	"errors"
	"sync"
)

// errClosed is the cause recorded by a close signal without an error.
var errClosed = errors.New("closed")

// SafeClose lets CloseWait return only after the main service goroutine
// called Done and every goroutine started by Attach returned.
//
// The main goroutine waits on ReceiveCloseSignal and calls Done before
// it returns. Sub goroutines are started with Attach. Any of them may
// call SendCloseSignal on a fatal error, but never CloseWait, which
// would deadlock.
type SafeClose struct {
	ctx    context.Context
	cancel context.CancelCauseFunc

	m        sync.Mutex
	wg       sync.WaitGroup
	done     chan struct{}
	doneOnce sync.Once
}

func NewSafeClose() *SafeClose {
	ctx, cancel := context.WithCancelCause(context.Background())
	return &SafeClose{
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// CloseWait sends a close signal and waits until Done was called and
// all attached goroutines returned. It can be called multiple times.
func (s *SafeClose) CloseWait() {
	s.SendCloseSignal(nil)
	s.wg.Wait()
	<-s.done
}

// SendCloseSignal sends a close signal. Only the first call records err.
func (s *SafeClose) SendCloseSignal(err error) {
	if err == nil {
		err = errClosed
	}
	s.m.Lock()
	s.cancel(err)
	s.m.Unlock()
}

// Err returns the error of the first SendCloseSignal, or nil.
func (s *SafeClose) Err() error {
	if err := context.Cause(s.ctx); !errors.Is(err, errClosed) {
		return err
	}
	return nil
}

func (s *SafeClose) ReceiveCloseSignal() <-chan struct{} {
	return s.ctx.Done()
}

// Context is canceled by the close signal.
func (s *SafeClose) Context() context.Context {
	return s.ctx
}

// Attach runs f in a new goroutine that CloseWait waits for.
// f must return after closeSignal is closed and call done.
// If s was closed, f will not run.
func (s *SafeClose) Attach(f func(done func(), closeSignal <-chan struct{})) {
	s.m.Lock()
	if s.ctx.Err() != nil {
		s.m.Unlock()
		return
	}
	s.wg.Add(1)
	s.m.Unlock()

	go f(s.wg.Done, s.ctx.Done())
}

// Done notifies CloseWait that the main goroutine returned.
// It can be called multiple times.
func (s *SafeClose) Done() {
	s.doneOnce.Do(func() {
		close(s.done)
	})
}
