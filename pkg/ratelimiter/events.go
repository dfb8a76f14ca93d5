package ratelimiter

import (
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrTypeExpire tags errors raised when a bucket's expiry could not be set.
const ErrTypeExpire = "expire"

// Error is a non-fatal failure reported to subscribers. It never reaches Exec callers.
type Error struct {
	// Type classifies the failure, e.g. ErrTypeExpire.
	Type string
	// Key is the bucket identifier without the prefix.
	Key string
	// StoreKey is the full key in the store.
	StoreKey string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("Set expire for %s fail, %v", e.StoreKey, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ErrorHandler receives recovery errors.
type ErrorHandler func(err *Error)

// Subscribe registers fn for recovery errors and returns a function removing it.
func (l *Limiter) Subscribe(fn ErrorHandler) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}
	id := uuid.New()

	l.subMu.Lock()
	l.subscribers[id] = fn
	l.subMu.Unlock()

	return func() {
		l.subMu.Lock()
		delete(l.subscribers, id)
		l.subMu.Unlock()
	}
}

func (l *Limiter) emit(e *Error) {
	l.subMu.Lock()
	handlers := make([]ErrorHandler, 0, len(l.subscribers))
	for _, fn := range l.subscribers {
		handlers = append(handlers, fn)
	}
	l.subMu.Unlock()

	if len(handlers) == 0 {
		l.logger.Debug("Dropped limiter error, no subscriber", zap.String("key", e.Key), zap.Error(e))
		return
	}
	for _, fn := range handlers {
		l.dispatch(fn, e)
	}
}

func (l *Limiter) dispatch(fn ErrorHandler, e *Error) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("Limiter error handler panicked", zap.Any("panic", r))
		}
	}()
	fn(e)
}
