package ratelimiter

import "fmt"

// HashFunc maps the arguments of a limited call to a bucket identifier.
// Returning "" exempts the call from limiting.
type HashFunc func(args ...any) string

// Identity is the default HashFunc. It uses the first argument as the identifier.
func Identity(args ...any) string {
	if len(args) == 0 || args[0] == nil {
		return ""
	}
	switch v := args[0].(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

func (l *Limiter) hashOf(override HashFunc, args []any) string {
	hash := override
	if hash == nil {
		l.mu.RLock()
		hash = l.opts.Hash
		l.mu.RUnlock()
	}
	return hash(args...)
}
