package layercache

import (
	"errors"
	"fmt"

	"github.com/unkn0wn-root/layercache/internal/timeout"
)

var (
	ErrClosed         = errors.New("layercache: cache is closed")
	ErrInvalidOptions = errors.New("layercache: invalid options")

	// ErrSyntheticTimeout matches errors produced when a factory or store call
	// exceeded its soft or hard timeout. It never matches context errors.
	ErrSyntheticTimeout = timeout.ErrSynthetic
)

type InvalidOptionsError struct {
	Field  string
	Reason string
}

func (e *InvalidOptionsError) Error() string {
	return fmt.Sprintf("layercache: invalid %s: %s", e.Field, e.Reason)
}

func (e *InvalidOptionsError) Is(target error) bool { return target == ErrInvalidOptions }

// DistributedCacheError wraps a failure of the distributed store. It is only
// returned when ReThrowDistributedCacheErrors is set.
type DistributedCacheError struct {
	Op  string
	Key string
	Err error
}

func (e *DistributedCacheError) Error() string {
	return fmt.Sprintf("layercache: distributed %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *DistributedCacheError) Unwrap() error { return e.Err }

// SerializationError reports an encode or decode failure at the distributed
// store boundary, including corrupt frames.
type SerializationError struct {
	Key    string
	Encode bool
	Err    error
}

func (e *SerializationError) Error() string {
	op := "decode"
	if e.Encode {
		op = "encode"
	}
	return fmt.Sprintf("layercache: %s %q: %v", op, e.Key, e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }

// FactoryFailedError is returned by FactoryContext.Fail.
type FactoryFailedError struct {
	Message string
}

func (e *FactoryFailedError) Error() string {
	return "layercache: factory failed: " + e.Message
}
