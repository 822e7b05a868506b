// Package backplane defines the pub/sub transport used to tell other nodes that
// an entry changed, and the message exchanged over it.
//
// Delivery is assumed to be at-least-once with no ordering guarantee; receivers
// resolve conflicts by comparing Message.Timestamp.
package backplane

import (
	"context"
	"fmt"
)

// MessageKind is the change a message announces.
type MessageKind uint8

const (
	KindSet MessageKind = iota + 1
	KindRemove
	KindExpire
)

func (k MessageKind) String() string {
	switch k {
	case KindSet:
		return "set"
	case KindRemove:
		return "remove"
	case KindExpire:
		return "expire"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// Valid reports whether k is a known kind.
func (k MessageKind) Valid() bool { return k >= KindSet && k <= KindExpire }

// Message notifies other nodes that Key changed at Timestamp (unix nanoseconds).
type Message struct {
	Key       string
	Timestamp int64
	Kind      MessageKind
	SenderID  string
}

// Handler receives raw payloads published on a channel. It must not block for long:
// transports may call it on their receive loop.
type Handler func(ctx context.Context, payload []byte)

// Subscription is an active channel subscription.
type Subscription interface {
	Close() error
}

// Backplane is a minimal pub/sub transport. Implementations must be safe for
// concurrent use.
type Backplane interface {
	// Publish sends payload to every subscriber of channel (the sender included).
	Publish(ctx context.Context, channel string, payload []byte) error
	// Subscribe registers h for channel until the returned Subscription is closed
	// or ctx is done.
	Subscribe(ctx context.Context, channel string, h Handler) (Subscription, error)
}
