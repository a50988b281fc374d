package push

import "context"

// Session is a connected push subscriber.
type Session interface {
	ID() string
	IsOpen() bool
	Send(ctx context.Context, payload []byte) error
}
