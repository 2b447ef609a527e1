package mqtt

import "context"

// FakeUplink records telegrams for test assertions.
type FakeUplink struct {
	// Requests and Statuses contain all telegrams that were sent.
	Requests [][]byte
	Statuses [][]byte

	// Handler, if set, answers every request.
	Handler func(request []byte) ([]byte, error)

	// Replies are returned by Exchange in order when Handler is nil. Exchange
	// returns ErrNoReply when none is left.
	Replies [][]byte

	// SendError, if set, will be returned by SendStatus.
	SendError error

	// Closed tracks if Close was called.
	Closed bool

	// Connected controls the return value of IsConnected.
	Connected bool
}

// NewFakeUplink creates a connected FakeUplink answering with replies.
func NewFakeUplink(replies ...[]byte) *FakeUplink {
	return &FakeUplink{Replies: replies, Connected: true}
}

// Exchange records the request and returns the next reply.
func (f *FakeUplink) Exchange(ctx context.Context, request []byte) ([]byte, error) {
	f.Requests = append(f.Requests, request)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.Handler != nil {
		return f.Handler(request)
	}
	if len(f.Replies) == 0 {
		return nil, ErrNoReply
	}
	reply := f.Replies[0]
	f.Replies = f.Replies[1:]
	return reply, nil
}

// SendStatus records the status telegram.
func (f *FakeUplink) SendStatus(status []byte) error {
	if f.SendError != nil {
		return f.SendError
	}
	f.Statuses = append(f.Statuses, status)
	return nil
}

// Close marks the uplink as closed.
func (f *FakeUplink) Close() error {
	f.Closed = true
	return nil
}

// IsConnected reports whether the fake uplink is "connected".
func (f *FakeUplink) IsConnected() bool {
	return f.Connected
}
