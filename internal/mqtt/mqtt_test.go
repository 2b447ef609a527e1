package mqtt

import (
	"context"
	"errors"
	"testing"
)

func TestDefaultTopics(t *testing.T) {
	topics := DefaultTopics("garden")
	if topics.Request != "irrigation/garden/request" {
		t.Errorf("request: got %s", topics.Request)
	}
	if topics.Reply != "irrigation/garden/reply" {
		t.Errorf("reply: got %s", topics.Reply)
	}
	if topics.Status != "irrigation/garden/status" {
		t.Errorf("status: got %s", topics.Status)
	}
}

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions("tcp://broker:1883", "garden")
	if opts.Broker != "tcp://broker:1883" || opts.ClientID != "garden" {
		t.Errorf("unexpected options %+v", opts)
	}
	if opts.Topics != DefaultTopics("garden") {
		t.Errorf("topics: got %+v", opts.Topics)
	}
	if opts.ConnectTimeout <= 0 || opts.PublishTimeout <= 0 || opts.Backlog <= 0 {
		t.Errorf("timeouts and backlog must be positive: %+v", opts)
	}
}

type fakeMessage struct {
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return "irrigation/garden/reply" }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

func TestHandleReplyKeepsNewest(t *testing.T) {
	u := &RealUplink{replies: make(chan []byte, 1)}

	u.handleReply(nil, fakeMessage{payload: []byte(`{"mode":"OFF"}`)})
	u.handleReply(nil, fakeMessage{payload: []byte(`{"mode":"AUTO"}`)})

	select {
	case got := <-u.replies:
		if string(got) != `{"mode":"AUTO"}` {
			t.Errorf("got %s, want newest reply", got)
		}
	default:
		t.Fatal("expected a reply")
	}
	select {
	case got := <-u.replies:
		t.Errorf("unexpected second reply %s", got)
	default:
	}
}

func TestHandleReplyCopiesPayload(t *testing.T) {
	u := &RealUplink{replies: make(chan []byte, 1)}
	buf := []byte(`{"mode":"OFF"}`)

	u.handleReply(nil, fakeMessage{payload: buf})
	buf[2] = 'X'

	if got := <-u.replies; string(got) != `{"mode":"OFF"}` {
		t.Errorf("reply aliased the message buffer: %s", got)
	}
}

func TestFakeUplinkReplies(t *testing.T) {
	f := NewFakeUplink([]byte("one"), []byte("two"))

	for _, want := range []string{"one", "two"} {
		got, err := f.Exchange(context.Background(), []byte("req"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if string(got) != want {
			t.Errorf("got %s, want %s", got, want)
		}
	}

	if _, err := f.Exchange(context.Background(), []byte("req")); !errors.Is(err, ErrNoReply) {
		t.Errorf("got %v, want ErrNoReply", err)
	}
	if len(f.Requests) != 3 {
		t.Errorf("expected 3 requests, got %d", len(f.Requests))
	}
}

func TestFakeUplinkHandler(t *testing.T) {
	f := NewFakeUplink()
	f.Handler = func(req []byte) ([]byte, error) {
		return append([]byte("re:"), req...), nil
	}

	got, err := f.Exchange(context.Background(), []byte("x"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got) != "re:x" {
		t.Errorf("got %s", got)
	}
}

func TestFakeUplinkCanceled(t *testing.T) {
	f := NewFakeUplink([]byte("one"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := f.Exchange(ctx, []byte("req")); !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
	if len(f.Replies) != 1 {
		t.Error("reply must not be consumed")
	}
}

func TestFakeUplinkStatus(t *testing.T) {
	f := NewFakeUplink()
	if err := f.SendStatus([]byte("s")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.Statuses) != 1 {
		t.Fatalf("expected 1 status, got %d", len(f.Statuses))
	}

	f.SendError = errors.New("simulated error")
	if err := f.SendStatus([]byte("s")); err == nil {
		t.Error("expected error")
	}
	if len(f.Statuses) != 1 {
		t.Errorf("expected no status recorded on error, got %d", len(f.Statuses))
	}
}

func TestFakeUplinkClose(t *testing.T) {
	f := NewFakeUplink()
	if f.Closed {
		t.Error("should not be closed initially")
	}
	if err := f.Close(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if !f.Closed {
		t.Error("should be closed after Close()")
	}
}

func TestFakeUplinkInterfaces(t *testing.T) {
	var _ Uplink = (*FakeUplink)(nil)
	var _ ConnectionStatus = (*FakeUplink)(nil)
	var _ Uplink = (*RealUplink)(nil)
	var _ ConnectionStatus = (*RealUplink)(nil)
}
