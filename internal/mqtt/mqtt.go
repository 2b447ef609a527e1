// Package mqtt carries the telegrams between the valve controller and the
// control server over an MQTT broker.
//
// A cycle publishes a request, waits for the reply of the server and, after
// the valve was operated, publishes a status telegram.
package mqtt

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNoReply is returned by Exchange when no reply arrived in time.
	ErrNoReply = errors.New("mqtt: no reply")

	// ErrNotConnected is returned when the broker cannot be reached.
	ErrNotConnected = errors.New("mqtt: not connected")
)

// Uplink exchanges telegrams with the control server.
type Uplink interface {
	// Exchange publishes a request and blocks until the reply arrives or ctx
	// is done.
	Exchange(ctx context.Context, request []byte) ([]byte, error)

	// SendStatus publishes a status telegram. Telegrams that cannot be sent
	// may be kept for a later connection.
	SendStatus(status []byte) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// Topics are the topics of one controller.
type Topics struct {
	Request string
	Reply   string
	Status  string
}

// DefaultTopics returns the topics below irrigation/<clientID>.
func DefaultTopics(clientID string) Topics {
	prefix := "irrigation/" + clientID + "/"
	return Topics{
		Request: prefix + "request",
		Reply:   prefix + "reply",
		Status:  prefix + "status",
	}
}

// Options configure a RealUplink.
type Options struct {
	Broker         string
	ClientID       string
	Topics         Topics
	ConnectTimeout time.Duration
	PublishTimeout time.Duration

	// Backlog is the number of status telegrams kept while disconnected.
	Backlog int
}

// DefaultOptions returns options for the given broker and client id.
func DefaultOptions(broker, clientID string) Options {
	return Options{
		Broker:         broker,
		ClientID:       clientID,
		Topics:         DefaultTopics(clientID),
		ConnectTimeout: 10 * time.Second,
		PublishTimeout: 5 * time.Second,
		Backlog:        16,
	}
}
