// Package feedback implements the upstream-facing channel a processing
// stage uses to ask an input source to close a Transport Session gracefully.
//
// Not every input can honor such a request: connectionless transports have
// no close handshake. Inputs that can, expose a Channel; its absence is the
// capability signal that a stage must fall back to hard removal.
package feedback

import (
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/dperdices/ipfixcol2/errors"
	"github.com/dperdices/ipfixcol2/session"
)

// DefaultSubject is the control subject input stages listen on for close
// requests
const DefaultSubject = "control.session.close"

// Channel requests that the originating input close a specific session.
// A write failure is not "no channel": the capability exists and broke, so
// callers must treat it as fatal for the stage.
type Channel interface {
	RequestClose(s *session.Session) error
}

// CloseRequest is the wire form of a close request published upstream
type CloseRequest struct {
	Session   string `json:"session"`
	Transport string `json:"transport"`
}

// NATSChannel publishes close requests on a NATS control subject consumed
// by the input stage.
type NATSChannel struct {
	nc      *nats.Conn
	subject string
}

// NewNATSChannel creates a feedback channel over an established connection.
// An empty subject selects DefaultSubject.
func NewNATSChannel(nc *nats.Conn, subject string) (*NATSChannel, error) {
	if nc == nil {
		return nil, errors.WrapInvalid(errors.ErrFeedbackUnavailable,
			"NATSChannel", "NewNATSChannel", "nil connection")
	}
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATSChannel{nc: nc, subject: subject}, nil
}

// Dial connects to a NATS server and returns a channel publishing on
// subject. Reconnection is left to the client library; while it buffers
// during a reconnect the requests still go out in order.
func Dial(url, subject string) (*NATSChannel, error) {
	opts := []nats.Option{
		nats.Name("ipfixcol-feedback"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.Timeout(5 * time.Second),
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, errors.WrapTransient(err, "NATSChannel", "Dial", "connect")
	}
	return NewNATSChannel(nc, subject)
}

// RequestClose publishes a close request for the session
func (c *NATSChannel) RequestClose(s *session.Session) error {
	payload, err := json.Marshal(CloseRequest{
		Session:   s.Ident(),
		Transport: s.Transport().String(),
	})
	if err != nil {
		return errors.WrapFatal(err, "NATSChannel", "RequestClose", "request encode")
	}

	if err := c.nc.Publish(c.subject, payload); err != nil {
		return errors.WrapFatal(err, "NATSChannel", "RequestClose", "control publish")
	}
	return nil
}
