package message

import (
	"github.com/dperdices/ipfixcol2/session"
)

// Event is the type of a Transport Session lifecycle notification
type Event int

const (
	// SessionOpen announces a new Transport Session
	SessionOpen Event = iota
	// SessionClose announces that a Transport Session was closed by the
	// input stage; downstream state for the session can be retired
	SessionClose
)

// String returns a string representation of the event
func (e Event) String() string {
	switch e {
	case SessionOpen:
		return "open"
	case SessionClose:
		return "close"
	default:
		return "unknown"
	}
}

// SessionMessage notifies pipeline stages of a Transport Session lifecycle
// event. Session event messages are always forwarded downstream regardless
// of how a stage handled them, since later stages may also need to observe
// the event.
type SessionMessage struct {
	header

	sess  *session.Session
	event Event
}

// NewSessionMessage creates a lifecycle notification for the given session
func NewSessionMessage(sess *session.Session, event Event, source string) *SessionMessage {
	return &SessionMessage{
		header: newHeader(KindSession, source),
		sess:   sess,
		event:  event,
	}
}

// Session returns the session the event concerns
func (m *SessionMessage) Session() *session.Session {
	return m.sess
}

// Event returns the lifecycle event type
func (m *SessionMessage) Event() Event {
	return m.event
}
