package connection

import "time"

// State of the printer connection
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Error
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Error:
		return "error"
	}
	return "unknown"
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Event is published to subscribers on every state change
type Event struct {
	State State     `json:"state"`
	Err   string    `json:"error,omitempty"`
	At    time.Time `json:"at"`
}

// Listener receives connection callbacks. Calls are made without the
// manager lock held, from the goroutine that caused them.
type Listener interface {
	OnConnected()
	OnDisconnected()
	OnError(msg string)
}

// ListenerFuncs adapts functions to Listener; nil fields are skipped
type ListenerFuncs struct {
	Connected    func()
	Disconnected func()
	Error        func(msg string)
}

func (l ListenerFuncs) OnConnected() {
	if l.Connected != nil {
		l.Connected()
	}
}

func (l ListenerFuncs) OnDisconnected() {
	if l.Disconnected != nil {
		l.Disconnected()
	}
}

func (l ListenerFuncs) OnError(msg string) {
	if l.Error != nil {
		l.Error(msg)
	}
}

// Listeners fans callbacks out to several listeners
type Listeners []Listener

func (ls Listeners) OnConnected() {
	for _, l := range ls {
		l.OnConnected()
	}
}

func (ls Listeners) OnDisconnected() {
	for _, l := range ls {
		l.OnDisconnected()
	}
}

func (ls Listeners) OnError(msg string) {
	for _, l := range ls {
		l.OnError(msg)
	}
}
