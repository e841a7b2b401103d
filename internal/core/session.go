package core

// Frame is a raw binary payload (e.g., a serialized signaling message).
type Frame []byte

type SessionID string

// ConnState tracks a peer session through its lifetime.
// New -> Connected -> {Failed | Closed} -> Removed. Removed is terminal.
type ConnState int32

const (
	StateNew ConnState = iota
	StateConnected
	StateFailed
	StateClosed
	StateRemoved
)

func (s ConnState) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	case StateRemoved:
		return "removed"
	}
	return "unknown"
}

// Terminal reports whether the transport is gone and the session
// must be removed from the registry.
func (s ConnState) Terminal() bool {
	return s == StateFailed || s == StateClosed
}
