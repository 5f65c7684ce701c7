package session

// Status is the authentication state of the running application. It starts
// Resolving and settles to Anonymous or Authenticated once the silent
// bootstrap check finishes.
type Status byte

const (
	StatusResolving Status = iota
	StatusAnonymous
	StatusAuthenticated
)

func (s Status) String() string {
	switch s {
	case StatusResolving:
		return "resolving"
	case StatusAnonymous:
		return "anonymous"
	case StatusAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// Notice is a one-shot user facing notification.
type Notice struct {
	Success bool
	Message string
}
