package runner

// State is a runner's position in its lifecycle:
//
//	Pending -> Firing -> Waiting -> Firing -> ... (recurring)
//	Pending -> Firing -> Terminated               (one-time)
//
// Any suspended state moves to Cancelled when the context ends.
type State int32

const (
	Pending State = iota
	Firing
	Waiting
	Terminated
	Cancelled
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Firing:
		return "firing"
	case Waiting:
		return "waiting"
	case Terminated:
		return "terminated"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Done reports whether the runner has exited.
func (s State) Done() bool { return s == Terminated || s == Cancelled }

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }
