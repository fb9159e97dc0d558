package supervisor

// State is a step of the indexer lifecycle.
type State uint8

const (
	StateIdle State = iota
	StateInstalling
	StateLaunching
	StateRunning
	StateExited
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInstalling:
		return "installing"
	case StateLaunching:
		return "launching"
	case StateRunning:
		return "running"
	case StateExited:
		return "exited"
	}
	return "unknown"
}
