package nvm

import "nvmcode-go/errcode"

// State is the shared device lifecycle:
//
//	Uninit -> Stop -> Ready <-> {Reading, Writing, Erasing}
type State uint8

const (
	Uninit State = iota
	Stop
	Ready
	Reading
	Writing
	Erasing
)

func (s State) String() string {
	switch s {
	case Uninit:
		return "uninit"
	case Stop:
		return "stop"
	case Ready:
		return "ready"
	case Reading:
		return "reading"
	case Writing:
		return "writing"
	case Erasing:
		return "erasing"
	default:
		return "invalid"
	}
}

// Lifecycle enforces the state machine. Devices embed it by value; the zero
// value is Uninit and New-style constructors move it to Stop.
type Lifecycle struct {
	state State
}

func (l *Lifecycle) State() State { return l.state }

// MarkStop is called by constructors: Uninit -> Stop.
func (l *Lifecycle) MarkStop() { l.state = Stop }

// StartOK records a successful Start: Stop|Ready -> Ready.
func (l *Lifecycle) StartOK() { l.state = Ready }

// CheckStart gates Start: only Stop and Ready may start.
func (l *Lifecycle) CheckStart() error {
	if l.state != Stop && l.state != Ready {
		return errcode.NotReady
	}
	return nil
}

// CheckStop gates Stop: Ready -> Stop. Stopping a stopped device is a no-op
// accepted for convenience.
func (l *Lifecycle) CheckStop() error {
	if l.state != Ready && l.state != Stop {
		return errcode.NotReady
	}
	l.state = Stop
	return nil
}

// Begin enters a transient operational state from Ready. An operation
// issued while another is in flight reports Busy; one issued before Start
// reports NotReady.
func (l *Lifecycle) Begin(op State) error {
	switch l.state {
	case Ready:
		l.state = op
		return nil
	case Reading, Writing, Erasing:
		return errcode.Busy
	default:
		return errcode.NotReady
	}
}

// End returns to Ready. Called on success and on observed failure alike;
// devices are resumable.
func (l *Lifecycle) End() { l.state = Ready }
