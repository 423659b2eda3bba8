package realtime

import "slices"

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateFallback
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFallback:
		return "fallback"
	}
	return "unknown"
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Signal is a lifecycle input to the Machine. Message traffic is never a Signal.
type Signal int

const (
	SignalConnect Signal = iota
	SignalDisconnect
	SignalSucceeded
	SignalFailed
	SignalDropped
	SignalRetryDue
	SignalProbeDue
)

func (s Signal) String() string {
	switch s {
	case SignalConnect:
		return "connect"
	case SignalDisconnect:
		return "disconnect"
	case SignalSucceeded:
		return "succeeded"
	case SignalFailed:
		return "failed"
	case SignalDropped:
		return "dropped"
	case SignalRetryDue:
		return "retry_due"
	case SignalProbeDue:
		return "probe_due"
	}
	return "unknown"
}

// Action is a side effect the Machine asks its owner to perform.
type Action int

const (
	ActionDial Action = iota
	ActionScheduleRetry
	ActionScheduleProbe
	ActionReplay
	ActionTeardown
)

func (a Action) String() string {
	switch a {
	case ActionDial:
		return "dial"
	case ActionScheduleRetry:
		return "schedule_retry"
	case ActionScheduleProbe:
		return "schedule_probe"
	case ActionReplay:
		return "replay"
	case ActionTeardown:
		return "teardown"
	}
	return "unknown"
}

type Transition struct {
	From    State
	To      State
	Actions []Action
	// Counted is set when the signal added a failed attempt.
	Counted bool
}

func (t Transition) Changed() bool {
	return t.From != t.To
}

func (t Transition) Has(a Action) bool {
	return slices.Contains(t.Actions, a)
}

// Machine is the connection lifecycle without timers or I/O.
type Machine struct {
	state       State
	attempts    int
	maxAttempts int
}

func NewMachine(maxAttempts int) *Machine {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Machine{maxAttempts: maxAttempts}
}

func (m *Machine) State() State {
	return m.state
}

func (m *Machine) Attempts() int {
	return m.attempts
}

func (m *Machine) MaxAttempts() int {
	return m.maxAttempts
}

func (m *Machine) Apply(sig Signal) Transition {
	t := Transition{From: m.state, To: m.state}

	switch sig {
	case SignalDisconnect:
		m.attempts = 0
		t.To = StateDisconnected
		t.Actions = []Action{ActionTeardown}

	case SignalConnect:
		switch m.state {
		case StateDisconnected:
			t.To = StateConnecting
			t.Actions = []Action{ActionDial}
		case StateFallback:
			t.Actions = []Action{ActionDial}
		}

	case SignalSucceeded:
		switch m.state {
		case StateConnecting, StateReconnecting, StateFallback:
			m.attempts = 0
			t.To = StateConnected
			t.Actions = []Action{ActionReplay}
		}

	case SignalFailed:
		switch m.state {
		case StateConnecting, StateReconnecting:
			m.attempts++
			t.Counted = true
			if m.attempts >= m.maxAttempts {
				t.To = StateFallback
				t.Actions = []Action{ActionScheduleProbe}
			} else {
				t.To = StateReconnecting
				t.Actions = []Action{ActionScheduleRetry}
			}
		case StateFallback:
			t.Actions = []Action{ActionScheduleProbe}
		}

	case SignalDropped:
		if m.state == StateConnected {
			t.To = StateReconnecting
			t.Actions = []Action{ActionScheduleRetry}
		}

	case SignalRetryDue:
		if m.state == StateReconnecting {
			t.Actions = []Action{ActionDial}
		}

	case SignalProbeDue:
		if m.state == StateFallback {
			t.Actions = []Action{ActionDial}
		}
	}

	m.state = t.To
	return t
}
