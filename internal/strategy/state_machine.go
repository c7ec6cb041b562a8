package strategy

// StateMachine tracks the grid lifecycle. It is owned by the engine loop and
// never touched concurrently.
type StateMachine struct {
	State State
}

func NewStateMachine() *StateMachine {
	return &StateMachine{State: StateInitializing}
}

func (s *StateMachine) Apply(event Event) State {
	s.State = nextState(s.State, event)
	return s.State
}

func nextState(current State, event Event) State {
	switch current {
	case StateInitializing:
		switch event {
		case EventArm:
			return StateWaitingForTrigger
		case EventAcquire:
			return StateAcquiringAssets
		case EventStart:
			return StateRunning
		}
	case StateWaitingForTrigger:
		if event == EventTriggered {
			return StateRunning
		}
	case StateAcquiringAssets:
		switch event {
		case EventAcquired:
			return StateRunning
		case EventAcquireFailed:
			return StateInitializing
		}
	}
	return current
}
