package domain

// TaskState labels the lifecycle state of a task.
type TaskState string

const (
	StateReady      TaskState = "READY"
	StateClaimed    TaskState = "CLAIMED"
	StateCompleted  TaskState = "COMPLETED"
	StateCancelled  TaskState = "CANCELLED"
	StateTerminated TaskState = "TERMINATED"
)

// allowedTransitions lists every legal state change. Terminal states have no exits.
// Transfer keeps the state and is not listed.
var allowedTransitions = map[TaskState]map[TaskState]struct{}{
	StateReady: {
		StateClaimed:    {},
		StateCompleted:  {},
		StateCancelled:  {},
		StateTerminated: {},
	},
	StateClaimed: {
		StateReady:      {},
		StateCompleted:  {},
		StateCancelled:  {},
		StateTerminated: {},
	},
	StateCompleted:  {},
	StateCancelled:  {},
	StateTerminated: {},
}

// CanTransition reports whether from -> to is a legal lifecycle step.
func CanTransition(from, to TaskState) bool {
	next, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	_, ok = next[to]
	return ok
}

func (s TaskState) Valid() bool {
	_, ok := allowedTransitions[s]
	return ok
}

// Terminal reports whether s is absorbing.
func (s TaskState) Terminal() bool {
	return s == StateCompleted || s == StateCancelled || s == StateTerminated
}

// HoldsOwner reports whether a task in state s carries an owner.
func (s TaskState) HoldsOwner() bool {
	return s == StateClaimed || s == StateCompleted
}

// ParseTaskStates converts raw names, rejecting unknown ones.
func ParseTaskStates(raw []string) ([]TaskState, bool) {
	states := make([]TaskState, 0, len(raw))
	for _, r := range raw {
		s := TaskState(r)
		if !s.Valid() {
			return nil, false
		}
		states = append(states, s)
	}
	return states, true
}
