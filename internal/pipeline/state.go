package pipeline

// State tracks where a pipeline run is in its lifecycle. Transitions are
// strictly linear except for StateError, which is reachable from any state.
type State string

const (
	StateInit             State = "INIT"
	StateConnected        State = "CONNECTED"
	StateValidated        State = "VALIDATED"
	StateDimensionsLoaded State = "DIMENSIONS_LOADED"
	StateFactsLoaded      State = "FACTS_LOADED"
	StateValidatedResults State = "VALIDATED_RESULTS"
	StateDisconnected     State = "DISCONNECTED"
	StateError            State = "ERROR"
)

// successor maps each state to the only state it may advance to.
var successor = map[State]State{
	StateInit:             StateConnected,
	StateConnected:        StateValidated,
	StateValidated:        StateDimensionsLoaded,
	StateDimensionsLoaded: StateFactsLoaded,
	StateFactsLoaded:      StateValidatedResults,
	StateValidatedResults: StateDisconnected,
}

// CanAdvanceTo reports whether the transition s -> to is legal.
func (s State) CanAdvanceTo(to State) bool {
	if to == StateError {
		return s != StateDisconnected && s != StateError
	}
	return successor[s] == to
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateDisconnected || s == StateError
}
