package session

import "github.com/satriahrh/voicegate/domain/entities"

var transitions = map[entities.SessionState][]entities.SessionState{
	entities.StateIdle:         {entities.StateListening},
	entities.StateListening:    {entities.StateTranscribing, entities.StateIdle},
	entities.StateTranscribing: {entities.StateRouting, entities.StateIdle},
	entities.StateRouting:      {entities.StateResponding, entities.StateIdle},
	entities.StateResponding:   {entities.StateIdle},
}

// CanTransition reports whether the turn state machine allows from -> to.
// Every live state may move to Closed.
func CanTransition(from, to entities.SessionState) bool {
	if from == entities.StateClosed {
		return false
	}
	if to == entities.StateClosed {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
