package adapter

import (
	"fmt"
	"log/slog"

	"github.com/roach88/peersync/internal/result"
)

// transitions is the complete state table.
var transitions = map[result.State][]result.State{
	result.StatePending:    {result.StateFiltered, result.StateConverting},
	result.StateConverting: {result.StateConversionFailed, result.StateApplying},
	result.StateApplying:   {result.StateApplied, result.StateLockTimeout, result.StateError},
}

// CanTransition reports whether from → to is in the state table.
func CanTransition(from, to result.State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// machine tracks one item. Not safe for concurrent use; one per Push.
type machine struct {
	state  result.State
	strict bool
}

func newMachine(strict bool) *machine {
	return &machine{state: result.StatePending, strict: strict}
}

// to moves the machine. An illegal transition is a programming error: it
// panics in strict mode and is logged otherwise.
func (m *machine) to(next result.State) {
	if !CanTransition(m.state, next) {
		if m.strict {
			panic(fmt.Sprintf("illegal sync state transition %s -> %s", m.state, next))
		}
		slog.Error("illegal sync state transition", "from", m.state, "to", next)
	}
	m.state = next
}
