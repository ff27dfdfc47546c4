package runner

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/ethereum-optimism/infra/op-testexec/types"
)

// State is the lifecycle state of a Collection.
type State int32

const (
	StateNotStarted State = iota
	StateRunning
	StateCompleted
	StateCancelled
	StateFaulted
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	case StateFaulted:
		return "faulted"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

var ErrInvalidTransition = errors.New("invalid collection state transition")

// Assembly is the root of a run: a named set of collections sharing
// assembly-level fixtures.
type Assembly struct {
	Name       string
	Path       string
	ConfigFile string
	Fixtures   []types.Fixture
	// Collections run in the order given by the configured CollectionOrderer.
	Collections []*Collection
}

// UniqueID identifies the assembly by its path, falling back to its name.
func (a *Assembly) UniqueID() string {
	path := a.Path
	if path == "" {
		path = a.Name
	}
	return types.AssemblyUniqueID(path, a.ConfigFile)
}

// Collection is the unit of dispatch. Its test cases always run one at a
// time, in order; different collections may run concurrently.
type Collection struct {
	DisplayName string
	// Definition optionally names where the collection was declared.
	Definition string
	Traits     map[string][]string
	Cases      []types.TestCase
	// DisableParallelization runs the collection on its own after every
	// parallel collection has finished.
	DisableParallelization bool
	Fixtures               []types.Fixture
	// ClassFixtures are set up around the cases of the named class.
	ClassFixtures map[string][]types.Fixture

	state atomic.Int32
}

func (c *Collection) State() State {
	return State(c.state.Load())
}

func (c *Collection) transition(from, to State) error {
	if !validTransition(from, to) || !c.state.CompareAndSwap(int32(from), int32(to)) {
		return fmt.Errorf("%w: %s -> %s (current %s)", ErrInvalidTransition, from, to, c.State())
	}
	return nil
}

func validTransition(from, to State) bool {
	switch from {
	case StateNotStarted:
		return to == StateRunning
	case StateRunning:
		return to == StateCompleted || to == StateCancelled || to == StateFaulted
	default:
		return false
	}
}
