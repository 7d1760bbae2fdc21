package permission

import (
	"fmt"
	"time"
)

// StateTransitionError signals an attempt to move a permission request to a
// status not reachable from its current one. It indicates two workflows
// disagreed about the current state and is never swallowed.
type StateTransitionError struct {
	PermissionID string
	From, To     Status
}

func (e *StateTransitionError) Error() string {
	return fmt.Sprintf("illegal state transition for permission %s: %s -> %s", e.PermissionID, e.From, e.To)
}

// Machine is a transition-table-driven state engine. One table per region
// replaces the per-region state class hierarchies of older connectors.
type Machine struct {
	table map[Status][]Status
}

// NewMachine builds a machine from a region's transition table.
func NewMachine(table map[Status][]Status) *Machine {
	copied := make(map[Status][]Status, len(table))
	for from, tos := range table {
		copied[from] = append([]Status(nil), tos...)
	}
	return &Machine{table: copied}
}

// DefaultTable is the canonical shared lifecycle. Region engines restrict or
// extend it.
func DefaultTable() map[Status][]Status {
	return map[Status][]Status{
		StatusCreated:   {StatusValidated, StatusMalformed},
		StatusValidated: {StatusSentToPermissionAdmin, StatusMalformed, StatusTimedOut},
		StatusSentToPermissionAdmin: {
			StatusAccepted, StatusRejected, StatusInvalid, StatusUnableToSend, StatusTimedOut,
		},
		StatusAccepted: {
			StatusStreamingData, StatusFulfilled, StatusUnfulfillable,
			StatusRevoked, StatusTerminated, StatusTimedOut,
		},
		StatusStreamingData: {
			StatusFulfilled, StatusUnfulfillable, StatusRevoked, StatusTerminated,
		},
	}
}

// CanTransition reports whether next is declared reachable from current.
func (m *Machine) CanTransition(current, next Status) bool {
	for _, s := range m.table[current] {
		if s == next {
			return true
		}
	}
	return false
}

// Transition moves pr to next or fails with a StateTransitionError, leaving
// pr untouched.
func (m *Machine) Transition(pr *PermissionRequest, next Status, at time.Time) error {
	if !m.CanTransition(pr.Status, next) {
		return &StateTransitionError{PermissionID: pr.PermissionID, From: pr.Status, To: next}
	}
	pr.Status = next
	pr.StatusChangedAt = at
	return nil
}
