package archive

import (
	"fmt"

	"github.com/matzehuels/packsmith/pkg/errors"
)

// State is the lifecycle state of an [Assembler].
type State int

const (
	StateCreated State = iota
	StateOpen
	StateSealed
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateOpen:
		return "open"
	case StateSealed:
		return "sealed"
	case StateAborted:
		return "aborted"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// DuplicateEntryError reports two inputs claiming one path with different
// content.
type DuplicateEntryError struct {
	Path     string
	Existing Origin
	Incoming Origin
}

func (e *DuplicateEntryError) Error() string {
	return fmt.Sprintf("duplicate archive entry %s: %s conflicts with %s", e.Path, e.Incoming, e.Existing)
}

// Code implements [errors.Coder].
func (e *DuplicateEntryError) Code() errors.Code {
	return errors.ErrCodeDuplicateEntry
}

// SealedStateError reports a mutation of an assembler that no longer
// accepts one.
type SealedStateError struct {
	Op    string
	State State
}

func (e *SealedStateError) Error() string {
	return fmt.Sprintf("%s: archive is %s", e.Op, e.State)
}

// Code implements [errors.Coder].
func (e *SealedStateError) Code() errors.Code {
	return errors.ErrCodeSealed
}
