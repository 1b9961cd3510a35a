package common

import "errors"

// ErrModulePaused rejects mutating operations while the module is halted by
// its owner. Queries stay available during a pause.
var ErrModulePaused = errors.New("module paused")

// ErrReentrantCall rejects a guarded operation entered while another guarded
// operation is still in flight.
var ErrReentrantCall = errors.New("reentrant call")

// CriticalSection is the single-flight capability shared by the ledger's
// guarded entry points. It is not a mutex: a re-entry attempt must fail fast
// rather than block, because the re-entering caller may be a transfer
// callback running on the same goroutine.
type CriticalSection interface {
	Enter() error
	Exit()
}

// Section is a shared boolean flag satisfying CriticalSection. The hosting
// ledger already serializes operations, so the flag only trips when an
// external collaborator calls back into the ledger mid-operation.
type Section struct {
	locked bool
}

func NewSection() *Section {
	return &Section{}
}

func (s *Section) Enter() error {
	if s.locked {
		return ErrReentrantCall
	}
	s.locked = true
	return nil
}

func (s *Section) Exit() {
	s.locked = false
}
