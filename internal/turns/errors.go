package turns

import (
	"errors"
	"fmt"
)

var (
	// ErrTurnNotProcessable is returned for a turn whose status does not allow processing.
	ErrTurnNotProcessable = errors.New("turn cannot be processed")
	// ErrTurnBusy is returned when another run moved the turn to processing first.
	ErrTurnBusy = errors.New("turn is already being processed")
)

// StageError wraps the failure of one pipeline stage.
type StageError struct {
	Stage int
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %d (%s): %v", e.Stage, StageName(e.Stage), e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
