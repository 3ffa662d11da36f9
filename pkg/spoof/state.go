package spoof

import (
	"errors"
	"fmt"
	"time"

	"github.com/mib2ctl/axspoof/pkg/devices"
	"github.com/mib2ctl/axspoof/pkg/eeprom"
)

var (
	ErrAlreadyRunning = errors.New("a spoof is already running")
	ErrNotRunning     = errors.New("no spoof is running")
	ErrCancelTooLate  = errors.New("the identity write phase has started and cannot be cancelled")
	ErrInvalidTarget  = errors.New("invalid target identity")
)

type TransitionError struct {
	From, To Step
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal transition %s -> %s", e.From, e.To)
}

type ResultKind int

const (
	// ResultSpoofed means the identity bytes were rewritten.
	ResultSpoofed ResultKind = iota
	// ResultNoOp means the adapter already carried the target identity and
	// nothing was written.
	ResultNoOp
)

func (k ResultKind) String() string {
	switch k {
	case ResultSpoofed:
		return "spoofed"
	case ResultNoOp:
		return "no-op"
	}
	return "unknown"
}

// Result describes a successfully finished spoof.
type Result struct {
	Kind        ResultKind
	Original    devices.Identity
	New         devices.Target
	BackupID    string
	CompletedAt time.Time
}

func (r Result) OriginalVID() string { return devices.FormatID(r.Original.VendorID) }
func (r Result) OriginalPID() string { return devices.FormatID(r.Original.ProductID) }
func (r Result) NewVID() string      { return devices.FormatID(r.New.VendorID) }
func (r Result) NewPID() string      { return devices.FormatID(r.New.ProductID) }

// State is an immutable snapshot of a spoof. Transitions return a new value.
type State struct {
	Step           Step
	Executing      bool
	ErrorMessage   string
	SuccessMessage string
	Progress       eeprom.Progress
	// Result is set only in StepSuccess.
	Result *Result
	// Err is the failure behind ErrorMessage.
	Err error
}

func Initial() State {
	return State{Step: StepIdle}
}

// Start moves an idle or finished state into StepValidating, dropping the
// previous result and messages.
func (s State) Start() (State, error) {
	if s.Step != StepIdle && !s.Step.Terminal() {
		if s.Step.Executing() {
			return s, ErrAlreadyRunning
		}
		return s, &TransitionError{From: s.Step, To: StepValidating}
	}
	return State{Step: StepValidating, Executing: true}, nil
}

// Advance moves to the next step. Messages and results are cleared.
func (s State) Advance(to Step) (State, error) {
	if to == StepSuccess || to == StepError || !s.Step.CanAdvance(to) {
		return s, &TransitionError{From: s.Step, To: to}
	}
	return State{Step: to, Executing: to.Executing(), Progress: s.Progress}, nil
}

// Fail moves to StepError.
func (s State) Fail(err error) State {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return State{Step: StepError, ErrorMessage: msg, Err: err, Progress: s.Progress}
}

// Succeed moves to StepSuccess with a result.
func (s State) Succeed(msg string, r Result) (State, error) {
	if !s.Step.CanAdvance(StepSuccess) {
		return s, &TransitionError{From: s.Step, To: StepSuccess}
	}
	return State{Step: StepSuccess, SuccessMessage: msg, Result: &r, Progress: s.Progress}, nil
}

func (s State) WithProgress(p eeprom.Progress) State {
	s.Progress = p
	return s
}

func (s State) ResetProgress(op eeprom.Operation, total int) State {
	s.Progress = eeprom.Progress{Operation: op, Total: total}
	return s
}

func (s State) Reset() State {
	return Initial()
}
