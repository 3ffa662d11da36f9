package spoof

import "fmt"

// Step is a node of the spoof state machine.
type Step int

const (
	StepIdle Step = iota
	StepValidating
	StepCreatingBackup
	StepWritingVIDLow
	StepWritingVIDHigh
	StepWritingPIDLow
	StepWritingPIDHigh
	StepVerifying
	StepSuccess
	StepError
)

// writeSteps are the steps that program the identity, in order. They line up
// with eeprom.IdentityOffsets.
var writeSteps = [4]Step{StepWritingVIDLow, StepWritingVIDHigh, StepWritingPIDLow, StepWritingPIDHigh}

func (s Step) String() string {
	switch s {
	case StepIdle:
		return "idle"
	case StepValidating:
		return "validating"
	case StepCreatingBackup:
		return "creating_backup"
	case StepWritingVIDLow:
		return "writing_vid_low"
	case StepWritingVIDHigh:
		return "writing_vid_high"
	case StepWritingPIDLow:
		return "writing_pid_low"
	case StepWritingPIDHigh:
		return "writing_pid_high"
	case StepVerifying:
		return "verifying"
	case StepSuccess:
		return "success"
	case StepError:
		return "error"
	}
	return fmt.Sprintf("step(%d)", int(s))
}

// Description is the text shown to the user while the step runs.
func (s Step) Description() string {
	switch s {
	case StepIdle:
		return "Ready"
	case StepValidating:
		return "Checking adapter chipset and target identity"
	case StepCreatingBackup:
		return "Reading EEPROM and saving a backup"
	case StepWritingVIDLow:
		return "Writing vendor ID low byte (0x88)"
	case StepWritingVIDHigh:
		return "Writing vendor ID high byte (0x89)"
	case StepWritingPIDLow:
		return "Writing product ID low byte (0x8A)"
	case StepWritingPIDHigh:
		return "Writing product ID high byte (0x8B)"
	case StepVerifying:
		return "Verifying new identity"
	case StepSuccess:
		return "Done"
	case StepError:
		return "Failed"
	}
	return "Unknown step"
}

func (s Step) Terminal() bool {
	return s == StepSuccess || s == StepError
}

// Executing is true for every step between Idle and a terminal step.
func (s Step) Executing() bool {
	switch s {
	case StepIdle, StepSuccess, StepError:
		return false
	}
	return true
}

// Writing is true for the four identity write steps.
func (s Step) Writing() bool {
	switch s {
	case StepWritingVIDLow, StepWritingVIDHigh, StepWritingPIDLow, StepWritingPIDHigh:
		return true
	}
	return false
}

// CanAdvance reports whether to is a legal successor of s. Every executing
// step may fail into StepError. Leaving a terminal step requires a reset.
func (s Step) CanAdvance(to Step) bool {
	if to == StepError {
		return s.Executing()
	}
	switch s {
	case StepIdle:
		return to == StepValidating
	case StepValidating:
		return to == StepCreatingBackup
	case StepCreatingBackup:
		// Success directly when the target identity is already in place.
		return to == StepWritingVIDLow || to == StepSuccess
	case StepWritingVIDLow:
		return to == StepWritingVIDHigh
	case StepWritingVIDHigh:
		return to == StepWritingPIDLow
	case StepWritingPIDLow:
		return to == StepWritingPIDHigh
	case StepWritingPIDHigh:
		return to == StepVerifying
	case StepVerifying:
		return to == StepSuccess
	case StepSuccess, StepError:
		return false
	}
	return false
}
