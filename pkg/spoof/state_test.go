package spoof

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mib2ctl/axspoof/pkg/devices"
	"github.com/mib2ctl/axspoof/pkg/eeprom"
)

func checkInvariants(t *testing.T, s State) {
	t.Helper()
	assert.Equal(t, s.Step.Executing(), s.Executing, "executing flag in %s", s.Step)
	assert.Equal(t, s.Step == StepError, s.ErrorMessage != "", "error message in %s", s.Step)
	assert.Equal(t, s.Step == StepSuccess, s.Result != nil, "result in %s", s.Step)
}

func TestStateTransitions(t *testing.T) {
	s := Initial()
	checkInvariants(t, s)

	s, err := s.Start()
	require.NoError(t, err)
	assert.Equal(t, StepValidating, s.Step)
	checkInvariants(t, s)

	_, err = s.Start()
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	for _, to := range []Step{StepCreatingBackup, StepWritingVIDLow, StepWritingVIDHigh, StepWritingPIDLow, StepWritingPIDHigh, StepVerifying} {
		s, err = s.Advance(to)
		require.NoError(t, err, "advance to %s", to)
		checkInvariants(t, s)
	}

	s, err = s.Succeed("ok", Result{New: devices.DUBE100C1})
	require.NoError(t, err)
	assert.Equal(t, StepSuccess, s.Step)
	assert.Equal(t, "ok", s.SuccessMessage)
	checkInvariants(t, s)

	_, err = s.Advance(StepValidating)
	var te *TransitionError
	require.True(t, errors.As(err, &te))
	restarted, err := s.Start()
	require.NoError(t, err)
	assert.Equal(t, State{Step: StepValidating, Executing: true}, restarted)

	s = s.Reset()
	assert.Equal(t, Initial(), s)
}

func TestStateSkippingSteps(t *testing.T) {
	s, err := Initial().Start()
	require.NoError(t, err)

	for _, to := range []Step{StepWritingVIDLow, StepVerifying, StepIdle, StepSuccess, StepError} {
		_, err := s.Advance(to)
		assert.Error(t, err, "validating -> %s", to)
	}
	_, err = s.Succeed("", Result{})
	assert.Error(t, err)

	s, err = s.Advance(StepCreatingBackup)
	require.NoError(t, err)
	_, err = s.Advance(StepWritingPIDLow)
	assert.Error(t, err)
	// No-op path.
	_, err = s.Succeed("", Result{Kind: ResultNoOp})
	assert.NoError(t, err)
}

func TestStateFail(t *testing.T) {
	s, err := Initial().Start()
	require.NoError(t, err)
	s, err = s.Advance(StepCreatingBackup)
	require.NoError(t, err)
	s = s.WithProgress(eeprom.Progress{Operation: eeprom.OperationRead, Done: 128, Total: 256})
	assert.Equal(t, 50, s.Progress.Percent())

	cause := errors.New("boom")
	s = s.Fail(cause)
	assert.Equal(t, StepError, s.Step)
	assert.Equal(t, "boom", s.ErrorMessage)
	assert.ErrorIs(t, s.Err, cause)
	checkInvariants(t, s)

	s = s.ResetProgress(eeprom.OperationWrite, 4)
	assert.Equal(t, eeprom.Progress{Operation: eeprom.OperationWrite, Total: 4}, s.Progress)

	s, err = s.Start()
	require.NoError(t, err)
	assert.Equal(t, StepValidating, s.Step)
	assert.Empty(t, s.ErrorMessage)
	assert.NoError(t, s.Err)
	assert.Zero(t, s.Progress)
	checkInvariants(t, s)

	_, err = s.Start()
	assert.ErrorIs(t, err, ErrAlreadyRunning)
}

func TestStepText(t *testing.T) {
	for s := StepIdle; s <= StepError; s++ {
		assert.NotEqual(t, "Unknown step", s.Description(), s.String())
		assert.NotContains(t, s.String(), "step(")
	}
	assert.True(t, StepWritingPIDLow.Writing())
	assert.False(t, StepVerifying.Writing())
}

func TestResultIDs(t *testing.T) {
	r := Result{Original: devices.IdentityFor(0x0b95, 0x772a, ""), New: devices.DUBE100C1}
	assert.Equal(t, "0x0B95", r.OriginalVID())
	assert.Equal(t, "0x772A", r.OriginalPID())
	assert.Equal(t, "0x2001", r.NewVID())
	assert.Equal(t, "0x3C05", r.NewPID())
}
