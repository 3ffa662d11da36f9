// Package spoof rewrites the VID/PID bytes of an adapter EEPROM, one byte at
// a time, behind a mandatory backup and with read-back verification.
package spoof

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/mib2ctl/axspoof/pkg/backup"
	"github.com/mib2ctl/axspoof/pkg/devices"
	"github.com/mib2ctl/axspoof/pkg/eeprom"
)

// streamBuffer is enough for every snapshot of one run.
const streamBuffer = 64

// BackupCreator persists a pre-mutation image. backup.Store implements it.
type BackupCreator interface {
	Create(identity devices.Identity, img eeprom.Image, notes string) (backup.Backup, error)
}

// Orchestrator drives the spoof state machine for one adapter.
type Orchestrator struct {
	port              eeprom.Port
	backups           BackupCreator
	identity          devices.Identity
	allowExperimental bool
	now               func() time.Time

	mu              sync.Mutex
	state           State
	running         bool
	writing         bool
	cancelRequested bool
	cancel          context.CancelFunc
}

type Option func(*Orchestrator)

// AllowExperimental admits chipsets classified as experimental.
func AllowExperimental(allow bool) Option {
	return func(o *Orchestrator) {
		o.allowExperimental = allow
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

func New(port eeprom.Port, backups BackupCreator, identity devices.Identity, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		port:     port,
		backups:  backups,
		identity: identity,
		now:      time.Now,
		state:    Initial(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// State returns the latest snapshot.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Reset returns a finished orchestrator to StepIdle.
func (o *Orchestrator) Reset() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return ErrAlreadyRunning
	}
	o.state = o.state.Reset()
	return nil
}

// Start launches a spoof towards target and returns a channel carrying every
// state snapshot in order. The channel is closed after the terminal snapshot
// and must be drained by the caller.
//
// Cancelling ctx has the same effect as Cancel: it is honoured until the
// first identity byte is written and ignored afterwards.
func (o *Orchestrator) Start(ctx context.Context, target devices.Target) (<-chan State, error) {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	st, err := o.state.Start()
	if err != nil {
		o.mu.Unlock()
		return nil, err
	}
	rctx, cancel := context.WithCancel(ctx)
	o.state = st
	o.running = true
	o.writing = false
	o.cancelRequested = false
	o.cancel = cancel
	o.mu.Unlock()

	ch := make(chan State, streamBuffer)
	ch <- st
	go o.run(rctx, target, ch)
	return ch, nil
}

// Cancel aborts a running spoof and returns it to StepIdle. It fails with
// ErrCancelTooLate once the write phase has begun.
func (o *Orchestrator) Cancel() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.running {
		return ErrNotRunning
	}
	if o.writing {
		return ErrCancelTooLate
	}
	o.cancelRequested = true
	o.cancel()
	return nil
}

type runner struct {
	o  *Orchestrator
	ch chan<- State
	st State
}

func (r *runner) emit(s State) {
	r.st = s
	r.o.mu.Lock()
	r.o.state = s
	r.o.mu.Unlock()
	r.ch <- s
}

func (r *runner) fail(err error) {
	glog.Errorf("Spoof of %s failed in %s: %v", r.o.identity, r.st.Step, err)
	r.emit(r.st.Fail(err))
}

func (r *runner) advance(to Step) bool {
	next, err := r.st.Advance(to)
	if err != nil {
		r.fail(err)
		return false
	}
	glog.V(1).Infof("Spoof step: %s", to)
	r.emit(next)
	return true
}

func (r *runner) progress(p eeprom.Progress) {
	r.emit(r.st.WithProgress(p))
}

func (r *runner) succeed(msg string, res Result) {
	next, err := r.st.Succeed(msg, res)
	if err != nil {
		r.fail(err)
		return
	}
	glog.Infof("Spoof of %s finished: %s", r.o.identity, msg)
	r.emit(next)
}

// aborted checks for a pending cancellation and, if there is one, returns
// the machine to idle.
func (r *runner) aborted(ctx context.Context) bool {
	r.o.mu.Lock()
	requested := r.o.cancelRequested
	r.o.mu.Unlock()
	if !requested && ctx.Err() == nil {
		return false
	}
	glog.Infof("Spoof of %s cancelled in %s", r.o.identity, r.st.Step)
	r.emit(r.st.Reset())
	return true
}

// commit enters the write phase unless a cancellation got there first.
func (r *runner) commit() bool {
	r.o.mu.Lock()
	defer r.o.mu.Unlock()
	if r.o.cancelRequested {
		return false
	}
	r.o.writing = true
	return true
}

func (o *Orchestrator) run(ctx context.Context, target devices.Target, ch chan State) {
	r := &runner{o: o, ch: ch, st: o.State()}
	defer func() {
		o.mu.Lock()
		o.cancel()
		o.running = false
		o.writing = false
		o.cancel = nil
		o.mu.Unlock()
		close(ch)
	}()

	if err := o.validate(target); err != nil {
		r.fail(err)
		return
	}
	if r.aborted(ctx) {
		return
	}

	if !r.advance(StepCreatingBackup) {
		return
	}
	r.emit(r.st.ResetProgress(eeprom.OperationRead, eeprom.Size))
	img, err := eeprom.ReadImage(ctx, o.port, r.progress)
	if err != nil {
		if r.aborted(ctx) {
			return
		}
		r.fail(fmt.Errorf("could not read EEPROM: %w", err))
		return
	}
	bk, err := o.backups.Create(o.identity, img, fmt.Sprintf("before spoof to %s", target))
	if err != nil {
		r.fail(fmt.Errorf("could not create backup: %w", err))
		return
	}
	if r.aborted(ctx) {
		return
	}

	// The stored bytes decide, not the descriptor: an adapter that was
	// spoofed but not replugged still enumerates with its old identity.
	noop := img.Identity() == target
	res := Result{
		Kind:     ResultSpoofed,
		Original: o.identity,
		New:      target,
		BackupID: bk.ID,
	}
	if noop {
		res.Kind = ResultNoOp
		res.CompletedAt = o.now()
		r.succeed(fmt.Sprintf("Adapter already identifies as %s, nothing was written", target), res)
		return
	}

	if !r.commit() {
		r.aborted(ctx)
		return
	}
	// From here on the identity must not be left half-written by a
	// cancellation, only by a hardware failure.
	wctx := context.WithoutCancel(ctx)
	want := eeprom.IdentityBytes(target)
	r.emit(r.st.ResetProgress(eeprom.OperationWrite, len(want)))
	for i, step := range writeSteps {
		if !r.advance(step) {
			return
		}
		off := eeprom.IdentityOffsets[i]
		if err := o.port.Write(wctx, off, want[i]); err != nil {
			r.fail(fmt.Errorf("could not write byte at 0x%02X: %w", off, err))
			return
		}
		got, err := o.port.Read(wctx, off, 1)
		if err != nil {
			r.fail(fmt.Errorf("could not read back byte at 0x%02X: %w", off, err))
			return
		}
		if len(got) != 1 {
			r.fail(&eeprom.TransportError{Op: eeprom.OperationRead, Offset: off, Length: 1, Err: fmt.Errorf("short read: %d bytes", len(got))})
			return
		}
		if got[0] != want[i] {
			r.fail(&eeprom.MismatchError{Offset: off, Expected: want[i], Got: got[0]})
			return
		}
		r.progress(eeprom.Progress{Operation: eeprom.OperationWrite, Done: i + 1, Total: len(want)})
	}

	if !r.advance(StepVerifying) {
		return
	}
	got, err := o.port.Read(wctx, eeprom.OffsetVIDLow, uint16(len(want)))
	if err != nil {
		r.fail(fmt.Errorf("could not read back identity: %w", err))
		return
	}
	for i := range want {
		if i >= len(got) || got[i] != want[i] {
			var g byte
			if i < len(got) {
				g = got[i]
			}
			r.fail(&eeprom.MismatchError{Offset: eeprom.IdentityOffsets[i], Expected: want[i], Got: g})
			return
		}
	}
	res.CompletedAt = o.now()
	r.succeed(fmt.Sprintf("Adapter now identifies as %s, replug it to apply", target), res)
}

func (o *Orchestrator) validate(target devices.Target) error {
	if err := devices.CheckSupported(o.identity, o.allowExperimental); err != nil {
		return err
	}
	for _, id := range []uint16{target.VendorID, target.ProductID} {
		if id == 0x0000 || id == 0xffff {
			return fmt.Errorf("%w: %s", ErrInvalidTarget, target)
		}
	}
	return nil
}
