// Package app binds the spoof orchestrator, recovery controller, backup
// store and history for one connected adapter.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/mib2ctl/axspoof/pkg/backup"
	"github.com/mib2ctl/axspoof/pkg/devices"
	"github.com/mib2ctl/axspoof/pkg/eeprom"
	"github.com/mib2ctl/axspoof/pkg/history"
	"github.com/mib2ctl/axspoof/pkg/recovery"
	"github.com/mib2ctl/axspoof/pkg/spoof"
)

// ErrBusy is returned when an operation is started while another one is
// still running on the same adapter.
var ErrBusy = errors.New("another operation is in progress on this adapter")

type Options struct {
	// Target is the identity spoofs normally program. Adapters carrying it
	// are not considered bricked.
	Target            devices.Target
	AllowExperimental bool
	// History is optional.
	History *history.Store
	Now     func() time.Time
}

// Session serializes every EEPROM operation on one adapter.
type Session struct {
	Identity devices.Identity
	Port     eeprom.Port
	Backups  *backup.Store
	History  *history.Store

	orch     *spoof.Orchestrator
	recovery *recovery.Controller
	now      func() time.Time

	mu   sync.Mutex
	busy bool
}

func NewSession(identity devices.Identity, port eeprom.Port, backups *backup.Store, opts Options) *Session {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Target == (devices.Target{}) {
		opts.Target = devices.DUBE100C1
	}
	return &Session{
		Identity: identity,
		Port:     port,
		Backups:  backups,
		History:  opts.History,
		orch: spoof.New(port, backups, identity,
			spoof.AllowExperimental(opts.AllowExperimental),
			spoof.WithClock(opts.Now)),
		recovery: recovery.New(port, backups,
			recovery.WithTarget(opts.Target),
			recovery.WithClock(opts.Now)),
		now: opts.Now,
	}
}

func (s *Session) acquire() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return ErrBusy
	}
	s.busy = true
	return nil
}

func (s *Session) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = false
}

func (s *Session) record(ctx context.Context, op history.Operation) {
	if s.History == nil {
		return
	}
	op.VendorID = s.Identity.VendorID
	op.ProductID = s.Identity.ProductID
	op.Chipset = s.Identity.Chipset
	if _, err := s.History.Record(context.WithoutCancel(ctx), op); err != nil {
		glog.Warningf("Could not record %s in history: %v", op.Type, err)
	}
}

// Spoof starts rewriting the adapter identity to target. The returned
// channel carries every state snapshot and must be drained.
func (s *Session) Spoof(ctx context.Context, target devices.Target) (<-chan spoof.State, error) {
	if err := s.acquire(); err != nil {
		return nil, err
	}
	started := s.now()
	in, err := s.orch.Start(ctx, target)
	if err != nil {
		s.release()
		return nil, err
	}

	out := make(chan spoof.State, cap(in))
	go func() {
		var last spoof.State
		for st := range in {
			last = st
			out <- st
		}
		op := history.Operation{
			Timestamp: started,
			Type:      history.TypeSpoof,
			TargetVID: target.VendorID,
			TargetPID: target.ProductID,
			Duration:  s.now().Sub(started),
		}
		switch {
		case last.Step == spoof.StepSuccess && last.Result != nil:
			op.Outcome = history.OutcomeSuccess
			if last.Result.Kind == spoof.ResultNoOp {
				op.Outcome = history.OutcomeNoOp
			}
			op.BackupID = last.Result.BackupID
		case last.Step == spoof.StepError:
			op.Outcome = history.OutcomeFailure
			op.Error = last.ErrorMessage
		default:
			op.Outcome = history.OutcomeCancelled
		}
		s.record(ctx, op)
		s.release()
		close(out)
	}()
	return out, nil
}

// Cancel aborts a running spoof if it has not started writing.
func (s *Session) Cancel() error {
	return s.orch.Cancel()
}

// SpoofState is the latest snapshot of the spoof state machine.
func (s *Session) SpoofState() spoof.State {
	return s.orch.State()
}

// Plan is a dry run of Spoof.
func (s *Session) Plan(ctx context.Context, target devices.Target) (*spoof.Plan, error) {
	if err := s.acquire(); err != nil {
		return nil, err
	}
	defer s.release()
	started := s.now()
	p, err := s.orch.Plan(ctx, target)
	op := history.Operation{
		Timestamp: started,
		Type:      history.TypeSpoof,
		TargetVID: target.VendorID,
		TargetPID: target.ProductID,
		DryRun:    true,
		Duration:  s.now().Sub(started),
		Outcome:   history.OutcomeSuccess,
	}
	if err != nil {
		op.Outcome = history.OutcomeFailure
		op.Error = err.Error()
	} else if p.NoOp() {
		op.Outcome = history.OutcomeNoOp
	}
	s.record(ctx, op)
	return p, err
}

func (s *Session) ListBackups() ([]backup.Summary, error) {
	return s.Backups.List()
}

// Dump reads the full EEPROM image.
func (s *Session) Dump(ctx context.Context, progress eeprom.ProgressFunc) (eeprom.Image, error) {
	if err := s.acquire(); err != nil {
		return eeprom.Image{}, err
	}
	defer s.release()
	return eeprom.ReadImage(ctx, s.Port, progress)
}

// CreateBackup reads the EEPROM and stores it as a new backup.
func (s *Session) CreateBackup(ctx context.Context, notes string, progress eeprom.ProgressFunc) (backup.Backup, error) {
	if err := s.acquire(); err != nil {
		return backup.Backup{}, err
	}
	defer s.release()
	img, err := eeprom.ReadImage(ctx, s.Port, progress)
	if err != nil {
		return backup.Backup{}, fmt.Errorf("could not read EEPROM: %w", err)
	}
	return s.Backups.Create(s.Identity, img, notes)
}

func (s *Session) restoreOp(ctx context.Context, typ history.Type, id string, started time.Time, err error) {
	op := history.Operation{
		Timestamp: started,
		Type:      typ,
		Duration:  s.now().Sub(started),
		BackupID:  id,
		Outcome:   history.OutcomeSuccess,
	}
	if err != nil {
		op.Outcome = history.OutcomeFailure
		op.Error = err.Error()
	}
	s.record(ctx, op)
}

// Restore writes a verified backup back to the adapter.
func (s *Session) Restore(ctx context.Context, id string, progress eeprom.ProgressFunc) (*recovery.Result, error) {
	if err := s.acquire(); err != nil {
		return nil, err
	}
	defer s.release()
	started := s.now()
	res, err := s.recovery.Restore(ctx, id, progress)
	s.restoreOp(ctx, history.TypeRestore, id, started, err)
	return res, err
}

// ForceRestore is Restore behind an explicit confirmation, for adapters that
// no longer identify correctly.
func (s *Session) ForceRestore(ctx context.Context, id string, confirm func(backup.Backup) bool, progress eeprom.ProgressFunc) (*recovery.Result, error) {
	if err := s.acquire(); err != nil {
		return nil, err
	}
	defer s.release()
	started := s.now()
	res, err := s.recovery.ForceRestore(ctx, id, confirm, progress)
	if errors.Is(err, recovery.ErrRestoreDeclined) {
		return nil, err
	}
	s.restoreOp(ctx, history.TypeForceRestore, id, started, err)
	return res, err
}

func (s *Session) DetectBricked() bool {
	return s.recovery.DetectBricked(s.Identity)
}

func (s *Session) Diagnose(ctx context.Context, writeTest bool) (*recovery.Diagnosis, error) {
	if err := s.acquire(); err != nil {
		return nil, err
	}
	defer s.release()
	started := s.now()
	d := s.recovery.Diagnose(ctx, s.Identity, writeTest)
	op := history.Operation{
		Timestamp: started,
		Type:      history.TypeDiagnose,
		Duration:  s.now().Sub(started),
		Outcome:   history.OutcomeSuccess,
	}
	if d.Health != recovery.HealthHealthy {
		op.Outcome = history.OutcomeFailure
		op.Error = d.Health.String()
	}
	s.record(ctx, op)
	return d, nil
}
