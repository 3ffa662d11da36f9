// Package recovery detects adapters left with an unexpected identity and
// writes verified backups back onto them.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang/glog"

	"github.com/mib2ctl/axspoof/pkg/backup"
	"github.com/mib2ctl/axspoof/pkg/devices"
	"github.com/mib2ctl/axspoof/pkg/eeprom"
)

var ErrRestoreDeclined = errors.New("restore was not confirmed")

// Loader returns verified backups. backup.Store implements it.
type Loader interface {
	Load(id string) (backup.Backup, error)
}

type Controller struct {
	port    eeprom.Port
	backups Loader
	target  devices.Target
	now     func() time.Time
}

type Option func(*Controller)

// WithTarget sets the spoof target that is not considered bricked.
func WithTarget(t devices.Target) Option {
	return func(c *Controller) {
		c.target = t
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = now
	}
}

func New(port eeprom.Port, backups Loader, opts ...Option) *Controller {
	c := &Controller{
		port:    port,
		backups: backups,
		target:  devices.DUBE100C1,
		now:     time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// DetectBricked is true for an adapter that reports 0x0000:0x0000, or a
// vendor other than ASIX while not carrying the target identity.
func DetectBricked(identity devices.Identity, target devices.Target) bool {
	switch {
	case identity.VendorID == 0 && identity.ProductID == 0:
		return true
	case identity.VendorID == devices.VendorASIX:
		return false
	case identity.Target() == target:
		return false
	}
	return true
}

func (c *Controller) DetectBricked(identity devices.Identity) bool {
	return DetectBricked(identity, c.target)
}

// Result of a restore.
type Result struct {
	BackupID     string
	BytesWritten int
	Verified     bool
	Mismatches   []eeprom.MismatchError
	Started      time.Time
	Completed    time.Time
}

func (r *Result) Duration() time.Duration {
	return r.Completed.Sub(r.Started)
}

// VerificationError is returned when the image read back after a restore
// differs from the backup.
type VerificationError struct {
	Mismatches []eeprom.MismatchError
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("restore verification failed, %d bytes differ, first: %v", len(e.Mismatches), &e.Mismatches[0])
}

func (e *VerificationError) Unwrap() error {
	return &e.Mismatches[0]
}

// Restore writes backup id back to the EEPROM and verifies it byte for byte.
// A backup that fails its integrity check is never written.
func (c *Controller) Restore(ctx context.Context, id string, progress eeprom.ProgressFunc) (*Result, error) {
	return c.restore(ctx, id, nil, progress)
}

// ForceRestore is Restore for adapters that no longer identify correctly.
// confirm is shown the verified backup and must approve it before the first
// write.
func (c *Controller) ForceRestore(ctx context.Context, id string, confirm func(backup.Backup) bool, progress eeprom.ProgressFunc) (*Result, error) {
	if confirm == nil {
		return nil, ErrRestoreDeclined
	}
	return c.restore(ctx, id, confirm, progress)
}

func (c *Controller) restore(ctx context.Context, id string, confirm func(backup.Backup) bool, progress eeprom.ProgressFunc) (*Result, error) {
	b, err := c.backups.Load(id)
	if err != nil {
		return nil, fmt.Errorf("could not load backup: %w", err)
	}
	if confirm != nil && !confirm(b) {
		return nil, ErrRestoreDeclined
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := &Result{
		BackupID: id,
		Started:  c.now(),
	}
	glog.Infof("Restoring backup %s (%s)", id, b.Identity())
	// A half-restored image is worse than either end state.
	wctx := context.WithoutCancel(ctx)
	res.BytesWritten, err = eeprom.WriteImage(wctx, c.port, b.Data, progress)
	if err != nil {
		res.Completed = c.now()
		return res, fmt.Errorf("restore stopped after %d bytes: %w", res.BytesWritten, err)
	}

	got, err := eeprom.ReadImage(wctx, c.port, progress)
	res.Completed = c.now()
	if err != nil {
		return res, fmt.Errorf("could not read back restored image: %w", err)
	}
	if mm := eeprom.Compare(b.Data, got); len(mm) > 0 {
		res.Mismatches = mm
		glog.Errorf("Restore of %s failed verification: %d bytes differ", id, len(mm))
		return res, &VerificationError{Mismatches: mm}
	}
	res.Verified = true
	glog.Infof("Restored backup %s in %s", id, res.Duration())
	return res, nil
}
