package recovery

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mib2ctl/axspoof/pkg/backup"
	"github.com/mib2ctl/axspoof/pkg/devices"
	"github.com/mib2ctl/axspoof/pkg/eeprom"
	"github.com/mib2ctl/axspoof/pkg/eeprom/eepromtest"
	"github.com/mib2ctl/axspoof/pkg/integrity"
)

func TestDetectBricked(t *testing.T) {
	for _, tc := range []struct {
		vid, pid uint16
		want     bool
	}{
		{0x0b95, 0x7720, false},
		{0x0b95, 0x772a, false},
		{0x2001, 0x3c05, false},
		{0x2001, 0x1a02, true},
		{0x1234, 0x5678, true},
		{0x0000, 0x0000, true},
	} {
		id := devices.IdentityFor(tc.vid, tc.pid, "")
		assert.Equal(t, tc.want, DetectBricked(id, devices.DUBE100C1), "%s", id)
	}

	c := New(eepromtest.New(eeprom.Image{}), nil, WithTarget(devices.Target{VendorID: 0x2001, ProductID: 0x1a02}))
	assert.False(t, c.DetectBricked(devices.IdentityFor(0x2001, 0x1a02, "")))
	assert.True(t, c.DetectBricked(devices.IdentityFor(0x2001, 0x3c05, "")))
}

type fixture struct {
	fs    afero.Fs
	store *backup.Store
	port  *eepromtest.MemPort
	ctrl  *Controller
	orig  eeprom.Image
	b     backup.Backup
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fs := afero.NewMemMapFs()
	ks, err := integrity.NewFileKeyStore(fs, "/keys", nil)
	require.NoError(t, err)
	store, err := backup.NewStore(fs, "/backups", backup.WithSealer(integrity.NewSealer(ks, "", nil)))
	require.NoError(t, err)

	orig := eepromtest.Fixture(0x0b95, 0x772a)
	b, err := store.Create(devices.IdentityFor(0x0b95, 0x772a, ""), orig, "")
	require.NoError(t, err)

	// The adapter has since been spoofed and partially corrupted.
	cur := orig.WithIdentity(devices.DUBE100C1)
	cur[0x10] = 0xff
	port := eepromtest.New(cur)

	return &fixture{
		fs:    fs,
		store: store,
		port:  port,
		ctrl:  New(port, store),
		orig:  orig,
		b:     b,
	}
}

func TestRestore(t *testing.T) {
	f := newFixture(t)
	var last eeprom.Progress
	res, err := f.ctrl.Restore(context.Background(), f.b.ID, func(p eeprom.Progress) { last = p })
	require.NoError(t, err)
	assert.True(t, res.Verified)
	assert.Equal(t, eeprom.Size, res.BytesWritten)
	assert.Empty(t, res.Mismatches)
	assert.GreaterOrEqual(t, res.Duration(), time.Duration(0))
	assert.Equal(t, f.orig, f.port.Image())
	assert.Equal(t, eeprom.OperationRead, last.Operation)
	assert.Len(t, f.port.WriteOffsets(), eeprom.Size)
}

// tamper rewrites one field of a stored backup record.
func tamper(t *testing.T, f *fixture, field string, edit func(json.RawMessage) json.RawMessage) {
	t.Helper()
	raw, err := afero.ReadFile(f.fs, f.b.StorageLocation)
	require.NoError(t, err)
	var rec map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &rec))
	require.Contains(t, rec, field)
	rec[field] = edit(rec[field])
	raw, err = json.Marshal(rec)
	require.NoError(t, err)
	require.NoError(t, afero.WriteFile(f.fs, f.b.StorageLocation, raw, 0600))
}

func TestRestoreIntegrityGate(t *testing.T) {
	for _, tc := range []struct {
		name   string
		field  string
		reason string
		edit   func(t *testing.T, v json.RawMessage) json.RawMessage
	}{
		{
			name:   "checksum",
			field:  "checksum",
			reason: "checksum mismatch",
			edit: func(t *testing.T, _ json.RawMessage) json.RawMessage {
				v, err := json.Marshal(integrity.Digest(make([]byte, eeprom.Size)))
				require.NoError(t, err)
				return v
			},
		},
		{
			name:   "payload",
			field:  "data",
			reason: "decryption failed",
			edit: func(t *testing.T, v json.RawMessage) json.RawMessage {
				var data []byte
				require.NoError(t, json.Unmarshal(v, &data))
				data[len(data)/2] ^= 0x01
				v, err := json.Marshal(data)
				require.NoError(t, err)
				return v
			},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			before := f.port.Image()
			tamper(t, f, tc.field, func(v json.RawMessage) json.RawMessage { return tc.edit(t, v) })

			res, err := f.ctrl.Restore(context.Background(), f.b.ID, nil)
			assert.Nil(t, res)
			var ie *backup.IntegrityError
			require.True(t, errors.As(err, &ie), "%v", err)
			assert.Equal(t, tc.reason, ie.Reason)
			assert.Empty(t, f.port.WriteOffsets())
			assert.Equal(t, before, f.port.Image())

			_, err = f.ctrl.ForceRestore(context.Background(), f.b.ID, func(backup.Backup) bool { return true }, nil)
			require.True(t, errors.As(err, &ie), "%v", err)
			assert.Empty(t, f.port.WriteOffsets())
		})
	}

	f := newFixture(t)
	_, err := f.ctrl.Restore(context.Background(), "backup_0_0000_0000_00000000", nil)
	assert.ErrorIs(t, err, backup.ErrNotFound)
	assert.Empty(t, f.port.WriteOffsets())
}

func TestRestoreVerificationFailure(t *testing.T) {
	f := newFixture(t)
	f.port.Stuck[0x10] = true

	res, err := f.ctrl.Restore(context.Background(), f.b.ID, nil)
	require.Error(t, err)
	var ve *VerificationError
	require.True(t, errors.As(err, &ve))
	var me *eeprom.MismatchError
	require.True(t, errors.As(err, &me))
	assert.Equal(t, uint16(0x10), me.Offset)
	assert.Equal(t, byte(0xff), me.Got)
	assert.False(t, res.Verified)
	assert.Len(t, res.Mismatches, 1)
}

func TestRestoreTransportFailure(t *testing.T) {
	f := newFixture(t)
	f.port.FailWrite[0x40] = true

	res, err := f.ctrl.Restore(context.Background(), f.b.ID, nil)
	var te *eeprom.TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, 0x40, res.BytesWritten)
	assert.False(t, res.Verified)
}

func TestForceRestore(t *testing.T) {
	f := newFixture(t)

	_, err := f.ctrl.ForceRestore(context.Background(), f.b.ID, func(backup.Backup) bool { return false }, nil)
	assert.ErrorIs(t, err, ErrRestoreDeclined)
	_, err = f.ctrl.ForceRestore(context.Background(), f.b.ID, nil, nil)
	assert.ErrorIs(t, err, ErrRestoreDeclined)
	assert.Empty(t, f.port.WriteOffsets())

	var seen backup.Backup
	res, err := f.ctrl.ForceRestore(context.Background(), f.b.ID, func(b backup.Backup) bool {
		seen = b
		return true
	}, nil)
	require.NoError(t, err)
	assert.True(t, res.Verified)
	assert.Equal(t, f.b.ID, seen.ID)
	assert.Equal(t, f.orig, f.port.Image())
}

func TestDiagnose(t *testing.T) {
	ctx := context.Background()
	port := eepromtest.New(eepromtest.Fixture(0x0b95, 0x772a))
	c := New(port, nil)

	d := c.Diagnose(ctx, devices.IdentityFor(0x0b95, 0x772a, ""), true)
	assert.Equal(t, HealthHealthy, d.Health)
	assert.True(t, d.EEPROMWritable)
	assert.Empty(t, d.Issues)
	assert.Equal(t, []uint16{0xff}, port.WriteOffsets())

	port.ReadOnly = true
	d = c.Diagnose(ctx, devices.IdentityFor(0x0b95, 0x772a, ""), true)
	assert.Equal(t, HealthDegraded, d.Health)
	assert.False(t, d.EEPROMWritable)

	d = c.Diagnose(ctx, devices.IdentityFor(0x1234, 0x5678, ""), false)
	assert.Equal(t, HealthDegraded, d.Health)
	assert.True(t, d.UnexpectedIdentity)
	assert.False(t, d.WriteTested)

	d = c.Diagnose(ctx, devices.IdentityFor(0, 0, ""), false)
	assert.Equal(t, HealthBricked, d.Health)

	port.FailRead[0x00] = true
	d = c.Diagnose(ctx, devices.IdentityFor(0x0b95, 0x772a, ""), true)
	assert.Equal(t, HealthBricked, d.Health)
	assert.False(t, d.WriteTested)
	assert.Equal(t, "bricked", d.Health.String())
}
