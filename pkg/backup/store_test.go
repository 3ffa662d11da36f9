package backup

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mib2ctl/axspoof/pkg/devices"
	"github.com/mib2ctl/axspoof/pkg/eeprom"
	"github.com/mib2ctl/axspoof/pkg/eeprom/eepromtest"
	"github.com/mib2ctl/axspoof/pkg/integrity"
)

type tickClock struct {
	t time.Time
}

func (c *tickClock) now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

func newStore(t *testing.T, encrypted bool) (*Store, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	clock := &tickClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	opts := []Option{WithClock(clock.now)}
	if encrypted {
		ks, err := integrity.NewFileKeyStore(fs, "/keys", nil)
		require.NoError(t, err)
		opts = append(opts, WithSealer(integrity.NewSealer(ks, "", nil)))
	}
	s, err := NewStore(fs, "/backups", opts...)
	require.NoError(t, err)
	return s, fs
}

var asix772A = devices.IdentityFor(0x0b95, 0x772a, "")

func TestCreateLoad(t *testing.T) {
	for _, encrypted := range []bool{false, true} {
		s, fs := newStore(t, encrypted)
		img := eepromtest.Fixture(0x0b95, 0x772a)

		b, err := s.Create(asix772A, img, "before spoof")
		require.NoError(t, err)
		assert.Regexp(t, `^backup_\d+_0b95_772a_[0-9a-f]{8}$`, b.ID)
		assert.Equal(t, integrity.Digest(img[:]), b.Checksum)
		assert.Equal(t, encrypted, b.Encrypted)
		assert.Equal(t, eeprom.Size, b.Size)

		exists, err := afero.Exists(fs, b.StorageLocation)
		require.NoError(t, err)
		assert.True(t, exists)

		raw, err := afero.ReadFile(fs, b.StorageLocation)
		require.NoError(t, err)
		var rec record
		require.NoError(t, json.Unmarshal(raw, &rec))
		if encrypted {
			assert.Len(t, rec.Data, eeprom.Size+integrity.NonceSize+16)
			assert.False(t, bytes.Equal(rec.Data[:eeprom.Size], img[:]))
		} else {
			assert.Equal(t, img[:], rec.Data)
		}

		got, err := s.Load(b.ID)
		require.NoError(t, err)
		assert.Equal(t, img, got.Data)
		assert.Equal(t, "AX88772A", got.Chipset)
		assert.Equal(t, "before spoof", got.Notes)
		assert.True(t, got.Timestamp.Equal(b.Timestamp))
	}
}

func tamper(t *testing.T, fs afero.Fs, path string, mutate func(*record)) {
	t.Helper()
	raw, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	var rec record
	require.NoError(t, json.Unmarshal(raw, &rec))
	mutate(&rec)
	raw, err = json.Marshal(&rec)
	require.NoError(t, err)
	require.NoError(t, afero.WriteFile(fs, path, raw, 0600))
}

func TestLoadIntegrity(t *testing.T) {
	for _, encrypted := range []bool{false, true} {
		s, fs := newStore(t, encrypted)
		img := eepromtest.Fixture(0x0b95, 0x772a)

		b, err := s.Create(asix772A, img, "")
		require.NoError(t, err)
		tamper(t, fs, b.StorageLocation, func(r *record) { r.Data[0x20] ^= 0xff })
		_, err = s.Load(b.ID)
		var ie *IntegrityError
		require.True(t, errors.As(err, &ie), "encrypted=%v: %v", encrypted, err)
		if encrypted {
			assert.ErrorIs(t, err, integrity.ErrDecrypt)
		}

		b, err = s.Create(asix772A, img, "")
		require.NoError(t, err)
		tamper(t, fs, b.StorageLocation, func(r *record) { r.Checksum = integrity.Digest([]byte("other")) })
		_, err = s.Load(b.ID)
		require.True(t, errors.As(err, &ie))
		assert.Equal(t, "checksum mismatch", ie.Reason)
	}
}

func TestLoadEncryptedWithoutKey(t *testing.T) {
	s, fs := newStore(t, true)
	b, err := s.Create(asix772A, eepromtest.Fixture(0x0b95, 0x772a), "")
	require.NoError(t, err)

	plain, err := NewStore(fs, "/backups")
	require.NoError(t, err)
	_, err = plain.Load(b.ID)
	var ie *IntegrityError
	assert.True(t, errors.As(err, &ie))
}

func TestNotFound(t *testing.T) {
	s, _ := newStore(t, false)
	_, err := s.Load("backup_1_0b95_772a_deadbeef")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Delete("backup_1_0b95_772a_deadbeef"), ErrNotFound)
	_, err = s.Load("../../etc/passwd")
	assert.ErrorIs(t, err, ErrInvalidID)
}

func TestListDeletePrune(t *testing.T) {
	s, fs := newStore(t, true)
	var ids []string
	for i := 0; i < 4; i++ {
		b, err := s.Create(asix772A, eepromtest.Fixture(0x0b95, 0x772a), "")
		require.NoError(t, err)
		ids = append(ids, b.ID)
	}
	require.NoError(t, afero.WriteFile(fs, "/backups/broken.json", []byte("{"), 0600))

	list, err := s.List()
	require.Error(t, err)
	require.Len(t, list, 4)
	assert.Equal(t, ids[3], list[0].ID)
	assert.Equal(t, ids[0], list[3].ID)
	assert.True(t, list[0].Encrypted)

	require.NoError(t, fs.Remove("/backups/broken.json"))
	require.NoError(t, s.Delete(ids[1]))
	list, err = s.List()
	require.NoError(t, err)
	assert.Len(t, list, 3)

	size, err := s.TotalSize()
	require.NoError(t, err)
	assert.Greater(t, size, int64(3*eeprom.Size))

	n, err := s.Prune(1)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	list, err = s.List()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, ids[3], list[0].ID)
}

func TestExportImport(t *testing.T) {
	s, _ := newStore(t, true)
	img := eepromtest.Fixture(0x0b95, 0x7720)
	b, err := s.Create(devices.IdentityFor(0x0b95, 0x7720, ""), img, "")
	require.NoError(t, err)

	var raw bytes.Buffer
	require.NoError(t, s.Export(b.ID, &raw, false))
	assert.Equal(t, img[:], raw.Bytes())

	var compressed bytes.Buffer
	require.NoError(t, s.Export(b.ID, &compressed, true))
	assert.True(t, bytes.HasPrefix(compressed.Bytes(), xzMagic))

	for _, src := range []*bytes.Buffer{&raw, &compressed} {
		imp, err := s.Import(src, devices.Identity{}, "imported")
		require.NoError(t, err)
		assert.Regexp(t, `^imported_`, imp.ID)
		assert.Equal(t, uint16(0x7720), imp.ProductID)
		assert.Equal(t, "AX88772", imp.Chipset)

		got, err := s.Load(imp.ID)
		require.NoError(t, err)
		assert.Equal(t, img, got.Data)
	}

	_, err = s.Import(bytes.NewReader(make([]byte, 100)), asix772A, "")
	assert.ErrorIs(t, err, eeprom.ErrInvalidSize)
}

func TestWithoutEncryption(t *testing.T) {
	enc, fs := newStore(t, true)
	old, err := enc.Create(asix772A, eepromtest.Fixture(0x0b95, 0x772a), "")
	require.NoError(t, err)

	ks, err := integrity.NewFileKeyStore(fs, "/keys", nil)
	require.NoError(t, err)
	s, err := NewStore(fs, "/backups", WithSealer(integrity.NewSealer(ks, "", nil)), WithoutEncryption())
	require.NoError(t, err)

	b, err := s.Create(asix772A, eepromtest.Fixture(0x0b95, 0x772a), "")
	require.NoError(t, err)
	assert.False(t, b.Encrypted)

	got, err := s.Load(old.ID)
	require.NoError(t, err)
	assert.True(t, got.Encrypted)
}

func TestLoadMissingKey(t *testing.T) {
	s, fs := newStore(t, true)
	b, err := s.Create(asix772A, eepromtest.Fixture(0x0b95, 0x772a), "")
	require.NoError(t, err)

	ks, err := integrity.NewFileKeyStore(fs, "/keys", nil)
	require.NoError(t, err)
	require.NoError(t, ks.DeleteKey(integrity.DefaultKeyName))

	_, err = s.Load(b.ID)
	var ie *IntegrityError
	require.True(t, errors.As(err, &ie))
	assert.ErrorIs(t, err, integrity.ErrKeyUnavailable)
	ok, err := afero.Exists(fs, "/keys/"+integrity.DefaultKeyName+".key")
	require.NoError(t, err)
	assert.False(t, ok)
}
