package backup

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/afero"
	"github.com/ulikunitz/xz"
	"golang.org/x/exp/slices"

	"github.com/mib2ctl/axspoof/pkg/devices"
	"github.com/mib2ctl/axspoof/pkg/eeprom"
	"github.com/mib2ctl/axspoof/pkg/integrity"
)

const recordExt = ".json"

// maxImport bounds how much is read from an import source.
const maxImport = 1 << 20

var (
	idRe    = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	xzMagic = []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}
)

// record is the on-disk layout of a backup.
type record struct {
	ID         string    `json:"id"`
	DeviceName string    `json:"deviceName"`
	Chipset    string    `json:"chipset"`
	VendorID   uint16    `json:"vendorId"`
	ProductID  uint16    `json:"productId"`
	Size       int       `json:"size"`
	Checksum   string    `json:"checksum"`
	Timestamp  time.Time `json:"timestamp"`
	Encrypted  bool      `json:"encrypted"`
	Notes      string    `json:"notes,omitempty"`
	Data       []byte    `json:"data"`
}

func (r *record) summary() Summary {
	return Summary{
		ID:         r.ID,
		DeviceName: r.DeviceName,
		Chipset:    r.Chipset,
		VendorID:   r.VendorID,
		ProductID:  r.ProductID,
		Size:       r.Size,
		Checksum:   r.Checksum,
		Timestamp:  r.Timestamp,
		Encrypted:  r.Encrypted,
		Notes:      r.Notes,
	}
}

// Store keeps one JSON record per backup in a directory.
type Store struct {
	fs      afero.Fs
	dir     string
	sealer  *integrity.Sealer
	encrypt bool
	now     func() time.Time

	mu sync.RWMutex
}

type Option func(*Store)

// WithSealer encrypts new backups at rest and decrypts existing ones.
func WithSealer(s *integrity.Sealer) Option {
	return func(st *Store) {
		st.sealer = s
		st.encrypt = true
	}
}

// WithoutEncryption stores new backups in plaintext. It must follow
// WithSealer, which is still used to read encrypted backups.
func WithoutEncryption() Option {
	return func(st *Store) {
		st.encrypt = false
	}
}

func WithClock(now func() time.Time) Option {
	return func(st *Store) {
		st.now = now
	}
}

func NewStore(fs afero.Fs, dir string, opts ...Option) (*Store, error) {
	s := &Store{
		fs:  fs,
		dir: dir,
		now: time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	if err := fs.MkdirAll(dir, 0700); err != nil {
		return nil, &StorageError{Op: "init", Err: err}
	}
	return s, nil
}

func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) pathFor(id string) (string, error) {
	if !idRe.MatchString(id) {
		return "", fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return filepath.Join(s.dir, id+recordExt), nil
}

func newID(prefix string, ts time.Time, vid, pid uint16) string {
	return fmt.Sprintf("%s_%d_%04x_%04x_%s", prefix, ts.UnixMilli(), vid, pid, uuid.NewString()[:8])
}

// Create persists img as a new backup of the adapter described by identity.
// The record is fully written before Create returns.
func (s *Store) Create(identity devices.Identity, img eeprom.Image, notes string) (Backup, error) {
	return s.create("backup", identity, img, notes)
}

func (s *Store) create(prefix string, identity devices.Identity, img eeprom.Image, notes string) (Backup, error) {
	ts := s.now().UTC()
	b := Backup{
		ID:         newID(prefix, ts, identity.VendorID, identity.ProductID),
		DeviceName: identity.DeviceName,
		Chipset:    identity.Chipset,
		VendorID:   identity.VendorID,
		ProductID:  identity.ProductID,
		Data:       img,
		Size:       eeprom.Size,
		Checksum:   integrity.Digest(img[:]),
		Timestamp:  ts,
		Encrypted:  s.sealer != nil && s.encrypt,
		Notes:      notes,
	}
	p, err := s.pathFor(b.ID)
	if err != nil {
		return Backup{}, err
	}
	b.StorageLocation = p

	rec := record{
		ID:         b.ID,
		DeviceName: b.DeviceName,
		Chipset:    b.Chipset,
		VendorID:   b.VendorID,
		ProductID:  b.ProductID,
		Size:       b.Size,
		Checksum:   b.Checksum,
		Timestamp:  b.Timestamp,
		Encrypted:  b.Encrypted,
		Notes:      b.Notes,
		Data:       img.Bytes(),
	}
	if b.Encrypted {
		rec.Data, err = s.sealer.Encrypt(rec.Data, []byte(b.ID))
		if err != nil {
			return Backup{}, &StorageError{Op: "encrypt", ID: b.ID, Err: err}
		}
	}
	data, err := json.MarshalIndent(&rec, "", "  ")
	if err != nil {
		return Backup{}, &StorageError{Op: "marshal", ID: b.ID, Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	tmp := p + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, data, 0600); err != nil {
		return Backup{}, &StorageError{Op: "write", ID: b.ID, Err: err}
	}
	if err := s.fs.Rename(tmp, p); err != nil {
		s.fs.Remove(tmp)
		return Backup{}, &StorageError{Op: "write", ID: b.ID, Err: err}
	}
	glog.Infof("Saved backup %s of %s (encrypted: %v)", b.ID, identity, b.Encrypted)
	return b, nil
}

func (s *Store) readRecord(id string) (*record, error) {
	p, err := s.pathFor(id)
	if err != nil {
		return nil, err
	}
	data, err := afero.ReadFile(s.fs, p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, &StorageError{Op: "read", ID: id, Err: err}
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, &StorageError{Op: "parse", ID: id, Err: err}
	}
	if rec.ID != id {
		return nil, &StorageError{Op: "parse", ID: id, Err: fmt.Errorf("record carries id %q", rec.ID)}
	}
	return &rec, nil
}

// Load reads, decrypts and verifies a backup. Any failure of the integrity
// chain is reported as an *IntegrityError.
func (s *Store) Load(id string) (Backup, error) {
	s.mu.RLock()
	rec, err := s.readRecord(id)
	s.mu.RUnlock()
	if err != nil {
		return Backup{}, err
	}

	plain := rec.Data
	if rec.Encrypted {
		if s.sealer == nil {
			return Backup{}, &IntegrityError{ID: id, Reason: "backup is encrypted but no key store is configured"}
		}
		plain, err = s.sealer.Decrypt(rec.Data, []byte(rec.ID))
		if err != nil {
			return Backup{}, &IntegrityError{ID: id, Reason: "decryption failed", Err: err}
		}
	}
	img, err := eeprom.ParseImage(plain)
	if err != nil {
		return Backup{}, &IntegrityError{ID: id, Reason: "wrong image size", Err: err}
	}
	if !integrity.Verify(img[:], rec.Checksum) {
		return Backup{}, &IntegrityError{ID: id, Reason: "checksum mismatch"}
	}

	p, _ := s.pathFor(id)
	return Backup{
		ID:              rec.ID,
		DeviceName:      rec.DeviceName,
		Chipset:         rec.Chipset,
		VendorID:        rec.VendorID,
		ProductID:       rec.ProductID,
		Data:            img,
		Size:            eeprom.Size,
		Checksum:        rec.Checksum,
		Timestamp:       rec.Timestamp,
		Encrypted:       rec.Encrypted,
		Notes:           rec.Notes,
		StorageLocation: p,
	}, nil
}

// List returns summaries of all readable backups, newest first. Records that
// cannot be parsed are skipped and reported together in the returned error,
// alongside the summaries that could be read.
func (s *Store) List() ([]Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := afero.ReadDir(s.fs, s.dir)
	if err != nil {
		return nil, &StorageError{Op: "list", Err: err}
	}
	var res []Summary
	var errs error
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, recordExt) {
			continue
		}
		rec, err := s.readRecord(strings.TrimSuffix(name, recordExt))
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		res = append(res, rec.summary())
	}
	slices.SortFunc(res, func(a, b Summary) int {
		if c := b.Timestamp.Compare(a.Timestamp); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})
	return res, errs
}

func (s *Store) Delete(id string) error {
	p, err := s.pathFor(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.fs.Stat(p); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return &StorageError{Op: "delete", ID: id, Err: err}
	}
	if err := s.fs.Remove(p); err != nil {
		return &StorageError{Op: "delete", ID: id, Err: err}
	}
	glog.Infof("Deleted backup %s", id)
	return nil
}

// Export writes the verified plaintext image of a backup to w, xz-compressed
// if compress is set.
func (s *Store) Export(id string, w io.Writer, compress bool) error {
	b, err := s.Load(id)
	if err != nil {
		return err
	}
	if !compress {
		if _, err := w.Write(b.Data[:]); err != nil {
			return &StorageError{Op: "export", ID: id, Err: err}
		}
		return nil
	}
	xw, err := xz.NewWriter(w)
	if err != nil {
		return &StorageError{Op: "export", ID: id, Err: err}
	}
	if _, err := xw.Write(b.Data[:]); err != nil {
		return &StorageError{Op: "export", ID: id, Err: err}
	}
	if err := xw.Close(); err != nil {
		return &StorageError{Op: "export", ID: id, Err: err}
	}
	return nil
}

// Import stores a raw or xz-compressed image as a new backup. A zero
// identity is replaced by the one found in the image.
func (s *Store) Import(r io.Reader, identity devices.Identity, notes string) (Backup, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxImport))
	if err != nil {
		return Backup{}, &StorageError{Op: "import", Err: err}
	}
	if bytes.HasPrefix(data, xzMagic) {
		xr, err := xz.NewReader(bytes.NewReader(data))
		if err != nil {
			return Backup{}, &StorageError{Op: "import", Err: err}
		}
		data, err = io.ReadAll(io.LimitReader(xr, maxImport))
		if err != nil {
			return Backup{}, &StorageError{Op: "import", Err: err}
		}
	}
	img, err := eeprom.ParseImage(data)
	if err != nil {
		return Backup{}, &StorageError{Op: "import", Err: err}
	}
	if identity.VendorID == 0 && identity.ProductID == 0 {
		t := img.Identity()
		identity = devices.IdentityFor(t.VendorID, t.ProductID, "")
	}
	return s.create("imported", identity, img, notes)
}

// Prune deletes all but the keep newest backups and returns how many were
// removed.
func (s *Store) Prune(keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}
	list, err := s.List()
	if err != nil && list == nil {
		return 0, err
	}
	if len(list) <= keep {
		return 0, nil
	}
	var errs error
	n := 0
	for _, b := range list[keep:] {
		if err := s.Delete(b.ID); err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		n++
	}
	return n, errs
}

// TotalSize is the on-disk size of all backup records in bytes.
func (s *Store) TotalSize() (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries, err := afero.ReadDir(s.fs, s.dir)
	if err != nil {
		return 0, &StorageError{Op: "list", Err: err}
	}
	var total int64
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), recordExt) {
			total += e.Size()
		}
	}
	return total, nil
}
