// Package backup persists EEPROM images taken before any destructive
// operation, optionally encrypted at rest.
package backup

import (
	"errors"
	"fmt"
	"time"

	"github.com/mib2ctl/axspoof/pkg/devices"
	"github.com/mib2ctl/axspoof/pkg/eeprom"
)

var (
	ErrNotFound  = errors.New("backup not found")
	ErrInvalidID = errors.New("invalid backup id")
)

// Backup is a verified, decrypted EEPROM backup.
type Backup struct {
	ID         string
	DeviceName string
	Chipset    string
	VendorID   uint16
	ProductID  uint16
	Data       eeprom.Image
	Size       int
	// Checksum is the hex SHA-256 of the plaintext image.
	Checksum        string
	Timestamp       time.Time
	Encrypted       bool
	Notes           string
	StorageLocation string
}

// Identity is the adapter identity the backup was taken from.
func (b Backup) Identity() devices.Identity {
	return devices.Identity{
		VendorID:   b.VendorID,
		ProductID:  b.ProductID,
		Chipset:    b.Chipset,
		DeviceName: b.DeviceName,
	}
}

func (b Backup) Summary() Summary {
	return Summary{
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
	}
}

// Summary is the metadata of a backup, readable without the encryption key.
type Summary struct {
	ID         string
	DeviceName string
	Chipset    string
	VendorID   uint16
	ProductID  uint16
	Size       int
	Checksum   string
	Timestamp  time.Time
	Encrypted  bool
	Notes      string
}

// StorageError is returned when a backup record cannot be read or written.
type StorageError struct {
	Op  string
	ID  string
	Err error
}

func (e *StorageError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("backup %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("backup %s %s: %v", e.Op, e.ID, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// IntegrityError is returned when a stored backup fails decryption, has the
// wrong size or does not match its checksum. Such a backup must never be
// written to a device.
type IntegrityError struct {
	ID     string
	Reason string
	Err    error
}

func (e *IntegrityError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("backup %s failed integrity check: %s: %v", e.ID, e.Reason, e.Err)
	}
	return fmt.Sprintf("backup %s failed integrity check: %s", e.ID, e.Reason)
}

func (e *IntegrityError) Unwrap() error {
	return e.Err
}
