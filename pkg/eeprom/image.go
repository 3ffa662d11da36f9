// Package eeprom models the 256-byte configuration EEPROM of ASIX
// USB-Ethernet adapters and the byte-level port used to access it.
package eeprom

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/mib2ctl/axspoof/pkg/devices"
)

const Size = 256

// Identity bytes, little-endian.
const (
	OffsetVIDLow  uint16 = 0x88
	OffsetVIDHigh uint16 = 0x89
	OffsetPIDLow  uint16 = 0x8a
	OffsetPIDHigh uint16 = 0x8b
)

// IdentityOffsets are written in this order by a spoof.
var IdentityOffsets = [4]uint16{OffsetVIDLow, OffsetVIDHigh, OffsetPIDLow, OffsetPIDHigh}

var ErrInvalidSize = errors.New("invalid EEPROM image size")

// Image is a full EEPROM image.
type Image [Size]byte

// ParseImage copies b into an Image. b must be exactly Size bytes long.
func ParseImage(b []byte) (Image, error) {
	var img Image
	if len(b) != Size {
		return img, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidSize, len(b), Size)
	}
	copy(img[:], b)
	return img, nil
}

func (i Image) Bytes() []byte {
	b := make([]byte, Size)
	copy(b, i[:])
	return b
}

// Identity returns the VID/PID pair stored at 0x88..0x8B.
func (i Image) Identity() devices.Target {
	return devices.Target{
		VendorID:  binary.LittleEndian.Uint16(i[OffsetVIDLow:]),
		ProductID: binary.LittleEndian.Uint16(i[OffsetPIDLow:]),
	}
}

// WithIdentity returns a copy of the image with t stored at 0x88..0x8B.
func (i Image) WithIdentity(t devices.Target) Image {
	b := IdentityBytes(t)
	for n, off := range IdentityOffsets {
		i[off] = b[n]
	}
	return i
}

// IdentityBytes is the little-endian encoding of t, in IdentityOffsets order.
func IdentityBytes(t devices.Target) [4]byte {
	var b [4]byte
	binary.LittleEndian.PutUint16(b[0:], t.VendorID)
	binary.LittleEndian.PutUint16(b[2:], t.ProductID)
	return b
}

// FindIdentity returns every even offset at which t is stored. Used to warn
// about images that keep their identity somewhere other than 0x88.
func (i Image) FindIdentity(t devices.Target) []uint16 {
	want := IdentityBytes(t)
	var res []uint16
	for off := 0; off+4 <= Size; off += 2 {
		if i[off] == want[0] && i[off+1] == want[1] && i[off+2] == want[2] && i[off+3] == want[3] {
			res = append(res, uint16(off))
		}
	}
	return res
}

// Blank is true for images that read back as all 0x00 or all 0xFF.
func (i Image) Blank() bool {
	first := i[0]
	if first != 0x00 && first != 0xff {
		return false
	}
	for _, b := range i {
		if b != first {
			return false
		}
	}
	return true
}

func (i Image) HexDump() string {
	return hex.Dump(i[:])
}

// Compare returns a MismatchError for every byte of got that differs from
// want.
func Compare(want, got Image) []MismatchError {
	var res []MismatchError
	for off := range want {
		if want[off] != got[off] {
			res = append(res, MismatchError{Offset: uint16(off), Expected: want[off], Got: got[off]})
		}
	}
	return res
}
