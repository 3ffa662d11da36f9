package eeprom

import (
	"context"
	"fmt"
)

// Port is byte-level access to an adapter EEPROM.
type Port interface {
	// Read returns length bytes starting at offset.
	Read(ctx context.Context, offset, length uint16) ([]byte, error)
	// Write programs a single byte at offset.
	Write(ctx context.Context, offset uint16, value byte) error
}

type Operation int

const (
	OperationRead Operation = iota
	OperationWrite
)

func (o Operation) String() string {
	switch o {
	case OperationRead:
		return "read"
	case OperationWrite:
		return "write"
	}
	return "unknown"
}

// Progress of a multi-transfer EEPROM operation.
type Progress struct {
	Operation Operation
	Done      int
	Total     int
}

func (p Progress) Percent() int {
	if p.Total <= 0 {
		return 0
	}
	return p.Done * 100 / p.Total
}

type ProgressFunc func(Progress)

// ChunkSize is the number of bytes requested per read transfer when dumping
// a whole image.
const ChunkSize = 16

// ReadImage dumps the full EEPROM in ChunkSize transfers.
func ReadImage(ctx context.Context, p Port, progress ProgressFunc) (Image, error) {
	var img Image
	for off := 0; off < Size; off += ChunkSize {
		b, err := p.Read(ctx, uint16(off), ChunkSize)
		if err != nil {
			return img, err
		}
		if len(b) != ChunkSize {
			return img, &TransportError{Op: OperationRead, Offset: uint16(off), Length: ChunkSize, Err: fmt.Errorf("short read: %d bytes", len(b))}
		}
		copy(img[off:], b)
		if progress != nil {
			progress(Progress{Operation: OperationRead, Done: off + ChunkSize, Total: Size})
		}
	}
	return img, nil
}

// WriteImage programs every byte of img, in offset order. It returns the
// number of bytes written before the first error.
func WriteImage(ctx context.Context, p Port, img Image, progress ProgressFunc) (int, error) {
	for off := 0; off < Size; off++ {
		if err := p.Write(ctx, uint16(off), img[off]); err != nil {
			return off, err
		}
		if progress != nil {
			progress(Progress{Operation: OperationWrite, Done: off + 1, Total: Size})
		}
	}
	return Size, nil
}
