// Package eepromtest provides an in-memory eeprom.Port for tests.
package eepromtest

import (
	"context"
	"errors"
	"sync"

	"github.com/mib2ctl/axspoof/pkg/eeprom"
)

var ErrInjected = errors.New("injected transport failure")

type Call struct {
	Op     eeprom.Operation
	Offset uint16
	Length int
	Value  byte
}

// MemPort is an eeprom.Port backed by an Image. Every call is recorded.
type MemPort struct {
	mu    sync.Mutex
	image eeprom.Image
	calls []Call

	// FailWrite makes writes at the given offsets fail with a
	// TransportError. The byte is not stored.
	FailWrite map[uint16]bool
	// FailRead does the same for reads starting at the given offsets.
	FailRead map[uint16]bool
	// Stuck offsets accept writes but keep their old value.
	Stuck map[uint16]bool
	// ReadOnly makes every write fail.
	ReadOnly bool
	// OnWrite is called after every successful write, outside the lock.
	OnWrite func(offset uint16)
}

func New(img eeprom.Image) *MemPort {
	return &MemPort{
		image:     img,
		FailWrite: make(map[uint16]bool),
		FailRead:  make(map[uint16]bool),
		Stuck:     make(map[uint16]bool),
	}
}

func (m *MemPort) Read(ctx context.Context, offset, length uint16) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Op: eeprom.OperationRead, Offset: offset, Length: int(length)})
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.FailRead[offset] {
		return nil, &eeprom.TransportError{Op: eeprom.OperationRead, Offset: offset, Length: int(length), Err: ErrInjected}
	}
	if int(offset)+int(length) > eeprom.Size {
		return nil, &eeprom.TransportError{Op: eeprom.OperationRead, Offset: offset, Length: int(length), Err: errors.New("out of range")}
	}
	b := make([]byte, length)
	copy(b, m.image[offset:int(offset)+int(length)])
	return b, nil
}

func (m *MemPort) Write(ctx context.Context, offset uint16, value byte) error {
	m.mu.Lock()
	m.calls = append(m.calls, Call{Op: eeprom.OperationWrite, Offset: offset, Length: 1, Value: value})
	if err := ctx.Err(); err != nil {
		m.mu.Unlock()
		return err
	}
	if m.ReadOnly || m.FailWrite[offset] || int(offset) >= eeprom.Size {
		m.mu.Unlock()
		return &eeprom.TransportError{Op: eeprom.OperationWrite, Offset: offset, Length: 1, Err: ErrInjected}
	}
	if !m.Stuck[offset] {
		m.image[offset] = value
	}
	hook := m.OnWrite
	m.mu.Unlock()
	if hook != nil {
		hook(offset)
	}
	return nil
}

// Image returns the current contents.
func (m *MemPort) Image() eeprom.Image {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.image
}

// Calls returns every call made so far, in order.
func (m *MemPort) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := make([]Call, len(m.calls))
	copy(res, m.calls)
	return res
}

// WriteOffsets returns the offsets of all write calls, in order.
func (m *MemPort) WriteOffsets() []uint16 {
	var res []uint16
	for _, c := range m.Calls() {
		if c.Op == eeprom.OperationWrite {
			res = append(res, c.Offset)
		}
	}
	return res
}

func (m *MemPort) ResetCalls() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// Fixture returns a plausible AX88772 image carrying vid/pid at 0x88.
func Fixture(vid, pid uint16) eeprom.Image {
	var img eeprom.Image
	for i := range img {
		img[i] = byte(i*7 + 3)
	}
	img[0x88] = byte(vid)
	img[0x89] = byte(vid >> 8)
	img[0x8a] = byte(pid)
	img[0x8b] = byte(pid >> 8)
	return img
}
