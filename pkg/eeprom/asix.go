package eeprom

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/mib2ctl/axspoof/pkg/devices"
)

type Request uint8

const (
	RequestReadEEPROM  Request = 0x0b
	RequestWriteEEPROM Request = 0x0c
)

const (
	requestTypeVendorIn  uint8 = 0xc0
	requestTypeVendorOut uint8 = 0x40
)

// WriteMagic must be passed to ASIXPort.Unlock before any write is issued.
const WriteMagic uint32 = 0xdeadbeef

const (
	DefaultTimeout    = 5 * time.Second
	DefaultWriteDelay = 10 * time.Millisecond
)

var ErrWriteLocked = errors.New("EEPROM writes are locked")

// ASIXPort implements Port over vendor control requests understood by ASIX
// AX88772-family adapters.
type ASIXPort struct {
	usb        devices.Usb
	writeDelay time.Duration

	mu       sync.Mutex
	unlocked bool
}

func NewASIXPort(usb devices.Usb, timeout, writeDelay time.Duration) (*ASIXPort, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if writeDelay < 0 {
		writeDelay = DefaultWriteDelay
	}
	if err := usb.SetControlTimeout(timeout); err != nil {
		return nil, fmt.Errorf("could not set control timeout: %w", err)
	}
	return &ASIXPort{
		usb:        usb,
		writeDelay: writeDelay,
	}, nil
}

// Unlock arms the port for writes.
func (p *ASIXPort) Unlock(magic uint32) error {
	if magic != WriteMagic {
		return fmt.Errorf("invalid write magic 0x%08x", magic)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unlocked = true
	glog.Warningf("EEPROM writes unlocked")
	return nil
}

func (p *ASIXPort) Lock() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unlocked = false
}

func (p *ASIXPort) Read(ctx context.Context, offset, length uint16) ([]byte, error) {
	if int(offset)+int(length) > Size {
		return nil, fmt.Errorf("read of %d bytes at 0x%02x is past the end of the EEPROM", length, offset)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	buf := make([]byte, length)
	n, err := p.usb.Control(requestTypeVendorIn, uint8(RequestReadEEPROM), offset, 0, buf)
	if err != nil {
		return nil, &TransportError{Op: OperationRead, Offset: offset, Length: int(length), Err: fmt.Errorf("control: %w", err)}
	}
	if n != int(length) {
		return nil, &TransportError{Op: OperationRead, Offset: offset, Length: int(length), Err: fmt.Errorf("read returned %d bytes", n)}
	}
	return buf, nil
}

func (p *ASIXPort) Write(ctx context.Context, offset uint16, value byte) error {
	if int(offset) >= Size {
		return fmt.Errorf("write at 0x%02x is past the end of the EEPROM", offset)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.unlocked {
		return ErrWriteLocked
	}

	glog.V(1).Infof("EEPROM write 0x%02x <- 0x%02x", offset, value)
	n, err := p.usb.Control(requestTypeVendorOut, uint8(RequestWriteEEPROM), offset, 0, []byte{value})
	if err != nil {
		return &TransportError{Op: OperationWrite, Offset: offset, Length: 1, Err: fmt.Errorf("control: %w", err)}
	}
	if n != 1 {
		return &TransportError{Op: OperationWrite, Offset: offset, Length: 1, Err: fmt.Errorf("write accepted %d bytes", n)}
	}
	// The part needs time to commit the byte before the next transfer.
	time.Sleep(p.writeDelay)
	return nil
}
