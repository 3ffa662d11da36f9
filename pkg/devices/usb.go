package devices

import (
	"errors"
	"time"
)

// Usb describes the part of a USB device handle needed to talk to an
// adapter's EEPROM over vendor control requests.
type Usb interface {
	// Control sends a control request to the device.
	Control(rType, request uint8, val, idx uint16, data []byte) (int, error)

	SetControlTimeout(time.Duration) error

	GetStringDescriptor(descIndex int) (string, error)

	// Close disposes of this device. No other functions may be called on the
	// interface afterwards.
	Close() error
}

var UsbTimeoutError = errors.New("USB timeout error")
