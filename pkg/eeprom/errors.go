package eeprom

import "fmt"

// TransportError is returned when a USB control transfer to the EEPROM
// fails.
type TransportError struct {
	Op     Operation
	Offset uint16
	Length int
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("eeprom %s at 0x%02x (%d bytes): %v", e.Op, e.Offset, e.Length, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// MismatchError is returned when a byte read back from the EEPROM is not the
// one that was written.
type MismatchError struct {
	Offset   uint16
	Expected byte
	Got      byte
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("mismatch at offset 0x%02X: expected 0x%02X, got 0x%02X", e.Offset, e.Expected, e.Got)
}
