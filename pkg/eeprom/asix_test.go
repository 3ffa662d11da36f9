package eeprom

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mib2ctl/axspoof/pkg/devices"
)

type controlCall struct {
	rType, request uint8
	val, idx       uint16
	data           []byte
}

type fakeUsb struct {
	mem     [Size]byte
	calls   []controlCall
	timeout time.Duration
	err     error
}

func (f *fakeUsb) Control(rType, request uint8, val, idx uint16, data []byte) (int, error) {
	c := controlCall{rType: rType, request: request, val: val, idx: idx}
	c.data = append(c.data, data...)
	f.calls = append(f.calls, c)
	if f.err != nil {
		return 0, f.err
	}
	switch request {
	case uint8(RequestReadEEPROM):
		return copy(data, f.mem[val:]), nil
	case uint8(RequestWriteEEPROM):
		f.mem[val] = data[0]
		return 1, nil
	}
	return 0, errors.New("unexpected request")
}

func (f *fakeUsb) SetControlTimeout(d time.Duration) error {
	f.timeout = d
	return nil
}

func (f *fakeUsb) GetStringDescriptor(int) (string, error) { return "", nil }
func (f *fakeUsb) Close() error                            { return nil }

func TestASIXPortRequests(t *testing.T) {
	ctx := context.Background()
	usb := &fakeUsb{}
	usb.mem[0x88] = 0x95
	port, err := NewASIXPort(usb, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultTimeout, usb.timeout)

	b, err := port.Read(ctx, 0x88, 1)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x95}, b)
	assert.Equal(t, controlCall{rType: 0xc0, request: 0x0b, val: 0x88, data: []byte{0}}, usb.calls[0])

	require.ErrorIs(t, port.Write(ctx, 0x88, 0x01), ErrWriteLocked)
	assert.Len(t, usb.calls, 1)

	require.Error(t, port.Unlock(0x12345678))
	require.NoError(t, port.Unlock(WriteMagic))
	require.NoError(t, port.Write(ctx, 0x88, 0x01))
	assert.Equal(t, controlCall{rType: 0x40, request: 0x0c, val: 0x88, data: []byte{0x01}}, usb.calls[1])
	assert.Equal(t, byte(0x01), usb.mem[0x88])

	port.Lock()
	require.ErrorIs(t, port.Write(ctx, 0x88, 0x02), ErrWriteLocked)
}

func TestASIXPortErrors(t *testing.T) {
	ctx := context.Background()
	usb := &fakeUsb{err: devices.UsbTimeoutError}
	port, err := NewASIXPort(usb, time.Second, 0)
	require.NoError(t, err)

	_, err = port.Read(ctx, 0, 16)
	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, OperationRead, te.Op)
	assert.ErrorIs(t, err, devices.UsbTimeoutError)

	_, err = port.Read(ctx, 0xf8, 16)
	require.Error(t, err)

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	_, err = port.Read(cctx, 0, 1)
	assert.ErrorIs(t, err, context.Canceled)
}
