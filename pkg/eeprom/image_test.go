package eeprom_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mib2ctl/axspoof/pkg/devices"
	"github.com/mib2ctl/axspoof/pkg/eeprom"
	"github.com/mib2ctl/axspoof/pkg/eeprom/eepromtest"
)

func TestParseImage(t *testing.T) {
	_, err := eeprom.ParseImage(make([]byte, 255))
	require.ErrorIs(t, err, eeprom.ErrInvalidSize)
	_, err = eeprom.ParseImage(make([]byte, 257))
	require.ErrorIs(t, err, eeprom.ErrInvalidSize)

	b := make([]byte, eeprom.Size)
	b[0x10] = 0x42
	img, err := eeprom.ParseImage(b)
	require.NoError(t, err)
	assert.Equal(t, byte(0x42), img[0x10])

	// The image must not alias its input.
	b[0x10] = 0
	assert.Equal(t, byte(0x42), img[0x10])
}

func TestIdentity(t *testing.T) {
	img := eepromtest.Fixture(0x0b95, 0x772a)
	assert.Equal(t, devices.Target{VendorID: 0x0b95, ProductID: 0x772a}, img.Identity())

	spoofed := img.WithIdentity(devices.DUBE100C1)
	assert.Equal(t, devices.DUBE100C1, spoofed.Identity())
	assert.Equal(t, []byte{0x01, 0x20, 0x05, 0x3c}, spoofed.Bytes()[0x88:0x8c])
	// Receiver is a value, the original is untouched.
	assert.Equal(t, uint16(0x0b95), img.Identity().VendorID)

	mm := eeprom.Compare(img, spoofed)
	require.Len(t, mm, 4)
	assert.Equal(t, uint16(0x88), mm[0].Offset)
	assert.Equal(t, "mismatch at offset 0x88: expected 0x95, got 0x01", mm[0].Error())

	assert.Contains(t, spoofed.FindIdentity(devices.DUBE100C1), uint16(0x88))
}

func TestBlank(t *testing.T) {
	var img eeprom.Image
	assert.True(t, img.Blank())
	for i := range img {
		img[i] = 0xff
	}
	assert.True(t, img.Blank())
	img[3] = 0
	assert.False(t, img.Blank())
}

func TestReadWriteImage(t *testing.T) {
	ctx := context.Background()
	src := eepromtest.Fixture(0x0b95, 0x7720)
	port := eepromtest.New(eeprom.Image{})

	var last eeprom.Progress
	n, err := eeprom.WriteImage(ctx, port, src, func(p eeprom.Progress) { last = p })
	require.NoError(t, err)
	assert.Equal(t, eeprom.Size, n)
	assert.Equal(t, 100, last.Percent())

	got, err := eeprom.ReadImage(ctx, port, func(p eeprom.Progress) { last = p })
	require.NoError(t, err)
	assert.Equal(t, src, got)
	assert.Equal(t, eeprom.OperationRead, last.Operation)
	assert.Equal(t, eeprom.Size, last.Done)

	port.FailWrite[0x20] = true
	n, err = eeprom.WriteImage(ctx, port, src, nil)
	assert.Equal(t, 0x20, n)
	var te *eeprom.TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, uint16(0x20), te.Offset)
}
