package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNumber(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want uint32
	}{
		{"0", 0},
		{"0x88", 0x88},
		{"0X3C05", 0x3c05},
		{"256", 256},
		{"ff", 0xff},
	} {
		got, err := parseNumber(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
	_, err := parseNumber("0xzz")
	assert.Error(t, err)
}

func TestParseID(t *testing.T) {
	id, err := parseID("0x2001")
	require.NoError(t, err)
	assert.Equal(t, uint16(0x2001), id)
	_, err = parseID("0x10000")
	assert.Error(t, err)
}

func TestParseVIDPID(t *testing.T) {
	vid, pid, err := parseVIDPID("0b95:772a")
	require.NoError(t, err)
	assert.Equal(t, uint16(0x0b95), vid)
	assert.Equal(t, uint16(0x772a), pid)

	vid, pid, err = parseVIDPID("0x0000:0x0000")
	require.NoError(t, err)
	assert.Zero(t, vid)
	assert.Zero(t, pid)

	for _, bad := range []string{"0b95", "0b95:772a:1", "0b95:xyz", ":"} {
		_, _, err := parseVIDPID(bad)
		assert.Error(t, err, bad)
	}
}
