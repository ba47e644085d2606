package binutil_test

import (
	"testing"
	"time"

	"github.com/go-forensics/mftwalk/binutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestViewUint8(t *testing.T) {
	v := binutil.NewView([]byte{0x01, 0x02, 0x03}, 1)
	u, err := v.Uint8(0)
	require.NoError(t, err)
	assert.Equal(t, uint8(0x02), u)
}

func TestViewUint16LittleEndian(t *testing.T) {
	v := binutil.NewView([]byte{0xAA, 0x34, 0x12}, 1)
	u, err := v.Uint16(0)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x1234), u)
}

func TestViewUint32LittleEndian(t *testing.T) {
	v := binutil.NewView([]byte{0x78, 0x56, 0x34, 0x12}, 0)
	u, err := v.Uint32(0)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x12345678), u)
}

func TestViewUint64LittleEndian(t *testing.T) {
	v := binutil.NewView([]byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}, 0)
	u, err := v.Uint64(0)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x0807060504030201), u)
}

func TestViewInt8Negative(t *testing.T) {
	v := binutil.NewView([]byte{0xFF}, 0)
	i, err := v.Int8(0)
	require.NoError(t, err)
	assert.Equal(t, int8(-1), i)
}

func TestViewOverrunReturnsError(t *testing.T) {
	v := binutil.NewView([]byte{0x01, 0x02}, 0)
	_, err := v.Uint32(0)
	require.Error(t, err)
	assert.ErrorIs(t, err, binutil.ErrOverrun)
}

func TestViewOverrunNegativeOffset(t *testing.T) {
	v := binutil.NewView([]byte{0x01, 0x02}, 0)
	_, err := v.Uint8(-1)
	require.Error(t, err)
	assert.ErrorIs(t, err, binutil.ErrOverrun)
}

func TestViewSliceRebasesOrigin(t *testing.T) {
	buf := []byte{0x00, 0x00, 0xEF, 0xBE, 0xAD, 0xDE}
	v := binutil.NewView(buf, 0)
	sub, err := v.Slice(2)
	require.NoError(t, err)
	u, err := sub.Uint32(0)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xDEADBEEF), u)
}

func TestViewSliceOutOfBounds(t *testing.T) {
	v := binutil.NewView([]byte{0x01, 0x02}, 0)
	_, err := v.Slice(5)
	assert.ErrorIs(t, err, binutil.ErrOverrun)
}

func TestViewUTF16String(t *testing.T) {
	// "Hi" little-endian UTF-16
	v := binutil.NewView([]byte{'H', 0x00, 'i', 0x00}, 0)
	s, err := v.UTF16String(0, 2)
	require.NoError(t, err)
	assert.Equal(t, "Hi", s)
}

func TestViewFileTimeEpoch(t *testing.T) {
	v := binutil.NewView([]byte{0, 0, 0, 0, 0, 0, 0, 0}, 0)
	ft, err := v.FileTime(0)
	require.NoError(t, err)
	assert.True(t, ft.Equal(time.Date(1601, time.January, 1, 0, 0, 0, 0, time.UTC)))
}

func TestViewFileTimeKnownValue(t *testing.T) {
	// 2010-01-01 00:00:00 UTC in FILETIME ticks.
	const ticks = uint64(129067776000000000)
	ft, err := binutil.DecodeFileTime(ticks)
	require.NoError(t, err)
	assert.Equal(t, 2010, ft.Year())
	assert.Equal(t, time.January, ft.Month())
	assert.Equal(t, 1, ft.Day())
}

func TestViewLen(t *testing.T) {
	v := binutil.NewView([]byte{1, 2, 3, 4, 5}, 2)
	assert.Equal(t, 3, v.Len())
}
