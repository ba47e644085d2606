package binutil

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
	"unicode/utf16"
)

// ErrOverrun is returned when a read would cross the end of a View's backing buffer.
var ErrOverrun = errors.New("binutil: read overruns buffer")

// ErrValue is returned when decoded bytes do not represent a valid value of the requested kind, for
// example a FILETIME tick count outside the range time.Time can represent.
var ErrValue = errors.New("binutil: value out of range")

// View is an immutable, bounds-checked reference to a contiguous byte region. Every read is relative to
// an origin offset into the backing buffer, so a View can describe a structure embedded somewhere inside a
// larger buffer without copying it. All read methods validate that origin+offset+width does not exceed the
// buffer length and return ErrOverrun rather than panicking.
type View struct {
	buf    []byte
	origin int
}

// NewView creates a View over buf starting at origin.
func NewView(buf []byte, origin int) View {
	return View{buf: buf, origin: origin}
}

// Len returns the number of bytes available from the View's origin to the end of the backing buffer.
func (v View) Len() int {
	if v.origin > len(v.buf) {
		return 0
	}
	return len(v.buf) - v.origin
}

func (v View) checkBounds(offset, width int) error {
	if offset < 0 || width < 0 || v.origin+offset+width > len(v.buf) || v.origin+offset < 0 {
		return fmt.Errorf("%w: origin %d, offset %d, width %d, buffer length %d", ErrOverrun, v.origin, offset, width, len(v.buf))
	}
	return nil
}

// Bytes reads length bytes at offset. The returned slice aliases the backing buffer.
func (v View) Bytes(offset, length int) ([]byte, error) {
	if err := v.checkBounds(offset, length); err != nil {
		return nil, err
	}
	start := v.origin + offset
	return v.buf[start : start+length], nil
}

// Slice returns a new View over the same backing buffer, rooted at offset relative to this View's origin.
func (v View) Slice(offset int) (View, error) {
	if err := v.checkBounds(offset, 0); err != nil {
		return View{}, err
	}
	return View{buf: v.buf, origin: v.origin + offset}, nil
}

// Uint8 reads an unsigned 8-bit integer at offset.
func (v View) Uint8(offset int) (uint8, error) {
	b, err := v.Bytes(offset, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// Uint16 reads a little-endian unsigned 16-bit integer at offset.
func (v View) Uint16(offset int) (uint16, error) {
	b, err := v.Bytes(offset, 2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

// Uint32 reads a little-endian unsigned 32-bit integer at offset.
func (v View) Uint32(offset int) (uint32, error) {
	b, err := v.Bytes(offset, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// Uint64 reads a little-endian unsigned 64-bit integer at offset.
func (v View) Uint64(offset int) (uint64, error) {
	b, err := v.Bytes(offset, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// Int8 reads a signed 8-bit integer at offset.
func (v View) Int8(offset int) (int8, error) {
	u, err := v.Uint8(offset)
	return int8(u), err
}

// Int16 reads a little-endian signed 16-bit integer at offset.
func (v View) Int16(offset int) (int16, error) {
	u, err := v.Uint16(offset)
	return int16(u), err
}

// Int32 reads a little-endian signed 32-bit integer at offset.
func (v View) Int32(offset int) (int32, error) {
	u, err := v.Uint32(offset)
	return int32(u), err
}

// Int64 reads a little-endian signed 64-bit integer at offset.
func (v View) Int64(offset int) (int64, error) {
	u, err := v.Uint64(offset)
	return int64(u), err
}

// UTF16String reads codeUnits little-endian UTF-16 code units at offset and decodes them into a string.
func (v View) UTF16String(offset, codeUnits int) (string, error) {
	b, err := v.Bytes(offset, codeUnits*2)
	if err != nil {
		return "", err
	}
	shorts := make([]uint16, codeUnits)
	for i := range shorts {
		shorts[i] = binary.LittleEndian.Uint16(b[i*2 : i*2+2])
	}
	return string(utf16.Decode(shorts)), nil
}

// filetimeEpoch is the NTFS/Windows FILETIME epoch: 1601-01-01 00:00:00 UTC.
var filetimeEpoch = time.Date(1601, time.January, 1, 0, 0, 0, 0, time.UTC)

// FileTime decodes a 64-bit little-endian FILETIME (a count of 100-nanosecond ticks since
// 1601-01-01 UTC) at offset. It returns ErrValue if the tick count does not produce a calendar time
// representable by time.Time without overflowing, without disturbing any other read against the View.
func (v View) FileTime(offset int) (time.Time, error) {
	ticks, err := v.Uint64(offset)
	if err != nil {
		return time.Time{}, err
	}
	return DecodeFileTime(ticks)
}

// DecodeFileTime converts a raw FILETIME tick count into a calendar time.Time, returning ErrValue when
// the tick count overflows the representable range.
func DecodeFileTime(ticks uint64) (time.Time, error) {
	const hundredNanosPerSecond = int64(10_000_000)
	seconds := int64(ticks / uint64(hundredNanosPerSecond))
	remainder := int64(ticks % uint64(hundredNanosPerSecond))
	if seconds < 0 {
		// ticks is unsigned so this only happens if the division above overflowed int64, i.e. ticks
		// describes a date far enough in the future that it cannot be represented.
		return time.Time{}, fmt.Errorf("%w: filetime tick count %d overflows seconds", ErrValue, ticks)
	}
	t := time.Unix(filetimeEpoch.Unix()+seconds, remainder*100).UTC()
	if t.Year() > 9999 || t.Year() < 1601 {
		return time.Time{}, fmt.Errorf("%w: filetime tick count %d yields out-of-range year %d", ErrValue, ticks, t.Year())
	}
	return t, nil
}
