package walk

import "errors"

// ErrOverrun is returned when a requested record number lies beyond the end of the MFT buffer.
var ErrOverrun = errors.New("walk: record number overruns MFT buffer")

// ErrInvalidRecord is returned when the bytes at a given record number do not carry the MFT record
// signature.
var ErrInvalidRecord = errors.New("walk: invalid MFT record")

// ErrNotFound is returned when a path lookup does not match any enumerated record.
var ErrNotFound = errors.New("walk: not found")
