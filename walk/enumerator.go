// Package walk implements enumeration over an extracted NTFS Master File Table: walking every record,
// resolving each record's full path, and building an in-memory tree of the whole filesystem hierarchy. It is
// the layer that turns mft.Record and index.Entry, which each describe one structure in isolation, into a
// connected filesystem view.
package walk

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/go-forensics/mftwalk/cache"
	"github.com/go-forensics/mftwalk/mft"
)

// RecordSize is the fixed on-disk size of one MFT record.
const RecordSize = 1024

// ReservedRecordsStart and ReservedRecordsEnd bound the range of record numbers NTFS reserves for metadata
// files that may not yet be populated on every volume. Enumeration skips straight over this range.
const (
	ReservedRecordsStart = 12
	ReservedRecordsEnd   = 16
)

const recordMagic = 0x454c4946 // "FILE"

// ProgressFunc is called by BuildTree once per record visited, as an advisory progress hook; current is the
// number of the record just processed and total is the number of record slots in the image. RecordIter takes
// no progress hook.
type ProgressFunc func(current, total int)

// Enumerator provides random access to, and iteration over, the records of an MFT image held entirely in
// memory.
type Enumerator struct {
	buf     []byte
	records *cache.Cache[int, mft.Record]
}

// NewEnumerator creates an Enumerator over buf, the raw bytes of an extracted $MFT file. recordCacheSize
// bounds how many parsed records are kept in memory at once; pass 0 or less for no limit.
func NewEnumerator(buf []byte, recordCacheSize int) *Enumerator {
	return &Enumerator{
		buf:     buf,
		records: cache.New[int, mft.Record](recordCacheSize),
	}
}

// Len returns the number of record slots in the MFT image (including unused and reserved ones).
func (e *Enumerator) Len() int {
	return len(e.buf) / RecordSize
}

// RecordBuf returns the raw, pre-parse bytes of the record at recordNumber, or ErrOverrun if recordNumber is
// beyond the end of the image.
func (e *Enumerator) RecordBuf(recordNumber int) ([]byte, error) {
	start := recordNumber * RecordSize
	end := start + RecordSize
	if recordNumber < 0 || end > len(e.buf) {
		return nil, fmt.Errorf("record %d: %w", recordNumber, ErrOverrun)
	}
	return e.buf[start:end], nil
}

// Record returns the parsed record at recordNumber, using and populating the Enumerator's record cache.
// It returns ErrOverrun if recordNumber is beyond the image, or ErrInvalidRecord if the bytes there do not
// carry the MFT record signature (for example, an unused slot in a sparse MFT).
func (e *Enumerator) Record(recordNumber int) (mft.Record, error) {
	if cached, ok := e.records.Get(recordNumber); ok {
		return cached, nil
	}

	buf, err := e.RecordBuf(recordNumber)
	if err != nil {
		return mft.Record{}, err
	}

	if len(buf) < 4 || binary.LittleEndian.Uint32(buf[:4]) != recordMagic {
		return mft.Record{}, fmt.Errorf("record %d: %w", recordNumber, ErrInvalidRecord)
	}

	record, err := mft.ParseRecord(buf)
	if err != nil {
		return mft.Record{}, fmt.Errorf("record %d: %w: %v", recordNumber, ErrInvalidRecord, err)
	}

	e.records.Insert(recordNumber, record)
	return record, nil
}

// RecordIter returns a restartable cursor over every valid record in the image, in record number order.
// Records in the reserved 12-15 range are skipped, and records that fail to parse (corrupt or unused slots)
// are silently skipped rather than ending the iteration. Iteration ends after the last whole record slot with
// Err left nil; only a record read that overruns the image stops it with a non-nil Err.
func (e *Enumerator) RecordIter() *RecordIter {
	return &RecordIter{e: e}
}

// RecordIter is a Scanner-style cursor over an Enumerator's records: call Next until it returns false, then
// use Record/RecordNumber to read the current element and Err to check why iteration stopped.
type RecordIter struct {
	e          *Enumerator
	idx        int
	current    mft.Record
	currentNum int
	err        error
}

// Next advances the cursor to the next valid record, returning false when there are no more.
func (it *RecordIter) Next() bool {
	for {
		if it.idx >= it.e.Len() {
			return false
		}
		if it.idx == ReservedRecordsStart {
			it.idx = ReservedRecordsEnd
			continue
		}
		recordNum := it.idx
		it.idx++

		record, err := it.e.Record(recordNum)
		if err != nil {
			if errors.Is(err, ErrOverrun) {
				it.err = err
				return false
			}
			continue
		}
		it.current = record
		it.currentNum = recordNum
		return true
	}
}

// Record returns the record the cursor currently points at.
func (it *RecordIter) Record() mft.Record {
	return it.current
}

// RecordNumber returns the record number the cursor currently points at.
func (it *RecordIter) RecordNumber() int {
	return it.currentNum
}

// Err returns the error that stopped iteration, if any. A normal end of iteration leaves Err nil.
func (it *RecordIter) Err() error {
	return it.err
}
