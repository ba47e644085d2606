// Package index decodes NTFS directory indexes: the $INDEX_ROOT and $INDEX_ALLOCATION attributes that back
// a directory's $I30 entry, and the fixed-key $SII/$SDH indexes used by the $Secure metadata file. It also
// implements slack-space scanning of INDX blocks, which can recover directory entries for files that have
// since been deleted but whose entry has not yet been overwritten by a newer one.
package index

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/go-forensics/mftwalk/binutil"
	"github.com/go-forensics/mftwalk/fixup"
	"github.com/go-forensics/mftwalk/mft"
)

// ErrInvalidBlock is returned when a supposed INDX block does not start with the expected magic signature.
var ErrInvalidBlock = errors.New("index: invalid INDX block signature")

var indexBlockMagic = []byte{0x49, 0x4e, 0x44, 0x58} // "INDX"

// CollationType indicates how entries in an index are sorted, which in turn determines what kind of key
// they carry.
type CollationType uint32

const (
	CollationTypeBinary            CollationType = 0x00000000
	CollationTypeFileName          CollationType = 0x00000001
	CollationTypeUnicodeString     CollationType = 0x00000002
	CollationTypeNtofsULong        CollationType = 0x00000010
	CollationTypeNtofsSid          CollationType = 0x00000011
	CollationTypeNtofsSecurityHash CollationType = 0x00000012
	CollationTypeNtofsUlongs       CollationType = 0x00000013
)

// HeaderFlag is a bit mask flag describing an INDEX_HEADER.
type HeaderFlag uint32

// HeaderFlagLargeIndex indicates the index's entries do not all fit in $INDEX_ROOT and the tree continues
// into the directory's $INDEX_ALLOCATION attribute.
const HeaderFlagLargeIndex HeaderFlag = 0x01

// Header is the INDEX_HEADER that precedes every list of index entries, whether embedded in $INDEX_ROOT or
// at the start of an INDX block.
type Header struct {
	EntriesOffset uint32
	IndexLength   uint32
	AllocatedSize uint32
	Flags         HeaderFlag
}

// HasAllocation reports whether the index this Header describes continues into an $INDEX_ALLOCATION
// attribute rather than being fully contained in $INDEX_ROOT.
func (h Header) HasAllocation() bool {
	return h.Flags&HeaderFlagLargeIndex != 0
}

// ParseHeader parses the 16-byte INDEX_HEADER structure.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < 16 {
		return Header{}, fmt.Errorf("expected at least 16 bytes for INDEX_HEADER but got %d", len(b))
	}
	r := binutil.NewLittleEndianReader(b)
	return Header{
		EntriesOffset: r.Uint32(0x00),
		IndexLength:   r.Uint32(0x04),
		AllocatedSize: r.Uint32(0x08),
		Flags:         HeaderFlag(r.Uint32(0x0C)),
	}, nil
}

// EntryFlags is a bit mask flag describing a directory index entry.
type EntryFlags uint32

const (
	// EntryFlagPointsToSubNode indicates the entry is followed by an 8-byte VCN pointing at a child node in
	// $INDEX_ALLOCATION.
	EntryFlagPointsToSubNode EntryFlags = 0x01
	// EntryFlagLast marks the final entry in a node. It carries no $FILE_NAME payload of its own; on leaf
	// nodes it is a no-op sentinel, on internal nodes it is still followed by a child VCN.
	EntryFlagLast EntryFlags = 0x02
)

// Is checks if this EntryFlags's bit mask contains the specified flag.
func (f EntryFlags) Is(c EntryFlags) bool {
	return f&c == c
}

// validityWindowStart and validityWindowEnd bound the range of $FILE_NAME timestamps this package
// considers plausible for an entry recovered from INDX slack space. A deleted directory entry that has been
// partially overwritten often still parses "successfully" as garbage; requiring every timestamp to fall
// within a sane, half-open calendar window rejects most of that garbage without needing a checksum.
var (
	validityWindowStart = time.Date(1990, time.January, 1, 0, 0, 0, 0, time.UTC)
	validityWindowEnd   = time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
)

// Entry represents a single entry in a $FILE_NAME-collated index (the $I30 directory index). It embeds
// either a $FILE_NAME record (when HasFileName is true) or, for the END sentinel that terminates a node,
// nothing.
type Entry struct {
	FileReference mft.FileReference
	Flags         EntryFlags
	FileName      mft.FileName
	HasFileName   bool
	SubNodeVCN    uint64
}

// IsValid reports whether the entry's $FILE_NAME timestamps all fall within a plausible calendar window.
// It is used to separate genuine directory entries recovered from INDX slack space from bytes that happen
// to parse without error but are not really an index entry.
func (e Entry) IsValid() bool {
	if !e.HasFileName {
		return false
	}
	for _, t := range []time.Time{e.FileName.Creation, e.FileName.FileLastModified, e.FileName.MftLastModified, e.FileName.LastAccess} {
		if t.Before(validityWindowStart) || !t.Before(validityWindowEnd) {
			return false
		}
	}
	return true
}

// parseEntryAt parses a single index entry starting at the beginning of b and returns it along with the
// number of bytes it occupies (its entry_length field), so callers can advance to the next entry.
func parseEntryAt(b []byte) (Entry, int, error) {
	if len(b) < 16 {
		return Entry{}, 0, fmt.Errorf("expected at least 16 bytes for index entry header but got %d", len(b))
	}
	r := binutil.NewLittleEndianReader(b)
	entryLength := int(r.Uint16(0x08))
	if entryLength < 16 || entryLength > len(b) {
		return Entry{}, 0, fmt.Errorf("index entry length %d is out of range for %d remaining bytes", entryLength, len(b))
	}

	flags := EntryFlags(r.Uint32(0x0C))
	isLast := flags.Is(EntryFlagLast)
	contentLength := int(r.Uint16(0x0A))

	var fileName mft.FileName
	hasFileName := false
	if contentLength != 0 && !isLast {
		if 0x10+contentLength > entryLength {
			return Entry{}, 0, fmt.Errorf("index entry content length %d overruns entry of length %d", contentLength, entryLength)
		}
		parsed, err := mft.ParseFileName(r.Read(0x10, contentLength))
		if err != nil {
			return Entry{}, 0, fmt.Errorf("error parsing $FILE_NAME record in index entry: %w", err)
		}
		fileName = parsed
		hasFileName = true
	}

	subNodeVCN := uint64(0)
	if flags.Is(EntryFlagPointsToSubNode) {
		if entryLength < 8 {
			return Entry{}, 0, fmt.Errorf("index entry with sub-node flag is too short (%d bytes) to carry a VCN", entryLength)
		}
		subNodeVCN = r.Uint64(entryLength - 8)
	}

	fileReference, err := mft.ParseFileReference(r.Read(0x00, 8))
	if err != nil {
		return Entry{}, 0, fmt.Errorf("unable to parse file reference: %w", err)
	}

	return Entry{
		FileReference: fileReference,
		Flags:         flags,
		FileName:      fileName,
		HasFileName:   hasFileName,
		SubNodeVCN:    subNodeVCN,
	}, entryLength, nil
}

// ParseEntries parses a contiguous run of index entries, stopping at the end of b or at the END sentinel
// entry, whichever comes first.
func ParseEntries(b []byte) ([]Entry, error) {
	entries := make([]Entry, 0)
	for len(b) > 0 {
		entry, consumed, err := parseEntryAt(b)
		if err != nil {
			return entries, err
		}
		entries = append(entries, entry)
		if entry.Flags.Is(EntryFlagLast) {
			break
		}
		if consumed <= 0 {
			break
		}
		b = b[consumed:]
	}
	return entries, nil
}

// SlackEntries scans the unused tail of an index node (the region between its declared IndexLength and its
// AllocatedSize) for entries that look like leftover, deleted directory entries. Unlike ParseEntries it does
// not trust any structure to tell it where entries start: it probes every byte offset, and only keeps a
// candidate whose timestamps pass IsValid. On an invalid or unparseable probe it advances by a single byte;
// on a valid entry it advances by the entry's own declared length, or by one byte if that length is zero,
// to guarantee forward progress.
func SlackEntries(b []byte, indexLength, allocatedSize int) []Entry {
	var found []Entry
	const minProbeSize = 0x52
	offset := indexLength
	for offset <= allocatedSize-minProbeSize && offset+minProbeSize <= len(b) {
		entry, consumed, err := parseEntryAt(b[offset:])
		if err != nil || !entry.IsValid() {
			offset++
			continue
		}
		found = append(found, entry)
		if consumed < 1 {
			consumed = 1
		}
		offset += consumed
	}
	return found
}

// Root represents a directory's $INDEX_ROOT attribute: the first page of its B+ tree index, always resident
// and always present for a directory, even if empty.
type Root struct {
	AttributeType          mft.AttributeType
	CollationType          CollationType
	BytesPerIndexRecord    uint32
	ClustersPerIndexRecord uint32
	Header                 Header
	Entries                []Entry
}

// ParseRoot parses the data of a $INDEX_ROOT attribute. Only AttributeTypeFileName-collated roots (i.e. the
// $I30 directory index) are supported; other collations are rejected since this package does not know how
// to interpret their keys as directory entries.
func ParseRoot(b []byte) (Root, error) {
	if len(b) < 32 {
		return Root{}, fmt.Errorf("expected at least 32 bytes but got %d", len(b))
	}
	r := binutil.NewLittleEndianReader(b)
	attributeType := mft.AttributeType(r.Uint32(0x00))
	if attributeType != mft.AttributeTypeFileName {
		return Root{}, fmt.Errorf("unable to handle attribute type %d (%s) in $INDEX_ROOT", attributeType, attributeType.Name())
	}

	header, err := ParseHeader(r.Read(0x10, 16))
	if err != nil {
		return Root{}, fmt.Errorf("error parsing INDEX_HEADER: %w", err)
	}

	totalSize := int(header.IndexLength)
	expectedSize := totalSize + 16
	if len(b) < expectedSize {
		return Root{}, fmt.Errorf("expected %d bytes in $INDEX_ROOT but is %d", expectedSize, len(b))
	}

	entriesOffset := int(header.EntriesOffset)
	entries := []Entry{}
	if totalSize >= entriesOffset {
		parsed, err := ParseEntries(r.Read(0x10+entriesOffset, totalSize-entriesOffset))
		if err != nil {
			return Root{}, fmt.Errorf("error parsing index entries: %w", err)
		}
		entries = parsed
	}

	return Root{
		AttributeType:          attributeType,
		CollationType:          CollationType(r.Uint32(0x04)),
		BytesPerIndexRecord:    r.Uint32(0x08),
		ClustersPerIndexRecord: r.Uint32(0x0C),
		Header:                 header,
		Entries:                entries,
	}, nil
}

// Block represents a single INDX record inside a directory's $INDEX_ALLOCATION attribute: one node of the
// B+ tree that did not fit in $INDEX_ROOT. Every Block is fixup-protected the same way an MFT record is.
type Block struct {
	VCN     uint64
	Header  Header
	Entries []Entry
}

// ParseBlock applies fixup to and parses a single INDX block. b must be exactly one index-record's worth of
// bytes (commonly 4096).
func ParseBlock(b []byte) (Block, error) {
	if len(b) < 0x28 {
		return Block{}, fmt.Errorf("expected at least %d bytes for INDX block but got %d", 0x28, len(b))
	}
	if !bytes.Equal(b[:4], indexBlockMagic) {
		return Block{}, fmt.Errorf("%w: got %#x", ErrInvalidBlock, b[:4])
	}

	header := binutil.NewLittleEndianReader(b)
	usaOffset := int(header.Uint16(0x04))
	usaCount := int(header.Uint16(0x06))

	fixedUp, err := fixup.Apply(b, usaOffset, usaCount)
	if err != nil {
		return Block{}, fmt.Errorf("unable to apply fixup to INDX block: %w", err)
	}

	r := binutil.NewLittleEndianReader(fixedUp)
	vcn := r.Uint64(0x10)

	indexHeader, err := ParseHeader(r.Read(0x18, 16))
	if err != nil {
		return Block{}, fmt.Errorf("error parsing INDEX_HEADER: %w", err)
	}

	totalSize := int(indexHeader.IndexLength)
	entriesOffset := int(indexHeader.EntriesOffset)
	entriesStart := 0x18 + entriesOffset
	entries := []Entry{}
	if totalSize >= entriesOffset && entriesStart+(totalSize-entriesOffset) <= len(fixedUp) {
		parsed, err := ParseEntries(r.Read(entriesStart, totalSize-entriesOffset))
		if err != nil {
			return Block{}, fmt.Errorf("error parsing index entries: %w", err)
		}
		entries = parsed
	}

	return Block{VCN: vcn, Header: indexHeader, Entries: entries}, nil
}

// Allocation represents a directory's whole $INDEX_ALLOCATION attribute: a sequence of fixed-size INDX
// blocks.
type Allocation struct {
	Blocks []Block
}

// ParseAllocation scans b for consecutive INDX blocks of blockSize bytes each (4096 if blockSize is 0),
// stopping as soon as a chunk does not start with the INDX magic signature or fails to parse. This mirrors
// how NTFS itself bounds $INDEX_ALLOCATION: there is no separate count field, the attribute's data length
// divided by the index record size is the block count, and a corrupt or truncated tail is simply where
// recovery stops.
func ParseAllocation(b []byte, blockSize int) (Allocation, error) {
	if blockSize <= 0 {
		blockSize = 4096
	}
	var blocks []Block
	for offset := 0; offset+blockSize <= len(b); offset += blockSize {
		chunk := b[offset : offset+blockSize]
		if len(chunk) < 4 || !bytes.Equal(chunk[:4], indexBlockMagic) {
			break
		}
		block, err := ParseBlock(chunk)
		if err != nil {
			break
		}
		blocks = append(blocks, block)
	}
	return Allocation{Blocks: blocks}, nil
}

// SecureEntry is the shared shape of entries in the $Secure metadata file's $SII and $SDH indexes: a
// fixed-size key (rather than a $FILE_NAME) paired with a pointer to a SECURITY_DESCRIPTOR_HEADER value
// elsewhere in $SDS.
type SecureEntry struct {
	DataOffset  uint16
	DataLength  uint16
	EntryLength uint16
	KeyLength   uint16
	Key         []byte
	Data        []byte
}

func parseSecureEntry(b []byte) (SecureEntry, int, error) {
	if len(b) < 16 {
		return SecureEntry{}, 0, fmt.Errorf("expected at least 16 bytes for secure index entry header but got %d", len(b))
	}
	r := binutil.NewLittleEndianReader(b)
	dataOffset := r.Uint16(0x00)
	dataLength := r.Uint16(0x02)
	entryLength := int(r.Uint16(0x08))
	keyLength := r.Uint16(0x0A)

	if entryLength < 16 || entryLength > len(b) {
		return SecureEntry{}, 0, fmt.Errorf("secure index entry length %d is out of range for %d remaining bytes", entryLength, len(b))
	}

	var key, data []byte
	if keyLength > 0 && 0x10+int(keyLength) <= entryLength {
		key = binutil.Duplicate(r.Read(0x10, int(keyLength)))
	}
	if dataLength > 0 && int(dataOffset)+int(dataLength) <= entryLength {
		data = binutil.Duplicate(r.Read(int(dataOffset), int(dataLength)))
	}

	return SecureEntry{
		DataOffset:  dataOffset,
		DataLength:  dataLength,
		EntryLength: uint16(entryLength),
		KeyLength:   keyLength,
		Key:         key,
		Data:        data,
	}, entryLength, nil
}

// SIIEntry is an entry in the $SII index, keyed by a 4-byte security id.
type SIIEntry struct {
	SecureEntry
}

// IsValid reports whether the entry's key is the 4-byte security id a $SII entry should carry. The Python
// implementation this package is based on instead called a method that was misspelled (key_lenght instead
// of key_length) and so never actually ran; this checks the real key length.
func (e SIIEntry) IsValid() bool {
	return e.KeyLength == 4
}

// SecurityID returns the 4-byte security id this $SII entry is keyed by.
func (e SIIEntry) SecurityID() uint32 {
	if len(e.Key) < 4 {
		return 0
	}
	return binutil.NewLittleEndianReader(e.Key).Uint32(0)
}

// ParseSIIEntries parses a contiguous run of $SII index entries.
func ParseSIIEntries(b []byte) ([]SIIEntry, error) {
	entries := make([]SIIEntry, 0)
	for len(b) > 0 {
		e, consumed, err := parseSecureEntry(b)
		if err != nil {
			return entries, err
		}
		entries = append(entries, SIIEntry{e})
		if consumed <= 0 {
			break
		}
		b = b[consumed:]
	}
	return entries, nil
}

// SDHEntry is an entry in the $SDH index, keyed by an 8-byte (hash, security id) pair.
type SDHEntry struct {
	SecureEntry
}

// IsValid reports whether the entry's key is the 8-byte (hash, security id) pair a $SDH entry should carry.
func (e SDHEntry) IsValid() bool {
	return e.KeyLength == 8
}

// ParseSDHEntries parses a contiguous run of $SDH index entries.
func ParseSDHEntries(b []byte) ([]SDHEntry, error) {
	entries := make([]SDHEntry, 0)
	for len(b) > 0 {
		e, consumed, err := parseSecureEntry(b)
		if err != nil {
			return entries, err
		}
		entries = append(entries, SDHEntry{e})
		if consumed <= 0 {
			break
		}
		b = b[consumed:]
	}
	return entries, nil
}
