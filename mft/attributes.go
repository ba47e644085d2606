package mft

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/go-forensics/mftwalk/binutil"
	"github.com/go-forensics/mftwalk/utf16"
)

type FileAttribute uint32

const (
	FileAttributeReadOnly          FileAttribute = 0x0001
	FileAttributeHidden            FileAttribute = 0x0002
	FileAttributeSystem            FileAttribute = 0x0004
	FileAttributeArchive           FileAttribute = 0x0020
	FileAttributeDevice            FileAttribute = 0x0040
	FileAttributeNormal            FileAttribute = 0x0080
	FileAttributeTemporary         FileAttribute = 0x0100
	FileAttributeSparseFile        FileAttribute = 0x0200
	FileAttributeReparsePoint      FileAttribute = 0x0400
	FileAttributeCompressed        FileAttribute = 0x0800
	FileAttributeOffline           FileAttribute = 0x1000
	FileAttributeNotContentIndexed FileAttribute = 0x2000
	FileAttributeEncrypted         FileAttribute = 0x4000
)

// Is checks if this FileAttribute's bit mask contains the specified flag.
func (f FileAttribute) Is(c FileAttribute) bool {
	return f&c == c
}

// ErrFieldMissing is returned by a StandardInformation accessor when the underlying $STANDARD_INFORMATION
// attribute was too short to carry that field. Windows only began writing the owner id, security id, quota
// charged, and USN fields in NTFS 3.0; attributes from older volumes (or deliberately truncated ones found
// during recovery) legitimately lack them.
var ErrFieldMissing = errors.New("mft: field not present in attribute")

// StandardInformation represents the data of a $STANDARD_INFORMATION attribute. The four NTFS 3.0 fields
// (owner id, security id, quota charged, update sequence number) are only present when the attribute is long
// enough to contain them; use the corresponding accessor methods to read them, which report ErrFieldMissing
// rather than silently returning zero when absent.
type StandardInformation struct {
	Creation                time.Time
	FileLastModified        time.Time
	MftLastModified         time.Time
	LastAccess              time.Time
	FileAttributes          FileAttribute
	MaximumNumberOfVersions uint32
	VersionNumber           uint32
	ClassId                 uint32

	ownerId              uint32
	hasOwnerId           bool
	securityId           uint32
	hasSecurityId        bool
	quotaCharged         uint64
	hasQuotaCharged      bool
	updateSequenceNumber uint64
	hasUpdateSequenceNum bool
}

// OwnerId returns the quota owner id, or ErrFieldMissing if the attribute did not carry one.
func (s StandardInformation) OwnerId() (uint32, error) {
	if !s.hasOwnerId {
		return 0, fmt.Errorf("owner id: %w", ErrFieldMissing)
	}
	return s.ownerId, nil
}

// SecurityId returns the security descriptor id, or ErrFieldMissing if the attribute did not carry one.
func (s StandardInformation) SecurityId() (uint32, error) {
	if !s.hasSecurityId {
		return 0, fmt.Errorf("security id: %w", ErrFieldMissing)
	}
	return s.securityId, nil
}

// QuotaCharged returns the quota charged against the owner, or ErrFieldMissing if the attribute did not
// carry one.
func (s StandardInformation) QuotaCharged() (uint64, error) {
	if !s.hasQuotaCharged {
		return 0, fmt.Errorf("quota charged: %w", ErrFieldMissing)
	}
	return s.quotaCharged, nil
}

// UpdateSequenceNumber returns the last update sequence number (USN) recorded for this file, or
// ErrFieldMissing if the attribute did not carry one.
func (s StandardInformation) UpdateSequenceNumber() (uint64, error) {
	if !s.hasUpdateSequenceNum {
		return 0, fmt.Errorf("update sequence number: %w", ErrFieldMissing)
	}
	return s.updateSequenceNumber, nil
}

func ParseStandardInformation(b []byte) (StandardInformation, error) {
	if len(b) < 48 {
		return StandardInformation{}, fmt.Errorf("expected at least %d bytes but got %d", 48, len(b))
	}

	r := binutil.NewLittleEndianReader(b)
	si := StandardInformation{
		Creation:                ConvertFileTime(r.Uint64(0x00)),
		FileLastModified:        ConvertFileTime(r.Uint64(0x08)),
		MftLastModified:         ConvertFileTime(r.Uint64(0x10)),
		LastAccess:              ConvertFileTime(r.Uint64(0x18)),
		FileAttributes:          FileAttribute(r.Uint32(0x20)),
		MaximumNumberOfVersions: r.Uint32(0x24),
		VersionNumber:           r.Uint32(0x28),
		ClassId:                 r.Uint32(0x2C),
	}
	if len(b) >= 0x30+4 {
		si.ownerId = r.Uint32(0x30)
		si.hasOwnerId = true
	}
	if len(b) >= 0x34+4 {
		si.securityId = r.Uint32(0x34)
		si.hasSecurityId = true
	}
	if len(b) >= 0x38+8 {
		si.quotaCharged = r.Uint64(0x38)
		si.hasQuotaCharged = true
	}
	if len(b) >= 0x40+8 {
		si.updateSequenceNumber = r.Uint64(0x40)
		si.hasUpdateSequenceNum = true
	}
	return si, nil
}

// VolumeFlag represents a bit mask flag describing the state of a volume, as carried in a
// $VOLUME_INFORMATION attribute.
type VolumeFlag uint16

const (
	VolumeFlagDirty             VolumeFlag = 0x0001
	VolumeFlagResizeLogFile     VolumeFlag = 0x0002
	VolumeFlagUpgradeOnMount    VolumeFlag = 0x0004
	VolumeFlagMountedOnNT4      VolumeFlag = 0x0008
	VolumeFlagDeleteUSNUnderway VolumeFlag = 0x0010
	VolumeFlagRepairObjectId    VolumeFlag = 0x0020
	VolumeFlagModifiedByChkdsk  VolumeFlag = 0x8000
)

// Is checks if this VolumeFlag's bit mask contains the specified flag.
func (f VolumeFlag) Is(c VolumeFlag) bool {
	return f&c == c
}

// VolumeInformation represents the data of a $VOLUME_INFORMATION attribute, found only in the $Volume
// metadata file's MFT record.
type VolumeInformation struct {
	MajorVersion byte
	MinorVersion byte
	Flags        VolumeFlag
}

func ParseVolumeInformation(b []byte) (VolumeInformation, error) {
	if len(b) < 16 {
		return VolumeInformation{}, fmt.Errorf("expected at least %d bytes but got %d", 16, len(b))
	}
	r := binutil.NewLittleEndianReader(b)
	return VolumeInformation{
		MajorVersion: r.Byte(0x08),
		MinorVersion: r.Byte(0x09),
		Flags:        VolumeFlag(r.Uint16(0x0A)),
	}, nil
}

type FileNameNamespace byte

const (
	FileNameNamespacePosix    FileNameNamespace = 0
	FileNameNamespaceWin32    FileNameNamespace = 1
	FileNameNamespaceDos      FileNameNamespace = 2
	FileNameNamespaceWin32Dos FileNameNamespace = 3
)

type FileName struct {
	ParentFileReference FileReference
	Creation            time.Time
	FileLastModified    time.Time
	MftLastModified     time.Time
	LastAccess          time.Time
	AllocatedSize       uint64
	RealSize            uint64
	Flags               FileAttribute
	ExtendedData        uint32
	Namespace           FileNameNamespace
	Name                string
}

func ParseFileName(b []byte) (FileName, error) {
	if len(b) < 66 {
		return FileName{}, fmt.Errorf("expected at least %d bytes but got %d", 66, len(b))
	}

	fileNameLength := int(b[0x40 : 0x40+1][0]) * 2
	minExpectedSize := 66 + fileNameLength
	if len(b) < minExpectedSize {
		return FileName{}, fmt.Errorf("expected at least %d bytes but got %d", minExpectedSize, len(b))
	}

	r := binutil.NewLittleEndianReader(b)
	name, err := utf16.DecodeString(r.Read(0x42, fileNameLength), binary.LittleEndian)
	if err != nil {
		return FileName{}, fmt.Errorf("unable to decode file name: %w", err)
	}
	parentRef, err := ParseFileReference(r.Read(0x00, 8))
	if err != nil {
		return FileName{}, fmt.Errorf("unable to parse file reference: %v", err)
	}
	return FileName{
		ParentFileReference: parentRef,
		Creation:            ConvertFileTime(r.Uint64(0x08)),
		FileLastModified:    ConvertFileTime(r.Uint64(0x10)),
		MftLastModified:     ConvertFileTime(r.Uint64(0x18)),
		LastAccess:          ConvertFileTime(r.Uint64(0x20)),
		AllocatedSize:       r.Uint64(0x28),
		RealSize:            r.Uint64(0x30),
		Flags:               FileAttribute(r.Uint32(0x38)),
		ExtendedData:        r.Uint32(0x3c),
		Namespace:           FileNameNamespace(r.Byte(0x41)),
		Name:                name,
	}, nil
}

// AttributeListEntry represents a single entry in a $ATTRIBUTE_LIST attribute, which points to an attribute
// that lives in an extension record rather than the base record. walk intentionally does not follow these
// entries when resolving parent/child relationships: $ATTRIBUTE_LIST is a mechanism for spilling a record's
// own attributes into extension records when it runs out of room, not a way of expressing directory
// structure.
type AttributeListEntry struct {
	Type                AttributeType
	Name                string
	StartingVCN         uint64
	BaseRecordReference FileReference
	AttributeId         uint16
}

func ParseAttributeList(b []byte) ([]AttributeListEntry, error) {
	if len(b) < 26 {
		return []AttributeListEntry{}, fmt.Errorf("expected at least %d bytes but got %d", 26, len(b))
	}

	entries := make([]AttributeListEntry, 0)

	for len(b) > 0 {
		r := binutil.NewLittleEndianReader(b)
		entryLength := int(r.Uint16(0x04))
		if len(b) < entryLength {
			return entries, fmt.Errorf("expected at least %d bytes remaining for AttributeList entry but is %d", entryLength, len(b))
		}
		nameLength := int(r.Byte(0x06))
		name := ""
		if nameLength != 0 {
			nameOffset := int(r.Byte(0x07))
			parsed, err := utf16.DecodeString(r.Read(nameOffset, nameLength*2), binary.LittleEndian)
			if err != nil {
				return entries, fmt.Errorf("unable to parsed attribute name: %w", err)
			}
			name = parsed
		}
		baseRef, err := ParseFileReference(r.Read(0x10, 8))
		if err != nil {
			return entries, fmt.Errorf("unable to parse base record reference: %v", err)
		}
		entry := AttributeListEntry{
			Type:                AttributeType(r.Uint32(0)),
			Name:                name,
			StartingVCN:         r.Uint64(0x08),
			BaseRecordReference: baseRef,
			AttributeId:         r.Uint16(0x18),
		}
		entries = append(entries, entry)
		b = r.ReadFrom(entryLength)
	}
	return entries, nil
}

// ConvertFileTime converts a raw FILETIME tick count into a time.Time. Ticks that cannot be represented
// (arithmetic overflow, or a year outside what time.Time can express) yield the zero time.Time; callers
// that need to distinguish that case from a genuinely zero FILETIME should use binutil.DecodeFileTime
// directly.
func ConvertFileTime(timeValue uint64) time.Time {
	t, err := binutil.DecodeFileTime(timeValue)
	if err != nil {
		return time.Time{}
	}
	return t
}
