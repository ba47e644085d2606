package mft_test

import (
	"encoding/binary"
	"encoding/hex"
	"testing"

	"github.com/go-forensics/mftwalk/fragment"
	"github.com/go-forensics/mftwalk/mft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDataRuns(t *testing.T) {
	input := decodeHex(t, "3320c80000000c42e061a4b54507330dc8006fedb142365db3d89cfb32802b3a045b433d830054029301000000000000")

	runs, err := mft.ParseDataRuns(input)
	require.Nilf(t, err, "error parsing dataruns: %v", err)

	expected := []mft.DataRun{
		{OffsetCluster: 786432, LengthInClusters: 51232},
		{OffsetCluster: 122008996, LengthInClusters: 25056},
		{OffsetCluster: -5116561, LengthInClusters: 51213},
		{OffsetCluster: -73606989, LengthInClusters: 23862},
		{OffsetCluster: 5964858, LengthInClusters: 11136},
		{OffsetCluster: 26411604, LengthInClusters: 33597},
	}

	assert.Equal(t, expected, runs)
}

func TestDataRunsToFragments(t *testing.T) {
	runs := []mft.DataRun{
		{OffsetCluster: 5521, LengthInClusters: 1337},
		{OffsetCluster: -4408, LengthInClusters: 42},
		{OffsetCluster: 7708, LengthInClusters: 13},
	}

	fragments := mft.DataRunsToFragments(runs, 512)
	expected := []fragment.Fragment{
		{Offset: 2826752, Length: 684544},
		{Offset: 569856, Length: 21504},
		{Offset: 4516352, Length: 6656},
	}

	assert.Equal(t, expected, fragments)
}

func TestParseAttributeNamedResidentAttribute(t *testing.T) {
	input := decodeHex(t, "8000000070000000000518000000050044000000280000002400530052004100540000000000000033ceb8f33800010310000c00040000000100000001000000000000000200000000000000000000000300000001000000000000000000000000000000f4c400000000000000000000")

	attribute, err := mft.ParseAttribute(input)
	require.Nilf(t, err, "error parsing attribute: %v", err)

	expected := mft.Attribute{Type: 0x80, Resident: true, Name: "$SRAT", Flags: 0, AttributeId: 5, Data: []byte{0x33, 0xce, 0xb8, 0xf3, 0x38, 0x0, 0x1, 0x3, 0x10, 0x0, 0xc, 0x0, 0x4, 0x0, 0x0, 0x0, 0x1, 0x0, 0x0, 0x0, 0x1, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x2, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x3, 0x0, 0x0, 0x0, 0x1, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0, 0xf4, 0xc4, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0}}
	assert.Equal(t, expected, attribute)
}

func TestParseAttributeNamedNonResidentAttribute(t *testing.T) {
	input := decodeHex(t, "a000000050000000010440000000080000000000000000000200000000000000480000000000000000300000000000000030000000000000003000000000000024004900330030002103081200000000")

	attribute, err := mft.ParseAttribute(input)
	require.Nilf(t, err, "error parsing attribute: %v", err)

	expected := mft.Attribute{Type: 0xA0, Resident: false, Name: "$I30", Flags: 0, AttributeId: 8, AllocatedSize: 12288, ActualSize: 12288, Data: []byte{0x21, 0x3, 0x8, 0x12, 0x0, 0x0, 0x0, 0x0}}
	assert.Equal(t, expected, attribute)
}

func TestParseRecordFixup(t *testing.T) {
	input := decodeHex(t, "46494c4530000300755762ef19000000150002003800010098020000000400000000000000000000060000002a0000000c000000000000001000000060000000000000000000000048000000180000007e31192b21d6d50186468bb40eded4012e7d4e954dcbd5016c7f192b21d6d5012000040000000000000000000000000000000000161300000000000000000000a068d14a05000000300000007800000000000000000003005a000000180001003b000000000009007e31192b21d6d5017e31192b21d6d5017e31192b21d6d5017e31192b21d6d5010020040000000000000000000000000020000000000000000c0249004e0054004c00500052007e0031002e0044004c004c000000000000003000000080000000000000000000020062000000180001003b000000000009007e31192b21d6d5017e31192b21d6d5017e31192b21d6d5017e31192b21d6d501002004000000000000000000000000002000000000000000100149006e0074006c00500072006f00760069006400650072002e0064006c006c00000000000000800000004800000001000000000001000000000000000000410000000000000040000000000000000020040000000000381704000000000038170400000000004142f46ea0000000d00000002000000000000000000004000800000018000000780000007c000000e000000098000c0000000000000005007c000000180000007c000000000f64002443492e434154414c4f4748494e5400010060004d6963726f736f66742d57696e646f77732d436c69656e742d4465736b746f702d52657175697265642d5061636b616765303431367e333162663338353661643336346533357e616d6436347e7e31302e302e31383336322e3539322e63617400000000ffffffff82794711000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000c00")

	record, err := mft.ParseRecord(input)
	require.Nilf(t, err, "error parsing record: %v", err)

	// Without fixup applied, this record's attribute list does not parse at all; successfully reaching
	// here with at least one $FILE_NAME attribute confirms the fixup sector trailers were restored
	// correctly before the attributes were parsed.
	names := record.FileNameInformations()
	assert.NotEmpty(t, names)
}

func TestParseFileReference(t *testing.T) {
	ref, err := mft.ParseFileReference([]byte{26, 179, 6, 0, 0, 0, 45, 0})
	require.Nilf(t, err, "error parsing reference: %v", err)
	expected := mft.FileReference{RecordNumber: 439066, SequenceNumber: 45}
	assert.Equal(t, expected, ref)
}

func decodeHex(t *testing.T, s string) []byte {
	input, err := hex.DecodeString(s)
	require.Nilf(t, err, "unable to convert input hex to []byte: %v", err)
	return input
}

func TestRecordFlag(t *testing.T) {
	f := mft.RecordFlag(0)
	assert.False(t, f.Is(mft.RecordFlagInUse))
	assert.False(t, f.Is(mft.RecordFlagIsDirectory))
	assert.False(t, f.Is(mft.RecordFlagInExtend))
	assert.False(t, f.Is(mft.RecordFlagIsIndex))

	f = mft.RecordFlag(1)
	assert.True(t, f.Is(mft.RecordFlagInUse))
	assert.False(t, f.Is(mft.RecordFlagIsDirectory))
	assert.False(t, f.Is(mft.RecordFlagInExtend))
	assert.False(t, f.Is(mft.RecordFlagIsIndex))

	f = mft.RecordFlag(3)
	assert.True(t, f.Is(mft.RecordFlagInUse))
	assert.True(t, f.Is(mft.RecordFlagIsDirectory))
	assert.False(t, f.Is(mft.RecordFlagInExtend))
	assert.False(t, f.Is(mft.RecordFlagIsIndex))

	f = mft.RecordFlag(15)
	assert.True(t, f.Is(mft.RecordFlagInUse))
	assert.True(t, f.Is(mft.RecordFlagIsDirectory))
	assert.True(t, f.Is(mft.RecordFlagInExtend))
	assert.True(t, f.Is(mft.RecordFlagIsIndex))
}

// buildResidentAttribute constructs the raw bytes of a single resident attribute record: header, optional
// name, then data, exactly as ParseAttribute expects to read them back.
func buildResidentAttribute(attrType uint32, name string, attributeId uint16, data []byte) []byte {
	nameUTF16 := make([]byte, 0, len(name)*2)
	for _, r := range name {
		nameUTF16 = append(nameUTF16, byte(r), 0x00)
	}
	const headerLen = 0x18
	nameOffset := headerLen
	dataOffset := nameOffset + len(nameUTF16)
	recordLen := dataOffset + len(data)

	buf := make([]byte, recordLen)
	binary.LittleEndian.PutUint32(buf[0x00:], attrType)
	binary.LittleEndian.PutUint32(buf[0x04:], uint32(recordLen))
	buf[0x08] = 0 // resident
	buf[0x09] = byte(len(name))
	binary.LittleEndian.PutUint16(buf[0x0A:], uint16(nameOffset))
	binary.LittleEndian.PutUint16(buf[0x0E:], attributeId)
	binary.LittleEndian.PutUint32(buf[0x10:], uint32(len(data)))
	binary.LittleEndian.PutUint16(buf[0x14:], uint16(dataOffset))
	copy(buf[nameOffset:], nameUTF16)
	copy(buf[dataOffset:], data)
	return buf
}

func buildFileNameData(parentRecordNumber uint64, parentSeq uint16, namespace mft.FileNameNamespace, name string) []byte {
	nameUTF16 := make([]byte, 0, len(name)*2)
	for _, r := range name {
		nameUTF16 = append(nameUTF16, byte(r), 0x00)
	}
	buf := make([]byte, 66+len(nameUTF16))
	parentRef := parentRecordNumber | (uint64(parentSeq) << 48)
	binary.LittleEndian.PutUint64(buf[0x00:], parentRef)
	buf[0x40] = byte(len(name))
	buf[0x41] = byte(namespace)
	copy(buf[0x42:], nameUTF16)
	return buf
}

func buildTestRecord(recordNumber uint32, flags uint16, attributeRecords [][]byte) []byte {
	const firstAttrOffset = 0x38
	attrsLen := 0
	for _, a := range attributeRecords {
		attrsLen += len(a)
	}
	totalLen := firstAttrOffset + attrsLen + 8 // trailing terminator + padding
	if totalLen%8 != 0 {
		totalLen += 8 - totalLen%8
	}

	buf := make([]byte, totalLen)
	copy(buf[0:4], []byte{'F', 'I', 'L', 'E'})
	binary.LittleEndian.PutUint16(buf[0x10:], 1)                                // sequence number
	binary.LittleEndian.PutUint16(buf[0x12:], 1)                                // hard link count
	binary.LittleEndian.PutUint16(buf[0x14:], firstAttrOffset)                  // first attribute offset
	binary.LittleEndian.PutUint16(buf[0x16:], flags)                            // record flags
	binary.LittleEndian.PutUint32(buf[0x18:], uint32(firstAttrOffset+attrsLen)) // actual size
	binary.LittleEndian.PutUint32(buf[0x1C:], uint32(totalLen))                 // allocated size
	binary.LittleEndian.PutUint16(buf[0x28:], uint16(len(attributeRecords)))
	binary.LittleEndian.PutUint32(buf[0x2C:], recordNumber)

	offset := firstAttrOffset
	for _, a := range attributeRecords {
		copy(buf[offset:], a)
		offset += len(a)
	}
	binary.LittleEndian.PutUint32(buf[offset:], uint32(mft.AttributeTypeTerminator))
	return buf
}

func TestRecordPickerMethods(t *testing.T) {
	stdInfo := make([]byte, 48) // all-zero $STANDARD_INFORMATION, enough for the mandatory fields only
	win32Name := buildFileNameData(5, 3, mft.FileNameNamespaceWin32, "report.docx")
	dosName := buildFileNameData(5, 3, mft.FileNameNamespaceDos, "REPORT~1.DOC")
	unnamedData := []byte("hello, world")
	namedData := []byte{0x01, 0x02, 0x03}

	record := buildTestRecord(42, 0x0001, [][]byte{
		buildResidentAttribute(uint32(mft.AttributeTypeStandardInformation), "", 0, stdInfo),
		buildResidentAttribute(uint32(mft.AttributeTypeFileName), "", 1, win32Name),
		buildResidentAttribute(uint32(mft.AttributeTypeFileName), "", 2, dosName),
		buildResidentAttribute(uint32(mft.AttributeTypeData), "Zone.Identifier", 3, namedData),
		buildResidentAttribute(uint32(mft.AttributeTypeData), "", 4, unnamedData),
	})

	parsed, err := mft.ParseRecord(record)
	require.Nilf(t, err, "error parsing record: %v", err)

	assert.True(t, parsed.IsActive())
	assert.False(t, parsed.IsDirectory())
	assert.Equal(t, uint64(42), parsed.FileReference.RecordNumber)

	si, err := parsed.StandardInformation()
	require.NoError(t, err)
	_, err = si.OwnerId()
	assert.ErrorIs(t, err, mft.ErrFieldMissing)

	names := parsed.FileNameInformations()
	require.Len(t, names, 2)

	picked, err := parsed.FileNameInformation()
	require.NoError(t, err)
	assert.Equal(t, "report.docx", picked.Name)
	assert.Equal(t, mft.FileNameNamespaceWin32, picked.Namespace)

	dataAttr, err := parsed.DataAttribute()
	require.NoError(t, err)
	assert.Equal(t, unnamedData, dataAttr.Data)

	zoneAttr, err := parsed.Attribute(mft.AttributeTypeData)
	require.NoError(t, err)
	assert.Equal(t, "Zone.Identifier", zoneAttr.Name)
}

func TestRecordActiveDataAndSlackData(t *testing.T) {
	record := buildTestRecord(7, 0x0001, [][]byte{
		buildResidentAttribute(uint32(mft.AttributeTypeStandardInformation), "", 0, make([]byte, 48)),
	})
	parsed, err := mft.ParseRecord(record)
	require.Nilf(t, err, "error parsing record: %v", err)

	assert.Equal(t, int(parsed.ActualSize), len(parsed.ActiveData()))
	assert.NotEmpty(t, parsed.SlackData())
}

func TestRecordAttributeNotFound(t *testing.T) {
	record := buildTestRecord(8, 0x0001, [][]byte{
		buildResidentAttribute(uint32(mft.AttributeTypeStandardInformation), "", 0, make([]byte, 48)),
	})
	parsed, err := mft.ParseRecord(record)
	require.Nilf(t, err, "error parsing record: %v", err)

	_, err = parsed.FileNameInformation()
	assert.ErrorIs(t, err, mft.ErrAttributeNotFound)

	_, err = parsed.DataAttribute()
	assert.ErrorIs(t, err, mft.ErrAttributeNotFound)
}
