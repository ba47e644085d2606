package walk

import (
	"fmt"
	"strings"

	"github.com/go-forensics/mftwalk/cache"
	"github.com/go-forensics/mftwalk/mft"
)

const (
	// RootRecordNumber is the MFT record number of the volume root directory ("\.").
	RootRecordNumber = 5

	fileSeparator = `\`
	unknownEntry  = "??"
	orphanEntry   = "$ORPHAN"
	cycleEntry    = "<CYCLE>"
)

// PathResolver resolves a record's full path by walking its $FILE_NAME parent references up to the volume
// root, memoizing results keyed to the exact on-disk state of the record they were computed for.
type PathResolver struct {
	enum  *Enumerator
	paths *cache.Cache[string, string]
}

// NewPathResolver creates a PathResolver backed by enum. pathCacheSize bounds how many resolved paths are
// kept in memory at once; pass 0 or less for no limit.
func NewPathResolver(enum *Enumerator, pathCacheSize int) *PathResolver {
	return &PathResolver{enum: enum, paths: cache.New[string, string](pathCacheSize)}
}

// GetPath returns the full path of record, using "\" as the path separator and "\" itself for the volume
// root. A record whose parent chain cycles back on itself yields a path containing the literal segment
// "<CYCLE>"; a record whose parent cannot be found (or whose parent's sequence number no longer matches what
// this record expects, meaning the parent slot has been reused) is rooted under "$ORPHAN" instead of the
// real volume root.
func (p *PathResolver) GetPath(record mft.Record) (string, error) {
	path, err := p.resolve(record, newCycleDetector())
	if err != nil {
		return "", err
	}
	if path == "" {
		return fileSeparator, nil
	}
	return path, nil
}

// GetRecordByPath performs a case-insensitive linear search for path over every record the enumerator can
// reach, returning ErrNotFound if no record resolves to that exact path. Because it has to resolve every
// record's path to answer, it is O(n) in the size of the MFT; callers doing many lookups should instead walk
// a Tree built once via BuildTree.
func (p *PathResolver) GetRecordByPath(path string) (mft.Record, error) {
	it := p.enum.RecordIter()
	for it.Next() {
		record := it.Record()
		candidate, err := p.GetPath(record)
		if err != nil {
			return mft.Record{}, err
		}
		if strings.EqualFold(candidate, path) {
			return record, nil
		}
	}
	if err := it.Err(); err != nil {
		return mft.Record{}, err
	}
	return mft.Record{}, fmt.Errorf("%s: %w", path, ErrNotFound)
}

func (p *PathResolver) resolve(record mft.Record, cd *cycleDetector) (string, error) {
	recordNumber := int(record.FileReference.RecordNumber)
	cacheKey := fmt.Sprintf("%d-%d-%d-%d-%d", recordMagic, record.LogFileSequenceNumber, record.HardLinkCount, recordNumber, record.Flags)
	if cached, ok := p.paths.Get(cacheKey); ok {
		return cached, nil
	}

	if recordNumber == RootRecordNumber {
		p.paths.Insert(cacheKey, "")
		return "", nil
	}

	if cd.contains(recordNumber) {
		return cycleEntry, nil
	}
	cd.add(recordNumber)

	fileName, err := record.FileNameInformation()
	if err != nil {
		p.paths.Insert(cacheKey, unknownEntry)
		return unknownEntry, nil
	}

	parentNumber := int(fileName.ParentFileReference.RecordNumber)
	parentSequence := fileName.ParentFileReference.SequenceNumber

	parent, err := p.enum.Record(parentNumber)
	if err != nil {
		result := orphanEntry + fileSeparator + fileName.Name
		p.paths.Insert(cacheKey, result)
		return result, nil
	}
	if parent.FileReference.SequenceNumber != parentSequence {
		result := orphanEntry + fileSeparator + fileName.Name
		p.paths.Insert(cacheKey, result)
		return result, nil
	}

	parentPath, err := p.resolve(parent, cd)
	if err != nil {
		return "", err
	}

	result := parentPath + fileSeparator + fileName.Name
	p.paths.Insert(cacheKey, result)
	return result, nil
}

// cycleDetector tracks the record numbers visited during a single GetPath call, so a parent chain that loops
// back on itself (corrupt metadata, or deliberately crafted to confuse recovery tools) is caught rather than
// recursing forever.
type cycleDetector struct {
	seen map[int]bool
}

func newCycleDetector() *cycleDetector {
	return &cycleDetector{seen: make(map[int]bool)}
}

func (c *cycleDetector) contains(recordNumber int) bool {
	return c.seen[recordNumber]
}

func (c *cycleDetector) add(recordNumber int) {
	c.seen[recordNumber] = true
}
