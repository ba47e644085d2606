// Package fixup applies the NTFS Update Sequence Array (USA) repair ("fixup") that undoes the
// multi-sector-write protection NTFS stamps onto MFT records and INDX blocks. Every structure that carries
// a USA (MFT_RECORD headers and INDEX_ALLOCATION blocks alike) is fixed up the same way, so this logic
// lives in one place rather than being duplicated per consumer.
package fixup

import (
	"bytes"
	"fmt"
	"log"

	"github.com/go-forensics/mftwalk/binutil"
)

// sectorSize is the on-disk sector size NTFS structures that carry a USA are protected in units of.
const sectorSize = 512

// Apply returns a copy of buf with the Update Sequence Array repair undone: the real trailing two bytes of
// each 512-byte sector are restored from the USA, and the two-byte update sequence number that currently
// occupies those positions is discarded. usaOffset and usaCount are read directly from the structure's
// header (offset at 0x04 and count at 0x06, right after the four-byte signature, for an MFT record and an
// INDX block alike).
//
// A sector whose last two bytes do not match the expected update sequence number indicates a torn write or
// a corrupt structure; rather than failing the whole parse, that sector is left untouched and a warning is
// logged, matching how other partially-recoverable forensic structures in this package degrade.
func Apply(buf []byte, usaOffset, usaCount int) ([]byte, error) {
	out := binutil.Duplicate(buf)

	if usaCount == 0 {
		return out, nil
	}

	usaLength := usaCount * 2
	if usaOffset < 0 || usaOffset+usaLength > len(out) {
		return nil, fmt.Errorf("fixup: update sequence array at offset %d, length %d overruns buffer of length %d", usaOffset, usaLength, len(out))
	}

	usa := out[usaOffset : usaOffset+usaLength]
	updateSequenceNumber := usa[:2]
	replacements := usa[2:]

	sectorCount := len(replacements) / 2
	if sectorCount == 0 {
		return out, nil
	}

	for i := 0; i < sectorCount; i++ {
		sectorEnd := sectorSize*(i+1) - 2
		if sectorEnd+2 > len(out) {
			break
		}
		if !bytes.Equal(updateSequenceNumber, out[sectorEnd:sectorEnd+2]) {
			log.Printf("fixup: update sequence mismatch in sector %d at offset %d, leaving sector as-is", i, sectorEnd)
			continue
		}
		copy(out[sectorEnd:sectorEnd+2], replacements[i*2:i*2+2])
	}

	return out, nil
}
