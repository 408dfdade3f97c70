package objdir

import (
	"encoding/binary"

	"github.com/Microsoft/go-objns/internal/ntdef"
)

// stagingRecord is the kernel-private intermediate form of one produced
// entry: the cached UTF-16 strings destined for the destination buffer's
// string region. Records are collected under the directory lock; the bytes
// they reference are immutable once cached, so serialization can happen
// after the lock is released.
type stagingRecord struct {
	name16 []uint16 // nil for anonymous entries
	type16 []uint16
}

// pack serializes recs into staging in the destination buffer's final
// shape: an array of descriptor records terminated by an all-zero record,
// immediately followed by the string region holding each record's name
// (when present) then its type name, null-terminated, in descriptor order.
//
// Descriptor string references are byte offsets from the start of the
// destination buffer. The staging buffer mirrors the destination layout
// exactly, so the records are already valid for the destination before the
// single bulk copy transfers them. Absent names encode as zero length with
// a zero reference.
//
// pack returns the number of bytes to transfer. The caller guarantees
// staging holds at least the accumulated encoded size of recs.
func pack(staging []byte, recs []stagingRecord) int {
	off := (len(recs) + 1) * ntdef.DescriptorSize
	for i, rec := range recs {
		var d ntdef.DescriptorImage
		if rec.name16 != nil {
			d.Name.Length = uint16(len(rec.name16) * ntdef.WCharSize)
			d.Name.MaximumLength = d.Name.Length + ntdef.WCharSize
			d.Name.Offset = uint64(off)
			off = putUTF16(staging, off, rec.name16)
		}
		d.TypeName.Length = uint16(len(rec.type16) * ntdef.WCharSize)
		d.TypeName.MaximumLength = d.TypeName.Length + ntdef.WCharSize
		d.TypeName.Offset = uint64(off)
		off = putUTF16(staging, off, rec.type16)

		ntdef.WriteDescriptor(staging, i, d)
	}
	// the zero value of DescriptorImage is the array terminator
	ntdef.WriteDescriptor(staging, len(recs), ntdef.DescriptorImage{})
	return off
}

// putUTF16 writes units at off followed by a null terminator and returns
// the offset past the terminator.
func putUTF16(buf []byte, off int, units []uint16) int {
	for _, u := range units {
		binary.LittleEndian.PutUint16(buf[off:], u)
		off += ntdef.WCharSize
	}
	binary.LittleEndian.PutUint16(buf[off:], 0)
	return off + ntdef.WCharSize
}
