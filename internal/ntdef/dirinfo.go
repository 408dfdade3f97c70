package ntdef

import (
	"encoding/binary"
	"unicode/utf16"

	"github.com/pkg/errors"
)

// A query fills the caller's buffer with an array of fixed-size descriptor
// records (OBJECT_DIRECTORY_INFORMATION), terminated by an all-zero record,
// followed by a string region holding each entry's name (when present) and
// type name as null-terminated UTF-16LE, in descriptor order.
//
// Each descriptor is two 16-byte UNICODE_STRING images laid out for a 64-bit
// kernel. Where NT stores an absolute pointer in the Buffer field, this
// implementation stores the byte offset of the string from the start of the
// destination buffer, so the record array can be parsed without relocation.
const (
	// WCharSize is the storage width of one UTF-16 code unit.
	WCharSize = 2

	// DescriptorSize is the size of one OBJECT_DIRECTORY_INFORMATION record.
	DescriptorSize = 32

	descNameLength   = 0
	descNameMaximum  = 2
	descNameBuffer   = 8
	descTypeLength   = 16
	descTypeMaximum  = 18
	descTypeBuffer   = 24
	unicodeImageSize = 16
)

// UnicodeStringImage is the serialized form of one UNICODE_STRING inside a
// descriptor record. Length and MaximumLength are byte counts; Offset is the
// destination-relative position of the string storage, zero when absent.
type UnicodeStringImage struct {
	Length        uint16
	MaximumLength uint16
	Offset        uint64
}

// DescriptorImage is the parsed form of one descriptor record.
type DescriptorImage struct {
	Name     UnicodeStringImage
	TypeName UnicodeStringImage
}

// IsZero reports whether d is the all-zero array terminator.
func (d DescriptorImage) IsZero() bool {
	return d.Name == (UnicodeStringImage{}) && d.TypeName == (UnicodeStringImage{})
}

// WriteDescriptor serializes d as record `index` of the descriptor array at
// the start of buf. It performs no allocation and is safe to call with a
// directory lock held.
func WriteDescriptor(buf []byte, index int, d DescriptorImage) {
	base := index * DescriptorSize
	binary.LittleEndian.PutUint16(buf[base+descNameLength:], d.Name.Length)
	binary.LittleEndian.PutUint16(buf[base+descNameMaximum:], d.Name.MaximumLength)
	binary.LittleEndian.PutUint64(buf[base+descNameBuffer:], d.Name.Offset)
	binary.LittleEndian.PutUint16(buf[base+descTypeLength:], d.TypeName.Length)
	binary.LittleEndian.PutUint16(buf[base+descTypeMaximum:], d.TypeName.MaximumLength)
	binary.LittleEndian.PutUint64(buf[base+descTypeBuffer:], d.TypeName.Offset)
}

// ReadDescriptor parses record `index` of the descriptor array at the start
// of buf.
func ReadDescriptor(buf []byte, index int) (DescriptorImage, error) {
	base := index * DescriptorSize
	if base < 0 || base+DescriptorSize > len(buf) {
		return DescriptorImage{}, errors.Errorf("descriptor %d extends past %d-byte buffer", index, len(buf))
	}
	return DescriptorImage{
		Name: UnicodeStringImage{
			Length:        binary.LittleEndian.Uint16(buf[base+descNameLength:]),
			MaximumLength: binary.LittleEndian.Uint16(buf[base+descNameMaximum:]),
			Offset:        binary.LittleEndian.Uint64(buf[base+descNameBuffer:]),
		},
		TypeName: UnicodeStringImage{
			Length:        binary.LittleEndian.Uint16(buf[base+descTypeLength:]),
			MaximumLength: binary.LittleEndian.Uint16(buf[base+descTypeMaximum:]),
			Offset:        binary.LittleEndian.Uint64(buf[base+descTypeBuffer:]),
		},
	}, nil
}

// DecodeUTF16String extracts and validates the string referenced by us from a
// filled destination buffer: the storage must lie within buf, be immediately
// followed by a UTF-16 null terminator, and have an even length.
func DecodeUTF16String(buf []byte, us UnicodeStringImage) (string, error) {
	if us.Length == 0 && us.Offset == 0 {
		return "", nil
	}
	if us.Length%WCharSize != 0 {
		return "", errors.Errorf("string length %d is not a whole number of UTF-16 units", us.Length)
	}
	need := uint64(us.Length) + WCharSize // include the terminator
	// budget by subtraction so a hostile offset near the top of the uint64
	// range cannot wrap the bounds check
	if us.Offset < DescriptorSize || us.Offset > uint64(len(buf)) || uint64(len(buf))-us.Offset < need {
		return "", errors.Errorf("string storage [%d,+%d) outside %d-byte buffer", us.Offset, need, len(buf))
	}
	if binary.LittleEndian.Uint16(buf[us.Offset+uint64(us.Length):]) != 0 {
		return "", errors.Errorf("string at offset %d is not null-terminated", us.Offset)
	}
	units := make([]uint16, us.Length/WCharSize)
	for i := range units {
		units[i] = binary.LittleEndian.Uint16(buf[us.Offset+uint64(i*WCharSize):])
	}
	return string(utf16.Decode(units)), nil
}

// DirectoryInformation is one decoded directory entry.
type DirectoryInformation struct {
	// Name of the entry; empty for anonymous objects.
	Name string
	// TypeName of the referenced object, never empty.
	TypeName string
}

// DecodeDirectoryInformation parses a destination buffer filled by a
// directory query into its entries, stopping at the all-zero terminator
// record. Unlike the scan loop this package's callers used against the real
// NtQueryDirectoryObject, an entry with a zero-length name but a non-empty
// type is treated as an anonymous entry rather than as the terminator.
func DecodeDirectoryInformation(buf []byte) ([]DirectoryInformation, error) {
	var infos []DirectoryInformation
	for i := 0; ; i++ {
		d, err := ReadDescriptor(buf, i)
		if err != nil {
			return nil, errors.Wrap(err, "descriptor array is not terminated")
		}
		if d.IsZero() {
			return infos, nil
		}
		name, err := DecodeUTF16String(buf, d.Name)
		if err != nil {
			return nil, errors.Wrapf(err, "entry %d name", i)
		}
		typeName, err := DecodeUTF16String(buf, d.TypeName)
		if err != nil {
			return nil, errors.Wrapf(err, "entry %d type name", i)
		}
		if typeName == "" {
			return nil, errors.Errorf("entry %d has no type name", i)
		}
		infos = append(infos, DirectoryInformation{Name: name, TypeName: typeName})
	}
}

// EncodedSize returns the number of bytes entry strings of the given UTF-16
// unit counts occupy in a destination buffer, including the descriptor record
// and the null terminators. Anonymous entries (hasName false) contribute no
// name storage.
func EncodedSize(nameUnits int, hasName bool, typeUnits int) int {
	n := DescriptorSize + (typeUnits+1)*WCharSize
	if hasName {
		n += (nameUnits + 1) * WCharSize
	}
	return n
}
