package ntdef

// AccessMask is an NT ACCESS_MASK. Only the directory-object specific rights
// are defined here; security descriptors and generic-right mapping are out of
// scope for this module.
type AccessMask uint32

//nolint:stylecheck // ALL_CAPS mirrors the Windows SDK names.
const (
	DIRECTORY_QUERY               AccessMask = 0x0001
	DIRECTORY_TRAVERSE            AccessMask = 0x0002
	DIRECTORY_CREATE_OBJECT       AccessMask = 0x0004
	DIRECTORY_CREATE_SUBDIRECTORY AccessMask = 0x0008

	STANDARD_RIGHTS_REQUIRED AccessMask = 0x000F0000

	DIRECTORY_ALL_ACCESS = STANDARD_RIGHTS_REQUIRED |
		DIRECTORY_QUERY |
		DIRECTORY_TRAVERSE |
		DIRECTORY_CREATE_OBJECT |
		DIRECTORY_CREATE_SUBDIRECTORY
)

// Contains reports whether every right in want is present in the mask.
func (m AccessMask) Contains(want AccessMask) bool {
	return m&want == want
}

// Mode is the caller's processor mode. Access checks are skipped for
// KernelMode callers the way the NT object manager skips them when
// PreviousMode is KernelMode.
type Mode uint8

const (
	KernelMode Mode = iota
	UserMode
)

func (m Mode) String() string {
	if m == KernelMode {
		return "kernel"
	}
	return "user"
}

// Handle is an index into a handle table. The zero value is never a valid
// handle; live values are multiples of 4 like NT handle values.
type Handle uintptr

// ObjectAttributes names a target object for open and create operations,
// optionally relative to an already-open directory handle.
type ObjectAttributes struct {
	// ObjectName is a `\`-separated path. With a zero RootDirectory it must
	// be absolute (leading backslash); otherwise it is interpreted relative
	// to that directory.
	ObjectName string
	// RootDirectory optionally anchors ObjectName at an open directory.
	RootDirectory Handle
	// Attributes is a combination of the OBJ_* flags below.
	Attributes uint32
}

//nolint:stylecheck // ALL_CAPS mirrors the Windows SDK names.
const (
	OBJ_PERMANENT        uint32 = 0x00000010
	OBJ_CASE_INSENSITIVE uint32 = 0x00000040
	OBJ_OPENIF           uint32 = 0x00000080
)

// PathSeparator separates object namespace components.
const PathSeparator = '\\'
