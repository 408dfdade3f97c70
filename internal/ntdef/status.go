package ntdef

import "fmt"

// Status is an NTSTATUS value. The two high bits carry the severity; values
// below match ntstatus.h so buffers and statuses can be compared against
// real NtQueryDirectoryObject traffic.
type Status uint32

//nolint:stylecheck // ALL_CAPS mirrors the Windows SDK names.
const (
	STATUS_SUCCESS      Status = 0x00000000
	STATUS_MORE_ENTRIES Status = 0x00000105

	STATUS_OBJECT_NAME_EXISTS Status = 0x40000000

	STATUS_DATATYPE_MISALIGNMENT Status = 0x80000002
	STATUS_NO_MORE_ENTRIES       Status = 0x8000001A

	STATUS_ACCESS_VIOLATION       Status = 0xC0000005
	STATUS_INVALID_HANDLE         Status = 0xC0000008
	STATUS_INVALID_PARAMETER      Status = 0xC000000D
	STATUS_ACCESS_DENIED          Status = 0xC0000022
	STATUS_BUFFER_TOO_SMALL       Status = 0xC0000023
	STATUS_OBJECT_TYPE_MISMATCH   Status = 0xC0000024
	STATUS_OBJECT_NAME_INVALID    Status = 0xC0000033
	STATUS_OBJECT_NAME_NOT_FOUND  Status = 0xC0000034
	STATUS_OBJECT_NAME_COLLISION  Status = 0xC0000035
	STATUS_OBJECT_PATH_NOT_FOUND  Status = 0xC000003A
	STATUS_OBJECT_PATH_SYNTAX_BAD Status = 0xC000003D
	STATUS_INSUFFICIENT_RESOURCES Status = 0xC000009A
)

// Severity classes, from the top two bits of a Status.
type Severity uint32

const (
	SeveritySuccess       Severity = 0
	SeverityInformational Severity = 1
	SeverityWarning       Severity = 2
	SeverityError         Severity = 3
)

func (s Status) Severity() Severity {
	return Severity(s >> 30)
}

// IsSuccess reports NT_SUCCESS(s): success and informational statuses pass,
// warnings and errors do not. Note that STATUS_MORE_ENTRIES is a success
// status while STATUS_NO_MORE_ENTRIES is a warning.
func (s Status) IsSuccess() bool {
	return s>>31 == 0
}

var statusNames = map[Status]string{
	STATUS_SUCCESS:                "STATUS_SUCCESS",
	STATUS_MORE_ENTRIES:           "STATUS_MORE_ENTRIES",
	STATUS_OBJECT_NAME_EXISTS:     "STATUS_OBJECT_NAME_EXISTS",
	STATUS_DATATYPE_MISALIGNMENT:  "STATUS_DATATYPE_MISALIGNMENT",
	STATUS_NO_MORE_ENTRIES:        "STATUS_NO_MORE_ENTRIES",
	STATUS_ACCESS_VIOLATION:       "STATUS_ACCESS_VIOLATION",
	STATUS_INVALID_HANDLE:         "STATUS_INVALID_HANDLE",
	STATUS_INVALID_PARAMETER:      "STATUS_INVALID_PARAMETER",
	STATUS_ACCESS_DENIED:          "STATUS_ACCESS_DENIED",
	STATUS_BUFFER_TOO_SMALL:       "STATUS_BUFFER_TOO_SMALL",
	STATUS_OBJECT_TYPE_MISMATCH:   "STATUS_OBJECT_TYPE_MISMATCH",
	STATUS_OBJECT_NAME_INVALID:    "STATUS_OBJECT_NAME_INVALID",
	STATUS_OBJECT_NAME_NOT_FOUND:  "STATUS_OBJECT_NAME_NOT_FOUND",
	STATUS_OBJECT_NAME_COLLISION:  "STATUS_OBJECT_NAME_COLLISION",
	STATUS_OBJECT_PATH_NOT_FOUND:  "STATUS_OBJECT_PATH_NOT_FOUND",
	STATUS_OBJECT_PATH_SYNTAX_BAD: "STATUS_OBJECT_PATH_SYNTAX_BAD",
	STATUS_INSUFFICIENT_RESOURCES: "STATUS_INSUFFICIENT_RESOURCES",
}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return fmt.Sprintf("STATUS_%08X", uint32(s))
}
