// Package ntdef holds the NT ABI definitions shared by the object
// namespace: status codes, access masks, object attributes and the binary
// layout of OBJECT_DIRECTORY_INFORMATION buffers produced by directory
// queries.
//
// Constant names follow the Windows SDK spelling so they can be grepped
// against ntstatus.h and winternl.h.
package ntdef
