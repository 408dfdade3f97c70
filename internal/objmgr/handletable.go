package objmgr

import (
	"sync"

	"github.com/Microsoft/go-objns/internal/ntdef"
)

type handleEntry struct {
	header *Header
	access ntdef.AccessMask
}

// HandleTable maps handles to objects together with the access each handle
// was granted at open time. Handle values are multiples of 4, NT fashion,
// and are not recycled.
type HandleTable struct {
	mu      sync.Mutex
	entries map[ntdef.Handle]handleEntry
	next    ntdef.Handle
}

func NewHandleTable() *HandleTable {
	return &HandleTable{
		entries: make(map[ntdef.Handle]handleEntry),
		next:    4,
	}
}

// Open allocates a handle referencing hdr with the given granted access.
func (t *HandleTable) Open(hdr *Header, access ntdef.AccessMask) ntdef.Handle {
	hdr.reference()
	t.mu.Lock()
	defer t.mu.Unlock()
	h := t.next
	t.next += 4
	t.entries[h] = handleEntry{header: hdr, access: access}
	return h
}

// Close releases the handle and the reference it holds.
func (t *HandleTable) Close(h ntdef.Handle) ntdef.Status {
	t.mu.Lock()
	e, ok := t.entries[h]
	delete(t.entries, h)
	t.mu.Unlock()
	if !ok {
		return ntdef.STATUS_INVALID_HANDLE
	}
	e.header.dereference()
	return ntdef.STATUS_SUCCESS
}

// Reference resolves h to its object, requiring the handle's granted
// access to cover desired and, when typeName is non-empty, the object to
// be of that type. Kernel-mode callers bypass the access check the way the
// kernel does when the previous mode is kernel. The reference taken must
// be released by the caller.
func (t *HandleTable) Reference(h ntdef.Handle, desired ntdef.AccessMask, typeName string, mode ntdef.Mode) (*Header, ntdef.Status) {
	t.mu.Lock()
	e, ok := t.entries[h]
	t.mu.Unlock()
	if !ok {
		return nil, ntdef.STATUS_INVALID_HANDLE
	}
	if typeName != "" && e.header.TypeName() != typeName {
		return nil, ntdef.STATUS_OBJECT_TYPE_MISMATCH
	}
	if mode != ntdef.KernelMode && !e.access.Contains(desired) {
		return nil, ntdef.STATUS_ACCESS_DENIED
	}
	e.header.reference()
	return e.header, ntdef.STATUS_SUCCESS
}

// Len returns the number of open handles.
func (t *HandleTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
