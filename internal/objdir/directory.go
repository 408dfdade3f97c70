package objdir

import (
	"strings"
	"sync"
	"unicode/utf16"

	"github.com/Microsoft/go-objns/internal/ntdef"
)

// DirectoryTypeName is the object-type name of directory objects.
const DirectoryTypeName = "Directory"

// Object is the view of a namespace object that directory enumeration
// needs: an optional name and a mandatory type name.
type Object interface {
	ObjectName() string
	TypeName() string
}

type dirEntry struct {
	name string
	obj  Object
	// UTF-16 encodings of the name and type name, cached at insert time so
	// a query traversal does no conversion and no allocation while the
	// directory lock is held. name16 is nil for anonymous entries.
	name16 []uint16
	type16 []uint16
}

// Directory is one namespace directory: an insertion-ordered list of child
// object references guarded by a short-hold exclusive lock. Mutations come
// from namespace operations; queries only read. The lock is never held
// across a staging-buffer allocation or a caller-memory access.
//
// Enumeration across separate query calls is not atomic: the entry list
// may change while the directory is unlocked between calls, so a paginated
// caller can skip or revisit entries relative to a single consistent
// snapshot. That is accepted; in-bounds writes and list integrity hold
// regardless.
type Directory struct {
	mu      sync.Mutex
	entries []dirEntry
}

func NewDirectory() *Directory {
	return &Directory{}
}

// Insert links obj into the directory under name, at the tail of the entry
// list. An empty name inserts an anonymous entry, which is enumerable but
// not addressable by lookup.
func (d *Directory) Insert(name string, obj Object, caseInsensitive bool) ntdef.Status {
	e := dirEntry{
		name:   name,
		obj:    obj,
		type16: utf16.Encode([]rune(obj.TypeName())),
	}
	if name != "" {
		e.name16 = utf16.Encode([]rune(name))
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if name != "" {
		if _, ok := d.lookupLocked(name, caseInsensitive); ok {
			return ntdef.STATUS_OBJECT_NAME_COLLISION
		}
	}
	d.entries = append(d.entries, e)
	return ntdef.STATUS_SUCCESS
}

// Lookup finds the named entry.
func (d *Directory) Lookup(name string, caseInsensitive bool) (Object, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i, ok := d.lookupLocked(name, caseInsensitive); ok {
		return d.entries[i].obj, true
	}
	return nil, false
}

// Remove unlinks the named entry, preserving the order of the remaining
// entries, and returns the removed object.
func (d *Directory) Remove(name string, caseInsensitive bool) (Object, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	i, ok := d.lookupLocked(name, caseInsensitive)
	if !ok {
		return nil, false
	}
	obj := d.entries[i].obj
	d.entries = append(d.entries[:i], d.entries[i+1:]...)
	return obj, true
}

// Len returns the number of entries.
func (d *Directory) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}

func (d *Directory) lookupLocked(name string, caseInsensitive bool) (int, bool) {
	for i := range d.entries {
		e := &d.entries[i]
		if e.name == "" {
			continue
		}
		if e.name == name || (caseInsensitive && strings.EqualFold(e.name, name)) {
			return i, true
		}
	}
	return 0, false
}

// scanResult carries the bookkeeping of one locked traversal.
type scanResult struct {
	status ntdef.Status
	// nextEntry counts the entries skipped or produced; it is the cursor
	// value the caller resumes from.
	nextEntry uint32
	// requiredSize accumulates the encoded size of the terminator record
	// plus every entry the traversal considered for inclusion, fitting or
	// not, so an undersized caller learns the true size it needs.
	requiredSize uint32
	records      []stagingRecord
}

// scan walks the entry list under the directory lock, collecting into recs
// the entries after the first skip ones whose encoded forms fit in
// bufferLength bytes together. recs must be pre-sized by the caller; scan
// performs no allocation, never blocks and has no access to caller memory.
func (d *Directory) scan(recs []stagingRecord, skip uint32, bufferLength uint32, returnSingleEntry bool) scanResult {
	res := scanResult{
		status: ntdef.STATUS_NO_MORE_ENTRIES,
		// the all-zero terminator record is always accounted for
		requiredSize: ntdef.DescriptorSize,
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	n := 0
	i := 0
	for ; i < len(d.entries); i++ {
		res.nextEntry++
		if skip > 0 {
			skip--
			continue
		}

		e := &d.entries[i]
		entrySize := uint32(ntdef.EncodedSize(len(e.name16), e.name16 != nil, len(e.type16)))
		if res.requiredSize+entrySize > bufferLength {
			if returnSingleEntry {
				// report the size this one entry would have needed
				res.requiredSize += entrySize
				res.status = ntdef.STATUS_BUFFER_TOO_SMALL
			}
			// leave the cursor on this entry so a retry with a larger
			// buffer lands on it again
			res.nextEntry--
			break
		}

		recs[n] = stagingRecord{name16: e.name16, type16: e.type16}
		n++
		res.requiredSize += entrySize
		res.status = ntdef.STATUS_SUCCESS
		if returnSingleEntry {
			break
		}
	}

	if !returnSingleEntry && i < len(d.entries) {
		// entries remain beyond the stopping point; only a multi-entry
		// query reports a partial result this way
		res.status = ntdef.STATUS_MORE_ENTRIES
	}
	res.records = recs[:n]
	return res
}
