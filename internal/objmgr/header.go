package objmgr

import (
	"sync"
	"sync/atomic"

	"github.com/Microsoft/go-objns/internal/objdir"
)

// Header carries the object-manager bookkeeping for one namespace object:
// its type and type-specific body, its reference count, and its name and
// parent linkage while inserted in a directory.
//
// A Header implements the entry view directory enumeration consumes, so
// directories hold headers directly.
type Header struct {
	refs atomic.Int64

	typ  *ObjectType
	body any

	mu        sync.Mutex
	name      string
	parent    *objdir.Directory
	permanent bool
}

func newHeader(typ *ObjectType) *Header {
	h := &Header{typ: typ, body: typ.New()}
	h.refs.Store(1)
	return h
}

func (h *Header) ObjectName() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.name
}

func (h *Header) TypeName() string {
	return h.typ.Name
}

// Directory returns the directory body when the object is a directory.
func (h *Header) Directory() (*objdir.Directory, bool) {
	d, ok := h.body.(*objdir.Directory)
	return d, ok
}

func (h *Header) reference() {
	if h.refs.Add(1) == 1 {
		panic("objmgr: reference to a destroyed object")
	}
}

func (h *Header) dereference() {
	if h.refs.Add(-1) < 0 {
		panic("objmgr: dereference of a destroyed object")
	}
}

// destroyed reports whether the last reference has been dropped. A
// destroyed header must never be referenced or linked again.
func (h *Header) destroyed() bool {
	return h.refs.Load() <= 0
}

// link records the name and parent an insert is about to establish.
func (h *Header) link(name string, parent *objdir.Directory, permanent bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.name = name
	h.parent = parent
	h.permanent = permanent
}

// unlink clears the linkage bookkeeping and reports the previous parent so
// the caller can remove the directory entry.
func (h *Header) unlink() (*objdir.Directory, string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	parent, name := h.parent, h.name
	h.parent = nil
	h.permanent = false
	return parent, name
}
