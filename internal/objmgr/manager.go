package objmgr

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/Microsoft/go-objns/internal/log"
	"github.com/Microsoft/go-objns/internal/logfields"
	"github.com/Microsoft/go-objns/internal/ntdef"
	"github.com/Microsoft/go-objns/internal/objdir"
)

// Manager is the object-manager harness around the directory service: the
// namespace root directory, the builtin type registry and the handle
// table. It implements the collaborator surface the directory service
// consumes.
type Manager struct {
	root            *Header
	handles         *HandleTable
	caseInsensitive bool
}

var _ objdir.Manager = (*Manager)(nil)

// Options configures a Manager.
type Options struct {
	// CaseInsensitive applies OBJ_CASE_INSENSITIVE semantics to every
	// lookup, not only to opens that pass the flag.
	CaseInsensitive bool
}

func NewManager(opts *Options) (*Manager, error) {
	types, err := builtinTypes()
	if err != nil {
		return nil, err
	}
	root := newHeader(types[objdir.DirectoryTypeName])
	root.permanent = true
	m := &Manager{
		root:    root,
		handles: NewHandleTable(),
	}
	if opts != nil {
		m.caseInsensitive = opts.CaseInsensitive
	}
	return m, nil
}

func (m *Manager) isCaseInsensitive(attrs ntdef.ObjectAttributes) bool {
	return m.caseInsensitive || attrs.Attributes&ntdef.OBJ_CASE_INSENSITIVE != 0
}

// resolveParent walks attrs down to the directory that should hold the
// final path component and returns that directory and the component. An
// empty leaf means attrs named the namespace root itself.
func (m *Manager) resolveParent(attrs ntdef.ObjectAttributes, mode ntdef.Mode) (*objdir.Directory, string, ntdef.Status) {
	name := attrs.ObjectName
	ci := m.isCaseInsensitive(attrs)

	var dir *objdir.Directory
	if attrs.RootDirectory != 0 {
		hdr, status := m.handles.Reference(attrs.RootDirectory, ntdef.DIRECTORY_TRAVERSE, objdir.DirectoryTypeName, mode)
		if !status.IsSuccess() {
			return nil, "", status
		}
		dir, _ = hdr.Directory()
		hdr.dereference()
		if len(name) > 0 && name[0] == ntdef.PathSeparator {
			// a relative open must not pass an absolute path
			return nil, "", ntdef.STATUS_OBJECT_PATH_SYNTAX_BAD
		}
	} else {
		if len(name) == 0 || name[0] != ntdef.PathSeparator {
			return nil, "", ntdef.STATUS_OBJECT_PATH_SYNTAX_BAD
		}
		dir, _ = m.root.Directory()
		name = name[1:]
	}

	if name == "" {
		return dir, "", ntdef.STATUS_SUCCESS
	}
	components := strings.Split(name, string(ntdef.PathSeparator))
	for _, c := range components {
		if c == "" {
			return nil, "", ntdef.STATUS_OBJECT_NAME_INVALID
		}
	}
	for _, c := range components[:len(components)-1] {
		obj, ok := dir.Lookup(c, ci)
		if !ok {
			return nil, "", ntdef.STATUS_OBJECT_PATH_NOT_FOUND
		}
		sub, ok := obj.(*Header).Directory()
		if !ok {
			return nil, "", ntdef.STATUS_OBJECT_PATH_NOT_FOUND
		}
		dir = sub
	}
	return dir, components[len(components)-1], ntdef.STATUS_SUCCESS
}

// OpenObjectByName opens an existing object of the given type by path and
// returns a handle granting access to it. The namespace is not mutated.
func (m *Manager) OpenObjectByName(ctx context.Context, mode ntdef.Mode, attrs ntdef.ObjectAttributes, typeName string, access ntdef.AccessMask) (ntdef.Handle, ntdef.Status) {
	if attrs.RootDirectory == 0 && attrs.ObjectName == string(ntdef.PathSeparator) {
		if typeName != "" && typeName != objdir.DirectoryTypeName {
			return 0, ntdef.STATUS_OBJECT_TYPE_MISMATCH
		}
		return m.handles.Open(m.root, access), ntdef.STATUS_SUCCESS
	}

	parent, leaf, status := m.resolveParent(attrs, mode)
	if !status.IsSuccess() {
		return 0, status
	}
	if leaf == "" {
		return 0, ntdef.STATUS_OBJECT_NAME_INVALID
	}
	obj, ok := parent.Lookup(leaf, m.isCaseInsensitive(attrs))
	if !ok {
		return 0, ntdef.STATUS_OBJECT_NAME_NOT_FOUND
	}
	hdr := obj.(*Header)
	if typeName != "" && hdr.TypeName() != typeName {
		return 0, ntdef.STATUS_OBJECT_TYPE_MISMATCH
	}
	return m.handles.Open(hdr, access), ntdef.STATUS_SUCCESS
}

// CreateObject materializes a new, unnamed and unlinked object of the
// given builtin type. The single reference it starts with is owned by the
// caller.
func (m *Manager) CreateObject(ctx context.Context, typeName string) (objdir.Ref, ntdef.Status) {
	typ, ok := LookupType(typeName)
	if !ok {
		return nil, ntdef.STATUS_INVALID_PARAMETER
	}
	return newHeader(typ), ntdef.STATUS_SUCCESS
}

// InsertObject links obj into the namespace at the path in attrs and opens
// a handle to it.
//
// On a name collision with OBJ_OPENIF set, a handle to the existing object
// of the same type is returned with STATUS_OBJECT_NAME_EXISTS; without the
// flag the collision is surfaced and the namespace is left unchanged. On
// any success status the caller's creation reference is consumed; on
// failure the caller keeps it.
func (m *Manager) InsertObject(ctx context.Context, mode ntdef.Mode, obj objdir.Ref, attrs ntdef.ObjectAttributes, access ntdef.AccessMask) (ntdef.Handle, ntdef.Status) {
	hdr := obj.(*Header)
	parent, leaf, status := m.resolveParent(attrs, mode)
	if !status.IsSuccess() {
		return 0, status
	}
	if leaf == "" {
		return 0, ntdef.STATUS_OBJECT_NAME_INVALID
	}
	ci := m.isCaseInsensitive(attrs)

	hdr.link(leaf, parent, attrs.Attributes&ntdef.OBJ_PERMANENT != 0)
	status = parent.Insert(leaf, hdr, ci)
	if status == ntdef.STATUS_OBJECT_NAME_COLLISION {
		hdr.unlink()
		if attrs.Attributes&ntdef.OBJ_OPENIF != 0 {
			if existing, ok := parent.Lookup(leaf, ci); ok {
				ehdr := existing.(*Header)
				if ehdr.TypeName() != hdr.TypeName() {
					return 0, ntdef.STATUS_OBJECT_TYPE_MISMATCH
				}
				h := m.handles.Open(ehdr, access)
				hdr.dereference()
				return h, ntdef.STATUS_OBJECT_NAME_EXISTS
			}
		}
		return 0, status
	}
	if !status.IsSuccess() {
		hdr.unlink()
		return 0, status
	}

	// the namespace link holds one reference, the handle another; the
	// creation reference is consumed here
	hdr.reference()
	h := m.handles.Open(hdr, access)
	hdr.dereference()

	log.G(ctx).WithFields(logrus.Fields{
		logfields.Path: attrs.ObjectName,
		logfields.Type: hdr.TypeName(),
	}).Debug("inserted namespace object")
	return h, ntdef.STATUS_SUCCESS
}

// MakeTemporaryObject clears the permanent flag and unlinks the object
// from its parent directory, so the final dereference destroys it.
func (m *Manager) MakeTemporaryObject(obj objdir.Ref) {
	hdr := obj.(*Header)
	parent, name := hdr.unlink()
	if parent == nil {
		return
	}
	if _, ok := parent.Remove(name, false); ok {
		// drop the reference the namespace link held
		hdr.dereference()
	}
}

// ReferenceObjectByHandle resolves a handle, requiring the given access
// right and object type.
func (m *Manager) ReferenceObjectByHandle(h ntdef.Handle, access ntdef.AccessMask, typeName string, mode ntdef.Mode) (objdir.Ref, ntdef.Status) {
	hdr, status := m.handles.Reference(h, access, typeName, mode)
	if !status.IsSuccess() {
		return nil, status
	}
	return hdr, status
}

// DereferenceObject releases one reference.
func (m *Manager) DereferenceObject(obj objdir.Ref) {
	obj.(*Header).dereference()
}

// Close releases the handle.
func (m *Manager) Close(h ntdef.Handle) ntdef.Status {
	return m.handles.Close(h)
}

// CreateNamedObject creates an object of the given builtin type and links
// it into the namespace at the path in attrs, with the same
// insert-or-roll-back contract the directory service applies to
// directories.
func (m *Manager) CreateNamedObject(ctx context.Context, mode ntdef.Mode, typeName string, attrs ntdef.ObjectAttributes, access ntdef.AccessMask) (ntdef.Handle, ntdef.Status) {
	obj, status := m.CreateObject(ctx, typeName)
	if !status.IsSuccess() {
		return 0, status
	}
	h, status := m.InsertObject(ctx, mode, obj, attrs, access)
	if !status.IsSuccess() {
		m.MakeTemporaryObject(obj)
		m.DereferenceObject(obj)
		return 0, status
	}
	return h, status
}
