package objmgr

import (
	"context"
	"testing"

	"github.com/Microsoft/go-objns/internal/ntdef"
	"github.com/Microsoft/go-objns/internal/objdir"
)

func newTestManager(t *testing.T, opts *Options) *Manager {
	t.Helper()
	m, err := NewManager(opts)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func mustCreateDirectory(t *testing.T, m *Manager, path string) ntdef.Handle {
	t.Helper()
	attrs := ntdef.ObjectAttributes{ObjectName: path}
	h, status := m.CreateNamedObject(context.Background(), ntdef.KernelMode, objdir.DirectoryTypeName, attrs, ntdef.DIRECTORY_ALL_ACCESS)
	if status != ntdef.STATUS_SUCCESS {
		t.Fatalf("create directory %q failed: %s", path, status)
	}
	return h
}

func TestOpenRootDirectory(t *testing.T) {
	m := newTestManager(t, nil)
	attrs := ntdef.ObjectAttributes{ObjectName: `\`}
	h, status := m.OpenObjectByName(context.Background(), ntdef.UserMode, attrs, objdir.DirectoryTypeName, ntdef.DIRECTORY_QUERY)
	if status != ntdef.STATUS_SUCCESS {
		t.Fatalf("open root failed: %s", status)
	}
	if status := m.Close(h); status != ntdef.STATUS_SUCCESS {
		t.Fatalf("close failed: %s", status)
	}
	if status := m.Close(h); status != ntdef.STATUS_INVALID_HANDLE {
		t.Fatalf("double close: expected STATUS_INVALID_HANDLE, got %s", status)
	}
}

func TestCreateAndOpenNested(t *testing.T) {
	m := newTestManager(t, nil)
	mustCreateDirectory(t, m, `\BaseNamedObjects`)
	mustCreateDirectory(t, m, `\BaseNamedObjects\Restricted`)

	attrs := ntdef.ObjectAttributes{ObjectName: `\BaseNamedObjects\Restricted`}
	h, status := m.OpenObjectByName(context.Background(), ntdef.UserMode, attrs, objdir.DirectoryTypeName, ntdef.DIRECTORY_QUERY)
	if status != ntdef.STATUS_SUCCESS {
		t.Fatalf("open failed: %s", status)
	}
	m.Close(h)

	type errCase struct {
		name   string
		path   string
		status ntdef.Status
	}
	for _, tc := range []errCase{
		{"LeafMissing", `\BaseNamedObjects\Absent`, ntdef.STATUS_OBJECT_NAME_NOT_FOUND},
		{"IntermediateMissing", `\Absent\Restricted`, ntdef.STATUS_OBJECT_PATH_NOT_FOUND},
		{"Relative", `BaseNamedObjects`, ntdef.STATUS_OBJECT_PATH_SYNTAX_BAD},
		{"EmptyComponent", `\BaseNamedObjects\\Restricted`, ntdef.STATUS_OBJECT_NAME_INVALID},
		{"Empty", ``, ntdef.STATUS_OBJECT_PATH_SYNTAX_BAD},
	} {
		t.Run(tc.name, func(t *testing.T) {
			attrs := ntdef.ObjectAttributes{ObjectName: tc.path}
			_, status := m.OpenObjectByName(context.Background(), ntdef.UserMode, attrs, objdir.DirectoryTypeName, ntdef.DIRECTORY_QUERY)
			if status != tc.status {
				t.Fatalf("expected %s, got %s", tc.status, status)
			}
		})
	}
}

func TestOpenRelativeToHandle(t *testing.T) {
	m := newTestManager(t, nil)
	root := mustCreateDirectory(t, m, `\Sessions`)
	mustCreateDirectory(t, m, `\Sessions\1`)

	attrs := ntdef.ObjectAttributes{ObjectName: `1`, RootDirectory: root}
	h, status := m.OpenObjectByName(context.Background(), ntdef.UserMode, attrs, objdir.DirectoryTypeName, ntdef.DIRECTORY_QUERY)
	if status != ntdef.STATUS_SUCCESS {
		t.Fatalf("relative open failed: %s", status)
	}
	m.Close(h)

	// an absolute path is rejected when a root handle is supplied
	attrs = ntdef.ObjectAttributes{ObjectName: `\Sessions\1`, RootDirectory: root}
	_, status = m.OpenObjectByName(context.Background(), ntdef.UserMode, attrs, objdir.DirectoryTypeName, ntdef.DIRECTORY_QUERY)
	if status != ntdef.STATUS_OBJECT_PATH_SYNTAX_BAD {
		t.Fatalf("expected STATUS_OBJECT_PATH_SYNTAX_BAD, got %s", status)
	}
}

func TestInsertCollisionAndOpenIf(t *testing.T) {
	m := newTestManager(t, nil)
	mustCreateDirectory(t, m, `\BaseNamedObjects`)

	attrs := ntdef.ObjectAttributes{ObjectName: `\BaseNamedObjects`}
	_, status := m.CreateNamedObject(context.Background(), ntdef.KernelMode, objdir.DirectoryTypeName, attrs, ntdef.DIRECTORY_ALL_ACCESS)
	if status != ntdef.STATUS_OBJECT_NAME_COLLISION {
		t.Fatalf("expected STATUS_OBJECT_NAME_COLLISION, got %s", status)
	}

	// with OBJ_OPENIF the existing directory is reused
	attrs.Attributes = ntdef.OBJ_OPENIF
	h, status := m.CreateNamedObject(context.Background(), ntdef.KernelMode, objdir.DirectoryTypeName, attrs, ntdef.DIRECTORY_ALL_ACCESS)
	if status != ntdef.STATUS_OBJECT_NAME_EXISTS {
		t.Fatalf("expected STATUS_OBJECT_NAME_EXISTS, got %s", status)
	}
	if !status.IsSuccess() {
		t.Fatal("STATUS_OBJECT_NAME_EXISTS must be success-like")
	}
	m.Close(h)

	// OBJ_OPENIF does not bridge a type mismatch
	_, status = m.CreateNamedObject(context.Background(), ntdef.KernelMode, TypeEvent, attrs, ntdef.DIRECTORY_ALL_ACCESS)
	if status != ntdef.STATUS_OBJECT_TYPE_MISMATCH {
		t.Fatalf("expected STATUS_OBJECT_TYPE_MISMATCH, got %s", status)
	}

	// the failed creates left exactly one entry behind
	dir, _ := m.root.Directory()
	if dir.Len() != 1 {
		t.Fatalf("expected 1 root entry, got %d", dir.Len())
	}
}

func TestCreateUnknownType(t *testing.T) {
	m := newTestManager(t, nil)
	_, status := m.CreateObject(context.Background(), "Teapot")
	if status != ntdef.STATUS_INVALID_PARAMETER {
		t.Fatalf("expected STATUS_INVALID_PARAMETER, got %s", status)
	}
}

func TestReferenceAccessChecks(t *testing.T) {
	m := newTestManager(t, nil)
	mustCreateDirectory(t, m, `\Device`)

	attrs := ntdef.ObjectAttributes{ObjectName: `\Device`}
	h, status := m.OpenObjectByName(context.Background(), ntdef.UserMode, attrs, objdir.DirectoryTypeName, ntdef.DIRECTORY_TRAVERSE)
	if status != ntdef.STATUS_SUCCESS {
		t.Fatalf("open failed: %s", status)
	}

	// the handle does not grant DIRECTORY_QUERY
	_, status = m.ReferenceObjectByHandle(h, ntdef.DIRECTORY_QUERY, objdir.DirectoryTypeName, ntdef.UserMode)
	if status != ntdef.STATUS_ACCESS_DENIED {
		t.Fatalf("expected STATUS_ACCESS_DENIED, got %s", status)
	}

	// kernel-mode callers bypass the granted-access check
	ref, status := m.ReferenceObjectByHandle(h, ntdef.DIRECTORY_QUERY, objdir.DirectoryTypeName, ntdef.KernelMode)
	if status != ntdef.STATUS_SUCCESS {
		t.Fatalf("expected kernel-mode bypass, got %s", status)
	}
	m.DereferenceObject(ref)

	// a leaf handle is not a directory handle
	eventAttrs := ntdef.ObjectAttributes{ObjectName: `\Device\ready`}
	eh, status := m.CreateNamedObject(context.Background(), ntdef.KernelMode, TypeEvent, eventAttrs, ntdef.DIRECTORY_ALL_ACCESS)
	if status != ntdef.STATUS_SUCCESS {
		t.Fatalf("create event failed: %s", status)
	}
	_, status = m.ReferenceObjectByHandle(eh, ntdef.DIRECTORY_QUERY, objdir.DirectoryTypeName, ntdef.KernelMode)
	if status != ntdef.STATUS_OBJECT_TYPE_MISMATCH {
		t.Fatalf("expected STATUS_OBJECT_TYPE_MISMATCH, got %s", status)
	}
}

func TestCaseInsensitiveNamespace(t *testing.T) {
	m := newTestManager(t, &Options{CaseInsensitive: true})
	mustCreateDirectory(t, m, `\Global`)

	attrs := ntdef.ObjectAttributes{ObjectName: `\GLOBAL`}
	h, status := m.OpenObjectByName(context.Background(), ntdef.UserMode, attrs, objdir.DirectoryTypeName, ntdef.DIRECTORY_QUERY)
	if status != ntdef.STATUS_SUCCESS {
		t.Fatalf("case-insensitive open failed: %s", status)
	}
	m.Close(h)

	attrs = ntdef.ObjectAttributes{ObjectName: `\global`}
	_, status = m.CreateNamedObject(context.Background(), ntdef.KernelMode, objdir.DirectoryTypeName, attrs, ntdef.DIRECTORY_ALL_ACCESS)
	if status != ntdef.STATUS_OBJECT_NAME_COLLISION {
		t.Fatalf("expected STATUS_OBJECT_NAME_COLLISION, got %s", status)
	}
}

func TestMakeTemporaryUnlinks(t *testing.T) {
	m := newTestManager(t, nil)
	h := mustCreateDirectory(t, m, `\Scratch`)

	ref, status := m.ReferenceObjectByHandle(h, ntdef.DIRECTORY_QUERY, objdir.DirectoryTypeName, ntdef.KernelMode)
	if status != ntdef.STATUS_SUCCESS {
		t.Fatal(status)
	}
	m.MakeTemporaryObject(ref)
	m.DereferenceObject(ref)

	attrs := ntdef.ObjectAttributes{ObjectName: `\Scratch`}
	_, status = m.OpenObjectByName(context.Background(), ntdef.UserMode, attrs, objdir.DirectoryTypeName, ntdef.DIRECTORY_QUERY)
	if status != ntdef.STATUS_OBJECT_NAME_NOT_FOUND {
		t.Fatalf("expected STATUS_OBJECT_NAME_NOT_FOUND after unlink, got %s", status)
	}

	// the handle still holds the object alive until closed
	hdr := ref.(*Header)
	if hdr.destroyed() {
		t.Fatal("object destroyed while a handle is open")
	}
	m.Close(h)
	if !hdr.destroyed() {
		t.Fatal("object not destroyed after the last reference dropped")
	}
}

func TestReferenceAfterDestroyPanics(t *testing.T) {
	m := newTestManager(t, nil)
	h := mustCreateDirectory(t, m, `\Gone`)

	ref, status := m.ReferenceObjectByHandle(h, ntdef.DIRECTORY_QUERY, objdir.DirectoryTypeName, ntdef.KernelMode)
	if status != ntdef.STATUS_SUCCESS {
		t.Fatal(status)
	}
	m.MakeTemporaryObject(ref)
	m.DereferenceObject(ref)
	m.Close(h)

	hdr := ref.(*Header)
	if !hdr.destroyed() {
		t.Fatal("object not destroyed after handle close")
	}
	defer func() {
		if recover() == nil {
			t.Fatal("expected a panic resurrecting a destroyed object")
		}
	}()
	hdr.reference()
}

func TestHandleValuesAreNTShaped(t *testing.T) {
	m := newTestManager(t, nil)
	h1 := mustCreateDirectory(t, m, `\A`)
	h2 := mustCreateDirectory(t, m, `\B`)
	if h1 == 0 || h1%4 != 0 || h2%4 != 0 || h1 == h2 {
		t.Fatalf("unexpected handle values: %d, %d", h1, h2)
	}
}
