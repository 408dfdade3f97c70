package objns

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/containerd/errdefs"
	"github.com/google/go-cmp/cmp"
	"golang.org/x/sync/errgroup"

	"github.com/Microsoft/go-objns/internal/ntdef"
	"github.com/Microsoft/go-objns/internal/objmgr"
	"github.com/Microsoft/go-objns/internal/usermem"
)

func newTestNamespace(t *testing.T, opts *Options) *Namespace {
	t.Helper()
	ns, err := NewNamespace(context.Background(), opts)
	if err != nil {
		t.Fatalf("NewNamespace: %v", err)
	}
	return ns
}

func mustCreateDirectory(t *testing.T, ns *Namespace, path string) ntdef.Handle {
	t.Helper()
	ctx := context.Background()
	h, status := ns.CreateDirectoryObject(ctx, ntdef.KernelMode,
		ntdef.ObjectAttributes{ObjectName: path}, ntdef.DIRECTORY_ALL_ACCESS)
	if status != ntdef.STATUS_SUCCESS {
		t.Fatalf("create directory %q: %s", path, status)
	}
	return h
}

func mustCreateLeaf(t *testing.T, ns *Namespace, typeName, path string) ntdef.Handle {
	t.Helper()
	ctx := context.Background()
	h, status := ns.CreateObject(ctx, ntdef.KernelMode, typeName,
		ntdef.ObjectAttributes{ObjectName: path}, 0)
	if status != ntdef.STATUS_SUCCESS {
		t.Fatalf("create %s %q: %s", typeName, path, status)
	}
	return h
}

func Test_Namespace_List_RoundTrip(t *testing.T) {
	ns := newTestNamespace(t, nil)
	ctx := context.Background()

	for _, p := range []string{`\BaseNamedObjects`, `\BaseNamedObjects\Restricted`, `\Sessions`} {
		ns.Close(ctx, mustCreateDirectory(t, ns, p))
	}
	ns.Close(ctx, mustCreateLeaf(t, ns, objmgr.TypeEvent, `\BaseNamedObjects\ShellReadyEvent`))
	ns.Close(ctx, mustCreateLeaf(t, ns, objmgr.TypeMutant, `\BaseNamedObjects\DBWinMutex`))

	got, err := ns.List(ctx, `\BaseNamedObjects`)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	want := []ntdef.DirectoryInformation{
		{Name: "Restricted", TypeName: "Directory"},
		{Name: "ShellReadyEvent", TypeName: "Event"},
		{Name: "DBWinMutex", TypeName: "Mutant"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("listing mismatch (-want +got):\n%s", diff)
	}

	root, err := ns.List(ctx, `\`)
	if err != nil {
		t.Fatalf("List root: %v", err)
	}
	if len(root) != 2 {
		t.Fatalf("root listing = %+v, wanted 2 entries", root)
	}
}

func Test_Namespace_List_PaginationMatchesSingleCall(t *testing.T) {
	ns := newTestNamespace(t, nil)
	ctx := context.Background()

	dir := mustCreateDirectory(t, ns, `\Pag`)
	defer ns.Close(ctx, dir)
	const n = 64
	for i := 0; i < n; i++ {
		ns.Close(ctx, mustCreateLeaf(t, ns, objmgr.TypeEvent, fmt.Sprintf(`\Pag\entry-%03d`, i)))
	}

	// Paginated walk with the default 1 KiB buffer takes several calls for
	// 64 entries.
	paged, err := ns.List(ctx, `\Pag`)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(paged) != n {
		t.Fatalf("paged listing has %d entries, wanted %d", len(paged), n)
	}

	// The same directory read in one oversized call must agree.
	buf := make([]byte, 64*1024)
	var cursor uint32
	status := ns.QueryDirectoryObject(ctx, ntdef.KernelMode, dir, usermem.Bytes(buf), false, true, &cursor, nil)
	if status != ntdef.STATUS_SUCCESS {
		t.Fatalf("one-shot query: %s", status)
	}
	oneShot, err := ntdef.DecodeDirectoryInformation(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if diff := cmp.Diff(oneShot, paged); diff != "" {
		t.Fatalf("paged walk diverged from one-shot read:\n%s", diff)
	}
}

func Test_Namespace_List_GrowsBufferForOversizeEntry(t *testing.T) {
	ns := newTestNamespace(t, nil)
	ctx := context.Background()

	ns.Close(ctx, mustCreateDirectory(t, ns, `\Big`))
	long := strings.Repeat("n", 700) // one descriptor larger than the initial buffer
	ns.Close(ctx, mustCreateLeaf(t, ns, objmgr.TypeSection, `\Big\`+long))
	ns.Close(ctx, mustCreateLeaf(t, ns, objmgr.TypeEvent, `\Big\small`))

	got, err := ns.List(ctx, `\Big`)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	want := []ntdef.DirectoryInformation{
		{Name: long, TypeName: "Section"},
		{Name: "small", TypeName: "Event"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("listing mismatch (-want +got):\n%s", diff)
	}
}

func Test_Namespace_Query_UserModeAccessCheck(t *testing.T) {
	ns := newTestNamespace(t, nil)
	ctx := context.Background()

	ns.Close(ctx, mustCreateDirectory(t, ns, `\Secure`))
	h, status := ns.OpenDirectoryObject(ctx, ntdef.UserMode,
		ntdef.ObjectAttributes{ObjectName: `\Secure`}, ntdef.DIRECTORY_TRAVERSE)
	if status != ntdef.STATUS_SUCCESS {
		t.Fatalf("open: %s", status)
	}
	defer ns.Close(ctx, h)

	buf := make([]byte, 512)
	var cursor uint32
	status = ns.QueryDirectoryObject(ctx, ntdef.UserMode, h, usermem.Bytes(buf), false, true, &cursor, nil)
	if status != ntdef.STATUS_ACCESS_DENIED {
		t.Fatalf("user-mode query without DIRECTORY_QUERY = %s, wanted STATUS_ACCESS_DENIED", status)
	}

	// Kernel-mode callers bypass the granted-access check on the handle.
	status = ns.QueryDirectoryObject(ctx, ntdef.KernelMode, h, usermem.Bytes(buf), false, true, &cursor, nil)
	if status != ntdef.STATUS_NO_MORE_ENTRIES {
		t.Fatalf("kernel-mode query = %s, wanted STATUS_NO_MORE_ENTRIES", status)
	}
}

func Test_Namespace_CreateDirectoryObject_OpenIf(t *testing.T) {
	ns := newTestNamespace(t, nil)
	ctx := context.Background()

	ns.Close(ctx, mustCreateDirectory(t, ns, `\Existing`))

	_, status := ns.CreateDirectoryObject(ctx, ntdef.KernelMode,
		ntdef.ObjectAttributes{ObjectName: `\Existing`}, ntdef.DIRECTORY_ALL_ACCESS)
	if status != ntdef.STATUS_OBJECT_NAME_COLLISION {
		t.Fatalf("plain re-create = %s, wanted STATUS_OBJECT_NAME_COLLISION", status)
	}

	h, status := ns.CreateDirectoryObject(ctx, ntdef.KernelMode,
		ntdef.ObjectAttributes{ObjectName: `\Existing`, Attributes: ntdef.OBJ_OPENIF},
		ntdef.DIRECTORY_ALL_ACCESS)
	if status != ntdef.STATUS_OBJECT_NAME_EXISTS {
		t.Fatalf("OBJ_OPENIF re-create = %s, wanted STATUS_OBJECT_NAME_EXISTS", status)
	}
	if !status.IsSuccess() {
		t.Fatal("STATUS_OBJECT_NAME_EXISTS must be success-class")
	}
	ns.Close(ctx, h)

	root, err := ns.List(ctx, `\`)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(root) != 1 {
		t.Fatalf("root has %d entries after OPENIF reuse, wanted 1", len(root))
	}
}

func Test_Namespace_MakeTemporaryObject(t *testing.T) {
	ns := newTestNamespace(t, nil)
	ctx := context.Background()

	h := mustCreateDirectory(t, ns, `\Transient`)
	if status := ns.MakeTemporaryObject(ctx, ntdef.KernelMode, h); status != ntdef.STATUS_SUCCESS {
		t.Fatalf("MakeTemporaryObject: %s", status)
	}
	if _, err := ns.List(ctx, `\Transient`); !errdefs.IsNotFound(err) {
		t.Fatalf("List after unlink: %v, wanted not-found", err)
	}
	if status := ns.Close(ctx, h); status != ntdef.STATUS_SUCCESS {
		t.Fatalf("Close: %s", status)
	}
}

func Test_Namespace_ConcurrentQueryAndMutation(t *testing.T) {
	ns := newTestNamespace(t, nil)
	ctx := context.Background()

	dir := mustCreateDirectory(t, ns, `\Load`)
	defer ns.Close(ctx, dir)
	for i := 0; i < 8; i++ {
		ns.Close(ctx, mustCreateLeaf(t, ns, objmgr.TypeEvent, fmt.Sprintf(`\Load\stable-%d`, i)))
	}

	var done atomic.Bool
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer done.Store(true)
		for i := 0; i < 200; i++ {
			path := fmt.Sprintf(`\Load\churn-%d`, i)
			h, status := ns.CreateObject(gctx, ntdef.KernelMode, objmgr.TypeMutant,
				ntdef.ObjectAttributes{ObjectName: path}, 0)
			if status != ntdef.STATUS_SUCCESS {
				return fmt.Errorf("create %q: %s", path, status)
			}
			if status := ns.MakeTemporaryObject(gctx, ntdef.KernelMode, h); status != ntdef.STATUS_SUCCESS {
				return fmt.Errorf("make temporary %q: %s", path, status)
			}
			if status := ns.Close(gctx, h); status != ntdef.STATUS_SUCCESS {
				return fmt.Errorf("close %q: %s", path, status)
			}
		}
		return nil
	})

	for r := 0; r < 4; r++ {
		g.Go(func() error {
			for !done.Load() {
				entries, err := ns.List(gctx, `\Load`)
				if err != nil {
					return err
				}
				// The stable prefix is never removed, so every snapshot
				// contains at least those entries.
				if len(entries) < 8 {
					return fmt.Errorf("snapshot lost stable entries: %d", len(entries))
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	if ns.pool.Busy() != 0 {
		t.Fatalf("%d staging regions still busy after load", ns.pool.Busy())
	}
}

func Test_Namespace_CaseInsensitiveOption(t *testing.T) {
	ns := newTestNamespace(t, &Options{CaseInsensitive: true})
	ctx := context.Background()

	ns.Close(ctx, mustCreateDirectory(t, ns, `\Global`))
	h, status := ns.OpenDirectoryObject(ctx, ntdef.KernelMode,
		ntdef.ObjectAttributes{ObjectName: `\GLOBAL`}, ntdef.DIRECTORY_QUERY)
	if status != ntdef.STATUS_SUCCESS {
		t.Fatalf("case-folded open: %s", status)
	}
	ns.Close(ctx, h)
}

func Test_StatusError_Sentinels(t *testing.T) {
	for _, tc := range []struct {
		status ntdef.Status
		check  func(error) bool
		name   string
	}{
		{ntdef.STATUS_OBJECT_NAME_NOT_FOUND, errdefs.IsNotFound, "not found"},
		{ntdef.STATUS_OBJECT_PATH_NOT_FOUND, errdefs.IsNotFound, "not found"},
		{ntdef.STATUS_INVALID_HANDLE, errdefs.IsNotFound, "not found"},
		{ntdef.STATUS_ACCESS_DENIED, errdefs.IsPermissionDenied, "permission denied"},
		{ntdef.STATUS_OBJECT_NAME_COLLISION, errdefs.IsAlreadyExists, "already exists"},
		{ntdef.STATUS_INSUFFICIENT_RESOURCES, errdefs.IsResourceExhausted, "resource exhausted"},
		{ntdef.STATUS_BUFFER_TOO_SMALL, errdefs.IsOutOfRange, "out of range"},
		{ntdef.STATUS_ACCESS_VIOLATION, errdefs.IsInvalidArgument, "invalid argument"},
		{ntdef.STATUS_OBJECT_PATH_SYNTAX_BAD, errdefs.IsInvalidArgument, "invalid argument"},
	} {
		err := AsError("Op", tc.status)
		if err == nil {
			t.Fatalf("%s: no error", tc.status)
		}
		if !tc.check(err) {
			t.Errorf("%s did not map to %s: %v", tc.status, tc.name, err)
		}
	}

	for _, s := range []ntdef.Status{
		ntdef.STATUS_SUCCESS,
		ntdef.STATUS_MORE_ENTRIES,
		ntdef.STATUS_OBJECT_NAME_EXISTS,
	} {
		if err := AsError("Op", s); err != nil {
			t.Errorf("%s mapped to error %v, wanted nil", s, err)
		}
	}
}

func Test_Namespace_PoolReleasedAfterQueries(t *testing.T) {
	ns := newTestNamespace(t, nil)
	ctx := context.Background()

	dir := mustCreateDirectory(t, ns, `\Cycle`)
	defer ns.Close(ctx, dir)
	for i := 0; i < 4; i++ {
		ns.Close(ctx, mustCreateLeaf(t, ns, objmgr.TypeEvent, fmt.Sprintf(`\Cycle\e%d`, i)))
	}

	buf := make([]byte, 64)
	for i := 0; i < 100; i++ {
		var cursor, retLen uint32
		for {
			status := ns.QueryDirectoryObject(ctx, ntdef.KernelMode, dir,
				usermem.Bytes(buf), true, false, &cursor, &retLen)
			if status == ntdef.STATUS_NO_MORE_ENTRIES {
				break
			}
			if status != ntdef.STATUS_SUCCESS {
				t.Fatalf("iteration %d: %s", i, status)
			}
		}
	}
	if busy := ns.pool.Busy(); busy != 0 {
		t.Fatalf("%d staging regions still busy", busy)
	}
}
