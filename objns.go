// Package objns implements an NT-compatible kernel object namespace: a
// hierarchical store of named kernel objects whose directory objects can
// be created, opened and enumerated in a paginated, resumable fashion
// against caller-supplied buffers.
//
// The status-returning operations mirror the NtCreateDirectoryObject,
// NtOpenDirectoryObject and NtQueryDirectoryObject shapes, including the
// OBJECT_DIRECTORY_INFORMATION buffer layout, so traffic can be compared
// against the real API. Error-returning convenience wrappers map failing
// statuses onto containerd errdefs sentinels.
package objns

import (
	"context"

	"github.com/Microsoft/go-winio/pkg/guid"
	"github.com/sirupsen/logrus"
	"go.opencensus.io/trace"

	"github.com/Microsoft/go-objns/internal/log"
	"github.com/Microsoft/go-objns/internal/logfields"
	"github.com/Microsoft/go-objns/internal/memory"
	"github.com/Microsoft/go-objns/internal/ntdef"
	"github.com/Microsoft/go-objns/internal/objdir"
	"github.com/Microsoft/go-objns/internal/objmgr"
	"github.com/Microsoft/go-objns/internal/oc"
	"github.com/Microsoft/go-objns/internal/usermem"
)

// Options configures a Namespace.
type Options struct {
	// PoolBudget bounds the staging memory queries may hold, in bytes.
	// Zero uses OBJNS_POOL_BUDGET from the environment, or the default.
	PoolBudget uint64

	// CaseInsensitive applies OBJ_CASE_INSENSITIVE semantics to every
	// lookup, not only to opens that pass the flag.
	CaseInsensitive bool
}

// Namespace is one object-namespace instance: a root directory, a handle
// table and the staging pool its queries borrow from.
type Namespace struct {
	id   guid.GUID
	mgr  *objmgr.Manager
	pool *memory.PoolAllocator
	svc  *objdir.Service
}

// NewNamespace creates an empty namespace holding only the root directory.
func NewNamespace(ctx context.Context, opts *Options) (*Namespace, error) {
	id, err := guid.NewV4()
	if err != nil {
		return nil, err
	}
	var (
		mgrOpts    *objmgr.Options
		poolBudget uint64
	)
	if opts != nil {
		mgrOpts = &objmgr.Options{CaseInsensitive: opts.CaseInsensitive}
		poolBudget = opts.PoolBudget
	}
	mgr, err := objmgr.NewManager(mgrOpts)
	if err != nil {
		return nil, err
	}
	pool := memory.NewPoolAllocator(poolBudget)
	ns := &Namespace{
		id:   id,
		mgr:  mgr,
		pool: pool,
		svc:  objdir.NewService(mgr, pool),
	}
	log.G(ctx).WithField(logfields.Namespace, ns.id.String()).Debug("created object namespace")
	return ns, nil
}

// ID returns the namespace instance GUID.
func (ns *Namespace) ID() guid.GUID {
	return ns.id
}

// CreateDirectoryObject creates a directory object at the path in attrs
// and returns a handle to it. A collision with an existing directory is
// reused only under OBJ_OPENIF, reported as STATUS_OBJECT_NAME_EXISTS;
// otherwise STATUS_OBJECT_NAME_COLLISION is surfaced and the namespace is
// left unchanged.
func (ns *Namespace) CreateDirectoryObject(ctx context.Context, mode ntdef.Mode, attrs ntdef.ObjectAttributes, access ntdef.AccessMask) (_ ntdef.Handle, status ntdef.Status) {
	ctx, span := oc.StartSpan(ctx, "objns::CreateDirectoryObject")
	defer span.End()
	defer func() { oc.SetSpanStatus(span, AsError("CreateDirectoryObject", status)) }()
	span.AddAttributes(
		trace.StringAttribute(logfields.Namespace, ns.id.String()),
		trace.StringAttribute(logfields.Path, attrs.ObjectName))

	var h ntdef.Handle
	h, status = ns.svc.Create(ctx, mode, attrs, access)
	return h, status
}

// OpenDirectoryObject opens an existing directory object.
func (ns *Namespace) OpenDirectoryObject(ctx context.Context, mode ntdef.Mode, attrs ntdef.ObjectAttributes, access ntdef.AccessMask) (_ ntdef.Handle, status ntdef.Status) {
	ctx, span := oc.StartSpan(ctx, "objns::OpenDirectoryObject")
	defer span.End()
	defer func() { oc.SetSpanStatus(span, AsError("OpenDirectoryObject", status)) }()
	span.AddAttributes(
		trace.StringAttribute(logfields.Namespace, ns.id.String()),
		trace.StringAttribute(logfields.Path, attrs.ObjectName))

	var h ntdef.Handle
	h, status = ns.svc.Open(ctx, mode, attrs, access)
	return h, status
}

// CreateObject creates a leaf object of a builtin type (Event, Mutant,
// Section) at the path in attrs, with the same insert-or-roll-back
// contract directories get.
func (ns *Namespace) CreateObject(ctx context.Context, mode ntdef.Mode, typeName string, attrs ntdef.ObjectAttributes, access ntdef.AccessMask) (_ ntdef.Handle, status ntdef.Status) {
	ctx, span := oc.StartSpan(ctx, "objns::CreateObject")
	defer span.End()
	defer func() { oc.SetSpanStatus(span, AsError("CreateObject", status)) }()
	span.AddAttributes(
		trace.StringAttribute(logfields.Namespace, ns.id.String()),
		trace.StringAttribute(logfields.Path, attrs.ObjectName),
		trace.StringAttribute(logfields.Type, typeName))

	var h ntdef.Handle
	h, status = ns.mgr.CreateNamedObject(ctx, mode, typeName, attrs, access)
	return h, status
}

// QueryDirectoryObject performs one paginated enumeration call against the
// directory h resolves to; see the query protocol notes on the package
// documentation. h must grant DIRECTORY_QUERY to user-mode callers.
func (ns *Namespace) QueryDirectoryObject(
	ctx context.Context,
	mode ntdef.Mode,
	h ntdef.Handle,
	dest usermem.Buffer,
	returnSingleEntry bool,
	restartScan bool,
	cursor *uint32,
	returnLength *uint32,
) (status ntdef.Status) {
	ctx, span := oc.StartSpan(ctx, "objns::QueryDirectoryObject")
	defer span.End()
	defer func() { oc.SetSpanStatus(span, AsError("QueryDirectoryObject", status)) }()
	span.AddAttributes(
		trace.StringAttribute(logfields.Namespace, ns.id.String()),
		trace.Int64Attribute(logfields.Handle, int64(h)),
		trace.Int64Attribute(logfields.BufferSize, int64(dest.Len())),
		trace.BoolAttribute("single-entry", returnSingleEntry),
		trace.BoolAttribute("restart-scan", restartScan))

	status = ns.svc.Query(ctx, mode, h, dest, returnSingleEntry, restartScan, cursor, returnLength)
	if cursor != nil {
		log.G(ctx).WithFields(logrus.Fields{
			logfields.Handle: h,
			logfields.Status: status.String(),
			logfields.Cursor: *cursor,
		}).Debug("directory query")
	}
	return status
}

// MakeTemporaryObject removes the permanent attribute from the object h
// refers to, unlinking it from its parent directory, so it is destroyed
// once the last handle and reference go away.
func (ns *Namespace) MakeTemporaryObject(ctx context.Context, mode ntdef.Mode, h ntdef.Handle) (status ntdef.Status) {
	_, span := oc.StartSpan(ctx, "objns::MakeTemporaryObject")
	defer span.End()
	defer func() { oc.SetSpanStatus(span, AsError("MakeTemporaryObject", status)) }()
	span.AddAttributes(trace.Int64Attribute(logfields.Handle, int64(h)))

	ref, status := ns.mgr.ReferenceObjectByHandle(h, 0, "", mode)
	if !status.IsSuccess() {
		return status
	}
	ns.mgr.MakeTemporaryObject(ref)
	ns.mgr.DereferenceObject(ref)
	return ntdef.STATUS_SUCCESS
}

// Close releases the handle.
func (ns *Namespace) Close(ctx context.Context, h ntdef.Handle) (status ntdef.Status) {
	_, span := oc.StartSpan(ctx, "objns::Close")
	defer span.End()
	defer func() { oc.SetSpanStatus(span, AsError("Close", status)) }()
	span.AddAttributes(trace.Int64Attribute(logfields.Handle, int64(h)))

	return ns.mgr.Close(h)
}
