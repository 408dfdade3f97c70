package objdir

import (
	"context"

	"github.com/Microsoft/go-objns/internal/memory"
	"github.com/Microsoft/go-objns/internal/ntdef"
	"github.com/Microsoft/go-objns/internal/usermem"
)

// Ref is a counted reference to a live namespace object. References
// returned by a Manager must be released with DereferenceObject.
type Ref interface {
	Object

	// Directory returns the directory body when the object is a directory
	// object.
	Directory() (*Directory, bool)
}

// Manager is the object-manager surface the directory service consumes:
// path resolution, object creation and insertion with rollback, and
// reference-by-handle with access checks.
type Manager interface {
	// OpenObjectByName opens an existing object of the given type by path
	// and returns a handle granting access to it.
	OpenObjectByName(ctx context.Context, mode ntdef.Mode, attrs ntdef.ObjectAttributes, typeName string, access ntdef.AccessMask) (ntdef.Handle, ntdef.Status)

	// CreateObject materializes a new, unnamed and unlinked object of the
	// given type. The single reference it holds is owned by the caller.
	CreateObject(ctx context.Context, typeName string) (Ref, ntdef.Status)

	// InsertObject links obj into the namespace at the path in attrs and
	// opens a handle to it. On any success status the caller's creation
	// reference is consumed, including when an existing object is returned
	// under OBJ_OPENIF. On failure the caller keeps its reference and must
	// roll the object back itself.
	InsertObject(ctx context.Context, mode ntdef.Mode, obj Ref, attrs ntdef.ObjectAttributes, access ntdef.AccessMask) (ntdef.Handle, ntdef.Status)

	// MakeTemporaryObject clears the permanent flag, unlinking a linked
	// object, so the final dereference destroys it.
	MakeTemporaryObject(obj Ref)

	// ReferenceObjectByHandle resolves a handle to its object, requiring
	// the given access right and object type.
	ReferenceObjectByHandle(h ntdef.Handle, access ntdef.AccessMask, typeName string, mode ntdef.Mode) (Ref, ntdef.Status)

	// DereferenceObject releases one reference.
	DereferenceObject(obj Ref)
}

// Allocator is the staging-buffer pool queries borrow from.
type Allocator interface {
	Allocate(size uint64) (*memory.Region, error)
	Release(r *memory.Region) error
}

// Service implements the directory-object operations of the namespace: the
// create/open surface and the paginated query protocol.
type Service struct {
	mgr  Manager
	pool Allocator
}

func NewService(mgr Manager, pool Allocator) *Service {
	return &Service{mgr: mgr, pool: pool}
}

// Open opens an existing directory object, requiring the given access on
// the result. The namespace is not mutated.
func (s *Service) Open(ctx context.Context, mode ntdef.Mode, attrs ntdef.ObjectAttributes, access ntdef.AccessMask) (ntdef.Handle, ntdef.Status) {
	return s.mgr.OpenObjectByName(ctx, mode, attrs, DirectoryTypeName, access)
}

// Create materializes a new directory object and links it into the
// namespace at the path in attrs. If insertion fails the fresh object is
// demoted to a temporary and dereferenced, so it is never left dangling in
// the namespace.
func (s *Service) Create(ctx context.Context, mode ntdef.Mode, attrs ntdef.ObjectAttributes, access ntdef.AccessMask) (ntdef.Handle, ntdef.Status) {
	obj, status := s.mgr.CreateObject(ctx, DirectoryTypeName)
	if !status.IsSuccess() {
		return 0, status
	}
	h, status := s.mgr.InsertObject(ctx, mode, obj, attrs, access)
	if !status.IsSuccess() {
		s.mgr.MakeTemporaryObject(obj)
		s.mgr.DereferenceObject(obj)
		return 0, status
	}
	return h, status
}

// Query performs one paginated enumeration call against the directory the
// handle resolves to, which must grant DIRECTORY_QUERY.
//
// The entries after the first *cursor (zero if restartScan) are encoded
// into dest as a descriptor array plus string region until dest's declared
// capacity is exhausted, or after one entry if returnSingleEntry. Results
// are staged in a pool buffer while the directory lock is held and cross
// into caller memory in a single fault-safe bulk copy after it is
// released; a copy fault overrides the computed status and leaves cursor
// and returnLength unwritten.
//
// On return *cursor is the count of entries skipped or produced, except
// that an entry that did not fit is not counted, so a retry with a larger
// buffer lands on it again. *returnLength, when requested, is the encoded
// size of everything the traversal considered, which with returnSingleEntry
// and STATUS_BUFFER_TOO_SMALL is exactly the capacity a retry needs.
func (s *Service) Query(
	ctx context.Context,
	mode ntdef.Mode,
	h ntdef.Handle,
	dest usermem.Buffer,
	returnSingleEntry bool,
	restartScan bool,
	cursor *uint32,
	returnLength *uint32,
) ntdef.Status {
	if cursor == nil {
		// the in/out cursor is probed before anything else
		return ntdef.STATUS_ACCESS_VIOLATION
	}
	if mode != ntdef.KernelMode {
		// the destination must be WCHAR-placed for the string region
		if err := usermem.Probe(dest, ntdef.WCharSize); err != nil {
			return ntdef.STATUS_DATATYPE_MISALIGNMENT
		}
	}
	var skip uint32
	if !restartScan {
		skip = *cursor
	}

	obj, status := s.mgr.ReferenceObjectByHandle(h, ntdef.DIRECTORY_QUERY, DirectoryTypeName, mode)
	if !status.IsSuccess() {
		return status
	}
	defer s.mgr.DereferenceObject(obj)
	dir, ok := obj.Directory()
	if !ok {
		return ntdef.STATUS_OBJECT_TYPE_MISMATCH
	}

	// Stage into a pool buffer sized to the destination capacity, never
	// larger. The directory lock must not be held across this allocation.
	destLen := dest.Len()
	var staging []byte
	if destLen > 0 {
		region, err := s.pool.Allocate(uint64(destLen))
		if err != nil {
			return ntdef.STATUS_INSUFFICIENT_RESOURCES
		}
		defer func() {
			_ = s.pool.Release(region)
		}()
		staging = region.Bytes()
	}
	recs := make([]stagingRecord, destLen/ntdef.DescriptorSize)

	res := dir.scan(recs, skip, uint32(destLen), returnSingleEntry)
	status = res.status

	copyBytes := 0
	if status.IsSuccess() && len(res.records) > 0 {
		copyBytes = pack(staging, res.records)
	}

	if status.IsSuccess() || returnSingleEntry {
		if copyBytes > 0 {
			if err := dest.CopyOut(staging[:copyBytes]); err != nil {
				// the destination went away between the sizing pass and
				// the transfer; that failure supersedes the computed
				// status and the outputs stay unwritten
				return ntdef.STATUS_ACCESS_VIOLATION
			}
		}
		*cursor = res.nextEntry
		if returnLength != nil {
			*returnLength = res.requiredSize
		}
	}
	return status
}
