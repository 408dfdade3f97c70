package objns

import (
	"context"

	"github.com/pkg/errors"
	"go.opencensus.io/trace"

	"github.com/Microsoft/go-objns/internal/logfields"
	"github.com/Microsoft/go-objns/internal/ntdef"
	"github.com/Microsoft/go-objns/internal/objdir"
	"github.com/Microsoft/go-objns/internal/oc"
	"github.com/Microsoft/go-objns/internal/usermem"
)

// initialListBufferSize is the query buffer List starts with. One
// kilobyte covers typical directories in a single call while still
// exercising continuation on large ones.
const initialListBufferSize = 1024

// List enumerates the directory at path, issuing repeated queries against
// a bounded buffer and resuming from the returned cursor. The buffer is
// grown only when a query reports more entries without advancing, which
// means the next entry alone is larger than the whole buffer.
func (ns *Namespace) List(ctx context.Context, path string) (_ []ntdef.DirectoryInformation, err error) {
	ctx, span := oc.StartSpan(ctx, "objns::List")
	defer span.End()
	defer func() { oc.SetSpanStatus(span, err) }()
	span.AddAttributes(trace.StringAttribute(logfields.Path, path))

	attrs := ntdef.ObjectAttributes{ObjectName: path}
	h, status := ns.svc.Open(ctx, ntdef.KernelMode, attrs, ntdef.DIRECTORY_QUERY)
	if !status.IsSuccess() {
		return nil, AsError("OpenDirectoryObject", status)
	}
	defer ns.mgr.Close(h)

	var (
		infos   []ntdef.DirectoryInformation
		cursor  uint32
		bufSize = initialListBufferSize
		restart = true
	)
	for {
		buf := make([]byte, bufSize)
		prev := cursor
		status = ns.svc.Query(ctx, ntdef.KernelMode, h, usermem.Bytes(buf), false, restart, &cursor, nil)
		restart = false
		switch status {
		case ntdef.STATUS_NO_MORE_ENTRIES:
			return infos, nil
		case ntdef.STATUS_SUCCESS, ntdef.STATUS_MORE_ENTRIES:
			if status == ntdef.STATUS_MORE_ENTRIES && cursor == prev {
				bufSize *= 2
				continue
			}
			page, err := ntdef.DecodeDirectoryInformation(buf)
			if err != nil {
				return nil, errors.Wrap(err, "decode directory query buffer")
			}
			infos = append(infos, page...)
			if status == ntdef.STATUS_SUCCESS {
				return infos, nil
			}
		default:
			return nil, AsError("QueryDirectoryObject", status)
		}
	}
}

// Walk visits path and every directory below it in depth-first order,
// calling fn with the directory's path and entries. Entries of type
// Directory are descended into.
func (ns *Namespace) Walk(ctx context.Context, path string, fn func(path string, entries []ntdef.DirectoryInformation) error) error {
	entries, err := ns.List(ctx, path)
	if err != nil {
		return err
	}
	if err := fn(path, entries); err != nil {
		return err
	}
	for _, e := range entries {
		if e.TypeName != objdir.DirectoryTypeName || e.Name == "" {
			continue
		}
		child := path + string(ntdef.PathSeparator) + e.Name
		if path == string(ntdef.PathSeparator) {
			child = path + e.Name
		}
		if err := ns.Walk(ctx, child, fn); err != nil {
			return err
		}
	}
	return nil
}
