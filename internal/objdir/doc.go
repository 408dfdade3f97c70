// Package objdir implements directory objects for the object namespace:
// the insertion-ordered entry list, the two-phase serializer that encodes
// entries into OBJECT_DIRECTORY_INFORMATION buffers, and the service
// carrying the NtCreateDirectoryObject / NtOpenDirectoryObject /
// NtQueryDirectoryObject semantics against pluggable object-manager,
// staging-pool and caller-memory collaborators.
package objdir
