package logfields

const (
	// Identifiers

	Name      = "name"
	Namespace = "namespace"
	Operation = "operation"

	Path   = "path"
	Type   = "object-type"
	Handle = "handle"

	// query protocol

	Cursor       = "cursor"
	BufferSize   = "buffer-size"
	RequiredSize = "required-size"
	Entries      = "entries"
	Status       = "status"
	Bytes        = "bytes"

	// Common Misc

	Attempt = "attemptNo"
	JSON    = "json"

	// Time

	Duration  = "duration"
	EndTime   = "endTime"
	StartTime = "startTime"

	// Keys/Values

	Field   = "field"
	Key     = "key"
	Options = "options"
	Value   = "value"

	// logging and tracing

	TraceID      = "traceID"
	SpanID       = "spanID"
	ParentSpanID = "parentSpanID"
)
