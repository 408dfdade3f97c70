package log

import (
	"context"

	"github.com/sirupsen/logrus"
)

type entryContextKeyType int

const _entryContextKey entryContextKeyType = iota

var (
	// L is the default, blank logging entry. WithField and co. all return
	// a copy, so it is safe to use as the base of new entries.
	L = logrus.NewEntry(logrus.StandardLogger())

	// G is an alias for GetEntry
	G = GetEntry
)

// GetEntry returns the logging entry stored in the context, or L if there
// is none, with its context set to ctx.
func GetEntry(ctx context.Context) *logrus.Entry {
	entry := fromContext(ctx)
	if entry == nil {
		entry = L
	}
	return entry.WithContext(ctx)
}

// WithContext returns a context that contains the provided log entry.
// The entry can be extracted with G or GetEntry.
func WithContext(ctx context.Context, entry *logrus.Entry) (context.Context, *logrus.Entry) {
	entry = entry.WithContext(ctx)
	return context.WithValue(ctx, _entryContextKey, entry), entry
}

// UpdateContext extracts the log entry from the context, and, if the
// entry's context points to a parent's of the current context, re-adds the
// entry to ctx so the entry and the context are up to date.
func UpdateContext(ctx context.Context) context.Context {
	if e := fromContext(ctx); e != nil {
		ctx, _ = WithContext(ctx, e)
	}
	return ctx
}

func fromContext(ctx context.Context) *logrus.Entry {
	e, _ := ctx.Value(_entryContextKey).(*logrus.Entry)
	return e
}
