package objmgr

import (
	"github.com/Microsoft/go-objns/internal/objdir"
	isync "github.com/Microsoft/go-objns/internal/sync"
)

// Builtin leaf object-type names. Directory is the only type with behavior
// in this module; the leaf types are inert bodies that give directories
// mixed content to enumerate.
const (
	TypeEvent   = "Event"
	TypeMutant  = "Mutant"
	TypeSection = "Section"
)

// ObjectType describes one kind of namespace object.
type ObjectType struct {
	// Name is the type name reported in directory enumerations.
	Name string
	// New allocates the type-specific body.
	New func() any
}

type leafBody struct{}

var builtinTypes = isync.OnceValue(func() (map[string]*ObjectType, error) {
	types := []*ObjectType{
		{Name: objdir.DirectoryTypeName, New: func() any { return objdir.NewDirectory() }},
		{Name: TypeEvent, New: func() any { return &leafBody{} }},
		{Name: TypeMutant, New: func() any { return &leafBody{} }},
		{Name: TypeSection, New: func() any { return &leafBody{} }},
	}
	m := make(map[string]*ObjectType, len(types))
	for _, t := range types {
		m[t.Name] = t
	}
	return m, nil
})

// LookupType resolves a builtin object type by name.
func LookupType(name string) (*ObjectType, bool) {
	types, err := builtinTypes()
	if err != nil {
		return nil, false
	}
	t, ok := types[name]
	return t, ok
}
