package engine

import (
	"fmt"
	"slices"

	"github.com/ruteri/tee-key-rotation/interfaces"
)

// Layout is the keyspace map of one hardware generation.
type Layout struct {
	name   string
	spaces []interfaces.KeySpace
	names  map[interfaces.KeySpace]string
}

// Compile-time interface check.
var _ interfaces.Layout = (*Layout)(nil)

const (
	// LayoutGen1 has eight secure-copy engines.
	LayoutGen1 = "gen1"
	// LayoutGen2 adds the secure-offload engine after the copy engines.
	LayoutGen2 = "gen2"

	copyEngines = 8
)

func newLayout(name string, withOffload bool) *Layout {
	l := &Layout{name: name, names: make(map[interfaces.KeySpace]string)}
	for i := 0; i < copyEngines; i++ {
		space := interfaces.KeySpace(i)
		l.spaces = append(l.spaces, space)
		l.names[space] = fmt.Sprintf("secure-copy-%d", i)
	}
	if withOffload {
		space := interfaces.KeySpace(copyEngines)
		l.spaces = append(l.spaces, space)
		l.names[space] = "secure-offload"
	}
	return l
}

// NewLayout returns the layout of the named hardware generation.
func NewLayout(name string) (*Layout, error) {
	switch name {
	case LayoutGen1:
		return newLayout(LayoutGen1, false), nil
	case LayoutGen2:
		return newLayout(LayoutGen2, true), nil
	default:
		return nil, fmt.Errorf("unknown hardware layout %q", name)
	}
}

// Name returns the generation name.
func (l *Layout) Name() string {
	return l.name
}

// KeySpaces lists the keyspaces in ascending order.
func (l *Layout) KeySpaces() []interfaces.KeySpace {
	return slices.Clone(l.spaces)
}

// KeySpaceName returns the engine class name of a keyspace.
func (l *Layout) KeySpaceName(space interfaces.KeySpace) string {
	if name, ok := l.names[space]; ok {
		return name
	}
	return fmt.Sprintf("keyspace-%d", space)
}

// Contains reports whether the key belongs to a keyspace of this layout.
func (l *Layout) Contains(key interfaces.KeyID) bool {
	_, ok := l.names[key.Space()]
	if !ok {
		return false
	}
	_, err := interfaces.PairOfKey(key)
	return err == nil
}
