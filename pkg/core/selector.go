package core

import (
	"strconv"
	"strings"
)

type selectorKind uint8

const (
	selectorNone selectorKind = iota
	selectorID
	selectorKey
)

// Selector identifies a source either by its position in the source listing
// or by its key. The zero value selects nothing.
type Selector struct {
	kind selectorKind
	id   uint32
	key  string
}

// ByID selects the source at position id of ListSources.
func ByID(id uint32) Selector {
	return Selector{kind: selectorID, id: id}
}

// ByKey selects the source whose identifier is key.
func ByKey(key string) Selector {
	return Selector{kind: selectorKey, key: key}
}

// ParseSelector turns console input into a Selector: all digits is ByID,
// anything else is ByKey, blank is the zero Selector.
func ParseSelector(s string) Selector {
	s = strings.TrimSpace(s)
	if s == "" {
		return Selector{}
	}
	if id, err := strconv.ParseUint(s, 10, 32); err == nil {
		return ByID(uint32(id))
	}
	return ByKey(s)
}

// IsZero reports whether nothing is selected
func (s Selector) IsZero() bool { return s.kind == selectorNone }

// ID returns the positional id and whether the selector is ByID
func (s Selector) ID() (uint32, bool) { return s.id, s.kind == selectorID }

// Key returns the key and whether the selector is ByKey
func (s Selector) Key() (string, bool) { return s.key, s.kind == selectorKey }

func (s Selector) String() string {
	switch s.kind {
	case selectorID:
		return "#" + strconv.FormatUint(uint64(s.id), 10)
	case selectorKey:
		return s.key
	default:
		return "<none>"
	}
}
