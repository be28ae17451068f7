package cachestore

import (
	"fmt"
	"strconv"
	"strings"
)

// Class is the content class a generation holds.
type Class string

const (
	ClassStatic  Class = "static"
	ClassRuntime Class = "runtime"
	ClassTiles   Class = "map-tiles"
)

// Generation is a named, versioned cache bucket ("static-v2"). Names are
// persisted identifiers and must stay stable across deploys.
type Generation struct {
	Class   Class
	Version int
}

func (g Generation) Name() string {
	return fmt.Sprintf("%s-v%d", g.Class, g.Version)
}

func ParseGeneration(name string) (Generation, error) {
	i := strings.LastIndex(name, "-v")
	if i <= 0 {
		return Generation{}, fmt.Errorf("parse generation %q: missing version suffix", name)
	}
	v, err := strconv.Atoi(name[i+2:])
	if err != nil {
		return Generation{}, fmt.Errorf("parse generation %q: %w", name, err)
	}
	return Generation{Class: Class(name[:i]), Version: v}, nil
}

// Set is the current generation per content class. Exactly one generation per
// class is current; everything else is stale and deleted on activation.
type Set struct {
	Static  Generation
	Runtime Generation
	Tiles   Generation
}

func NewSet(staticV, runtimeV, tilesV int) Set {
	return Set{
		Static:  Generation{Class: ClassStatic, Version: staticV},
		Runtime: Generation{Class: ClassRuntime, Version: runtimeV},
		Tiles:   Generation{Class: ClassTiles, Version: tilesV},
	}
}

func (s Set) Names() []string {
	return []string{s.Static.Name(), s.Runtime.Name(), s.Tiles.Name()}
}

func (s Set) Contains(name string) bool {
	for _, n := range s.Names() {
		if n == name {
			return true
		}
	}
	return false
}

func (s Set) For(c Class) Generation {
	switch c {
	case ClassStatic:
		return s.Static
	case ClassTiles:
		return s.Tiles
	default:
		return s.Runtime
	}
}
