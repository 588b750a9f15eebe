package vm

// Cell is a storage slot identified by a name within a scope frame.
type Cell struct {
	Value Value
}

// Scope is a single frame of the scope chain: the mapping of names to
// cells created by SCI and destroyed by SCO.
type Scope struct {
	cells  map[string]*Cell
	parent *Scope
}

func newScope(parent *Scope) *Scope {
	return &Scope{cells: make(map[string]*Cell), parent: parent}
}

// lookup searches outward from this scope for name, returning nil if
// no cell exists anywhere in the chain.
func (s *Scope) lookup(name string) *Cell {
	for sc := s; sc != nil; sc = sc.parent {
		if c, ok := sc.cells[name]; ok {
			return c
		}
	}
	return nil
}

// resolveOrCreate implements REF's "search outward; create in the
// innermost scope if absent" rule (§4.3).
func (s *Scope) resolveOrCreate(name string) *Cell {
	if c := s.lookup(name); c != nil {
		return c
	}
	c := &Cell{Value: Nil}
	s.cells[name] = c
	return c
}

// delete removes name from whichever scope in the chain owns it.
// Reports whether a cell was found and removed.
func (s *Scope) delete(name string) bool {
	for sc := s; sc != nil; sc = sc.parent {
		if _, ok := sc.cells[name]; ok {
			delete(sc.cells, name)
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Reference (a place): a named cell, or an index path into a collection.
// ---------------------------------------------------------------------------

// RefTarget discriminates the place kinds a Reference can address: a
// named cell, or an index path into an array, object, string or range.
type RefTarget byte

const (
	RefCell RefTarget = iota
	RefArrayIndex
	RefArrayAppend
	RefObjectKey
	RefStringIndex // read-only: indexing a String yields a codepoint
	RefRangeIndex  // read-only: indexing a Range yields its i-th element
)

// Reference is produced by REF/IDEX and consumed by WREF (write),
// DEREF (read), or DEL (remove). References never escape a function
// frame (§3).
type Reference struct {
	Target RefTarget
	Cell   *Cell  // RefCell
	Arr    *Array // RefArrayIndex, RefArrayAppend
	Index  int    // RefArrayIndex, RefStringIndex, RefRangeIndex: resolved, non-negative
	Obj    *Object
	Key    Value // RefObjectKey
	Str    *LString
	Rng    *Range

	// scope/name back DEL's cell-removal path (§4.6: "del on a name
	// removes the cell from its scope"); Read/Write never need them,
	// only Cell, so they're unexported.
	scope *Scope
	name  string
}

// NewCellRef builds a Reference to a named cell addressed by name
// within scope (scope/name are only consulted by DEL).
func NewCellRef(scope *Scope, name string, c *Cell) Reference {
	return Reference{Target: RefCell, Cell: c, scope: scope, name: name}
}

// Read implements DEREF: place -> Value.
func (r Reference) Read(loc SourceLoc) Value {
	switch r.Target {
	case RefCell:
		return r.Cell.Value
	case RefArrayIndex:
		return r.Arr.Items[r.Index]
	case RefArrayAppend:
		if len(r.Arr.Items) == 0 {
			throwVM(indexErrorf(loc, "index out of range: empty array"))
		}
		return r.Arr.Items[len(r.Arr.Items)-1]
	case RefObjectKey:
		v, ok := r.Obj.Get(r.Key)
		if !ok {
			return Nil
		}
		return v
	case RefStringIndex:
		return FromString(string(r.Str.Runes[r.Index]))
	case RefRangeIndex:
		return r.Rng.At(r.Index)
	default:
		panic("Reference.Read: unknown target")
	}
}

// Write implements WREF: store val into the place.
func (r Reference) Write(val Value, loc SourceLoc) {
	switch r.Target {
	case RefCell:
		r.Cell.Value = val
	case RefArrayIndex:
		r.Arr.Items[r.Index] = val
	case RefArrayAppend:
		r.Arr.Items = append(r.Arr.Items, val)
	case RefObjectKey:
		r.Obj.Set(r.Key, val)
	case RefStringIndex, RefRangeIndex:
		throwVM(typeErrorf(loc, "cannot assign into a %s index, it is read-only", r.readOnlyKindName()))
	default:
		panic("Reference.Write: unknown target")
	}
}

func (r Reference) readOnlyKindName() string {
	if r.Target == RefStringIndex {
		return "string"
	}
	return "range"
}

// Delete implements DEL on a place (§4.6): a named cell is removed from
// its owning scope outright (so a later REF re-creates it fresh rather
// than finding a stale Nil-valued cell); an indexed place removes the
// slot, shifting a array down or dropping an object key. It returns
// the removed value, or Nil if there was nothing to remove.
func (r Reference) Delete(loc SourceLoc) Value {
	switch r.Target {
	case RefCell:
		val := r.Cell.Value
		if r.scope != nil {
			r.scope.delete(r.name)
		}
		return val
	case RefArrayIndex:
		val := r.Arr.Items[r.Index]
		r.Arr.Items = append(r.Arr.Items[:r.Index], r.Arr.Items[r.Index+1:]...)
		return val
	case RefArrayAppend:
		if len(r.Arr.Items) == 0 {
			return Nil
		}
		last := len(r.Arr.Items) - 1
		val := r.Arr.Items[last]
		r.Arr.Items = r.Arr.Items[:last]
		return val
	case RefObjectKey:
		val, ok := r.Obj.Get(r.Key)
		if !ok {
			return Nil
		}
		r.Obj.Delete(r.Key)
		return val
	case RefStringIndex, RefRangeIndex:
		throwVM(typeErrorf(loc, "cannot delete a %s index, it is read-only", r.readOnlyKindName()))
		panic("unreachable")
	default:
		panic("Reference.Delete: unknown target")
	}
}

// resolveIndex turns a key Value and container length into a
// non-negative element index, honoring negative-from-end addressing
// (§4.6). The empty-key "append/last" sentinel is handled by IDXA, not
// here.
func resolveIndex(key Value, length int, loc SourceLoc) int {
	if !key.IsInt() {
		throwVM(typeErrorf(loc, "index must be an integer, got %s", key.TypeName()))
	}
	i := int(key.AsInt64())
	if i < 0 {
		i += length
	}
	if i < 0 || i >= length {
		throwVM(indexErrorf(loc, "index %d out of range for length %d", key.AsInt64(), length))
	}
	return i
}
