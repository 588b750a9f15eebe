package vm

import (
	"sort"
	"strings"
	"sync"
)

// ParamSpec describes one declared parameter of a registry entry.
type ParamSpec struct {
	Name     string
	Type     string // one of the annotation set in spec.md §4.4, or "" for untyped
	Default  *Value // nil if required
	ByRef    bool
}

// FuncEntry is one function-registry entry: a user-defined or built-in
// function with its signature, code, and optional documentation.
type FuncEntry struct {
	ID       uint64
	Name     string
	Category string
	Params   []ParamSpec
	Return   string
	Code     []byte
	Locals   []string // local-variable table, by slot
	Short    string
	Desc     string
	Example  string
}

// Hidden reports whether name marks the entry as hidden from help/listing.
func (e *FuncEntry) Hidden() bool { return strings.HasPrefix(e.Name, "__") }

// signatureString renders the textual arity+type signature stored on
// every entry (GLOSSARY: Signature).
func (e *FuncEntry) signatureString() string {
	parts := make([]string, len(e.Params))
	for i, p := range e.Params {
		t := p.Type
		if t == "" {
			t = "any"
		}
		parts[i] = p.Name + ":" + t
	}
	return e.Name + "(" + strings.Join(parts, ", ") + ") -> " + e.Return
}

// Registry is the process-wide function table, immutable after load
// except for document_function (§5).
type Registry struct {
	mu      sync.Mutex
	entries map[uint64]*FuncEntry
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[uint64]*FuncEntry)}
}

// Install adds entry, returning a LoadError if its id is already taken
// (spec.md §9: the loader must detect and reject id collisions).
func (r *Registry) Install(entry *FuncEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[entry.ID]; ok {
		return loadErrorf("duplicate function id %016x (%s)", entry.ID, entry.Name)
	}
	r.entries[entry.ID] = entry
	return nil
}

// Lookup returns the entry for id, or nil.
func (r *Registry) Lookup(id uint64) *FuncEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entries[id]
}

// document implements the one allowed post-load mutation,
// document_function: it appends documentation fields to an existing
// entry under the registry's own lock.
func (r *Registry) document(id uint64, short, desc, example string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return
	}
	if short != "" {
		e.Short = short
	}
	if desc != "" {
		e.Desc = desc
	}
	if example != "" {
		e.Example = example
	}
}

// describeAll implements LSTFN: push an array of objects describing
// every registered, non-hidden function.
func (r *Registry) describeAll() Value {
	r.mu.Lock()
	ids := make([]uint64, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	items := make([]Value, 0, len(ids))
	for _, id := range ids {
		e := r.Lookup(id)
		if e == nil || e.Hidden() {
			continue
		}
		o := NewObject()
		o.Set(FromString("name"), FromString(e.Name))
		o.Set(FromString("category"), FromString(e.Category))
		o.Set(FromString("signature"), FromString(e.signatureString()))
		if e.Short != "" {
			o.Set(FromString("short"), FromString(e.Short))
		}
		if e.Desc != "" {
			o.Set(FromString("desc"), FromString(e.Desc))
		}
		if e.Example != "" {
			o.Set(FromString("example"), FromString(e.Example))
		}
		items = append(items, FromObject(o))
	}
	return FromArray(&Array{Items: items})
}

// ByCategoryHelp groups visible entries by category, appending (not
// overwriting) each function's signature line to its category's entry
// — the corrected semantics of spec.md §9's help/listing bug: the
// shipped bytecode used `=` where the `.lav` source's intent was `+=`.
func (r *Registry) ByCategoryHelp() map[string][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string][]string)
	for _, e := range r.entries {
		if e.Hidden() {
			continue
		}
		out[e.Category] = append(out[e.Category], e.signatureString())
	}
	for cat := range out {
		sort.Strings(out[cat])
	}
	return out
}

// typeSatisfies implements the coercion rules of spec.md §4.4: numeric
// accepts int/float/fixed, collection accepts string/array/object,
// primitive accepts any non-collection, any accepts everything.
func typeSatisfies(annotation string, v Value) bool {
	switch annotation {
	case "", "any":
		return true
	case "numeric":
		return v.IsNumeric()
	case "collection":
		return v.IsCollection()
	case "primitive":
		return !v.IsCollection() && v.Kind() != KObject
	case "int":
		return v.IsInt()
	case "i8", "i16", "i32", "i64", "u8", "u16", "u32", "u64":
		return v.IsInt() && v.IntWidth().TypeName() == annotation
	case "float":
		return v.IsFloat()
	case "fixed":
		return v.IsFixed()
	case "bool":
		return v.IsBool()
	case "string":
		return v.IsString()
	case "array":
		return v.IsArray()
	case "object":
		return v.IsObject()
	case "range":
		return v.IsRange()
	case "regex":
		return v.IsRegex()
	case "function":
		return v.IsFunction()
	default:
		return false
	}
}

// BindArgs resolves args against e's declared parameters: type-checks,
// fills defaults for omitted trailing arguments, and fails with a
// TypeError on any mismatch (spec.md §4.4 steps 1-3).
func (e *FuncEntry) BindArgs(args []Value, loc SourceLoc) []Value {
	if len(args) > len(e.Params) {
		throwVM(typeErrorf(loc, "%s: too many arguments (got %d, want at most %d)", e.Name, len(args), len(e.Params)))
	}
	bound := make([]Value, len(e.Params))
	for i, p := range e.Params {
		if i < len(args) {
			if !typeSatisfies(p.Type, args[i]) {
				throwVM(typeErrorf(loc, "%s: argument %s expects %s, got %s", e.Name, p.Name, p.Type, args[i].TypeName()))
			}
			bound[i] = args[i]
			continue
		}
		if p.Default != nil {
			bound[i] = *p.Default
			continue
		}
		throwVM(typeErrorf(loc, "%s: missing required argument %s", e.Name, p.Name))
	}
	return bound
}
