// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package codec

import (
	"strings"
	"sync"

	"github.com/go-json-experiment/json/jsontext"
)

// Serializer converts values of one Type to and from JSON.
//
// Serializers hold no per-call state and may be shared between goroutines.
// Every serializer writes nil as JSON null and reads JSON null as nil.
type Serializer interface {
	Type() *Type
	Encode(enc *jsontext.Encoder, v any) error
	Decode(dec *jsontext.Decoder) (any, error)
}

// Registry derives serializers from types and memoizes them by type identity.
type Registry struct {
	mu         sync.Mutex
	cache      map[*Type]Serializer
	disallowed []string
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// DisallowNamespaces rejects named types whose name lives under one of the
// given dotted prefixes.
func DisallowNamespaces(prefixes ...string) RegistryOption {
	return func(r *Registry) { r.disallowed = append(r.disallowed, prefixes...) }
}

// NewRegistry returns an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{cache: make(map[*Type]Serializer)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

var defaultRegistry = NewRegistry()

// Default returns the process-wide registry.
func Default() *Registry { return defaultRegistry }

// Derive returns the serializer for t, deriving it on first use.
// A failed derivation leaves the registry unchanged.
func (r *Registry) Derive(t *Type) (Serializer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d := &derivation{r: r}
	s, err := d.derive(t)
	if err != nil {
		for _, added := range d.added {
			delete(r.cache, added)
		}
		return nil, err
	}
	return s, nil
}

// MustDerive is like Derive but panics on error. It is meant for package
// level variables describing fixed method signatures.
func (r *Registry) MustDerive(t *Type) Serializer {
	s, err := r.Derive(t)
	if err != nil {
		panic(err)
	}
	return s
}

type derivation struct {
	r     *Registry
	added []*Type
}

func (d *derivation) remember(t *Type, s Serializer) {
	d.r.cache[t] = s
	d.added = append(d.added, t)
}

func (d *derivation) derive(t *Type) (Serializer, error) {
	if t == nil {
		return nil, &DerivationError{Type: t, Reason: "missing type"}
	}
	if s, ok := d.r.cache[t]; ok {
		return s, nil
	}
	if err := d.r.checkNamespace(t); err != nil {
		return nil, err
	}

	switch t.Kind {
	case KindBool:
		return d.leaf(t, boolSerializer{t})
	case KindInt:
		return d.leaf(t, intSerializer{t})
	case KindFloat:
		return d.leaf(t, floatSerializer{t})
	case KindChar:
		return d.leaf(t, charSerializer{t})
	case KindString:
		return d.leaf(t, stringSerializer{t})
	case KindDate, KindTimestamp:
		return d.leaf(t, timeSerializer{t})
	case KindEnum:
		return d.leaf(t, newEnumSerializer(t))

	case KindArray, KindList, KindSet:
		if t.Elem == nil {
			return nil, &DerivationError{Type: t, Reason: "requires a type parameter"}
		}
		s := &sequenceSerializer{t: t}
		d.remember(t, s)
		elem, err := d.derive(t.Elem)
		if err != nil {
			return nil, err
		}
		s.elem = elem
		return s, nil

	case KindRecord:
		s := &recordSerializer{t: t, index: make(map[string]int, len(t.Fields))}
		// Registered before the fields so that cycles resolve to s.
		d.remember(t, s)
		for i, f := range t.Fields {
			if i > 0 && t.Fields[i-1].Name >= f.Name {
				return nil, &DerivationError{Type: t, Reason: "fields not sorted or not unique at " + f.Name}
			}
			fs, err := d.derive(f.Type)
			if err != nil {
				return nil, err
			}
			s.fields = append(s.fields, recordField{name: f.Name, ser: fs})
			s.index[f.Name] = i
		}
		return s, nil

	case KindLong:
		return nil, &DerivationError{Type: t, Reason: "64-bit integers lose precision in JSON numbers"}
	case KindVoid:
		return nil, &DerivationError{Type: t, Reason: "void is not a value"}
	case KindInterface:
		return nil, &DerivationError{Type: t, Reason: "interfaces have no fixed shape"}
	}
	return nil, &DerivationError{Type: t, Reason: "unknown kind"}
}

func (d *derivation) leaf(t *Type, s Serializer) (Serializer, error) {
	d.remember(t, s)
	return s, nil
}

func (r *Registry) checkNamespace(t *Type) error {
	if t.Name == "" {
		return nil
	}
	ns := t.Namespace()
	for _, p := range r.disallowed {
		p = strings.TrimSuffix(p, ".")
		if ns == p || strings.HasPrefix(ns, p+".") {
			return &DerivationError{Type: t, Reason: "namespace " + p + " is not allowed"}
		}
	}
	return nil
}
