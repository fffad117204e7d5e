// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package codec

import (
	"bytes"
	"io"
	"reflect"

	"github.com/go-json-experiment/json/jsontext"
)

// RecordValue is the Go form of a record: field name to value. A missing
// key and a nil value both mean the field is absent. Typed nils such as
// []any(nil) or (*time.Time)(nil) count as nil.
type RecordValue map[string]any

// isNull reports whether v encodes as null: an untyped nil, or a nil
// pointer, slice, map or interface.
func isNull(v any) bool {
	if v == nil {
		return true
	}
	switch rv := reflect.ValueOf(v); rv.Kind() {
	case reflect.Pointer, reflect.Slice, reflect.Map, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

// sequenceSerializer handles arrays, lists and sets, all held as []any.
// Sets drop repeated elements on decode, keeping the first occurrence in
// input order.
type sequenceSerializer struct {
	t    *Type
	elem Serializer
}

func (s *sequenceSerializer) Type() *Type { return s.t }

func (s *sequenceSerializer) Encode(enc *jsontext.Encoder, v any) error {
	if v == nil {
		return enc.WriteToken(jsontext.Null)
	}
	elems, ok := v.([]any)
	if !ok {
		return encodeErrorf(s.t, "unexpected %T", v)
	}
	if elems == nil {
		return enc.WriteToken(jsontext.Null)
	}
	if err := enc.WriteToken(jsontext.ArrayStart); err != nil {
		return err
	}
	for _, e := range elems {
		if err := s.elem.Encode(enc, e); err != nil {
			return err
		}
	}
	return enc.WriteToken(jsontext.ArrayEnd)
}

func (s *sequenceSerializer) Decode(dec *jsontext.Decoder) (any, error) {
	tok, err := dec.ReadToken()
	if err != nil {
		return nil, &DecodeError{Type: s.t, Reason: "malformed JSON", Err: err}
	}
	switch tok.Kind() {
	case 'n':
		return nil, nil
	case '[':
	default:
		return nil, decodeErrorf(s.t, "expected array, found %s", kindName(tok.Kind()))
	}

	var seen map[string]struct{}
	if s.t.Kind == KindSet {
		seen = make(map[string]struct{})
	}
	out := make([]any, 0)
	for dec.PeekKind() != ']' {
		if dec.PeekKind() == 0 {
			_, err := dec.ReadToken()
			return nil, &DecodeError{Type: s.t, Reason: "malformed JSON", Err: err}
		}
		e, err := s.elem.Decode(dec)
		if err != nil {
			return nil, err
		}
		if seen != nil {
			key, err := Marshal(s.elem, e)
			if err != nil {
				return nil, &DecodeError{Type: s.t, Reason: "unhashable element", Err: err}
			}
			if _, dup := seen[string(key)]; dup {
				continue
			}
			seen[string(key)] = struct{}{}
		}
		out = append(out, e)
	}
	if _, err := dec.ReadToken(); err != nil {
		return nil, &DecodeError{Type: s.t, Reason: "malformed JSON", Err: err}
	}
	return out, nil
}

type recordField struct {
	name string
	ser  Serializer
}

// recordSerializer writes one property per present field in name order and
// omits absent fields. Unknown properties are skipped on decode.
type recordSerializer struct {
	t      *Type
	fields []recordField
	index  map[string]int
}

func (s *recordSerializer) Type() *Type { return s.t }

func (s *recordSerializer) Encode(enc *jsontext.Encoder, v any) error {
	var rec map[string]any
	switch r := v.(type) {
	case nil:
		return enc.WriteToken(jsontext.Null)
	case RecordValue:
		rec = r
	case map[string]any:
		rec = r
	default:
		return encodeErrorf(s.t, "unexpected %T", v)
	}
	if rec == nil {
		return enc.WriteToken(jsontext.Null)
	}
	if err := enc.WriteToken(jsontext.ObjectStart); err != nil {
		return err
	}
	for _, f := range s.fields {
		fv, ok := rec[f.name]
		if !ok || isNull(fv) {
			continue
		}
		if err := enc.WriteToken(jsontext.String(f.name)); err != nil {
			return err
		}
		if err := f.ser.Encode(enc, fv); err != nil {
			return err
		}
	}
	return enc.WriteToken(jsontext.ObjectEnd)
}

func (s *recordSerializer) Decode(dec *jsontext.Decoder) (any, error) {
	tok, err := dec.ReadToken()
	if err != nil {
		return nil, &DecodeError{Type: s.t, Reason: "malformed JSON", Err: err}
	}
	switch tok.Kind() {
	case 'n':
		return nil, nil
	case '{':
	default:
		return nil, decodeErrorf(s.t, "expected object, found %s", kindName(tok.Kind()))
	}

	rec := make(RecordValue, len(s.fields))
	for dec.PeekKind() != '}' {
		name, err := dec.ReadToken()
		if err != nil {
			return nil, &DecodeError{Type: s.t, Reason: "malformed JSON", Err: err}
		}
		i, ok := s.index[name.String()]
		if !ok {
			if err := dec.SkipValue(); err != nil {
				return nil, &DecodeError{Type: s.t, Reason: "malformed JSON", Err: err}
			}
			continue
		}
		f := s.fields[i]
		fv, err := f.ser.Decode(dec)
		if err != nil {
			return nil, err
		}
		if fv != nil {
			rec[f.name] = fv
		}
	}
	if _, err := dec.ReadToken(); err != nil {
		return nil, &DecodeError{Type: s.t, Reason: "malformed JSON", Err: err}
	}
	return rec, nil
}

// Marshal encodes v with s into a standalone JSON value.
func Marshal(s Serializer, v any, opts ...jsontext.Options) (jsontext.Value, error) {
	var buf bytes.Buffer
	enc := jsontext.NewEncoder(&buf, opts...)
	if err := s.Encode(enc, v); err != nil {
		return nil, err
	}
	return jsontext.Value(bytes.TrimRight(buf.Bytes(), "\n")), nil
}

// Unmarshal decodes a standalone JSON value with s. Trailing data is an
// error.
func Unmarshal(s Serializer, data []byte) (any, error) {
	dec := jsontext.NewDecoder(bytes.NewReader(data))
	v, err := s.Decode(dec)
	if err != nil {
		return nil, err
	}
	if _, err := dec.ReadToken(); err != io.EOF {
		return nil, decodeErrorf(s.Type(), "unexpected trailing data")
	}
	return v, nil
}
