// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package codec

import (
	"math"
	"strconv"
	"unicode/utf8"

	"github.com/go-json-experiment/json/jsontext"
)

// readScalar reads the next token, reporting ok=false for JSON null.
// Objects and arrays are rejected; scalars never accept them.
func readScalar(t *Type, dec *jsontext.Decoder) (tok jsontext.Token, ok bool, err error) {
	tok, err = dec.ReadToken()
	if err != nil {
		return tok, false, &DecodeError{Type: t, Reason: "malformed JSON", Err: err}
	}
	switch tok.Kind() {
	case 'n':
		return tok, false, nil
	case '{', '[':
		return tok, false, decodeErrorf(t, "expected scalar, found %s", kindName(tok.Kind()))
	}
	return tok, true, nil
}

func kindName(k jsontext.Kind) string {
	switch k {
	case 'n':
		return "null"
	case 'f', 't':
		return "boolean"
	case '"':
		return "string"
	case '0':
		return "number"
	case '{':
		return "object"
	case '[':
		return "array"
	}
	return "invalid token"
}

type boolSerializer struct{ t *Type }

func (s boolSerializer) Type() *Type { return s.t }

func (s boolSerializer) Encode(enc *jsontext.Encoder, v any) error {
	switch b := v.(type) {
	case nil:
		return enc.WriteToken(jsontext.Null)
	case bool:
		return enc.WriteToken(jsontext.Bool(b))
	}
	return encodeErrorf(s.t, "unexpected %T", v)
}

func (s boolSerializer) Decode(dec *jsontext.Decoder) (any, error) {
	tok, ok, err := readScalar(s.t, dec)
	if err != nil || !ok {
		return nil, err
	}
	switch tok.Kind() {
	case 't':
		return true, nil
	case 'f':
		return false, nil
	}
	return nil, decodeErrorf(s.t, "expected boolean, found %s", kindName(tok.Kind()))
}

// intSerializer carries 32-bit integers; values decode as int32.
type intSerializer struct{ t *Type }

func (s intSerializer) Type() *Type { return s.t }

func (s intSerializer) Encode(enc *jsontext.Encoder, v any) error {
	var n int64
	switch i := v.(type) {
	case nil:
		return enc.WriteToken(jsontext.Null)
	case int32:
		n = int64(i)
	case int:
		n = int64(i)
	case int16:
		n = int64(i)
	case int8:
		n = int64(i)
	case uint16:
		n = int64(i)
	case uint8:
		n = int64(i)
	default:
		return encodeErrorf(s.t, "unexpected %T", v)
	}
	if n < math.MinInt32 || n > math.MaxInt32 {
		return encodeErrorf(s.t, "%d overflows 32 bits", n)
	}
	return enc.WriteToken(jsontext.Int(n))
}

func (s intSerializer) Decode(dec *jsontext.Decoder) (any, error) {
	tok, ok, err := readScalar(s.t, dec)
	if err != nil || !ok {
		return nil, err
	}
	if tok.Kind() != '0' {
		return nil, decodeErrorf(s.t, "expected number, found %s", kindName(tok.Kind()))
	}
	n, err := strconv.ParseInt(tok.String(), 10, 32)
	if err != nil {
		return nil, &DecodeError{Type: s.t, Reason: "not a 32-bit integer", Err: err}
	}
	return int32(n), nil
}

// floatSerializer carries float64 values.
type floatSerializer struct{ t *Type }

func (s floatSerializer) Type() *Type { return s.t }

func (s floatSerializer) Encode(enc *jsontext.Encoder, v any) error {
	var f float64
	switch x := v.(type) {
	case nil:
		return enc.WriteToken(jsontext.Null)
	case float64:
		f = x
	case float32:
		f = float64(x)
	default:
		return encodeErrorf(s.t, "unexpected %T", v)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return encodeErrorf(s.t, "%v has no JSON form", f)
	}
	return enc.WriteToken(jsontext.Float(f))
}

func (s floatSerializer) Decode(dec *jsontext.Decoder) (any, error) {
	tok, ok, err := readScalar(s.t, dec)
	if err != nil || !ok {
		return nil, err
	}
	if tok.Kind() != '0' {
		return nil, decodeErrorf(s.t, "expected number, found %s", kindName(tok.Kind()))
	}
	return tok.Float(), nil
}

// charSerializer carries a single rune as a one character JSON string.
type charSerializer struct{ t *Type }

func (s charSerializer) Type() *Type { return s.t }

func (s charSerializer) Encode(enc *jsontext.Encoder, v any) error {
	switch c := v.(type) {
	case nil:
		return enc.WriteToken(jsontext.Null)
	case rune:
		if !utf8.ValidRune(c) {
			return encodeErrorf(s.t, "invalid rune %U", c)
		}
		return enc.WriteToken(jsontext.String(string(c)))
	}
	return encodeErrorf(s.t, "unexpected %T", v)
}

func (s charSerializer) Decode(dec *jsontext.Decoder) (any, error) {
	tok, ok, err := readScalar(s.t, dec)
	if err != nil || !ok {
		return nil, err
	}
	if tok.Kind() != '"' {
		return nil, decodeErrorf(s.t, "expected string, found %s", kindName(tok.Kind()))
	}
	str := tok.String()
	if utf8.RuneCountInString(str) != 1 {
		return nil, decodeErrorf(s.t, "expected exactly one character, found %d", utf8.RuneCountInString(str))
	}
	r, _ := utf8.DecodeRuneInString(str)
	return r, nil
}

type stringSerializer struct{ t *Type }

func (s stringSerializer) Type() *Type { return s.t }

func (s stringSerializer) Encode(enc *jsontext.Encoder, v any) error {
	switch str := v.(type) {
	case nil:
		return enc.WriteToken(jsontext.Null)
	case string:
		return enc.WriteToken(jsontext.String(str))
	}
	return encodeErrorf(s.t, "unexpected %T", v)
}

func (s stringSerializer) Decode(dec *jsontext.Decoder) (any, error) {
	tok, ok, err := readScalar(s.t, dec)
	if err != nil || !ok {
		return nil, err
	}
	if tok.Kind() != '"' {
		return nil, decodeErrorf(s.t, "expected string, found %s", kindName(tok.Kind()))
	}
	return tok.String(), nil
}

// enumSerializer carries an enum constant as its symbolic name.
type enumSerializer struct {
	t       *Type
	symbols map[string]struct{}
}

func newEnumSerializer(t *Type) *enumSerializer {
	s := &enumSerializer{t: t, symbols: make(map[string]struct{}, len(t.Symbols))}
	for _, sym := range t.Symbols {
		s.symbols[sym] = struct{}{}
	}
	return s
}

func (s *enumSerializer) Type() *Type { return s.t }

func (s *enumSerializer) Encode(enc *jsontext.Encoder, v any) error {
	switch sym := v.(type) {
	case nil:
		return enc.WriteToken(jsontext.Null)
	case string:
		if _, ok := s.symbols[sym]; !ok {
			return encodeErrorf(s.t, "unknown constant %q", sym)
		}
		return enc.WriteToken(jsontext.String(sym))
	}
	return encodeErrorf(s.t, "unexpected %T", v)
}

func (s *enumSerializer) Decode(dec *jsontext.Decoder) (any, error) {
	tok, ok, err := readScalar(s.t, dec)
	if err != nil || !ok {
		return nil, err
	}
	if tok.Kind() != '"' {
		return nil, decodeErrorf(s.t, "expected string, found %s", kindName(tok.Kind()))
	}
	sym := tok.String()
	if _, ok := s.symbols[sym]; !ok {
		return nil, decodeErrorf(s.t, "unknown constant %q", sym)
	}
	return sym, nil
}
