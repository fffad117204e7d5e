// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package codec derives JSON serializers from type descriptors.
//
// A Type describes the wire shape of a value: scalars (bool, 32-bit int,
// float, char, string), dates and timestamps, enums, arrays, lists, sets and
// records with named fields. A Registry walks a Type graph once and returns a
// memoized Serializer; cyclic record graphs resolve to the same serializer.
//
// Values use plain Go types:
//
//	bool, int32, float64, rune, string  scalars
//	time.Time                           dates and timestamps
//	string                              enum constants
//	[]any                               arrays, lists and sets
//	RecordValue                         records
//
// Records are written sparsely: fields holding nil are omitted and fields
// appear in name order, so equal records always produce identical bytes.
package codec
