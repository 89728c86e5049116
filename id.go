// Copyright (C) 2017 Michael J. Fromberger. All Rights Reserved.

package rpcengine

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// An Id is a JSON-RPC request identifier. Per the wire format it is either a
// signed integer or a string; the zero Id is not a valid wire identifier and
// is used internally to mean "no id" (a notification).
//
// Id values are comparable and may be used as map keys.
type Id struct {
	kind idKind
	str  string
	num  int64
}

type idKind uint8

const (
	idNone idKind = iota
	idInt
	idString
)

// IntId returns an Id with the given signed integer value.
func IntId(n int64) Id { return Id{kind: idInt, num: n} }

// StringId returns an Id with the given string value.
func StringId(s string) Id { return Id{kind: idString, str: s} }

// IsZero reports whether id is the zero Id (no identifier: a notification).
func (id Id) IsZero() bool { return id.kind == idNone }

// String renders id in a form suitable for logging and for use as a raw
// request id on the wire for string-typed ids.
func (id Id) String() string {
	switch id.kind {
	case idInt:
		return strconv.FormatInt(id.num, 10)
	case idString:
		return id.str
	default:
		return ""
	}
}

// MarshalJSON implements json.Marshaler.
func (id Id) MarshalJSON() ([]byte, error) {
	switch id.kind {
	case idInt:
		return []byte(strconv.FormatInt(id.num, 10)), nil
	case idString:
		return json.Marshal(id.str)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON implements json.Unmarshaler. It accepts a JSON integer
// (without a fractional part) or a JSON string; any other shape, including
// "null", is rejected.
func (id *Id) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return fmt.Errorf("rpcengine: empty id")
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = StringId(s)
		return nil
	}
	if trimmed[0] == '-' || (trimmed[0] >= '0' && trimmed[0] <= '9') {
		if strings.ContainsAny(trimmed, ".eE") {
			return fmt.Errorf("rpcengine: fractional id %q is not allowed", trimmed)
		}
		n, err := strconv.ParseInt(trimmed, 10, 64)
		if err != nil {
			return err
		}
		*id = IntId(n)
		return nil
	}
	return fmt.Errorf("rpcengine: invalid id shape %q", trimmed)
}

// idFromRaw parses a raw JSON id value. ok is false if v is empty (no id
// field present at all). err is non-nil if v is present but is not a valid
// id shape (null, float, bool, object, or array).
func idFromRaw(v json.RawMessage) (id Id, ok bool, err error) {
	if len(v) == 0 {
		return Id{}, false, nil
	}
	var parsed Id
	if uerr := parsed.UnmarshalJSON(v); uerr != nil {
		return Id{}, true, uerr
	}
	return parsed, true, nil
}

// An idSetKey is the canonical, comparable form of an IdSet, suitable for use
// as a map key (a slice cannot be, so the sorted form is pre-joined into a
// string). Per the design note on id-set map keys, this is the sorted
// canonical form; two id-sets with the same members compare equal regardless
// of original order.
type idSetKey string

// An IdSet is the unordered set of ids that make up a batch call, used as the
// correlation key for waitingBatches.
type IdSet struct {
	key idSetKey // sorted, comma-joined canonical form
	ids []Id     // original ids, in call order, for result-map construction
}

// NewIdSet builds the IdSet for the given ids, which must be pairwise
// distinct (the caller is responsible for generating unique ids; see the
// open question on duplicate ids in the design notes).
func NewIdSet(ids []Id) IdSet {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = id.wireKey()
	}
	sorted := append([]string(nil), parts...)
	sort.Strings(sorted)
	cp := append([]Id(nil), ids...)
	return IdSet{key: idSetKey(strings.Join(sorted, ",")), ids: cp}
}

// Key returns the comparable, hashable key for s, for use as a map key.
func (s IdSet) Key() idSetKey { return s.key }

// wireKey renders id into a string that disambiguates the int64 1 from the
// string "1", so the two kinds never collide in a canonical key.
func (id Id) wireKey() string {
	switch id.kind {
	case idInt:
		return "i" + strconv.FormatInt(id.num, 10)
	case idString:
		return "s" + id.str
	default:
		return ""
	}
}

// Ids returns the ids that make up the set, in their original order.
func (s IdSet) Ids() []Id { return s.ids }
