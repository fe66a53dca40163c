// Granite - Andesite audio node client for Discord bots
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/granite

package filters

// Set combines filters into one filters op. A later filter of the same kind
// replaces an earlier one.
type Set struct {
	order []Kind
	byKnd map[Kind]Filter
}

// NewSet returns a set holding fs.
func NewSet(fs ...Filter) Set {
	var s Set
	for _, f := range fs {
		s = s.With(f)
	}
	return s
}

// With returns a copy of s that includes f.
func (s Set) With(f Filter) Set {
	if f == nil {
		return s
	}
	out := Set{
		order: make([]Kind, 0, len(s.order)+1),
		byKnd: make(map[Kind]Filter, len(s.byKnd)+1),
	}
	for _, k := range s.order {
		out.order = append(out.order, k)
		out.byKnd[k] = s.byKnd[k]
	}
	if _, ok := out.byKnd[f.Kind()]; !ok {
		out.order = append(out.order, f.Kind())
	}
	out.byKnd[f.Kind()] = f
	return out
}

// Get returns the filter of kind k, if present.
func (s Set) Get(k Kind) (Filter, bool) {
	f, ok := s.byKnd[k]
	return f, ok
}

// Len is the number of distinct filter kinds in s.
func (s Set) Len() int {
	return len(s.order)
}

// Kinds returns the kinds in insertion order.
func (s Set) Kinds() []Kind {
	return append([]Kind(nil), s.order...)
}

// Payload is the filters op body without guildId.
func (s Set) Payload() map[string]any {
	body := make(map[string]any, len(s.order))
	for _, k := range s.order {
		body[string(k)] = s.byKnd[k].Payload()
	}
	return body
}

// Reset returns a payload that disables every filter kind on the node.
func Reset() map[string]any {
	body := make(map[string]any, len(allKinds))
	for _, k := range allKinds {
		body[string(k)] = map[string]any{"enabled": false}
	}
	return body
}

var allKinds = []Kind{KindTimescale, KindKaraoke, KindTremolo, KindVibrato, KindEqualizer}
