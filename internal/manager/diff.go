package manager

import "sort"

type changeKind int

const (
	changeAdded changeKind = iota
	changeModified
	changeRemoved
)

type change[V any] struct {
	kind changeKind
	key  string
	cur  V
	prev V
}

// diffSets compares two keyed snapshots and returns one change per key that
// was added, modified or removed, ordered by key. Keys in skip are ignored.
func diffSets[V any](prev, next map[string]V, equal func(a, b V) bool, skip map[string]struct{}) []change[V] {
	var out []change[V]
	for k, n := range next {
		if _, ok := skip[k]; ok {
			continue
		}
		p, ok := prev[k]
		switch {
		case !ok:
			out = append(out, change[V]{kind: changeAdded, key: k, cur: n})
		case !equal(p, n):
			out = append(out, change[V]{kind: changeModified, key: k, cur: n, prev: p})
		}
	}
	for k, p := range prev {
		if _, ok := skip[k]; ok {
			continue
		}
		if _, ok := next[k]; !ok {
			out = append(out, change[V]{kind: changeRemoved, key: k, cur: p, prev: p})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].key < out[j].key })
	return out
}
