// Package index chooses the access path for a filter against a table's index topology.
package index

import (
	"fmt"

	"github.com/pay-theory/dynaquery/pkg/core"
	"github.com/pay-theory/dynaquery/pkg/errors"
	"github.com/pay-theory/dynaquery/pkg/filter"
)

// Selection is the chosen access path and the descriptor that serves it.
// Index is the zero value when Kind is AccessScan.
type Selection struct {
	Kind  core.AccessPath
	Index core.IndexDescriptor
}

// Selector picks the most specific access path for a filter
type Selector struct {
	indexes []core.IndexDescriptor
}

// NewSelector creates a selector over descriptors in declaration order
func NewSelector(indexes []core.IndexDescriptor) *Selector {
	return &Selector{
		indexes: indexes,
	}
}

// Select walks the descriptors in order, keeping the first one that reaches
// the highest access path. A primary descriptor without a range key whose hash
// key is bound to a scalar refuses the query with ErrUsePointLookup.
func (s *Selector) Select(f *filter.Filter, opts core.QueryOptions) (Selection, error) {
	best := Selection{Kind: core.AccessScan}

	for _, idx := range s.indexes {
		if _, bound := f.Scalar(idx.HashKey); !bound {
			continue
		}

		if idx.IsPrimary() && !idx.HasRangeKey() {
			return Selection{}, fmt.Errorf("%w: hash key %s", errors.ErrUsePointLookup, idx.HashKey)
		}

		kind, final := s.scoreIndex(idx, f, opts)
		if kind > best.Kind {
			best = Selection{Kind: kind, Index: idx}
		}
		if final {
			break
		}
	}

	return best, nil
}

// scoreIndex returns the path a descriptor whose hash key is bound can
// achieve, and whether the walk should stop there
func (s *Selector) scoreIndex(idx core.IndexDescriptor, f *filter.Filter, opts core.QueryOptions) (core.AccessPath, bool) {
	if !idx.HasRangeKey() {
		return core.AccessQuery, false
	}

	cond, ok := f.Field(idx.RangeKey)
	if ok {
		if _, scalar := cond.Scalar(); scalar {
			return core.AccessGet, true
		}
	}

	if _, sorted := opts.Sort[idx.RangeKey]; sorted {
		return core.AccessSort, true
	}

	kind := core.AccessQuery
	if ok {
		switch {
		case cond.Has(filter.OpGTE) && cond.Has(filter.OpLTE):
			kind = core.AccessBetween
		case cond.Has(filter.OpBeginsWith):
			kind = core.AccessBeginsWith
		}
	}
	return kind, false
}
