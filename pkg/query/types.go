package query

import (
	"github.com/pay-theory/dynaquery/pkg/core"
)

// Page is the result of one Query or Scan request
type Page struct {
	Items        []core.Item
	LastKey      core.Item
	Count        int32
	ScannedCount int32
}

// HasMore reports whether the store returned a continuation cursor
func (p *Page) HasMore() bool {
	return p != nil && len(p.LastKey) > 0
}

// PaginatedResult is the serializable form of a page, used by the CLI and Lambda surfaces
type PaginatedResult struct {
	Items      []map[string]any `json:"items"`
	NextCursor string           `json:"lastKey,omitempty"`
	Count      int              `json:"count"`
	HasMore    bool             `json:"hasMore"`
}
