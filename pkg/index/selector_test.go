package index_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pay-theory/dynaquery/pkg/core"
	"github.com/pay-theory/dynaquery/pkg/errors"
	"github.com/pay-theory/dynaquery/pkg/filter"
	"github.com/pay-theory/dynaquery/pkg/index"
)

var appHour = []core.IndexDescriptor{
	{HashKey: "app", RangeKey: "hour"},
	{HashKey: "hour", RangeKey: "app", IndexName: "t_example_hour_app_index"},
	{HashKey: "user", IndexName: "t_example_user_index"},
}

func parse(t *testing.T, doc map[string]any) *filter.Filter {
	t.Helper()
	f, err := filter.Parse(doc)
	require.NoError(t, err)
	return f
}

func TestSelect(t *testing.T) {
	tests := []struct {
		name      string
		doc       map[string]any
		opts      core.QueryOptions
		wantKind  core.AccessPath
		wantIndex string
	}{
		{
			name:     "hash and range scalars give get",
			doc:      map[string]any{"app": "weixin_msg", "hour": 2018102000},
			wantKind: core.AccessGet,
		},
		{
			name:     "hash only gives query",
			doc:      map[string]any{"app": "weixin_msg"},
			wantKind: core.AccessQuery,
		},
		{
			name:     "range prefix gives beginswith",
			doc:      map[string]any{"app": "a", "hour": map[string]any{"$begins_with": "2018"}},
			wantKind: core.AccessBeginsWith,
		},
		{
			name:     "two sided bound gives between",
			doc:      map[string]any{"app": "a", "hour": map[string]any{"$gte": 1, "$lte": 5}},
			wantKind: core.AccessBetween,
		},
		{
			name:     "one sided bound stays query",
			doc:      map[string]any{"app": "a", "hour": map[string]any{"$gte": 1}},
			wantKind: core.AccessQuery,
		},
		{
			name:     "sort on range key gives sort",
			doc:      map[string]any{"app": "a"},
			opts:     core.QueryOptions{Sort: map[string]int{"hour": -1}},
			wantKind: core.AccessSort,
		},
		{
			name:     "sort on another field stays query",
			doc:      map[string]any{"app": "a"},
			opts:     core.QueryOptions{Sort: map[string]int{"day": 1}},
			wantKind: core.AccessQuery,
		},
		{
			name:      "secondary index reached through its hash key",
			doc:       map[string]any{"hour": 2018102000},
			wantKind:  core.AccessQuery,
			wantIndex: "t_example_hour_app_index",
		},
		{
			name:      "earlier secondary index wins an equal kind",
			doc:       map[string]any{"hour": 2018102000, "app": map[string]any{"$ne": "x"}, "user": "u"},
			wantKind:  core.AccessQuery,
			wantIndex: "t_example_hour_app_index",
		},
		{
			name:      "hash only secondary index is eligible",
			doc:       map[string]any{"user": "u1"},
			wantKind:  core.AccessQuery,
			wantIndex: "t_example_user_index",
		},
		{
			name:     "no bound hash key gives scan",
			doc:      map[string]any{"name": "x", "hour": map[string]any{"$gt": 3}},
			wantKind: core.AccessScan,
		},
		{
			name:     "hash key under an operator is not bound",
			doc:      map[string]any{"app": map[string]any{"$begins_with": "wx"}},
			wantKind: core.AccessScan,
		},
	}

	selector := index.NewSelector(appHour)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sel, err := selector.Select(parse(t, tt.doc), tt.opts)
			require.NoError(t, err)
			assert.Equal(t, tt.wantKind, sel.Kind, sel.Kind.String())
			assert.Equal(t, tt.wantIndex, sel.Index.IndexName)
		})
	}
}

func TestSelectFirstDescriptorWinsTies(t *testing.T) {
	selector := index.NewSelector([]core.IndexDescriptor{
		{HashKey: "app", RangeKey: "hour"},
		{HashKey: "app", RangeKey: "day", IndexName: "t_example_app_day_index"},
	})

	sel, err := selector.Select(parse(t, map[string]any{"app": "a"}), core.QueryOptions{})
	require.NoError(t, err)
	assert.Equal(t, core.AccessQuery, sel.Kind)
	assert.True(t, sel.Index.IsPrimary())

	// A strictly better later descriptor replaces the running best
	sel, err = selector.Select(parse(t, map[string]any{
		"app": "a",
		"day": map[string]any{"$begins_with": "2018"},
	}), core.QueryOptions{})
	require.NoError(t, err)
	assert.Equal(t, core.AccessBeginsWith, sel.Kind)
	assert.Equal(t, "t_example_app_day_index", sel.Index.IndexName)
}

func TestSelectPrimaryHashOnlyRefuses(t *testing.T) {
	selector := index.NewSelector([]core.IndexDescriptor{
		{HashKey: "id"},
		{HashKey: "email", IndexName: "t_users_email_index"},
	})

	_, err := selector.Select(parse(t, map[string]any{"id": "u1", "name": "x"}), core.QueryOptions{})
	require.Error(t, err)
	assert.True(t, errors.IsUsePointLookup(err))

	// The refusal applies only to the primary descriptor
	sel, err := selector.Select(parse(t, map[string]any{"email": "a@b.c"}), core.QueryOptions{})
	require.NoError(t, err)
	assert.Equal(t, core.AccessQuery, sel.Kind)
	assert.Equal(t, "t_users_email_index", sel.Index.IndexName)
}
