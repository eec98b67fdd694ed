package query

import (
	"fmt"
	"maps"

	"github.com/aws/aws-sdk-go-v2/aws"

	"github.com/pay-theory/dynaquery/internal/expr"
	"github.com/pay-theory/dynaquery/internal/metrics"
	"github.com/pay-theory/dynaquery/pkg/core"
	"github.com/pay-theory/dynaquery/pkg/errors"
	"github.com/pay-theory/dynaquery/pkg/filter"
	"github.com/pay-theory/dynaquery/pkg/index"
	"github.com/pay-theory/dynaquery/pkg/log"
	"github.com/pay-theory/dynaquery/pkg/validation"
)

// Compiler turns filter documents into query plans for one table.
// It holds only the read-only topology and is safe for concurrent use.
type Compiler struct {
	topology core.Topology
	selector *index.Selector
	logger   log.Logger

	rendererOpts []expr.Option
}

// CompilerOption configures a Compiler
type CompilerOption func(*Compiler)

// WithCompilerLogger sets the logger used for diagnostics
func WithCompilerLogger(logger log.Logger) CompilerOption {
	return func(c *Compiler) {
		c.logger = logger
	}
}

// WithRendererOptions passes options to every expression renderer the compiler creates
func WithRendererOptions(opts ...expr.Option) CompilerOption {
	return func(c *Compiler) {
		c.rendererOpts = append(c.rendererOpts, opts...)
	}
}

// NewCompiler creates a compiler for the given topology
func NewCompiler(topology core.Topology, opts ...CompilerOption) (*Compiler, error) {
	if err := topology.Validate(); err != nil {
		return nil, errors.NewError("compile", topology.TableName, fmt.Errorf("%w: %w", errors.ErrInvalidTopology, err))
	}

	c := &Compiler{
		topology: topology,
		selector: index.NewSelector(topology.Indexes),
		logger:   log.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Topology returns the topology the compiler was built with
func (c *Compiler) Topology() core.Topology {
	return c.topology
}

// Compile selects an access path for doc and renders the plan. returnFields
// limits the returned attributes; an empty list returns all of them.
func (c *Compiler) Compile(doc map[string]any, returnFields []string, opts core.QueryOptions) (*core.QueryPlan, error) {
	table := c.topology.TableName

	if err := validateOptions(returnFields, opts); err != nil {
		return nil, errors.NewError("compile", table, err)
	}

	f, err := filter.Parse(doc)
	if err != nil {
		return nil, errors.NewError("compile", table, err)
	}

	sel, err := c.selector.Select(f, opts)
	if err != nil {
		c.logger.Warn("query matches a keys-only primary index, use a point lookup", "table", table)
		return nil, errors.NewError("compile", table, err)
	}

	r := expr.NewRenderer(c.rendererOpts...)
	plan := &core.QueryPlan{
		AccessPath:  sel.Kind,
		TableName:   table,
		IndexName:   sel.Index.IndexName,
		ScanForward: true,
	}

	var filterNodes []filter.Node
	if sel.Kind == core.AccessScan {
		filterNodes = f.Nodes()
		if len(opts.Sort) > 0 {
			c.logger.Debug("sort ignored for scan", "table", table)
		}
	} else {
		key, err := c.keyCondition(r, f, sel.Index)
		if err != nil {
			return nil, errors.NewError("compile", table, err)
		}
		plan.KeyCondition = key
		filterNodes = f.Nodes(sel.Index.HashKey, sel.Index.RangeKey)

		if sel.Index.HasRangeKey() && opts.Sort[sel.Index.RangeKey] == -1 {
			plan.ScanForward = false
		}
	}

	plan.FilterCondition, err = r.RenderAll(filterNodes)
	if err != nil {
		return nil, errors.NewError("compile", table, err)
	}

	if len(returnFields) > 0 {
		plan.Projection = r.Projection(returnFields)
	}

	for _, e := range []string{plan.KeyCondition, plan.FilterCondition, plan.Projection} {
		if err := validation.ValidateExpression(e); err != nil {
			return nil, errors.NewError("compile", table, fmt.Errorf("%w: %w", errors.ErrMalformedFilter, err))
		}
	}

	if len(r.Names()) > 0 {
		plan.Names = r.Names()
	}
	if len(r.Values()) > 0 {
		plan.Values = r.Values()
	}
	if opts.Limit > 0 {
		plan.Limit = aws.Int32(opts.Limit)
	}
	if len(opts.Cursor) > 0 {
		plan.Cursor = maps.Clone(opts.Cursor)
	}

	metrics.ObservePlan(plan.AccessPath.String())
	c.logger.Debug("compiled query plan",
		"table", table,
		"access_path", plan.AccessPath.String(),
		"index", plan.IndexName,
		"key_condition", plan.KeyCondition,
		"filter_condition", plan.FilterCondition,
	)

	return plan, nil
}

// keyCondition renders the key condition for the selected descriptor.
// DynamoDB rejects a filter expression that names a key attribute of the
// queried index, so range key conditions the key condition cannot carry
// are dropped with a warning.
func (c *Compiler) keyCondition(r *expr.Renderer, f *filter.Filter, idx core.IndexDescriptor) (string, error) {
	hashValue, _ := f.Scalar(idx.HashKey)
	hash, err := r.RenderKey(filter.Equality{Field: idx.HashKey, Value: hashValue})
	if err != nil {
		return "", err
	}

	if !idx.HasRangeKey() {
		return hash, nil
	}
	cond, ok := f.Field(idx.RangeKey)
	if !ok {
		return hash, nil
	}

	rangeExpr, consumed, err := rangeKeyCondition(r, cond)
	if err != nil {
		return "", err
	}

	for _, n := range cond.Without(consumed...) {
		c.logger.Warn("range key condition cannot be part of the key condition, dropping it",
			"table", c.topology.TableName,
			"index", idx.IndexName,
			"field", idx.RangeKey,
			"operator", string(filter.OperatorOf(n)),
		)
	}

	if rangeExpr == "" {
		return hash, nil
	}
	return hash + " AND " + rangeExpr, nil
}

// rangeKeyCondition picks the strongest condition on the range key that a
// key condition accepts: =, BETWEEN, begins_with, then >=, >, <=, <
func rangeKeyCondition(r *expr.Renderer, cond filter.FieldCondition) (string, []filter.Node, error) {
	if v, ok := cond.Scalar(); ok {
		s, err := r.RenderKey(filter.Equality{Field: cond.Field, Value: v})
		return s, cond.Nodes, err
	}

	gte, hasGTE := cond.Find(filter.OpGTE)
	lte, hasLTE := cond.Find(filter.OpLTE)
	if hasGTE && hasLTE {
		s, err := r.RenderBetween(cond.Field, gte.(filter.Comparison).Value, lte.(filter.Comparison).Value)
		return s, []filter.Node{gte, lte}, err
	}

	for _, op := range []filter.Operator{filter.OpBeginsWith, filter.OpGTE, filter.OpGT, filter.OpLTE, filter.OpLT} {
		if n, ok := cond.Find(op); ok {
			s, err := r.RenderKey(n)
			return s, []filter.Node{n}, err
		}
	}

	return "", nil, nil
}

func validateOptions(returnFields []string, opts core.QueryOptions) error {
	for field, dir := range opts.Sort {
		if dir != 1 && dir != -1 {
			return fmt.Errorf("%w: sort direction for %s must be 1 or -1, got %d", errors.ErrInvalidOptions, field, dir)
		}
	}
	if opts.Limit < 0 {
		return fmt.Errorf("%w: limit must not be negative", errors.ErrInvalidOptions)
	}
	for _, field := range returnFields {
		if err := validation.ValidateFieldName(field); err != nil {
			return fmt.Errorf("%w: return field: %w", errors.ErrInvalidOptions, err)
		}
	}
	return nil
}
