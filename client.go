// Package dynaquery is a DynamoDB data-access layer that compiles MongoDB-style
// filter documents into Query or Scan requests against one table.
package dynaquery

import (
	"context"
	"fmt"
	"maps"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/pay-theory/dynaquery/internal/expr"
	"github.com/pay-theory/dynaquery/internal/metrics"
	"github.com/pay-theory/dynaquery/pkg/batch"
	"github.com/pay-theory/dynaquery/pkg/core"
	"github.com/pay-theory/dynaquery/pkg/errors"
	"github.com/pay-theory/dynaquery/pkg/filter"
	"github.com/pay-theory/dynaquery/pkg/log"
	"github.com/pay-theory/dynaquery/pkg/query"
	"github.com/pay-theory/dynaquery/pkg/session"
)

// UpdateTimeAttribute is stamped with the current time in milliseconds on every Update
const UpdateTimeAttribute = "update_time"

// QueryOptions are the caller-facing query options. Cursor is the opaque
// lastKey token returned with a previous page.
type QueryOptions struct {
	Sort   map[string]int `json:"sort,omitempty"`
	Limit  int32          `json:"limit,omitempty"`
	Cursor string         `json:"lastKey,omitempty"`
}

// BatchGetResult holds the items found and the keys the store left unprocessed
type BatchGetResult struct {
	Items       []map[string]any
	Unprocessed []map[string]any
}

// BatchWriteResult holds the items the store left unprocessed
type BatchWriteResult struct {
	Unprocessed []map[string]any
}

// Client runs reads and writes against one table
type Client struct {
	store    core.StoreAPI
	compiler *query.Compiler
	executor *query.Executor
	batch    *batch.Runner
	logger   log.Logger
	now      func() time.Time
}

type clientOptions struct {
	logger         log.Logger
	maxConcurrency int
	compilerOpts   []query.CompilerOption
	now            func() time.Time
}

// Option configures a Client
type Option func(*clientOptions)

// WithLogger sets the logger shared by the compiler, executor and batch runner
func WithLogger(logger log.Logger) Option {
	return func(o *clientOptions) {
		o.logger = logger
	}
}

// WithMaxConcurrency bounds the batch chunks in flight
func WithMaxConcurrency(n int) Option {
	return func(o *clientOptions) {
		o.maxConcurrency = n
	}
}

// WithCompilerOptions passes extra options to the query compiler
func WithCompilerOptions(opts ...query.CompilerOption) Option {
	return func(o *clientOptions) {
		o.compilerOpts = append(o.compilerOpts, opts...)
	}
}

// WithClock replaces the time source used for update_time
func WithClock(now func() time.Time) Option {
	return func(o *clientOptions) {
		o.now = now
	}
}

// New creates a client for the table described by topology
func New(store core.StoreAPI, topology core.Topology, opts ...Option) (*Client, error) {
	if store == nil {
		return nil, fmt.Errorf("store client cannot be nil")
	}

	o := &clientOptions{
		logger:         log.NewNop(),
		maxConcurrency: batch.DefaultMaxConcurrency,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}

	compilerOpts := append([]query.CompilerOption{query.WithCompilerLogger(o.logger)}, o.compilerOpts...)
	compiler, err := query.NewCompiler(topology, compilerOpts...)
	if err != nil {
		return nil, err
	}

	return &Client{
		store:    store,
		compiler: compiler,
		executor: query.NewExecutor(store, query.WithExecutorLogger(o.logger)),
		batch: batch.NewRunner(store, topology.TableName,
			batch.WithMaxConcurrency(o.maxConcurrency),
			batch.WithLogger(o.logger),
		),
		logger: o.logger,
		now:    o.now,
	}, nil
}

// Open creates the DynamoDB client from cfg and returns a Client over it
func Open(ctx context.Context, cfg *session.Config, topology core.Topology, opts ...Option) (*Client, error) {
	sess, err := session.NewSession(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	store, err := sess.Client()
	if err != nil {
		return nil, err
	}
	return New(store, topology, opts...)
}

// Topology returns the table's index layout
func (c *Client) Topology() core.Topology {
	return c.compiler.Topology()
}

func (c *Client) table() string {
	return c.compiler.Topology().TableName
}

// Compile returns the plan a query with these arguments would run
func (c *Client) Compile(doc map[string]any, fields []string, opts QueryOptions) (*core.QueryPlan, error) {
	coreOpts, err := c.coreOptions(opts)
	if err != nil {
		return nil, err
	}
	return c.compiler.Compile(doc, fields, coreOpts)
}

// Query runs one page of the query. The returned NextCursor resumes it.
func (c *Client) Query(ctx context.Context, doc map[string]any, fields []string, opts QueryOptions) (*query.PaginatedResult, error) {
	plan, err := c.Compile(doc, fields, opts)
	if err != nil {
		return nil, err
	}

	page, err := c.executor.FetchPage(ctx, plan)
	if err != nil {
		return nil, err
	}

	items, err := decodeItems(page.Items)
	if err != nil {
		return nil, errors.NewError("query", c.table(), err)
	}
	cursor, err := query.EncodeCursor(page.LastKey, plan.IndexName)
	if err != nil {
		return nil, errors.NewError("query", c.table(), err)
	}

	return &query.PaginatedResult{
		Items:      items,
		NextCursor: cursor,
		Count:      len(items),
		HasMore:    page.HasMore(),
	}, nil
}

// QueryAll runs the query to exhaustion and returns every item
func (c *Client) QueryAll(ctx context.Context, doc map[string]any, fields []string, opts QueryOptions) ([]map[string]any, error) {
	plan, err := c.Compile(doc, fields, opts)
	if err != nil {
		return nil, err
	}

	raw, err := c.executor.FetchAll(ctx, plan)
	if err != nil {
		return nil, err
	}

	items, err := decodeItems(raw)
	if err != nil {
		return nil, errors.NewError("query_all", c.table(), err)
	}
	return items, nil
}

// Each streams every item the query produces to fn
func (c *Client) Each(ctx context.Context, doc map[string]any, fields []string, opts QueryOptions, fn func(map[string]any) error) error {
	plan, err := c.Compile(doc, fields, opts)
	if err != nil {
		return err
	}

	return c.executor.Each(ctx, plan, func(item core.Item) error {
		var out map[string]any
		if err := attributevalue.UnmarshalMap(item, &out); err != nil {
			return errors.NewError("each", c.table(), err)
		}
		return fn(out)
	})
}

// Get returns the item for key. The first index whose key attributes are all
// present in key is used: the primary key reads with GetItem, a secondary
// index with a single-item query against that index.
func (c *Client) Get(ctx context.Context, key map[string]any, fields []string) (map[string]any, error) {
	idx, ok := c.matchIndex(key)
	if !ok {
		return nil, errors.NewError("get", c.table(), errors.ErrMissingPrimaryKey)
	}

	if !idx.IsPrimary() {
		return c.getFromIndex(ctx, idx, key, fields)
	}

	avKey, err := expr.ConvertItem(keyOf(idx, key))
	if err != nil {
		return nil, errors.NewError("get", c.table(), err)
	}

	input := &dynamodb.GetItemInput{
		TableName: aws.String(c.table()),
		Key:       avKey,
	}
	if len(fields) > 0 {
		r := expr.NewRenderer()
		input.ProjectionExpression = aws.String(r.Projection(fields))
		input.ExpressionAttributeNames = r.Names()
	}

	start := time.Now()
	out, err := c.store.GetItem(ctx, input)
	metrics.ObserveRequest("GetItem", start, err)
	if err != nil {
		return nil, errors.NewStoreError("get", c.table(), err)
	}
	if len(out.Item) == 0 {
		return nil, errors.NewError("get", c.table(), errors.ErrItemNotFound)
	}
	return decodeItem(out.Item)
}

func (c *Client) getFromIndex(ctx context.Context, idx core.IndexDescriptor, key map[string]any, fields []string) (map[string]any, error) {
	r := expr.NewRenderer()
	cond, err := r.RenderKey(filter.Equality{Field: idx.HashKey, Value: key[idx.HashKey]})
	if err != nil {
		return nil, errors.NewError("get", c.table(), err)
	}
	if idx.HasRangeKey() {
		rng, err := r.RenderKey(filter.Equality{Field: idx.RangeKey, Value: key[idx.RangeKey]})
		if err != nil {
			return nil, errors.NewError("get", c.table(), err)
		}
		cond += " AND " + rng
	}

	plan := &core.QueryPlan{
		AccessPath:   core.AccessGet,
		TableName:    c.table(),
		IndexName:    idx.IndexName,
		KeyCondition: cond,
		ScanForward:  true,
		Limit:        aws.Int32(1),
	}
	if len(fields) > 0 {
		plan.Projection = r.Projection(fields)
	}
	plan.Names = r.Names()
	plan.Values = r.Values()

	page, err := c.executor.FetchPage(ctx, plan)
	if err != nil {
		return nil, err
	}
	if len(page.Items) == 0 {
		return nil, errors.NewError("get", c.table(), errors.ErrItemNotFound)
	}
	return decodeItem(page.Items[0])
}

// Put writes item, dropping nil and empty-string attributes at every map level
func (c *Client) Put(ctx context.Context, item map[string]any) error {
	av, err := expr.ConvertItem(Prune(item))
	if err != nil {
		return errors.NewError("put", c.table(), err)
	}

	start := time.Now()
	_, err = c.store.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.table()),
		Item:      av,
	})
	metrics.ObserveRequest("PutItem", start, err)
	if err != nil {
		return errors.NewStoreError("put", c.table(), err)
	}
	return nil
}

// Update sets every non-key attribute in values on the item addressed by the
// primary key attributes in values, and returns the item after the update.
// update_time is set to the current time in milliseconds unless values carries one.
func (c *Client) Update(ctx context.Context, values map[string]any) (map[string]any, error) {
	primary, ok := c.Topology().Primary()
	if !ok || !hasKey(primary, values) {
		return nil, errors.NewError("update", c.table(), errors.ErrMissingPrimaryKey)
	}

	key, err := expr.ConvertItem(keyOf(primary, values))
	if err != nil {
		return nil, errors.NewError("update", c.table(), err)
	}

	set := map[string]any{UpdateTimeAttribute: c.now().UnixMilli()}
	for k, v := range values {
		if k == primary.HashKey || k == primary.RangeKey || v == nil {
			continue
		}
		set[k] = v
	}

	r := expr.NewRenderer()
	update, err := r.UpdateSet(set)
	if err != nil {
		return nil, errors.NewError("update", c.table(), err)
	}

	start := time.Now()
	out, err := c.store.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(c.table()),
		Key:                       key,
		UpdateExpression:          aws.String(update),
		ExpressionAttributeNames:  r.Names(),
		ExpressionAttributeValues: r.Values(),
		ReturnValues:              types.ReturnValueAllNew,
	})
	metrics.ObserveRequest("UpdateItem", start, err)
	if err != nil {
		return nil, errors.NewStoreError("update", c.table(), err)
	}
	return decodeItem(out.Attributes)
}

// Delete removes the item addressed by the primary key attributes in key
func (c *Client) Delete(ctx context.Context, key map[string]any) error {
	primary, ok := c.Topology().Primary()
	if !ok || !hasKey(primary, key) {
		return errors.NewError("delete", c.table(), errors.ErrMissingPrimaryKey)
	}

	avKey, err := expr.ConvertItem(keyOf(primary, key))
	if err != nil {
		return errors.NewError("delete", c.table(), err)
	}

	start := time.Now()
	_, err = c.store.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(c.table()),
		Key:       avKey,
	})
	metrics.ObserveRequest("DeleteItem", start, err)
	if err != nil {
		return errors.NewStoreError("delete", c.table(), err)
	}
	return nil
}

// BatchGet reads the items for keys by primary key. Items found before a chunk
// failure are returned along with the error.
func (c *Client) BatchGet(ctx context.Context, keys []map[string]any, fields []string) (*BatchGetResult, error) {
	primary, ok := c.Topology().Primary()
	if !ok {
		return nil, errors.NewError("batch_get", c.table(), errors.ErrMissingPrimaryKey)
	}

	avKeys := make([]core.Item, 0, len(keys))
	for i, k := range keys {
		if !hasKey(primary, k) {
			return nil, errors.NewError("batch_get", c.table(), fmt.Errorf("key %d: %w", i, errors.ErrMissingPrimaryKey))
		}
		av, err := expr.ConvertItem(keyOf(primary, k))
		if err != nil {
			return nil, errors.NewError("batch_get", c.table(), fmt.Errorf("key %d: %w", i, err))
		}
		avKeys = append(avKeys, av)
	}

	res, runErr := c.batch.Get(ctx, avKeys, fields)
	if res == nil {
		return nil, runErr
	}

	items, err := decodeItems(res.Items())
	if err != nil {
		return nil, errors.NewError("batch_get", c.table(), err)
	}
	unprocessed, err := decodeItems(res.Unprocessed())
	if err != nil {
		return nil, errors.NewError("batch_get", c.table(), err)
	}
	return &BatchGetResult{Items: items, Unprocessed: unprocessed}, runErr
}

// BatchWrite puts items in chunks, pruning each the way Put does
func (c *Client) BatchWrite(ctx context.Context, items []map[string]any) (*BatchWriteResult, error) {
	avItems := make([]core.Item, 0, len(items))
	for i, item := range items {
		av, err := expr.ConvertItem(Prune(item))
		if err != nil {
			return nil, errors.NewError("batch_write", c.table(), fmt.Errorf("item %d: %w", i, err))
		}
		avItems = append(avItems, av)
	}

	res, runErr := c.batch.Write(ctx, avItems)
	if res == nil {
		return nil, runErr
	}

	unprocessed, err := decodeItems(res.Unprocessed())
	if err != nil {
		return nil, errors.NewError("batch_write", c.table(), err)
	}
	return &BatchWriteResult{Unprocessed: unprocessed}, runErr
}

// Prune returns a copy of doc without nil and empty-string attributes.
// Nested maps are pruned too; list elements are kept as they are.
func Prune(doc map[string]any) map[string]any {
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		switch tv := v.(type) {
		case nil:
			continue
		case string:
			if tv == "" {
				continue
			}
		case map[string]any:
			v = Prune(tv)
		}
		out[k] = v
	}
	return out
}

func (c *Client) coreOptions(opts QueryOptions) (core.QueryOptions, error) {
	startKey, err := query.DecodeStartKey(opts.Cursor)
	if err != nil {
		return core.QueryOptions{}, errors.NewError("compile", c.table(), fmt.Errorf("%w: %w", errors.ErrInvalidOptions, err))
	}
	return core.QueryOptions{
		Sort:   maps.Clone(opts.Sort),
		Limit:  opts.Limit,
		Cursor: startKey,
	}, nil
}

// matchIndex returns the first descriptor whose key attributes are all in key
func (c *Client) matchIndex(key map[string]any) (core.IndexDescriptor, bool) {
	for _, idx := range c.Topology().Indexes {
		if hasKey(idx, key) {
			return idx, true
		}
	}
	return core.IndexDescriptor{}, false
}

func hasKey(idx core.IndexDescriptor, doc map[string]any) bool {
	if v, ok := doc[idx.HashKey]; !ok || v == nil {
		return false
	}
	if idx.HasRangeKey() {
		if v, ok := doc[idx.RangeKey]; !ok || v == nil {
			return false
		}
	}
	return true
}

func keyOf(idx core.IndexDescriptor, doc map[string]any) map[string]any {
	key := map[string]any{idx.HashKey: doc[idx.HashKey]}
	if idx.HasRangeKey() {
		key[idx.RangeKey] = doc[idx.RangeKey]
	}
	return key
}

func decodeItem(item core.Item) (map[string]any, error) {
	var out map[string]any
	if err := attributevalue.UnmarshalMap(item, &out); err != nil {
		return nil, fmt.Errorf("failed to decode item: %w", err)
	}
	return out, nil
}

func decodeItems(items []core.Item) ([]map[string]any, error) {
	out := make([]map[string]any, 0, len(items))
	for i, item := range items {
		doc, err := decodeItem(item)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		out = append(out, doc)
	}
	return out, nil
}
