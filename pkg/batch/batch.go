// Package batch runs chunked BatchGetItem and BatchWriteItem requests on a bounded worker pool.
package batch

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/panjf2000/ants/v2"

	"github.com/pay-theory/dynaquery/internal/expr"
	"github.com/pay-theory/dynaquery/internal/metrics"
	"github.com/pay-theory/dynaquery/pkg/core"
	"github.com/pay-theory/dynaquery/pkg/errors"
	"github.com/pay-theory/dynaquery/pkg/log"
)

// Store limits per request
const (
	MaxGetChunk   = 100
	MaxWriteChunk = 25
)

// DefaultMaxConcurrency bounds the chunks in flight when no option is given
const DefaultMaxConcurrency = 4

// ChunkResult is the outcome of one chunk. Unprocessed holds the keys (get)
// or items (write) the store handed back without processing.
type ChunkResult struct {
	Index       int
	Items       []core.Item
	Unprocessed []core.Item
	Err         error
}

// Result collects every chunk outcome in chunk order
type Result struct {
	Chunks []ChunkResult
}

// Items returns the items of every successful chunk in chunk order
func (r *Result) Items() []core.Item {
	var out []core.Item
	for _, c := range r.Chunks {
		out = append(out, c.Items...)
	}
	return out
}

// Unprocessed returns every key or item the store did not process
func (r *Result) Unprocessed() []core.Item {
	var out []core.Item
	for _, c := range r.Chunks {
		out = append(out, c.Unprocessed...)
	}
	return out
}

// Failed returns the chunks that ended with an error
func (r *Result) Failed() []ChunkResult {
	var out []ChunkResult
	for _, c := range r.Chunks {
		if c.Err != nil {
			out = append(out, c)
		}
	}
	return out
}

// Runner dispatches batch chunks for one table
type Runner struct {
	store          core.StoreAPI
	table          string
	maxConcurrency int
	logger         log.Logger
}

// Option configures a Runner
type Option func(*Runner)

// WithMaxConcurrency bounds the number of chunks in flight
func WithMaxConcurrency(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.maxConcurrency = n
		}
	}
}

// WithLogger sets the logger used for chunk diagnostics
func WithLogger(logger log.Logger) Option {
	return func(r *Runner) {
		r.logger = logger
	}
}

// NewRunner creates a batch runner for the table
func NewRunner(store core.StoreAPI, table string, opts ...Option) *Runner {
	r := &Runner{
		store:          store,
		table:          table,
		maxConcurrency: DefaultMaxConcurrency,
		logger:         log.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Get fetches the items for keys in chunks of MaxGetChunk. A non-empty
// projection limits the returned attributes.
func (r *Runner) Get(ctx context.Context, keys []core.Item, projection []string) (*Result, error) {
	var (
		projExpr  *string
		projNames map[string]string
	)
	if len(projection) > 0 {
		renderer := expr.NewRenderer()
		p := renderer.Projection(projection)
		projExpr = &p
		projNames = renderer.Names()
	}

	chunks := split(keys, MaxGetChunk)
	return r.run(ctx, "batch_get", chunks, func(ctx context.Context, chunk []core.Item) ChunkResult {
		start := time.Now()
		out, err := r.store.BatchGetItem(ctx, &dynamodb.BatchGetItemInput{
			RequestItems: map[string]types.KeysAndAttributes{
				r.table: {
					Keys:                     chunk,
					ProjectionExpression:     projExpr,
					ExpressionAttributeNames: projNames,
				},
			},
		})
		metrics.ObserveRequest("BatchGetItem", start, err)
		if err != nil {
			return ChunkResult{Err: errors.NewStoreError("batch_get", r.table, err)}
		}

		res := ChunkResult{Items: out.Responses[r.table]}
		if pending, ok := out.UnprocessedKeys[r.table]; ok {
			res.Unprocessed = pending.Keys
		}
		return res
	})
}

// Write puts items in chunks of MaxWriteChunk
func (r *Runner) Write(ctx context.Context, items []core.Item) (*Result, error) {
	return r.write(ctx, "batch_write", items, func(item core.Item) types.WriteRequest {
		return types.WriteRequest{PutRequest: &types.PutRequest{Item: item}}
	})
}

// Delete removes the items for keys in chunks of MaxWriteChunk
func (r *Runner) Delete(ctx context.Context, keys []core.Item) (*Result, error) {
	return r.write(ctx, "batch_delete", keys, func(key core.Item) types.WriteRequest {
		return types.WriteRequest{DeleteRequest: &types.DeleteRequest{Key: key}}
	})
}

func (r *Runner) write(ctx context.Context, op string, records []core.Item, toRequest func(core.Item) types.WriteRequest) (*Result, error) {
	chunks := split(records, MaxWriteChunk)
	return r.run(ctx, op, chunks, func(ctx context.Context, chunk []core.Item) ChunkResult {
		requests := make([]types.WriteRequest, len(chunk))
		for i, rec := range chunk {
			requests[i] = toRequest(rec)
		}

		start := time.Now()
		out, err := r.store.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]types.WriteRequest{r.table: requests},
		})
		metrics.ObserveRequest("BatchWriteItem", start, err)
		if err != nil {
			return ChunkResult{Err: errors.NewStoreError(op, r.table, err)}
		}

		var res ChunkResult
		for _, req := range out.UnprocessedItems[r.table] {
			switch {
			case req.PutRequest != nil:
				res.Unprocessed = append(res.Unprocessed, req.PutRequest.Item)
			case req.DeleteRequest != nil:
				res.Unprocessed = append(res.Unprocessed, req.DeleteRequest.Key)
			}
		}
		return res
	})
}

// run dispatches every chunk on a pool of at most maxConcurrency workers.
// Each chunk writes only its own slot of the result.
func (r *Runner) run(ctx context.Context, op string, chunks [][]core.Item, work func(context.Context, []core.Item) ChunkResult) (*Result, error) {
	result := &Result{Chunks: make([]ChunkResult, len(chunks))}
	if len(chunks) == 0 {
		return result, nil
	}

	pool, err := ants.NewPool(min(r.maxConcurrency, len(chunks)))
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}
	defer pool.Release()

	var wg sync.WaitGroup
	for i, chunk := range chunks {
		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			defer func() {
				if p := recover(); p != nil {
					result.Chunks[i] = ChunkResult{Index: i, Err: fmt.Errorf("chunk %d panicked: %v", i, p)}
				}
			}()

			if err := ctx.Err(); err != nil {
				result.Chunks[i] = ChunkResult{Index: i, Err: err}
				return
			}
			res := work(ctx, chunk)
			res.Index = i
			result.Chunks[i] = res
		})
		if submitErr != nil {
			wg.Done()
			result.Chunks[i] = ChunkResult{Index: i, Err: submitErr}
		}
	}
	wg.Wait()

	var chunkErrs []error
	for _, c := range result.Chunks {
		metrics.ObserveChunk(op, c.Err)
		if c.Err != nil {
			r.logger.Error("batch chunk failed", "table", r.table, "operation", op, "chunk", c.Index, "error", c.Err)
			chunkErrs = append(chunkErrs, fmt.Errorf("chunk %d: %w", c.Index, c.Err))
		}
		if len(c.Unprocessed) > 0 {
			r.logger.Warn("batch chunk left records unprocessed", "table", r.table, "operation", op, "chunk", c.Index, "count", len(c.Unprocessed))
		}
	}

	if len(chunkErrs) > 0 {
		return result, errors.NewError(op, r.table, fmt.Errorf("%w: %w", errors.ErrBatchOperationFailed, stderrors.Join(chunkErrs...)))
	}
	return result, nil
}

func split(records []core.Item, size int) [][]core.Item {
	chunks := make([][]core.Item, 0, (len(records)+size-1)/size)
	for i := 0; i < len(records); i += size {
		end := min(i+size, len(records))
		chunks = append(chunks, records[i:end])
	}
	return chunks
}
