package query

import (
	"context"
	"fmt"
	"maps"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/pay-theory/dynaquery/internal/metrics"
	"github.com/pay-theory/dynaquery/pkg/core"
	"github.com/pay-theory/dynaquery/pkg/errors"
	"github.com/pay-theory/dynaquery/pkg/log"
)

// Executor runs compiled plans against the store, one page at a time or to exhaustion
type Executor struct {
	store  core.StoreAPI
	logger log.Logger
}

// ExecutorOption configures an Executor
type ExecutorOption func(*Executor)

// WithExecutorLogger sets the logger used for page diagnostics
func WithExecutorLogger(logger log.Logger) ExecutorOption {
	return func(e *Executor) {
		e.logger = logger
	}
}

// NewExecutor creates an executor over the given store client
func NewExecutor(store core.StoreAPI, opts ...ExecutorOption) *Executor {
	e := &Executor{
		store:  store,
		logger: log.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// FetchPage executes exactly one Query (or Scan) request for the plan,
// starting at the plan's cursor
func (e *Executor) FetchPage(ctx context.Context, plan *core.QueryPlan) (*Page, error) {
	if plan == nil {
		return nil, fmt.Errorf("query plan cannot be nil")
	}
	return e.fetch(ctx, plan, plan.Cursor)
}

// FetchAll follows the continuation cursor until the store reports no more
// pages and returns every item in delivery order
func (e *Executor) FetchAll(ctx context.Context, plan *core.QueryPlan) ([]core.Item, error) {
	var all []core.Item
	err := e.Each(ctx, plan, func(item core.Item) error {
		all = append(all, item)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return all, nil
}

// Each streams every item the plan produces to fn. Returning an error from fn
// stops the walk and returns that error. The context is checked before every page.
func (e *Executor) Each(ctx context.Context, plan *core.QueryPlan, fn func(core.Item) error) error {
	if plan == nil {
		return fmt.Errorf("query plan cannot be nil")
	}

	startKey := plan.Cursor
	pages := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		page, err := e.fetch(ctx, plan, startKey)
		if err != nil {
			return err
		}
		pages++

		for _, item := range page.Items {
			if err := fn(item); err != nil {
				return err
			}
		}

		if len(page.LastKey) == 0 {
			e.logger.Debug("query exhausted", "table", plan.TableName, "pages", pages)
			return nil
		}
		startKey = page.LastKey
	}
}

func (e *Executor) fetch(ctx context.Context, plan *core.QueryPlan, startKey map[string]types.AttributeValue) (*Page, error) {
	if plan.AccessPath.UsesQuery() {
		start := time.Now()
		output, err := e.store.Query(ctx, QueryInput(plan, startKey))
		metrics.ObserveRequest("Query", start, err)
		if err != nil {
			return nil, errors.NewStoreError("query", plan.TableName, err)
		}
		return &Page{
			Items:        output.Items,
			LastKey:      output.LastEvaluatedKey,
			Count:        output.Count,
			ScannedCount: output.ScannedCount,
		}, nil
	}

	start := time.Now()
	output, err := e.store.Scan(ctx, ScanInput(plan, startKey))
	metrics.ObserveRequest("Scan", start, err)
	if err != nil {
		return nil, errors.NewStoreError("scan", plan.TableName, err)
	}
	return &Page{
		Items:        output.Items,
		LastKey:      output.LastEvaluatedKey,
		Count:        output.Count,
		ScannedCount: output.ScannedCount,
	}, nil
}

// QueryInput builds the Query request for a plan. The plan is not modified;
// startKey is copied into the request.
func QueryInput(plan *core.QueryPlan, startKey map[string]types.AttributeValue) *dynamodb.QueryInput {
	input := &dynamodb.QueryInput{
		TableName:        aws.String(plan.TableName),
		ScanIndexForward: aws.Bool(plan.ScanForward),
		Limit:            plan.Limit,
	}

	if plan.IndexName != "" {
		input.IndexName = aws.String(plan.IndexName)
	}
	if plan.KeyCondition != "" {
		input.KeyConditionExpression = aws.String(plan.KeyCondition)
	}
	if plan.FilterCondition != "" {
		input.FilterExpression = aws.String(plan.FilterCondition)
	}
	if plan.Projection != "" {
		input.ProjectionExpression = aws.String(plan.Projection)
	}
	if len(plan.Names) > 0 {
		input.ExpressionAttributeNames = plan.Names
	}
	if len(plan.Values) > 0 {
		input.ExpressionAttributeValues = plan.Values
	}
	if len(startKey) > 0 {
		input.ExclusiveStartKey = maps.Clone(startKey)
	}

	return input
}

// ScanInput builds the Scan request for a plan
func ScanInput(plan *core.QueryPlan, startKey map[string]types.AttributeValue) *dynamodb.ScanInput {
	input := &dynamodb.ScanInput{
		TableName: aws.String(plan.TableName),
		Limit:     plan.Limit,
	}

	if plan.IndexName != "" {
		input.IndexName = aws.String(plan.IndexName)
	}
	if plan.FilterCondition != "" {
		input.FilterExpression = aws.String(plan.FilterCondition)
	}
	if plan.Projection != "" {
		input.ProjectionExpression = aws.String(plan.Projection)
	}
	if len(plan.Names) > 0 {
		input.ExpressionAttributeNames = plan.Names
	}
	if len(plan.Values) > 0 {
		input.ExpressionAttributeValues = plan.Values
	}
	if len(startKey) > 0 {
		input.ExclusiveStartKey = maps.Clone(startKey)
	}

	return input
}

// UnmarshalItems decodes store items into dest, a pointer to a slice
func UnmarshalItems(items []core.Item, dest any) error {
	if err := attributevalue.UnmarshalListOfMaps(items, dest); err != nil {
		return fmt.Errorf("failed to unmarshal items: %w", err)
	}
	return nil
}
