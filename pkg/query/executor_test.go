package query_test

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/pay-theory/dynaquery/pkg/core"
	dqerrors "github.com/pay-theory/dynaquery/pkg/errors"
	"github.com/pay-theory/dynaquery/pkg/mocks"
	"github.com/pay-theory/dynaquery/pkg/query"
)

func item(app string, hour int) core.Item {
	return core.Item{
		"app":  &types.AttributeValueMemberS{Value: app},
		"hour": &types.AttributeValueMemberN{Value: strconv.Itoa(hour)},
	}
}

func betweenPlan(t *testing.T) *core.QueryPlan {
	t.Helper()
	c := newCompiler(t)
	plan, err := c.Compile(map[string]any{
		"app":  "weixin_msg",
		"hour": map[string]any{"$gte": 2018102000, "$lte": 2018102005},
	}, nil, core.QueryOptions{Limit: 2})
	require.NoError(t, err)
	return plan
}

func TestFetchAllFollowsCursorAcrossThreePages(t *testing.T) {
	store := new(mocks.MockStore)
	ctx := context.Background()
	plan := betweenPlan(t)

	page1 := []core.Item{item("weixin_msg", 2018102000), item("weixin_msg", 2018102001)}
	page2 := []core.Item{item("weixin_msg", 2018102002), item("weixin_msg", 2018102003)}
	page3 := []core.Item{item("weixin_msg", 2018102004)}

	store.On("Query", ctx, mock.MatchedBy(func(in *dynamodb.QueryInput) bool {
		return in.ExclusiveStartKey == nil
	}), mock.Anything).Return(&dynamodb.QueryOutput{Items: page1, LastEvaluatedKey: page1[1], Count: 2}, nil).Once()

	store.On("Query", ctx, mock.MatchedBy(func(in *dynamodb.QueryInput) bool {
		return in.ExclusiveStartKey != nil && in.ExclusiveStartKey["hour"].(*types.AttributeValueMemberN).Value == "2018102001"
	}), mock.Anything).Return(&dynamodb.QueryOutput{Items: page2, LastEvaluatedKey: page2[1], Count: 2}, nil).Once()

	store.On("Query", ctx, mock.MatchedBy(func(in *dynamodb.QueryInput) bool {
		return in.ExclusiveStartKey != nil && in.ExclusiveStartKey["hour"].(*types.AttributeValueMemberN).Value == "2018102003"
	}), mock.Anything).Return(&dynamodb.QueryOutput{Items: page3, Count: 1}, nil).Once()

	items, err := query.NewExecutor(store).FetchAll(ctx, plan)
	require.NoError(t, err)

	want := append(append(append([]core.Item{}, page1...), page2...), page3...)
	assert.Equal(t, want, items)
	store.AssertNumberOfCalls(t, "Query", 3)
	store.AssertExpectations(t)

	// The plan itself is never modified by the walk
	assert.Nil(t, plan.Cursor)
}

func TestFetchPageBuildsQueryInput(t *testing.T) {
	store := new(mocks.MockStore)
	ctx := context.Background()
	plan := betweenPlan(t)
	plan.Cursor = item("weixin_msg", 2018102001)

	var captured *dynamodb.QueryInput
	store.On("Query", ctx, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			captured = args.Get(1).(*dynamodb.QueryInput)
		}).
		Return(&dynamodb.QueryOutput{Items: []core.Item{item("weixin_msg", 2018102002)}, LastEvaluatedKey: item("weixin_msg", 2018102002), Count: 1, ScannedCount: 3}, nil).Once()

	page, err := query.NewExecutor(store).FetchPage(ctx, plan)
	require.NoError(t, err)

	assert.Len(t, page.Items, 1)
	assert.True(t, page.HasMore())
	assert.Equal(t, int32(1), page.Count)
	assert.Equal(t, int32(3), page.ScannedCount)

	require.NotNil(t, captured)
	assert.Equal(t, "t_example_app_hour", aws.ToString(captured.TableName))
	assert.Nil(t, captured.IndexName)
	assert.Equal(t, "#app = :app AND #hour BETWEEN :hour_gte AND :hour_lte", aws.ToString(captured.KeyConditionExpression))
	assert.Nil(t, captured.FilterExpression)
	assert.Equal(t, int32(2), aws.ToInt32(captured.Limit))
	assert.True(t, aws.ToBool(captured.ScanIndexForward))
	assert.Equal(t, plan.Cursor, captured.ExclusiveStartKey)
	store.AssertExpectations(t)
}

func TestFetchPageScanPath(t *testing.T) {
	store := new(mocks.MockStore)
	ctx := context.Background()

	c := newCompiler(t)
	plan, err := c.Compile(map[string]any{"name": "x"}, []string{"name"}, core.QueryOptions{})
	require.NoError(t, err)

	store.On("Scan", ctx, mock.MatchedBy(func(in *dynamodb.ScanInput) bool {
		return aws.ToString(in.FilterExpression) == "#name = :name_s1" &&
			aws.ToString(in.ProjectionExpression) == "#name" &&
			in.ExclusiveStartKey == nil
	}), mock.Anything).Return(&dynamodb.ScanOutput{}, nil).Once()

	page, err := query.NewExecutor(store).FetchPage(ctx, plan)
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.False(t, page.HasMore())
	store.AssertNotCalled(t, "Query", mock.Anything, mock.Anything, mock.Anything)
	store.AssertExpectations(t)
}

func TestFetchAllWrapsStoreErrors(t *testing.T) {
	store := new(mocks.MockStore)
	ctx := context.Background()
	cause := errors.New("ProvisionedThroughputExceededException")

	store.On("Query", ctx, mock.Anything, mock.Anything).Return(nil, cause).Once()

	_, err := query.NewExecutor(store).FetchAll(ctx, betweenPlan(t))
	require.Error(t, err)
	assert.True(t, dqerrors.IsStoreError(err))
	assert.False(t, dqerrors.IsCompileError(err))
	assert.ErrorIs(t, err, cause)
}

func TestEachStopsOnCallbackError(t *testing.T) {
	store := new(mocks.MockStore)
	ctx := context.Background()
	stop := errors.New("stop")

	store.On("Query", ctx, mock.Anything, mock.Anything).
		Return(&dynamodb.QueryOutput{Items: []core.Item{item("a", 1), item("a", 2)}, LastEvaluatedKey: item("a", 2)}, nil).Once()

	seen := 0
	err := query.NewExecutor(store).Each(ctx, betweenPlan(t), func(core.Item) error {
		seen++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, seen)
	store.AssertNumberOfCalls(t, "Query", 1)
}

func TestEachChecksContextBeforeEveryPage(t *testing.T) {
	store := new(mocks.MockStore)
	ctx, cancel := context.WithCancel(context.Background())

	store.On("Query", ctx, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { cancel() }).
		Return(&dynamodb.QueryOutput{Items: []core.Item{item("a", 1)}, LastEvaluatedKey: item("a", 1)}, nil).Once()

	items, err := query.NewExecutor(store).FetchAll(ctx, betweenPlan(t))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, items)
	store.AssertNumberOfCalls(t, "Query", 1)
}

func TestUnmarshalItems(t *testing.T) {
	type row struct {
		App  string `dynamodbav:"app"`
		Hour int    `dynamodbav:"hour"`
	}

	var rows []row
	require.NoError(t, query.UnmarshalItems([]core.Item{item("a", 7)}, &rows))
	assert.Equal(t, []row{{App: "a", Hour: 7}}, rows)
}
