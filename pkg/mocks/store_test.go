package mocks_test

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/pay-theory/dynaquery/pkg/mocks"
)

func TestMockStoreOperations(t *testing.T) {
	store := new(mocks.MockStore)
	ctx := context.Background()

	t.Run("query", func(t *testing.T) {
		input := &dynamodb.QueryInput{TableName: aws.String("tbl")}
		store.On("Query", ctx, input, mock.Anything).Return(&dynamodb.QueryOutput{}, nil).Once()

		out, err := store.Query(ctx, input)
		assert.NoError(t, err)
		assert.NotNil(t, out)
	})

	t.Run("scan", func(t *testing.T) {
		input := &dynamodb.ScanInput{TableName: aws.String("tbl")}
		store.On("Scan", ctx, input, mock.Anything).Return(&dynamodb.ScanOutput{}, nil).Once()

		out, err := store.Scan(ctx, input)
		assert.NoError(t, err)
		assert.NotNil(t, out)
	})

	t.Run("update item error returns nil output", func(t *testing.T) {
		input := &dynamodb.UpdateItemInput{TableName: aws.String("tbl")}
		expectedErr := errors.New("update failed")
		store.On("UpdateItem", ctx, input, mock.Anything).Return(nil, expectedErr).Once()

		out, err := store.UpdateItem(ctx, input)
		assert.ErrorIs(t, err, expectedErr)
		assert.Nil(t, out)
	})

	t.Run("batch write", func(t *testing.T) {
		input := &dynamodb.BatchWriteItemInput{}
		store.On("BatchWriteItem", ctx, input, mock.Anything).Return(&dynamodb.BatchWriteItemOutput{}, nil).Once()

		out, err := store.BatchWriteItem(ctx, input)
		assert.NoError(t, err)
		assert.NotNil(t, out)
	})

	store.AssertExpectations(t)
}
