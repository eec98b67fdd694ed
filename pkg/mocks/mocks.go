// Package mocks provides testify mock implementations of dynaquery interfaces.
//
// # Basic Usage
//
// Mock the store client and hand it to an executor or client:
//
//	store := new(mocks.MockStore)
//	store.On("Query", mock.Anything, mock.Anything, mock.Anything).
//	    Return(&dynamodb.QueryOutput{Items: items}, nil).Once()
//
//	exec := query.NewExecutor(store)
//	got, err := exec.FetchAll(ctx, plan)
//
//	store.AssertExpectations(t)
//
// # Inspecting Requests
//
// Use mock.MatchedBy to assert on the request a plan produced:
//
//	store.On("Query", mock.Anything, mock.MatchedBy(func(in *dynamodb.QueryInput) bool {
//	    return aws.ToString(in.IndexName) == "t_example_hour_app_index"
//	}), mock.Anything).Return(&dynamodb.QueryOutput{}, nil)
//
// # Error Handling
//
// Returning a nil output with an error simulates a store failure:
//
//	store.On("Scan", mock.Anything, mock.Anything, mock.Anything).
//	    Return(nil, errors.New("ProvisionedThroughputExceededException"))
package mocks

// Store is an alias for MockStore to allow shorter declarations
type Store = MockStore
