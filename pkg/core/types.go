// Package core defines the core types shared by the dynaquery packages
package core

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// AccessPath is the strategy chosen for reading from the table.
// Values are ordered by increasing specificity.
type AccessPath int

const (
	// AccessScan reads the whole table (or index) and filters store-side
	AccessScan AccessPath = iota
	// AccessQuery binds the hash key; the range key is absent or unconstrained
	AccessQuery
	// AccessBeginsWith binds the hash key and a range key prefix
	AccessBeginsWith
	// AccessBetween binds the hash key and a two-sided range key bound
	AccessBetween
	// AccessSort binds the hash key and orders by the range key
	AccessSort
	// AccessGet binds both the hash and range key to exact values
	AccessGet
)

var accessPathNames = [...]string{"scan", "query", "beginswith", "between", "sort", "get"}

// String returns the lower-case name of the access path
func (p AccessPath) String() string {
	if p < AccessScan || p > AccessGet {
		return fmt.Sprintf("AccessPath(%d)", int(p))
	}
	return accessPathNames[p]
}

// UsesQuery reports whether the path is served by the Query operation
func (p AccessPath) UsesQuery() bool {
	return p > AccessScan
}

// IndexDescriptor describes the key schema of the table or one of its secondary indexes
type IndexDescriptor struct {
	HashKey   string `json:"hash_key" yaml:"hash_key" validate:"required"`
	RangeKey  string `json:"range_key,omitempty" yaml:"range_key,omitempty"`
	IndexName string `json:"index_name,omitempty" yaml:"index_name,omitempty"`
}

// IsPrimary reports whether the descriptor is the table's own key schema
func (d IndexDescriptor) IsPrimary() bool {
	return d.IndexName == ""
}

// HasRangeKey reports whether the descriptor defines a range key
func (d IndexDescriptor) HasRangeKey() bool {
	return d.RangeKey != ""
}

// Topology is the static index layout of one table, in declaration order
type Topology struct {
	TableName string
	Indexes   []IndexDescriptor
}

// Primary returns the primary descriptor if one was declared
func (t Topology) Primary() (IndexDescriptor, bool) {
	for _, idx := range t.Indexes {
		if idx.IsPrimary() {
			return idx, true
		}
	}
	return IndexDescriptor{}, false
}

// Secondary returns the secondary descriptor with the given name
func (t Topology) Secondary(name string) (IndexDescriptor, bool) {
	for _, idx := range t.Indexes {
		if !idx.IsPrimary() && idx.IndexName == name {
			return idx, true
		}
	}
	return IndexDescriptor{}, false
}

// Validate checks the topology invariants: every descriptor has a hash key,
// at most one descriptor is primary and secondary names are distinct.
func (t Topology) Validate() error {
	if t.TableName == "" {
		return fmt.Errorf("table name is required")
	}

	primaries := 0
	names := make(map[string]struct{}, len(t.Indexes))
	for i, idx := range t.Indexes {
		if idx.HashKey == "" {
			return fmt.Errorf("index %d has no hash key", i)
		}
		if idx.IsPrimary() {
			primaries++
			if primaries > 1 {
				return fmt.Errorf("more than one primary key schema declared")
			}
			continue
		}
		if _, dup := names[idx.IndexName]; dup {
			return fmt.Errorf("duplicate index name %q", idx.IndexName)
		}
		names[idx.IndexName] = struct{}{}
	}

	return nil
}

// QueryOptions carries sort, page size and continuation cursor for a query
type QueryOptions struct {
	// Sort maps a field to 1 (ascending) or -1 (descending)
	Sort map[string]int
	// Limit caps the number of items evaluated per page; zero means no limit
	Limit int32
	// Cursor is the exclusive start key returned by a previous page
	Cursor map[string]types.AttributeValue
}

// QueryPlan is a compiled, ready-to-run read against the store.
// A plan is never modified after the compiler returns it.
type QueryPlan struct {
	AccessPath AccessPath
	TableName  string
	IndexName  string

	// Expression components
	KeyCondition    string
	FilterCondition string
	Projection      string

	// Expression mappings
	Names  map[string]string
	Values map[string]types.AttributeValue

	ScanForward bool
	Limit       *int32
	Cursor      map[string]types.AttributeValue
}

// StoreAPI is the subset of the DynamoDB client used by dynaquery.
// *dynamodb.Client satisfies it.
type StoreAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	BatchGetItem(ctx context.Context, params *dynamodb.BatchGetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error)
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// Item is a single record as returned by the store
type Item = map[string]types.AttributeValue
