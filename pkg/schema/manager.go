// Package schema creates, inspects and deletes tables from table definitions
package schema

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/pay-theory/dynaquery/pkg/config"
	"github.com/pay-theory/dynaquery/pkg/core"
	"github.com/pay-theory/dynaquery/pkg/log"
)

// DefaultWaitTimeout bounds how long CreateTable and DeleteTable wait for the table state
const DefaultWaitTimeout = 5 * time.Minute

// TableAPI is the subset of the DynamoDB client used for table management.
// *dynamodb.Client satisfies it.
type TableAPI interface {
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
	DeleteTable(ctx context.Context, params *dynamodb.DeleteTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteTableOutput, error)
}

// Manager handles DynamoDB table schema operations
type Manager struct {
	client      TableAPI
	logger      log.Logger
	waitTimeout time.Duration
}

// Option configures a Manager
type Option func(*Manager)

// WithLogger sets the logger
func WithLogger(logger log.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithWaitTimeout sets how long to wait for a table to become active or go away
func WithWaitTimeout(d time.Duration) Option {
	return func(m *Manager) {
		m.waitTimeout = d
	}
}

// NewManager creates a new schema manager
func NewManager(client TableAPI, opts ...Option) *Manager {
	m := &Manager{
		client:      client,
		logger:      log.NewNop(),
		waitTimeout: DefaultWaitTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateTable creates the table and waits for it to be active.
// A table that already exists is left as is.
func (m *Manager) CreateTable(ctx context.Context, table config.TableConfig) error {
	input := BuildCreateTableInput(table)

	if _, err := m.client.CreateTable(ctx, input); err != nil {
		var inUse *types.ResourceInUseException
		if errors.As(err, &inUse) {
			m.logger.Info("table already exists", "table", table.Name)
			return nil
		}
		return fmt.Errorf("failed to create table %s: %w", table.Name, err)
	}

	waiter := dynamodb.NewTableExistsWaiter(m.client)
	if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(table.Name)}, m.waitTimeout); err != nil {
		return fmt.Errorf("failed waiting for table %s to be active: %w", table.Name, err)
	}

	m.logger.Info("table created", "table", table.Name, "indexes", len(table.Indexes))
	return nil
}

// BuildCreateTableInput converts a table definition into a CreateTable request
func BuildCreateTableInput(table config.TableConfig) *dynamodb.CreateTableInput {
	input := &dynamodb.CreateTableInput{
		TableName:            aws.String(table.Name),
		KeySchema:            keySchema(table.HashKey, table.RangeKey),
		AttributeDefinitions: attributeDefinitions(table),
		BillingMode:          types.BillingMode(table.Billing()),
	}
	provisioned := input.BillingMode == types.BillingModeProvisioned
	if provisioned {
		input.ProvisionedThroughput = throughput(table.Throughput)
	}

	for _, idx := range table.Indexes {
		projection := types.ProjectionTypeAll
		if idx.Projection != "" {
			projection = types.ProjectionType(idx.Projection)
		}

		gsi := types.GlobalSecondaryIndex{
			IndexName:  aws.String(idx.Name),
			KeySchema:  keySchema(idx.HashKey, idx.RangeKey),
			Projection: &types.Projection{ProjectionType: projection},
		}
		if provisioned {
			gsi.ProvisionedThroughput = throughput(idx.Throughput)
		}
		input.GlobalSecondaryIndexes = append(input.GlobalSecondaryIndexes, gsi)
	}

	return input
}

// TableExists checks if a table exists
func (m *Manager) TableExists(ctx context.Context, tableName string) (bool, error) {
	_, err := m.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(tableName),
	})
	if err != nil {
		var notFound *types.ResourceNotFoundException
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// DescribeTopology reads the key schema of a live table and its secondary
// indexes: the primary key first, then global and local indexes by name.
func (m *Manager) DescribeTopology(ctx context.Context, tableName string) (core.Topology, error) {
	out, err := m.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(tableName),
	})
	if err != nil {
		return core.Topology{}, fmt.Errorf("failed to describe table %s: %w", tableName, err)
	}
	if out.Table == nil {
		return core.Topology{}, fmt.Errorf("table %s has no description", tableName)
	}

	primary := descriptor(out.Table.KeySchema, "")
	var secondary []core.IndexDescriptor
	for _, gsi := range out.Table.GlobalSecondaryIndexes {
		secondary = append(secondary, descriptor(gsi.KeySchema, aws.ToString(gsi.IndexName)))
	}
	for _, lsi := range out.Table.LocalSecondaryIndexes {
		secondary = append(secondary, descriptor(lsi.KeySchema, aws.ToString(lsi.IndexName)))
	}
	sort.Slice(secondary, func(i, j int) bool {
		return secondary[i].IndexName < secondary[j].IndexName
	})

	topology := core.Topology{
		TableName: tableName,
		Indexes:   append([]core.IndexDescriptor{primary}, secondary...),
	}
	return topology, topology.Validate()
}

// DeleteTable deletes the table and waits until it is gone
func (m *Manager) DeleteTable(ctx context.Context, tableName string) error {
	if _, err := m.client.DeleteTable(ctx, &dynamodb.DeleteTableInput{
		TableName: aws.String(tableName),
	}); err != nil {
		return fmt.Errorf("failed to delete table %s: %w", tableName, err)
	}

	waiter := dynamodb.NewTableNotExistsWaiter(m.client)
	if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(tableName)}, m.waitTimeout); err != nil {
		return fmt.Errorf("failed waiting for table %s to be deleted: %w", tableName, err)
	}
	return nil
}

func keySchema(hash, rng string) []types.KeySchemaElement {
	schema := []types.KeySchemaElement{
		{AttributeName: aws.String(hash), KeyType: types.KeyTypeHash},
	}
	if rng != "" {
		schema = append(schema, types.KeySchemaElement{AttributeName: aws.String(rng), KeyType: types.KeyTypeRange})
	}
	return schema
}

// attributeDefinitions declares every key attribute once, sorted by name
func attributeDefinitions(table config.TableConfig) []types.AttributeDefinition {
	used := map[string]bool{table.HashKey: true}
	if table.RangeKey != "" {
		used[table.RangeKey] = true
	}
	for _, idx := range table.Indexes {
		used[idx.HashKey] = true
		if idx.RangeKey != "" {
			used[idx.RangeKey] = true
		}
	}

	names := make([]string, 0, len(used))
	for name := range used {
		names = append(names, name)
	}
	sort.Strings(names)

	defs := make([]types.AttributeDefinition, 0, len(names))
	for _, name := range names {
		defs = append(defs, types.AttributeDefinition{
			AttributeName: aws.String(name),
			AttributeType: types.ScalarAttributeType(table.Attributes[name]),
		})
	}
	return defs
}

func throughput(t *config.Throughput) *types.ProvisionedThroughput {
	if t == nil {
		return nil
	}
	return &types.ProvisionedThroughput{
		ReadCapacityUnits:  aws.Int64(t.Read),
		WriteCapacityUnits: aws.Int64(t.Write),
	}
}

func descriptor(schema []types.KeySchemaElement, indexName string) core.IndexDescriptor {
	d := core.IndexDescriptor{IndexName: indexName}
	for _, el := range schema {
		switch el.KeyType {
		case types.KeyTypeHash:
			d.HashKey = aws.ToString(el.AttributeName)
		case types.KeyTypeRange:
			d.RangeKey = aws.ToString(el.AttributeName)
		}
	}
	return d
}
