package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/pay-theory/dynaquery/pkg/core"
	"github.com/pay-theory/dynaquery/pkg/mocks"
	"github.com/pay-theory/dynaquery/pkg/session"
)

const tablesYAML = `
tables:
  - name: t_example_app_hour
    attributes:
      app: S
      hour: N
    hash_key: app
    range_key: hour
    throughput:
      read: 40
      write: 20
    indexes:
      - name: t_example_hour_app_index
        hash_key: hour
        range_key: app
        throughput:
          read: 10
          write: 10
`

type mockObjects struct {
	mock.Mock
}

func (m *mockObjects) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*s3.PutObjectOutput), args.Error(1)
}

type fixture struct {
	store   *mocks.MockStore
	tables  *mocks.MockTableAPI
	objects *mockObjects
	config  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	path := filepath.Join(t.TempDir(), "tables.yaml")
	require.NoError(t, os.WriteFile(path, []byte(tablesYAML), 0o600))

	f := &fixture{
		store:   new(mocks.MockStore),
		tables:  new(mocks.MockTableAPI),
		objects: new(mockObjects),
		config:  path,
	}

	orig := newClients
	newClients = func(context.Context, *session.Config) (*clients, error) {
		return &clients{store: f.store, tables: f.tables, objects: f.objects}, nil
	}
	t.Cleanup(func() { newClients = orig })
	return f
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd(&out)
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func row(app, hour string) core.Item {
	return core.Item{
		"app":  &types.AttributeValueMemberS{Value: app},
		"hour": &types.AttributeValueMemberN{Value: hour},
	}
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "dynaquery dev\n", out)
}

func TestQueryCommand(t *testing.T) {
	f := newFixture(t)
	f.store.On("Query", mock.Anything, mock.MatchedBy(func(in *dynamodb.QueryInput) bool {
		return aws.ToString(in.TableName) == "t_example_app_hour" &&
			aws.ToString(in.KeyConditionExpression) == "#app = :app AND #hour BETWEEN :hour_gte AND :hour_lte" &&
			!aws.ToBool(in.ScanIndexForward) &&
			aws.ToInt32(in.Limit) == 10
	}), mock.Anything).Return(&dynamodb.QueryOutput{
		Items: []core.Item{row("weixin_msg", "2018102005")},
	}, nil)

	out, err := run(t, "query",
		"--config", f.config,
		"--table", "t_example_app_hour",
		"--filter", `{"app":"weixin_msg","hour":{"$gte":2018102000,"$lte":2018102005}}`,
		"--sort", "hour:-1",
		"--limit", "10",
	)
	require.NoError(t, err)

	var page struct {
		Items   []map[string]any `json:"items"`
		Count   int              `json:"count"`
		HasMore bool             `json:"hasMore"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &page))
	assert.Equal(t, 1, page.Count)
	assert.False(t, page.HasMore)
	assert.Equal(t, "weixin_msg", page.Items[0]["app"])
	f.store.AssertExpectations(t)
}

func TestQueryExplain(t *testing.T) {
	f := newFixture(t)

	out, err := run(t, "query",
		"--config", f.config,
		"--table", "t_example_app_hour",
		"--filter", `{"hour":2018102000,"app":{"$begins_with":"wx"}}`,
		"--explain",
	)
	require.NoError(t, err)

	var view planView
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	assert.Equal(t, "beginswith", view.AccessPath)
	assert.Equal(t, "t_example_hour_app_index", view.Index)
	assert.Equal(t, "#hour = :hour AND begins_with(#app, :app)", view.KeyCondition)
	assert.Equal(t, "wx", view.Values[":app"])
	f.store.AssertNotCalled(t, "Query", mock.Anything, mock.Anything, mock.Anything)
}

func TestQueryReadsTopologyFromLiveTable(t *testing.T) {
	f := newFixture(t)
	f.tables.On("DescribeTable", mock.Anything, mock.Anything, mock.Anything).Return(&dynamodb.DescribeTableOutput{
		Table: &types.TableDescription{
			TableName: aws.String("t_users"),
			KeySchema: []types.KeySchemaElement{{AttributeName: aws.String("id"), KeyType: types.KeyTypeHash}},
		},
	}, nil)
	f.store.On("Scan", mock.Anything, mock.Anything, mock.Anything).Return(&dynamodb.ScanOutput{}, nil)

	out, err := run(t, "query", "--table", "t_users", "--filter", `{"name":"x"}`, "--all")
	require.NoError(t, err)
	assert.JSONEq(t, `{"items":[],"count":0}`, out)
	f.tables.AssertExpectations(t)
}

func TestSessionConfigFromFlagsAndEnvironment(t *testing.T) {
	f := newFixture(t)
	t.Setenv("DYNAQUERY_ACCESS_KEY_ID", "AKID")
	t.Setenv("DYNAQUERY_SECRET_ACCESS_KEY", "secret")
	t.Setenv("DYNAQUERY_ASSUME_ROLE_ARN", "arn:aws:iam::123456789012:role/reader")

	var got *session.Config
	newClients = func(_ context.Context, cfg *session.Config) (*clients, error) {
		got = cfg
		return &clients{store: f.store, tables: f.tables, objects: f.objects}, nil
	}

	_, err := run(t, "query",
		"--config", f.config,
		"--table", "t_example_app_hour",
		"--region", "eu-west-1",
		"--endpoint", "http://localhost:8000",
		"--max-retries", "5",
		"--explain",
	)
	require.NoError(t, err)

	require.NotNil(t, got)
	assert.Equal(t, "eu-west-1", got.Region)
	assert.Equal(t, "http://localhost:8000", got.Endpoint)
	assert.Equal(t, 5, got.MaxRetries)
	assert.Equal(t, "AKID", got.AccessKeyID)
	assert.Equal(t, "secret", got.SecretAccessKey)
	assert.Empty(t, got.SessionToken)
	assert.Equal(t, "arn:aws:iam::123456789012:role/reader", got.AssumeRoleARN)
}

func TestSessionConfigDefaults(t *testing.T) {
	f := newFixture(t)

	var got *session.Config
	newClients = func(_ context.Context, cfg *session.Config) (*clients, error) {
		got = cfg
		return &clients{store: f.store, tables: f.tables, objects: f.objects}, nil
	}

	_, err := run(t, "query", "--config", f.config, "--table", "t_example_app_hour", "--explain")
	require.NoError(t, err)

	require.NotNil(t, got)
	assert.Equal(t, "us-east-1", got.Region)
	assert.Equal(t, session.DefaultMaxRetries, got.MaxRetries)
	assert.Empty(t, got.Endpoint)
	assert.Empty(t, got.AccessKeyID)
}

func TestQueryErrors(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing table", []string{"query", "--config", f.config}, "--table is required"},
		{"bad filter", []string{"query", "--config", f.config, "--table", "t_example_app_hour", "--filter", "{"}, "invalid --filter"},
		{"bad sort", []string{"query", "--config", f.config, "--table", "t_example_app_hour", "--sort", "hour:down"}, "invalid --sort direction"},
		{"unknown table", []string{"query", "--config", f.config, "--table", "t_missing"}, "t_missing"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestCreateTableCommand(t *testing.T) {
	f := newFixture(t)
	f.tables.On("CreateTable", mock.Anything, mock.MatchedBy(func(in *dynamodb.CreateTableInput) bool {
		return aws.ToString(in.TableName) == "t_example_app_hour" && len(in.GlobalSecondaryIndexes) == 1
	}), mock.Anything).Return(nil, &types.ResourceInUseException{Message: aws.String("exists")})

	out, err := run(t, "create-table", "--config", f.config, "--table", "t_example_app_hour")
	require.NoError(t, err)
	assert.Equal(t, "table t_example_app_hour ready\n", out)
	f.tables.AssertExpectations(t)

	_, err = run(t, "create-table", "--table", "t_example_app_hour")
	assert.ErrorContains(t, err, "--config is required")
}

func TestLoadCommand(t *testing.T) {
	f := newFixture(t)
	path := filepath.Join(t.TempDir(), "items.json")
	require.NoError(t, os.WriteFile(path, []byte(`[
		{"app":"weixin_msg","hour":2018102000,"count":1},
		{"app":"weixin_msg","hour":2018102001,"note":""}
	]`), 0o600))

	var captured *dynamodb.BatchWriteItemInput
	f.store.On("BatchWriteItem", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			captured = args.Get(1).(*dynamodb.BatchWriteItemInput)
		}).
		Return(&dynamodb.BatchWriteItemOutput{}, nil)

	out, err := run(t, "load", "--config", f.config, "--table", "t_example_app_hour", "--file", path)
	require.NoError(t, err)
	assert.Equal(t, "loaded 2 items, 0 unprocessed\n", out)

	require.NotNil(t, captured)
	writes := captured.RequestItems["t_example_app_hour"]
	require.Len(t, writes, 2)
	assert.Equal(t, &types.AttributeValueMemberN{Value: "2018102000"}, writes[0].PutRequest.Item["hour"])
	assert.NotContains(t, writes[1].PutRequest.Item, "note")
}

func TestExportCommand(t *testing.T) {
	f := newFixture(t)
	f.store.On("Query", mock.Anything, mock.Anything, mock.Anything).Return(&dynamodb.QueryOutput{
		Items: []core.Item{row("a", "1"), row("a", "2")},
	}, nil)

	var body []byte
	f.objects.On("PutObject", mock.Anything, mock.MatchedBy(func(in *s3.PutObjectInput) bool {
		return aws.ToString(in.Bucket) == "exports" &&
			aws.ToString(in.Key) == "a.jsonl" &&
			aws.ToString(in.ContentType) == "application/x-ndjson"
	})).Run(func(args mock.Arguments) {
		in := args.Get(1).(*s3.PutObjectInput)
		body, _ = io.ReadAll(in.Body)
	}).Return(&s3.PutObjectOutput{}, nil)

	out, err := run(t, "export",
		"--config", f.config,
		"--table", "t_example_app_hour",
		"--filter", `{"app":"a"}`,
		"--bucket", "exports",
		"--key", "a.jsonl",
	)
	require.NoError(t, err)
	assert.Equal(t, "exported 2 items to s3://exports/a.jsonl\n", out)
	assert.Equal(t, "{\"app\":\"a\",\"hour\":1}\n{\"app\":\"a\",\"hour\":2}\n", string(body))
	f.objects.AssertExpectations(t)

	_, err = run(t, "export", "--config", f.config, "--table", "t_example_app_hour")
	assert.ErrorContains(t, err, "--bucket and --key are required")
}

func TestParseSort(t *testing.T) {
	tests := []struct {
		in      string
		want    map[string]int
		wantErr bool
	}{
		{"", nil, false},
		{"hour:-1", map[string]int{"hour": -1}, false},
		{"hour:-1, app:1", map[string]int{"hour": -1, "app": 1}, false},
		{"hour", map[string]int{"hour": 1}, false},
		{":1", nil, true},
		{"hour:x", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseSort(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseFieldsAndFilter(t *testing.T) {
	assert.Nil(t, parseFields(""))
	assert.Equal(t, []string{"app", "hour"}, parseFields("app, hour,"))

	doc, err := parseFilter(`{"hour":2018102000}`)
	require.NoError(t, err)
	assert.Equal(t, json.Number("2018102000"), doc["hour"])

	doc, err = parseFilter(" ")
	require.NoError(t, err)
	assert.Nil(t, doc)
}
