package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pay-theory/dynaquery/pkg/config"
	"github.com/pay-theory/dynaquery/pkg/core"
)

const exampleTables = `
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
        projection: ALL
        throughput:
          read: 10
          write: 10
  - name: t_users
    attributes:
      id: S
    hash_key: id
    billing_mode: PAY_PER_REQUEST
`

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tables.yaml")
	require.NoError(t, os.WriteFile(path, []byte(exampleTables), 0o600))

	f, err := config.Load(path)
	require.NoError(t, err)
	require.Len(t, f.Tables, 2)

	appHour, err := f.Table("t_example_app_hour")
	require.NoError(t, err)
	assert.Equal(t, config.BillingProvisioned, appHour.Billing())
	assert.Equal(t, core.Topology{
		TableName: "t_example_app_hour",
		Indexes: []core.IndexDescriptor{
			{HashKey: "app", RangeKey: "hour"},
			{HashKey: "hour", RangeKey: "app", IndexName: "t_example_hour_app_index"},
		},
	}, appHour.Topology())

	users, err := f.Table("t_users")
	require.NoError(t, err)
	assert.Equal(t, config.BillingPayPerRequest, users.Billing())

	_, err = f.Table("missing")
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read table config")
}

func TestParseInvalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"no tables", "tables: []", "invalid table config"},
		{"bad yaml", "tables: [", "failed to decode"},
		{
			"bad attribute type",
			"tables:\n  - name: t_a\n    attributes: {id: X}\n    hash_key: id\n    billing_mode: PAY_PER_REQUEST\n",
			"failed rule 'oneof'",
		},
		{
			"untyped key",
			"tables:\n  - name: t_a\n    attributes: {id: S}\n    hash_key: id\n    range_key: ts\n    billing_mode: PAY_PER_REQUEST\n",
			"key attribute ts",
		},
		{
			"provisioned without throughput",
			"tables:\n  - name: t_a\n    attributes: {id: S}\n    hash_key: id\n    billing_mode: PROVISIONED\n",
			"needs table throughput",
		},
		{
			"duplicate table",
			"tables:\n  - {name: t_a, attributes: {id: S}, hash_key: id}\n  - {name: t_a, attributes: {id: S}, hash_key: id}\n",
			"duplicate table",
		},
		{
			"duplicate index",
			"tables:\n  - name: t_a\n    attributes: {id: S, ts: N}\n    hash_key: id\n    indexes:\n      - {name: by_ts, hash_key: ts}\n      - {name: by_ts, hash_key: id}\n",
			"duplicate index name",
		},
		{
			"bad table name",
			"tables:\n  - {name: a, attributes: {id: S}, hash_key: id}\n",
			"table",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.Parse([]byte(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
