// Package config loads table definitions from YAML
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/pay-theory/dynaquery/pkg/core"
	"github.com/pay-theory/dynaquery/pkg/validation"
)

// Billing modes
const (
	BillingProvisioned   = "PROVISIONED"
	BillingPayPerRequest = "PAY_PER_REQUEST"
)

// File is the root of a table definition document
type File struct {
	Tables []TableConfig `yaml:"tables" validate:"required,min=1,dive"`
}

// TableConfig describes one table: its key schema, secondary indexes and capacity
type TableConfig struct {
	Name string `yaml:"name" validate:"required"`

	// Attributes maps every key attribute to its scalar type (S, N or B)
	Attributes map[string]string `yaml:"attributes" validate:"required,min=1,dive,keys,required,endkeys,oneof=S N B"`

	HashKey  string `yaml:"hash_key" validate:"required"`
	RangeKey string `yaml:"range_key"`

	Indexes []IndexConfig `yaml:"indexes" validate:"dive"`

	BillingMode string      `yaml:"billing_mode" validate:"omitempty,oneof=PROVISIONED PAY_PER_REQUEST"`
	Throughput  *Throughput `yaml:"throughput"`
}

// IndexConfig describes a global secondary index
type IndexConfig struct {
	Name       string      `yaml:"name" validate:"required"`
	HashKey    string      `yaml:"hash_key" validate:"required"`
	RangeKey   string      `yaml:"range_key"`
	Projection string      `yaml:"projection" validate:"omitempty,oneof=ALL KEYS_ONLY"`
	Throughput *Throughput `yaml:"throughput"`
}

// Throughput is provisioned read and write capacity
type Throughput struct {
	Read  int64 `yaml:"read" validate:"gt=0"`
	Write int64 `yaml:"write" validate:"gt=0"`
}

// Load reads and validates a table definition file
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read table config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates a table definition document
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to decode table config: %w", err)
	}
	if err := Validate(&f); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate runs the struct tag rules, then the checks that span fields
func Validate(f *File) error {
	if err := validator.New().Struct(f); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			msgs := make([]string, 0, len(verrs))
			for _, e := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed rule '%s'", e.Namespace(), e.Tag()))
			}
			return fmt.Errorf("invalid table config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid table config: %w", err)
	}

	seen := make(map[string]bool, len(f.Tables))
	for _, t := range f.Tables {
		if seen[t.Name] {
			return fmt.Errorf("invalid table config: duplicate table %s", t.Name)
		}
		seen[t.Name] = true

		if err := t.validate(); err != nil {
			return fmt.Errorf("invalid table config: table %s: %w", t.Name, err)
		}
	}
	return nil
}

// Table returns the definition of the named table
func (f *File) Table(name string) (TableConfig, error) {
	for _, t := range f.Tables {
		if t.Name == name {
			return t, nil
		}
	}
	return TableConfig{}, fmt.Errorf("table %s is not defined", name)
}

// Topology returns the index layout used by the query compiler: the primary
// key schema first, then the secondary indexes in declaration order
func (t TableConfig) Topology() core.Topology {
	indexes := make([]core.IndexDescriptor, 0, len(t.Indexes)+1)
	indexes = append(indexes, core.IndexDescriptor{HashKey: t.HashKey, RangeKey: t.RangeKey})
	for _, idx := range t.Indexes {
		indexes = append(indexes, core.IndexDescriptor{
			HashKey:   idx.HashKey,
			RangeKey:  idx.RangeKey,
			IndexName: idx.Name,
		})
	}
	return core.Topology{TableName: t.Name, Indexes: indexes}
}

// Billing returns the billing mode, defaulting to provisioned when throughput is set
func (t TableConfig) Billing() string {
	if t.BillingMode != "" {
		return t.BillingMode
	}
	if t.Throughput != nil {
		return BillingProvisioned
	}
	return BillingPayPerRequest
}

func (t TableConfig) validate() error {
	if err := validation.ValidateTableName(t.Name); err != nil {
		return err
	}

	keys := []string{t.HashKey, t.RangeKey}
	for _, idx := range t.Indexes {
		if err := validation.ValidateIndexName(idx.Name); err != nil {
			return err
		}
		keys = append(keys, idx.HashKey, idx.RangeKey)
	}
	for _, k := range keys {
		if k == "" {
			continue
		}
		if _, ok := t.Attributes[k]; !ok {
			return fmt.Errorf("key attribute %s has no type in attributes", k)
		}
	}

	if t.Billing() == BillingProvisioned {
		if t.Throughput == nil {
			return fmt.Errorf("provisioned billing needs table throughput")
		}
		for _, idx := range t.Indexes {
			if idx.Throughput == nil {
				return fmt.Errorf("provisioned billing needs throughput for index %s", idx.Name)
			}
		}
	}

	return t.Topology().Validate()
}
