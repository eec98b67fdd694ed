package filter

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/pay-theory/dynaquery/pkg/errors"
	"github.com/pay-theory/dynaquery/pkg/validation"
)

// FieldCondition holds every condition placed on one field, in render order
type FieldCondition struct {
	Field string
	Nodes []Node
}

// Scalar returns the equality value when the field is bound to a scalar
func (c FieldCondition) Scalar() (any, bool) {
	if len(c.Nodes) != 1 {
		return nil, false
	}
	eq, ok := c.Nodes[0].(Equality)
	if !ok {
		return nil, false
	}
	return eq.Value, true
}

// Has reports whether the field carries the given operator
func (c FieldCondition) Has(op Operator) bool {
	_, ok := c.Find(op)
	return ok
}

// Find returns the first node for the operator
func (c FieldCondition) Find(op Operator) (Node, bool) {
	for _, n := range c.Nodes {
		if OperatorOf(n) == op {
			return n, true
		}
	}
	return nil, false
}

// Without returns the field's nodes except the given ones, keeping order
func (c FieldCondition) Without(consumed ...Node) []Node {
	out := make([]Node, 0, len(c.Nodes))
	for _, n := range c.Nodes {
		skip := false
		for _, used := range consumed {
			if reflect.DeepEqual(n, used) {
				skip = true
				break
			}
		}
		if !skip {
			out = append(out, n)
		}
	}
	return out
}

// Filter is a parsed filter document. Fields are kept in lexical order and
// $not / $or combinators follow them, so rendering is deterministic.
type Filter struct {
	fields      []FieldCondition
	byName      map[string]int
	combinators []Node
}

// Empty reports whether the filter has no conditions
func (f *Filter) Empty() bool {
	return f == nil || (len(f.fields) == 0 && len(f.combinators) == 0)
}

// Fields returns the per-field conditions in lexical field order
func (f *Filter) Fields() []FieldCondition {
	if f == nil {
		return nil
	}
	return f.fields
}

// Field returns the condition on the named top-level field
func (f *Filter) Field(name string) (FieldCondition, bool) {
	if f == nil {
		return FieldCondition{}, false
	}
	i, ok := f.byName[name]
	if !ok {
		return FieldCondition{}, false
	}
	return f.fields[i], true
}

// Scalar returns the scalar equality value bound to the field, if any
func (f *Filter) Scalar(name string) (any, bool) {
	c, ok := f.Field(name)
	if !ok {
		return nil, false
	}
	return c.Scalar()
}

// Combinators returns the top-level $not and $or nodes
func (f *Filter) Combinators() []Node {
	if f == nil {
		return nil
	}
	return f.combinators
}

// Nodes flattens the filter into a list of nodes, leaving out the named fields
func (f *Filter) Nodes(exclude ...string) []Node {
	if f == nil {
		return nil
	}
	var out []Node
	for _, c := range f.fields {
		if contains(exclude, c.Field) {
			continue
		}
		out = append(out, c.Nodes...)
	}
	return append(out, f.combinators...)
}

// Node returns the whole filter as a single node, or nil when empty
func (f *Filter) Node() Node {
	return joinNodes(f.Nodes())
}

// Parse converts a filter document into a Filter. Keys are field names or the
// $not / $or combinators; values are scalars or operator objects.
func Parse(doc map[string]any) (*Filter, error) {
	f := &Filter{byName: make(map[string]int, len(doc))}
	if len(doc) == 0 {
		return f, nil
	}

	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var not, or Node
	for _, key := range keys {
		value := doc[key]
		switch {
		case key == string(OpNot):
			n, err := parseNot(value)
			if err != nil {
				return nil, err
			}
			not = n
		case key == string(OpOr):
			n, err := parseOr(value)
			if err != nil {
				return nil, err
			}
			or = n
		case strings.HasPrefix(key, "$"):
			return nil, fmt.Errorf("%w: %s", errors.ErrInvalidOperator, key)
		default:
			nodes, err := parseField(key, value)
			if err != nil {
				return nil, err
			}
			f.byName[key] = len(f.fields)
			f.fields = append(f.fields, FieldCondition{Field: key, Nodes: nodes})
		}
	}

	if not != nil {
		f.combinators = append(f.combinators, not)
	}
	if or != nil {
		f.combinators = append(f.combinators, or)
	}
	return f, nil
}

func parseNot(value any) (Node, error) {
	doc, ok := value.(map[string]any)
	if !ok || len(doc) == 0 {
		return nil, fmt.Errorf("%w: $not expects a non-empty filter document", errors.ErrMalformedFilter)
	}
	inner, err := Parse(doc)
	if err != nil {
		return nil, err
	}
	return Not{Node: inner.Node()}, nil
}

func parseOr(value any) (Node, error) {
	items, ok := toSlice(value)
	if !ok || len(items) == 0 {
		return nil, fmt.Errorf("%w: $or expects a non-empty list of filter documents", errors.ErrMalformedFilter)
	}
	branches := make([]Node, 0, len(items))
	for i, item := range items {
		doc, ok := item.(map[string]any)
		if !ok || len(doc) == 0 {
			return nil, fmt.Errorf("%w: $or branch %d is not a filter document", errors.ErrMalformedFilter, i)
		}
		inner, err := Parse(doc)
		if err != nil {
			return nil, err
		}
		branches = append(branches, inner.Node())
	}
	return Or{Branches: branches}, nil
}

func parseField(field string, value any) ([]Node, error) {
	if err := validation.ValidateFieldName(field); err != nil {
		return nil, fmt.Errorf("%w: %w", errors.ErrMalformedFilter, err)
	}

	ops, isOps, err := operatorObject(value)
	if err != nil {
		return nil, fmt.Errorf("%w: field %s: %w", errors.ErrMalformedFilter, field, err)
	}
	if !isOps {
		return []Node{Equality{Field: field, Value: value}}, nil
	}

	for op := range ops {
		if !knownFieldOperator(Operator(op)) {
			return nil, fmt.Errorf("%w: %s on field %s", errors.ErrInvalidOperator, op, field)
		}
	}

	nodes := make([]Node, 0, len(ops))
	for _, op := range fieldOperatorOrder {
		operand, ok := ops[string(op)]
		if !ok {
			continue
		}
		parsed, err := parseOperator(field, op, operand)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, parsed...)
	}
	return nodes, nil
}

func parseOperator(field string, op Operator, operand any) ([]Node, error) {
	switch op {
	case OpLT, OpLTE, OpGT, OpGTE, OpNE:
		return []Node{Comparison{Field: field, Op: op, Value: operand}}, nil

	case OpExists:
		b, ok := operand.(bool)
		if !ok {
			return nil, fmt.Errorf("%w: $exists on %s expects a boolean", errors.ErrMalformedFilter, field)
		}
		return []Node{Exists{Field: field, Exists: b}}, nil

	case OpBeginsWith:
		return []Node{BeginsWith{Field: field, Prefix: operand}}, nil

	case OpContains:
		return []Node{Contains{Field: field, Value: operand}}, nil

	case OpIn:
		values, ok := toSlice(operand)
		if !ok {
			return nil, fmt.Errorf("%w: $in on %s expects a list", errors.ErrMalformedFilter, field)
		}
		if len(values) == 0 || len(values) > validation.MaxInOperands {
			return nil, fmt.Errorf("%w: $in on %s expects 1 to %d values", errors.ErrMalformedFilter, field, validation.MaxInOperands)
		}
		return []Node{In{Field: field, Values: values}}, nil

	case OpType:
		t, ok := operand.(string)
		if !ok || !validAttributeType(t) {
			return nil, fmt.Errorf("%w: $type on %s expects one of S, SS, N, NS, B, BS, BOOL, NULL, L, M", errors.ErrMalformedFilter, field)
		}
		return []Node{TypeCheck{Field: field, Type: t}}, nil

	case OpSize:
		return parseSize(field, operand)

	case OpNot:
		inner, err := parseField(field, operand)
		if err != nil {
			return nil, err
		}
		return []Node{Not{Node: joinNodes(inner)}}, nil
	}

	return nil, fmt.Errorf("%w: %s", errors.ErrInvalidOperator, op)
}

// parseSize accepts either a number (size equals) or an object of comparisons
func parseSize(field string, operand any) ([]Node, error) {
	ops, isOps, err := operatorObject(operand)
	if err != nil || (!isOps && !isNumber(operand)) {
		return nil, fmt.Errorf("%w: $size on %s expects a number or comparison object", errors.ErrMalformedFilter, field)
	}
	if !isOps {
		return []Node{Size{Field: field, Op: OpEq, Value: operand}}, nil
	}

	for op := range ops {
		if !Operator(op).IsComparison() {
			return nil, fmt.Errorf("%w: %s inside $size on %s", errors.ErrInvalidOperator, op, field)
		}
	}

	nodes := make([]Node, 0, len(ops))
	for _, op := range fieldOperatorOrder {
		v, ok := ops[string(op)]
		if !ok {
			continue
		}
		nodes = append(nodes, Size{Field: field, Op: op, Value: v})
	}
	return nodes, nil
}

// operatorObject reports whether value is an object whose keys are all operators.
// An object mixing operators and plain keys is malformed.
func operatorObject(value any) (map[string]any, bool, error) {
	obj, ok := value.(map[string]any)
	if !ok {
		return nil, false, nil
	}
	if len(obj) == 0 {
		return nil, false, fmt.Errorf("empty condition object")
	}

	dollar := 0
	for k := range obj {
		if strings.HasPrefix(k, "$") {
			dollar++
		}
	}
	switch dollar {
	case 0:
		// A plain nested document compares as a map value
		return nil, false, nil
	case len(obj):
		return obj, true, nil
	}
	return nil, false, fmt.Errorf("condition object mixes operators and attributes")
}

func knownFieldOperator(op Operator) bool {
	for _, known := range fieldOperatorOrder {
		if op == known {
			return true
		}
	}
	return false
}

func validAttributeType(t string) bool {
	switch t {
	case "S", "SS", "N", "NS", "B", "BS", "BOOL", "NULL", "L", "M":
		return true
	}
	return false
}

func isNumber(v any) bool {
	if _, ok := v.(json.Number); ok {
		return true
	}
	switch reflect.ValueOf(v).Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

// toSlice converts any slice or array value (except []byte) to []any
func toSlice(v any) ([]any, bool) {
	if items, ok := v.([]any); ok {
		return items, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	if rv.Type().Elem().Kind() == reflect.Uint8 {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

func joinNodes(nodes []Node) Node {
	switch len(nodes) {
	case 0:
		return nil
	case 1:
		return nodes[0]
	}
	return And{Nodes: nodes}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
