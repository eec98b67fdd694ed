// Package expr renders filter condition trees into DynamoDB expression syntax.
package expr

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/pay-theory/dynaquery/pkg/errors"
	"github.com/pay-theory/dynaquery/pkg/filter"
)

// Renderer turns condition nodes into expression strings while collecting
// the name and value placeholders they reference. One Renderer serves one
// request; its bindings are shared by the key, filter and projection
// expressions rendered through it.
type Renderer struct {
	// Attribute mappings
	names    map[string]string
	nameRefs map[string]string
	values   map[string]types.AttributeValue

	suffix func() string
}

// Option configures a Renderer
type Option func(*Renderer)

// WithSuffixFunc replaces the random value placeholder suffix generator
func WithSuffixFunc(fn func() string) Option {
	return func(r *Renderer) {
		r.suffix = fn
	}
}

// NewRenderer creates a renderer with empty bindings
func NewRenderer(opts ...Option) *Renderer {
	r := &Renderer{
		names:    make(map[string]string),
		nameRefs: make(map[string]string),
		values:   make(map[string]types.AttributeValue),
		suffix:   uuidSuffix,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// uuidSuffix returns the last group of a random UUID
func uuidSuffix() string {
	id := uuid.NewString()
	return id[strings.LastIndexByte(id, '-')+1:]
}

// Names returns the ExpressionAttributeNames collected so far
func (r *Renderer) Names() map[string]string {
	return r.names
}

// Values returns the ExpressionAttributeValues collected so far
func (r *Renderer) Values() map[string]types.AttributeValue {
	return r.values
}

// Render renders a single node. A nil node renders as the empty string.
func (r *Renderer) Render(n filter.Node) (string, error) {
	switch v := n.(type) {
	case nil:
		return "", nil

	case filter.Equality:
		return r.binary(v.Field, "=", v.Value)

	case filter.Comparison:
		sym := v.Op.Symbol()
		if sym == "" {
			return "", fmt.Errorf("%w: %s", errors.ErrInvalidOperator, v.Op)
		}
		return r.binary(v.Field, sym, v.Value)

	case filter.Exists:
		if v.Exists {
			return fmt.Sprintf("attribute_exists(%s)", r.Name(v.Field)), nil
		}
		return fmt.Sprintf("attribute_not_exists(%s)", r.Name(v.Field)), nil

	case filter.BeginsWith:
		return r.function("begins_with", v.Field, v.Prefix)

	case filter.Contains:
		return r.function("contains", v.Field, v.Value)

	case filter.TypeCheck:
		return r.function("attribute_type", v.Field, v.Type)

	case filter.In:
		nameRef := r.Name(v.Field)
		valueRefs := make([]string, 0, len(v.Values))
		for _, item := range v.Values {
			ref, err := r.Value(v.Field, item)
			if err != nil {
				return "", err
			}
			valueRefs = append(valueRefs, ref)
		}
		return fmt.Sprintf("%s IN (%s)", nameRef, strings.Join(valueRefs, ", ")), nil

	case filter.Size:
		sym := v.Op.Symbol()
		if sym == "" {
			return "", fmt.Errorf("%w: %s inside $size", errors.ErrInvalidOperator, v.Op)
		}
		valueRef, err := r.Value(v.Field, v.Value)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("size(%s) %s %s", r.Name(v.Field), sym, valueRef), nil

	case filter.Not:
		inner, err := r.Render(v.Node)
		if err != nil {
			return "", err
		}
		if inner == "" {
			return "", nil
		}
		return fmt.Sprintf("NOT (%s)", inner), nil

	case filter.Or:
		parts := make([]string, 0, len(v.Branches))
		for _, branch := range v.Branches {
			s, err := r.Render(branch)
			if err != nil {
				return "", err
			}
			if s != "" {
				parts = append(parts, "("+s+")")
			}
		}
		return strings.Join(parts, " OR "), nil

	case filter.And:
		return r.RenderAll(v.Nodes)
	}

	return "", fmt.Errorf("%w: unsupported condition %T", errors.ErrMalformedFilter, n)
}

// RenderAll renders every node and joins the results with AND
func (r *Renderer) RenderAll(nodes []filter.Node) (string, error) {
	parts := make([]string, 0, len(nodes))
	for _, n := range nodes {
		s, err := r.Render(n)
		if err != nil {
			return "", err
		}
		if s == "" {
			continue
		}
		if _, isOr := n.(filter.Or); isOr && len(nodes) > 1 {
			s = "(" + s + ")"
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, " AND "), nil
}

// RenderKey renders one key condition node with readable value placeholders
// (":app", ":hour_gte"). Only the operators a key condition accepts are allowed.
func (r *Renderer) RenderKey(n filter.Node) (string, error) {
	switch v := n.(type) {
	case filter.Equality:
		ref, err := r.PreferredValue(valueBase(v.Field), v.Value)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s = %s", r.Name(v.Field), ref), nil

	case filter.Comparison:
		if v.Op == filter.OpNE {
			break
		}
		ref, err := r.PreferredValue(valueBase(v.Field)+"_"+strings.TrimPrefix(string(v.Op), "$"), v.Value)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s %s %s", r.Name(v.Field), v.Op.Symbol(), ref), nil

	case filter.BeginsWith:
		ref, err := r.PreferredValue(valueBase(v.Field), v.Prefix)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("begins_with(%s, %s)", r.Name(v.Field), ref), nil
	}

	return "", fmt.Errorf("%w: %T cannot be used in a key condition", errors.ErrInvalidOperator, n)
}

// RenderBetween renders a two-sided key bound
func (r *Renderer) RenderBetween(field string, low, high any) (string, error) {
	base := valueBase(field)
	lowRef, err := r.PreferredValue(base+"_gte", low)
	if err != nil {
		return "", err
	}
	highRef, err := r.PreferredValue(base+"_lte", high)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s BETWEEN %s AND %s", r.Name(field), lowRef, highRef), nil
}

// Projection renders a projection expression over the given fields
func (r *Renderer) Projection(fields []string) string {
	refs := make([]string, 0, len(fields))
	for _, field := range fields {
		refs = append(refs, r.Name(field))
	}
	return strings.Join(refs, ", ")
}

// UpdateSet renders a SET update expression assigning every attribute in
// values, in lexical attribute order
func (r *Renderer) UpdateSet(values map[string]any) (string, error) {
	fields := make([]string, 0, len(values))
	for k := range values {
		fields = append(fields, k)
	}
	sort.Strings(fields)

	assignments := make([]string, 0, len(fields))
	for _, field := range fields {
		ref, err := r.Value(field, values[field])
		if err != nil {
			return "", err
		}
		assignments = append(assignments, fmt.Sprintf("%s = %s", r.Name(field), ref))
	}
	if len(assignments) == 0 {
		return "", nil
	}
	return "SET " + strings.Join(assignments, ", "), nil
}

// Name binds an attribute path and returns its placeholder form. Dotted
// paths bind each segment; list indexes are kept outside the placeholder.
func (r *Renderer) Name(path string) string {
	segments := strings.Split(path, ".")
	refs := make([]string, len(segments))
	for i, seg := range segments {
		attr, index := splitListIndex(seg)
		refs[i] = r.addName(attr) + index
	}
	return strings.Join(refs, ".")
}

func (r *Renderer) addName(attr string) string {
	if ref, ok := r.nameRefs[attr]; ok {
		return ref
	}

	base := "#" + sanitize(attr)
	ref := base
	for n := 1; ; n++ {
		if _, taken := r.names[ref]; !taken {
			break
		}
		ref = base + strconv.Itoa(n)
	}

	r.names[ref] = attr
	r.nameRefs[attr] = ref
	return ref
}

// Value binds a value under a fresh ":<field>_<suffix>" placeholder
func (r *Renderer) Value(field string, value any) (string, error) {
	av, err := convert(field, value)
	if err != nil {
		return "", err
	}

	base := ":" + valueBase(field) + "_"
	ref := base + r.suffix()
	for {
		if _, taken := r.values[ref]; !taken {
			break
		}
		ref = base + r.suffix()
	}

	r.values[ref] = av
	return ref, nil
}

// PreferredValue binds a value under ":<name>", falling back to a suffixed
// placeholder when that name is already bound
func (r *Renderer) PreferredValue(name string, value any) (string, error) {
	ref := ":" + sanitize(name)
	if _, taken := r.values[ref]; taken {
		return r.Value(name, value)
	}

	av, err := convert(name, value)
	if err != nil {
		return "", err
	}
	r.values[ref] = av
	return ref, nil
}

func (r *Renderer) binary(field, sym string, value any) (string, error) {
	ref, err := r.Value(field, value)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s %s %s", r.Name(field), sym, ref), nil
}

func (r *Renderer) function(name, field string, value any) (string, error) {
	ref, err := r.Value(field, value)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s(%s, %s)", name, r.Name(field), ref), nil
}

func convert(field string, value any) (types.AttributeValue, error) {
	av, err := ConvertToAttributeValue(value)
	if err != nil {
		return nil, fmt.Errorf("%w: field %s: %w", errors.ErrMalformedFilter, field, err)
	}
	return av, nil
}

// valueBase derives a value placeholder stem from the last path segment
func valueBase(path string) string {
	if i := strings.LastIndexByte(path, '.'); i >= 0 {
		path = path[i+1:]
	}
	attr, _ := splitListIndex(path)
	return sanitize(attr)
}

func splitListIndex(seg string) (string, string) {
	if i := strings.IndexByte(seg, '['); i > 0 {
		return seg[:i], seg[i:]
	}
	return seg, ""
}

// sanitize keeps the characters allowed in a placeholder
func sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, c := range s {
		if c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') {
			b.WriteRune(c)
		} else {
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "_"
	}
	return b.String()
}
