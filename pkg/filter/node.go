// Package filter parses MongoDB-style filter documents into a condition tree.
package filter

// Operator is a filter document operator such as "$gte"
type Operator string

// Supported operators
const (
	OpLT         Operator = "$lt"
	OpLTE        Operator = "$lte"
	OpGT         Operator = "$gt"
	OpGTE        Operator = "$gte"
	OpNE         Operator = "$ne"
	OpExists     Operator = "$exists"
	OpBeginsWith Operator = "$begins_with"
	OpContains   Operator = "$contains"
	OpIn         Operator = "$in"
	OpType       Operator = "$type"
	OpSize       Operator = "$size"
	OpNot        Operator = "$not"
	OpOr         Operator = "$or"

	// OpEq marks a plain scalar equality; it never appears in a document
	OpEq Operator = "="
)

// fieldOperatorOrder fixes the order in which one field's operators render
var fieldOperatorOrder = []Operator{
	OpGTE, OpGT, OpLTE, OpLT, OpNE,
	OpBeginsWith, OpContains, OpIn, OpType, OpExists,
	OpSize, OpNot,
}

// IsComparison reports whether op is one of the binary comparison operators
func (op Operator) IsComparison() bool {
	switch op {
	case OpLT, OpLTE, OpGT, OpGTE, OpNE:
		return true
	}
	return false
}

// Symbol returns the expression symbol of a comparison operator
func (op Operator) Symbol() string {
	switch op {
	case OpEq:
		return "="
	case OpLT:
		return "<"
	case OpLTE:
		return "<="
	case OpGT:
		return ">"
	case OpGTE:
		return ">="
	case OpNE:
		return "<>"
	}
	return ""
}

// Node is one element of a parsed condition tree
type Node interface {
	isNode()
}

// Equality is a field bound to a scalar value
type Equality struct {
	Field string
	Value any
}

// Comparison is a field compared to a value with <, <=, >, >= or <>
type Comparison struct {
	Field string
	Op    Operator
	Value any
}

// Exists tests attribute presence or absence
type Exists struct {
	Field  string
	Exists bool
}

// BeginsWith is a prefix match on a string or binary attribute
type BeginsWith struct {
	Field  string
	Prefix any
}

// Contains matches a substring or a set/list member
type Contains struct {
	Field string
	Value any
}

// In matches any of a list of values
type In struct {
	Field  string
	Values []any
}

// TypeCheck matches the attribute's store type (S, N, B, SS, NS, BS, BOOL, NULL, L, M)
type TypeCheck struct {
	Field string
	Type  string
}

// Size compares the size of an attribute
type Size struct {
	Field string
	Op    Operator
	Value any
}

// Not negates its inner node
type Not struct {
	Node Node
}

// Or matches when any branch matches
type Or struct {
	Branches []Node
}

// And matches when every node matches
type And struct {
	Nodes []Node
}

func (Equality) isNode()   {}
func (Comparison) isNode() {}
func (Exists) isNode()     {}
func (BeginsWith) isNode() {}
func (Contains) isNode()   {}
func (In) isNode()         {}
func (TypeCheck) isNode()  {}
func (Size) isNode()       {}
func (Not) isNode()        {}
func (Or) isNode()         {}
func (And) isNode()        {}

// Operator returns the operator a field-level node was parsed from.
// Combinators return an empty operator.
func OperatorOf(n Node) Operator {
	switch v := n.(type) {
	case Equality:
		return OpEq
	case Comparison:
		return v.Op
	case Exists:
		return OpExists
	case BeginsWith:
		return OpBeginsWith
	case Contains:
		return OpContains
	case In:
		return OpIn
	case TypeCheck:
		return OpType
	case Size:
		return OpSize
	case Not:
		return OpNot
	}
	return ""
}
