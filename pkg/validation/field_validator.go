package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// ValidationError describes why a name or expression was rejected
type ValidationError struct {
	Type   string
	Field  string
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed [%s]: %s - %s", e.Type, e.Field, e.Detail)
}

// Limits imposed by DynamoDB on names and expressions
const (
	MaxFieldNameLength  = 255
	MaxNestedDepth      = 32
	MaxExpressionLength = 4096
	MaxInOperands       = 100
)

var (
	listIndexPattern = regexp.MustCompile(`^\[[0-9]+\]`)
	tableNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)
)

// ValidateFieldName validates an attribute name or document path used in a filter.
// Dots separate path segments and a segment may carry list indexes ("items[0]").
func ValidateFieldName(field string) error {
	if field == "" {
		return &ValidationError{
			Type:   "InvalidField",
			Field:  field,
			Detail: "field name cannot be empty",
		}
	}

	if len(field) > MaxFieldNameLength {
		return &ValidationError{
			Type:   "InvalidField",
			Field:  field,
			Detail: fmt.Sprintf("field name exceeds maximum length of %d characters", MaxFieldNameLength),
		}
	}

	for _, r := range field {
		if unicode.IsControl(r) {
			return &ValidationError{
				Type:   "InvalidField",
				Field:  field,
				Detail: "field name contains control characters",
			}
		}
	}

	parts := strings.Split(field, ".")
	if len(parts) > MaxNestedDepth {
		return &ValidationError{
			Type:   "InvalidField",
			Field:  field,
			Detail: fmt.Sprintf("nested field depth exceeds maximum of %d", MaxNestedDepth),
		}
	}

	for _, part := range parts {
		if err := validateFieldPart(part); err != nil {
			return &ValidationError{
				Type:   "InvalidField",
				Field:  field,
				Detail: fmt.Sprintf("invalid field part '%s': %s", part, err.Error()),
			}
		}
	}

	return nil
}

// validateFieldPart validates a single path segment
func validateFieldPart(part string) error {
	if part == "" {
		return fmt.Errorf("field part cannot be empty")
	}

	bracket := strings.IndexByte(part, '[')
	if bracket < 0 {
		if strings.ContainsRune(part, ']') {
			return fmt.Errorf("unbalanced list index")
		}
		return nil
	}
	if bracket == 0 {
		return fmt.Errorf("list index must follow an attribute name")
	}

	rest := part[bracket:]
	for rest != "" {
		loc := listIndexPattern.FindStringIndex(rest)
		if loc == nil {
			if strings.HasPrefix(rest, "[") {
				return fmt.Errorf("list index must be a number")
			}
			return fmt.Errorf("unexpected characters after list index")
		}
		rest = rest[loc[1]:]
	}

	return nil
}

// ValidateExpression checks a rendered expression against the store's size limit
func ValidateExpression(expression string) error {
	if len(expression) > MaxExpressionLength {
		return &ValidationError{
			Type:   "InvalidExpression",
			Field:  "expression",
			Detail: fmt.Sprintf("expression exceeds maximum length of %d characters", MaxExpressionLength),
		}
	}
	return nil
}

// ValidateTableName validates a DynamoDB table name
func ValidateTableName(name string) error {
	if len(name) < 3 || len(name) > 255 {
		return &ValidationError{
			Type:   "InvalidTableName",
			Field:  name,
			Detail: "table name must be 3-255 characters",
		}
	}

	if !tableNamePattern.MatchString(name) {
		return &ValidationError{
			Type:   "InvalidTableName",
			Field:  name,
			Detail: "table name can only contain letters, numbers, dots, dashes, and underscores",
		}
	}

	return nil
}

// ValidateIndexName validates a DynamoDB index name
func ValidateIndexName(name string) error {
	if name == "" {
		return nil // Empty index name is allowed (means primary key schema)
	}

	if len(name) < 3 || len(name) > 255 {
		return &ValidationError{
			Type:   "InvalidIndexName",
			Field:  name,
			Detail: "index name must be 3-255 characters",
		}
	}

	if !tableNamePattern.MatchString(name) {
		return &ValidationError{
			Type:   "InvalidIndexName",
			Field:  name,
			Detail: "index name can only contain letters, numbers, dots, dashes, and underscores",
		}
	}

	return nil
}
