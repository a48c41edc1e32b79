package queryir

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind categorizes translation failures.
type ErrorKind string

const (
	// ErrUntranslatable indicates a member access or method call with no
	// relational equivalent in a position that cannot be deferred to client
	// evaluation (join keys, aggregates, predicates, nested subqueries).
	ErrUntranslatable ErrorKind = "UNTRANSLATABLE_MEMBER"

	// ErrMaterializationShape indicates a sequence that must be streamed
	// ordered or keyed but has no identifying column set.
	ErrMaterializationShape ErrorKind = "MATERIALIZATION_SHAPE"

	// ErrIncludeMisuse indicates an include directive after a non-entity
	// shaping operator, or a path segment that does not resolve.
	ErrIncludeMisuse ErrorKind = "INCLUDE_MISUSE"

	// ErrSetOperationShape indicates set operands with incompatible shapes,
	// include trees or orderings.
	ErrSetOperationShape ErrorKind = "SET_OPERATION_SHAPE"

	// ErrGroupingRejected indicates a grouping that can neither be pushed
	// to the relational engine nor evaluated per group on the client.
	ErrGroupingRejected ErrorKind = "GROUPING_REJECTED"

	// ErrInvalidQuery indicates a malformed query tree or query text.
	ErrInvalidQuery ErrorKind = "INVALID_QUERY"
)

// TranslationError is a structured translation failure.
//
// Kind is always set. The remaining fields are filled in where they apply:
// Member and DeclaringType for untranslatable members, Path for include
// misuse, Operation for set operations and materialization shapes.
type TranslationError struct {
	Kind          ErrorKind
	Member        string
	DeclaringType string
	Path          string
	Operation     string
	Message       string

	// Pos is the byte offset in the query text for parse errors, -1 when
	// the error did not come from the parser.
	Pos int
}

// Error implements the error interface.
func (e *TranslationError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	b.WriteString(": ")
	if e.Pos >= 0 {
		fmt.Fprintf(&b, "offset %d: ", e.Pos)
	}
	switch {
	case e.Member != "" && e.DeclaringType != "":
		fmt.Fprintf(&b, "member '%s' on '%s': ", e.Member, e.DeclaringType)
	case e.Member != "":
		fmt.Fprintf(&b, "'%s': ", e.Member)
	}
	if e.Path != "" {
		fmt.Fprintf(&b, "include '%s': ", e.Path)
	}
	if e.Operation != "" {
		fmt.Fprintf(&b, "%s: ", e.Operation)
	}
	b.WriteString(e.Message)
	return b.String()
}

// IsKind reports whether err is a TranslationError of the given kind.
// Uses errors.As to handle wrapped errors.
func IsKind(err error, kind ErrorKind) bool {
	var te *TranslationError
	if errors.As(err, &te) {
		return te.Kind == kind
	}
	return false
}

// KindOf returns the kind of a TranslationError, or "" when err is not one.
func KindOf(err error) ErrorKind {
	var te *TranslationError
	if errors.As(err, &te) {
		return te.Kind
	}
	return ""
}

// Untranslatable creates an ErrUntranslatable error for member on
// declaringType. declaringType may be empty for method calls on scalars.
func Untranslatable(member, declaringType, format string, args ...any) *TranslationError {
	return &TranslationError{
		Kind:          ErrUntranslatable,
		Member:        member,
		DeclaringType: declaringType,
		Message:       fmt.Sprintf(format, args...),
		Pos:           -1,
	}
}

// MaterializationShape creates an ErrMaterializationShape error. shape
// names what was required ("ordered sequence", "queryable sequence").
func MaterializationShape(shape, format string, args ...any) *TranslationError {
	return &TranslationError{
		Kind:      ErrMaterializationShape,
		Operation: shape,
		Message:   fmt.Sprintf(format, args...),
		Pos:       -1,
	}
}

// IncludeMisuse creates an ErrIncludeMisuse error naming the directive path.
func IncludeMisuse(path, format string, args ...any) *TranslationError {
	return &TranslationError{
		Kind:    ErrIncludeMisuse,
		Path:    path,
		Message: fmt.Sprintf(format, args...),
		Pos:     -1,
	}
}

// SetOperationShape creates an ErrSetOperationShape error naming the
// operation.
func SetOperationShape(op SetOp, format string, args ...any) *TranslationError {
	return &TranslationError{
		Kind:      ErrSetOperationShape,
		Operation: string(op),
		Message:   fmt.Sprintf(format, args...),
		Pos:       -1,
	}
}

// GroupingRejected creates an ErrGroupingRejected error.
func GroupingRejected(format string, args ...any) *TranslationError {
	return &TranslationError{
		Kind:    ErrGroupingRejected,
		Message: fmt.Sprintf(format, args...),
		Pos:     -1,
	}
}

// InvalidQuery creates an ErrInvalidQuery error.
func InvalidQuery(format string, args ...any) *TranslationError {
	return &TranslationError{
		Kind:    ErrInvalidQuery,
		Message: fmt.Sprintf(format, args...),
		Pos:     -1,
	}
}
