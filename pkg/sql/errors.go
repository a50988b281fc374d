package sql

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode names a statement parse or validation failure.
type ErrorCode string

const (
	CodeMalformedStatement         ErrorCode = "MalformedStatement"
	CodeMalformedParameterToken    ErrorCode = "MalformedParameterToken"
	CodeUnknownParameterType       ErrorCode = "UnknownParameterType"
	CodeInvalidPrimaryKeyPlacement ErrorCode = "InvalidPrimaryKeyPlacement"
	CodeDuplicatePrimaryKey        ErrorCode = "DuplicatePrimaryKey"
	CodePrimaryKeyNotAllowed       ErrorCode = "PrimaryKeyNotAllowed"
	CodeResultSetParamInFunction   ErrorCode = "ResultSetParamInFunction"
	CodeModeOnNonCallable          ErrorCode = "ModeOnNonCallable"
	CodeCursorOnNonCallable        ErrorCode = "CursorOnNonCallable"
	CodeMalformedFunctionHeader    ErrorCode = "MalformedFunctionHeader"
	CodeProcedureRequiresParams    ErrorCode = "ProcedureRequiresParams"
	CodeUnrecognizedStatement      ErrorCode = "UnrecognizedStatement"
	CodeDuplicateCallableKey       ErrorCode = "DuplicateCallableKey"
	CodeDuplicateKeyTypeMismatch   ErrorCode = "DuplicateKeyTypeMismatch"
	CodeCursorCannotBeInput        ErrorCode = "CursorCannotBeInput"
)

// Sentinels for errors.Is matching against a *ParseError or *BindError.
var (
	ErrMalformedStatement         = errors.New(string(CodeMalformedStatement))
	ErrMalformedParameterToken    = errors.New(string(CodeMalformedParameterToken))
	ErrUnknownParameterType       = errors.New(string(CodeUnknownParameterType))
	ErrInvalidPrimaryKeyPlacement = errors.New(string(CodeInvalidPrimaryKeyPlacement))
	ErrDuplicatePrimaryKey        = errors.New(string(CodeDuplicatePrimaryKey))
	ErrPrimaryKeyNotAllowed       = errors.New(string(CodePrimaryKeyNotAllowed))
	ErrResultSetParamInFunction   = errors.New(string(CodeResultSetParamInFunction))
	ErrModeOnNonCallable          = errors.New(string(CodeModeOnNonCallable))
	ErrCursorOnNonCallable        = errors.New(string(CodeCursorOnNonCallable))
	ErrMalformedFunctionHeader    = errors.New(string(CodeMalformedFunctionHeader))
	ErrProcedureRequiresParams    = errors.New(string(CodeProcedureRequiresParams))
	ErrUnrecognizedStatement      = errors.New(string(CodeUnrecognizedStatement))
	ErrDuplicateCallableKey       = errors.New(string(CodeDuplicateCallableKey))
	ErrDuplicateKeyTypeMismatch   = errors.New(string(CodeDuplicateKeyTypeMismatch))
	ErrCursorCannotBeInput        = errors.New(string(CodeCursorCannotBeInput))

	ErrBindCountMismatch = errors.New("BindCountMismatch")
	ErrMissingBindValue  = errors.New("MissingBindValue")
	ErrTypeCoercion      = errors.New("TypeCoercionError")

	// ErrUnreachableStatement marks a statement no request can select.
	ErrUnreachableStatement = errors.New("UnreachableStatement")
)

var sentinels = map[ErrorCode]error{
	CodeMalformedStatement:         ErrMalformedStatement,
	CodeMalformedParameterToken:    ErrMalformedParameterToken,
	CodeUnknownParameterType:       ErrUnknownParameterType,
	CodeInvalidPrimaryKeyPlacement: ErrInvalidPrimaryKeyPlacement,
	CodeDuplicatePrimaryKey:        ErrDuplicatePrimaryKey,
	CodePrimaryKeyNotAllowed:       ErrPrimaryKeyNotAllowed,
	CodeResultSetParamInFunction:   ErrResultSetParamInFunction,
	CodeModeOnNonCallable:          ErrModeOnNonCallable,
	CodeCursorOnNonCallable:        ErrCursorOnNonCallable,
	CodeMalformedFunctionHeader:    ErrMalformedFunctionHeader,
	CodeProcedureRequiresParams:    ErrProcedureRequiresParams,
	CodeUnrecognizedStatement:      ErrUnrecognizedStatement,
	CodeDuplicateCallableKey:       ErrDuplicateCallableKey,
	CodeDuplicateKeyTypeMismatch:   ErrDuplicateKeyTypeMismatch,
	CodeCursorCannotBeInput:        ErrCursorCannotBeInput,
}

// ParseError reports why a statement template was rejected.
type ParseError struct {
	Code   ErrorCode
	Text   string
	Detail string
}

func (e *ParseError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: %q", e.Code, e.Text)
	}
	return fmt.Sprintf("%s: %s in %q", e.Code, e.Detail, e.Text)
}

// Is matches the sentinel for the error's code.
func (e *ParseError) Is(target error) bool {
	return sentinels[e.Code] == target
}

func parseErr(code ErrorCode, text string, format string, args ...any) *ParseError {
	return &ParseError{Code: code, Text: text, Detail: fmt.Sprintf(format, args...)}
}

// BindError reports a per-request binding failure. These map to client errors.
type BindError struct {
	Kind  error
	Key   string
	Value string
	Err   error
}

func (e *BindError) Error() string {
	switch e.Kind {
	case ErrMissingBindValue:
		return fmt.Sprintf("missing value for parameter '%s'", e.Key)
	case ErrTypeCoercion:
		return fmt.Sprintf("invalid value %q for parameter '%s': %v", e.Value, e.Key, e.Err)
	default:
		return fmt.Sprintf("%v: %s", e.Kind, e.Value)
	}
}

func (e *BindError) Is(target error) bool {
	return e.Kind == target
}

func (e *BindError) Unwrap() error {
	return e.Err
}

// SignatureCollisionError is returned when two statements in one list would
// be indistinguishable to Resolve.
type SignatureCollisionError struct {
	First  string
	Second string
	Keys   []string
}

func (e *SignatureCollisionError) Error() string {
	return fmt.Sprintf("statements %q and %q share input signature [%s]",
		e.First, e.Second, strings.Join(e.Keys, ", "))
}
