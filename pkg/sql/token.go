package sql

import (
	"fmt"
	"strings"
)

// TokenKind distinguishes literal SQL text from parameter placeholders.
type TokenKind int

const (
	LiteralToken TokenKind = iota
	ParameterToken
)

// DeclaredType is the database type a parameter token declares.
// RESULTSET and PRIMARY_KEY are synthetic markers with no column type.
type DeclaredType int

const (
	TypeUnknown DeclaredType = iota
	TypeTinyInt
	TypeSmallInt
	TypeInteger
	TypeBigInt
	TypeReal
	TypeFloat
	TypeDouble
	TypeDecimal
	TypeNumeric
	TypeBit
	TypeBoolean
	TypeChar
	TypeVarchar
	TypeLongVarchar
	TypeNChar
	TypeNVarchar
	TypeClob
	TypeDate
	TypeTime
	TypeTimestamp
	TypeUUID
	TypeResultSet
	TypePrimaryKey
)

var typeNames = map[DeclaredType]string{
	TypeTinyInt:     "TINYINT",
	TypeSmallInt:    "SMALLINT",
	TypeInteger:     "INTEGER",
	TypeBigInt:      "BIGINT",
	TypeReal:        "REAL",
	TypeFloat:       "FLOAT",
	TypeDouble:      "DOUBLE",
	TypeDecimal:     "DECIMAL",
	TypeNumeric:     "NUMERIC",
	TypeBit:         "BIT",
	TypeBoolean:     "BOOLEAN",
	TypeChar:        "CHAR",
	TypeVarchar:     "VARCHAR",
	TypeLongVarchar: "LONGVARCHAR",
	TypeNChar:       "NCHAR",
	TypeNVarchar:    "NVARCHAR",
	TypeClob:        "CLOB",
	TypeDate:        "DATE",
	TypeTime:        "TIME",
	TypeTimestamp:   "TIMESTAMP",
	TypeUUID:        "UUID",
	TypeResultSet:   "RESULTSET",
	TypePrimaryKey:  "PRIMARY_KEY",
}

// typeAliases maps the lower-cased spelling used inside backtick tokens to a type.
var typeAliases = map[string]DeclaredType{
	"int":    TypeInteger,
	"long":   TypeBigInt,
	"string": TypeVarchar,
	"text":   TypeVarchar,
	"bool":   TypeBoolean,
	"rset":   TypeResultSet,
	"cursor": TypeResultSet,
	"pkey":   TypePrimaryKey,
}

func init() {
	for t, name := range typeNames {
		typeAliases[strings.ToLower(name)] = t
	}
}

// LookupType matches a declared type name case-insensitively.
func LookupType(name string) (DeclaredType, bool) {
	t, ok := typeAliases[strings.ToLower(strings.TrimSpace(name))]
	return t, ok
}

func (t DeclaredType) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return "UNKNOWN"
}

// IsResultSet reports whether values of this type are returned as row sets.
func (t DeclaredType) IsResultSet() bool {
	return t == TypeResultSet
}

// IsCharacter reports whether the type binds request text unchanged.
func (t DeclaredType) IsCharacter() bool {
	switch t {
	case TypeChar, TypeVarchar, TypeLongVarchar, TypeNChar, TypeNVarchar, TypeClob:
		return true
	}
	return false
}

// Mode is the direction of a callable parameter.
type Mode int

const (
	ModeNone Mode = iota
	ModeIn
	ModeOut
	ModeInOut
)

func (m Mode) String() string {
	switch m {
	case ModeIn:
		return "IN"
	case ModeOut:
		return "OUT"
	case ModeInOut:
		return "INOUT"
	default:
		return "NONE"
	}
}

// IsInput reports whether the caller supplies a value for this mode.
func (m Mode) IsInput() bool {
	return m == ModeIn || m == ModeInOut
}

// IsOutput reports whether the routine returns a value for this mode.
func (m Mode) IsOutput() bool {
	return m == ModeOut || m == ModeInOut
}

func parseMode(s string) (Mode, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "IN":
		return ModeIn, true
	case "OUT":
		return ModeOut, true
	case "INOUT":
		return ModeInOut, true
	}
	return ModeNone, false
}

// Token is one lexical unit of a statement: literal text or a parameter placeholder.
type Token struct {
	Kind TokenKind
	// Text is the literal text, or the raw backtick token for parameters.
	Text string

	Type           DeclaredType
	Key            string
	Mode           Mode
	Position       int
	ExtraPositions []int

	explicitMode bool
}

// IsParameter reports whether the token is a placeholder.
func (t *Token) IsParameter() bool {
	return t.Kind == ParameterToken
}

// IsPrimaryKey reports whether the token is the PKEY marker.
func (t *Token) IsPrimaryKey() bool {
	return t.Kind == ParameterToken && t.Type == TypePrimaryKey
}

// Positions returns every placeholder position the token binds to.
func (t *Token) Positions() []int {
	if t.Position < 1 {
		return nil
	}
	out := make([]int, 0, 1+len(t.ExtraPositions))
	out = append(out, t.Position)
	return append(out, t.ExtraPositions...)
}

func (t *Token) String() string {
	if t.Kind == LiteralToken {
		return t.Text
	}
	return fmt.Sprintf("`%s:%s:%s`@%d", t.Type, t.Key, t.Mode, t.Position)
}
