// Package schema defines the declarative schema model for a Doris target
// table: field kinds and their native type mapping, the desired-state
// snapshot compared across deployments, vector/inverted index specs, and the
// pure DDL text builders driven by them.
package schema

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// FieldKind is the resolved value kind of a declared field
type FieldKind string

const (
	KindBytes          FieldKind = "bytes"
	KindString         FieldKind = "string"
	KindBool           FieldKind = "bool"
	KindInt64          FieldKind = "int64"
	KindFloat32        FieldKind = "float32"
	KindFloat64        FieldKind = "float64"
	KindUUID           FieldKind = "uuid"
	KindDate           FieldKind = "date"
	KindTime           FieldKind = "time"
	KindLocalDateTime  FieldKind = "local_datetime"
	KindOffsetDateTime FieldKind = "offset_datetime"
	KindTimeDelta      FieldKind = "time_delta"
	KindJSON           FieldKind = "json"
	KindRange          FieldKind = "range"
	KindVector         FieldKind = "vector"
	KindStruct         FieldKind = "struct"
)

// Field describes one declared column, already resolved by the upstream
// engine to {name, kind, nullable, vector dimension}.
type Field struct {
	Name     string    `yaml:"name" json:"name"`
	Kind     FieldKind `yaml:"kind" json:"kind"`
	Nullable bool      `yaml:"nullable" json:"nullable"`
	// Dimension is the fixed vector dimension; 0 means not fixed. Only
	// meaningful for KindVector.
	Dimension int `yaml:"dimension,omitempty" json:"dimension,omitempty"`
}

// dorisTypeByKind maps field kinds to native Doris column types
var dorisTypeByKind = map[FieldKind]string{
	KindBytes:          "STRING",
	KindString:         "TEXT",
	KindBool:           "BOOLEAN",
	KindInt64:          "BIGINT",
	KindFloat32:        "FLOAT",
	KindFloat64:        "DOUBLE",
	KindUUID:           "VARCHAR(36)",
	KindDate:           "DATE",
	KindTime:           "VARCHAR(20)", // HH:MM:SS.ffffff
	KindLocalDateTime:  "DATETIME(6)",
	KindOffsetDateTime: "DATETIME(6)",
	KindTimeDelta:      "BIGINT", // microseconds
	KindJSON:           "JSON",
	KindRange:          "JSON", // {"start": x, "end": y}
	KindStruct:         "JSON",
}

// DorisType returns the native Doris column type for the field. Vectors map
// to ARRAY<FLOAT> only when a fixed dimension is known; otherwise they fall
// back to JSON storage and cannot carry a vector index.
func (f Field) DorisType() string {
	if f.Kind == KindVector {
		if f.Dimension > 0 {
			return "ARRAY<FLOAT>"
		}
		return "JSON"
	}
	if t, ok := dorisTypeByKind[f.Kind]; ok {
		return t
	}
	return "JSON"
}

// IsVectorIndexable reports whether the field can carry an ANN index
func (f Field) IsVectorIndexable() bool {
	return f.Kind == KindVector && f.Dimension > 0
}

// KeyColumnType coerces a Doris type for use in key position. The DUPLICATE
// KEY model forbids unbounded TEXT/STRING key columns, so those become a
// bounded VARCHAR.
func KeyColumnType(dorisType string) string {
	if dorisType == "TEXT" || dorisType == "STRING" {
		return "VARCHAR(512)"
	}
	return dorisType
}

// ArrayElementType extracts the element type from ARRAY<T> or ARRAY(T).
// Returns "" when the type is not an array.
func ArrayElementType(typeStr string) string {
	t := strings.ToUpper(strings.TrimSpace(typeStr))
	if strings.HasPrefix(t, "ARRAY<") && strings.HasSuffix(t, ">") {
		return strings.TrimSpace(t[6 : len(t)-1])
	}
	if strings.HasPrefix(t, "ARRAY(") && strings.HasSuffix(t, ")") {
		return strings.TrimSpace(t[6 : len(t)-1])
	}
	return ""
}

// VarcharLength extracts N from VARCHAR(N). Returns 0 when no explicit
// length is present.
func VarcharLength(typeStr string) int {
	t := strings.ToUpper(strings.TrimSpace(typeStr))
	if strings.HasPrefix(t, "VARCHAR(") && strings.HasSuffix(t, ")") {
		if n, err := strconv.Atoi(strings.TrimSpace(t[8 : len(t)-1])); err == nil {
			return n
		}
	}
	return 0
}

func isTextBase(typeStr string) bool {
	base := strings.SplitN(typeStr, "(", 2)[0]
	return base == "TEXT" || base == "STRING"
}

// TypesCompatible reports whether a live column of type actual can serve a
// declared column of type expected without recreation.
//
// Rules: exact match; arrays must share an element type (FLOAT and DOUBLE
// interchangeable); VARCHAR is compatible when the live length can hold the
// expected length; TEXT and STRING are interchangeable; VARCHAR and
// TEXT/STRING are accepted in either direction (the VARCHAR-holds-TEXT
// direction may truncate, a documented lossy-but-allowed case).
func TypesCompatible(expected, actual string) bool {
	exp := strings.ToUpper(strings.TrimSpace(expected))
	act := strings.ToUpper(strings.TrimSpace(actual))

	if exp == act {
		return true
	}

	expElem := ArrayElementType(exp)
	actElem := ArrayElementType(act)
	if expElem != "" || actElem != "" {
		if expElem == "" || actElem == "" {
			return false
		}
		if isFloatType(expElem) && isFloatType(actElem) {
			return true
		}
		return expElem == actElem
	}

	if strings.HasPrefix(exp, "VARCHAR") && strings.HasPrefix(act, "VARCHAR") {
		expLen := VarcharLength(exp)
		actLen := VarcharLength(act)
		if expLen > 0 && actLen > 0 {
			return actLen >= expLen
		}
		// No explicit length on one side: Doris defaults to a large bound
		return true
	}

	if isTextBase(exp) && isTextBase(act) {
		return true
	}
	if strings.HasPrefix(exp, "VARCHAR") && isTextBase(act) {
		return true
	}
	if isTextBase(exp) && strings.HasPrefix(act, "VARCHAR") {
		return true
	}

	return false
}

func isFloatType(t string) bool {
	return t == "FLOAT" || t == "DOUBLE"
}

// NormalizeValue converts a Go value into a Stream Load compatible form:
// NaN becomes null, byte slices become strings, timestamps become ISO 8601,
// UUIDs become their string form. Slices and maps are normalized
// recursively.
func NormalizeValue(v interface{}) interface{} {
	switch val := v.(type) {
	case nil:
		return nil
	case uuid.UUID:
		return val.String()
	case float64:
		if math.IsNaN(val) {
			return nil
		}
		return val
	case float32:
		if math.IsNaN(float64(val)) {
			return nil
		}
		return val
	case []byte:
		return string(val)
	case time.Time:
		return val.Format(time.RFC3339Nano)
	case time.Duration:
		return val.Microseconds()
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = NormalizeValue(item)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = NormalizeValue(item)
		}
		return out
	default:
		return v
	}
}

// DefaultLiteral returns the DEFAULT clause literal used when adding a NOT
// NULL column of the given Doris type to a table with existing rows. The
// second result is false when the type has no sensible default and the
// column must be added nullable instead.
func DefaultLiteral(dorisType string) (string, bool) {
	switch {
	case dorisType == "TEXT" || dorisType == "STRING":
		return "''", true
	case dorisType == "BIGINT":
		return "0", true
	case dorisType == "FLOAT" || dorisType == "DOUBLE":
		return "0.0", true
	case dorisType == "BOOLEAN":
		return "FALSE", true
	case dorisType == "JSON":
		return "'{}'", true
	case strings.HasPrefix(dorisType, "ARRAY"):
		return "'[]'", true
	default:
		return "", false
	}
}

// String implements fmt.Stringer for diagnostics
func (f Field) String() string {
	nullable := "NOT NULL"
	if f.Nullable {
		nullable = "NULL"
	}
	return fmt.Sprintf("%s %s %s", f.Name, f.DorisType(), nullable)
}
