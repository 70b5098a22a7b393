package schema

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/datalith/doris-target/pkg/errors"
)

var identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ValidateIdentifier rejects any SQL identifier outside
// [a-zA-Z_][a-zA-Z0-9_]*. This is the sole injection defense for DDL
// identifiers; values on the load and delete paths are always parameterized,
// never interpolated.
func ValidateIdentifier(name string) error {
	if !identifierPattern.MatchString(name) {
		return errors.NewSchemaError("", name, "invalid identifier: %q", name)
	}
	return nil
}

// vectorIndexProperties builds the PROPERTIES list shared by the inline
// CREATE TABLE index clause and the standalone CREATE INDEX statement.
func vectorIndexProperties(idx VectorIndex) []string {
	props := []string{
		fmt.Sprintf("%q = %q", "index_type", string(idx.IndexType)),
		fmt.Sprintf("%q = %q", "metric_type", idx.MetricType),
		fmt.Sprintf("%q = %q", "dim", fmt.Sprint(idx.Dimension)),
	}
	if idx.MaxDegree > 0 {
		props = append(props, fmt.Sprintf("%q = %q", "max_degree", fmt.Sprint(idx.MaxDegree)))
	}
	if idx.EfConstruction > 0 {
		props = append(props, fmt.Sprintf("%q = %q", "ef_construction", fmt.Sprint(idx.EfConstruction)))
	}
	if idx.NList > 0 {
		props = append(props, fmt.Sprintf("%q = %q", "nlist", fmt.Sprint(idx.NList)))
	}
	return props
}

// BuildCreateTable generates the CREATE TABLE statement for the desired
// state: key columns NOT NULL with TEXT coerced to VARCHAR, value columns
// nullable per schema except vectors (the index engine requires NOT NULL),
// inline index clauses, then distribution and replication properties.
func BuildCreateTable(key TableKey, state *DesiredState) (string, error) {
	if err := ValidateIdentifier(key.Database); err != nil {
		return "", err
	}
	if err := ValidateIdentifier(key.Table); err != nil {
		return "", err
	}

	var columns []string
	var keyNames []string

	for _, f := range state.KeyFields {
		if err := ValidateIdentifier(f.Name); err != nil {
			return "", err
		}
		columns = append(columns, fmt.Sprintf("    %s %s NOT NULL", f.Name, KeyColumnType(f.DorisType())))
		keyNames = append(keyNames, f.Name)
	}

	for _, f := range state.ValueFields {
		if err := ValidateIdentifier(f.Name); err != nil {
			return "", err
		}
		nullable := "NOT NULL"
		if f.Nullable && f.Kind != KindVector {
			nullable = "NULL"
		}
		columns = append(columns, fmt.Sprintf("    %s %s %s", f.Name, f.DorisType(), nullable))
	}

	for _, idx := range state.VectorIndexes {
		if err := ValidateIdentifier(idx.Name); err != nil {
			return "", err
		}
		if err := ValidateIdentifier(idx.FieldName); err != nil {
			return "", err
		}
		columns = append(columns, fmt.Sprintf("    INDEX %s (%s) USING ANN PROPERTIES (%s)",
			idx.Name, idx.FieldName, strings.Join(vectorIndexProperties(idx), ", ")))
	}

	for _, idx := range state.InvertedIndexes {
		if err := ValidateIdentifier(idx.Name); err != nil {
			return "", err
		}
		if err := ValidateIdentifier(idx.FieldName); err != nil {
			return "", err
		}
		if idx.Parser != "" {
			columns = append(columns, fmt.Sprintf("    INDEX %s (%s) USING INVERTED PROPERTIES (%q = %q)",
				idx.Name, idx.FieldName, "parser", idx.Parser))
		} else {
			columns = append(columns, fmt.Sprintf("    INDEX %s (%s) USING INVERTED", idx.Name, idx.FieldName))
		}
	}

	keyCols := strings.Join(keyNames, ", ")
	buckets := "AUTO"
	if !strings.EqualFold(state.Buckets, "auto") && state.Buckets != "" {
		buckets = state.Buckets
	}

	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.%s (
%s
)
ENGINE = OLAP
DUPLICATE KEY(%s)
DISTRIBUTED BY HASH(%s) BUCKETS %s
PROPERTIES (
    "replication_num" = "%d"
)`, key.Database, key.Table, strings.Join(columns, ",\n"), keyCols, keyCols, buckets, state.ReplicationNum), nil
}

// BuildAddColumn generates an ALTER TABLE ADD COLUMN statement for a value
// column. NOT NULL columns get a type-appropriate DEFAULT literal so
// pre-existing rows stay readable; types without a sensible default are
// added nullable instead. Vector columns are always NOT NULL with an empty
// array default.
func BuildAddColumn(key TableKey, f Field) (string, error) {
	if err := ValidateIdentifier(f.Name); err != nil {
		return "", err
	}

	dorisType := f.DorisType()
	nullable := "NULL"
	defaultClause := ""

	if f.Kind == KindVector {
		nullable = "NOT NULL"
		defaultClause = " DEFAULT '[]'"
	} else if !f.Nullable {
		if lit, ok := DefaultLiteral(dorisType); ok {
			nullable = "NOT NULL"
			defaultClause = " DEFAULT " + lit
		}
	}

	return fmt.Sprintf("ALTER TABLE `%s`.`%s` ADD COLUMN `%s` %s %s%s",
		key.Database, key.Table, f.Name, dorisType, nullable, defaultClause), nil
}

// BuildCreateVectorIndex generates the standalone CREATE INDEX statement for
// an ANN index.
func BuildCreateVectorIndex(key TableKey, idx VectorIndex) (string, error) {
	if err := ValidateIdentifier(idx.Name); err != nil {
		return "", err
	}
	if err := ValidateIdentifier(idx.FieldName); err != nil {
		return "", err
	}
	return fmt.Sprintf("CREATE INDEX `%s` ON `%s`.`%s` (`%s`) USING ANN PROPERTIES (%s)",
		idx.Name, key.Database, key.Table, idx.FieldName,
		strings.Join(vectorIndexProperties(idx), ", ")), nil
}

// BuildCreateInvertedIndex generates the standalone CREATE INDEX statement
// for an inverted index.
func BuildCreateInvertedIndex(key TableKey, idx InvertedIndex) (string, error) {
	if err := ValidateIdentifier(idx.Name); err != nil {
		return "", err
	}
	if err := ValidateIdentifier(idx.FieldName); err != nil {
		return "", err
	}
	if idx.Parser != "" {
		return fmt.Sprintf("CREATE INDEX `%s` ON `%s`.`%s` (`%s`) USING INVERTED PROPERTIES (%q = %q)",
			idx.Name, key.Database, key.Table, idx.FieldName, "parser", idx.Parser), nil
	}
	return fmt.Sprintf("CREATE INDEX `%s` ON `%s`.`%s` (`%s`) USING INVERTED",
		idx.Name, key.Database, key.Table, idx.FieldName), nil
}

// BuildDropIndex generates a DROP INDEX statement
func BuildDropIndex(key TableKey, indexName string) (string, error) {
	if err := ValidateIdentifier(indexName); err != nil {
		return "", err
	}
	return fmt.Sprintf("DROP INDEX `%s` ON `%s`.`%s`", indexName, key.Database, key.Table), nil
}

// BuildBuildIndex generates the BUILD INDEX statement that starts the
// asynchronous server-side index build.
func BuildBuildIndex(key TableKey, indexName string) (string, error) {
	if err := ValidateIdentifier(indexName); err != nil {
		return "", err
	}
	return fmt.Sprintf("BUILD INDEX `%s` ON `%s`.`%s`", indexName, key.Database, key.Table), nil
}

// BuildDropTable generates a DROP TABLE IF EXISTS statement
func BuildDropTable(key TableKey) string {
	return fmt.Sprintf("DROP TABLE IF EXISTS `%s`.`%s`", key.Database, key.Table)
}

// BuildCreateDatabase generates a CREATE DATABASE IF NOT EXISTS statement
func BuildCreateDatabase(database string) (string, error) {
	if err := ValidateIdentifier(database); err != nil {
		return "", err
	}
	return fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", database), nil
}
