package doris

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"

	"github.com/datalith/doris-target/pkg/config"
	"github.com/datalith/doris-target/pkg/errors"
	"github.com/datalith/doris-target/pkg/schema"
)

// SearchQueryOptions tunes BuildVectorSearchQuery
type SearchQueryOptions struct {
	// Metric is "l2_distance" or "inner_product"; other identifiers are
	// passed through as a raw distance function name.
	Metric string
	// Limit is the number of rows to return; must be positive
	Limit int
	// SelectColumns restricts the projection; empty selects all columns
	SelectColumns []string
	// WhereClause is appended verbatim. It is NOT escaped: the caller must
	// ensure any user input in it is sanitized.
	WhereClause string
}

// BuildVectorSearchQuery builds an ANN search statement. Stateless helper:
// not part of the reconciliation core. Identifiers are validated and
// backtick-quoted; the vector literal contains only floats. The
// *_approximate function variants are used so the query leverages the ANN
// index.
func BuildVectorSearchQuery(table, vectorField string, queryVector []float32, opts SearchQueryOptions) (string, error) {
	quotedTable, err := quoteTableName(table)
	if err != nil {
		return "", err
	}
	if err := schema.ValidateIdentifier(vectorField); err != nil {
		return "", err
	}

	limit := opts.Limit
	if limit <= 0 {
		return "", errors.Newf(errors.ErrorTypeValidation, "limit must be positive, got %d", limit)
	}

	metric := opts.Metric
	if metric == "" {
		metric = "l2_distance"
	}
	var distanceFn, order string
	switch metric {
	case "l2_distance":
		distanceFn = "l2_distance_approximate"
		order = "ASC" // smaller distance = more similar
	case "inner_product":
		distanceFn = "inner_product_approximate"
		order = "DESC" // larger product = more similar
	default:
		if err := schema.ValidateIdentifier(metric); err != nil {
			return "", err
		}
		distanceFn = metric
		order = "DESC"
		if strings.Contains(metric, "distance") {
			order = "ASC"
		}
	}

	parts := make([]string, len(queryVector))
	for i, v := range queryVector {
		parts[i] = strconv.FormatFloat(float64(v), 'g', -1, 32)
	}
	vectorLiteral := "[" + strings.Join(parts, ", ") + "]"

	selectClause := "*"
	if len(opts.SelectColumns) > 0 {
		quoted := make([]string, len(opts.SelectColumns))
		for i, col := range opts.SelectColumns {
			if err := schema.ValidateIdentifier(col); err != nil {
				return "", err
			}
			quoted[i] = "`" + col + "`"
		}
		selectClause = strings.Join(quoted, ", ")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s, %s(`%s`, %s) as _distance\nFROM %s",
		selectClause, distanceFn, vectorField, vectorLiteral, quotedTable)
	if opts.WhereClause != "" {
		fmt.Fprintf(&b, "\nWHERE %s", opts.WhereClause)
	}
	fmt.Fprintf(&b, "\nORDER BY _distance %s\nLIMIT %d", order, limit)
	return b.String(), nil
}

// quoteTableName validates and quotes a table name, supporting the
// database.table form.
func quoteTableName(table string) (string, error) {
	parts := strings.Split(table, ".")
	switch len(parts) {
	case 1:
		if err := schema.ValidateIdentifier(parts[0]); err != nil {
			return "", err
		}
		return "`" + parts[0] + "`", nil
	case 2:
		if err := schema.ValidateIdentifier(parts[0]); err != nil {
			return "", err
		}
		if err := schema.ValidateIdentifier(parts[1]); err != nil {
			return "", err
		}
		return "`" + parts[0] + "`.`" + parts[1] + "`", nil
	default:
		return "", errors.Newf(errors.ErrorTypeValidation, "invalid table name format: %q", table)
	}
}

// Connect opens a raw database/sql handle against the frontend query port,
// for ad-hoc queries outside the connector lifecycle.
func Connect(cfg *config.TargetConfig) (*sql.DB, error) {
	mysqlCfg := mysql.NewConfig()
	mysqlCfg.User = cfg.Connection.Username
	mysqlCfg.Passwd = cfg.Connection.Password
	mysqlCfg.Net = "tcp"
	mysqlCfg.Addr = fmt.Sprintf("%s:%d", cfg.Connection.FEHost, cfg.Connection.QueryPort)
	mysqlCfg.DBName = cfg.Connection.Database
	mysqlCfg.AllowNativePasswords = true

	db, err := sql.Open("mysql", mysqlCfg.FormatDSN())
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to open doris connection")
	}
	return db, nil
}
