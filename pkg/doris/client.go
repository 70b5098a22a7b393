// Package doris implements the Doris target connector core: a SQL client
// over the frontend MySQL protocol, the Stream Load bulk transport, the
// schema reconciler and index synchronizer, and the row mutation pipeline.
package doris

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"github.com/datalith/doris-target/pkg/config"
	"github.com/datalith/doris-target/pkg/errors"
	"github.com/datalith/doris-target/pkg/logger"
	"github.com/datalith/doris-target/pkg/metrics"
	"github.com/datalith/doris-target/pkg/retry"
	"github.com/datalith/doris-target/pkg/schema"
)

// Executor runs SQL against the Doris frontend. Statements that return rows
// (SHOW, DESCRIBE, SELECT) go through Query; everything else through Exec.
type Executor interface {
	Exec(ctx context.Context, stmt string, args ...interface{}) (int64, error)
	Query(ctx context.Context, stmt string, args ...interface{}) ([]map[string]interface{}, error)
}

// ColumnInfo describes one live column introspected from the store. Always
// fetched fresh before a reconciliation step; never cached across calls.
type ColumnInfo struct {
	Name      string
	DorisType string
	Nullable  bool
	IsKey     bool
	// Dimension is the fixed array dimension when the column reports one
	// (ARRAY<FLOAT>(384)); 0 otherwise.
	Dimension int
}

// SQLClient executes SQL over the frontend query port with retry
type SQLClient struct {
	db     *sql.DB
	cfg    *config.TargetConfig
	policy *retry.Policy
	logger *zap.Logger
}

// NewSQLClient opens a connection pool against the frontend query port. The
// database name may be empty (required for CREATE DATABASE).
func NewSQLClient(cfg *config.TargetConfig, database string) (*SQLClient, error) {
	mysqlCfg := mysql.NewConfig()
	mysqlCfg.User = cfg.Connection.Username
	mysqlCfg.Passwd = cfg.Connection.Password
	mysqlCfg.Net = "tcp"
	mysqlCfg.Addr = fmt.Sprintf("%s:%d", cfg.Connection.FEHost, cfg.Connection.QueryPort)
	mysqlCfg.DBName = database
	mysqlCfg.Timeout = 10 * time.Second
	mysqlCfg.AllowNativePasswords = true

	db, err := sql.Open("mysql", mysqlCfg.FormatDSN())
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to open doris connection")
	}
	db.SetMaxOpenConns(8)
	db.SetConnMaxIdleTime(time.Minute)

	policy := &retry.Policy{
		MaxRetries:   cfg.Reliability.RetryAttempts,
		InitialDelay: cfg.Reliability.RetryDelay,
		MaxDelay:     cfg.Reliability.MaxRetryDelay,
		Multiplier:   cfg.Reliability.RetryMultiplier,
		OnRetry: func(op string, attempt int) {
			metrics.Retries.WithLabelValues(op).Inc()
		},
	}

	return &SQLClient{
		db:     db,
		cfg:    cfg,
		policy: policy,
		logger: logger.With(zap.String("component", "doris_sql")),
	}, nil
}

// Close releases the connection pool
func (c *SQLClient) Close() error {
	return c.db.Close()
}

// Exec runs a statement that returns no rows, under the retry policy
func (c *SQLClient) Exec(ctx context.Context, stmt string, args ...interface{}) (int64, error) {
	var affected int64
	err := c.policy.Execute(ctx, "sql exec", func(ctx context.Context) error {
		res, err := c.db.ExecContext(ctx, stmt, args...)
		if err != nil {
			return err
		}
		affected, _ = res.RowsAffected()
		return nil
	})
	return affected, err
}

// Query runs a statement and returns all rows as column-name keyed maps,
// under the retry policy.
func (c *SQLClient) Query(ctx context.Context, stmt string, args ...interface{}) ([]map[string]interface{}, error) {
	var result []map[string]interface{}
	err := c.policy.Execute(ctx, "sql query", func(ctx context.Context) error {
		rows, err := c.db.QueryContext(ctx, stmt, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		result, err = scanRows(rows)
		return err
	})
	return result, err
}

// DeleteKeys removes all rows matching the given key tuples. A single-column
// key deletes through one parameterized IN (...) statement. A composite key
// cannot use that form against Doris (its DELETE grammar has no OR-of-AND
// predicates), so each key deletes through its own parameterized statement,
// all multiplexed over one held connection; the whole batch runs once under
// the retry policy, which is safe because delete is idempotent.
func (c *SQLClient) DeleteKeys(ctx context.Context, keyFieldNames []string, keys []map[string]interface{}) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}

	db := c.cfg.Connection.Database
	table := c.cfg.Connection.TableName
	if err := schema.ValidateIdentifier(db); err != nil {
		return 0, err
	}
	if err := schema.ValidateIdentifier(table); err != nil {
		return 0, err
	}
	for _, name := range keyFieldNames {
		if err := schema.ValidateIdentifier(name); err != nil {
			return 0, err
		}
	}

	if len(keyFieldNames) == 1 {
		return c.deleteSingleKey(ctx, keyFieldNames[0], keys)
	}
	return c.deleteCompositeKeys(ctx, keyFieldNames, keys)
}

// buildSingleKeyDelete builds the parameterized IN (...) statement for a
// single-column key chunk, with one param per key in batch order.
func buildSingleKeyDelete(database, table, fieldName string, keys []map[string]interface{}) (string, []interface{}) {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(keys)), ", ")
	stmt := fmt.Sprintf("DELETE FROM `%s`.`%s` WHERE `%s` IN (%s)",
		database, table, fieldName, placeholders)

	params := make([]interface{}, len(keys))
	for i, kv := range keys {
		params[i] = kv[fieldName]
	}
	return stmt, params
}

// buildCompositeKeyDelete builds the shared AND-equality statement for a
// composite key plus one param row per key, each ordered by keyFieldNames.
func buildCompositeKeyDelete(database, table string, keyFieldNames []string, keys []map[string]interface{}) (string, [][]interface{}) {
	conditions := make([]string, len(keyFieldNames))
	for i, name := range keyFieldNames {
		conditions[i] = fmt.Sprintf("`%s` = ?", name)
	}
	stmt := fmt.Sprintf("DELETE FROM `%s`.`%s` WHERE %s",
		database, table, strings.Join(conditions, " AND "))

	allParams := make([][]interface{}, len(keys))
	for i, kv := range keys {
		params := make([]interface{}, len(keyFieldNames))
		for j, name := range keyFieldNames {
			params[j] = kv[name]
		}
		allParams[i] = params
	}
	return stmt, allParams
}

func (c *SQLClient) deleteSingleKey(ctx context.Context, fieldName string, keys []map[string]interface{}) (int64, error) {
	stmt, params := buildSingleKeyDelete(c.cfg.Connection.Database, c.cfg.Connection.TableName, fieldName, keys)

	var deleted int64
	err := c.policy.Execute(ctx, "sql delete", func(ctx context.Context) error {
		res, err := c.db.ExecContext(ctx, stmt, params...)
		if err != nil {
			return err
		}
		deleted, _ = res.RowsAffected()
		return nil
	})
	return deleted, err
}

func (c *SQLClient) deleteCompositeKeys(ctx context.Context, keyFieldNames []string, keys []map[string]interface{}) (int64, error) {
	stmt, allParams := buildCompositeKeyDelete(c.cfg.Connection.Database, c.cfg.Connection.TableName, keyFieldNames, keys)

	var deleted int64
	err := c.policy.Execute(ctx, "sql delete composite", func(ctx context.Context) error {
		conn, err := c.db.Conn(ctx)
		if err != nil {
			return err
		}
		defer conn.Close()

		deleted = 0
		for _, params := range allParams {
			res, err := conn.ExecContext(ctx, stmt, params...)
			if err != nil {
				return err
			}
			n, _ := res.RowsAffected()
			deleted += n
		}
		return nil
	})
	return deleted, err
}

// scanRows converts sql rows into column-name keyed maps with []byte values
// decoded to strings.
func scanRows(rows *sql.Rows) ([]map[string]interface{}, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var result []map[string]interface{}
	for rows.Next() {
		values := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		row := make(map[string]interface{}, len(cols))
		for i, col := range cols {
			v := values[i]
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			row[col] = v
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

var arrayDimensionPattern = regexp.MustCompile(`\((\d+)\)`)

// DescribeTable introspects the live table schema. Returns nil (no error)
// when the table does not exist.
func DescribeTable(ctx context.Context, exec Executor, key schema.TableKey) (map[string]ColumnInfo, error) {
	rows, err := exec.Query(ctx, fmt.Sprintf("DESCRIBE `%s`.`%s`", key.Database, key.Table))
	if err != nil {
		if isUnknownTableErr(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "failed to describe table")
	}
	if len(rows) == 0 {
		return nil, nil
	}

	columns := make(map[string]ColumnInfo, len(rows))
	for _, row := range rows {
		name := stringField(row, "Field")
		colType := stringField(row, "Type")

		dimension := 0
		if strings.HasPrefix(strings.ToUpper(colType), "ARRAY") {
			if m := arrayDimensionPattern.FindStringSubmatch(colType); m != nil {
				dimension, _ = strconv.Atoi(m[1])
			}
		}

		columns[name] = ColumnInfo{
			Name:      name,
			DorisType: colType,
			Nullable:  strings.EqualFold(stringField(row, "Null"), "YES"),
			IsKey:     strings.EqualFold(stringField(row, "Key"), "true"),
			Dimension: dimension,
		}
	}
	return columns, nil
}

// TableModel returns the storage engine key model (DUPLICATE KEY, UNIQUE
// KEY, AGGREGATE KEY) parsed from SHOW CREATE TABLE, or "" when it cannot be
// determined.
func TableModel(ctx context.Context, exec Executor, key schema.TableKey) (string, error) {
	rows, err := exec.Query(ctx, fmt.Sprintf("SHOW CREATE TABLE `%s`.`%s`", key.Database, key.Table))
	if err != nil {
		if isUnknownTableErr(err) {
			return "", nil
		}
		logger.Debug("failed to read table model", zap.Error(err))
		return "", nil
	}
	if len(rows) == 0 {
		return "", nil
	}

	createStmt := strings.ToUpper(stringField(rows[0], "Create Table"))
	for _, model := range []string{"DUPLICATE KEY", "UNIQUE KEY", "AGGREGATE KEY"} {
		if strings.Contains(createStmt, model) {
			return model, nil
		}
	}
	return "", nil
}

// CreateDatabaseIfNotExists issues CREATE DATABASE against a client opened
// without a default database.
func CreateDatabaseIfNotExists(ctx context.Context, exec Executor, database string) error {
	stmt, err := schema.BuildCreateDatabase(database)
	if err != nil {
		return err
	}
	_, err = exec.Exec(ctx, stmt)
	return err
}

// isUnknownTableErr detects the unknown table / unknown database error
// shapes. 1146 is unknown table, 1049 unknown database; some builds report
// 1105 with an "unknown table" message instead.
func isUnknownTableErr(err error) bool {
	var mysqlErr *mysql.MySQLError
	if !stderrors.As(err, &mysqlErr) {
		return false
	}
	switch mysqlErr.Number {
	case 1146, 1049:
		return true
	case 1105:
		return strings.Contains(strings.ToLower(mysqlErr.Message), "unknown table")
	}
	return false
}

func stringField(row map[string]interface{}, key string) string {
	if v, ok := row[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
