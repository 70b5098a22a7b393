// Package config provides the unified configuration for the Doris target
// connector. It defines a single TargetConfig structure that is threaded
// explicitly through every call: the config used to create a table is the
// same value later used to mutate it, so connection, retry and timeout
// settings can never drift between the two.
//
// The configuration is organized into logical sections:
//   - Connection: frontend host, ports, credentials
//   - Performance: batch sizes and load timeouts
//   - Timeouts: asynchronous DDL job polling bounds
//   - Reliability: retry policy for transient failures
//   - Table: storage/distribution/replication properties
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// EvolutionMode controls how schema drift between the declared schema and the
// live table is handled.
type EvolutionMode string

const (
	// EvolutionExtend tolerates drift: extra live columns are kept unmanaged,
	// missing value columns are added, and tables are never dropped on target
	// removal.
	EvolutionExtend EvolutionMode = "extend"
	// EvolutionStrict requires an exact schema match and drops the table when
	// the target is removed.
	EvolutionStrict EvolutionMode = "strict"
)

// BucketsAuto selects automatic bucket sizing in the DISTRIBUTED BY clause.
const BucketsAuto = "auto"

// TargetConfig is the complete, immutable configuration for one Doris target
// table. Construct with NewTargetConfig and treat as read-only afterwards.
type TargetConfig struct {
	Connection  ConnectionConfig  `yaml:"connection" json:"connection"`
	Performance PerformanceConfig `yaml:"performance" json:"performance"`
	Timeouts    TimeoutConfig     `yaml:"timeouts" json:"timeouts"`
	Reliability ReliabilityConfig `yaml:"reliability" json:"reliability"`
	Table       TableConfig       `yaml:"table" json:"table"`

	// SchemaEvolution selects drift handling ("extend" or "strict")
	SchemaEvolution EvolutionMode `yaml:"schema_evolution" json:"schema_evolution"`
	// AutoCreateTable creates the database and table when absent. When
	// disabled, a missing table is a schema error.
	AutoCreateTable bool `yaml:"auto_create_table" json:"auto_create_table"`
}

// ConnectionConfig identifies the Doris frontend and credentials
type ConnectionConfig struct {
	// FEHost is the frontend host name or address
	FEHost string `yaml:"fe_host" json:"fe_host"`
	// Database is the target database name
	Database string `yaml:"database" json:"database"`
	// TableName is the target table name
	TableName string `yaml:"table" json:"table"`
	// FEHTTPPort is the frontend HTTP port used by Stream Load
	FEHTTPPort int `yaml:"fe_http_port" json:"fe_http_port"`
	// QueryPort is the MySQL-protocol query port used for DDL and DELETE
	QueryPort int `yaml:"query_port" json:"query_port"`
	// Username authenticates both transports
	Username string `yaml:"username" json:"username"`
	// Password authenticates both transports
	Password string `yaml:"password" json:"password"`
	// EnableHTTPS switches Stream Load to https
	EnableHTTPS bool `yaml:"enable_https" json:"enable_https"`
}

// PerformanceConfig controls batching and load behavior
type PerformanceConfig struct {
	// BatchSize is the chunk size for Stream Load and DELETE round trips
	BatchSize int `yaml:"batch_size" json:"batch_size"`
	// StreamLoadTimeout bounds one Stream Load request
	StreamLoadTimeout time.Duration `yaml:"stream_load_timeout" json:"stream_load_timeout"`
	// Compress gzips Stream Load bodies
	Compress bool `yaml:"compress" json:"compress"`
}

// TimeoutConfig bounds the asynchronous DDL job polling loops
type TimeoutConfig struct {
	// SchemaChange bounds the wait for ALTER TABLE / DROP INDEX jobs
	SchemaChange time.Duration `yaml:"schema_change" json:"schema_change"`
	// IndexBuild bounds the wait for BUILD INDEX jobs
	IndexBuild time.Duration `yaml:"index_build" json:"index_build"`
}

// ReliabilityConfig defines the retry policy for transient failures
type ReliabilityConfig struct {
	// RetryAttempts is the number of retries after the first attempt
	RetryAttempts int `yaml:"retry_attempts" json:"retry_attempts"`
	// RetryDelay is the initial backoff delay
	RetryDelay time.Duration `yaml:"retry_delay" json:"retry_delay"`
	// RetryMultiplier grows the delay exponentially
	RetryMultiplier float64 `yaml:"retry_multiplier" json:"retry_multiplier"`
	// MaxRetryDelay caps the backoff delay
	MaxRetryDelay time.Duration `yaml:"max_retry_delay" json:"max_retry_delay"`
}

// TableConfig holds Doris table storage properties
type TableConfig struct {
	// ReplicationNum is the tablet replication factor
	ReplicationNum int `yaml:"replication_num" json:"replication_num"`
	// Buckets is a fixed bucket count or "auto"
	Buckets string `yaml:"buckets" json:"buckets"`
}

// NewTargetConfig creates a configuration with production defaults for the
// given table identity.
func NewTargetConfig(feHost, database, table string) *TargetConfig {
	return &TargetConfig{
		Connection: ConnectionConfig{
			FEHost:     feHost,
			Database:   database,
			TableName:  table,
			FEHTTPPort: 8080,
			QueryPort:  9030,
			Username:   "root",
		},
		Performance: PerformanceConfig{
			BatchSize:         10000,
			StreamLoadTimeout: 10 * time.Minute,
		},
		Timeouts: TimeoutConfig{
			SchemaChange: time.Minute,
			IndexBuild:   5 * time.Minute,
		},
		Reliability: ReliabilityConfig{
			RetryAttempts:   3,
			RetryDelay:      time.Second,
			RetryMultiplier: 2.0,
			MaxRetryDelay:   30 * time.Second,
		},
		Table: TableConfig{
			ReplicationNum: 1,
			Buckets:        BucketsAuto,
		},
		SchemaEvolution: EvolutionExtend,
		AutoCreateTable: true,
	}
}

// Validate checks the configuration for consistency
func (c *TargetConfig) Validate() error {
	if c.Connection.FEHost == "" {
		return fmt.Errorf("connection.fe_host is required")
	}
	if c.Connection.Database == "" {
		return fmt.Errorf("connection.database is required")
	}
	if c.Connection.TableName == "" {
		return fmt.Errorf("connection.table is required")
	}
	if c.Connection.FEHTTPPort <= 0 || c.Connection.FEHTTPPort > 65535 {
		return fmt.Errorf("connection.fe_http_port must be in (0, 65535], got %d", c.Connection.FEHTTPPort)
	}
	if c.Connection.QueryPort <= 0 || c.Connection.QueryPort > 65535 {
		return fmt.Errorf("connection.query_port must be in (0, 65535], got %d", c.Connection.QueryPort)
	}
	if c.Performance.BatchSize <= 0 {
		return fmt.Errorf("performance.batch_size must be positive, got %d", c.Performance.BatchSize)
	}
	if c.Reliability.RetryAttempts < 0 {
		return fmt.Errorf("reliability.retry_attempts must not be negative, got %d", c.Reliability.RetryAttempts)
	}
	if c.Reliability.RetryMultiplier < 1.0 {
		return fmt.Errorf("reliability.retry_multiplier must be >= 1.0, got %v", c.Reliability.RetryMultiplier)
	}
	if c.Table.ReplicationNum <= 0 {
		return fmt.Errorf("table.replication_num must be positive, got %d", c.Table.ReplicationNum)
	}
	if err := validateBuckets(c.Table.Buckets); err != nil {
		return err
	}
	switch c.SchemaEvolution {
	case EvolutionExtend, EvolutionStrict:
	default:
		return fmt.Errorf("schema_evolution must be %q or %q, got %q",
			EvolutionExtend, EvolutionStrict, c.SchemaEvolution)
	}
	return nil
}

func validateBuckets(buckets string) error {
	if strings.EqualFold(buckets, BucketsAuto) {
		return nil
	}
	n, err := strconv.Atoi(buckets)
	if err != nil || n <= 0 {
		return fmt.Errorf("table.buckets must be a positive integer or %q, got %q", BucketsAuto, buckets)
	}
	return nil
}
