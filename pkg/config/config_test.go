package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTargetConfigDefaults(t *testing.T) {
	cfg := NewTargetConfig("fe.example.com", "analytics", "events")
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "fe.example.com", cfg.Connection.FEHost)
	assert.Equal(t, 8080, cfg.Connection.FEHTTPPort)
	assert.Equal(t, 9030, cfg.Connection.QueryPort)
	assert.Equal(t, "root", cfg.Connection.Username)
	assert.Equal(t, 10000, cfg.Performance.BatchSize)
	assert.Equal(t, time.Minute, cfg.Timeouts.SchemaChange)
	assert.Equal(t, 5*time.Minute, cfg.Timeouts.IndexBuild)
	assert.Equal(t, 3, cfg.Reliability.RetryAttempts)
	assert.Equal(t, EvolutionExtend, cfg.SchemaEvolution)
	assert.True(t, cfg.AutoCreateTable)
	assert.Equal(t, BucketsAuto, cfg.Table.Buckets)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*TargetConfig)
		wantErr string
	}{
		{"valid", func(c *TargetConfig) {}, ""},
		{"missing host", func(c *TargetConfig) { c.Connection.FEHost = "" }, "fe_host"},
		{"missing database", func(c *TargetConfig) { c.Connection.Database = "" }, "database"},
		{"missing table", func(c *TargetConfig) { c.Connection.TableName = "" }, "connection.table"},
		{"bad http port", func(c *TargetConfig) { c.Connection.FEHTTPPort = 0 }, "fe_http_port"},
		{"bad query port", func(c *TargetConfig) { c.Connection.QueryPort = 70000 }, "query_port"},
		{"zero batch size", func(c *TargetConfig) { c.Performance.BatchSize = 0 }, "batch_size"},
		{"negative retries", func(c *TargetConfig) { c.Reliability.RetryAttempts = -1 }, "retry_attempts"},
		{"sub-one multiplier", func(c *TargetConfig) { c.Reliability.RetryMultiplier = 0.5 }, "retry_multiplier"},
		{"zero replication", func(c *TargetConfig) { c.Table.ReplicationNum = 0 }, "replication_num"},
		{"bad buckets", func(c *TargetConfig) { c.Table.Buckets = "lots" }, "buckets"},
		{"negative buckets", func(c *TargetConfig) { c.Table.Buckets = "-4" }, "buckets"},
		{"bad evolution mode", func(c *TargetConfig) { c.SchemaEvolution = "yolo" }, "schema_evolution"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewTargetConfig("fe", "db", "tbl")
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
