package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datalith/doris-target/pkg/errors"
)

var testKey = TableKey{FEHost: "fe", Database: "analytics", Table: "documents"}

func TestValidateIdentifier(t *testing.T) {
	valid := []string{"a", "_private", "col_1", "CamelCase", "x9"}
	for _, name := range valid {
		assert.NoError(t, ValidateIdentifier(name), name)
	}

	invalid := []string{"", "1col", "col-name", "col name", "col;drop", "`col`", "db.table", "col'"}
	for _, name := range invalid {
		err := ValidateIdentifier(name)
		require.Error(t, err, name)
		assert.True(t, errors.IsSchemaError(err))
	}
}

func TestBuildCreateTable(t *testing.T) {
	state := &DesiredState{
		KeyFields: []Field{
			{Name: "doc_id", Kind: KindString},
			{Name: "chunk", Kind: KindInt64},
		},
		ValueFields: []Field{
			{Name: "body", Kind: KindString, Nullable: true},
			{Name: "embedding", Kind: KindVector, Nullable: true, Dimension: 4},
		},
		VectorIndexes: []VectorIndex{{
			Name:       "idx_embedding_ann",
			FieldName:  "embedding",
			IndexType:  VectorIndexHNSW,
			MetricType: "l2_distance",
			Dimension:  4,
			MaxDegree:  32,
		}},
		InvertedIndexes: []InvertedIndex{{
			Name:      "idx_body_inv",
			FieldName: "body",
			Parser:    "english",
		}},
		ReplicationNum: 3,
		Buckets:        "auto",
	}

	ddl, err := BuildCreateTable(testKey, state)
	require.NoError(t, err)

	// Key columns are NOT NULL with TEXT coerced to a bounded VARCHAR
	assert.Contains(t, ddl, "doc_id VARCHAR(512) NOT NULL")
	assert.Contains(t, ddl, "chunk BIGINT NOT NULL")
	// Nullable value column stays nullable; vectors are forced NOT NULL
	assert.Contains(t, ddl, "body TEXT NULL")
	assert.Contains(t, ddl, "embedding ARRAY<FLOAT> NOT NULL")
	assert.Contains(t, ddl, `INDEX idx_embedding_ann (embedding) USING ANN PROPERTIES ("index_type" = "hnsw", "metric_type" = "l2_distance", "dim" = "4", "max_degree" = "32")`)
	assert.Contains(t, ddl, `INDEX idx_body_inv (body) USING INVERTED PROPERTIES ("parser" = "english")`)
	assert.Contains(t, ddl, "DUPLICATE KEY(doc_id, chunk)")
	assert.Contains(t, ddl, "DISTRIBUTED BY HASH(doc_id, chunk) BUCKETS AUTO")
	assert.Contains(t, ddl, `"replication_num" = "3"`)
}

func TestBuildCreateTableFixedBuckets(t *testing.T) {
	state := &DesiredState{
		KeyFields:      []Field{{Name: "id", Kind: KindInt64}},
		ReplicationNum: 1,
		Buckets:        "16",
	}
	ddl, err := BuildCreateTable(testKey, state)
	require.NoError(t, err)
	assert.Contains(t, ddl, "BUCKETS 16")
}

func TestBuildCreateTableRejectsBadIdentifier(t *testing.T) {
	state := &DesiredState{
		KeyFields: []Field{{Name: "id; DROP TABLE x", Kind: KindInt64}},
	}
	_, err := BuildCreateTable(testKey, state)
	require.Error(t, err)
	assert.True(t, errors.IsSchemaError(err))
}

func TestBuildAddColumn(t *testing.T) {
	tests := []struct {
		name  string
		field Field
		want  string
	}{
		{
			"nullable text",
			Field{Name: "notes", Kind: KindString, Nullable: true},
			"ALTER TABLE `analytics`.`documents` ADD COLUMN `notes` TEXT NULL",
		},
		{
			"not null bigint gets default",
			Field{Name: "count", Kind: KindInt64},
			"ALTER TABLE `analytics`.`documents` ADD COLUMN `count` BIGINT NOT NULL DEFAULT 0",
		},
		{
			"not null date has no default, added nullable",
			Field{Name: "day", Kind: KindDate},
			"ALTER TABLE `analytics`.`documents` ADD COLUMN `day` DATE NULL",
		},
		{
			"vector always not null with empty array",
			Field{Name: "vec", Kind: KindVector, Nullable: true, Dimension: 8},
			"ALTER TABLE `analytics`.`documents` ADD COLUMN `vec` ARRAY<FLOAT> NOT NULL DEFAULT '[]'",
		},
		{
			"not null json",
			Field{Name: "meta", Kind: KindJSON},
			"ALTER TABLE `analytics`.`documents` ADD COLUMN `meta` JSON NOT NULL DEFAULT '{}'",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stmt, err := BuildAddColumn(testKey, tt.field)
			require.NoError(t, err)
			assert.Equal(t, tt.want, stmt)
		})
	}
}

func TestBuildIndexStatements(t *testing.T) {
	vec := VectorIndex{
		Name:       "idx_vec_ann",
		FieldName:  "vec",
		IndexType:  VectorIndexIVF,
		MetricType: "inner_product",
		Dimension:  128,
		NList:      100,
	}
	stmt, err := BuildCreateVectorIndex(testKey, vec)
	require.NoError(t, err)
	assert.Equal(t, "CREATE INDEX `idx_vec_ann` ON `analytics`.`documents` (`vec`) USING ANN "+
		`PROPERTIES ("index_type" = "ivf", "metric_type" = "inner_product", "dim" = "128", "nlist" = "100")`, stmt)

	inv := InvertedIndex{Name: "idx_body_inv", FieldName: "body"}
	stmt, err = BuildCreateInvertedIndex(testKey, inv)
	require.NoError(t, err)
	assert.Equal(t, "CREATE INDEX `idx_body_inv` ON `analytics`.`documents` (`body`) USING INVERTED", stmt)

	inv.Parser = "chinese"
	stmt, err = BuildCreateInvertedIndex(testKey, inv)
	require.NoError(t, err)
	assert.Contains(t, stmt, `USING INVERTED PROPERTIES ("parser" = "chinese")`)

	stmt, err = BuildDropIndex(testKey, "idx_vec_ann")
	require.NoError(t, err)
	assert.Equal(t, "DROP INDEX `idx_vec_ann` ON `analytics`.`documents`", stmt)

	stmt, err = BuildBuildIndex(testKey, "idx_vec_ann")
	require.NoError(t, err)
	assert.Equal(t, "BUILD INDEX `idx_vec_ann` ON `analytics`.`documents`", stmt)

	assert.Equal(t, "DROP TABLE IF EXISTS `analytics`.`documents`", BuildDropTable(testKey))

	stmt, err = BuildCreateDatabase("analytics")
	require.NoError(t, err)
	assert.Equal(t, "CREATE DATABASE IF NOT EXISTS analytics", stmt)

	_, err = BuildCreateDatabase("bad;db")
	assert.Error(t, err)
}
