package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datalith/doris-target/pkg/config"
)

func TestPersistentKey(t *testing.T) {
	cfg := config.NewTargetConfig("fe.example.com", "analytics", "documents")
	key := PersistentKey(cfg)
	assert.Equal(t, TableKey{FEHost: "fe.example.com", Database: "analytics", Table: "documents"}, key)
	assert.Equal(t, "Doris table analytics.documents@fe.example.com", key.Describe())

	// Same config, same key: the identity is stable across deployments
	assert.Equal(t, key, PersistentKey(config.NewTargetConfig("fe.example.com", "analytics", "documents")))
}

func TestDeriveStateRequiresKeys(t *testing.T) {
	cfg := config.NewTargetConfig("fe", "db", "tbl")
	_, err := DeriveState(cfg, nil, []Field{{Name: "v", Kind: KindInt64}}, IndexOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one key field")
}

func TestDeriveStateBuildsIndexes(t *testing.T) {
	cfg := config.NewTargetConfig("fe", "db", "tbl")
	keys := []Field{{Name: "id", Kind: KindInt64}}
	values := []Field{
		{Name: "embedding", Kind: KindVector, Dimension: 768},
		{Name: "body", Kind: KindString, Nullable: true},
	}
	opts := IndexOptions{
		VectorIndexes: []VectorIndexOption{{
			FieldName: "embedding",
			Metric:    MetricL2Distance,
			Method:    HNSWMethod{M: 64, EfConstruction: 200},
		}},
		InvertedIndexes: []InvertedIndexOption{{FieldName: "body", Parser: "english"}},
	}

	state, err := DeriveState(cfg, keys, values, opts)
	require.NoError(t, err)

	require.Len(t, state.VectorIndexes, 1)
	idx := state.VectorIndexes[0]
	assert.Equal(t, "idx_embedding_ann", idx.Name)
	assert.Equal(t, VectorIndexHNSW, idx.IndexType)
	assert.Equal(t, "l2_distance", idx.MetricType)
	assert.Equal(t, 768, idx.Dimension)
	assert.Equal(t, 64, idx.MaxDegree)
	assert.Equal(t, 200, idx.EfConstruction)

	require.Len(t, state.InvertedIndexes, 1)
	assert.Equal(t, "idx_body_inv", state.InvertedIndexes[0].Name)
	assert.Equal(t, "english", state.InvertedIndexes[0].Parser)

	// Table and evolution settings are captured in the snapshot
	assert.Equal(t, cfg.Table.ReplicationNum, state.ReplicationNum)
	assert.Equal(t, cfg.SchemaEvolution, state.Evolution)
	assert.True(t, state.AutoCreateTable)
}

func TestDeriveStateIVFMethod(t *testing.T) {
	cfg := config.NewTargetConfig("fe", "db", "tbl")
	keys := []Field{{Name: "id", Kind: KindInt64}}
	values := []Field{{Name: "vec", Kind: KindVector, Dimension: 128}}
	opts := IndexOptions{VectorIndexes: []VectorIndexOption{{
		FieldName: "vec",
		Metric:    MetricInnerProduct,
		Method:    IVFFlatMethod{Lists: 256},
	}}}

	state, err := DeriveState(cfg, keys, values, opts)
	require.NoError(t, err)
	require.Len(t, state.VectorIndexes, 1)
	assert.Equal(t, VectorIndexIVF, state.VectorIndexes[0].IndexType)
	assert.Equal(t, 256, state.VectorIndexes[0].NList)
	assert.Equal(t, "inner_product", state.VectorIndexes[0].MetricType)
}

func TestDeriveStateSkipsCosineIndex(t *testing.T) {
	cfg := config.NewTargetConfig("fe", "db", "tbl")
	keys := []Field{{Name: "id", Kind: KindInt64}}
	values := []Field{{Name: "vec", Kind: KindVector, Dimension: 128}}
	opts := IndexOptions{VectorIndexes: []VectorIndexOption{{
		FieldName: "vec",
		Metric:    MetricCosineSimilarity,
	}}}

	state, err := DeriveState(cfg, keys, values, opts)
	require.NoError(t, err)
	assert.Empty(t, state.VectorIndexes)
}

func TestDeriveStateSkipsDimensionlessVector(t *testing.T) {
	cfg := config.NewTargetConfig("fe", "db", "tbl")
	keys := []Field{{Name: "id", Kind: KindInt64}}
	values := []Field{{Name: "vec", Kind: KindVector}} // no fixed dimension
	opts := IndexOptions{VectorIndexes: []VectorIndexOption{{
		FieldName: "vec",
		Metric:    MetricL2Distance,
	}}}

	state, err := DeriveState(cfg, keys, values, opts)
	require.NoError(t, err)
	assert.Empty(t, state.VectorIndexes)
}

func TestDeriveStateRejectsUnknownMetric(t *testing.T) {
	cfg := config.NewTargetConfig("fe", "db", "tbl")
	keys := []Field{{Name: "id", Kind: KindInt64}}
	values := []Field{{Name: "vec", Kind: KindVector, Dimension: 128}}
	opts := IndexOptions{VectorIndexes: []VectorIndexOption{{
		FieldName: "vec",
		Metric:    SimilarityMetric("hamming"),
	}}}

	_, err := DeriveState(cfg, keys, values, opts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported vector metric")
}

func TestDesiredStateAccessors(t *testing.T) {
	state := &DesiredState{
		KeyFields: []Field{{Name: "a", Kind: KindInt64}, {Name: "b", Kind: KindString}},
		ValueFields: []Field{
			{Name: "v", Kind: KindFloat64},
		},
	}
	assert.Equal(t, []string{"a", "b"}, state.KeyFieldNames())

	f, ok := state.ValueField("v")
	assert.True(t, ok)
	assert.Equal(t, KindFloat64, f.Kind)
	_, ok = state.ValueField("missing")
	assert.False(t, ok)
}
