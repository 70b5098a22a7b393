package doris

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datalith/doris-target/pkg/config"
	"github.com/datalith/doris-target/pkg/logger"
	"github.com/datalith/doris-target/pkg/schema"
)

// mutationRecorder captures the ordered sequence of delete and load calls so
// tests can assert the delete-before-insert protocol.
type mutationRecorder struct {
	events    []string
	deletes   [][]map[string]interface{}
	loads     [][]map[string]interface{}
	deleteErr error
	loadErr   error
}

func (r *mutationRecorder) DeleteKeys(ctx context.Context, keyFieldNames []string, keys []map[string]interface{}) (int64, error) {
	if r.deleteErr != nil {
		return 0, r.deleteErr
	}
	r.events = append(r.events, fmt.Sprintf("delete(%d)", len(keys)))
	r.deletes = append(r.deletes, keys)
	return int64(len(keys)), nil
}

func (r *mutationRecorder) Load(ctx context.Context, rows []map[string]interface{}) (*LoadResult, error) {
	if r.loadErr != nil {
		return nil, r.loadErr
	}
	r.events = append(r.events, fmt.Sprintf("load(%d)", len(rows)))
	r.loads = append(r.loads, rows)
	return &LoadResult{Status: "Success", NumberLoadedRows: int64(len(rows))}, nil
}

func newTestContext(t *testing.T, batchSize int, keyFields []schema.Field) (*MutationContext, *mutationRecorder) {
	t.Helper()
	cfg := config.NewTargetConfig("fe", "db", "docs")
	cfg.Performance.BatchSize = batchSize

	rec := &mutationRecorder{}
	return &MutationContext{
		cfg: cfg,
		state: &schema.DesiredState{
			KeyFields: keyFields,
			ValueFields: []schema.Field{
				{Name: "body", Kind: schema.KindString, Nullable: true},
				{Name: "score", Kind: schema.KindFloat64, Nullable: true},
			},
		},
		deleter: rec,
		loader:  rec,
		logger:  logger.Get(),
	}, rec
}

var singleKey = []schema.Field{{Name: "id", Kind: schema.KindInt64}}

func TestMutateUpsertDeletesBeforeLoading(t *testing.T) {
	mc, rec := newTestContext(t, 100, singleKey)

	batch := MutationBatch{
		Upsert(ScalarKey(int64(1)), map[string]interface{}{"body": "a"}),
		Upsert(ScalarKey(int64(2)), map[string]interface{}{"body": "b", "score": 0.5}),
	}
	require.NoError(t, Mutate(context.Background(), ContextBatch{Context: mc, Batch: batch}))

	assert.Equal(t, []string{"delete(2)", "load(2)"}, rec.events)

	// The delete keys mirror the upsert keys
	require.Len(t, rec.deletes, 1)
	assert.Equal(t, map[string]interface{}{"id": int64(1)}, rec.deletes[0][0])

	// Loaded rows carry key plus declared value fields
	require.Len(t, rec.loads, 1)
	assert.Equal(t, map[string]interface{}{"id": int64(1), "body": "a"}, rec.loads[0][0])
	assert.Equal(t, map[string]interface{}{"id": int64(2), "body": "b", "score": 0.5}, rec.loads[0][1])
}

func TestMutateTombstonesOnlyDelete(t *testing.T) {
	mc, rec := newTestContext(t, 100, singleKey)

	batch := MutationBatch{
		Delete(ScalarKey(int64(7))),
		Delete(ScalarKey(int64(8))),
	}
	require.NoError(t, Mutate(context.Background(), ContextBatch{Context: mc, Batch: batch}))

	assert.Equal(t, []string{"delete(2)"}, rec.events)
	assert.Empty(t, rec.loads)
}

func TestMutateMixedBatchUpsertsFirst(t *testing.T) {
	mc, rec := newTestContext(t, 100, singleKey)

	batch := MutationBatch{
		Delete(ScalarKey(int64(1))),
		Upsert(ScalarKey(int64(2)), map[string]interface{}{"body": "x"}),
		Delete(ScalarKey(int64(3))),
	}
	require.NoError(t, Mutate(context.Background(), ContextBatch{Context: mc, Batch: batch}))

	// Upsert delete+load first, then the tombstone chunk
	assert.Equal(t, []string{"delete(1)", "load(1)", "delete(2)"}, rec.events)
}

func TestMutateChunksByBatchSize(t *testing.T) {
	mc, rec := newTestContext(t, 2, singleKey)

	var batch MutationBatch
	for i := 0; i < 5; i++ {
		batch = append(batch, Upsert(ScalarKey(int64(i)), map[string]interface{}{"body": "x"}))
	}
	require.NoError(t, Mutate(context.Background(), ContextBatch{Context: mc, Batch: batch}))

	assert.Equal(t, []string{
		"delete(2)", "delete(2)", "delete(1)",
		"load(2)", "load(2)", "load(1)",
	}, rec.events)
}

func TestMutateCompositeKey(t *testing.T) {
	keys := []schema.Field{
		{Name: "doc_id", Kind: schema.KindString},
		{Name: "chunk", Kind: schema.KindInt64},
	}
	mc, rec := newTestContext(t, 100, keys)

	batch := MutationBatch{
		Upsert(CompositeKey("d1", int64(0)), map[string]interface{}{"body": "a"}),
	}
	require.NoError(t, Mutate(context.Background(), ContextBatch{Context: mc, Batch: batch}))

	require.Len(t, rec.deletes, 1)
	assert.Equal(t, map[string]interface{}{"doc_id": "d1", "chunk": int64(0)}, rec.deletes[0][0])
}

func TestMutateKeyArityMismatch(t *testing.T) {
	mc, rec := newTestContext(t, 100, singleKey)

	batch := MutationBatch{
		Upsert(CompositeKey(int64(1), "extra"), map[string]interface{}{"body": "a"}),
	}
	err := Mutate(context.Background(), ContextBatch{Context: mc, Batch: batch})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "key tuple has 2 values")
	// Nothing reaches the store on a malformed batch
	assert.Empty(t, rec.events)
}

func TestMutateIgnoresUndeclaredValueFields(t *testing.T) {
	mc, rec := newTestContext(t, 100, singleKey)

	batch := MutationBatch{
		Upsert(ScalarKey(int64(1)), map[string]interface{}{"body": "a", "bogus": "dropped"}),
	}
	require.NoError(t, Mutate(context.Background(), ContextBatch{Context: mc, Batch: batch}))

	require.Len(t, rec.loads, 1)
	_, ok := rec.loads[0][0]["bogus"]
	assert.False(t, ok)
}

func TestMutateDeleteFailureAborts(t *testing.T) {
	mc, rec := newTestContext(t, 100, singleKey)
	rec.deleteErr = fmt.Errorf("frontend unavailable")

	batch := MutationBatch{
		Upsert(ScalarKey(int64(1)), map[string]interface{}{"body": "a"}),
	}
	err := Mutate(context.Background(), ContextBatch{Context: mc, Batch: batch})
	require.Error(t, err)
	assert.Empty(t, rec.loads)
}

func TestMutateLoadFailurePropagates(t *testing.T) {
	mc, rec := newTestContext(t, 100, singleKey)
	rec.loadErr = fmt.Errorf("load rejected")

	batch := MutationBatch{
		Upsert(ScalarKey(int64(1)), map[string]interface{}{"body": "a"}),
	}
	err := Mutate(context.Background(), ContextBatch{Context: mc, Batch: batch})
	require.ErrorIs(t, err, rec.loadErr)
}

func TestMutateEmptyBatch(t *testing.T) {
	mc, rec := newTestContext(t, 100, singleKey)
	require.NoError(t, Mutate(context.Background(), ContextBatch{Context: mc, Batch: nil}))
	assert.Empty(t, rec.events)
}

func TestUpsertNilValuesIsNotTombstone(t *testing.T) {
	m := Upsert(ScalarKey(1), nil)
	assert.False(t, m.IsDelete())
	assert.True(t, Delete(ScalarKey(1)).IsDelete())
}

func TestCleanupWithoutClient(t *testing.T) {
	mc := &MutationContext{}
	assert.NoError(t, mc.Cleanup())
}
