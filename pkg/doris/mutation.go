package doris

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/datalith/doris-target/pkg/config"
	"github.com/datalith/doris-target/pkg/logger"
	"github.com/datalith/doris-target/pkg/metrics"
	"github.com/datalith/doris-target/pkg/schema"
)

// Key is the ordered key tuple identifying one row. A scalar key has one
// element; a composite key carries the values in declared key-field order.
type Key []interface{}

// ScalarKey builds a single-column key
func ScalarKey(v interface{}) Key {
	return Key{v}
}

// CompositeKey builds a multi-column key in declared field order
func CompositeKey(vs ...interface{}) Key {
	return Key(vs)
}

// Mutation is one keyed row change. A nil Values map is a tombstone: the row
// is deleted. A non-nil map upserts the row with the given value fields.
type Mutation struct {
	Key    Key
	Values map[string]interface{}
}

// Upsert builds an upsert mutation
func Upsert(key Key, values map[string]interface{}) Mutation {
	if values == nil {
		values = map[string]interface{}{}
	}
	return Mutation{Key: key, Values: values}
}

// Delete builds a tombstone mutation
func Delete(key Key) Mutation {
	return Mutation{Key: key}
}

// IsDelete reports whether the mutation is a tombstone
func (m Mutation) IsDelete() bool {
	return m.Values == nil
}

// MutationBatch is one batch of keyed row changes, constructed per call and
// never persisted.
type MutationBatch []Mutation

// keyDeleter removes rows by key tuple
type keyDeleter interface {
	DeleteKeys(ctx context.Context, keyFieldNames []string, keys []map[string]interface{}) (int64, error)
}

// MutationContext holds the transport session and per-table lock for one
// prepared target. Opaque to the orchestrator: obtained from Prepare,
// passed to Mutate, released by Cleanup.
type MutationContext struct {
	cfg     *config.TargetConfig
	state   *schema.DesiredState
	client  *SQLClient
	deleter keyDeleter
	loader  BulkLoader

	// mu serializes all mutation traffic for this context so interleaved
	// delete/load sequences from two concurrent calls cannot corrupt the
	// delete-before-insert upsert emulation.
	mu sync.Mutex

	logger *zap.Logger
}

// Prepare opens the transport sessions and lock for one target
func Prepare(cfg *config.TargetConfig, state *schema.DesiredState) (*MutationContext, error) {
	client, err := NewSQLClient(cfg, cfg.Connection.Database)
	if err != nil {
		return nil, err
	}
	return &MutationContext{
		cfg:     cfg,
		state:   state,
		client:  client,
		deleter: client,
		loader:  NewStreamLoader(cfg),
		logger: logger.With(
			zap.String("component", "mutation"),
			zap.String("table", cfg.Connection.TableName)),
	}, nil
}

// Cleanup releases the transport session
func (c *MutationContext) Cleanup() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// ContextBatch pairs a prepared context with a batch destined for it
type ContextBatch struct {
	Context *MutationContext
	Batch   MutationBatch
}

// Mutate applies each (context, batch) pair independently
func Mutate(ctx context.Context, pairs ...ContextBatch) error {
	for _, pair := range pairs {
		if err := pair.Context.mutate(ctx, pair.Batch); err != nil {
			return err
		}
	}
	return nil
}

// mutate partitions the batch into upserts and tombstones, then applies them
// under the context lock.
//
// Upserts first delete any existing rows for their keys, then load the new
// rows through the bulk protocol; the DUPLICATE KEY table model retains
// every inserted row per key, so the prior delete is what makes the upsert
// idempotent. The delete and load are not atomic: a crash between them can
// lose rows, an accepted risk mitigated by small batch sizes because the
// table model has no native upsert.
func (c *MutationContext) mutate(ctx context.Context, batch MutationBatch) error {
	keyFieldNames := c.state.KeyFieldNames()

	var upserts []map[string]interface{}
	var tombstones []map[string]interface{}

	for _, m := range batch {
		keyValues, err := c.keyColumns(keyFieldNames, m.Key)
		if err != nil {
			return err
		}
		if m.IsDelete() {
			tombstones = append(tombstones, keyValues)
			continue
		}
		row := make(map[string]interface{}, len(keyValues)+len(m.Values))
		for k, v := range keyValues {
			row[k] = v
		}
		for _, f := range c.state.ValueFields {
			if v, ok := m.Values[f.Name]; ok {
				row[f.Name] = schema.NormalizeValue(v)
			}
		}
		upserts = append(upserts, row)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(upserts) > 0 {
		if err := c.applyUpserts(ctx, keyFieldNames, upserts); err != nil {
			return err
		}
	}

	batchSize := c.cfg.Performance.BatchSize
	for start := 0; start < len(tombstones); start += batchSize {
		chunk := tombstones[start:min(start+batchSize, len(tombstones))]
		n, err := c.deleter.DeleteKeys(ctx, keyFieldNames, chunk)
		if err != nil {
			return err
		}
		metrics.RowsDeleted.WithLabelValues(c.cfg.Connection.TableName).Add(float64(n))
	}

	return nil
}

// applyUpserts deletes existing rows for the upsert keys, then loads the new
// rows, both in chunks of the configured batch size. A load failure after
// deletes have committed is logged with the number of rows at risk, then
// re-raised.
func (c *MutationContext) applyUpserts(ctx context.Context, keyFieldNames []string, upserts []map[string]interface{}) error {
	batchSize := c.cfg.Performance.BatchSize

	upsertKeys := make([]map[string]interface{}, len(upserts))
	for i, row := range upserts {
		kv := make(map[string]interface{}, len(keyFieldNames))
		for _, name := range keyFieldNames {
			kv[name] = row[name]
		}
		upsertKeys[i] = kv
	}

	var deleted int64
	for start := 0; start < len(upsertKeys); start += batchSize {
		chunk := upsertKeys[start:min(start+batchSize, len(upsertKeys))]
		n, err := c.deleter.DeleteKeys(ctx, keyFieldNames, chunk)
		if err != nil {
			return err
		}
		deleted += n
	}
	metrics.RowsDeleted.WithLabelValues(c.cfg.Connection.TableName).Add(float64(deleted))

	for start := 0; start < len(upserts); start += batchSize {
		chunk := upserts[start:min(start+batchSize, len(upserts))]
		if _, err := c.loader.Load(ctx, chunk); err != nil {
			if deleted > 0 {
				c.logger.Error("bulk load failed after deleting rows; data loss may have occurred",
					zap.Int64("deleted_rows", deleted),
					zap.Error(err))
			}
			return err
		}
	}
	return nil
}

// keyColumns maps a key tuple onto the declared key field names, normalized
// for the wire.
func (c *MutationContext) keyColumns(keyFieldNames []string, key Key) (map[string]interface{}, error) {
	if len(key) != len(keyFieldNames) {
		return nil, &keyArityError{want: len(keyFieldNames), got: len(key)}
	}
	kv := make(map[string]interface{}, len(keyFieldNames))
	for i, name := range keyFieldNames {
		kv[name] = schema.NormalizeValue(key[i])
	}
	return kv, nil
}

type keyArityError struct {
	want, got int
}

func (e *keyArityError) Error() string {
	return fmt.Sprintf("key tuple has %d values, declared key schema has %d fields", e.got, e.want)
}
