// Package doristarget provides a declarative target connector for Apache
// Doris 4.0: schema reconciliation with asynchronous DDL job tracking,
// vector (ANN) and inverted index management, and keyed batch mutations
// emulating upsert over the append-only DUPLICATE KEY table model.
//
// # Architecture
//
// The connector separates three concerns:
//
// 1. Desired state. pkg/schema derives an immutable snapshot of the declared
// schema (key/value fields, indexes, table properties) from the target
// configuration, and compares snapshots pairwise across deployments to
// decide whether the live table can be evolved in place.
//
// 2. Reconciliation. pkg/doris introspects the live table over the frontend
// MySQL protocol and converges it towards the desired state: CREATE TABLE,
// ALTER TABLE ADD COLUMN with schema-change polling, and drop/create/build
// cycles for vector and inverted indexes. Fatal mismatches (key changes,
// type conflicts, wrong key model) surface as schema errors; best-effort
// steps degrade with a warning and reconciliation continues.
//
// 3. Mutation. Row batches flow through the Stream Load HTTP bulk protocol;
// upserts delete existing rows by key first because the DUPLICATE KEY model
// retains every inserted row. Deletes always run as parameterized SQL
// DELETE over the query port.
//
// # Quick Start
//
//	cfg := config.NewTargetConfig("fe.example.com", "analytics", "documents")
//	conn, err := doris.New(cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	state, err := conn.SetupState(keyFields, valueFields, indexOptions)
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := conn.ApplySetupChange(ctx, conn.PersistentKey(), previous, state); err != nil {
//		log.Fatal(err)
//	}
//
//	mc, err := conn.Prepare(state)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer conn.Cleanup(mc)
//	err = conn.Mutate(ctx, doris.ContextBatch{Context: mc, Batch: batch})
package doristarget
