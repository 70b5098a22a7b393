package doris

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/datalith/doris-target/pkg/config"
	"github.com/datalith/doris-target/pkg/errors"
	"github.com/datalith/doris-target/pkg/logger"
	"github.com/datalith/doris-target/pkg/schema"
)

// setupAction is the reconciliation path selected for one invocation
type setupAction int

const (
	actionNoop setupAction = iota
	actionRemove
	actionCreate
	actionAlter
	actionRecreate
)

// String implements fmt.Stringer
func (a setupAction) String() string {
	switch a {
	case actionNoop:
		return "noop"
	case actionRemove:
		return "remove"
	case actionCreate:
		return "create"
	case actionAlter:
		return "alter"
	case actionRecreate:
		return "recreate"
	default:
		return "unknown"
	}
}

// Reconciler drives the live table towards a desired state
type Reconciler struct {
	cfg    *config.TargetConfig
	exec   Executor
	admin  Executor // opened without a default database, for CREATE DATABASE
	logger *zap.Logger
}

// NewReconciler creates a reconciler over the given executors. admin may be
// nil when database auto-creation is disabled.
func NewReconciler(cfg *config.TargetConfig, exec, admin Executor) *Reconciler {
	return &Reconciler{
		cfg:    cfg,
		exec:   exec,
		admin:  admin,
		logger: logger.With(zap.String("component", "reconciler")),
	}
}

// ApplySetupChange reconciles the live table with the current desired state,
// given the previously applied state. Idempotent: re-invocation with the
// same arguments converges to the same live schema.
func (r *Reconciler) ApplySetupChange(ctx context.Context, key schema.TableKey, previous, current *schema.DesiredState) error {
	action := selectAction(previous, current)
	r.logger.Info("applying setup change",
		zap.String("table", key.Describe()),
		zap.String("action", action.String()))

	switch action {
	case actionNoop:
		return nil
	case actionRemove:
		return r.removeTarget(ctx, key, previous)
	case actionRecreate:
		if err := r.dropTable(ctx, key); err != nil {
			return err
		}
		return r.converge(ctx, key, nil, current)
	default:
		return r.converge(ctx, key, previous, current)
	}
}

// selectAction picks the reconciliation path. The create/alter split is
// resolved later, once the live table has been introspected.
func selectAction(previous, current *schema.DesiredState) setupAction {
	switch {
	case previous == nil && current == nil:
		return actionNoop
	case current == nil:
		return actionRemove
	case previous != nil && !schema.KeyFieldsEqual(previous.KeyFields, current.KeyFields):
		// The one case where an existing table is dropped outside of
		// target removal: key columns cannot be altered in place.
		return actionRecreate
	default:
		return actionAlter
	}
}

// removeTarget handles target removal. Strict mode drops the table; extend
// mode never destroys data on removal and leaves it untouched.
func (r *Reconciler) removeTarget(ctx context.Context, key schema.TableKey, previous *schema.DesiredState) error {
	if previous != nil && previous.Evolution == config.EvolutionExtend {
		r.logger.Info("extend mode: leaving table in place on target removal",
			zap.String("table", key.Table))
		return nil
	}
	return r.dropTable(ctx, key)
}

// dropTable drops the table, best-effort
func (r *Reconciler) dropTable(ctx context.Context, key schema.TableKey) error {
	if _, err := r.exec.Exec(ctx, schema.BuildDropTable(key)); err != nil {
		r.logger.Warn("failed to drop table", zap.String("table", key.Table), zap.Error(err))
	}
	return nil
}

// converge creates or alters the live table to match current
func (r *Reconciler) converge(ctx context.Context, key schema.TableKey, previous, current *schema.DesiredState) error {
	if current.AutoCreateTable && r.admin != nil {
		if err := CreateDatabaseIfNotExists(ctx, r.admin, key.Database); err != nil {
			return err
		}
	}

	live, err := DescribeTable(ctx, r.exec, key)
	if err != nil {
		return err
	}

	if live == nil {
		return r.createTable(ctx, key, current)
	}
	return r.alterTable(ctx, key, previous, current, live)
}

// createTable emits CREATE TABLE with inline index clauses, then starts the
// asynchronous build for each declared vector index. A failed build trigger
// is degraded, not fatal.
func (r *Reconciler) createTable(ctx context.Context, key schema.TableKey, current *schema.DesiredState) error {
	if !current.AutoCreateTable {
		return errors.NewSchemaError(key.Table, "",
			"table %s.%s does not exist and auto table creation is disabled",
			key.Database, key.Table)
	}

	ddl, err := schema.BuildCreateTable(key, current)
	if err != nil {
		return err
	}
	r.logger.Info("creating table", zap.String("table", key.Table), zap.String("ddl", ddl))
	if _, err := r.exec.Exec(ctx, ddl); err != nil {
		return errors.Wrap(err, errors.ErrorTypeQuery, "failed to create table")
	}
	recordStep("create_table", applied())

	for _, idx := range current.VectorIndexes {
		stmt, err := schema.BuildBuildIndex(key, idx.Name)
		if err != nil {
			return err
		}
		if _, err := r.exec.Exec(ctx, stmt); err != nil {
			r.logger.Warn("failed to start index build",
				zap.String("index", idx.Name), zap.Error(err))
			recordStep("build_index", degraded(err.Error()))
			continue
		}
		recordStep("build_index", applied())
	}
	return nil
}

// alterTable evolves an existing table: validate the key model, key set and
// key types; reconcile extra and missing value columns per evolution mode;
// verify remaining types; then delegate to the index synchronizer with a
// freshly re-read live schema.
func (r *Reconciler) alterTable(ctx context.Context, key schema.TableKey, previous, current *schema.DesiredState, live map[string]ColumnInfo) error {
	extendMode := current.Evolution == config.EvolutionExtend

	model, err := TableModel(ctx, r.exec, key)
	if err != nil {
		return err
	}
	if model != "" && model != "DUPLICATE KEY" {
		return errors.NewSchemaError(key.Table, "",
			"table %s.%s uses %s model, but vector index support requires DUPLICATE KEY; "+
				"drop the table and recreate it with DUPLICATE KEY",
			key.Database, key.Table, model)
	}

	if err := r.validateKeyColumns(key, current, live); err != nil {
		return err
	}

	desired := make(map[string]struct{}, len(current.KeyFields)+len(current.ValueFields))
	for _, f := range current.KeyFields {
		desired[f.Name] = struct{}{}
	}
	for _, f := range current.ValueFields {
		desired[f.Name] = struct{}{}
	}

	var extra []string
	for name := range live {
		if _, ok := desired[name]; !ok {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	if len(extra) > 0 {
		if !extendMode {
			return errors.NewSchemaError(key.Table, extra[0],
				"strict mode: table %s.%s has extra columns not in schema: %v; "+
					"add them to the schema or drop the table",
				key.Database, key.Table, extra)
		}
		r.logger.Info("extend mode: keeping extra columns not in schema",
			zap.Strings("columns", extra))
	}

	missing, err := r.addMissingColumns(ctx, key, current, live)
	if err != nil {
		return err
	}

	// Verify the overlapping value columns kept compatible types
	for _, f := range current.ValueFields {
		if _, wasMissing := missing[f.Name]; wasMissing {
			continue
		}
		col, ok := live[f.Name]
		if !ok {
			continue
		}
		expected := f.DorisType()
		if !schema.TypesCompatible(expected, col.DorisType) {
			return errors.NewSchemaError(key.Table, f.Name,
				"column %q type mismatch: table has %q, schema expects %q",
				f.Name, col.DorisType, expected)
		}
	}

	// Re-read the live schema so index validation sees the added columns
	fresh, err := DescribeTable(ctx, r.exec, key)
	if err != nil {
		return err
	}
	return SyncIndexes(ctx, r.exec, key, previous, current, fresh, r.cfg)
}

// validateKeyColumns checks that the live key column set equals the desired
// one and that the live key types are compatible. Keys cannot be added or
// altered via ALTER TABLE, so any mismatch is fatal.
func (r *Reconciler) validateKeyColumns(key schema.TableKey, current *schema.DesiredState, live map[string]ColumnInfo) error {
	desiredKeys := make(map[string]struct{}, len(current.KeyFields))
	for _, f := range current.KeyFields {
		desiredKeys[f.Name] = struct{}{}
	}
	liveKeys := make(map[string]struct{})
	for name, col := range live {
		if col.IsKey {
			liveKeys[name] = struct{}{}
		}
	}

	if !stringSetsEqual(desiredKeys, liveKeys) {
		return errors.NewSchemaError(key.Table, "",
			"key column mismatch for table %s.%s: expected keys %v, table has keys %v; "+
				"update the schema to match or drop the table",
			key.Database, key.Table, sortedNames(desiredKeys), sortedNames(liveKeys))
	}

	for _, f := range current.KeyFields {
		col, ok := live[f.Name]
		if !ok {
			continue
		}
		expected := schema.KeyColumnType(f.DorisType())
		if !schema.TypesCompatible(expected, col.DorisType) {
			return errors.NewSchemaError(key.Table, f.Name,
				"key column %q type mismatch: expected %q, table has %q",
				f.Name, expected, col.DorisType)
		}
	}
	return nil
}

// addMissingColumns adds desired value columns absent from the live table
// via ALTER TABLE ADD COLUMN, blocking on schema-change completion after
// each add. A desired key column missing from the live table is fatal.
// Returns the set of column names that were missing.
func (r *Reconciler) addMissingColumns(ctx context.Context, key schema.TableKey, current *schema.DesiredState, live map[string]ColumnInfo) (map[string]struct{}, error) {
	missing := make(map[string]struct{})
	for _, f := range current.KeyFields {
		if _, ok := live[f.Name]; !ok {
			return nil, errors.NewSchemaError(key.Table, f.Name,
				"table %s.%s is missing key column %q; key columns cannot be added via ALTER TABLE",
				key.Database, key.Table, f.Name)
		}
	}

	for _, f := range current.ValueFields {
		if _, ok := live[f.Name]; ok {
			continue
		}
		missing[f.Name] = struct{}{}

		stmt, err := schema.BuildAddColumn(key, f)
		if err != nil {
			return nil, err
		}
		if f.Kind == schema.KindVector {
			r.logger.Warn("adding vector column with empty default; "+
				"existing rows hold empty vectors until repopulated",
				zap.String("column", f.Name))
		}

		if _, err := r.exec.Exec(ctx, stmt); err != nil {
			// Soft failure: the column add is retried on the next
			// reconciliation; type verification below will not see it.
			r.logger.Warn("failed to add column",
				zap.String("column", f.Name), zap.Error(err))
			recordStep("add_column", degraded(err.Error()))
			continue
		}
		r.logger.Info("added column", zap.String("column", f.Name), zap.String("table", key.Table))
		recordStep("add_column", applied())

		// The table rejects writes to the new column until the schema
		// change completes. A timeout here is soft: logged, reconciliation
		// continues.
		if _, err := WaitSchemaChange(ctx, r.exec, key, r.cfg.Timeouts.SchemaChange); err != nil {
			return nil, err
		}
	}
	return missing, nil
}

func stringSetsEqual(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}

func sortedNames(set map[string]struct{}) []string {
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
